package escrow

import (
	"context"
	"math"
	"testing"

	"AgentPay-Chain/internal/bank"
	xerrors "AgentPay-Chain/internal/errors"
)

func newStoredPayment(t *testing.T, store *MemoryStore, id string) *Payment {
	t.Helper()
	payment := &Payment{
		ID:        id,
		FromAgent: 1,
		ToAgent:   2,
		Amount:    100,
		Target:    bank.Native(),
		TargetRaw: "native",
		Status:    StatusEscrowed,
		CreatedAt: 1000,
	}
	if err := store.Create(context.Background(), payment); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return payment
}

func TestMemoryStoreCreateConflict(t *testing.T) {
	store := NewMemoryStore()
	newStoredPayment(t, store, "p1")
	err := store.Create(context.Background(), &Payment{ID: "p1", Status: StatusEscrowed})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("重复编号应冲突, 实际 %v", err)
	}
}

func TestMemoryStoreResolveOnce(t *testing.T) {
	store := NewMemoryStore()
	newStoredPayment(t, store, "p1")
	ctx := context.Background()

	if err := store.Resolve(ctx, "p1", StatusReleased, 2000); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := store.Resolve(ctx, "p1", StatusRefunded, 2001); xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("二次终态迁移应失败, 实际 %v", err)
	}
	if err := store.Resolve(ctx, "missing", StatusReleased, 2000); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("不存在的支付应返回 NOT_FOUND, 实际 %v", err)
	}

	payment, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if payment.Status != StatusReleased || payment.ResolvedAt != 2000 {
		t.Fatalf("终态记录异常: %+v", payment)
	}
}

func TestMemoryStoreCancelConsent(t *testing.T) {
	store := NewMemoryStore()
	newStoredPayment(t, store, "p1")
	ctx := context.Background()

	payment, err := store.SetCancelConsent(ctx, "p1", ConsentFrom)
	if err != nil {
		t.Fatalf("SetCancelConsent: %v", err)
	}
	if !payment.CancelRequestedByFrom || payment.CancelRequestedByTo {
		t.Fatalf("意向标记异常: %+v", payment)
	}

	if err := store.Resolve(ctx, "p1", StatusCancelled, 2000); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := store.SetCancelConsent(ctx, "p1", ConsentTo); xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("终态后表态应失败, 实际 %v", err)
	}
}

func TestMemoryStoreEarningsOverflow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.AddEarnings(ctx, 7, math.MaxUint64, 0); err != nil {
		t.Fatalf("AddEarnings: %v", err)
	}
	if err := store.AddEarnings(ctx, 7, 1, 0); xerrors.CodeOf(err) != xerrors.CodeOverflow {
		t.Fatalf("收支统计溢出应返回 OVERFLOW, 实际 %v", err)
	}

	earnings, err := store.GetEarnings(ctx, 7)
	if err != nil {
		t.Fatalf("GetEarnings: %v", err)
	}
	if earnings.TotalEarned != math.MaxUint64 {
		t.Fatalf("失败的累加不应留下部分更新, 实际 %d", earnings.TotalEarned)
	}
}

func TestMemoryStoreGetReturnsClone(t *testing.T) {
	store := NewMemoryStore()
	newStoredPayment(t, store, "p1")
	ctx := context.Background()

	got, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.Status = StatusReleased

	again, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.Status != StatusEscrowed {
		t.Fatal("调用方篡改返回值不应影响存储内部状态")
	}
}
