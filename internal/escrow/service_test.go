package escrow

import (
	"context"
	"testing"
	"time"

	"AgentPay-Chain/internal/admin"
	"AgentPay-Chain/internal/bank"
	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/events"
	"AgentPay-Chain/internal/identity"
)

const (
	ownerAlice = identity.Address("0xa11ce")
	ownerBob   = identity.Address("0xb0b")
	ownerAdmin = identity.Address("0xad")
	ownerVault = identity.Address("0xfee")
)

type fixture struct {
	svc      *Service
	bank     *bank.MemoryBank
	bus      *events.MemoryBus
	settings *admin.Settings
	nowUnix  int64
}

func newFixture(t *testing.T, feeBps uint32) *fixture {
	t.Helper()

	directory := identity.NewMemoryDirectory()
	directory.Register(1, ownerAlice)
	directory.Register(2, ownerBob)

	moneybank := bank.NewMemoryBank()
	moneybank.Mint(bank.Native(), ownerAlice, 10_000_000)

	bus := events.NewMemoryBus(64)
	settings, err := admin.NewSettings(admin.Config{
		Admin:          ownerAdmin,
		ProtocolFeeBps: feeBps,
		Treasury:       ownerVault,
	}, bus)
	if err != nil {
		t.Fatalf("NewSettings: %v", err)
	}

	f := &fixture{bank: moneybank, bus: bus, settings: settings, nowUnix: 1_700_000_000}
	svc, err := NewService(NewMemoryStore(), directory, moneybank, settings, bus,
		WithClock(func() int64 { return f.nowUnix }))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) create(t *testing.T, amount uint64) *Payment {
	t.Helper()
	payment, err := f.svc.CreatePayment(context.Background(), ownerAlice, CreateRequest{
		FromAgent:     1,
		ToAgent:       2,
		Amount:        amount,
		SuppliedValue: amount,
		Target:        bank.Native(),
		TaskRef:       "task-7",
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	return payment
}

func TestCreatePaymentValidation(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateRequest
		code xerrors.Code
	}{
		{
			name: "self payment",
			req:  CreateRequest{FromAgent: 1, ToAgent: 1, Amount: 100, SuppliedValue: 100},
			code: xerrors.CodeInvalidArgument,
		},
		{
			name: "zero amount",
			req:  CreateRequest{FromAgent: 1, ToAgent: 2, Amount: 0, SuppliedValue: 0},
			code: xerrors.CodeInvalidArgument,
		},
		{
			name: "value mismatch",
			req:  CreateRequest{FromAgent: 1, ToAgent: 2, Amount: 100, SuppliedValue: 99},
			code: xerrors.CodeInvalidArgument,
		},
		{
			name: "unknown payee",
			req:  CreateRequest{FromAgent: 1, ToAgent: 99, Amount: 100, SuppliedValue: 100},
			code: xerrors.CodeNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.CreatePayment(ctx, ownerAlice, tc.req); xerrors.CodeOf(err) != tc.code {
				t.Fatalf("期望错误码 %s, 实际 %v", tc.code, err)
			}
		})
	}

	if _, err := f.svc.CreatePayment(ctx, ownerBob, CreateRequest{
		FromAgent: 1, ToAgent: 2, Amount: 100, SuppliedValue: 100,
	}); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("非归属地址创建支付应返回 UNAUTHORIZED, 实际 %v", err)
	}
}

func TestCreatePaymentLocksValue(t *testing.T) {
	f := newFixture(t, 50)
	payment := f.create(t, 1_000_000)

	if payment.Status != StatusEscrowed {
		t.Fatalf("新支付状态应为 escrowed, 实际 %s", payment.Status)
	}
	if got := f.bank.BalanceOf(bank.Native(), ownerAlice); got != 9_000_000 {
		t.Fatalf("付款方余额应扣减到 9000000, 实际 %d", got)
	}
	if got := f.bank.PoolBalance(bank.Native()); got != 1_000_000 {
		t.Fatalf("托管池余额应为 1000000, 实际 %d", got)
	}

	earnings, err := f.svc.AgentEarnings(context.Background(), 1)
	if err != nil {
		t.Fatalf("AgentEarnings: %v", err)
	}
	if earnings.TotalPaid != 1_000_000 || earnings.TotalEarned != 0 {
		t.Fatalf("付款方收支应为 paid=1000000 earned=0, 实际 %+v", earnings)
	}
}

// 规格场景：1,000,000 按 50 bps 放款，收款 995,000、金库 5,000。
func TestReleasePaymentFeeSplit(t *testing.T) {
	f := newFixture(t, 50)
	payment := f.create(t, 1_000_000)
	f.bus.Drain()

	released, err := f.svc.ReleasePayment(context.Background(), ownerAlice, payment.ID)
	if err != nil {
		t.Fatalf("ReleasePayment: %v", err)
	}
	if released.Status != StatusReleased || released.ResolvedAt == 0 {
		t.Fatalf("放款后状态异常: %+v", released)
	}
	if got := f.bank.BalanceOf(bank.Native(), ownerBob); got != 995_000 {
		t.Fatalf("收款方应到账 995000, 实际 %d", got)
	}
	if got := f.bank.BalanceOf(bank.Native(), ownerVault); got != 5_000 {
		t.Fatalf("金库应到账 5000, 实际 %d", got)
	}
	if got := f.bank.PoolBalance(bank.Native()); got != 0 {
		t.Fatalf("托管池应清零, 实际 %d", got)
	}

	earnings, err := f.svc.AgentEarnings(context.Background(), 2)
	if err != nil {
		t.Fatalf("AgentEarnings: %v", err)
	}
	if earnings.TotalEarned != 995_000 {
		t.Fatalf("收款方净到账统计应为 995000, 实际 %d", earnings.TotalEarned)
	}

	found := false
	for _, event := range f.bus.Drain() {
		if event.Type == events.TypePaymentReleased && event.PaymentID == payment.ID {
			found = true
			if event.Amount != 995_000 || event.Fee != 5_000 {
				t.Fatalf("放款事件金额异常: %+v", event)
			}
		}
	}
	if !found {
		t.Fatal("未观察到 payment.released 事件")
	}
}

// 费率在结算时刻读取：创建后调高费率，放款按新费率扣费。
func TestReleaseUsesCurrentFeeRate(t *testing.T) {
	f := newFixture(t, 50)
	payment := f.create(t, 1_000_000)

	if err := f.settings.SetProtocolFee(context.Background(), ownerAdmin, 100); err != nil {
		t.Fatalf("SetProtocolFee: %v", err)
	}
	if _, err := f.svc.ReleasePayment(context.Background(), ownerAlice, payment.ID); err != nil {
		t.Fatalf("ReleasePayment: %v", err)
	}
	if got := f.bank.BalanceOf(bank.Native(), ownerVault); got != 10_000 {
		t.Fatalf("金库应按 100 bps 到账 10000, 实际 %d", got)
	}
}

// 放款与退款互斥：任一终态达成后另一个操作返回 INVALID_STATE。
func TestReleaseAndRefundMutuallyExclusive(t *testing.T) {
	f := newFixture(t, 50)
	payment := f.create(t, 1_000_000)

	if _, err := f.svc.ReleasePayment(context.Background(), ownerAlice, payment.ID); err != nil {
		t.Fatalf("ReleasePayment: %v", err)
	}

	f.nowUnix += int64(RefundWindow/time.Second) + 10
	if _, err := f.svc.RefundPayment(context.Background(), ownerAlice, payment.ID); xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("放款后退款应返回 INVALID_STATE, 实际 %v", err)
	}
	if _, err := f.svc.ReleasePayment(context.Background(), ownerAlice, payment.ID); xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("二次放款应返回 INVALID_STATE, 实际 %v", err)
	}
}

// 退款窗口边界：到期前 1 秒 TOO_EARLY，到期后 1 秒成功。
func TestRefundWindowBoundary(t *testing.T) {
	f := newFixture(t, 50)
	payment := f.create(t, 1_000_000)
	window := int64(RefundWindow / time.Second)

	f.nowUnix = payment.CreatedAt + window - 1
	if _, err := f.svc.RefundPayment(context.Background(), ownerAlice, payment.ID); xerrors.CodeOf(err) != xerrors.CodeTooEarly {
		t.Fatalf("窗口到期前应返回 TOO_EARLY, 实际 %v", err)
	}

	f.nowUnix = payment.CreatedAt + window + 1
	refunded, err := f.svc.RefundPayment(context.Background(), ownerAlice, payment.ID)
	if err != nil {
		t.Fatalf("窗口到期后退款失败: %v", err)
	}
	if refunded.Status != StatusRefunded {
		t.Fatalf("退款后状态应为 refunded, 实际 %s", refunded.Status)
	}
	// 全额退回，不收取协议费。
	if got := f.bank.BalanceOf(bank.Native(), ownerAlice); got != 10_000_000 {
		t.Fatalf("退款后付款方余额应恢复 10000000, 实际 %d", got)
	}
	if got := f.bank.BalanceOf(bank.Native(), ownerVault); got != 0 {
		t.Fatalf("退款不应产生协议费, 金库余额 %d", got)
	}
}

// 取消需要双方各自表态一次；单方表态不改变状态。
func TestCancelRequiresBothConsents(t *testing.T) {
	f := newFixture(t, 50)
	payment := f.create(t, 1_000_000)
	ctx := context.Background()

	if _, err := f.svc.CancelPayment(ctx, identity.Address("0xeve"), payment.ID); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("非参与方取消应返回 UNAUTHORIZED, 实际 %v", err)
	}

	first, err := f.svc.CancelPayment(ctx, ownerAlice, payment.ID)
	if err != nil {
		t.Fatalf("首次取消表态失败: %v", err)
	}
	if first.Status != StatusEscrowed || !first.CancelRequestedByFrom || first.CancelRequestedByTo {
		t.Fatalf("单方表态后记录异常: %+v", first)
	}

	// 同一方重复表态仍不改变状态。
	again, err := f.svc.CancelPayment(ctx, ownerAlice, payment.ID)
	if err != nil {
		t.Fatalf("重复表态失败: %v", err)
	}
	if again.Status != StatusEscrowed {
		t.Fatalf("重复表态不应改变状态, 实际 %s", again.Status)
	}

	second, err := f.svc.CancelPayment(ctx, ownerBob, payment.ID)
	if err != nil {
		t.Fatalf("对方表态失败: %v", err)
	}
	if second.Status != StatusCancelled || second.ResolvedAt == 0 {
		t.Fatalf("双方表态后应进入 cancelled: %+v", second)
	}
	if got := f.bank.BalanceOf(bank.Native(), ownerAlice); got != 10_000_000 {
		t.Fatalf("取消后应全额退回付款方, 实际余额 %d", got)
	}
}

// 出账失败时记录保持 escrowed，调用方可在对端恢复后重试。
func TestReleaseTransferFailureKeepsEscrowed(t *testing.T) {
	f := newFixture(t, 50)
	payment := f.create(t, 1_000_000)
	ctx := context.Background()

	f.bank.SetRejecting(ownerBob, true)
	if _, err := f.svc.ReleasePayment(ctx, ownerAlice, payment.ID); xerrors.CodeOf(err) != xerrors.CodeTransferFailure {
		t.Fatalf("拒收时放款应返回 TRANSFER_FAILURE, 实际 %v", err)
	}

	stored, err := f.svc.GetPayment(ctx, payment.ID)
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if stored.Status != StatusEscrowed {
		t.Fatalf("失败的放款不应改变状态, 实际 %s", stored.Status)
	}
	if got := f.bank.PoolBalance(bank.Native()); got != 1_000_000 {
		t.Fatalf("托管池不应被部分扣减, 实际 %d", got)
	}

	f.bank.SetRejecting(ownerBob, false)
	if _, err := f.svc.ReleasePayment(ctx, ownerAlice, payment.ID); err != nil {
		t.Fatalf("恢复后重试放款失败: %v", err)
	}
}

func TestRequiresValidationRestrictsRelease(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()

	payment, err := f.svc.CreatePayment(ctx, ownerAlice, CreateRequest{
		FromAgent: 1, ToAgent: 2, Amount: 500, SuppliedValue: 500,
		Target: bank.Native(), RequiresValidation: true,
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	if _, err := f.svc.ReleasePayment(ctx, ownerAlice, payment.ID); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("要求校验的支付不应由付款方放款, 实际 %v", err)
	}
	// 管理员天然具备运维身份。
	if _, err := f.svc.ReleasePayment(ctx, ownerAdmin, payment.ID); err != nil {
		t.Fatalf("运维放款失败: %v", err)
	}
}

func TestPausedBlocksMutations(t *testing.T) {
	f := newFixture(t, 50)
	payment := f.create(t, 1_000_000)
	ctx := context.Background()

	if err := f.settings.Pause(ctx, ownerAdmin); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := f.svc.CreatePayment(ctx, ownerAlice, CreateRequest{
		FromAgent: 1, ToAgent: 2, Amount: 100, SuppliedValue: 100,
	}); xerrors.CodeOf(err) != xerrors.CodePaused {
		t.Fatalf("熔断时创建应返回 PAUSED, 实际 %v", err)
	}
	if _, err := f.svc.ReleasePayment(ctx, ownerAlice, payment.ID); xerrors.CodeOf(err) != xerrors.CodePaused {
		t.Fatalf("熔断时放款应返回 PAUSED, 实际 %v", err)
	}
	// 只读查询不受熔断影响。
	if _, err := f.svc.GetPayment(ctx, payment.ID); err != nil {
		t.Fatalf("熔断时查询失败: %v", err)
	}

	if err := f.settings.Unpause(ctx, ownerAdmin); err != nil {
		t.Fatalf("Unpause: %v", err)
	}
	if _, err := f.svc.ReleasePayment(ctx, ownerAlice, payment.ID); err != nil {
		t.Fatalf("解除熔断后放款失败: %v", err)
	}
}

func TestAgentPaymentsListsBothDirections(t *testing.T) {
	f := newFixture(t, 50)
	first := f.create(t, 1_000)
	f.nowUnix++
	second := f.create(t, 2_000)

	payments, err := f.svc.AgentPayments(context.Background(), 2)
	if err != nil {
		t.Fatalf("AgentPayments: %v", err)
	}
	if len(payments) != 2 {
		t.Fatalf("应返回 2 笔支付, 实际 %d", len(payments))
	}
	// 按创建时间倒序。
	if payments[0].ID != second.ID || payments[1].ID != first.ID {
		t.Fatalf("排序异常: %s, %s", payments[0].ID, payments[1].ID)
	}
}
