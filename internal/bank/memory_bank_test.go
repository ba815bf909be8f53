package bank

import (
	"context"
	"testing"

	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/identity"
)

func TestMemoryBankLockAndPay(t *testing.T) {
	b := NewMemoryBank()
	ctx := context.Background()
	target := Native()

	b.Mint(target, "0xa", 1_000)
	if err := b.Lock(ctx, target, "0xa", 400); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if got := b.BalanceOf(target, "0xa"); got != 600 {
		t.Fatalf("payer balance after lock: %d", got)
	}
	if got := b.PoolBalance(target); got != 400 {
		t.Fatalf("pool after lock: %d", got)
	}

	if err := b.Pay(ctx, target, []Payout{{To: "0xb", Amount: 300}, {To: "0xc", Amount: 100}}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if got := b.BalanceOf(target, "0xb"); got != 300 {
		t.Fatalf("recipient b: %d", got)
	}
	if got := b.PoolBalance(target); got != 0 {
		t.Fatalf("pool drained: %d", got)
	}
	if got := b.TotalSupply(target); got != 1_000 {
		t.Fatalf("supply must be conserved, got %d", got)
	}
}

func TestMemoryBankLockInsufficient(t *testing.T) {
	b := NewMemoryBank()
	ctx := context.Background()

	err := b.Lock(ctx, Native(), "0xa", 10)
	if xerrors.CodeOf(err) != xerrors.CodeTransferFailure {
		t.Fatalf("expected TRANSFER_FAILURE, got %v", err)
	}
	if err := b.Lock(ctx, Native(), "0xa", 0); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("zero lock must be rejected, got %v", err)
	}
}

func TestMemoryBankPayAtomicity(t *testing.T) {
	b := NewMemoryBank()
	ctx := context.Background()
	target := Token(identity.Address("0xToKeN"))

	b.Mint(target, "0xa", 500)
	if err := b.Lock(ctx, target, "0xa", 500); err != nil {
		t.Fatalf("lock: %v", err)
	}
	b.SetRejecting("0xc", true)

	err := b.Pay(ctx, target, []Payout{{To: "0xb", Amount: 200}, {To: "0xc", Amount: 100}})
	if xerrors.CodeOf(err) != xerrors.CodeTransferFailure {
		t.Fatalf("expected TRANSFER_FAILURE, got %v", err)
	}
	// 整批回退：没有任何一笔落账。
	if got := b.BalanceOf(target, "0xb"); got != 0 {
		t.Fatalf("no partial payout expected, b holds %d", got)
	}
	if got := b.PoolBalance(target); got != 500 {
		t.Fatalf("pool must be untouched, got %d", got)
	}

	// 超出托管余额的整批支付同样原子失败。
	b.SetRejecting("0xc", false)
	err = b.Pay(ctx, target, []Payout{{To: "0xb", Amount: 400}, {To: "0xc", Amount: 200}})
	if xerrors.CodeOf(err) != xerrors.CodeTransferFailure {
		t.Fatalf("expected TRANSFER_FAILURE on overdraw, got %v", err)
	}
	if got := b.PoolBalance(target); got != 500 {
		t.Fatalf("pool must be untouched after overdraw, got %d", got)
	}
}

func TestParseTarget(t *testing.T) {
	native, err := ParseTarget("native")
	if err != nil || !native.IsNative() {
		t.Fatalf("parse native: %v", err)
	}
	token, err := ParseTarget("token:0xabc")
	if err != nil || token.IsNative() || token.TokenAddress() != "0xabc" {
		t.Fatalf("parse token: %+v %v", token, err)
	}
	if _, err := ParseTarget("bogus"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
	if token.String() != "token:0xabc" {
		t.Fatalf("round trip: %s", token.String())
	}
}
