package ledger

import (
	"errors"
	"math"
	"testing"

	xerrors "AgentPay-Chain/internal/errors"
)

func TestSplitAmount(t *testing.T) {
	cases := []struct {
		name    string
		total   uint64
		feeBps  uint32
		fee     uint64
		net     uint64
		wantErr xerrors.Code
	}{
		{name: "half percent", total: 1_000_000, feeBps: 50, fee: 5_000, net: 995_000},
		{name: "zero fee", total: 1_000_000, feeBps: 0, fee: 0, net: 1_000_000},
		{name: "full fee", total: 123, feeBps: 10000, fee: 123, net: 0},
		{name: "floors down", total: 199, feeBps: 50, fee: 0, net: 199},
		{name: "max amount", total: math.MaxUint64, feeBps: 50, fee: math.MaxUint64 / 200, net: math.MaxUint64 - math.MaxUint64/200},
		{name: "fee bps out of range", total: 100, feeBps: 10001, wantErr: xerrors.CodeInvalidArgument},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fee, net, err := SplitAmount(tc.total, tc.feeBps)
			if tc.wantErr != "" {
				if xerrors.CodeOf(err) != tc.wantErr {
					t.Fatalf("expected code %s, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("split amount: %v", err)
			}
			if fee != tc.fee || net != tc.net {
				t.Fatalf("got fee=%d net=%d, want fee=%d net=%d", fee, net, tc.fee, tc.net)
			}
			if fee > tc.total {
				t.Fatalf("fee %d exceeds total %d", fee, tc.total)
			}
			if fee+net != tc.total {
				t.Fatalf("conservation violated: %d + %d != %d", fee, net, tc.total)
			}
		})
	}
}

func TestProportionalShareResidual(t *testing.T) {
	shares := []uint32{5000, 3000, 2000}

	// 可整除的情况没有残差。
	var sum uint64
	for _, bps := range shares {
		share, err := ProportionalShare(9_950_000, bps)
		if err != nil {
			t.Fatalf("share %d bps: %v", bps, err)
		}
		sum += share
	}
	if sum != 9_950_000 {
		t.Fatalf("divisible case: shares sum to %d, want 9950000", sum)
	}

	// 不可整除时残差小于参与方数量，由引擎账户保留。
	sum = 0
	for _, bps := range shares {
		share, err := ProportionalShare(9_950_001, bps)
		if err != nil {
			t.Fatalf("share %d bps: %v", bps, err)
		}
		sum += share
	}
	if sum != 9_950_000 {
		t.Fatalf("non-divisible case: shares sum to %d, want net-1", sum)
	}
	residual := uint64(9_950_001) - sum
	if residual >= uint64(len(shares)) {
		t.Fatalf("residual %d not below participant count %d", residual, len(shares))
	}
}

func TestProportionalShareBounds(t *testing.T) {
	if _, err := ProportionalShare(100, 10001); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT for oversized share, got %v", err)
	}
	share, err := ProportionalShare(math.MaxUint64, 10000)
	if err != nil {
		t.Fatalf("full share of max amount: %v", err)
	}
	if share != math.MaxUint64 {
		t.Fatalf("full share should return the amount, got %d", share)
	}
}

func TestCheckedArithmetic(t *testing.T) {
	if sum, err := CheckedAdd(1, 2); err != nil || sum != 3 {
		t.Fatalf("checked add: sum=%d err=%v", sum, err)
	}
	if _, err := CheckedAdd(math.MaxUint64, 1); !errors.Is(err, xerrors.New(xerrors.CodeOverflow, "")) {
		t.Fatalf("expected OVERFLOW on add, got %v", err)
	}
	if diff, err := CheckedSub(5, 3); err != nil || diff != 2 {
		t.Fatalf("checked sub: diff=%d err=%v", diff, err)
	}
	if _, err := CheckedSub(3, 5); xerrors.CodeOf(err) != xerrors.CodeOverflow {
		t.Fatalf("expected OVERFLOW on sub, got %v", err)
	}
}
