package trust

import (
	"context"
	"testing"

	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/reputation"
)

func newTestGate() (*Gate, *reputation.MemoryOracle) {
	oracle := reputation.NewMemoryOracle()
	return NewGate(oracle), oracle
}

func TestRequireMinimumTier(t *testing.T) {
	gate, oracle := newTestGate()
	ctx := context.Background()

	oracle.SetTier(1, reputation.TierGold)

	if err := gate.RequireMinimumTier(ctx, 1, reputation.TierBronze); err != nil {
		t.Fatalf("gold should pass a bronze gate: %v", err)
	}
	if err := gate.RequireMinimumTier(ctx, 1, reputation.TierGold); err != nil {
		t.Fatalf("gold should pass a gold gate: %v", err)
	}
	err := gate.RequireMinimumTier(ctx, 1, reputation.TierDiamond)
	if xerrors.CodeOf(err) != xerrors.CodeInsufficientTrust {
		t.Fatalf("expected INSUFFICIENT_TRUST, got %v", err)
	}
	if meta := mustXErr(t, err).Metadata(); meta["required_tier"] != "diamond" {
		t.Fatalf("expected structured tier detail, got %v", meta)
	}

	// 未登记的智能体按 unranked 处理。
	if err := gate.RequireMinimumTier(ctx, 99, reputation.TierBronze); xerrors.CodeOf(err) != xerrors.CodeInsufficientTrust {
		t.Fatalf("unranked agent should fail a bronze gate, got %v", err)
	}
	if err := gate.RequireMinimumTier(ctx, 99, reputation.TierUnranked); err != nil {
		t.Fatalf("unranked gate admits everyone: %v", err)
	}
}

func mustXErr(t *testing.T, err error) *xerrors.Error {
	t.Helper()
	e, ok := xerrors.From(err)
	if !ok {
		t.Fatalf("expected unified error, got %v", err)
	}
	return e
}

func TestCollateralMonotonicity(t *testing.T) {
	gate, oracle := newTestGate()
	ctx := context.Background()

	var prev uint32
	for i, tier := range reputation.Tiers() {
		agentID := uint64(i + 1)
		oracle.SetTier(agentID, tier)
		multiplier, err := gate.CollateralMultiplier(ctx, agentID)
		if err != nil {
			t.Fatalf("collateral for %s: %v", tier, err)
		}
		if i > 0 && multiplier < prev {
			t.Fatalf("collateral must not decrease as trust drops: %s got %d after %d", tier, multiplier, prev)
		}
		prev = multiplier
	}
	if prev != 10000 {
		t.Fatalf("unranked baseline must be full collateral, got %d", prev)
	}
}

func TestRateDiscountMonotonicity(t *testing.T) {
	gate, oracle := newTestGate()
	ctx := context.Background()

	var prev uint32
	tiers := reputation.Tiers()
	for i := len(tiers) - 1; i >= 0; i-- {
		agentID := uint64(i + 1)
		oracle.SetTier(agentID, tiers[i])
		discount, err := gate.InterestRateDiscount(ctx, agentID)
		if err != nil {
			t.Fatalf("discount for %s: %v", tiers[i], err)
		}
		if i < len(tiers)-1 && discount < prev {
			t.Fatalf("discount must not decrease as trust rises: %s got %d after %d", tiers[i], discount, prev)
		}
		prev = discount
	}

	oracle.SetTier(50, reputation.TierUnranked)
	discount, err := gate.InterestRateDiscount(ctx, 50)
	if err != nil || discount != 0 {
		t.Fatalf("unranked discount must be zero, got %d (%v)", discount, err)
	}
}

func TestTrustedValueCeiling(t *testing.T) {
	gate, oracle := newTestGate()
	ctx := context.Background()

	oracle.SetTier(1, reputation.TierSilver)

	ceiling, err := gate.MaxTrustedValue(ctx, 1)
	if err != nil {
		t.Fatalf("max trusted value: %v", err)
	}
	if ok, _ := gate.IsTrustedForValue(ctx, 1, ceiling); !ok {
		t.Fatalf("value at the ceiling must be trusted")
	}
	if ok, _ := gate.IsTrustedForValue(ctx, 1, ceiling+1); ok {
		t.Fatalf("value above the ceiling must not be trusted")
	}

	// 未评级的额度保守且固定。
	unrankedCeiling, err := gate.MaxTrustedValue(ctx, 99)
	if err != nil {
		t.Fatalf("unranked ceiling: %v", err)
	}
	if unrankedCeiling >= ceiling {
		t.Fatalf("unranked ceiling %d should sit below silver %d", unrankedCeiling, ceiling)
	}
}

func TestPriorityScore(t *testing.T) {
	gate, oracle := newTestGate()
	ctx := context.Background()

	score, err := gate.PriorityScore(ctx, 7)
	if err != nil || score != 0 {
		t.Fatalf("agent without feedback should score zero, got %d (%v)", score, err)
	}
	oracle.SetRating(7, 452)
	score, err = gate.PriorityScore(ctx, 7)
	if err != nil || score != 452 {
		t.Fatalf("expected rating passthrough, got %d (%v)", score, err)
	}
}

func TestBatchCheckTier(t *testing.T) {
	gate, oracle := newTestGate()
	ctx := context.Background()

	oracle.SetTier(1, reputation.TierGold)
	// 智能体 2 不登记，保持 unranked。

	results, err := gate.BatchCheckTier(ctx, []uint64{1, 2}, reputation.TierBronze)
	if err != nil {
		t.Fatalf("batch check: %v", err)
	}
	if len(results) != 2 || !results[0] || results[1] {
		t.Fatalf("expected [true false], got %v", results)
	}

	empty, err := gate.BatchCheckTier(ctx, nil, reputation.TierBronze)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty batch should yield empty vector, got %v (%v)", empty, err)
	}
}
