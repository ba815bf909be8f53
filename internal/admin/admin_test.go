package admin

import (
	"context"
	"testing"

	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/events"
)

func newTestSettings(t *testing.T) (*Settings, *events.MemoryBus) {
	t.Helper()
	bus := events.NewMemoryBus(16)
	settings, err := NewSettings(Config{
		Admin:          "0xAdmin",
		ProtocolFeeBps: 50,
		Treasury:       "0xTreasury",
	}, bus)
	if err != nil {
		t.Fatalf("new settings: %v", err)
	}
	return settings, bus
}

func TestFeeBounds(t *testing.T) {
	settings, bus := newTestSettings(t)
	ctx := context.Background()

	if err := settings.SetProtocolFee(ctx, "0xadmin", 1000); err != nil {
		t.Fatalf("1000 bps is the cap and must be accepted: %v", err)
	}
	if err := settings.SetProtocolFee(ctx, "0xadmin", 1001); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT above cap, got %v", err)
	}
	if err := settings.SetProtocolFee(ctx, "0xsomeone", 10); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED for non-admin, got %v", err)
	}
	snapshot := settings.FeeSnapshot()
	if snapshot.ProtocolFeeBps != 1000 {
		t.Fatalf("snapshot fee: %d", snapshot.ProtocolFeeBps)
	}

	drained := bus.Drain()
	if len(drained) != 1 || drained[0].Type != events.TypeFeeUpdated {
		t.Fatalf("expected one fee_updated event, got %+v", drained)
	}
}

func TestTreasuryValidation(t *testing.T) {
	settings, _ := newTestSettings(t)
	ctx := context.Background()

	if err := settings.SetTreasury(ctx, "0xadmin", ""); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("empty treasury must be rejected, got %v", err)
	}
	if err := settings.SetTreasury(ctx, "0xadmin", "0xNewTreasury"); err != nil {
		t.Fatalf("set treasury: %v", err)
	}
	if got := settings.FeeSnapshot().Treasury; got != "0xnewtreasury" {
		t.Fatalf("treasury snapshot: %s", got)
	}
}

func TestPauseCircuitBreaker(t *testing.T) {
	settings, _ := newTestSettings(t)
	ctx := context.Background()

	if err := settings.CheckNotPaused(); err != nil {
		t.Fatalf("fresh settings must not be paused: %v", err)
	}
	if err := settings.Pause(ctx, "0xadmin"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := settings.CheckNotPaused(); xerrors.CodeOf(err) != xerrors.CodePaused {
		t.Fatalf("expected PAUSED, got %v", err)
	}
	if err := settings.Unpause(ctx, "0xadmin"); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := settings.CheckNotPaused(); err != nil {
		t.Fatalf("unpaused settings must pass: %v", err)
	}
}

func TestOperatorAllowList(t *testing.T) {
	settings, _ := newTestSettings(t)
	ctx := context.Background()

	if settings.IsOperator("0xmonitor") {
		t.Fatalf("unknown address must not be operator")
	}
	if !settings.IsOperator("0xAdmin") {
		t.Fatalf("admin is implicitly an operator")
	}
	if err := settings.AllowOperator(ctx, "0xadmin", "0xMonitor"); err != nil {
		t.Fatalf("allow operator: %v", err)
	}
	if !settings.IsOperator("0xmonitor") {
		t.Fatalf("allowed operator must be recognised")
	}
	if err := settings.RevokeOperator(ctx, "0xadmin", "0xmonitor"); err != nil {
		t.Fatalf("revoke operator: %v", err)
	}
	if settings.IsOperator("0xmonitor") {
		t.Fatalf("revoked operator must be rejected")
	}
}
