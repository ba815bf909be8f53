// Package admin holds the deliberately thin administrative surface of the
// settlement engine: protocol fee and treasury configuration, the
// pause/unpause circuit breaker, and the operator allow-list. Settlement
// operations read the fee configuration through FeeSnapshot at settlement
// time, never at creation time.
package admin

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/events"
	"AgentPay-Chain/internal/identity"
	"AgentPay-Chain/internal/ledger"
)

// FeeConfig 是一次结算操作读取到的费率快照。
type FeeConfig struct {
	ProtocolFeeBps uint32
	Treasury       identity.Address
}

// Settings 是进程级的单写多读配置。
type Settings struct {
	mu        sync.RWMutex
	admin     identity.Address
	feeBps    uint32
	treasury  identity.Address
	paused    bool
	operators map[identity.Address]bool
	publisher events.Publisher
}

// Config 描述初始的管理配置。
type Config struct {
	Admin          identity.Address
	ProtocolFeeBps uint32
	Treasury       identity.Address
}

// NewSettings 构造 Settings。
func NewSettings(cfg Config, publisher events.Publisher) (*Settings, error) {
	if cfg.Admin.IsZero() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "必须配置管理员地址")
	}
	if cfg.ProtocolFeeBps > ledger.MaxFeeBps {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("协议费率 %d bps 超出上限 %d", cfg.ProtocolFeeBps, ledger.MaxFeeBps))
	}
	if cfg.Treasury.IsZero() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "必须配置金库地址")
	}
	return &Settings{
		admin:     identity.Normalize(cfg.Admin),
		feeBps:    cfg.ProtocolFeeBps,
		treasury:  identity.Normalize(cfg.Treasury),
		operators: make(map[identity.Address]bool),
		publisher: publisher,
	}, nil
}

func (s *Settings) requireAdmin(caller identity.Address) error {
	if identity.Normalize(caller) != s.admin {
		return xerrors.New(xerrors.CodeUnauthorized, "仅管理员可执行该操作",
			xerrors.WithMetadata("caller", string(caller)))
	}
	return nil
}

func (s *Settings) emit(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	_ = s.publisher.Publish(ctx, event)
}

// FeeSnapshot 返回当前费率配置。结算操作在结算时刻调用一次，
// 同一操作内不得重复读取。
func (s *Settings) FeeSnapshot() FeeConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FeeConfig{ProtocolFeeBps: s.feeBps, Treasury: s.treasury}
}

// SetProtocolFee 更新协议费率，上限 1000 bps。
func (s *Settings) SetProtocolFee(ctx context.Context, caller identity.Address, bps uint32) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	if bps > ledger.MaxFeeBps {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("协议费率 %d bps 超出上限 %d", bps, ledger.MaxFeeBps),
			xerrors.WithMetadata("invariant", "fee_cap"))
	}
	s.mu.Lock()
	s.feeBps = bps
	s.mu.Unlock()

	event := events.New(events.TypeFeeUpdated)
	event.Actor = string(identity.Normalize(caller))
	event.Details = map[string]string{"fee_bps": strconv.FormatUint(uint64(bps), 10)}
	s.emit(ctx, event)
	return nil
}

// SetTreasury 更新金库地址，拒绝空地址。
func (s *Settings) SetTreasury(ctx context.Context, caller identity.Address, treasury identity.Address) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	if treasury.IsZero() {
		return xerrors.New(xerrors.CodeInvalidArgument, "金库地址不能为空",
			xerrors.WithMetadata("invariant", "nonzero_treasury"))
	}
	s.mu.Lock()
	s.treasury = identity.Normalize(treasury)
	s.mu.Unlock()

	event := events.New(events.TypeTreasuryUpdated)
	event.Actor = string(identity.Normalize(caller))
	event.Details = map[string]string{"treasury": string(identity.Normalize(treasury))}
	s.emit(ctx, event)
	return nil
}

// Pause 启动熔断，阻断所有变更类结算调用。
func (s *Settings) Pause(ctx context.Context, caller identity.Address) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()

	event := events.New(events.TypePaused)
	event.Actor = string(identity.Normalize(caller))
	s.emit(ctx, event)
	return nil
}

// Unpause 解除熔断。
func (s *Settings) Unpause(ctx context.Context, caller identity.Address) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()

	event := events.New(events.TypeUnpaused)
	event.Actor = string(identity.Normalize(caller))
	s.emit(ctx, event)
	return nil
}

// Paused 报告熔断是否生效。
func (s *Settings) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// CheckNotPaused 在熔断生效时返回 PAUSED 错误。
func (s *Settings) CheckNotPaused() error {
	if s.Paused() {
		return xerrors.New(xerrors.CodePaused, "")
	}
	return nil
}

// AllowOperator 将监控或运维地址加入白名单。
func (s *Settings) AllowOperator(ctx context.Context, caller identity.Address, operator identity.Address) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	if operator.IsZero() {
		return xerrors.New(xerrors.CodeInvalidArgument, "运维地址不能为空")
	}
	s.mu.Lock()
	s.operators[identity.Normalize(operator)] = true
	s.mu.Unlock()

	event := events.New(events.TypeOperatorAllowed)
	event.Actor = string(identity.Normalize(caller))
	event.Details = map[string]string{"operator": string(identity.Normalize(operator))}
	s.emit(ctx, event)
	return nil
}

// RevokeOperator 将地址移出白名单。
func (s *Settings) RevokeOperator(ctx context.Context, caller identity.Address, operator identity.Address) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.operators, identity.Normalize(operator))
	s.mu.Unlock()

	event := events.New(events.TypeOperatorRevoked)
	event.Actor = string(identity.Normalize(caller))
	event.Details = map[string]string{"operator": string(identity.Normalize(operator))}
	s.emit(ctx, event)
	return nil
}

// IsOperator 报告地址是否在白名单内，管理员天然具备运维身份。
func (s *Settings) IsOperator(addr identity.Address) bool {
	addr = identity.Normalize(addr)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return addr == s.admin || s.operators[addr]
}
