package split

import (
	"context"
	"sort"
	"sync"

	xerrors "AgentPay-Chain/internal/errors"
)

// MemoryStore 以内存方式保存协议与存款，用于测试和单机部署。
type MemoryStore struct {
	mu         sync.RWMutex
	agreements map[string]*Agreement
	deposits   map[string]*Deposit
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agreements: make(map[string]*Agreement),
		deposits:   make(map[string]*Deposit),
	}
}

// CreateAgreement 实现 Store 接口。
func (m *MemoryStore) CreateAgreement(_ context.Context, agreement *Agreement) error {
	if agreement == nil || agreement.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "协议记录不完整")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agreements[agreement.ID]; ok {
		return ErrSplitConflict
	}
	m.agreements[agreement.ID] = agreement.Clone()
	return nil
}

// GetAgreement 实现 Store 接口。
func (m *MemoryStore) GetAgreement(_ context.Context, id string) (*Agreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agreement, ok := m.agreements[id]
	if !ok {
		return nil, ErrSplitNotFound
	}
	return agreement.Clone(), nil
}

// ListAgreementsByAgent 实现 Store 接口，按创建时间倒序返回。
func (m *MemoryStore) ListAgreementsByAgent(_ context.Context, agentID uint64) ([]*Agreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Agreement
	for _, agreement := range m.agreements {
		if agreement.HasParticipant(agentID) {
			result = append(result, agreement.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

// Deactivate 实现 Store 接口。
func (m *MemoryStore) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agreement, ok := m.agreements[id]
	if !ok {
		return ErrSplitNotFound
	}
	if !agreement.IsActive {
		return ErrSplitInactive
	}
	agreement.IsActive = false
	return nil
}

// CreateDeposit 实现 Store 接口。
func (m *MemoryStore) CreateDeposit(_ context.Context, deposit *Deposit) error {
	if deposit == nil || deposit.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "存款记录不完整")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deposits[deposit.ID]; ok {
		return ErrDepositConflict
	}
	m.deposits[deposit.ID] = deposit.Clone()
	return nil
}

// GetDeposit 实现 Store 接口。
func (m *MemoryStore) GetDeposit(_ context.Context, id string) (*Deposit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	deposit, ok := m.deposits[id]
	if !ok {
		return nil, ErrDepositNotFound
	}
	return deposit.Clone(), nil
}

// ListDepositsBySplit 实现 Store 接口，按创建时间倒序返回。
func (m *MemoryStore) ListDepositsBySplit(_ context.Context, splitID string) ([]*Deposit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Deposit
	for _, deposit := range m.deposits {
		if deposit.SplitID == splitID {
			result = append(result, deposit.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

// MarkDistributed 实现 Store 接口。
func (m *MemoryStore) MarkDistributed(_ context.Context, id string, distributedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deposit, ok := m.deposits[id]
	if !ok {
		return ErrDepositNotFound
	}
	if deposit.Distributed {
		return ErrAlreadyDistributed
	}
	deposit.Distributed = true
	deposit.DistributedAt = distributedAt
	return nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
