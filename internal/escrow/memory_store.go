package escrow

import (
	"context"
	"sort"
	"sync"

	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/ledger"
)

// MemoryStore 以内存方式保存支付记录，用于测试和单机部署。
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[string]*Payment
	earnings map[uint64]*Earnings
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]*Payment),
		earnings: make(map[uint64]*Earnings),
	}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, payment *Payment) error {
	if payment == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "payment 不能为空")
	}
	if payment.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "支付 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[payment.ID]; ok {
		return ErrPaymentConflict
	}
	m.payments[payment.ID] = payment.Clone()
	return nil
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, id string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payment, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return payment.Clone(), nil
}

// ListByAgent 实现 Store 接口，按创建时间倒序返回。
func (m *MemoryStore) ListByAgent(_ context.Context, agentID uint64) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Payment
	for _, payment := range m.payments {
		if payment.FromAgent == agentID || payment.ToAgent == agentID {
			result = append(result, payment.Clone())
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

// Resolve 实现 Store 接口。
func (m *MemoryStore) Resolve(_ context.Context, id string, to Status, resolvedAt int64) error {
	if !to.IsTerminal() {
		return xerrors.New(xerrors.CodeInvalidArgument, "只能迁移到终态")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	if payment.Status != StatusEscrowed {
		return ErrNotEscrowed
	}
	payment.Status = to
	payment.ResolvedAt = resolvedAt
	return nil
}

// SetCancelConsent 实现 Store 接口。
func (m *MemoryStore) SetCancelConsent(_ context.Context, id string, party ConsentParty) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	if payment.Status != StatusEscrowed {
		return nil, ErrNotEscrowed
	}
	switch party {
	case ConsentFrom:
		payment.CancelRequestedByFrom = true
	case ConsentTo:
		payment.CancelRequestedByTo = true
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的取消发起方")
	}
	return payment.Clone(), nil
}

// AddEarnings 实现 Store 接口。
func (m *MemoryStore) AddEarnings(_ context.Context, agentID uint64, earnedDelta, paidDelta uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.earnings[agentID]
	if entry == nil {
		entry = &Earnings{AgentID: agentID}
		m.earnings[agentID] = entry
	}
	earned, err := ledger.CheckedAdd(entry.TotalEarned, earnedDelta)
	if err != nil {
		return err
	}
	paid, err := ledger.CheckedAdd(entry.TotalPaid, paidDelta)
	if err != nil {
		return err
	}
	entry.TotalEarned = earned
	entry.TotalPaid = paid
	return nil
}

// GetEarnings 实现 Store 接口。
func (m *MemoryStore) GetEarnings(_ context.Context, agentID uint64) (Earnings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if entry := m.earnings[agentID]; entry != nil {
		return *entry, nil
	}
	return Earnings{AgentID: agentID}, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
