package reputation

import (
	"context"
	"sync"
)

// MemoryOracle 以内存方式保存层级信息，主要用于测试和单机部署。
// 未登记的智能体按 unranked、零评分处理。
type MemoryOracle struct {
	mu      sync.RWMutex
	tiers   map[uint64]Tier
	ratings map[uint64]uint64
}

// NewMemoryOracle 创建 MemoryOracle。
func NewMemoryOracle() *MemoryOracle {
	return &MemoryOracle{
		tiers:   make(map[uint64]Tier),
		ratings: make(map[uint64]uint64),
	}
}

// SetTier 写入智能体的层级，供上游同步或测试使用。
func (m *MemoryOracle) SetTier(agentID uint64, tier Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers[agentID] = tier
}

// SetRating 写入智能体的平均评分。
func (m *MemoryOracle) SetRating(agentID uint64, rating uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings[agentID] = rating
}

// TierOf 实现 Oracle 接口。
func (m *MemoryOracle) TierOf(_ context.Context, agentID uint64) (Tier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tier, ok := m.tiers[agentID]; ok {
		return tier, nil
	}
	return TierUnranked, nil
}

// AverageRating 实现 Oracle 接口。
func (m *MemoryOracle) AverageRating(_ context.Context, agentID uint64) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ratings[agentID], nil
}

var _ Oracle = (*MemoryOracle)(nil)
