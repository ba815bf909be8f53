package identity

import (
	"context"
	"sync"
)

// MemoryDirectory 以内存方式登记智能体归属，主要用于测试和单机部署。
type MemoryDirectory struct {
	mu     sync.RWMutex
	owners map[uint64]Address
}

// NewMemoryDirectory 创建 MemoryDirectory。
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{owners: make(map[uint64]Address)}
}

// Register 登记或更新智能体的归属地址。
func (m *MemoryDirectory) Register(agentID uint64, owner Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[agentID] = Normalize(owner)
}

// OwnerOf 实现 Directory 接口。
func (m *MemoryDirectory) OwnerOf(_ context.Context, agentID uint64) (Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.owners[agentID]
	if !ok {
		return ZeroAddress, NotFound(agentID)
	}
	return owner, nil
}

// Exists 实现 Directory 接口。
func (m *MemoryDirectory) Exists(_ context.Context, agentID uint64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.owners[agentID]
	return ok, nil
}

var _ Directory = (*MemoryDirectory)(nil)
