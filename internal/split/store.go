package split

import (
	"context"
)

// Store 抽象分账协议与存款的持久化。实现必须保证 Deactivate 与
// MarkDistributed 是以当前状态为先决条件的条件更新。
type Store interface {
	// CreateAgreement 插入新的分账协议。
	CreateAgreement(ctx context.Context, agreement *Agreement) error
	// GetAgreement 查询指定协议。
	GetAgreement(ctx context.Context, id string) (*Agreement, error)
	// ListAgreementsByAgent 返回智能体参与的全部协议。
	ListAgreementsByAgent(ctx context.Context, agentID uint64) ([]*Agreement, error)
	// Deactivate 将协议从激活态翻转为停用态，已停用时返回
	// ErrSplitInactive。
	Deactivate(ctx context.Context, id string) error

	// CreateDeposit 插入新的存款记录。
	CreateDeposit(ctx context.Context, deposit *Deposit) error
	// GetDeposit 查询指定存款。
	GetDeposit(ctx context.Context, id string) (*Deposit, error)
	// ListDepositsBySplit 返回协议名下的全部存款。
	ListDepositsBySplit(ctx context.Context, splitID string) ([]*Deposit, error)
	// MarkDistributed 将存款标记为已分发，重复标记返回
	// ErrAlreadyDistributed。
	MarkDistributed(ctx context.Context, id string, distributedAt int64) error

	// Close 释放底层资源。
	Close() error
}
