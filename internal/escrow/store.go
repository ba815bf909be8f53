package escrow

import (
	"context"
)

// ConsentParty 标识请求取消的一方。
type ConsentParty string

const (
	ConsentFrom ConsentParty = "from"
	ConsentTo   ConsentParty = "to"
)

// Store 抽象托管支付的持久化。实现必须保证单条记录上的更新是原子的：
// Resolve 与 SetCancelConsent 以 escrowed 状态为先决条件做条件更新，
// 并发写同一记录时后到者观察到的是完整的前一次结果。
type Store interface {
	// Create 插入新的支付记录。
	Create(ctx context.Context, payment *Payment) error
	// Get 查询指定支付。
	Get(ctx context.Context, id string) (*Payment, error)
	// ListByAgent 返回智能体参与（作为任一方）的全部支付。
	ListByAgent(ctx context.Context, agentID uint64) ([]*Payment, error)
	// Resolve 在支付仍处于 escrowed 状态时迁移到指定终态，
	// 否则返回 ErrNotEscrowed。
	Resolve(ctx context.Context, id string, to Status, resolvedAt int64) error
	// SetCancelConsent 记录一方的取消意向并返回更新后的记录，
	// 仅在 escrowed 状态下有效。
	SetCancelConsent(ctx context.Context, id string, party ConsentParty) (*Payment, error)
	// AddEarnings 累加智能体的收支统计。
	AddEarnings(ctx context.Context, agentID uint64, earnedDelta, paidDelta uint64) error
	// GetEarnings 返回智能体的累计收支。
	GetEarnings(ctx context.Context, agentID uint64) (Earnings, error)
	// Close 释放底层资源。
	Close() error
}
