package escrow

import (
	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/bank"
)

// Status 表示托管支付在生命周期中的状态。
// 状态机：escrowed -> {released, refunded, cancelled}，终态恰好进入一次。
type Status string

const (
	StatusEscrowed  Status = "escrowed"
	StatusReleased  Status = "released"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

// IsTerminal 报告状态是否为终态。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusReleased, StatusRefunded, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidStatus 报告状态取值是否合法。
func IsValidStatus(s Status) bool {
	switch s {
	case StatusEscrowed, StatusReleased, StatusRefunded, StatusCancelled:
		return true
	default:
		return false
	}
}

// Payment 是一笔两方托管支付。ResolvedAt 当且仅当进入终态后非零。
type Payment struct {
	ID                    string              `json:"id"`
	FromAgent             uint64              `json:"from_agent"`
	ToAgent               uint64              `json:"to_agent"`
	Amount                uint64              `json:"amount"`
	Target                bank.TransferTarget `json:"-"`
	TargetRaw             string              `json:"target"`
	TaskRef               string              `json:"task_ref,omitempty"`
	RequiresValidation    bool                `json:"requires_validation"`
	Status                Status              `json:"status"`
	CancelRequestedByFrom bool                `json:"cancel_requested_by_from"`
	CancelRequestedByTo   bool                `json:"cancel_requested_by_to"`
	CreatedAt             int64               `json:"created_at"`
	ResolvedAt            int64               `json:"resolved_at,omitempty"`
}

// Clone 返回记录的浅拷贝，避免调用方篡改存储内部状态。
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Earnings 是一个智能体的累计收支，供外部分析消费。
// TotalEarned 统计已释放支付的净到账，TotalPaid 统计创建支付时送出的
// 全额（与后续结局无关）。
type Earnings struct {
	AgentID     uint64 `json:"agent_id"`
	TotalEarned uint64 `json:"total_earned"`
	TotalPaid   uint64 `json:"total_paid"`
}

var (
	// ErrPaymentNotFound 表示指定的支付不存在。
	ErrPaymentNotFound = xerrors.New(xerrors.CodeNotFound, "支付不存在")
	// ErrPaymentConflict 表示支付编号冲突。
	ErrPaymentConflict = xerrors.New(xerrors.CodeInvalidState, "支付编号已存在",
		xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrNotEscrowed 表示支付已离开 escrowed 状态，终态转换只能发生一次。
	ErrNotEscrowed = xerrors.New(xerrors.CodeInvalidState, "支付不在托管状态")
)
