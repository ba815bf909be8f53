package split

import (
	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/bank"
	"AgentPay-Chain/internal/identity"
)

const (
	// MinParticipants 与 MaxParticipants 限定分账协议的参与方数量。
	MinParticipants = 2
	MaxParticipants = 10
)

// Agreement 是一份 N 方分账协议。份额以 bps 表示且总和恒为 10000。
// IsActive 只会单向地从 true 翻到 false。
type Agreement struct {
	ID           string   `json:"id"`
	CreatorAgent uint64   `json:"creator_agent"`
	Participants []uint64 `json:"participants"`
	SharesBps    []uint32 `json:"shares_bps"`
	IsActive     bool     `json:"is_active"`
	CreatedAt    int64    `json:"created_at"`
}

// Clone 返回协议的深拷贝。
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Participants = append([]uint64(nil), a.Participants...)
	clone.SharesBps = append([]uint32(nil), a.SharesBps...)
	return &clone
}

// HasParticipant 报告智能体是否为协议参与方。
func (a *Agreement) HasParticipant(agentID uint64) bool {
	for _, participant := range a.Participants {
		if participant == agentID {
			return true
		}
	}
	return false
}

// Deposit 是针对某份协议的一笔入账。Distributed 恰好翻转一次，
// 协议随后被停用不影响已入账存款的分发。
type Deposit struct {
	ID            string              `json:"id"`
	SplitID       string              `json:"split_id"`
	Amount        uint64              `json:"amount"`
	Target        bank.TransferTarget `json:"-"`
	TargetRaw     string              `json:"target"`
	Payer         identity.Address    `json:"payer"`
	TaskRef       string              `json:"task_ref,omitempty"`
	Distributed   bool                `json:"distributed"`
	CreatedAt     int64               `json:"created_at"`
	DistributedAt int64               `json:"distributed_at,omitempty"`
}

// Clone 返回存款记录的浅拷贝。
func (d *Deposit) Clone() *Deposit {
	if d == nil {
		return nil
	}
	clone := *d
	return &clone
}

var (
	// ErrSplitNotFound 表示协议不存在。
	ErrSplitNotFound = xerrors.New(xerrors.CodeNotFound, "分账协议不存在")
	// ErrSplitConflict 表示协议编号冲突。
	ErrSplitConflict = xerrors.New(xerrors.CodeInvalidState, "分账协议编号已存在",
		xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrSplitInactive 表示协议已停用。
	ErrSplitInactive = xerrors.New(xerrors.CodeInvalidState, "分账协议已停用")
	// ErrDepositNotFound 表示存款不存在。
	ErrDepositNotFound = xerrors.New(xerrors.CodeNotFound, "分账存款不存在")
	// ErrDepositConflict 表示存款编号冲突。
	ErrDepositConflict = xerrors.New(xerrors.CodeInvalidState, "分账存款编号已存在",
		xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrAlreadyDistributed 表示存款已经分发过。
	ErrAlreadyDistributed = xerrors.New(xerrors.CodeAlreadyDistributed, "存款已分发")
)
