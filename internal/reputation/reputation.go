package reputation

import (
	"context"

	xerrors "AgentPay-Chain/internal/errors"
)

// Tier 是由上游声誉聚合服务计算出的信任层级标签。
type Tier string

// 层级从最受信任到完全未评级排序。
const (
	TierDiamond  Tier = "diamond"
	TierPlatinum Tier = "platinum"
	TierGold     Tier = "gold"
	TierSilver   Tier = "silver"
	TierBronze   Tier = "bronze"
	TierUnranked Tier = "unranked"
)

// ordered 定义层级的固定顺序，下标 0 为最受信任。
var ordered = []Tier{TierDiamond, TierPlatinum, TierGold, TierSilver, TierBronze, TierUnranked}

// Tiers 返回层级的有序副本。
func Tiers() []Tier {
	out := make([]Tier, len(ordered))
	copy(out, ordered)
	return out
}

// Rank 返回层级在有序集合中的下标，未知标签按 unranked 处理。
func (t Tier) Rank() int {
	for i, tier := range ordered {
		if tier == t {
			return i
		}
	}
	return len(ordered) - 1
}

// Valid 报告层级标签是否为已知取值。
func (t Tier) Valid() bool {
	for _, tier := range ordered {
		if tier == t {
			return true
		}
	}
	return false
}

// AtLeast 报告 t 的信任程度是否不低于 min。
func (t Tier) AtLeast(min Tier) bool {
	return t.Rank() <= min.Rank()
}

// Oracle 是声誉协作方的只读接口。
type Oracle interface {
	// TierOf 返回智能体当前的信任层级。
	TierOf(ctx context.Context, agentID uint64) (Tier, error)
	// AverageRating 返回智能体的平均评分（放大 100 倍的定点数），
	// 没有任何反馈时为 0。
	AverageRating(ctx context.Context, agentID uint64) (uint64, error)
}

// ErrAgentUnknown 表示声誉服务不认识指定的智能体。
var ErrAgentUnknown = xerrors.New(xerrors.CodeNotFound, "声誉服务中不存在该智能体")
