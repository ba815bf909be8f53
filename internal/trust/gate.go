package trust

import (
	"context"
	"fmt"
	"strconv"

	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/reputation"
)

// 各层级的押金倍数（bps）。信任度越高需要的超额押金越少，
// unranked 为基准线 10000 bps，即足额押金。
var collateralBps = map[reputation.Tier]uint32{
	reputation.TierDiamond:  2000,
	reputation.TierPlatinum: 4000,
	reputation.TierGold:     6000,
	reputation.TierSilver:   8000,
	reputation.TierBronze:   9000,
	reputation.TierUnranked: 10000,
}

// 各层级的利率折扣（bps）。信任度越高折扣越大，unranked 没有折扣。
var rateDiscountBps = map[reputation.Tier]uint32{
	reputation.TierDiamond:  300,
	reputation.TierPlatinum: 200,
	reputation.TierGold:     150,
	reputation.TierSilver:   100,
	reputation.TierBronze:   50,
	reputation.TierUnranked: 0,
}

// 各层级在无需额外押金或人工校验时可被信任的最大金额。
// unranked 采用保守的固定额度。
var maxTrustedValue = map[reputation.Tier]uint64{
	reputation.TierDiamond:  1_000_000_000_000,
	reputation.TierPlatinum: 100_000_000_000,
	reputation.TierGold:     10_000_000_000,
	reputation.TierSilver:   1_000_000_000,
	reputation.TierBronze:   100_000_000,
	reputation.TierUnranked: 10_000_000,
}

// Gate 基于声誉层级回答风险定价问题。
type Gate struct {
	oracle reputation.Oracle
}

// NewGate 构造 Gate。
func NewGate(oracle reputation.Oracle) *Gate {
	return &Gate{oracle: oracle}
}

func (g *Gate) tierOf(ctx context.Context, agentID uint64) (reputation.Tier, error) {
	if g == nil || g.oracle == nil {
		return reputation.TierUnranked, xerrors.New(xerrors.CodeInitializationFailure, "声誉服务未配置")
	}
	tier, err := g.oracle.TierOf(ctx, agentID)
	if err != nil {
		return reputation.TierUnranked, err
	}
	if !tier.Valid() {
		return reputation.TierUnranked, nil
	}
	return tier, nil
}

// RequireMinimumTier 校验智能体层级不低于 min，否则返回 INSUFFICIENT_TRUST。
func (g *Gate) RequireMinimumTier(ctx context.Context, agentID uint64, min reputation.Tier) error {
	tier, err := g.tierOf(ctx, agentID)
	if err != nil {
		return err
	}
	if !tier.AtLeast(min) {
		return xerrors.New(xerrors.CodeInsufficientTrust,
			fmt.Sprintf("智能体 %d 层级 %s 低于要求的 %s", agentID, tier, min),
			xerrors.WithMetadata("agent_id", strconv.FormatUint(agentID, 10)),
			xerrors.WithMetadata("tier", string(tier)),
			xerrors.WithMetadata("required_tier", string(min)))
	}
	return nil
}

// CollateralMultiplier 返回智能体所需的押金倍数（bps）。
func (g *Gate) CollateralMultiplier(ctx context.Context, agentID uint64) (uint32, error) {
	tier, err := g.tierOf(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return collateralBps[tier], nil
}

// InterestRateDiscount 返回智能体享有的利率折扣（bps）。
func (g *Gate) InterestRateDiscount(ctx context.Context, agentID uint64) (uint32, error) {
	tier, err := g.tierOf(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return rateDiscountBps[tier], nil
}

// PriorityScore 返回用于排队优先级的信号，当前取平均评分，
// 没有任何反馈时为 0。
func (g *Gate) PriorityScore(ctx context.Context, agentID uint64) (uint64, error) {
	if g == nil || g.oracle == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "声誉服务未配置")
	}
	return g.oracle.AverageRating(ctx, agentID)
}

// MaxTrustedValue 返回智能体当前层级的信用额度上限。
func (g *Gate) MaxTrustedValue(ctx context.Context, agentID uint64) (uint64, error) {
	tier, err := g.tierOf(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return maxTrustedValue[tier], nil
}

// IsTrustedForValue 报告金额是否在智能体的信用额度之内。
func (g *Gate) IsTrustedForValue(ctx context.Context, agentID uint64, value uint64) (bool, error) {
	ceiling, err := g.MaxTrustedValue(ctx, agentID)
	if err != nil {
		return false, err
	}
	return value <= ceiling, nil
}

// BatchCheckTier 对每个智能体应用 RequireMinimumTier 的判定但不中断，
// 返回与输入等长的布尔向量，用于批量准入筛查。
func (g *Gate) BatchCheckTier(ctx context.Context, agentIDs []uint64, min reputation.Tier) ([]bool, error) {
	results := make([]bool, len(agentIDs))
	for i, agentID := range agentIDs {
		tier, err := g.tierOf(ctx, agentID)
		if err != nil {
			return nil, err
		}
		results[i] = tier.AtLeast(min)
	}
	return results, nil
}
