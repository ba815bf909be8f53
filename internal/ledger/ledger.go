package ledger

import (
	"fmt"
	"math/bits"

	xerrors "AgentPay-Chain/internal/errors"
)

// BpsDenominator 是基点运算的分母，10000 bps == 100%。
const BpsDenominator = 10000

// MaxFeeBps 是协议费率的上限（10%）。
const MaxFeeBps = 1000

// CheckedAdd 返回 a+b，溢出时返回 OVERFLOW 错误。
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, xerrors.New(xerrors.CodeOverflow,
			fmt.Sprintf("加法溢出: %d + %d", a, b),
			xerrors.WithMetadata("invariant", "checked_add"))
	}
	return sum, nil
}

// CheckedSub 返回 a-b，下溢时返回 OVERFLOW 错误。
func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, xerrors.New(xerrors.CodeOverflow,
			fmt.Sprintf("减法下溢: %d - %d", a, b),
			xerrors.WithMetadata("invariant", "checked_sub"))
	}
	return diff, nil
}

// mulBps 计算 floor(amount * bps / 10000)，中间乘积使用 128 位避免溢出。
func mulBps(amount uint64, bps uint32) (uint64, error) {
	hi, lo := bits.Mul64(amount, uint64(bps))
	if hi >= BpsDenominator {
		// 商超出 64 位可表示范围。bps 不超过 10000 时不会触发，
		// 这里仍然校验以保护非法输入。
		return 0, xerrors.New(xerrors.CodeOverflow,
			fmt.Sprintf("基点乘法溢出: %d * %d", amount, bps),
			xerrors.WithMetadata("invariant", "bps_mul"))
	}
	quo, _ := bits.Div64(hi, lo, BpsDenominator)
	return quo, nil
}

// SplitAmount 按当前协议费率拆分总额，返回 (协议费, 可分配净额)。
// fee = floor(total * feeBps / 10000)，净额为剩余部分，费率不会超过总额。
func SplitAmount(total uint64, feeBps uint32) (fee, net uint64, err error) {
	if feeBps > BpsDenominator {
		return 0, 0, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("费率 %d bps 超出 10000", feeBps),
			xerrors.WithMetadata("invariant", "fee_bps_range"))
	}
	fee, err = mulBps(total, feeBps)
	if err != nil {
		return 0, 0, err
	}
	net, err = CheckedSub(total, fee)
	if err != nil {
		return 0, 0, err
	}
	return fee, net, nil
}

// ProportionalShare 计算 floor(net * shareBps / 10000)。
//
// 各参与方份额独立向下取整，份额之和可能比净额少最多
// participantCount-1 个最小单位；这一残差保留在引擎账户（金库侧），
// 既不会分配给任何参与方，也不会从会计恒等式
// fee + sum(shares) + residual == amount 中丢失。
func ProportionalShare(net uint64, shareBps uint32) (uint64, error) {
	if shareBps > BpsDenominator {
		return 0, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("份额 %d bps 超出 10000", shareBps),
			xerrors.WithMetadata("invariant", "share_bps_range"))
	}
	return mulBps(net, shareBps)
}
