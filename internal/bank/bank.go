package bank

import (
	"context"
	"fmt"
	"strings"

	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/identity"
)

// TargetKind 区分原生价值与外部代币。
type TargetKind uint8

const (
	KindNative TargetKind = iota
	KindToken
)

// TransferTarget 是携带代币地址的标签变体，原生路径不带地址。
type TransferTarget struct {
	kind  TargetKind
	token identity.Address
}

// Native 返回原生价值的转账目标。
func Native() TransferTarget {
	return TransferTarget{kind: KindNative}
}

// Token 返回指向外部代币合约的转账目标。
func Token(addr identity.Address) TransferTarget {
	return TransferTarget{kind: KindToken, token: identity.Normalize(addr)}
}

// IsNative 报告目标是否为原生价值。
func (t TransferTarget) IsNative() bool {
	return t.kind == KindNative
}

// TokenAddress 返回代币合约地址，原生目标返回空地址。
func (t TransferTarget) TokenAddress() identity.Address {
	return t.token
}

// String 返回可持久化的目标表示。
func (t TransferTarget) String() string {
	if t.kind == KindNative {
		return "native"
	}
	return "token:" + string(t.token)
}

// ParseTarget 解析 String 产生的表示。
func ParseTarget(raw string) (TransferTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "native" {
		return Native(), nil
	}
	if token, ok := strings.CutPrefix(raw, "token:"); ok && token != "" {
		return Token(identity.Address(token)), nil
	}
	return TransferTarget{}, xerrors.New(xerrors.CodeInvalidArgument,
		fmt.Sprintf("非法的转账目标: %q", raw))
}

// Payout 是一笔出账。
type Payout struct {
	To     identity.Address
	Amount uint64
}

// Bank 抽象了引擎进出账的唯一通道。
type Bank interface {
	// Lock 从付款方账户划入引擎托管账户。
	Lock(ctx context.Context, target TransferTarget, from identity.Address, amount uint64) error
	// Pay 从引擎托管账户原子地支出一批款项，任何一笔无法完成时
	// 整批回退。
	Pay(ctx context.Context, target TransferTarget, payouts []Payout) error
}
