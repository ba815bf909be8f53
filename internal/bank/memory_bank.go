package bank

import (
	"context"
	"sync"

	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/identity"
	"AgentPay-Chain/internal/ledger"
)

// MemoryBank 以内存账本记录余额，主要用于测试和单机部署。
// 引擎托管账户与外部账户共用同一张账本，便于校验价值守恒。
type MemoryBank struct {
	mu        sync.Mutex
	balances  map[string]map[identity.Address]uint64
	pool      map[string]uint64
	rejecting map[identity.Address]bool
}

// NewMemoryBank 创建 MemoryBank。
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		balances:  make(map[string]map[identity.Address]uint64),
		pool:      make(map[string]uint64),
		rejecting: make(map[identity.Address]bool),
	}
}

// Mint 为账户铸造余额，仅供测试和初始化使用。
func (b *MemoryBank) Mint(target TransferTarget, addr identity.Address, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(target, identity.Normalize(addr), amount)
}

// SetRejecting 将地址标记为拒收，用于模拟转账失败。
func (b *MemoryBank) SetRejecting(addr identity.Address, rejecting bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejecting[identity.Normalize(addr)] = rejecting
}

func (b *MemoryBank) credit(target TransferTarget, addr identity.Address, amount uint64) {
	key := target.String()
	if b.balances[key] == nil {
		b.balances[key] = make(map[identity.Address]uint64)
	}
	b.balances[key][addr] += amount
}

// Lock 实现 Bank 接口。
func (b *MemoryBank) Lock(_ context.Context, target TransferTarget, from identity.Address, amount uint64) error {
	if amount == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "入账金额必须大于零",
			xerrors.WithMetadata("invariant", "nonzero_amount"))
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	from = identity.Normalize(from)
	key := target.String()
	balance := b.balances[key][from]
	remaining, err := ledger.CheckedSub(balance, amount)
	if err != nil {
		return xerrors.New(xerrors.CodeTransferFailure, "付款方余额不足",
			xerrors.WithMetadata("address", string(from)),
			xerrors.WithMetadata("target", key))
	}
	pool, err := ledger.CheckedAdd(b.pool[key], amount)
	if err != nil {
		return err
	}
	b.balances[key][from] = remaining
	b.pool[key] = pool
	return nil
}

// Pay 实现 Bank 接口。整批校验通过后才落账，保证不会产生部分支付。
func (b *MemoryBank) Pay(_ context.Context, target TransferTarget, payouts []Payout) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := target.String()
	var total uint64
	for _, payout := range payouts {
		if payout.Amount == 0 {
			continue
		}
		to := identity.Normalize(payout.To)
		if to.IsZero() {
			return xerrors.New(xerrors.CodeInvalidArgument, "收款地址不能为空")
		}
		if b.rejecting[to] {
			return xerrors.New(xerrors.CodeTransferFailure, "收款方拒绝入账",
				xerrors.WithMetadata("address", string(to)),
				xerrors.WithMetadata("target", key))
		}
		sum, err := ledger.CheckedAdd(total, payout.Amount)
		if err != nil {
			return err
		}
		total = sum
	}
	remaining, err := ledger.CheckedSub(b.pool[key], total)
	if err != nil {
		return xerrors.New(xerrors.CodeTransferFailure, "托管账户余额不足以完成整批支付",
			xerrors.WithMetadata("target", key))
	}

	b.pool[key] = remaining
	for _, payout := range payouts {
		if payout.Amount == 0 {
			continue
		}
		b.credit(target, identity.Normalize(payout.To), payout.Amount)
	}
	return nil
}

// BalanceOf 返回账户余额，供测试与查询使用。
func (b *MemoryBank) BalanceOf(target TransferTarget, addr identity.Address) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[target.String()][identity.Normalize(addr)]
}

// PoolBalance 返回引擎托管账户的余额。
func (b *MemoryBank) PoolBalance(target TransferTarget) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pool[target.String()]
}

// TotalSupply 返回某一目标下的全部价值，含托管账户，用于守恒校验。
func (b *MemoryBank) TotalSupply(target TransferTarget) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := target.String()
	total := b.pool[key]
	for _, balance := range b.balances[key] {
		total += balance
	}
	return total
}

var _ Bank = (*MemoryBank)(nil)
