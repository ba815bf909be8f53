package split

import (
	"context"
	"testing"

	"AgentPay-Chain/internal/admin"
	"AgentPay-Chain/internal/bank"
	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/events"
	"AgentPay-Chain/internal/identity"
)

const (
	ownerOne   = identity.Address("0x01")
	ownerTwo   = identity.Address("0x02")
	ownerThree = identity.Address("0x03")
	ownerAdmin = identity.Address("0xad")
	ownerVault = identity.Address("0xfee")
	payerAddr  = identity.Address("0xpay")
)

type fixture struct {
	svc      *Service
	bank     *bank.MemoryBank
	bus      *events.MemoryBus
	settings *admin.Settings
	nowUnix  int64
}

func newFixture(t *testing.T, feeBps uint32) *fixture {
	t.Helper()

	directory := identity.NewMemoryDirectory()
	directory.Register(1, ownerOne)
	directory.Register(2, ownerTwo)
	directory.Register(3, ownerThree)

	moneybank := bank.NewMemoryBank()
	moneybank.Mint(bank.Native(), payerAddr, 100_000_000)

	bus := events.NewMemoryBus(64)
	settings, err := admin.NewSettings(admin.Config{
		Admin:          ownerAdmin,
		ProtocolFeeBps: feeBps,
		Treasury:       ownerVault,
	}, bus)
	if err != nil {
		t.Fatalf("NewSettings: %v", err)
	}

	f := &fixture{bank: moneybank, bus: bus, settings: settings, nowUnix: 1_700_000_000}
	svc, err := NewService(NewMemoryStore(), directory, moneybank, settings, bus,
		WithClock(func() int64 { return f.nowUnix }))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) createSplit(t *testing.T) *Agreement {
	t.Helper()
	agreement, err := f.svc.CreateSplit(context.Background(), ownerOne, CreateSplitRequest{
		CreatorAgent: 1,
		Participants: []uint64{1, 2, 3},
		SharesBps:    []uint32{5000, 3000, 2000},
	})
	if err != nil {
		t.Fatalf("CreateSplit: %v", err)
	}
	return agreement
}

func (f *fixture) deposit(t *testing.T, splitID string, amount uint64) *Deposit {
	t.Helper()
	deposit, err := f.svc.PayToSplit(context.Background(), payerAddr, DepositRequest{
		SplitID:       splitID,
		Amount:        amount,
		SuppliedValue: amount,
		Target:        bank.Native(),
	})
	if err != nil {
		t.Fatalf("PayToSplit: %v", err)
	}
	return deposit
}

// 份额总和必须恰为 10000 bps，任何偏差都不允许建立协议。
func TestCreateSplitValidation(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateSplitRequest
	}{
		{
			name: "sum below 10000",
			req: CreateSplitRequest{CreatorAgent: 1,
				Participants: []uint64{1, 2}, SharesBps: []uint32{5000, 4999}},
		},
		{
			name: "sum above 10000",
			req: CreateSplitRequest{CreatorAgent: 1,
				Participants: []uint64{1, 2}, SharesBps: []uint32{5000, 5001}},
		},
		{
			name: "too few participants",
			req: CreateSplitRequest{CreatorAgent: 1,
				Participants: []uint64{1}, SharesBps: []uint32{10000}},
		},
		{
			name: "length mismatch",
			req: CreateSplitRequest{CreatorAgent: 1,
				Participants: []uint64{1, 2}, SharesBps: []uint32{10000}},
		},
		{
			name: "duplicate participant",
			req: CreateSplitRequest{CreatorAgent: 1,
				Participants: []uint64{1, 1}, SharesBps: []uint32{5000, 5000}},
		},
		{
			name: "zero share",
			req: CreateSplitRequest{CreatorAgent: 1,
				Participants: []uint64{1, 2}, SharesBps: []uint32{10000, 0}},
		},
		{
			name: "creator not a participant",
			req: CreateSplitRequest{CreatorAgent: 1,
				Participants: []uint64{2, 3}, SharesBps: []uint32{5000, 5000}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.CreateSplit(ctx, ownerOne, tc.req); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
				t.Fatalf("期望 INVALID_ARGUMENT, 实际 %v", err)
			}
		})
	}

	if _, err := f.svc.CreateSplit(ctx, ownerTwo, CreateSplitRequest{
		CreatorAgent: 1, Participants: []uint64{1, 2}, SharesBps: []uint32{5000, 5000},
	}); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("非归属地址登记协议应返回 UNAUTHORIZED, 实际 %v", err)
	}
}

// 规格场景：10,000,000 按 50 bps 分给 [5000,3000,2000]，整除无残差。
func TestDistributeSplitExactShares(t *testing.T) {
	f := newFixture(t, 50)
	agreement := f.createSplit(t)
	deposit := f.deposit(t, agreement.ID, 10_000_000)

	distributed, err := f.svc.DistributeSplit(context.Background(), payerAddr, deposit.ID)
	if err != nil {
		t.Fatalf("DistributeSplit: %v", err)
	}
	if !distributed.Distributed || distributed.DistributedAt == 0 {
		t.Fatalf("分发后记录异常: %+v", distributed)
	}

	native := bank.Native()
	if got := f.bank.BalanceOf(native, ownerVault); got != 50_000 {
		t.Fatalf("金库应到账 50000, 实际 %d", got)
	}
	if got := f.bank.BalanceOf(native, ownerOne); got != 4_975_000 {
		t.Fatalf("参与方 1 应到账 4975000, 实际 %d", got)
	}
	if got := f.bank.BalanceOf(native, ownerTwo); got != 2_985_000 {
		t.Fatalf("参与方 2 应到账 2985000, 实际 %d", got)
	}
	if got := f.bank.BalanceOf(native, ownerThree); got != 1_990_000 {
		t.Fatalf("参与方 3 应到账 1990000, 实际 %d", got)
	}
	if got := f.bank.PoolBalance(native); got != 0 {
		t.Fatalf("整除场景不应留下残差, 托管池余额 %d", got)
	}
}

// 非整除场景：费 + 份额 + 残差 == 全额，残差保留在托管池中，
// 不分配给任何参与方也不丢失。
func TestDistributeSplitResidualRetained(t *testing.T) {
	f := newFixture(t, 0)
	agreement := f.createSplit(t)
	deposit := f.deposit(t, agreement.ID, 9_950_001)

	if _, err := f.svc.DistributeSplit(context.Background(), payerAddr, deposit.ID); err != nil {
		t.Fatalf("DistributeSplit: %v", err)
	}

	native := bank.Native()
	total := f.bank.BalanceOf(native, ownerOne) +
		f.bank.BalanceOf(native, ownerTwo) +
		f.bank.BalanceOf(native, ownerThree)
	if total != 9_950_000 {
		t.Fatalf("取整份额之和应为 net-1 = 9950000, 实际 %d", total)
	}
	if got := f.bank.PoolBalance(native); got != 1 {
		t.Fatalf("残差 1 应保留在托管池, 实际 %d", got)
	}
	if got := f.bank.TotalSupply(native); got != 100_000_000 {
		t.Fatalf("分发前后总量必须守恒, 实际 %d", got)
	}
}

// 幂等安全：第二次分发返回 ALREADY_DISTRIBUTED 且不改变任何余额。
func TestDistributeSplitIdempotent(t *testing.T) {
	f := newFixture(t, 50)
	agreement := f.createSplit(t)
	deposit := f.deposit(t, agreement.ID, 10_000_000)
	ctx := context.Background()

	if _, err := f.svc.DistributeSplit(ctx, payerAddr, deposit.ID); err != nil {
		t.Fatalf("首次分发失败: %v", err)
	}
	native := bank.Native()
	before := [4]uint64{
		f.bank.BalanceOf(native, ownerOne),
		f.bank.BalanceOf(native, ownerTwo),
		f.bank.BalanceOf(native, ownerThree),
		f.bank.BalanceOf(native, ownerVault),
	}

	if _, err := f.svc.DistributeSplit(ctx, payerAddr, deposit.ID); xerrors.CodeOf(err) != xerrors.CodeAlreadyDistributed {
		t.Fatalf("二次分发应返回 ALREADY_DISTRIBUTED, 实际 %v", err)
	}

	after := [4]uint64{
		f.bank.BalanceOf(native, ownerOne),
		f.bank.BalanceOf(native, ownerTwo),
		f.bank.BalanceOf(native, ownerThree),
		f.bank.BalanceOf(native, ownerVault),
	}
	if before != after {
		t.Fatalf("失败的二次分发不应改变余额: %v -> %v", before, after)
	}

	if _, err := f.svc.DistributeSplit(ctx, payerAddr, "missing"); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("不存在的存款应返回 NOT_FOUND, 实际 %v", err)
	}
}

// 任一出账失败时整批回退，存款保持未分发，恢复后可重试。
func TestDistributeSplitTransferFailureRollsBack(t *testing.T) {
	f := newFixture(t, 50)
	agreement := f.createSplit(t)
	deposit := f.deposit(t, agreement.ID, 10_000_000)
	ctx := context.Background()

	f.bank.SetRejecting(ownerTwo, true)
	if _, err := f.svc.DistributeSplit(ctx, payerAddr, deposit.ID); xerrors.CodeOf(err) != xerrors.CodeTransferFailure {
		t.Fatalf("拒收时分发应返回 TRANSFER_FAILURE, 实际 %v", err)
	}

	native := bank.Native()
	if got := f.bank.BalanceOf(native, ownerOne); got != 0 {
		t.Fatalf("失败的分发不应保留部分出账, 参与方 1 余额 %d", got)
	}
	if got := f.bank.PoolBalance(native); got != 10_000_000 {
		t.Fatalf("失败的分发不应扣减托管池, 实际 %d", got)
	}
	stored, err := f.svc.GetSplitPayment(ctx, deposit.ID)
	if err != nil {
		t.Fatalf("GetSplitPayment: %v", err)
	}
	if stored.Distributed {
		t.Fatal("失败的分发不应标记存款为已分发")
	}

	f.bank.SetRejecting(ownerTwo, false)
	if _, err := f.svc.DistributeSplit(ctx, payerAddr, deposit.ID); err != nil {
		t.Fatalf("恢复后重试分发失败: %v", err)
	}
}

// 停用是单向的；停用阻止新入账但不阻止已入账存款的分发。
func TestDeactivateSplit(t *testing.T) {
	f := newFixture(t, 50)
	agreement := f.createSplit(t)
	deposit := f.deposit(t, agreement.ID, 1_000_000)
	ctx := context.Background()

	if err := f.svc.DeactivateSplit(ctx, ownerTwo, agreement.ID); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("非创建者停用应返回 UNAUTHORIZED, 实际 %v", err)
	}
	if err := f.svc.DeactivateSplit(ctx, ownerOne, agreement.ID); err != nil {
		t.Fatalf("DeactivateSplit: %v", err)
	}
	if err := f.svc.DeactivateSplit(ctx, ownerOne, agreement.ID); xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("二次停用应返回 INVALID_STATE, 实际 %v", err)
	}

	if _, err := f.svc.PayToSplit(ctx, payerAddr, DepositRequest{
		SplitID: agreement.ID, Amount: 100, SuppliedValue: 100, Target: bank.Native(),
	}); xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("向停用协议入账应返回 INVALID_STATE, 实际 %v", err)
	}

	if _, err := f.svc.DistributeSplit(ctx, payerAddr, deposit.ID); err != nil {
		t.Fatalf("停用不应阻止已入账存款的分发: %v", err)
	}
}

func TestPayToSplitValidation(t *testing.T) {
	f := newFixture(t, 50)
	agreement := f.createSplit(t)
	ctx := context.Background()

	if _, err := f.svc.PayToSplit(ctx, payerAddr, DepositRequest{
		SplitID: agreement.ID, Amount: 0, SuppliedValue: 0, Target: bank.Native(),
	}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("零额入账应返回 INVALID_ARGUMENT, 实际 %v", err)
	}
	if _, err := f.svc.PayToSplit(ctx, payerAddr, DepositRequest{
		SplitID: agreement.ID, Amount: 100, SuppliedValue: 99, Target: bank.Native(),
	}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("价值不匹配应返回 INVALID_ARGUMENT, 实际 %v", err)
	}
	if _, err := f.svc.PayToSplit(ctx, payerAddr, DepositRequest{
		SplitID: "missing", Amount: 100, SuppliedValue: 100, Target: bank.Native(),
	}); xerrors.CodeOf(err) != xerrors.CodeInvalidState {
		t.Fatalf("向不存在协议入账应返回 INVALID_STATE, 实际 %v", err)
	}
}

// 分发按结算时刻的费率计费，协议创建时的费率无关。
func TestDistributeUsesCurrentFeeRate(t *testing.T) {
	f := newFixture(t, 50)
	agreement := f.createSplit(t)
	deposit := f.deposit(t, agreement.ID, 10_000_000)
	ctx := context.Background()

	if err := f.settings.SetProtocolFee(ctx, ownerAdmin, 100); err != nil {
		t.Fatalf("SetProtocolFee: %v", err)
	}
	if _, err := f.svc.DistributeSplit(ctx, payerAddr, deposit.ID); err != nil {
		t.Fatalf("DistributeSplit: %v", err)
	}
	if got := f.bank.BalanceOf(bank.Native(), ownerVault); got != 100_000 {
		t.Fatalf("金库应按 100 bps 到账 100000, 实际 %d", got)
	}
}

func TestAgentSplitsAndQueries(t *testing.T) {
	f := newFixture(t, 50)
	agreement := f.createSplit(t)
	ctx := context.Background()

	participants, shares, err := f.svc.SplitParticipants(ctx, agreement.ID)
	if err != nil {
		t.Fatalf("SplitParticipants: %v", err)
	}
	if len(participants) != 3 || shares[0] != 5000 {
		t.Fatalf("参与方查询异常: %v %v", participants, shares)
	}

	agreements, err := f.svc.AgentSplits(ctx, 2)
	if err != nil {
		t.Fatalf("AgentSplits: %v", err)
	}
	if len(agreements) != 1 || agreements[0].ID != agreement.ID {
		t.Fatalf("智能体协议列表异常: %+v", agreements)
	}
}

func TestPausedBlocksSplitMutations(t *testing.T) {
	f := newFixture(t, 50)
	agreement := f.createSplit(t)
	deposit := f.deposit(t, agreement.ID, 1_000)
	ctx := context.Background()

	if err := f.settings.Pause(ctx, ownerAdmin); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := f.svc.PayToSplit(ctx, payerAddr, DepositRequest{
		SplitID: agreement.ID, Amount: 100, SuppliedValue: 100, Target: bank.Native(),
	}); xerrors.CodeOf(err) != xerrors.CodePaused {
		t.Fatalf("熔断时入账应返回 PAUSED, 实际 %v", err)
	}
	if _, err := f.svc.DistributeSplit(ctx, payerAddr, deposit.ID); xerrors.CodeOf(err) != xerrors.CodePaused {
		t.Fatalf("熔断时分发应返回 PAUSED, 实际 %v", err)
	}
	if _, err := f.svc.GetSplit(ctx, agreement.ID); err != nil {
		t.Fatalf("熔断时查询失败: %v", err)
	}
}
