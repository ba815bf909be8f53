package split

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"AgentPay-Chain/internal/admin"
	"AgentPay-Chain/internal/bank"
	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/events"
	"AgentPay-Chain/internal/identity"
	"AgentPay-Chain/internal/ledger"
	"AgentPay-Chain/internal/observability/alerting"

	"github.com/google/uuid"
)

// CreateSplitRequest 描述一份分账协议的创建参数。
type CreateSplitRequest struct {
	CreatorAgent uint64
	Participants []uint64
	SharesBps    []uint32
}

// DepositRequest 描述一笔针对协议的入账。
type DepositRequest struct {
	SplitID       string
	Amount        uint64
	SuppliedValue uint64
	Target        bank.TransferTarget
	TaskRef       string
}

// Service 实现分账协议的登记与存款分发。
// 同一存款上的分发通过按编号的互斥锁串行化。
type Service struct {
	store     Store
	directory identity.Directory
	bank      bank.Bank
	settings  *admin.Settings
	publisher events.Publisher
	alerts    alerting.Dispatcher

	now func() int64

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option 调整 Service 的可选行为。
type Option func(*Service)

// WithClock 注入时间源，测试用。
func WithClock(now func() int64) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAlerts 注入告警分发器。
func WithAlerts(dispatcher alerting.Dispatcher) Option {
	return func(s *Service) {
		s.alerts = dispatcher
	}
}

// NewService 构造分账服务。
func NewService(store Store, directory identity.Directory, moneybank bank.Bank,
	settings *admin.Settings, publisher events.Publisher, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "store 不能为空")
	}
	if directory == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "identity directory 不能为空")
	}
	if moneybank == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "bank 不能为空")
	}
	if settings == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "settings 不能为空")
	}
	svc := &Service{
		store:     store,
		directory: directory,
		bank:      moneybank,
		settings:  settings,
		publisher: publisher,
		now:       func() int64 { return time.Now().Unix() },
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *Service) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

func (s *Service) emit(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	_ = s.publisher.Publish(ctx, event)
}

func (s *Service) alert(ctx context.Context, operation, recordID string, err error) {
	if s.alerts == nil {
		return
	}
	_ = s.alerts.Notify(ctx, alerting.FromError(operation, recordID, err))
}

// validateShares 校验协议结构：参与方数量、去重、份额为正且总和恰为
// 10000 bps、创建者在参与方之列。
func validateShares(req CreateSplitRequest) error {
	if len(req.Participants) < MinParticipants || len(req.Participants) > MaxParticipants {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("参与方数量必须在 %d 到 %d 之间", MinParticipants, MaxParticipants))
	}
	if len(req.Participants) != len(req.SharesBps) {
		return xerrors.New(xerrors.CodeInvalidArgument, "参与方与份额数组长度必须一致")
	}
	seen := make(map[uint64]bool, len(req.Participants))
	creatorPresent := false
	var total uint64
	for i, agentID := range req.Participants {
		if seen[agentID] {
			return xerrors.New(xerrors.CodeInvalidArgument, "参与方不允许重复",
				xerrors.WithMetadata("agent_id", strconv.FormatUint(agentID, 10)))
		}
		seen[agentID] = true
		if agentID == req.CreatorAgent {
			creatorPresent = true
		}
		if req.SharesBps[i] == 0 {
			return xerrors.New(xerrors.CodeInvalidArgument, "每个份额必须大于零")
		}
		total += uint64(req.SharesBps[i])
	}
	if !creatorPresent {
		return xerrors.New(xerrors.CodeInvalidArgument, "创建者必须是参与方之一")
	}
	if total != ledger.BpsDenominator {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("份额总和必须恰为 %d bps, 实际 %d", ledger.BpsDenominator, total))
	}
	return nil
}

// CreateSplit 登记一份分账协议。
func (s *Service) CreateSplit(ctx context.Context, caller identity.Address, req CreateSplitRequest) (*Agreement, error) {
	if err := s.settings.CheckNotPaused(); err != nil {
		return nil, err
	}
	if err := validateShares(req); err != nil {
		return nil, err
	}

	creatorOwner, err := s.directory.OwnerOf(ctx, req.CreatorAgent)
	if err != nil {
		return nil, err
	}
	if identity.Normalize(caller) != identity.Normalize(creatorOwner) {
		return nil, xerrors.New(xerrors.CodeUnauthorized, "仅创建者归属地址可登记协议",
			xerrors.WithMetadata("caller", string(caller)))
	}
	for _, agentID := range req.Participants {
		exists, err := s.directory.Exists(ctx, agentID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, identity.NotFound(agentID)
		}
	}

	agreement := &Agreement{
		ID:           uuid.NewString(),
		CreatorAgent: req.CreatorAgent,
		Participants: append([]uint64(nil), req.Participants...),
		SharesBps:    append([]uint32(nil), req.SharesBps...),
		IsActive:     true,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateAgreement(ctx, agreement); err != nil {
		return nil, err
	}

	event := events.New(events.TypeSplitCreated)
	event.SplitID = agreement.ID
	event.Actor = string(identity.Normalize(caller))
	event.Details = map[string]string{
		"creator_agent": strconv.FormatUint(req.CreatorAgent, 10),
		"participants":  strconv.Itoa(len(req.Participants)),
	}
	s.emit(ctx, event)
	return agreement.Clone(), nil
}

// DeactivateSplit 停用协议，单向且不可逆。
func (s *Service) DeactivateSplit(ctx context.Context, caller identity.Address, id string) error {
	if err := s.settings.CheckNotPaused(); err != nil {
		return err
	}
	agreement, err := s.store.GetAgreement(ctx, id)
	if err != nil {
		return err
	}
	creatorOwner, err := s.directory.OwnerOf(ctx, agreement.CreatorAgent)
	if err != nil {
		return err
	}
	if identity.Normalize(caller) != identity.Normalize(creatorOwner) {
		return xerrors.New(xerrors.CodeUnauthorized, "仅创建者归属地址可停用协议",
			xerrors.WithMetadata("caller", string(caller)))
	}
	if err := s.store.Deactivate(ctx, id); err != nil {
		return err
	}

	event := events.New(events.TypeSplitDeactivated)
	event.SplitID = id
	event.Actor = string(identity.Normalize(caller))
	s.emit(ctx, event)
	return nil
}

// PayToSplit 接收一笔针对激活协议的入账。任何地址都可作为付款方。
func (s *Service) PayToSplit(ctx context.Context, payer identity.Address, req DepositRequest) (*Deposit, error) {
	if err := s.settings.CheckNotPaused(); err != nil {
		return nil, err
	}
	if req.Amount == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "入账金额必须大于零")
	}
	if req.SuppliedValue != req.Amount {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "注入价值必须与入账金额完全一致",
			xerrors.WithMetadata("amount", strconv.FormatUint(req.Amount, 10)),
			xerrors.WithMetadata("supplied", strconv.FormatUint(req.SuppliedValue, 10)))
	}

	agreement, err := s.store.GetAgreement(ctx, req.SplitID)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeNotFound {
			// 向不存在的协议入账按状态错误报告。
			return nil, xerrors.Wrap(xerrors.CodeInvalidState, err, "分账协议不可用")
		}
		return nil, err
	}
	if !agreement.IsActive {
		return nil, ErrSplitInactive
	}

	deposit := &Deposit{
		ID:        uuid.NewString(),
		SplitID:   req.SplitID,
		Amount:    req.Amount,
		Target:    req.Target,
		TargetRaw: req.Target.String(),
		Payer:     identity.Normalize(payer),
		TaskRef:   req.TaskRef,
		CreatedAt: s.now(),
	}

	if err := s.bank.Lock(ctx, req.Target, deposit.Payer, req.Amount); err != nil {
		s.alert(ctx, "split.deposit", deposit.ID, err)
		return nil, err
	}
	if err := s.store.CreateDeposit(ctx, deposit); err != nil {
		return nil, err
	}

	event := events.New(events.TypeDepositReceived)
	event.SplitID = req.SplitID
	event.DepositID = deposit.ID
	event.Actor = string(deposit.Payer)
	event.Amount = req.Amount
	s.emit(ctx, event)
	return deposit.Clone(), nil
}

// DistributeSplit 将一笔存款按协议份额分发。分发是不可分割的整体：
// 任一出账无法完成时整批回退，存款保持未分发，调用方可重试。
// 取整残差保留在托管池中，不分配给任何参与方。
func (s *Service) DistributeSplit(ctx context.Context, caller identity.Address, depositID string) (*Deposit, error) {
	if err := s.settings.CheckNotPaused(); err != nil {
		return nil, err
	}
	lock := s.lockFor(depositID)
	lock.Lock()
	defer lock.Unlock()

	deposit, err := s.store.GetDeposit(ctx, depositID)
	if err != nil {
		return nil, err
	}
	if deposit.Distributed {
		return nil, ErrAlreadyDistributed
	}

	// 协议停用不阻止已入账存款的分发。
	agreement, err := s.store.GetAgreement(ctx, deposit.SplitID)
	if err != nil {
		return nil, err
	}

	fee := s.settings.FeeSnapshot()
	feeAmount, net, err := ledger.SplitAmount(deposit.Amount, fee.ProtocolFeeBps)
	if err != nil {
		return nil, err
	}

	payouts := make([]bank.Payout, 0, len(agreement.Participants)+1)
	if feeAmount > 0 {
		payouts = append(payouts, bank.Payout{To: fee.Treasury, Amount: feeAmount})
	}
	var distributed uint64
	for i, agentID := range agreement.Participants {
		owner, err := s.directory.OwnerOf(ctx, agentID)
		if err != nil {
			return nil, err
		}
		share, err := ledger.ProportionalShare(net, agreement.SharesBps[i])
		if err != nil {
			return nil, err
		}
		if share == 0 {
			continue
		}
		distributed, err = ledger.CheckedAdd(distributed, share)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, bank.Payout{To: owner, Amount: share})
	}

	if err := s.bank.Pay(ctx, deposit.Target, payouts); err != nil {
		s.alert(ctx, "split.distribute", depositID, err)
		return nil, err
	}

	distributedAt := s.now()
	if err := s.store.MarkDistributed(ctx, depositID, distributedAt); err != nil {
		return nil, err
	}

	event := events.New(events.TypeDepositDistributed)
	event.SplitID = deposit.SplitID
	event.DepositID = depositID
	event.Actor = string(identity.Normalize(caller))
	event.Amount = distributed
	event.Fee = feeAmount
	event.Details = map[string]string{
		"residual": strconv.FormatUint(net-distributed, 10),
	}
	s.emit(ctx, event)

	deposit.Distributed = true
	deposit.DistributedAt = distributedAt
	return deposit.Clone(), nil
}

// GetSplit 查询指定协议。
func (s *Service) GetSplit(ctx context.Context, id string) (*Agreement, error) {
	return s.store.GetAgreement(ctx, id)
}

// SplitParticipants 返回协议的参与方与份额。
func (s *Service) SplitParticipants(ctx context.Context, id string) ([]uint64, []uint32, error) {
	agreement, err := s.store.GetAgreement(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return agreement.Participants, agreement.SharesBps, nil
}

// AgentSplits 返回智能体参与的全部协议。
func (s *Service) AgentSplits(ctx context.Context, agentID uint64) ([]*Agreement, error) {
	return s.store.ListAgreementsByAgent(ctx, agentID)
}

// GetSplitPayment 查询指定存款。
func (s *Service) GetSplitPayment(ctx context.Context, depositID string) (*Deposit, error) {
	return s.store.GetDeposit(ctx, depositID)
}

// SplitDeposits 返回协议名下的全部存款。
func (s *Service) SplitDeposits(ctx context.Context, splitID string) ([]*Deposit, error) {
	return s.store.ListDepositsBySplit(ctx, splitID)
}
