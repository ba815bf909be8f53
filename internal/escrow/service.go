package escrow

import (
	"context"
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

// RefundWindow 是退款窗口时长，按墙钟时间懒检查，不依赖定时器。
const RefundWindow = 7 * 24 * time.Hour

// CreateRequest 描述一次托管支付的创建参数。
type CreateRequest struct {
	FromAgent          uint64
	ToAgent            uint64
	Amount             uint64
	SuppliedValue      uint64
	Target             bank.TransferTarget
	TaskRef            string
	RequiresValidation bool
}

// Service 实现两方托管支付的完整生命周期。
// 同一支付上的变更操作通过按编号的互斥锁串行化，不同支付互不阻塞。
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

// WithAlerts 注入告警分发器，转账失败时通知运维。
func WithAlerts(dispatcher alerting.Dispatcher) Option {
	return func(s *Service) {
		s.alerts = dispatcher
	}
}

// NewService 构造托管支付服务。
func NewService(store Store, directory identity.Directory, treasury bank.Bank,
	settings *admin.Settings, publisher events.Publisher, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "store 不能为空")
	}
	if directory == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "identity directory 不能为空")
	}
	if treasury == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "bank 不能为空")
	}
	if settings == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "settings 不能为空")
	}
	svc := &Service{
		store:     store,
		directory: directory,
		bank:      treasury,
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

// lockFor 返回支付编号对应的互斥锁。锁不回收，支付总量受业务规模约束。
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

func (s *Service) alert(ctx context.Context, operation, paymentID string, err error) {
	if s.alerts == nil {
		return
	}
	_ = s.alerts.Notify(ctx, alerting.FromError(operation, paymentID, err))
}

// CreatePayment 创建一笔托管支付并锁定对应价值。
func (s *Service) CreatePayment(ctx context.Context, caller identity.Address, req CreateRequest) (*Payment, error) {
	if err := s.settings.CheckNotPaused(); err != nil {
		return nil, err
	}
	if req.FromAgent == req.ToAgent {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不允许向自身支付",
			xerrors.WithMetadata("agent_id", strconv.FormatUint(req.FromAgent, 10)))
	}
	if req.Amount == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "支付金额必须大于零")
	}
	if req.SuppliedValue != req.Amount {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "注入价值必须与支付金额完全一致",
			xerrors.WithMetadata("amount", strconv.FormatUint(req.Amount, 10)),
			xerrors.WithMetadata("supplied", strconv.FormatUint(req.SuppliedValue, 10)))
	}

	fromOwner, err := s.directory.OwnerOf(ctx, req.FromAgent)
	if err != nil {
		return nil, err
	}
	if identity.Normalize(caller) != identity.Normalize(fromOwner) {
		return nil, xerrors.New(xerrors.CodeUnauthorized, "仅付款方归属地址可创建支付",
			xerrors.WithMetadata("caller", string(caller)))
	}
	exists, err := s.directory.Exists(ctx, req.ToAgent)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, identity.NotFound(req.ToAgent)
	}

	payment := &Payment{
		ID:                 uuid.NewString(),
		FromAgent:          req.FromAgent,
		ToAgent:            req.ToAgent,
		Amount:             req.Amount,
		Target:             req.Target,
		TargetRaw:          req.Target.String(),
		TaskRef:            req.TaskRef,
		RequiresValidation: req.RequiresValidation,
		Status:             StatusEscrowed,
		CreatedAt:          s.now(),
	}

	// 先锁定价值再落库：转账失败时不产生任何记录。
	if err := s.bank.Lock(ctx, req.Target, fromOwner, req.Amount); err != nil {
		s.alert(ctx, "escrow.create", payment.ID, err)
		return nil, err
	}
	if err := s.store.Create(ctx, payment); err != nil {
		return nil, err
	}
	if err := s.store.AddEarnings(ctx, req.FromAgent, 0, req.Amount); err != nil {
		return nil, err
	}

	event := events.New(events.TypePaymentCreated)
	event.PaymentID = payment.ID
	event.Actor = string(identity.Normalize(caller))
	event.Amount = payment.Amount
	event.Details = map[string]string{
		"from_agent": strconv.FormatUint(payment.FromAgent, 10),
		"to_agent":   strconv.FormatUint(payment.ToAgent, 10),
		"target":     payment.TargetRaw,
	}
	s.emit(ctx, event)
	return payment.Clone(), nil
}

// authorizeRelease 校验放款调用方：付款方归属地址或运维白名单；
// 要求校验的支付只允许运维放款。
func (s *Service) authorizeRelease(ctx context.Context, caller identity.Address, payment *Payment) error {
	if s.settings.IsOperator(caller) {
		return nil
	}
	if payment.RequiresValidation {
		return xerrors.New(xerrors.CodeUnauthorized, "该支付要求由运维校验后放款",
			xerrors.WithMetadata("caller", string(caller)))
	}
	fromOwner, err := s.directory.OwnerOf(ctx, payment.FromAgent)
	if err != nil {
		return err
	}
	if identity.Normalize(caller) != identity.Normalize(fromOwner) {
		return xerrors.New(xerrors.CodeUnauthorized, "仅付款方归属地址或运维可放款",
			xerrors.WithMetadata("caller", string(caller)))
	}
	return nil
}

// ReleasePayment 按当前费率放款给收款方，协议费划入金库。
func (s *Service) ReleasePayment(ctx context.Context, caller identity.Address, id string) (*Payment, error) {
	if err := s.settings.CheckNotPaused(); err != nil {
		return nil, err
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	payment, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != StatusEscrowed {
		return nil, ErrNotEscrowed
	}
	if err := s.authorizeRelease(ctx, caller, payment); err != nil {
		return nil, err
	}

	toOwner, err := s.directory.OwnerOf(ctx, payment.ToAgent)
	if err != nil {
		return nil, err
	}

	// 费率在结算时刻读取一次。
	fee := s.settings.FeeSnapshot()
	feeAmount, net, err := ledger.SplitAmount(payment.Amount, fee.ProtocolFeeBps)
	if err != nil {
		return nil, err
	}

	payouts := []bank.Payout{{To: toOwner, Amount: net}}
	if feeAmount > 0 {
		payouts = append(payouts, bank.Payout{To: fee.Treasury, Amount: feeAmount})
	}
	if err := s.bank.Pay(ctx, payment.Target, payouts); err != nil {
		// 出账失败时记录保持 escrowed，调用方可重试。
		s.alert(ctx, "escrow.release", id, err)
		return nil, err
	}

	resolvedAt := s.now()
	if err := s.store.Resolve(ctx, id, StatusReleased, resolvedAt); err != nil {
		return nil, err
	}
	if err := s.store.AddEarnings(ctx, payment.ToAgent, net, 0); err != nil {
		return nil, err
	}

	event := events.New(events.TypePaymentReleased)
	event.PaymentID = id
	event.Actor = string(identity.Normalize(caller))
	event.Amount = net
	event.Fee = feeAmount
	event.Details = map[string]string{
		"to_owner": string(toOwner),
		"fee_bps":  strconv.FormatUint(uint64(fee.ProtocolFeeBps), 10),
	}
	s.emit(ctx, event)

	payment.Status = StatusReleased
	payment.ResolvedAt = resolvedAt
	return payment.Clone(), nil
}

// RefundPayment 在退款窗口过后全额退回付款方，不收取协议费。
func (s *Service) RefundPayment(ctx context.Context, caller identity.Address, id string) (*Payment, error) {
	if err := s.settings.CheckNotPaused(); err != nil {
		return nil, err
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	payment, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != StatusEscrowed {
		return nil, ErrNotEscrowed
	}

	fromOwner, err := s.directory.OwnerOf(ctx, payment.FromAgent)
	if err != nil {
		return nil, err
	}
	if identity.Normalize(caller) != identity.Normalize(fromOwner) && !s.settings.IsOperator(caller) {
		return nil, xerrors.New(xerrors.CodeUnauthorized, "仅付款方归属地址或运维可发起退款",
			xerrors.WithMetadata("caller", string(caller)))
	}

	deadline := payment.CreatedAt + int64(RefundWindow/time.Second)
	if now := s.now(); now < deadline {
		return nil, xerrors.New(xerrors.CodeTooEarly, "退款窗口尚未到期",
			xerrors.WithMetadata("deadline", strconv.FormatInt(deadline, 10)),
			xerrors.WithMetadata("now", strconv.FormatInt(now, 10)))
	}

	if err := s.bank.Pay(ctx, payment.Target, []bank.Payout{{To: fromOwner, Amount: payment.Amount}}); err != nil {
		s.alert(ctx, "escrow.refund", id, err)
		return nil, err
	}

	resolvedAt := s.now()
	if err := s.store.Resolve(ctx, id, StatusRefunded, resolvedAt); err != nil {
		return nil, err
	}

	event := events.New(events.TypePaymentRefunded)
	event.PaymentID = id
	event.Actor = string(identity.Normalize(caller))
	event.Amount = payment.Amount
	s.emit(ctx, event)

	payment.Status = StatusRefunded
	payment.ResolvedAt = resolvedAt
	return payment.Clone(), nil
}

// CancelPayment 记录取消意向；双方意向齐备时全额退回付款方。
// 单方表态不改变状态，仅在记录上留下意向标记。
func (s *Service) CancelPayment(ctx context.Context, caller identity.Address, id string) (*Payment, error) {
	if err := s.settings.CheckNotPaused(); err != nil {
		return nil, err
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	payment, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != StatusEscrowed {
		return nil, ErrNotEscrowed
	}

	fromOwner, err := s.directory.OwnerOf(ctx, payment.FromAgent)
	if err != nil {
		return nil, err
	}
	toOwner, err := s.directory.OwnerOf(ctx, payment.ToAgent)
	if err != nil {
		return nil, err
	}

	var party ConsentParty
	switch identity.Normalize(caller) {
	case identity.Normalize(fromOwner):
		party = ConsentFrom
	case identity.Normalize(toOwner):
		party = ConsentTo
	default:
		return nil, xerrors.New(xerrors.CodeUnauthorized, "仅支付参与方可发起取消",
			xerrors.WithMetadata("caller", string(caller)))
	}

	payment, err = s.store.SetCancelConsent(ctx, id, party)
	if err != nil {
		return nil, err
	}
	if !payment.CancelRequestedByFrom || !payment.CancelRequestedByTo {
		return payment.Clone(), nil
	}

	if err := s.bank.Pay(ctx, payment.Target, []bank.Payout{{To: fromOwner, Amount: payment.Amount}}); err != nil {
		s.alert(ctx, "escrow.cancel", id, err)
		return nil, err
	}

	resolvedAt := s.now()
	if err := s.store.Resolve(ctx, id, StatusCancelled, resolvedAt); err != nil {
		return nil, err
	}

	event := events.New(events.TypePaymentCancelled)
	event.PaymentID = id
	event.Actor = string(identity.Normalize(caller))
	event.Amount = payment.Amount
	s.emit(ctx, event)

	payment.Status = StatusCancelled
	payment.ResolvedAt = resolvedAt
	return payment.Clone(), nil
}

// GetPayment 查询指定支付。
func (s *Service) GetPayment(ctx context.Context, id string) (*Payment, error) {
	return s.store.Get(ctx, id)
}

// AgentPayments 返回智能体参与的全部支付。
func (s *Service) AgentPayments(ctx context.Context, agentID uint64) ([]*Payment, error) {
	return s.store.ListByAgent(ctx, agentID)
}

// AgentEarnings 返回智能体的累计收支。
func (s *Service) AgentEarnings(ctx context.Context, agentID uint64) (Earnings, error) {
	return s.store.GetEarnings(ctx, agentID)
}
