package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type 标识审计事件的种类。
type Type string

const (
	TypePaymentCreated      Type = "payment.created"
	TypePaymentReleased     Type = "payment.released"
	TypePaymentRefunded     Type = "payment.refunded"
	TypePaymentCancelled    Type = "payment.cancelled"
	TypeSplitCreated        Type = "split.created"
	TypeSplitDeactivated    Type = "split.deactivated"
	TypeDepositReceived     Type = "split.deposit.received"
	TypeDepositDistributed  Type = "split.deposit.distributed"
	TypeFeeUpdated          Type = "admin.fee_updated"
	TypeTreasuryUpdated     Type = "admin.treasury_updated"
	TypePaused              Type = "admin.paused"
	TypeUnpaused            Type = "admin.unpaused"
	TypeOperatorAllowed     Type = "admin.operator_allowed"
	TypeOperatorRevoked     Type = "admin.operator_revoked"
)

// Event 是一条审计事件。金额字段只在相关事件上填写。
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	OccurredAt int64             `json:"occurred_at"`
	PaymentID  string            `json:"payment_id,omitempty"`
	SplitID    string            `json:"split_id,omitempty"`
	DepositID  string            `json:"deposit_id,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Amount     uint64            `json:"amount,omitempty"`
	Fee        uint64            `json:"fee,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// New 构造一条带有编号和时间戳的事件。
func New(eventType Type) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().Unix(),
	}
}

// Encode 将事件编码为传输载荷。
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode 解析传输载荷。
func Decode(raw []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// Handler 处理一条来自总线的事件。
type Handler func(ctx context.Context, event Event) error

// Publisher 负责向总线投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Consumer 负责从总线消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Bus 同时具备发布与消费能力。
type Bus interface {
	Publisher
	Consumer
}
