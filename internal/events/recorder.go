package events

import (
	"context"
	"log/slog"

	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/observability/metrics"
	"AgentPay-Chain/pkg/logger"
)

// Recorder 从总线消费审计事件并写入审计日志，供仪表盘和
// 外部分析系统摄取。
type Recorder struct {
	consumer    Consumer
	workerCount int
	audit       *slog.Logger
}

// RecorderOption 定义可选配置。
type RecorderOption func(*Recorder)

// WithRecorderWorkers 设置消费协程数量。
func WithRecorderWorkers(workers int) RecorderOption {
	return func(r *Recorder) {
		if workers > 0 {
			r.workerCount = workers
		}
	}
}

// WithAuditLogger 指定审计日志输出。
func WithAuditLogger(audit *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.audit = audit
	}
}

// NewRecorder 构造 Recorder。
func NewRecorder(consumer Consumer, opts ...RecorderOption) *Recorder {
	r := &Recorder{consumer: consumer, workerCount: 1}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Start 启动审计摄取循环。
func (r *Recorder) Start(ctx context.Context) error {
	if r.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置事件消费者")
	}
	return r.consumer.Consume(ctx, r.workerCount, r.handle)
}

func (r *Recorder) handle(_ context.Context, event Event) error {
	audit := r.audit
	if audit == nil {
		audit = logger.Audit()
	}
	attrs := []any{
		slog.String("event_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.Int64("occurred_at", event.OccurredAt),
	}
	if event.PaymentID != "" {
		attrs = append(attrs, slog.String("payment_id", event.PaymentID))
	}
	if event.SplitID != "" {
		attrs = append(attrs, slog.String("split_id", event.SplitID))
	}
	if event.DepositID != "" {
		attrs = append(attrs, slog.String("deposit_id", event.DepositID))
	}
	if event.Actor != "" {
		attrs = append(attrs, slog.String("actor", event.Actor))
	}
	if event.Amount > 0 {
		attrs = append(attrs, slog.Uint64("amount", event.Amount))
	}
	if event.Fee > 0 {
		attrs = append(attrs, slog.Uint64("fee", event.Fee))
	}
	for key, value := range event.Details {
		attrs = append(attrs, slog.String(key, value))
	}
	audit.Info("审计事件", attrs...)
	metrics.ObserveSettlement(string(event.Type), event.Amount, event.Fee)
	return nil
}
