package escrow

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"

	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/bank"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 记录托管支付。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于已建立的连接池创建 MySQLStore 并初始化表结构。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库连接不能为空")
	}
	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const paymentSchema = `CREATE TABLE IF NOT EXISTS escrow_payments (
        id VARCHAR(64) PRIMARY KEY,
        from_agent BIGINT UNSIGNED NOT NULL,
        to_agent BIGINT UNSIGNED NOT NULL,
        amount BIGINT UNSIGNED NOT NULL,
        target VARCHAR(128) NOT NULL DEFAULT 'native',
        task_ref VARCHAR(255) DEFAULT '',
        requires_validation TINYINT(1) NOT NULL DEFAULT 0,
        status VARCHAR(16) NOT NULL,
        cancel_by_from TINYINT(1) NOT NULL DEFAULT 0,
        cancel_by_to TINYINT(1) NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        resolved_at BIGINT NOT NULL DEFAULT 0,
        INDEX idx_payment_from (from_agent),
        INDEX idx_payment_to (to_agent),
        INDEX idx_payment_status (status)
)`
	const earningsSchema = `CREATE TABLE IF NOT EXISTS agent_earnings (
        agent_id BIGINT UNSIGNED PRIMARY KEY,
        total_earned BIGINT UNSIGNED NOT NULL DEFAULT 0,
        total_paid BIGINT UNSIGNED NOT NULL DEFAULT 0
)`

	if _, err := s.db.Exec(paymentSchema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 escrow_payments 表失败")
	}
	if _, err := s.db.Exec(earningsSchema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 agent_earnings 表失败")
	}
	return nil
}

// Create 实现 Store 接口。
func (s *MySQLStore) Create(ctx context.Context, payment *Payment) error {
	if payment == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "payment 不能为空")
	}
	if strings.TrimSpace(payment.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "支付 ID 不能为空")
	}

	const stmt = `INSERT INTO escrow_payments
        (id, from_agent, to_agent, amount, target, task_ref, requires_validation,
         status, cancel_by_from, cancel_by_to, created_at, resolved_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`

	_, err := s.db.ExecContext(ctx, stmt,
		payment.ID,
		payment.FromAgent,
		payment.ToAgent,
		payment.Amount,
		payment.Target.String(),
		payment.TaskRef,
		payment.RequiresValidation,
		payment.Status,
		payment.CancelRequestedByFrom,
		payment.CancelRequestedByTo,
		payment.CreatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrPaymentConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入支付失败")
	}
	return nil
}

const paymentColumns = `id, from_agent, to_agent, amount, target, task_ref,
        requires_validation, status, cancel_by_from, cancel_by_to, created_at, resolved_at`

func scanPayment(row interface{ Scan(...any) error }) (*Payment, error) {
	var payment Payment
	var targetRaw string
	if err := row.Scan(
		&payment.ID,
		&payment.FromAgent,
		&payment.ToAgent,
		&payment.Amount,
		&targetRaw,
		&payment.TaskRef,
		&payment.RequiresValidation,
		&payment.Status,
		&payment.CancelRequestedByFrom,
		&payment.CancelRequestedByTo,
		&payment.CreatedAt,
		&payment.ResolvedAt,
	); err != nil {
		return nil, err
	}
	target, err := bank.ParseTarget(targetRaw)
	if err != nil {
		return nil, err
	}
	payment.Target = target
	payment.TargetRaw = targetRaw
	return &payment, nil
}

// Get 实现 Store 接口。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Payment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM escrow_payments WHERE id = ?`, id)
	payment, err := scanPayment(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付失败")
	}
	return payment, nil
}

// ListByAgent 实现 Store 接口。
func (s *MySQLStore) ListByAgent(ctx context.Context, agentID uint64) ([]*Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM escrow_payments
         WHERE from_agent = ? OR to_agent = ?
         ORDER BY created_at DESC, id DESC`, agentID, agentID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付列表失败")
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析支付记录失败")
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历支付记录失败")
	}
	return payments, nil
}

// Resolve 实现 Store 接口。条件更新保证终态只进入一次。
func (s *MySQLStore) Resolve(ctx context.Context, id string, to Status, resolvedAt int64) error {
	if !to.IsTerminal() {
		return xerrors.New(xerrors.CodeInvalidArgument, "只能迁移到终态")
	}
	const stmt = `UPDATE escrow_payments SET status = ?, resolved_at = ?
        WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, stmt, to, resolvedAt, id, StatusEscrowed)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新支付状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrNotEscrowed
	}
	return nil
}

// SetCancelConsent 实现 Store 接口。
func (s *MySQLStore) SetCancelConsent(ctx context.Context, id string, party ConsentParty) (*Payment, error) {
	column := ""
	switch party {
	case ConsentFrom:
		column = "cancel_by_from"
	case ConsentTo:
		column = "cancel_by_to"
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的取消发起方")
	}
	stmt := `UPDATE escrow_payments SET ` + column + ` = 1 WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, stmt, id, StatusEscrowed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录取消意向失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		payment, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if payment.Status != StatusEscrowed {
			return nil, ErrNotEscrowed
		}
		// 幂等：同一方重复表态不改变行。
		return payment, nil
	}
	return s.Get(ctx, id)
}

// AddEarnings 实现 Store 接口。
func (s *MySQLStore) AddEarnings(ctx context.Context, agentID uint64, earnedDelta, paidDelta uint64) error {
	const stmt = `INSERT INTO agent_earnings (agent_id, total_earned, total_paid)
        VALUES (?, ?, ?)
        ON DUPLICATE KEY UPDATE
        total_earned = total_earned + VALUES(total_earned),
        total_paid = total_paid + VALUES(total_paid)`
	if _, err := s.db.ExecContext(ctx, stmt, agentID, earnedDelta, paidDelta); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新收支统计失败")
	}
	return nil
}

// GetEarnings 实现 Store 接口。
func (s *MySQLStore) GetEarnings(ctx context.Context, agentID uint64) (Earnings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT agent_id, total_earned, total_paid FROM agent_earnings WHERE agent_id = ?`, agentID)
	var earnings Earnings
	if err := row.Scan(&earnings.AgentID, &earnings.TotalEarned, &earnings.TotalPaid); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return Earnings{AgentID: agentID}, nil
		}
		return Earnings{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询收支统计失败")
	}
	return earnings, nil
}

// Close 实现 Store 接口。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
