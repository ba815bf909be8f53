package split

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"

	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/bank"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 记录分账协议与存款。参与方与份额以 JSON
// 序列化存储，另有成员表支撑按智能体的反查。
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
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS split_agreements (
        id VARCHAR(64) PRIMARY KEY,
        creator_agent BIGINT UNSIGNED NOT NULL,
        participants TEXT NOT NULL,
        shares_bps TEXT NOT NULL,
        is_active TINYINT(1) NOT NULL DEFAULT 1,
        created_at BIGINT NOT NULL,
        INDEX idx_split_creator (creator_agent)
)`,
		`CREATE TABLE IF NOT EXISTS split_members (
        agreement_id VARCHAR(64) NOT NULL,
        agent_id BIGINT UNSIGNED NOT NULL,
        PRIMARY KEY (agreement_id, agent_id),
        INDEX idx_member_agent (agent_id)
)`,
		`CREATE TABLE IF NOT EXISTS split_deposits (
        id VARCHAR(64) PRIMARY KEY,
        split_id VARCHAR(64) NOT NULL,
        amount BIGINT UNSIGNED NOT NULL,
        target VARCHAR(128) NOT NULL DEFAULT 'native',
        payer VARCHAR(128) NOT NULL,
        task_ref VARCHAR(255) DEFAULT '',
        distributed TINYINT(1) NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        distributed_at BIGINT NOT NULL DEFAULT 0,
        INDEX idx_deposit_split (split_id)
)`,
	}
	for _, schema := range schemas {
		if _, err := s.db.Exec(schema); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化分账表结构失败")
		}
	}
	return nil
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// CreateAgreement 实现 Store 接口，协议与成员表在同一事务内写入。
func (s *MySQLStore) CreateAgreement(ctx context.Context, agreement *Agreement) error {
	if agreement == nil || agreement.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "协议记录不完整")
	}
	participants, err := json.Marshal(agreement.Participants)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化参与方失败")
	}
	shares, err := json.Marshal(agreement.SharesBps)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化份额失败")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	const stmt = `INSERT INTO split_agreements
        (id, creator_agent, participants, shares_bps, is_active, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, stmt,
		agreement.ID, agreement.CreatorAgent, participants, shares,
		agreement.IsActive, agreement.CreatedAt); err != nil {
		if isDuplicateKey(err) {
			return ErrSplitConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入分账协议失败")
	}
	for _, agentID := range agreement.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO split_members (agreement_id, agent_id) VALUES (?, ?)`,
			agreement.ID, agentID); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入协议成员失败")
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

func scanAgreement(row interface{ Scan(...any) error }) (*Agreement, error) {
	var agreement Agreement
	var participants, shares []byte
	if err := row.Scan(
		&agreement.ID,
		&agreement.CreatorAgent,
		&participants,
		&shares,
		&agreement.IsActive,
		&agreement.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(participants, &agreement.Participants); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(shares, &agreement.SharesBps); err != nil {
		return nil, err
	}
	return &agreement, nil
}

// GetAgreement 实现 Store 接口。
func (s *MySQLStore) GetAgreement(ctx context.Context, id string) (*Agreement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, creator_agent, participants, shares_bps, is_active, created_at
         FROM split_agreements WHERE id = ?`, id)
	agreement, err := scanAgreement(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrSplitNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询分账协议失败")
	}
	return agreement, nil
}

// ListAgreementsByAgent 实现 Store 接口。
func (s *MySQLStore) ListAgreementsByAgent(ctx context.Context, agentID uint64) ([]*Agreement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.creator_agent, a.participants, a.shares_bps, a.is_active, a.created_at
         FROM split_agreements a
         JOIN split_members m ON m.agreement_id = a.id
         WHERE m.agent_id = ?
         ORDER BY a.created_at DESC, a.id DESC`, agentID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询协议列表失败")
	}
	defer rows.Close()

	var agreements []*Agreement
	for rows.Next() {
		agreement, err := scanAgreement(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析协议记录失败")
		}
		agreements = append(agreements, agreement)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历协议记录失败")
	}
	return agreements, nil
}

// Deactivate 实现 Store 接口。条件更新保证停用只发生一次。
func (s *MySQLStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE split_agreements SET is_active = 0 WHERE id = ? AND is_active = 1`, id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "停用分账协议失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		if _, getErr := s.GetAgreement(ctx, id); getErr != nil {
			return getErr
		}
		return ErrSplitInactive
	}
	return nil
}

// CreateDeposit 实现 Store 接口。
func (s *MySQLStore) CreateDeposit(ctx context.Context, deposit *Deposit) error {
	if deposit == nil || deposit.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "存款记录不完整")
	}
	const stmt = `INSERT INTO split_deposits
        (id, split_id, amount, target, payer, task_ref, distributed, created_at, distributed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`
	_, err := s.db.ExecContext(ctx, stmt,
		deposit.ID, deposit.SplitID, deposit.Amount, deposit.Target.String(),
		deposit.Payer, deposit.TaskRef, deposit.Distributed, deposit.CreatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDepositConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入分账存款失败")
	}
	return nil
}

func scanDeposit(row interface{ Scan(...any) error }) (*Deposit, error) {
	var deposit Deposit
	var targetRaw string
	if err := row.Scan(
		&deposit.ID,
		&deposit.SplitID,
		&deposit.Amount,
		&targetRaw,
		&deposit.Payer,
		&deposit.TaskRef,
		&deposit.Distributed,
		&deposit.CreatedAt,
		&deposit.DistributedAt,
	); err != nil {
		return nil, err
	}
	target, err := bank.ParseTarget(targetRaw)
	if err != nil {
		return nil, err
	}
	deposit.Target = target
	deposit.TargetRaw = targetRaw
	return &deposit, nil
}

const depositColumns = `id, split_id, amount, target, payer, task_ref,
        distributed, created_at, distributed_at`

// GetDeposit 实现 Store 接口。
func (s *MySQLStore) GetDeposit(ctx context.Context, id string) (*Deposit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+depositColumns+` FROM split_deposits WHERE id = ?`, id)
	deposit, err := scanDeposit(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrDepositNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询分账存款失败")
	}
	return deposit, nil
}

// ListDepositsBySplit 实现 Store 接口。
func (s *MySQLStore) ListDepositsBySplit(ctx context.Context, splitID string) ([]*Deposit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+depositColumns+` FROM split_deposits
         WHERE split_id = ? ORDER BY created_at DESC, id DESC`, splitID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询存款列表失败")
	}
	defer rows.Close()

	var deposits []*Deposit
	for rows.Next() {
		deposit, err := scanDeposit(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析存款记录失败")
		}
		deposits = append(deposits, deposit)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历存款记录失败")
	}
	return deposits, nil
}

// MarkDistributed 实现 Store 接口。条件更新保证分发标记只翻转一次。
func (s *MySQLStore) MarkDistributed(ctx context.Context, id string, distributedAt int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE split_deposits SET distributed = 1, distributed_at = ?
         WHERE id = ? AND distributed = 0`, distributedAt, id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记存款分发失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		if _, getErr := s.GetDeposit(ctx, id); getErr != nil {
			return getErr
		}
		return ErrAlreadyDistributed
	}
	return nil
}

// Close 实现 Store 接口。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
