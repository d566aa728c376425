/**
 * @description
 * This file provides the PostgreSQL implementation of the Ledger interface. All
 * settlement writes are expressed as conditional UPDATEs (compare the prior status or
 * the prior balances in the WHERE clause), so concurrent approvals and purchases
 * either apply exactly once or report a conflict.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - golang.org/x/sync/errgroup: For running the stats aggregates concurrently.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

//go:embed schema.sql
var schemaSQL string

const bankDetailsKey = "bank_details"

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgQueries struct {
	db dbtx
}

// PostgresLedger is a concrete implementation of the Ledger interface for PostgreSQL.
type PostgresLedger struct {
	pgQueries
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a new instance of PostgresLedger.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pgQueries: pgQueries{db: pool}, pool: pool}
}

// EnsureSchema creates the ledger tables when they do not exist.
func (r *PostgresLedger) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schemaSQL)
	return err
}

// WithinTx runs fn inside a database transaction.
func (r *PostgresLedger) WithinTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgQueries{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (q *pgQueries) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT id, email, balance, bonus_balance, created_at, updated_at FROM accounts WHERE id = $1`
	err := q.db.QueryRow(ctx, query, accountID).Scan(
		&account.ID, &account.Email, &account.Balance, &account.BonusBalance, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (q *pgQueries) ConditionalUpdateAccount(ctx context.Context, accountID uuid.UUID, expected, next domain.Balances) error {
	if next.Balance < 0 || next.BonusBalance < 0 {
		return fmt.Errorf("refusing negative balances for account %s: %w", accountID, domain.ErrConflict)
	}
	query := `
		UPDATE accounts
		SET balance = $4, bonus_balance = $5, updated_at = NOW()
		WHERE id = $1 AND balance = $2 AND bonus_balance = $3
	`
	result, err := q.db.Exec(ctx, query, accountID, expected.Balance, expected.BonusBalance, next.Balance, next.BonusBalance)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (q *pgQueries) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, account_id, type, amount, status, coupon_code, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := q.db.Exec(ctx, query,
		tx.ID,
		tx.AccountID,
		string(tx.Kind),
		tx.Amount,
		string(tx.Status),
		tx.VoucherCode,
		tx.Description,
		tx.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "transactions_coupon_code_key" {
			return domain.ErrDuplicateVoucher
		}
		return err
	}
	return nil
}

func (q *pgQueries) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	query := `
		SELECT id, account_id, type, amount, status, coupon_code, description, created_at
		FROM transactions
		WHERE id = $1
	`
	tx, err := scanTransaction(q.db.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (q *pgQueries) ConditionalUpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, expected, next domain.TransactionStatus) (bool, error) {
	// Under READ COMMITTED a second concurrent UPDATE blocks on the row lock and then
	// re-evaluates the status predicate, so only one caller observes a row affected.
	query := `UPDATE transactions SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`
	result, err := q.db.Exec(ctx, query, transactionID, string(expected), string(next))
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (q *pgQueries) QueryTransactions(ctx context.Context, filter domain.TransactionFilter, limit int) ([]domain.Transaction, error) {
	where, args := buildTransactionWhere(filter)
	args = append(args, clampLimit(limit))
	query := fmt.Sprintf(`
		SELECT id, account_id, type, amount, status, coupon_code, description, created_at
		FROM transactions
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, where, len(args))

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

// buildTransactionWhere renders the filter as a WHERE clause with positional arguments.
func buildTransactionWhere(filter domain.TransactionFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s $%d", column, len(args)))
	}
	if filter.AccountID != nil {
		add("account_id =", *filter.AccountID)
	}
	if filter.Kind != "" {
		add("type =", string(filter.Kind))
	}
	if filter.Status != "" {
		add("status =", string(filter.Status))
	}
	if filter.Amount != nil {
		add("amount =", *filter.Amount)
	}
	if filter.CreatedBefore != nil {
		add("created_at <", *filter.CreatedBefore)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	var kind, status string
	err := row.Scan(&tx.ID, &tx.AccountID, &kind, &tx.Amount, &status, &tx.VoucherCode, &tx.Description, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	tx.Kind = domain.TransactionKind(kind)
	tx.Status = domain.TransactionStatus(status)
	return &tx, nil
}

// EnsureAccount inserts the account row if missing.
func (r *PostgresLedger) EnsureAccount(ctx context.Context, accountID uuid.UUID, email string, bonus int64) (*domain.Account, bool, error) {
	if bonus < 0 {
		bonus = 0
	}
	query := `
		INSERT INTO accounts (id, email, balance, bonus_balance)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query, accountID, email, bonus)
	if err != nil {
		return nil, false, err
	}
	account, err := r.GetAccount(ctx, accountID)
	if err != nil {
		return nil, false, err
	}
	return account, result.RowsAffected() == 1, nil
}

func (r *PostgresLedger) GetBankDestination(ctx context.Context) (*domain.BankDestination, error) {
	var raw string
	var updatedAt time.Time
	err := r.pool.QueryRow(ctx, `SELECT value, updated_at FROM app_settings WHERE key = $1`, bankDetailsKey).Scan(&raw, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBankNotConfigured
		}
		return nil, err
	}
	var dest domain.BankDestination
	if err := json.Unmarshal([]byte(raw), &dest); err != nil {
		return nil, fmt.Errorf("decode bank details: %w", err)
	}
	dest.UpdatedAt = updatedAt
	return &dest, nil
}

func (r *PostgresLedger) PutBankDestination(ctx context.Context, dest domain.BankDestination) error {
	payload, err := json.Marshal(struct {
		BankName      string `json:"bank"`
		AccountNumber string `json:"acc"`
		AccountName   string `json:"name"`
	}{dest.BankName, dest.AccountNumber, dest.AccountName})
	if err != nil {
		return err
	}
	query := `
		INSERT INTO app_settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	_, err = r.pool.Exec(ctx, query, bankDetailsKey, string(payload))
	return err
}

func (r *PostgresLedger) RecordActivity(ctx context.Context, entry domain.ActivityLog) error {
	query := `
		INSERT INTO activity_logs (id, user_id, type, user_email, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query, entry.ID, entry.AccountID, string(entry.Type), entry.Email, entry.Details, entry.CreatedAt)
	return err
}

func (r *PostgresLedger) ListActivity(ctx context.Context, activityType domain.ActivityType, limit int) ([]domain.ActivityLog, error) {
	query := `
		SELECT id, user_id, type, user_email, details, created_at
		FROM activity_logs
		WHERE type = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, string(activityType), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.ActivityLog, 0)
	for rows.Next() {
		var entry domain.ActivityLog
		var typ string
		if err := rows.Scan(&entry.ID, &entry.AccountID, &typ, &entry.Email, &entry.Details, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Type = domain.ActivityType(typ)
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// Stats runs the aggregate queries concurrently; each is an independent read.
func (r *PostgresLedger) Stats(ctx context.Context) (domain.LedgerStats, error) {
	var stats domain.LedgerStats
	g, gctx := errgroup.WithContext(ctx)

	scalar := func(dest *int64, query string, args ...any) {
		g.Go(func() error {
			return r.pool.QueryRow(gctx, query, args...).Scan(dest)
		})
	}
	scalar(&stats.TotalUsers, `SELECT COUNT(*) FROM accounts`)
	scalar(&stats.TotalTransactions, `SELECT COUNT(*) FROM transactions`)
	scalar(&stats.PendingDeposits, `SELECT COUNT(*) FROM transactions WHERE status = 'pending'`)
	scalar(&stats.TotalDeposits, `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE type = 'deposit' AND status = 'success'`)
	scalar(&stats.TotalPurchases, `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE type = 'purchase' AND status = 'success'`)

	if err := g.Wait(); err != nil {
		return domain.LedgerStats{}, err
	}
	return stats, nil
}
