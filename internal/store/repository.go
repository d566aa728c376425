/**
 * @description
 * This file defines the Ledger contract the settlement engine depends on. Every
 * balance mutation is a conditional write: it names the value it expects to
 * replace and fails with domain.ErrConflict when that value is stale. By defining
 * an interface we decouple business logic from the concrete store (PostgreSQL in
 * production, the in-memory ledger for local runs and tests).
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/google/uuid"
)

// Queries are the ledger primitives available both inside and outside a unit of work.
type Queries interface {
	GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	// ConditionalUpdateAccount replaces the account's pools with next only if they still
	// equal expected. Returns domain.ErrConflict otherwise.
	ConditionalUpdateAccount(ctx context.Context, accountID uuid.UUID, expected, next domain.Balances) error
	// CreateTransaction inserts tx. Returns domain.ErrDuplicateVoucher when the voucher
	// code is already taken.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	// ConditionalUpdateTransactionStatus moves the transaction from expected to next.
	// It reports false when the transaction was not in expected (already resolved).
	ConditionalUpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, expected, next domain.TransactionStatus) (bool, error)
	// QueryTransactions returns at most limit matches, most recent first.
	QueryTransactions(ctx context.Context, filter domain.TransactionFilter, limit int) ([]domain.Transaction, error)
}

// Ledger is the durable store of accounts, transactions and settings.
type Ledger interface {
	Queries

	// WithinTx runs fn in a single unit of work. Any error returned by fn rolls back
	// every write fn made.
	WithinTx(ctx context.Context, fn func(q Queries) error) error

	// EnsureAccount creates the account if it does not exist yet. created is false when
	// the account was already present, in which case bonus is ignored.
	EnsureAccount(ctx context.Context, accountID uuid.UUID, email string, bonus int64) (account *domain.Account, created bool, err error)

	GetBankDestination(ctx context.Context) (*domain.BankDestination, error)
	PutBankDestination(ctx context.Context, dest domain.BankDestination) error

	RecordActivity(ctx context.Context, entry domain.ActivityLog) error
	ListActivity(ctx context.Context, activityType domain.ActivityType, limit int) ([]domain.ActivityLog, error)

	Stats(ctx context.Context) (domain.LedgerStats, error)
}

const (
	defaultQueryLimit = 10
	maxQueryLimit     = 100
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
