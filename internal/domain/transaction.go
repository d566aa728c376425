/**
 * @description
 * This file defines the core domain models for the wallet ledger: accounts with
 * their two spendable pools, deposit and purchase transactions, and the
 * filters used to query them.
 *
 * @dependencies
 * - time: Standard Go library.
 * - github.com/google/uuid: For transaction and account identifiers.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionKind distinguishes wallet top-ups from plan purchases.
type TransactionKind string

const (
	KindDeposit  TransactionKind = "deposit"
	KindPurchase TransactionKind = "purchase"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusSuccess TransactionStatus = "success"
	StatusFailed  TransactionStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s TransactionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Balances is a point-in-time view of both spendable pools of an account.
// Every conditional account write compares against a Balances value.
type Balances struct {
	Balance      int64 `json:"balance"`
	BonusBalance int64 `json:"bonus_balance"`
}

// Account represents a user's wallet.
type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Balance      int64     `json:"balance"`
	BonusBalance int64     `json:"bonus_balance"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Balances returns the account's current pools.
func (a *Account) Balances() Balances {
	return Balances{Balance: a.Balance, BonusBalance: a.BonusBalance}
}

// Transaction represents a deposit or purchase recorded in the ledger.
// VoucherCode is set if and only if Kind is purchase and Status is success.
type Transaction struct {
	ID          uuid.UUID         `json:"id"`
	AccountID   uuid.UUID         `json:"account_id"`
	Kind        TransactionKind   `json:"type"`
	Amount      int64             `json:"amount"`
	Status      TransactionStatus `json:"status"`
	VoucherCode *string           `json:"coupon_code,omitempty"`
	Description string            `json:"description"`
	CreatedAt   time.Time         `json:"created_at"`
}

// HasVoucher reports whether the transaction carries a redemption code.
func (t *Transaction) HasVoucher() bool {
	return t.VoucherCode != nil && *t.VoucherCode != ""
}

// TransactionFilter narrows ledger queries. Zero values mean "any".
type TransactionFilter struct {
	AccountID     *uuid.UUID
	Kind          TransactionKind
	Status        TransactionStatus
	Amount        *int64
	CreatedBefore *time.Time
}

// Matches reports whether tx satisfies every set field of the filter.
func (f TransactionFilter) Matches(tx *Transaction) bool {
	if f.AccountID != nil && tx.AccountID != *f.AccountID {
		return false
	}
	if f.Kind != "" && tx.Kind != f.Kind {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if f.Amount != nil && tx.Amount != *f.Amount {
		return false
	}
	if f.CreatedBefore != nil && !tx.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

// LedgerStats aggregates the figures reported by the admin /stats command.
type LedgerStats struct {
	TotalUsers        int64
	TotalTransactions int64
	PendingDeposits   int64
	TotalDeposits     int64
	TotalPurchases    int64
}
