package app

import (
	"context"
	"errors"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/Paygig/paygig-data-wallet/internal/store"
	"github.com/google/uuid"
)

// reportPageSize bounds every admin report.
const reportPageSize = 10

// ReportService answers read-only admin queries. Nothing here writes to the ledger.
type ReportService struct {
	ledger store.Ledger
}

func NewReportService(ledger store.Ledger) *ReportService {
	return &ReportService{ledger: ledger}
}

// RecentTransactions returns the latest transactions, optionally of one status.
func (r *ReportService) RecentTransactions(ctx context.Context, status domain.TransactionStatus) ([]domain.Transaction, error) {
	return r.ledger.QueryTransactions(ctx, domain.TransactionFilter{Status: status}, reportPageSize)
}

// RecentActivity returns the latest logins or registrations.
func (r *ReportService) RecentActivity(ctx context.Context, activityType domain.ActivityType) ([]domain.ActivityLog, error) {
	return r.ledger.ListActivity(ctx, activityType, reportPageSize)
}

func (r *ReportService) Stats(ctx context.Context) (domain.LedgerStats, error) {
	return r.ledger.Stats(ctx)
}

// StalePendingDeposits returns pending deposits created before cutoff, newest first.
func (r *ReportService) StalePendingDeposits(ctx context.Context, cutoff time.Time) ([]domain.Transaction, error) {
	return r.ledger.QueryTransactions(ctx, domain.TransactionFilter{
		Kind:          domain.KindDeposit,
		Status:        domain.StatusPending,
		CreatedBefore: &cutoff,
	}, reportPageSize)
}

// ResolveCallback finds the deposit a callback refers to, trying its addresses in
// order. It returns nil without error when none of them resolves.
func (r *ReportService) ResolveCallback(ctx context.Context, cb Callback) (*domain.Transaction, error) {
	for _, addr := range cb.Addresses {
		var (
			tx  *domain.Transaction
			err error
		)
		switch a := addr.(type) {
		case DirectAddress:
			tx, err = r.findDeposit(ctx, a.TransactionID)
		case LegacyAddress:
			tx, err = r.latestPendingDeposit(ctx, a.AccountID, a.Amount)
		}
		if err != nil {
			return nil, err
		}
		if tx != nil {
			return tx, nil
		}
	}
	return nil, nil
}

func (r *ReportService) findDeposit(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	tx, err := r.ledger.FindTransactionByID(ctx, transactionID)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if tx.Kind != domain.KindDeposit {
		return nil, nil
	}
	return tx, nil
}

func (r *ReportService) latestPendingDeposit(ctx context.Context, accountID uuid.UUID, amount int64) (*domain.Transaction, error) {
	matches, err := r.ledger.QueryTransactions(ctx, domain.TransactionFilter{
		AccountID: &accountID,
		Kind:      domain.KindDeposit,
		Status:    domain.StatusPending,
		Amount:    &amount,
	}, 1)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}
