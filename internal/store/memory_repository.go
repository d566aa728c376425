package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/google/uuid"
)

// MemoryLedger is a process-local Ledger used for local runs (LEDGER_BACKEND=memory)
// and tests. Units of work hold the ledger lock for their whole duration and are
// rolled back from an undo log when fn fails.
type MemoryLedger struct {
	mu       sync.Mutex
	now      func() time.Time
	accounts map[uuid.UUID]*domain.Account
	txs      map[uuid.UUID]*memTxRecord
	vouchers map[string]uuid.UUID
	seq      int64
	bank     *domain.BankDestination
	activity []domain.ActivityLog
}

type memTxRecord struct {
	tx  domain.Transaction
	seq int64
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		now:      time.Now,
		accounts: make(map[uuid.UUID]*domain.Account),
		txs:      make(map[uuid.UUID]*memTxRecord),
		vouchers: make(map[string]uuid.UUID),
	}
}

// memQueries implements Queries against the ledger maps. The caller holds l.mu.
type memQueries struct {
	l    *MemoryLedger
	undo []func()
}

func (l *MemoryLedger) locked(fn func(q *memQueries) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := &memQueries{l: l}
	if err := fn(q); err != nil {
		q.rollback()
		return err
	}
	return nil
}

func (q *memQueries) rollback() {
	for i := len(q.undo) - 1; i >= 0; i-- {
		q.undo[i]()
	}
	q.undo = nil
}

func (l *MemoryLedger) WithinTx(ctx context.Context, fn func(q Queries) error) error {
	return l.locked(func(q *memQueries) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(q)
	})
}

func (l *MemoryLedger) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	var out *domain.Account
	err := l.locked(func(q *memQueries) error {
		var err error
		out, err = q.GetAccount(ctx, accountID)
		return err
	})
	return out, err
}

func (l *MemoryLedger) ConditionalUpdateAccount(ctx context.Context, accountID uuid.UUID, expected, next domain.Balances) error {
	return l.locked(func(q *memQueries) error {
		return q.ConditionalUpdateAccount(ctx, accountID, expected, next)
	})
}

func (l *MemoryLedger) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	return l.locked(func(q *memQueries) error {
		return q.CreateTransaction(ctx, tx)
	})
}

func (l *MemoryLedger) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := l.locked(func(q *memQueries) error {
		var err error
		out, err = q.FindTransactionByID(ctx, transactionID)
		return err
	})
	return out, err
}

func (l *MemoryLedger) ConditionalUpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, expected, next domain.TransactionStatus) (bool, error) {
	var ok bool
	err := l.locked(func(q *memQueries) error {
		var err error
		ok, err = q.ConditionalUpdateTransactionStatus(ctx, transactionID, expected, next)
		return err
	})
	return ok, err
}

func (l *MemoryLedger) QueryTransactions(ctx context.Context, filter domain.TransactionFilter, limit int) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := l.locked(func(q *memQueries) error {
		var err error
		out, err = q.QueryTransactions(ctx, filter, limit)
		return err
	})
	return out, err
}

func (q *memQueries) GetAccount(_ context.Context, accountID uuid.UUID) (*domain.Account, error) {
	account, ok := q.l.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	clone := *account
	return &clone, nil
}

func (q *memQueries) ConditionalUpdateAccount(_ context.Context, accountID uuid.UUID, expected, next domain.Balances) error {
	account, ok := q.l.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if account.Balances() != expected || next.Balance < 0 || next.BonusBalance < 0 {
		return domain.ErrConflict
	}
	prev := *account
	q.undo = append(q.undo, func() { *account = prev })
	account.Balance = next.Balance
	account.BonusBalance = next.BonusBalance
	account.UpdatedAt = q.l.now()
	return nil
}

func (q *memQueries) CreateTransaction(_ context.Context, tx *domain.Transaction) error {
	if _, ok := q.l.accounts[tx.AccountID]; !ok {
		return domain.ErrAccountNotFound
	}
	if tx.HasVoucher() {
		if _, taken := q.l.vouchers[*tx.VoucherCode]; taken {
			return domain.ErrDuplicateVoucher
		}
	}
	q.l.seq++
	record := &memTxRecord{tx: *tx, seq: q.l.seq}
	if record.tx.CreatedAt.IsZero() {
		record.tx.CreatedAt = q.l.now()
	}
	q.l.txs[tx.ID] = record
	if tx.HasVoucher() {
		q.l.vouchers[*tx.VoucherCode] = tx.ID
	}
	q.undo = append(q.undo, func() {
		delete(q.l.txs, tx.ID)
		if tx.HasVoucher() {
			delete(q.l.vouchers, *tx.VoucherCode)
		}
	})
	return nil
}

func (q *memQueries) FindTransactionByID(_ context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	record, ok := q.l.txs[transactionID]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	clone := record.tx
	return &clone, nil
}

func (q *memQueries) ConditionalUpdateTransactionStatus(_ context.Context, transactionID uuid.UUID, expected, next domain.TransactionStatus) (bool, error) {
	record, ok := q.l.txs[transactionID]
	if !ok {
		return false, domain.ErrTransactionNotFound
	}
	if record.tx.Status != expected {
		return false, nil
	}
	q.undo = append(q.undo, func() { record.tx.Status = expected })
	record.tx.Status = next
	return true, nil
}

func (q *memQueries) QueryTransactions(_ context.Context, filter domain.TransactionFilter, limit int) ([]domain.Transaction, error) {
	records := make([]*memTxRecord, 0, len(q.l.txs))
	for _, record := range q.l.txs {
		if filter.Matches(&record.tx) {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.tx.CreatedAt.Equal(b.tx.CreatedAt) {
			return a.tx.CreatedAt.After(b.tx.CreatedAt)
		}
		return a.seq > b.seq
	})

	limit = clampLimit(limit)
	if len(records) > limit {
		records = records[:limit]
	}
	out := make([]domain.Transaction, 0, len(records))
	for _, record := range records {
		out = append(out, record.tx)
	}
	return out, nil
}

func (l *MemoryLedger) EnsureAccount(_ context.Context, accountID uuid.UUID, email string, bonus int64) (*domain.Account, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.accounts[accountID]; ok {
		clone := *existing
		return &clone, false, nil
	}
	if bonus < 0 {
		bonus = 0
	}
	now := l.now()
	account := &domain.Account{ID: accountID, Email: email, BonusBalance: bonus, CreatedAt: now, UpdatedAt: now}
	l.accounts[accountID] = account
	clone := *account
	return &clone, true, nil
}

func (l *MemoryLedger) GetBankDestination(context.Context) (*domain.BankDestination, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.bank == nil {
		return nil, domain.ErrBankNotConfigured
	}
	clone := *l.bank
	return &clone, nil
}

func (l *MemoryLedger) PutBankDestination(_ context.Context, dest domain.BankDestination) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	dest.UpdatedAt = l.now()
	l.bank = &dest
	return nil
}

func (l *MemoryLedger) RecordActivity(_ context.Context, entry domain.ActivityLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	l.activity = append(l.activity, entry)
	return nil
}

func (l *MemoryLedger) ListActivity(_ context.Context, activityType domain.ActivityType, limit int) ([]domain.ActivityLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	limit = clampLimit(limit)
	out := make([]domain.ActivityLog, 0, limit)
	for i := len(l.activity) - 1; i >= 0 && len(out) < limit; i-- {
		if l.activity[i].Type == activityType {
			out = append(out, l.activity[i])
		}
	}
	return out, nil
}

func (l *MemoryLedger) Stats(context.Context) (domain.LedgerStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := domain.LedgerStats{
		TotalUsers:        int64(len(l.accounts)),
		TotalTransactions: int64(len(l.txs)),
	}
	for _, record := range l.txs {
		tx := record.tx
		switch {
		case tx.Status == domain.StatusPending:
			stats.PendingDeposits++
		case tx.Status == domain.StatusSuccess && tx.Kind == domain.KindDeposit:
			stats.TotalDeposits += tx.Amount
		case tx.Status == domain.StatusSuccess && tx.Kind == domain.KindPurchase:
			stats.TotalPurchases += tx.Amount
		}
	}
	return stats, nil
}
