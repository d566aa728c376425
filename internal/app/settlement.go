/**
 * @description
 * This file contains the balance settlement engine. The `SettlementService` owns every
 * path that moves a transaction to a terminal state or changes an account's pools.
 *
 * Key features:
 * - Deposit approval and decline gate on a single conditional status flip
 *   (pending -> terminal) so concurrent or repeated callbacks settle exactly once.
 * - Purchases blend the bonus pool for eligible plans and debit both pools with a
 *   conditional write in the same unit of work that records the voucher.
 * - A lost conditional write is retried once from a fresh read before surfacing a
 *   SettlementError.
 * - Notifications and live-feed events are emitted only after the ledger commits.
 *
 * @dependencies
 * - github.com/failsafe-go/failsafe-go: Retry-once policy on conflicts.
 * - github.com/sirupsen/logrus: Structured logging.
 * - internal/domain, internal/store, internal/voucher: Models, ledger and codes.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/Paygig/paygig-data-wallet/internal/store"
	"github.com/Paygig/paygig-data-wallet/internal/voucher"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	opRequestDeposit = "request_deposit"
	opApprove        = "approve_deposit"
	opDecline        = "decline_deposit"
	opPurchase       = "purchase"
	opSetBank        = "set_bank"

	// maxVoucherAttempts bounds regeneration when a code collides with an issued one.
	maxVoucherAttempts = 3
	// historyPageSize is the page returned to clients for their own history.
	historyPageSize = 50
)

// SettlementResult is the outcome of an approve or decline call. AlreadyResolved is
// true when the transaction had left pending before this call, in which case nothing
// was changed.
type SettlementResult struct {
	Transaction     domain.Transaction `json:"transaction"`
	Balances        domain.Balances    `json:"balances"`
	AlreadyResolved bool               `json:"already_resolved"`
}

// PurchaseResult is returned once a purchase has been durably recorded.
type PurchaseResult struct {
	Transaction domain.Transaction `json:"transaction"`
	Voucher     string             `json:"coupon_code"`
	Balances    domain.Balances    `json:"balances"`
	BonusUsed   int64              `json:"bonus_used"`
	BalanceUsed int64              `json:"balance_used"`
}

// SettlementService provides the wallet's money movement operations.
type SettlementService struct {
	ledger      store.Ledger
	vouchers    voucher.Generator
	dispatcher  *Dispatcher
	feed        Feed
	metrics     *Metrics
	logger      logrus.FieldLogger
	signupBonus int64
	now         func() time.Time
}

// NewSettlementService creates the settlement engine. dispatcher, feed and metrics may
// be nil.
func NewSettlementService(
	ledger store.Ledger,
	vouchers voucher.Generator,
	dispatcher *Dispatcher,
	feed Feed,
	metrics *Metrics,
	logger logrus.FieldLogger,
	signupBonus int64,
) *SettlementService {
	return &SettlementService{
		ledger:      ledger,
		vouchers:    vouchers,
		dispatcher:  dispatcher,
		feed:        feed,
		metrics:     metrics,
		logger:      logger.WithField("component", "settlement"),
		signupBonus: signupBonus,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// retryOnConflict runs fn and, if it lost a conditional write, runs it exactly once more.
// fn is responsible for re-reading whatever state it compares against.
func retryOnConflict[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	policy := retrypolicy.NewBuilder[T]().
		HandleErrors(domain.ErrConflict).
		WithMaxRetries(1).
		ReturnLastFailure().
		Build()
	return failsafe.With[T](policy).WithContext(ctx).Get(fn)
}

// settlementFailure converts ledger errors into the caller-facing taxonomy.
func settlementFailure(op string, ref uuid.UUID, err error) error {
	var validation *domain.ValidationError
	var insufficient *domain.InsufficientFundsError
	var notFound *domain.NotFoundError
	switch {
	case errors.As(err, &validation), errors.As(err, &insufficient), errors.As(err, &notFound):
		return err
	case errors.Is(err, domain.ErrTransactionNotFound):
		return &domain.NotFoundError{Resource: "transaction", Ref: ref.String()}
	case errors.Is(err, domain.ErrAccountNotFound):
		return &domain.NotFoundError{Resource: "account", Ref: ref.String()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &domain.SettlementError{Op: op, Err: err}
}

// RegisterAccount creates the caller's account on first contact, seeding the signup bonus.
func (s *SettlementService) RegisterAccount(ctx context.Context, accountID uuid.UUID, email string) (*domain.Account, bool, error) {
	account, created, err := s.ledger.EnsureAccount(ctx, accountID, strings.TrimSpace(email), s.signupBonus)
	if err != nil {
		return nil, false, fmt.Errorf("ensure account: %w", err)
	}
	if created {
		s.logger.WithFields(logrus.Fields{"account_id": accountID, "bonus": s.signupBonus}).Info("account created")
	}
	return account, created, nil
}

// RequestDeposit records a pending deposit and notifies the admin channel once the
// record is committed.
func (s *SettlementService) RequestDeposit(ctx context.Context, accountID uuid.UUID, email string, amount int64, description string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, domain.NewValidationError("amount", "amount must be greater than zero")
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = "Wallet Funding"
	}

	txRecord := &domain.Transaction{
		ID:          uuid.New(),
		AccountID:   accountID,
		Kind:        domain.KindDeposit,
		Amount:      amount,
		Status:      domain.StatusPending,
		Description: description,
		CreatedAt:   s.now(),
	}
	if err := s.ledger.CreateTransaction(ctx, txRecord); err != nil {
		s.metrics.settlement(opRequestDeposit, "error")
		return nil, settlementFailure(opRequestDeposit, accountID, err)
	}
	s.metrics.settlement(opRequestDeposit, "created")
	s.logger.WithFields(logrus.Fields{
		"transaction_id": txRecord.ID,
		"account_id":     accountID,
		"amount":         amount,
	}).Info("deposit requested")

	s.dispatcher.Dispatch(domain.Notification{
		Kind:          domain.NotifyDeposit,
		Email:         email,
		AccountID:     accountID.String(),
		Amount:        amount,
		TransactionID: txRecord.ID.String(),
		OccurredAt:    txRecord.CreatedAt,
	})
	return txRecord, nil
}

// ApproveDeposit moves a pending deposit to success and credits its amount. Calling it
// on a deposit that is no longer pending returns AlreadyResolved and changes nothing.
func (s *SettlementService) ApproveDeposit(ctx context.Context, transactionID uuid.UUID) (*SettlementResult, error) {
	return s.resolveDeposit(ctx, opApprove, transactionID, domain.StatusSuccess)
}

// DeclineDeposit moves a pending deposit to failed. The balance is never touched.
func (s *SettlementService) DeclineDeposit(ctx context.Context, transactionID uuid.UUID) (*SettlementResult, error) {
	return s.resolveDeposit(ctx, opDecline, transactionID, domain.StatusFailed)
}

func (s *SettlementService) resolveDeposit(ctx context.Context, op string, transactionID uuid.UUID, target domain.TransactionStatus) (*SettlementResult, error) {
	result, err := retryOnConflict(ctx, func() (*SettlementResult, error) {
		res, err := s.resolveDepositOnce(ctx, transactionID, target)
		if errors.Is(err, domain.ErrConflict) {
			s.metrics.conflict(op)
		}
		return res, err
	})
	if err != nil {
		s.metrics.settlement(op, "error")
		s.logger.WithFields(logrus.Fields{"op": op, "transaction_id": transactionID}).WithError(err).Warn("settlement failed")
		return nil, settlementFailure(op, transactionID, err)
	}

	logEntry := s.logger.WithFields(logrus.Fields{
		"op":             op,
		"transaction_id": transactionID,
		"account_id":     result.Transaction.AccountID,
		"status":         result.Transaction.Status,
	})
	if result.AlreadyResolved {
		s.metrics.settlement(op, "already_resolved")
		logEntry.Info("deposit already resolved")
		return result, nil
	}

	s.metrics.settlement(op, "applied")
	logEntry.WithField("balance", result.Balances.Balance).Info("deposit settled")
	s.publishBalance(ctx, domain.BalanceEvent{
		AccountID: result.Transaction.AccountID,
		Balances:  result.Balances,
		Resolved: &domain.DepositResolution{
			TransactionID: result.Transaction.ID,
			Status:        result.Transaction.Status,
		},
	})
	return result, nil
}

func (s *SettlementService) resolveDepositOnce(ctx context.Context, transactionID uuid.UUID, target domain.TransactionStatus) (*SettlementResult, error) {
	var result SettlementResult
	err := s.ledger.WithinTx(ctx, func(q store.Queries) error {
		txRecord, err := q.FindTransactionByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if txRecord.Kind != domain.KindDeposit {
			return domain.NewValidationError("transaction", "only deposits can be approved or declined")
		}
		if txRecord.Status != domain.StatusPending {
			return s.fillResolved(ctx, q, txRecord, &result)
		}

		claimed, err := q.ConditionalUpdateTransactionStatus(ctx, transactionID, domain.StatusPending, target)
		if err != nil {
			return err
		}
		if !claimed {
			// Another caller won the flip between our read and our write.
			current, err := q.FindTransactionByID(ctx, transactionID)
			if err != nil {
				return err
			}
			return s.fillResolved(ctx, q, current, &result)
		}
		txRecord.Status = target

		account, err := q.GetAccount(ctx, txRecord.AccountID)
		if err != nil {
			return err
		}
		balances := account.Balances()
		if target == domain.StatusSuccess {
			next := balances
			next.Balance += txRecord.Amount
			if err := q.ConditionalUpdateAccount(ctx, txRecord.AccountID, balances, next); err != nil {
				return err
			}
			balances = next
		}
		result = SettlementResult{Transaction: *txRecord, Balances: balances}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *SettlementService) fillResolved(ctx context.Context, q store.Queries, txRecord *domain.Transaction, result *SettlementResult) error {
	account, err := q.GetAccount(ctx, txRecord.AccountID)
	if err != nil {
		return err
	}
	*result = SettlementResult{Transaction: *txRecord, Balances: account.Balances(), AlreadyResolved: true}
	return nil
}

// QuotePurchase splits a plan's price across the two pools. Bonus funds are spent first
// and only on bonus-eligible plans.
func QuotePurchase(plan domain.Plan, current domain.Balances) (bonusUsed, balanceUsed int64, err error) {
	effective := current.Balance
	if plan.BonusEligible {
		effective += current.BonusBalance
	}
	if effective < plan.Price {
		return 0, 0, &domain.InsufficientFundsError{
			Price:     plan.Price,
			Available: effective,
			Shortfall: plan.Price - effective,
		}
	}
	if plan.BonusEligible {
		bonusUsed = min(current.BonusBalance, plan.Price)
	}
	return bonusUsed, plan.Price - bonusUsed, nil
}

// PurchasePlan buys the plan with the given id against the account's current pools.
func (s *SettlementService) PurchasePlan(ctx context.Context, accountID uuid.UUID, planID string) (*PurchaseResult, error) {
	plan, err := domain.FindPlan(planID)
	if err != nil {
		return nil, &domain.NotFoundError{Resource: "plan", Ref: planID}
	}
	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, settlementFailure(opPurchase, accountID, err)
	}
	return s.ExecutePurchase(ctx, accountID, plan, account.Balances())
}

// ExecutePurchase debits the plan price from the pools the caller observed as current,
// issues a voucher and records the purchase. The voucher is only returned once the
// purchase transaction is committed. If current is stale the purchase is retried once
// against a fresh read.
func (s *SettlementService) ExecutePurchase(ctx context.Context, accountID uuid.UUID, plan domain.Plan, current domain.Balances) (*PurchaseResult, error) {
	attempt := 0
	result, err := retryOnConflict(ctx, func() (*PurchaseResult, error) {
		balances := current
		if attempt > 0 {
			account, err := s.ledger.GetAccount(ctx, accountID)
			if err != nil {
				return nil, err
			}
			balances = account.Balances()
		}
		attempt++
		res, err := s.purchaseOnce(ctx, accountID, plan, balances)
		if errors.Is(err, domain.ErrConflict) {
			s.metrics.conflict(opPurchase)
		}
		return res, err
	})
	if err != nil {
		var insufficient *domain.InsufficientFundsError
		if errors.As(err, &insufficient) {
			s.metrics.settlement(opPurchase, "insufficient_funds")
			return nil, err
		}
		s.metrics.settlement(opPurchase, "error")
		s.logger.WithFields(logrus.Fields{"account_id": accountID, "plan": plan.ID}).WithError(err).Warn("purchase failed")
		return nil, settlementFailure(opPurchase, accountID, err)
	}

	s.metrics.settlement(opPurchase, "applied")
	s.logger.WithFields(logrus.Fields{
		"transaction_id": result.Transaction.ID,
		"account_id":     accountID,
		"plan":           plan.ID,
		"bonus_used":     result.BonusUsed,
		"balance_used":   result.BalanceUsed,
	}).Info("purchase settled")
	s.publishBalance(ctx, domain.BalanceEvent{AccountID: accountID, Balances: result.Balances})
	return result, nil
}

func (s *SettlementService) purchaseOnce(ctx context.Context, accountID uuid.UUID, plan domain.Plan, current domain.Balances) (*PurchaseResult, error) {
	bonusUsed, balanceUsed, err := QuotePurchase(plan, current)
	if err != nil {
		return nil, err
	}
	next := domain.Balances{
		Balance:      current.Balance - balanceUsed,
		BonusBalance: current.BonusBalance - bonusUsed,
	}

	for attempt := 1; ; attempt++ {
		code, err := s.vouchers.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate voucher: %w", err)
		}
		txRecord := domain.Transaction{
			ID:          uuid.New(),
			AccountID:   accountID,
			Kind:        domain.KindPurchase,
			Amount:      plan.Price,
			Status:      domain.StatusSuccess,
			VoucherCode: &code,
			Description: plan.Label(),
			CreatedAt:   s.now(),
		}
		err = s.ledger.WithinTx(ctx, func(q store.Queries) error {
			if err := q.ConditionalUpdateAccount(ctx, accountID, current, next); err != nil {
				return err
			}
			return q.CreateTransaction(ctx, &txRecord)
		})
		if errors.Is(err, domain.ErrDuplicateVoucher) && attempt < maxVoucherAttempts {
			s.metrics.voucherCollision()
			continue
		}
		if err != nil {
			return nil, err
		}
		return &PurchaseResult{
			Transaction: txRecord,
			Voucher:     code,
			Balances:    next,
			BonusUsed:   bonusUsed,
			BalanceUsed: balanceUsed,
		}, nil
	}
}

// SetBankDestination replaces the transfer destination shown to every client.
func (s *SettlementService) SetBankDestination(ctx context.Context, bankName, accountNumber, accountName string) (*domain.BankDestination, error) {
	dest, err := domain.NewBankDestination(bankName, accountNumber, accountName)
	if err != nil {
		return nil, err
	}
	dest.UpdatedAt = s.now()
	if err := s.ledger.PutBankDestination(ctx, dest); err != nil {
		s.metrics.settlement(opSetBank, "error")
		return nil, &domain.SettlementError{Op: opSetBank, Err: err}
	}
	s.metrics.settlement(opSetBank, "applied")
	s.logger.WithField("bank", dest.BankName).Info("bank destination updated")

	if s.feed != nil {
		if err := s.feed.PublishBank(ctx, dest); err != nil {
			s.logger.WithError(err).Warn("failed to publish bank destination")
		}
	}
	return &dest, nil
}

// GetBalance returns the account's current pools.
func (s *SettlementService) GetBalance(ctx context.Context, accountID uuid.UUID) (domain.Balances, error) {
	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return domain.Balances{}, &domain.NotFoundError{Resource: "account", Ref: accountID.String()}
		}
		return domain.Balances{}, err
	}
	return account.Balances(), nil
}

// GetBankDestination returns the current transfer destination.
func (s *SettlementService) GetBankDestination(ctx context.Context) (*domain.BankDestination, error) {
	dest, err := s.ledger.GetBankDestination(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrBankNotConfigured) {
			return nil, &domain.NotFoundError{Resource: "bank destination", Ref: "current"}
		}
		return nil, err
	}
	return dest, nil
}

// History returns the account's own transactions, most recent first.
func (s *SettlementService) History(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	return s.ledger.QueryTransactions(ctx, domain.TransactionFilter{AccountID: &accountID}, historyPageSize)
}

// SubscribeBalance streams the account's pools: the current value first, then every
// committed change until ctx ends.
func (s *SettlementService) SubscribeBalance(ctx context.Context, accountID uuid.UUID) (domain.Balances, <-chan domain.BalanceEvent, error) {
	if s.feed == nil {
		return domain.Balances{}, nil, errors.New("live feed not configured")
	}
	// Subscribe before reading so a change committed in between is not lost.
	events, err := s.feed.SubscribeBalance(ctx, accountID)
	if err != nil {
		return domain.Balances{}, nil, err
	}
	current, err := s.GetBalance(ctx, accountID)
	if err != nil {
		return domain.Balances{}, nil, err
	}
	return current, events, nil
}

// SubscribeBank streams the bank destination: the current record (nil when unset) then
// every change until ctx ends.
func (s *SettlementService) SubscribeBank(ctx context.Context) (*domain.BankDestination, <-chan domain.BankDestination, error) {
	if s.feed == nil {
		return nil, nil, errors.New("live feed not configured")
	}
	events, err := s.feed.SubscribeBank(ctx)
	if err != nil {
		return nil, nil, err
	}
	current, err := s.ledger.GetBankDestination(ctx)
	if err != nil && !errors.Is(err, domain.ErrBankNotConfigured) {
		return nil, nil, err
	}
	return current, events, nil
}

func (s *SettlementService) publishBalance(ctx context.Context, event domain.BalanceEvent) {
	if s.feed == nil {
		return
	}
	// The write is committed; a caller that went away must not stop the event.
	ctx = context.WithoutCancel(ctx)
	if err := s.feed.PublishBalance(ctx, event); err != nil {
		s.logger.WithField("account_id", event.AccountID).WithError(err).Warn("failed to publish balance event")
	}
}
