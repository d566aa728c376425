package funding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	bank      *domain.BankDestination
	bankErr   error
	deposits  []int64
	depositID uuid.UUID
}

func (b *stubBackend) BankDestination(context.Context) (*domain.BankDestination, error) {
	return b.bank, b.bankErr
}

func (b *stubBackend) RequestDeposit(_ context.Context, amount int64) (*domain.Transaction, error) {
	b.deposits = append(b.deposits, amount)
	return &domain.Transaction{ID: b.depositID, Kind: domain.KindDeposit, Amount: amount, Status: domain.StatusPending}, nil
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		bank:      &domain.BankDestination{BankName: "GTBank", AccountNumber: "0123456789", AccountName: "PayGig"},
		depositID: uuid.New(),
	}
}

func TestFlow_HappyPath(t *testing.T) {
	backend := newStubBackend()
	flow := NewFlow(backend)
	ctx := context.Background()
	require.Equal(t, StateAmount, flow.State())

	require.NoError(t, flow.EnterAmount(ctx, 5000))
	snap := flow.Snapshot()
	assert.Equal(t, StateAwaitingTransfer, snap.State)
	assert.Equal(t, "0123456789", snap.Bank.AccountNumber)

	flow.UpdateBank(domain.BankDestination{BankName: "Access", AccountNumber: "999", AccountName: "PayGig"})
	assert.Equal(t, "999", flow.Snapshot().Bank.AccountNumber)

	tx, err := flow.ConfirmTransfer(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{5000}, backend.deposits)
	assert.Equal(t, StatePendingApproval, flow.State())

	// Bank updates after the transfer do not change what the user sent money to.
	flow.UpdateBank(domain.BankDestination{BankName: "Other", AccountNumber: "111"})
	assert.Equal(t, "999", flow.Snapshot().Bank.AccountNumber)

	events := make(chan domain.BalanceEvent, 3)
	events <- domain.BalanceEvent{Balances: domain.Balances{Balance: 100}}
	events <- domain.BalanceEvent{Balances: domain.Balances{Balance: 100}, Resolved: &domain.DepositResolution{TransactionID: uuid.New(), Status: domain.StatusSuccess}}
	events <- domain.BalanceEvent{Balances: domain.Balances{Balance: 5100}, Resolved: &domain.DepositResolution{TransactionID: tx.ID, Status: domain.StatusSuccess}}

	outcome, err := flow.Await(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, outcome)
	snap = flow.Snapshot()
	assert.Equal(t, StateResolved, snap.State)
	assert.Equal(t, int64(5100), snap.Balances.Balance)

	require.NoError(t, flow.Reset())
	assert.Equal(t, StateAmount, flow.State())
	assert.Nil(t, flow.Snapshot().Deposit)
}

func TestFlow_OnlyTheServerResolves(t *testing.T) {
	flow := NewFlow(newStubBackend())
	ctx := context.Background()
	require.NoError(t, flow.EnterAmount(ctx, 2000))
	_, err := flow.ConfirmTransfer(ctx)
	require.NoError(t, err)

	// A plain balance change, even one that looks like the credit, is not a decision.
	assert.False(t, flow.Observe(domain.BalanceEvent{Balances: domain.Balances{Balance: 2000}}))
	assert.Equal(t, StatePendingApproval, flow.State())

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = flow.Await(waitCtx, make(chan domain.BalanceEvent))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatePendingApproval, flow.State())

	closed := make(chan domain.BalanceEvent)
	close(closed)
	_, err = flow.Await(ctx, closed)
	assert.ErrorIs(t, err, ErrFeedClosed)
}

func TestFlow_DeclineResolves(t *testing.T) {
	backend := newStubBackend()
	flow := NewFlow(backend)
	ctx := context.Background()
	require.NoError(t, flow.EnterAmount(ctx, 2000))
	_, err := flow.ConfirmTransfer(ctx)
	require.NoError(t, err)

	resolved := flow.Observe(domain.BalanceEvent{Resolved: &domain.DepositResolution{TransactionID: backend.depositID, Status: domain.StatusFailed}})
	assert.True(t, resolved)
	assert.Equal(t, domain.StatusFailed, flow.Snapshot().Outcome)
}

func TestFlow_InvalidTransitions(t *testing.T) {
	backend := newStubBackend()
	flow := NewFlow(backend)
	ctx := context.Background()

	_, err := flow.ConfirmTransfer(ctx)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, flow.Back(), ErrInvalidTransition)
	assert.ErrorIs(t, flow.Reset(), ErrInvalidTransition)
	_, err = flow.Await(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	var validation *domain.ValidationError
	assert.ErrorAs(t, flow.EnterAmount(ctx, 0), &validation)
	assert.Equal(t, StateAmount, flow.State())

	require.NoError(t, flow.EnterAmount(ctx, 1000))
	assert.ErrorIs(t, flow.EnterAmount(ctx, 1000), ErrInvalidTransition)
	require.NoError(t, flow.Back())
	assert.Equal(t, StateAmount, flow.State())
	assert.Empty(t, backend.deposits)

	require.NoError(t, flow.EnterAmount(ctx, 1500))
	_, err = flow.ConfirmTransfer(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, flow.Back(), ErrInvalidTransition)
}

func TestFlow_BankUnavailableKeepsAmountStep(t *testing.T) {
	backend := newStubBackend()
	backend.bankErr = errors.New("offline")
	flow := NewFlow(backend)

	assert.Error(t, flow.EnterAmount(context.Background(), 1000))
	assert.Equal(t, StateAmount, flow.State())
}
