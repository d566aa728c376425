/**
 * @description
 * Client-side wallet funding flow. A Flow walks the user from entering an amount,
 * through making the bank transfer, to waiting for the admin's decision. The flow
 * only leaves pendingApproval when the server's balance feed reports that this
 * deposit was settled; nothing local, such as a progress animation finishing, counts
 * as confirmation.
 *
 * @dependencies
 * - internal/domain: Deposit, bank destination and balance event models.
 */

package funding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
)

// State is a step of the funding flow.
type State string

const (
	StateAmount           State = "amount"
	StateAwaitingTransfer State = "awaitingTransfer"
	StatePendingApproval  State = "pendingApproval"
	StateResolved         State = "resolved"
)

// ErrInvalidTransition is returned when an action is not allowed in the current state.
var ErrInvalidTransition = errors.New("funding: action not allowed in current state")

// ErrFeedClosed is returned by Await when the balance feed ends before the deposit
// is settled. The deposit is still pending on the server.
var ErrFeedClosed = errors.New("funding: balance feed closed before the deposit was settled")

// Backend is the part of the wallet API the flow talks to.
type Backend interface {
	BankDestination(ctx context.Context) (*domain.BankDestination, error)
	RequestDeposit(ctx context.Context, amount int64) (*domain.Transaction, error)
}

// Snapshot is a read-only view of the flow.
type Snapshot struct {
	State   State
	Amount  int64
	Bank    *domain.BankDestination
	Deposit *domain.Transaction
	// Outcome is success or failed once State is resolved.
	Outcome  domain.TransactionStatus
	Balances domain.Balances
}

// Flow is one funding attempt. It is safe for concurrent use.
type Flow struct {
	backend Backend

	mu       sync.Mutex
	state    State
	amount   int64
	bank     *domain.BankDestination
	deposit  *domain.Transaction
	outcome  domain.TransactionStatus
	balances domain.Balances
}

func NewFlow(backend Backend) *Flow {
	return &Flow{backend: backend, state: StateAmount}
}

func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot{
		State:    f.state,
		Amount:   f.amount,
		Bank:     f.bank,
		Deposit:  f.deposit,
		Outcome:  f.outcome,
		Balances: f.balances,
	}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// EnterAmount records the amount and loads the bank account to transfer into.
func (f *Flow) EnterAmount(ctx context.Context, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateAmount {
		return fmt.Errorf("%w: enter amount in %s", ErrInvalidTransition, f.state)
	}
	if amount <= 0 {
		return domain.NewValidationError("amount", "amount must be greater than zero")
	}
	bank, err := f.backend.BankDestination(ctx)
	if err != nil {
		return err
	}
	f.amount = amount
	f.bank = bank
	f.state = StateAwaitingTransfer
	return nil
}

// UpdateBank replaces the displayed destination while the user is still transferring.
// Updates in any other state are ignored.
func (f *Flow) UpdateBank(dest domain.BankDestination) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateAwaitingTransfer {
		f.bank = &dest
	}
}

// ConfirmTransfer tells the server the user has sent the money. The flow then waits
// for the admin's decision.
func (f *Flow) ConfirmTransfer(ctx context.Context) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateAwaitingTransfer {
		return nil, fmt.Errorf("%w: confirm transfer in %s", ErrInvalidTransition, f.state)
	}
	tx, err := f.backend.RequestDeposit(ctx, f.amount)
	if err != nil {
		return nil, err
	}
	f.deposit = tx
	f.state = StatePendingApproval
	return tx, nil
}

// Back returns to amount entry. Once the deposit is recorded there is no going back.
func (f *Flow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateAwaitingTransfer {
		return fmt.Errorf("%w: back from %s", ErrInvalidTransition, f.state)
	}
	f.state = StateAmount
	f.bank = nil
	return nil
}

// Observe applies a balance feed event and reports whether it resolved the flow. Only
// an event that names this deposit's settlement resolves it.
func (f *Flow) Observe(event domain.BalanceEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances = event.Balances
	if f.state != StatePendingApproval || event.Resolved == nil || f.deposit == nil {
		return false
	}
	if event.Resolved.TransactionID != f.deposit.ID || !event.Resolved.Status.Terminal() {
		return false
	}
	f.outcome = event.Resolved.Status
	f.state = StateResolved
	return true
}

// Await consumes events until the deposit is settled, ctx ends, or the feed closes.
func (f *Flow) Await(ctx context.Context, events <-chan domain.BalanceEvent) (domain.TransactionStatus, error) {
	if state := f.State(); state != StatePendingApproval && state != StateResolved {
		return "", fmt.Errorf("%w: await in %s", ErrInvalidTransition, state)
	}
	for {
		if snap := f.Snapshot(); snap.State == StateResolved {
			return snap.Outcome, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case event, ok := <-events:
			if !ok {
				return "", ErrFeedClosed
			}
			f.Observe(event)
		}
	}
}

// Reset starts a new attempt after the previous one resolved.
func (f *Flow) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateResolved {
		return fmt.Errorf("%w: reset from %s", ErrInvalidTransition, f.state)
	}
	f.state = StateAmount
	f.amount = 0
	f.bank = nil
	f.deposit = nil
	f.outcome = ""
	return nil
}
