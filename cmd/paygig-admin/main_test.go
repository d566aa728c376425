package main

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/Paygig/paygig-data-wallet/internal/app"
	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/Paygig/paygig-data-wallet/internal/store"
	"github.com/Paygig/paygig-data-wallet/internal/voucher"
	"github.com/Paygig/paygig-data-wallet/pkg/logging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConsole(input string) (*console, *app.SettlementService, *bytes.Buffer) {
	ledger := store.NewMemoryLedger()
	logger := logging.Discard()
	settlement := app.NewSettlementService(ledger, voucher.NewRandomGenerator(), nil, nil, nil, logger, 2000)
	out := &bytes.Buffer{}
	return &console{
		ledger:      ledger,
		settlement:  settlement,
		interpreter: app.NewAdminInterpreter(settlement, app.NewReportService(ledger), nil, 1, nil, logger),
		in:          bufio.NewReader(strings.NewReader(input)),
		out:         out,
	}, settlement, out
}

func pendingDeposit(t *testing.T, settlement *app.SettlementService, amount int64) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	accountID := uuid.New()
	_, _, err := settlement.RegisterAccount(ctx, accountID, "ada@example.com")
	require.NoError(t, err)
	tx, err := settlement.RequestDeposit(ctx, accountID, "ada@example.com", amount, "")
	require.NoError(t, err)
	return accountID, tx.ID
}

func TestConsole_ApproveAfterConfirmation(t *testing.T) {
	c, settlement, out := newConsole("yes\n")
	accountID, txID := pendingDeposit(t, settlement, 5000)

	require.NoError(t, c.run(context.Background(), []string{"approve", txID.String()}))
	assert.Contains(t, out.String(), "Are you sure you want to approve this deposit? (yes/no)")
	assert.Contains(t, out.String(), "is now success")

	balances, err := settlement.GetBalance(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, domain.Balances{Balance: 5000, BonusBalance: 2000}, balances)
}

func TestConsole_DeclineCancelledLeavesDepositPending(t *testing.T) {
	c, settlement, _ := newConsole("no\n")
	_, txID := pendingDeposit(t, settlement, 5000)

	err := c.run(context.Background(), []string{"decline", txID.String()})
	assert.ErrorIs(t, err, errCancelled)

	tx, err := c.ledger.FindTransactionByID(context.Background(), txID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, tx.Status)
}

func TestConsole_SettledDepositIsReportedNotChanged(t *testing.T) {
	c, settlement, out := newConsole("")
	_, txID := pendingDeposit(t, settlement, 1000)
	_, err := settlement.DeclineDeposit(context.Background(), txID)
	require.NoError(t, err)

	require.NoError(t, c.run(context.Background(), []string{"approve", txID.String()}))
	assert.Contains(t, out.String(), "already been processed")
	assert.NotContains(t, out.String(), "(yes/no)")
}

func TestConsole_RejectsBadArguments(t *testing.T) {
	c, _, _ := newConsole("")
	ctx := context.Background()

	assert.Error(t, c.run(ctx, []string{"approve"}))
	assert.Error(t, c.run(ctx, []string{"approve", "not-a-uuid"}))
	assert.Error(t, c.run(ctx, []string{"approve", uuid.NewString()}))
	assert.Error(t, c.run(ctx, []string{"hello"}))
}

func TestConsole_RunsChatCommands(t *testing.T) {
	c, settlement, out := newConsole("yes\n")
	pendingDeposit(t, settlement, 25000)

	require.NoError(t, c.run(context.Background(), []string{"/stats"}))
	assert.Contains(t, out.String(), "Total Users: 1")

	require.NoError(t, c.run(context.Background(), []string{"/setbank", "GTBank|0123456789|PayGig Ltd"}))
	dest, err := settlement.GetBankDestination(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PayGig Ltd", dest.AccountName)
}

func TestConsole_SetBankNeedsConfirmation(t *testing.T) {
	c, settlement, _ := newConsole("\n")

	err := c.run(context.Background(), []string{"/setbank", "GTBank|0123456789|PayGig"})
	assert.ErrorIs(t, err, errCancelled)

	_, err = settlement.GetBankDestination(context.Background())
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
