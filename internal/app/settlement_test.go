package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/Paygig/paygig-data-wallet/internal/store"
	"github.com/Paygig/paygig-data-wallet/internal/voucher"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestDeposit_RejectsNonPositiveAmounts(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, 0, 0)

	for _, amount := range []int64{0, -5000} {
		_, err := h.service.RequestDeposit(context.Background(), id, "user@example.com", amount, "")
		var validation *domain.ValidationError
		require.ErrorAs(t, err, &validation)
		assert.Equal(t, "amount", validation.Field)
	}

	txs, err := h.ledger.QueryTransactions(context.Background(), domain.TransactionFilter{}, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestRequestDeposit_CreatesPendingAndNotifiesAfterCommit(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, 0, 0)

	tx := h.pendingDeposit(t, id, 5000)
	h.dispatcher.Wait()

	assert.Equal(t, domain.StatusPending, tx.Status)
	assert.Equal(t, domain.KindDeposit, tx.Kind)
	assert.False(t, tx.HasVoucher())

	stored, err := h.ledger.FindTransactionByID(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)

	notes := h.notifier.sent()
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotifyDeposit, notes[0].Kind)
	assert.Equal(t, tx.ID.String(), notes[0].TransactionID)
	assert.Equal(t, int64(5000), notes[0].Amount)
	assert.Equal(t, id.String(), notes[0].AccountID)
}

func TestRequestDeposit_NotifierFailureDoesNotFailDeposit(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("telegram down")
	id := h.seed(t, 0, 0)

	tx, err := h.service.RequestDeposit(context.Background(), id, "user@example.com", 1000, "")
	h.dispatcher.Wait()
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, tx.Status)
}

func TestRequestDeposit_UnknownAccount(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.RequestDeposit(context.Background(), uuid.New(), "x@example.com", 1000, "")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "account", notFound.Resource)
}

func TestApproveDeposit_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, 1000, 0)
	tx := h.pendingDeposit(t, id, 5000)

	first, err := h.service.ApproveDeposit(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.False(t, first.AlreadyResolved)
	assert.Equal(t, int64(6000), first.Balances.Balance)
	assert.Equal(t, domain.StatusSuccess, first.Transaction.Status)

	second, err := h.service.ApproveDeposit(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyResolved)
	assert.Equal(t, int64(6000), second.Balances.Balance)

	assert.Equal(t, int64(6000), h.balances(t, id).Balance)
}

func TestApproveThenDecline_SecondCallIsNoop(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, 0, 0)
	tx := h.pendingDeposit(t, id, 5000)

	_, err := h.service.ApproveDeposit(context.Background(), tx.ID)
	require.NoError(t, err)

	declined, err := h.service.DeclineDeposit(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.True(t, declined.AlreadyResolved)
	assert.Equal(t, domain.StatusSuccess, declined.Transaction.Status)
	assert.Equal(t, int64(5000), h.balances(t, id).Balance)
}

func TestDeclineThenApprove_NeverCredits(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, 700, 0)
	tx := h.pendingDeposit(t, id, 5000)

	declined, err := h.service.DeclineDeposit(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.False(t, declined.AlreadyResolved)
	assert.Equal(t, domain.StatusFailed, declined.Transaction.Status)

	approved, err := h.service.ApproveDeposit(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.True(t, approved.AlreadyResolved)
	assert.Equal(t, domain.StatusFailed, approved.Transaction.Status)
	assert.Equal(t, int64(700), h.balances(t, id).Balance)
}

func TestApproveDeposit_UnknownTransaction(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.ApproveDeposit(context.Background(), uuid.New())
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "transaction", notFound.Resource)
}

func TestApproveDeposit_RejectsPurchases(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, 10000, 0)
	res, err := h.service.ExecutePurchase(context.Background(), id, domain.Plan{ID: "p", Price: 1000}, domain.Balances{Balance: 10000})
	require.NoError(t, err)

	_, err = h.service.ApproveDeposit(context.Background(), res.Transaction.ID)
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestApproveDeposit_ConcurrentApprovalsCreditOnce(t *testing.T) {
	const (
		start   = int64(2500)
		amount  = int64(5000)
		callers = 50
	)
	h := newHarness(t)
	id := h.seed(t, start, 0)
	tx := h.pendingDeposit(t, id, amount)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		errs    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.service.ApproveDeposit(context.Background(), tx.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if !res.AlreadyResolved {
				winners++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, winners)
	assert.Equal(t, start+amount, h.balances(t, id).Balance)
}

func TestApproveAndDeclineRace_ExactlyOneWins(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, 0, 0)
	tx := h.pendingDeposit(t, id, 4000)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []domain.TransactionStatus
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var (
				res *SettlementResult
				err error
			)
			if i%2 == 0 {
				res, err = h.service.ApproveDeposit(context.Background(), tx.ID)
			} else {
				res, err = h.service.DeclineDeposit(context.Background(), tx.ID)
			}
			if err != nil || res.AlreadyResolved {
				return
			}
			mu.Lock()
			outcomes = append(outcomes, res.Transaction.Status)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, outcomes, 1)
	final, err := h.ledger.FindTransactionByID(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, outcomes[0], final.Status)

	want := int64(0)
	if final.Status == domain.StatusSuccess {
		want = 4000
	}
	assert.Equal(t, want, h.balances(t, id).Balance)
}

func TestApproveDeposit_PersistentConflictSurfacesSettlementError(t *testing.T) {
	ledger := &conflictingLedger{MemoryLedger: store.NewMemoryLedger()}
	h := newHarnessWith(t, ledger, voucher.NewRandomGenerator())
	id := h.seed(t, 0, 0)
	tx := h.pendingDeposit(t, id, 5000)

	_, err := h.service.ApproveDeposit(context.Background(), tx.ID)
	var settlementErr *domain.SettlementError
	require.ErrorAs(t, err, &settlementErr)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 2, ledger.attempts, "expected one retry after the first conflict")

	stored, err := h.ledger.FindTransactionByID(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status, "status flip must roll back with the failed credit")
}

func TestApproveDeposit_PublishesResolutionOnBalanceFeed(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, 100, 0)
	tx := h.pendingDeposit(t, id, 900)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	current, events, err := h.service.SubscribeBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(100), current.Balance)

	_, err = h.service.ApproveDeposit(context.Background(), tx.ID)
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, int64(1000), ev.Balance)
		require.NotNil(t, ev.Resolved)
		assert.Equal(t, tx.ID, ev.Resolved.TransactionID)
		assert.Equal(t, domain.StatusSuccess, ev.Resolved.Status)
	case <-time.After(time.Second):
		t.Fatal("expected a balance event")
	}
}

func TestQuotePurchase(t *testing.T) {
	cases := []struct {
		name          string
		plan          domain.Plan
		current       domain.Balances
		wantBonus     int64
		wantBalance   int64
		wantShortfall int64
	}{
		{"bonus blended", domain.Plan{Price: 9000, BonusEligible: true}, domain.Balances{Balance: 10000, BonusBalance: 2000}, 2000, 7000, 0},
		{"bonus covers all", domain.Plan{Price: 1500, BonusEligible: true}, domain.Balances{Balance: 0, BonusBalance: 2000}, 1500, 0, 0},
		{"bonus short", domain.Plan{Price: 24900, BonusEligible: true}, domain.Balances{Balance: 10000, BonusBalance: 2000}, 0, 0, 14900},
		{"non bonus plan ignores bonus", domain.Plan{Price: 5000}, domain.Balances{Balance: 3000, BonusBalance: 5000}, 0, 0, 2000},
		{"exact balance", domain.Plan{Price: 5000}, domain.Balances{Balance: 5000, BonusBalance: 5000}, 0, 5000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bonus, balance, err := QuotePurchase(tc.plan, tc.current)
			if tc.wantShortfall > 0 {
				var insufficient *domain.InsufficientFundsError
				require.ErrorAs(t, err, &insufficient)
				assert.Equal(t, tc.wantShortfall, insufficient.Shortfall)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantBonus, bonus)
			assert.Equal(t, tc.wantBalance, balance)
		})
	}
}

func TestExecutePurchase_BlendsBonusAndIssuesVoucher(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, 10000, 2000)
	plan := domain.Plan{ID: "custom", Name: "Custom", Data: "10GB", Validity: "30 Days", Price: 9000, BonusEligible: true}

	res, err := h.service.ExecutePurchase(context.Background(), id, plan, domain.Balances{Balance: 10000, BonusBalance: 2000})
	require.NoError(t, err)

	assert.Equal(t, int64(2000), res.BonusUsed)
	assert.Equal(t, int64(7000), res.BalanceUsed)
	assert.Equal(t, domain.Balances{Balance: 3000, BonusBalance: 0}, res.Balances)
	assert.Equal(t, domain.Balances{Balance: 3000, BonusBalance: 0}, h.balances(t, id))
	assert.True(t, voucher.IsWellFormed(res.Voucher))

	stored, err := h.ledger.FindTransactionByID(context.Background(), res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.KindPurchase, stored.Kind)
	assert.Equal(t, domain.StatusSuccess, stored.Status)
	require.True(t, stored.HasVoucher())
	assert.Equal(t, res.Voucher, *stored.VoucherCode)
	assert.Equal(t, "Custom (10GB) - 30 Days", stored.Description)
}

func TestExecutePurchase_InsufficientFundsCreatesNothing(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, 10000, 2000)
	plan, err := domain.FindPlan("professional")
	require.NoError(t, err)

	_, err = h.service.ExecutePurchase(context.Background(), id, plan, domain.Balances{Balance: 10000, BonusBalance: 2000})
	var insufficient *domain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(14900), insufficient.Shortfall)

	assert.Equal(t, domain.Balances{Balance: 10000, BonusBalance: 2000}, h.balances(t, id))
	txs, err := h.ledger.QueryTransactions(context.Background(), domain.TransactionFilter{}, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestExecutePurchase_NonBonusPlanIgnoresBonusPool(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, 3000, 5000)

	_, err := h.service.ExecutePurchase(context.Background(), id, domain.Plan{ID: "flat", Price: 5000}, domain.Balances{Balance: 3000, BonusBalance: 5000})
	var insufficient *domain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(2000), insufficient.Shortfall)
}

func TestExecutePurchase_StaleBalancesRetryFromFreshRead(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, 10000, 0)

	res, err := h.service.ExecutePurchase(context.Background(), id, domain.Plan{ID: "p", Price: 7500}, domain.Balances{Balance: 20000})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), res.Balances.Balance)
	assert.Equal(t, int64(2500), h.balances(t, id).Balance)
}

func TestExecutePurchase_StaleBalancesThatNoLongerCoverThePriceFail(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, 1000, 0)

	_, err := h.service.ExecutePurchase(context.Background(), id, domain.Plan{ID: "p", Price: 7500}, domain.Balances{Balance: 20000})
	var insufficient *domain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(6500), insufficient.Shortfall)
	assert.Equal(t, int64(1000), h.balances(t, id).Balance)
}

func TestExecutePurchase_RegeneratesDuplicateVoucher(t *testing.T) {
	gen := &sequenceGenerator{codes: []string{"000000001S", "000000001S", "000000002S"}}
	h := newHarnessWith(t, store.NewMemoryLedger(), gen)
	id := h.seed(t, 20000, 0)
	plan := domain.Plan{ID: "p", Price: 1000}

	first, err := h.service.ExecutePurchase(context.Background(), id, plan, domain.Balances{Balance: 20000})
	require.NoError(t, err)
	assert.Equal(t, "000000001S", first.Voucher)

	second, err := h.service.ExecutePurchase(context.Background(), id, plan, first.Balances)
	require.NoError(t, err)
	assert.Equal(t, "000000002S", second.Voucher)
	assert.Equal(t, int64(18000), h.balances(t, id).Balance)
}

func TestExecutePurchase_ExhaustedVoucherAttemptsLeaveBalanceUntouched(t *testing.T) {
	gen := &sequenceGenerator{codes: []string{"000000001S"}}
	h := newHarnessWith(t, store.NewMemoryLedger(), gen)
	id := h.seed(t, 20000, 0)
	plan := domain.Plan{ID: "p", Price: 1000}

	_, err := h.service.ExecutePurchase(context.Background(), id, plan, domain.Balances{Balance: 20000})
	require.NoError(t, err)

	_, err = h.service.ExecutePurchase(context.Background(), id, plan, domain.Balances{Balance: 19000})
	var settlementErr *domain.SettlementError
	require.ErrorAs(t, err, &settlementErr)
	assert.ErrorIs(t, err, domain.ErrDuplicateVoucher)
	assert.Equal(t, int64(19000), h.balances(t, id).Balance)
}

func TestExecutePurchase_RacingApprovalKeepsBothEffects(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, 10000, 0)
	tx := h.pendingDeposit(t, id, 5000)

	var wg sync.WaitGroup
	var purchaseErr, approveErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, purchaseErr = h.service.ExecutePurchase(context.Background(), id, domain.Plan{ID: "p", Price: 7500}, domain.Balances{Balance: 10000})
	}()
	go func() {
		defer wg.Done()
		_, approveErr = h.service.ApproveDeposit(context.Background(), tx.ID)
	}()
	wg.Wait()

	require.NoError(t, purchaseErr)
	require.NoError(t, approveErr)
	assert.Equal(t, int64(7500), h.balances(t, id).Balance)
}

func TestVoucherPresenceInvariant(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, 50000, 2000)
	ctx := context.Background()

	approved := h.pendingDeposit(t, id, 1000)
	declined := h.pendingDeposit(t, id, 2000)
	h.pendingDeposit(t, id, 3000)
	_, err := h.service.ApproveDeposit(ctx, approved.ID)
	require.NoError(t, err)
	_, err = h.service.DeclineDeposit(ctx, declined.ID)
	require.NoError(t, err)
	for _, planID := range []string{"sme-starter", "streamer"} {
		_, err := h.service.PurchasePlan(ctx, id, planID)
		require.NoError(t, err)
	}

	txs, err := h.ledger.QueryTransactions(ctx, domain.TransactionFilter{}, 100)
	require.NoError(t, err)
	require.Len(t, txs, 5)
	for _, tx := range txs {
		wantVoucher := tx.Kind == domain.KindPurchase && tx.Status == domain.StatusSuccess
		assert.Equal(t, wantVoucher, tx.HasVoucher(), "transaction %s (%s/%s)", tx.ID, tx.Kind, tx.Status)
	}
}

func TestPurchasePlan_UnknownPlan(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, 1000, 0)
	_, err := h.service.PurchasePlan(context.Background(), id, "does-not-exist")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "plan", notFound.Resource)
}

func TestSetBankDestination(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	current, events, err := h.service.SubscribeBank(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)

	_, err = h.service.SetBankDestination(context.Background(), "GTBank", " ", "John Doe")
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)

	dest, err := h.service.SetBankDestination(context.Background(), " GTBank ", "0123456789", "John Doe")
	require.NoError(t, err)
	assert.Equal(t, "GTBank", dest.BankName)

	select {
	case ev := <-events:
		assert.Equal(t, "0123456789", ev.AccountNumber)
	case <-time.After(time.Second):
		t.Fatal("expected a bank destination event")
	}

	stored, err := h.service.GetBankDestination(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "John Doe", stored.AccountName)
}

func TestRegisterAccount_SeedsSignupBonusOnce(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()

	account, created, err := h.service.RegisterAccount(context.Background(), id, "new@example.com")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.Balances{Balance: 0, BonusBalance: 2000}, account.Balances())

	_, created, err = h.service.RegisterAccount(context.Background(), id, "new@example.com")
	require.NoError(t, err)
	assert.False(t, created)
}
