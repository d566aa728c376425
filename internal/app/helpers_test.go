package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/Paygig/paygig-data-wallet/internal/store"
	"github.com/Paygig/paygig-data-wallet/internal/voucher"
	"github.com/Paygig/paygig-data-wallet/pkg/telegram"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []domain.Notification
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, note domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return n.err
}

func (n *recordingNotifier) sent() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notification(nil), n.notes...)
}

// sequenceGenerator hands out codes in order and repeats the last one when exhausted.
type sequenceGenerator struct {
	mu    sync.Mutex
	codes []string
	next  int
}

func (g *sequenceGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.codes) == 0 {
		return "", errors.New("no codes")
	}
	code := g.codes[min(g.next, len(g.codes)-1)]
	g.next++
	return code, nil
}

type harness struct {
	ledger     store.Ledger
	service    *SettlementService
	reports    *ReportService
	notifier   *recordingNotifier
	dispatcher *Dispatcher
	feed       *LocalFeed
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, store.NewMemoryLedger(), voucher.NewRandomGenerator())
}

func newHarnessWith(t *testing.T, ledger store.Ledger, gen voucher.Generator) *harness {
	t.Helper()
	notifier := &recordingNotifier{}
	dispatcher := NewDispatcher(notifier, testLogger(), NewMetrics(nil))
	feed := NewLocalFeed()
	svc := NewSettlementService(ledger, gen, dispatcher, feed, NewMetrics(nil), testLogger(), 2000)
	return &harness{
		ledger:     ledger,
		service:    svc,
		reports:    NewReportService(ledger),
		notifier:   notifier,
		dispatcher: dispatcher,
		feed:       feed,
	}
}

func (h *harness) seed(t *testing.T, balance, bonus int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	ctx := context.Background()
	if _, _, err := h.ledger.EnsureAccount(ctx, id, "user@example.com", bonus); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if balance != 0 {
		if err := h.ledger.ConditionalUpdateAccount(ctx, id, domain.Balances{BonusBalance: bonus}, domain.Balances{Balance: balance, BonusBalance: bonus}); err != nil {
			t.Fatalf("seed balance: %v", err)
		}
	}
	return id
}

func (h *harness) balances(t *testing.T, id uuid.UUID) domain.Balances {
	t.Helper()
	account, err := h.ledger.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return account.Balances()
}

func (h *harness) pendingDeposit(t *testing.T, accountID uuid.UUID, amount int64) *domain.Transaction {
	t.Helper()
	tx, err := h.service.RequestDeposit(context.Background(), accountID, "user@example.com", amount, "")
	if err != nil {
		t.Fatalf("RequestDeposit: %v", err)
	}
	return tx
}

// conflictingLedger makes every conditional account write inside a unit of work lose.
type conflictingLedger struct {
	*store.MemoryLedger
	mu       sync.Mutex
	attempts int
}

type conflictingQueries struct {
	store.Queries
	ledger *conflictingLedger
}

func (l *conflictingLedger) WithinTx(ctx context.Context, fn func(q store.Queries) error) error {
	return l.MemoryLedger.WithinTx(ctx, func(q store.Queries) error {
		return fn(conflictingQueries{Queries: q, ledger: l})
	})
}

func (q conflictingQueries) ConditionalUpdateAccount(context.Context, uuid.UUID, domain.Balances, domain.Balances) error {
	q.ledger.mu.Lock()
	q.ledger.attempts++
	q.ledger.mu.Unlock()
	return domain.ErrConflict
}

type sentMessage struct {
	chatID int64
	text   string
	markup *telegram.InlineKeyboardMarkup
}

type editedMessage struct {
	chatID    int64
	messageID int64
	text      string
}

type answeredCallback struct {
	id   string
	text string
}

// recordingChannel is an AdminChannel that records every call.
type recordingChannel struct {
	mu       sync.Mutex
	sent     []sentMessage
	edited   []editedMessage
	answered []answeredCallback
	err      error
}

func (c *recordingChannel) SendMessage(_ context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{chatID: chatID, text: text, markup: markup})
	return c.err
}

func (c *recordingChannel) EditMessageText(_ context.Context, chatID, messageID int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edited = append(c.edited, editedMessage{chatID: chatID, messageID: messageID, text: text})
	return c.err
}

func (c *recordingChannel) AnswerCallbackQuery(_ context.Context, callbackID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answered = append(c.answered, answeredCallback{id: callbackID, text: text})
	return c.err
}
