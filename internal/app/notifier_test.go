package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedPublish struct {
	exchange   string
	routingKey string
	body       interface{}
}

type capturingPublisher struct {
	mu        sync.Mutex
	published []capturedPublish
}

func (p *capturingPublisher) Publish(_ context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, capturedPublish{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *capturingPublisher) Close() {}

type panickingNotifier struct{}

func (panickingNotifier) Notify(context.Context, domain.Notification) error {
	panic("boom")
}

func TestRenderNotification_DepositCarriesSettleButtons(t *testing.T) {
	txID := uuid.NewString()
	text, markup, err := renderNotification(domain.Notification{
		Kind:          domain.NotifyDeposit,
		Email:         "a<b>@example.com",
		AccountID:     "acct-1",
		Amount:        24900,
		TransactionID: txID,
	})
	require.NoError(t, err)
	assert.Contains(t, text, "New Deposit Request")
	assert.Contains(t, text, "₦24,900")
	assert.Contains(t, text, "a&lt;b&gt;@example.com")

	require.NotNil(t, markup)
	require.Len(t, markup.InlineKeyboard, 1)
	row := markup.InlineKeyboard[0]
	require.Len(t, row, 2)
	assert.Equal(t, "approve_"+txID, row[0].CallbackData)
	assert.Equal(t, "decline_"+txID, row[1].CallbackData)
}

func TestRenderNotification_OtherKinds(t *testing.T) {
	text, markup, err := renderNotification(domain.Notification{Kind: domain.NotifySignup, Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Nil(t, markup)
	assert.Contains(t, text, "Phone: N/A")

	text, _, err = renderNotification(domain.Notification{Kind: domain.NotifyLogin, Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Contains(t, text, "User Login")

	_, _, err = renderNotification(domain.Notification{Kind: domain.NotifyDeposit})
	assert.Error(t, err)

	_, _, err = renderNotification(domain.Notification{Kind: "payout"})
	assert.Error(t, err)
}

func TestRenderPendingDigest_OneRowPerDeposit(t *testing.T) {
	pending := []domain.Transaction{
		{ID: uuid.New(), AccountID: uuid.New(), Amount: 5000, CreatedAt: time.Now()},
		{ID: uuid.New(), AccountID: uuid.New(), Amount: 1200, CreatedAt: time.Now()},
	}
	text, markup, err := renderNotification(domain.Notification{Kind: domain.NotifyPendingDigest, Pending: pending})
	require.NoError(t, err)
	assert.Contains(t, text, "2 Deposit(s) Awaiting Approval")
	assert.Contains(t, text, "₦1,200")
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, "✅ Approve #2", markup.InlineKeyboard[1][0].Text)
	assert.Equal(t, FormatCallback(ActionDecline, pending[1].ID.String()), markup.InlineKeyboard[1][1].CallbackData)
}

func TestChatNotifier_SendsToAdminChat(t *testing.T) {
	channel := &recordingChannel{}
	notifier := NewChatNotifier(channel, adminChat)

	err := notifier.Notify(context.Background(), domain.Notification{Kind: domain.NotifyDeposit, TransactionID: "tx-1", Amount: 100})
	require.NoError(t, err)
	require.Len(t, channel.sent, 1)
	assert.Equal(t, adminChat, channel.sent[0].chatID)
	assert.NotNil(t, channel.sent[0].markup)

	err = notifier.Notify(context.Background(), domain.Notification{Kind: "unknown"})
	assert.Error(t, err)
	assert.Len(t, channel.sent, 1)
}

func TestBrokerNotifier_RoutesByKind(t *testing.T) {
	publisher := &capturingPublisher{}
	notifier := NewBrokerNotifier(publisher, "paygig.events")

	note := domain.Notification{Kind: domain.NotifySignup, Email: "ada@example.com"}
	require.NoError(t, notifier.Notify(context.Background(), note))
	require.Len(t, publisher.published, 1)
	assert.Equal(t, "paygig.events", publisher.published[0].exchange)
	assert.Equal(t, "admin.notify.signup", publisher.published[0].routingKey)
	assert.Equal(t, note, publisher.published[0].body)
}

func TestNotificationRelay_AlwaysAcks(t *testing.T) {
	delivered := &recordingNotifier{}
	relay := NewNotificationRelay(delivered, NewMetrics(nil), testLogger())

	body, err := json.Marshal(domain.Notification{Kind: domain.NotifyLogin, Email: "ada@example.com"})
	require.NoError(t, err)
	assert.True(t, relay.HandleMessage(body))
	require.Len(t, delivered.sent(), 1)
	assert.Equal(t, "ada@example.com", delivered.sent()[0].Email)

	assert.True(t, relay.HandleMessage([]byte("{not json")))
	assert.Len(t, delivered.sent(), 1)

	failing := NewNotificationRelay(&recordingNotifier{err: errors.New("telegram down")}, NewMetrics(nil), testLogger())
	assert.True(t, failing.HandleMessage(body))
}

func TestDispatcher_FailuresNeverReachTheCaller(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("unreachable")}
	d := NewDispatcher(notifier, testLogger(), NewMetrics(nil))
	d.Dispatch(domain.Notification{Kind: domain.NotifyLogin})
	d.Wait()
	require.Len(t, notifier.sent(), 1)
	assert.False(t, notifier.sent()[0].OccurredAt.IsZero())

	panicking := NewDispatcher(panickingNotifier{}, testLogger(), NewMetrics(nil))
	panicking.Dispatch(domain.Notification{Kind: domain.NotifyLogin})
	panicking.Wait()

	var nilDispatcher *Dispatcher
	nilDispatcher.Dispatch(domain.Notification{Kind: domain.NotifyLogin})
	nilDispatcher.Wait()
	NewDispatcher(nil, testLogger(), nil).Dispatch(domain.Notification{Kind: domain.NotifyLogin})
}
