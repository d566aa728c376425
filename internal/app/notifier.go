package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/Paygig/paygig-data-wallet/pkg/rabbitmq"
	"github.com/sirupsen/logrus"
)

// NotifyRoutingPrefix prefixes the routing key of every admin notification on the broker.
const NotifyRoutingPrefix = "admin.notify."

// ChatNotifier renders notifications and posts them to the admin chat.
type ChatNotifier struct {
	channel AdminChannel
	chatID  int64
}

func NewChatNotifier(channel AdminChannel, chatID int64) *ChatNotifier {
	return &ChatNotifier{channel: channel, chatID: chatID}
}

func (n *ChatNotifier) Notify(ctx context.Context, note domain.Notification) error {
	text, markup, err := renderNotification(note)
	if err != nil {
		return err
	}
	return n.channel.SendMessage(ctx, n.chatID, text, markup)
}

// BrokerNotifier hands notifications to RabbitMQ; a NotificationRelay delivers them.
type BrokerNotifier struct {
	publisher rabbitmq.Publisher
	exchange  string
}

func NewBrokerNotifier(publisher rabbitmq.Publisher, exchange string) *BrokerNotifier {
	return &BrokerNotifier{publisher: publisher, exchange: exchange}
}

func (n *BrokerNotifier) Notify(ctx context.Context, note domain.Notification) error {
	return n.publisher.Publish(ctx, n.exchange, NotifyRoutingPrefix+string(note.Kind), note)
}

// NotificationRelay consumes broker notifications and forwards them to a Notifier.
type NotificationRelay struct {
	notifier Notifier
	metrics  *Metrics
	logger   logrus.FieldLogger
	timeout  time.Duration
}

func NewNotificationRelay(notifier Notifier, metrics *Metrics, logger logrus.FieldLogger) *NotificationRelay {
	return &NotificationRelay{
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.WithField("component", "notification_relay"),
		timeout:  defaultDispatchTimeout,
	}
}

// HandleMessage forwards one broker message. Notifications are best effort, so every
// message is acknowledged; failures are logged and counted, never re-queued.
func (r *NotificationRelay) HandleMessage(body []byte) bool {
	var note domain.Notification
	if err := json.Unmarshal(body, &note); err != nil {
		r.logger.WithError(err).Warn("dropping malformed notification")
		r.metrics.dispatch("unknown", "malformed")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.notifier.Notify(ctx, note); err != nil {
		dispatchErr := &domain.DispatchError{Kind: note.Kind, Err: fmt.Errorf("relay: %w", err)}
		r.logger.WithField("transaction_id", note.TransactionID).WithError(dispatchErr).Warn("notification dropped")
		r.metrics.dispatch(string(note.Kind), "failed")
		return true
	}
	r.metrics.dispatch(string(note.Kind), "relayed")
	return true
}
