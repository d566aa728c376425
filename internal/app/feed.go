package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const feedBuffer = 8

// Feed fans committed balance and bank-destination changes out to live subscribers.
// Subscriptions end when ctx is cancelled; the returned channel is then closed.
type Feed interface {
	PublishBalance(ctx context.Context, event domain.BalanceEvent) error
	PublishBank(ctx context.Context, dest domain.BankDestination) error
	SubscribeBalance(ctx context.Context, accountID uuid.UUID) (<-chan domain.BalanceEvent, error)
	SubscribeBank(ctx context.Context) (<-chan domain.BankDestination, error)
}

// LocalFeed is an in-process Feed for single-instance deployments.
type LocalFeed struct {
	mu      sync.Mutex
	balance map[uuid.UUID]map[chan domain.BalanceEvent]struct{}
	bank    map[chan domain.BankDestination]struct{}
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{
		balance: make(map[uuid.UUID]map[chan domain.BalanceEvent]struct{}),
		bank:    make(map[chan domain.BankDestination]struct{}),
	}
}

// PublishBalance never blocks; a subscriber whose buffer is full misses the event and
// picks up the next one, which always carries the full current pools.
func (f *LocalFeed) PublishBalance(_ context.Context, event domain.BalanceEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.balance[event.AccountID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (f *LocalFeed) PublishBank(_ context.Context, dest domain.BankDestination) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.bank {
		select {
		case ch <- dest:
		default:
		}
	}
	return nil
}

func (f *LocalFeed) SubscribeBalance(ctx context.Context, accountID uuid.UUID) (<-chan domain.BalanceEvent, error) {
	ch := make(chan domain.BalanceEvent, feedBuffer)
	f.mu.Lock()
	subs, ok := f.balance[accountID]
	if !ok {
		subs = make(map[chan domain.BalanceEvent]struct{})
		f.balance[accountID] = subs
	}
	subs[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(subs, ch)
		if len(subs) == 0 {
			delete(f.balance, accountID)
		}
		close(ch)
		f.mu.Unlock()
	}()
	return ch, nil
}

func (f *LocalFeed) SubscribeBank(ctx context.Context) (<-chan domain.BankDestination, error) {
	ch := make(chan domain.BankDestination, feedBuffer)
	f.mu.Lock()
	f.bank[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.bank, ch)
		close(ch)
		f.mu.Unlock()
	}()
	return ch, nil
}

// RedisFeed publishes feed events over Redis Pub/Sub so every API instance can serve
// subscribers regardless of which instance committed the change.
type RedisFeed struct {
	client redis.UniversalClient
	prefix string
	logger logrus.FieldLogger
}

func NewRedisFeed(client redis.UniversalClient, prefix string, logger logrus.FieldLogger) *RedisFeed {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "paygig:feed"
	}
	return &RedisFeed{client: client, prefix: prefix, logger: logger.WithField("component", "redis_feed")}
}

func (f *RedisFeed) balanceChannel(accountID uuid.UUID) string {
	return fmt.Sprintf("%s:balance:%s", f.prefix, accountID)
}

func (f *RedisFeed) bankChannel() string {
	return f.prefix + ":bank"
}

func (f *RedisFeed) PublishBalance(ctx context.Context, event domain.BalanceEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.balanceChannel(event.AccountID), payload).Err()
}

func (f *RedisFeed) PublishBank(ctx context.Context, dest domain.BankDestination) error {
	payload, err := json.Marshal(dest)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.bankChannel(), payload).Err()
}

func (f *RedisFeed) SubscribeBalance(ctx context.Context, accountID uuid.UUID) (<-chan domain.BalanceEvent, error) {
	out := make(chan domain.BalanceEvent, feedBuffer)
	err := f.subscribe(ctx, f.balanceChannel(accountID), func(payload string) {
		var event domain.BalanceEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			f.logger.WithError(err).Warn("dropping malformed balance event")
			return
		}
		select {
		case out <- event:
		default:
		}
	}, func() { close(out) })
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *RedisFeed) SubscribeBank(ctx context.Context) (<-chan domain.BankDestination, error) {
	out := make(chan domain.BankDestination, feedBuffer)
	err := f.subscribe(ctx, f.bankChannel(), func(payload string) {
		var dest domain.BankDestination
		if err := json.Unmarshal([]byte(payload), &dest); err != nil {
			f.logger.WithError(err).Warn("dropping malformed bank event")
			return
		}
		select {
		case out <- dest:
		default:
		}
	}, func() { close(out) })
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *RedisFeed) subscribe(ctx context.Context, channel string, deliver func(string), done func()) error {
	pubsub := f.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so no event published after this call
	// returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}
	messages := pubsub.Channel()
	go func() {
		defer done()
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				deliver(msg.Payload)
			}
		}
	}()
	return nil
}
