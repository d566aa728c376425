package rabbitmq

import (
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Handler processes one delivery. Returning false re-queues the message.
type Handler func(body []byte) bool

// Consumer reads from a durable queue bound to a topic exchange.
type Consumer struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	logger  logrus.FieldLogger
	done    chan struct{}
	started bool
}

func NewConsumer(amqpURL string, logger logrus.FieldLogger) (*Consumer, error) {
	conn, err := dial(amqpURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Consumer{
		conn:   conn,
		ch:     ch,
		logger: logger.WithField("component", "rabbitmq_consumer"),
		done:   make(chan struct{}),
	}, nil
}

// ConsumeWithBindings binds queueName to exchange once per routing key (wildcards
// allowed) and dispatches each delivery to the handler of the binding it arrived on.
// Deliveries run one at a time until the channel closes.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return errors.New("no bindings provided")
	}
	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	var ordered []binding
	for pattern, handler := range bindings {
		if handler == nil {
			continue
		}
		ordered = append(ordered, binding{pattern: pattern, handler: handler})
		if err := c.ch.QueueBind(q.Name, pattern, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.started = true
	go func() {
		defer close(c.done)
		for d := range msgs {
			handler := match(ordered, d.RoutingKey)
			if handler == nil {
				c.logger.WithField("routing_key", d.RoutingKey).Warn("no handler for routing key, dropping")
				d.Ack(false)
				continue
			}
			if handler(d.Body) {
				d.Ack(false)
			} else {
				c.logger.WithField("routing_key", d.RoutingKey).Warn("handler failed, re-queuing")
				d.Nack(false, true)
			}
		}
	}()
	return nil
}

type binding struct {
	pattern string
	handler Handler
}

func match(bindings []binding, routingKey string) Handler {
	for _, b := range bindings {
		if TopicMatches(b.pattern, routingKey) {
			return b.handler
		}
	}
	return nil
}

// Close closes the channel and connection and waits for the delivery loop to drain.
func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	if c.started {
		<-c.done
	}
}
