package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RoutingKeyConfirmed is the topic routing key for confirmation events.
const RoutingKeyConfirmed = "booking.confirmed"

// errNotifierClosed is returned by publishes after Close.
var errNotifierClosed = errors.New("amqp notifier closed")

type amqpConn interface {
	IsClosed() bool
	Close() error
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

type dialFunc func(url, exchange string) (amqpConn, amqpChannel, error)

// AMQPNotifier publishes confirmations as JSON to a topic exchange. A
// connection or channel dropped by the broker is redialed on the next
// publish.
type AMQPNotifier struct {
	url      string
	exchange string
	dial     dialFunc

	mu       sync.Mutex
	conn     amqpConn
	ch       amqpChannel
	shutdown bool
}

// NewAMQPNotifier dials url and declares a durable topic exchange.
func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	n := &AMQPNotifier{url: url, exchange: exchange, dial: dialAMQP}
	if _, err := n.channel(); err != nil {
		return nil, err
	}
	return n, nil
}

func dialAMQP(url, exchange string) (amqpConn, amqpChannel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	return conn, ch, nil
}

// channel returns a live channel, redialing when the broker dropped the
// previous connection.
func (n *AMQPNotifier) channel() (amqpChannel, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.shutdown {
		return nil, errNotifierClosed
	}
	if n.ch != nil && !n.ch.IsClosed() && n.conn != nil && !n.conn.IsClosed() {
		return n.ch, nil
	}
	n.release()
	conn, ch, err := n.dial(n.url, n.exchange)
	if err != nil {
		return nil, err
	}
	n.conn, n.ch = conn, ch
	return ch, nil
}

func (n *AMQPNotifier) release() {
	if n.ch != nil {
		_ = n.ch.Close()
		n.ch = nil
	}
	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
}

func (*AMQPNotifier) Name() string { return "amqp" }

func (n *AMQPNotifier) NotifyBookingConfirmed(ctx context.Context, c Confirmation) error {
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         RoutingKeyConfirmed,
		Body:         body,
	}
	// One retry covers a channel that closed between the liveness check and
	// the publish.
	return retry.Do(
		func() error {
			ch, err := n.channel()
			if err != nil {
				return err
			}
			return ch.PublishWithContext(ctx, n.exchange, RoutingKeyConfirmed, false, false, msg)
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(50*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, amqp.ErrClosed) }),
	)
}

// Close releases the channel and connection. Later publishes fail.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shutdown = true
	var err error
	if n.ch != nil {
		_ = n.ch.Close()
		n.ch = nil
	}
	if n.conn != nil {
		err = n.conn.Close()
		n.conn = nil
	}
	return err
}
