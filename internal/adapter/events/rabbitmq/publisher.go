// Package rabbitmq publishes ledger events to a durable topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"custody-engine/internal/core/domain"
	"custody-engine/internal/core/ports"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const defaultPublishTimeout = 5 * time.Second

// channel is the subset of *amqp091.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher implements ports.EventPublisher. The routing key is the event
// type, e.g. ledger.entry.finalized.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	ch       channel
	reopen   func() (channel, error)
	exchange string
	timeout  time.Duration
	log      zerolog.Logger
}

var _ ports.EventPublisher = (*Publisher)(nil)

// Dial connects to the broker and declares exchange.
func Dial(amqpURL, exchange string, log zerolog.Logger) (*Publisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	// Bounded dial so startup does not hang on an unreachable broker.
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	reopen := func() (channel, error) { return conn.Channel() }

	p, err := newPublisher(reopen, exchange, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(reopen func() (channel, error), exchange string, log zerolog.Logger) (*Publisher, error) {
	ch, err := reopen()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declare(ch, exchange); err != nil {
		ch.Close()
		return nil, err
	}
	return &Publisher{
		ch:       ch,
		reopen:   reopen,
		exchange: exchange,
		timeout:  defaultPublishTimeout,
		log:      log.With().Str("component", "rabbitmq_publisher").Logger(),
	}, nil
}

func declare(ch channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

// Publish sends event as persistent JSON. A failed publish reopens the
// channel and retries once.
func (p *Publisher) Publish(ctx context.Context, event domain.LedgerEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    event.EntryID.String() + ":" + event.Type,
		Timestamp:    event.Timestamp,
		Body:         body,
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, event.Type, false, false, msg)
	if err == nil {
		return nil
	}
	p.log.Warn().Err(err).Str("routing_key", event.Type).Msg("publish failed, reopening channel")

	ch, chErr := p.reopen()
	if chErr != nil {
		return errors.Join(err, fmt.Errorf("reopen channel: %w", chErr))
	}
	if declErr := declare(ch, p.exchange); declErr != nil {
		ch.Close()
		return errors.Join(err, declErr)
	}
	p.ch.Close()
	p.ch = ch
	return p.ch.PublishWithContext(ctx, p.exchange, event.Type, false, false, msg)
}

// Close closes the channel and connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// NopPublisher drops events. It stands in when the broker is unavailable at
// startup.
type NopPublisher struct {
	log zerolog.Logger
}

var _ ports.EventPublisher = NopPublisher{}

func NewNopPublisher(log zerolog.Logger) NopPublisher {
	return NopPublisher{log: log.With().Str("component", "rabbitmq_publisher").Str("mode", "fallback").Logger()}
}

func (n NopPublisher) Publish(_ context.Context, event domain.LedgerEvent) error {
	n.log.Debug().Str("routing_key", event.Type).Str("entry_id", event.EntryID.String()).Msg("publish skipped")
	return nil
}

func (NopPublisher) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse amqp url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
