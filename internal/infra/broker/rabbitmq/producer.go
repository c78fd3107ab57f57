// File: internal/infra/broker/rabbitmq/producer.go
package rabbitmq

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Publisher sends an already encoded JSON event to an exchange.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey, messageID string, body []byte) error
	Close()
}

// Producer publishes to durable topic exchanges over one channel.
type Producer struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
	log      *zerolog.Logger
}

var _ Publisher = (*Producer)(nil)

// SanitizeURL trims quotes and stray characters from an AMQP URL and checks its scheme.
func SanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("amqp url must start with amqp:// or amqps://")
	}
	return clean, nil
}

// NewProducer dials the broker with a bounded timeout.
func NewProducer(amqpURL string, logger *zerolog.Logger) (*Producer, error) {
	clean, err := SanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp.DialConfig(clean, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	lg := logger.With().Str("component", "rabbitmq_producer").Logger()
	return &Producer{conn: conn, ch: ch, declared: map[string]bool{}, log: &lg}, nil
}

func (p *Producer) declare(exchange string) error {
	if p.declared[exchange] {
		return nil
	}
	if err := p.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	p.declared[exchange] = true
	return nil
}

func (p *Producer) reopen() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.ch = ch
	p.declared = map[string]bool{}
	return nil
}

func (p *Producer) publishOnce(ctx context.Context, exchange, routingKey, messageID string, body []byte) error {
	if err := p.declare(exchange); err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// Publish sends body and retries once on a fresh channel.
func (p *Producer) Publish(ctx context.Context, exchange, routingKey, messageID string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.publishOnce(ctx, exchange, routingKey, messageID, body)
	if err == nil {
		return nil
	}
	p.log.Warn().Err(err).Str("exchange", exchange).Str("routing_key", routingKey).Msg("publish failed; reopening channel")
	if p.conn == nil || p.conn.IsClosed() {
		return err
	}
	if rerr := p.reopen(); rerr != nil {
		return rerr
	}
	return p.publishOnce(ctx, exchange, routingKey, messageID, body)
}

func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// LogPublisher only logs events; used in dev when no broker is configured.
type LogPublisher struct {
	log *zerolog.Logger
}

var _ Publisher = (*LogPublisher)(nil)

func NewLogPublisher(logger *zerolog.Logger) *LogPublisher {
	lg := logger.With().Str("component", "rabbitmq_producer").Str("mode", "log").Logger()
	return &LogPublisher{log: &lg}
}

func (p *LogPublisher) Publish(ctx context.Context, exchange, routingKey, messageID string, body []byte) error {
	p.log.Info().
		Str("exchange", exchange).
		Str("routing_key", routingKey).
		Str("message_id", messageID).
		RawJSON("payload", body).
		Msg("event published")
	return nil
}

func (p *LogPublisher) Close() {}
