package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/playperu/geounlock/internal/secretquiz"
)

// RoutingKeyUnlocked is the routing key for quiz_unlocked events.
const RoutingKeyUnlocked = "secretquiz.unlocked"

const publishTimeout = 5 * time.Second

// AMQPPublisher publishes unlock events as JSON to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	exchange string
	logger   *slog.Logger

	mu      sync.Mutex // amqp channels are not safe for concurrent publish
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewAMQPPublisher dials amqpURL and declares a durable topic exchange.
func NewAMQPPublisher(amqpURL, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("parsing amqp url: %w", err)
	}

	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %q: %w", exchange, err)
	}

	return &AMQPPublisher{
		exchange: exchange,
		logger:   logger,
		conn:     conn,
		channel:  channel,
	}, nil
}

// Notify publishes ev. Failures are logged; the unlock itself is already
// recorded and is not retried from here.
func (p *AMQPPublisher) Notify(ctx context.Context, ev secretquiz.Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		p.logger.Error("publishing unlock event", "user_id", ev.UserID, "quiz", ev.QuizName, "error", err)
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev secretquiz.Event) error {
	msg, err := newPublishing(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, p.exchange, RoutingKeyUnlocked, false, false, msg)
}

func newPublishing(ev secretquiz.Event) (amqp091.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("encoding event: %w", err)
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.UnlockedAt,
		Type:         ev.Type,
		Body:         body,
	}, nil
}

// Check reports whether the connection is still open.
func (p *AMQPPublisher) Check(context.Context) error {
	if p.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	return p.conn.Close()
}
