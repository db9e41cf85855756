/**
 * @description
 * This package provides a small RabbitMQ event producer used to hand outgoing
 * notification emails to a mail worker. It owns the AMQP connection and channel,
 * declares durable topic exchanges on first use and publishes JSON payloads.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The official Go client for RabbitMQ.
 * - github.com/google/uuid: Message ids for downstream de-duplication.
 */
package rabbitmq

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

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// EventProducer is a client for publishing events to RabbitMQ.
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *slog.Logger

	mu       sync.Mutex
	declared map[string]bool
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if clean == "" {
		return "", errors.New("AMQP URL is empty")
	}
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

// NewEventProducer dials RabbitMQ and opens a channel.
func NewEventProducer(amqpURL string, logger *slog.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	return &EventProducer{
		conn:     conn,
		channel:  channel,
		logger:   logger,
		declared: make(map[string]bool),
	}, nil
}

func (p *EventProducer) declareExchange(exchange string) error {
	if p.declared[exchange] {
		return nil
	}
	err := p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return err
	}
	p.declared[exchange] = true
	return nil
}

// Publish marshals body to JSON and sends it to exchange with routingKey.
// It returns the message id assigned to the publishing.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body any) (string, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	// amqp091 channels are not safe for concurrent publishers.
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.declareExchange(exchange); err != nil {
		return "", fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	messageID := uuid.NewString()
	err = p.channel.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now().UTC(),
			Body:         jsonBody,
		})
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", exchange, err)
	}

	p.logger.Debug("published message", "exchange", exchange, "routing_key", routingKey, "message_id", messageID)
	return messageID, nil
}

// Close gracefully closes the channel and connection.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
