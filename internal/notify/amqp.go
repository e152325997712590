package notify

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/streadway/amqp"
)

const (
	// LedgerEventsQueue carries every published ledger event for
	// out-of-process consumers (audit, analytics).
	LedgerEventsQueue = "ledger-events"
)

// RabbitMQ publishes ledger events to a durable queue. Like every other
// gateway it is fire-and-forget: publish errors are logged, never surfaced
// to the ledger caller.
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
}

func NewRabbitMQ(uri string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		LedgerEventsQueue, // name
		true,              // durable
		false,             // delete when unused
		false,             // exclusive
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare a queue: %w", err)
	}

	return &RabbitMQ{conn: conn, channel: ch, queue: q}, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		return err
	}
	return r.conn.Close()
}

// Publish implements Publisher.
func (r *RabbitMQ) Publish(userID int, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("[NOTIFY] Failed to marshal event %s: %v", event.Type, err)
		return
	}

	err = r.channel.Publish(
		"",                // exchange
		LedgerEventsQueue, // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		log.Printf("[NOTIFY] Failed to publish event %s for userId %d: %v", event.Type, userID, err)
	}
}
