package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	q "github.com/deskline/servicedesk/internal/queue"
)

// Publisher sends report events to whoever delivers notifications.
type Publisher interface {
	Publish(ctx context.Context, ev q.ReportEvent) error
}

// NopPublisher drops every event.  Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, q.ReportEvent) error { return nil }

// AMQPPublisher publishes events to the durable report events queue on
// RabbitMQ.  It dials per publish, so a broker outage never leaves a
// broken connection behind; callers treat errors as non-fatal.
type AMQPPublisher struct {
	URL string
}

func NewAMQPPublisher(url string) *AMQPPublisher { return &AMQPPublisher{URL: url} }

// defaultDialTimeout applies when ctx carries no deadline.
const defaultDialTimeout = 30 * time.Second

// dialTimeout is what is left of ctx's deadline, or the default.
func dialTimeout(ctx context.Context) time.Duration {
	dl, ok := ctx.Deadline()
	if !ok {
		return defaultDialTimeout
	}
	if left := time.Until(dl); left > 0 {
		return left
	}
	return time.Millisecond
}

// Publish marks messages as persistent.
func (p *AMQPPublisher) Publish(ctx context.Context, ev q.ReportEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := amqp.DialConfig(p.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout(ctx)),
	})
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(
		q.ReportEventsQueue, // name
		true,                // durable
		false,               // autoDelete
		false,               // exclusive
		false,               // noWait
		nil,                 // args
	); err != nil {
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx,
		"",                  // default exchange
		q.ReportEventsQueue, // routing key = queue name
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent, // store on disk
			Timestamp:    time.Now().UTC(),
			Type:         ev.Type,
			Body:         body,
		},
	)
}
