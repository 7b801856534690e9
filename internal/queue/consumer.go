package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// NotificationConsumer listens on the report events queue and appends one
// line per event to a notification log.  Email delivery reads that log.
type NotificationConsumer struct {
	URL     string
	LogPath string
	Log     logrus.FieldLogger
}

// Run connects to the broker and consumes until ctx is cancelled.  Dial
// failures and dropped connections are retried with exponential backoff.
func (c *NotificationConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.WithError(err).Warnf("notification consumer: dial failed; retrying in %s", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.WithError(err).Warn("notification consumer: consume loop ended; reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (c *NotificationConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.WithError(err).Warn("notification consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(ReportEventsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(ReportEventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(d.Body); err != nil {
				c.Log.WithError(err).Error("notification consumer: handle message failed")
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle decodes one event and appends its notification line.
func (c *NotificationConsumer) Handle(body []byte) error {
	var ev ReportEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" || ev.ReportID == 0 {
		return errors.New("event without type or report id")
	}
	if err := os.MkdirAll(filepath.Dir(c.LogPath), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatNotification(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatNotification renders ev as a single human-friendly line naming
// who should be told.
func FormatNotification(ev ReportEvent) string {
	notify := fmt.Sprintf("creator=%d", ev.CreatorID)
	if ev.AssigneeID != nil {
		notify += fmt.Sprintf(",assignee=%d", *ev.AssigneeID)
	}
	line := fmt.Sprintf("[%s] %s | report_id=%d | title=%q | status=%s | priority=%s | actor=%d | notify=%s",
		ev.OccurredAt, ev.Type, ev.ReportID, ev.Title, ev.Status, ev.Priority, ev.ActorID, notify)
	if ev.Score > 0 {
		line += fmt.Sprintf(" | score=%d", ev.Score)
	}
	return line + "\n"
}
