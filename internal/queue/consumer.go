package queue

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/iliyamo/cinema-booking-engine/internal/errs"
)

// NewJournal returns a JSON zap logger appending to path, creating the
// parent directory when needed.
func NewJournal(path string) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap(err, "mkdir journal dir")
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// StartBookingConsumer connects to RabbitMQ, declares the booking.events
// queue and writes every message to journal. It reconnects with
// exponential backoff (capped at 30s) and returns only when ctx is done.
// A message that cannot be decoded is rejected without requeue so the
// consumer never spins on it.
func StartBookingConsumer(ctx context.Context, url string, journal, log *zap.Logger) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn("booking consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, journal, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("booking consumer: consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, journal, log *zap.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return errs.Wrap(err, "channel open")
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn("booking consumer: set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(BookingEventsQueue, true, false, false, false, nil); err != nil {
		return errs.Wrap(err, "queue declare")
	}
	msgs, err := ch.Consume(BookingEventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return errs.Wrap(err, "queue consume")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errs.New("deliveries channel closed")
			}
			if err := HandleMessage(journal, d.Body); err != nil {
				log.Warn("booking consumer: rejecting message", zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HandleMessage decodes one booking event and journals it.
func HandleMessage(journal *zap.Logger, body []byte) error {
	var ev BookingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return errs.Wrap(err, "unmarshal booking event")
	}
	if ev.Type == "" || ev.BookingID == 0 {
		return errs.Newf("incomplete booking event %q", body)
	}
	fields := []zap.Field{
		zap.Uint64("booking_id", ev.BookingID),
		zap.String("reference", ev.Reference),
		zap.Uint64("user_id", ev.UserID),
		zap.Uint64("showtime_id", ev.ShowtimeID),
		zap.String("status", ev.Status),
		zap.Strings("seats", ev.SeatLabels),
		zap.String("total", ev.TotalAmount+" "+ev.Currency),
		zap.String("occurred_at", ev.OccurredAt),
	}
	if ev.RefundAmount != "" {
		fields = append(fields, zap.String("refund", ev.RefundAmount))
	}
	if ev.Reason != "" {
		fields = append(fields, zap.String("reason", ev.Reason))
	}
	journal.Info(ev.Type, fields...)
	return nil
}
