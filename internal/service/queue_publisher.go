package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/broadcast"
	"github.com/iliyamo/cinema-booking-engine/internal/errs"
	"github.com/iliyamo/cinema-booking-engine/internal/queue"
)

// QueuePublisher publishes booking events to the durable booking.events
// queue and seat updates to the seat.updates topic exchange. It keeps one
// connection and channel, redialling lazily after the broker drops them.
// Errors are logged and returned so callers can ignore them without
// interrupting the request flow.
type QueuePublisher struct {
	url string
	log *zap.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// ErrPublisherClosed is returned by publishes after Close.
var ErrPublisherClosed = errs.New("queue publisher closed")

func NewQueuePublisher(url string, log *zap.Logger) *QueuePublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &QueuePublisher{url: url, log: log}
}

// channel returns an open channel with the queue and exchange declared.
// Callers hold p.mu. A closed publisher never redials.
func (p *QueuePublisher) channel() (*amqp.Channel, error) {
	if p.closed {
		return nil, ErrPublisherClosed
	}
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, errs.Wrap(err, "rabbitmq dial")
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, errs.Wrap(err, "rabbitmq channel open")
	}
	if _, err := ch.QueueDeclare(queue.BookingEventsQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, errs.Wrap(err, "rabbitmq queue declare")
	}
	if err := ch.ExchangeDeclare(queue.SeatUpdatesExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, errs.Wrap(err, "rabbitmq exchange declare")
	}
	p.ch = ch
	return ch, nil
}

func (p *QueuePublisher) publish(ctx context.Context, exchange, key string, persistent bool, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if errs.Is(err, ErrPublisherClosed) {
		return err
	}
	if err != nil {
		p.log.Warn("rabbitmq unavailable", zap.Error(err))
		return err
	}
	msg := amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	}
	if persistent {
		msg.DeliveryMode = amqp.Persistent
	}
	if err := ch.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		p.log.Warn("rabbitmq publish failed", zap.String("exchange", exchange), zap.String("key", key), zap.Error(err))
		_ = ch.Close()
		p.ch = nil
		return errs.Wrap(err, "rabbitmq publish")
	}
	return nil
}

// PublishBookingEvent sends ev to booking.events as a persistent message.
func (p *QueuePublisher) PublishBookingEvent(ctx context.Context, ev queue.BookingEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errs.Wrap(err, "marshal booking event")
	}
	return p.publish(ctx, "", queue.BookingEventsQueue, true, body)
}

// OnSeatEvent forwards an availability event as one SeatUpdate message per
// seat, routed by showtime. It is subscribed to the broadcast hub.
func (p *QueuePublisher) OnSeatEvent(ctx context.Context, ev broadcast.Event) error {
	key := queue.SeatRoutingKey(ev.ShowtimeID)
	for _, u := range ev.Updates() {
		body, err := json.Marshal(u)
		if err != nil {
			return errs.Wrap(err, "marshal seat update")
		}
		if err := p.publish(ctx, queue.SeatUpdatesExchange, key, false, body); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts the channel and connection. Later publishes fail with
// ErrPublisherClosed instead of redialling.
func (p *QueuePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
