package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/staykey-io/staykey/internal/lifecycle"
	"github.com/staykey-io/staykey/internal/models"
)

// Routing keys on the booking topic exchange
const (
	RKBookingCreated   = "booking.created"
	RKBookingUpdated   = "booking.updated"
	RKBookingCancelled = "booking.cancelled"
)

// consumerActor is the audit tag for changes driven by the message bus
const consumerActor = "amqp"

// bookingMessage is the wire shape of a booking event on the bus
type bookingMessage struct {
	BookingID string    `json:"bookingId"`
	UnitID    string    `json:"unitId"`
	GuestName string    `json:"guestName"`
	CheckIn   time.Time `json:"checkIn"`
	CheckOut  time.Time `json:"checkOut"`
	Status    string    `json:"status"`
}

// Handler applies decoded booking events. *lifecycle.Handler satisfies
// this.
type Handler interface {
	Created(ctx context.Context, ev *lifecycle.Event, actor string) error
	Updated(ctx context.Context, ev *lifecycle.Event, actor string) error
	Cancelled(ctx context.Context, ev *lifecycle.Event, actor string) error
}

// Config holds the consumer's broker settings
type Config struct {
	URL      string
	Exchange string
	Queue    string
	Prefetch int
}

// Consumer subscribes to the booking topic exchange and feeds events
// into the lifecycle handler.
type Consumer struct {
	cfg     Config
	handler Handler

	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewConsumer creates an unconnected consumer
func NewConsumer(cfg Config, h Handler) *Consumer {
	if cfg.Exchange == "" {
		cfg.Exchange = "booking.exchange"
	}
	if cfg.Queue == "" {
		cfg.Queue = "staykey.bookings"
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 8
	}
	return &Consumer{cfg: cfg, handler: h}
}

// Connect dials the broker and declares the exchange, queue and bindings
func (c *Consumer) Connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("rabbit dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel failed: %w", err)
	}

	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s failed: %w", c.cfg.Exchange, err)
	}

	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare queue failed: %w", err)
	}

	for _, key := range []string{RKBookingCreated, RKBookingUpdated, RKBookingCancelled} {
		if err := ch.QueueBind(q.Name, key, c.cfg.Exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("bind queue key=%s failed: %w", key, err)
		}
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("set qos failed: %w", err)
	}

	c.conn = conn
	c.ch = ch
	return nil
}

// Close tears down the channel and connection
func (c *Consumer) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Run consumes deliveries until ctx is cancelled. Failed events are
// nack'd back onto the queue; malformed ones are dropped.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.ch.ConsumeWithContext(ctx, c.cfg.Queue, "staykey", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume failed: %w", err)
	}

	log.Printf("📨 Consuming booking events from %s", c.cfg.Exchange)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := c.handleDelivery(ctx, d); err != nil {
				// Rejected events can never be applied; redelivering
				// them would just spin the consumer on the same body.
				if errors.Is(err, lifecycle.ErrRejected) {
					log.Printf("⚠️ Dropping unprocessable event key=%s: %v", d.RoutingKey, err)
					_ = d.Ack(false)
					continue
				}
				log.Printf("⚠️ Event %s failed: %v -> Nack&requeue", d.RoutingKey, err)
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) error {
	var msg bookingMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		// Malformed payloads can never succeed; ack and drop
		log.Printf("⚠️ Dropping malformed event key=%s: %v", d.RoutingKey, err)
		return nil
	}

	ev := &lifecycle.Event{
		ExternalID: msg.BookingID,
		UnitID:     msg.UnitID,
		GuestName:  msg.GuestName,
		CheckIn:    msg.CheckIn,
		CheckOut:   msg.CheckOut,
		Status:     models.BookingStatus(msg.Status),
	}

	switch d.RoutingKey {
	case RKBookingCreated:
		ev.Type = lifecycle.EventCreated
		return c.handler.Created(ctx, ev, consumerActor)
	case RKBookingUpdated:
		ev.Type = lifecycle.EventUpdated
		return c.handler.Updated(ctx, ev, consumerActor)
	case RKBookingCancelled:
		ev.Type = lifecycle.EventCancelled
		return c.handler.Cancelled(ctx, ev, consumerActor)
	default:
		log.Printf("📨 Skipping unknown routing key %s", d.RoutingKey)
	}
	return nil
}
