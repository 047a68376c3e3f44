package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/xerrors"
)

// Outcome tells the consumer how to settle a delivery.
type Outcome int

const (
	// Ack settles the delivery as processed.
	Ack Outcome = iota
	// Drop rejects the delivery without requeueing it.
	Drop
	// Requeue rejects the delivery and asks the broker to redeliver it.
	Requeue
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Drop:
		return "drop"
	case Requeue:
		return "requeue"
	default:
		return "invalid"
	}
}

// Handler processes one message body.
type Handler interface {
	Handle(ctx context.Context, body []byte) Outcome
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, body []byte) Outcome

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, body []byte) Outcome {
	return f(ctx, body)
}

// Consume delivers messages from queue to h on a dedicated channel with
// manual acks until ctx is done or the broker closes the stream. It
// returns nil on context cancellation.
func (c *Conn) Consume(ctx context.Context, queue string, prefetch int, h Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return xerrors.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return xerrors.Errorf("set prefetch %d: %w", prefetch, err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Errorf("consume %s: %w", queue, err)
	}

	log.Infof("consuming from %s (prefetch %d)", queue, prefetch)

	for {
		select {
		case <-ctx.Done():
			log.Infof("stop consuming from %s", queue)
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return xerrors.Errorf("%s: %w", queue, ErrDeliveriesClosed)
			}
			settle(d, h.Handle(ctx, d.Body))
		}
	}
}

func settle(d amqp.Delivery, o Outcome) {
	var err error
	switch o {
	case Ack:
		err = d.Ack(false)
	case Requeue:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false)
	}
	if err != nil {
		log.Errorf("settle delivery %d (%s): %s", d.DeliveryTag, o, err.Error())
	}
}
