package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/xerrors"

	"github.com/ragflow/ragflow/node/config"
)

var log = logging.Logger("broker")

const (
	exchangeKind = "topic"
	contentJSON  = "application/json"
	dialTimeout  = 30 * time.Second
)

var (
	// ErrNacked is returned when the broker refuses a published message.
	ErrNacked = xerrors.New("message nacked by broker")
	// ErrUnroutable is returned when a mandatory message matched no queue.
	ErrUnroutable = xerrors.New("message unroutable")
	// ErrDeliveriesClosed is returned by Consume when the broker closes the
	// delivery stream.
	ErrDeliveriesClosed = xerrors.New("delivery channel closed")
)

// Publisher publishes JSON messages to a route.
type Publisher interface {
	Publish(ctx context.Context, route config.Route, msg interface{}, messageID string) error
}

// Conn is a broker connection with one confirm-mode channel for publishing.
// Consumers get their own channels.
type Conn struct {
	conn *amqp.Connection
	pub  *amqp.Channel

	lk      sync.Mutex
	returns chan amqp.Return
}

// Dial connects to the broker and puts the publishing channel in confirm
// mode.
func Dial(cfg config.RabbitCfg) (*Conn, error) {
	conn, err := amqp.DialConfig(cfg.URL(), amqp.Config{
		Heartbeat: time.Duration(cfg.Heartbeat) * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		return nil, xerrors.Errorf("dial %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, xerrors.Errorf("open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, xerrors.Errorf("confirm mode: %w", err)
	}

	c := &Conn{
		conn:    conn,
		pub:     ch,
		returns: ch.NotifyReturn(make(chan amqp.Return, 64)),
	}

	go func() {
		if err, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1)); ok && err != nil {
			log.Errorf("broker connection closed: %s", err.Error())
		}
	}()

	return c, nil
}

// Declare declares a durable topic exchange for every route and, when the
// route names a queue, a durable queue bound with the routing key.
func (c *Conn) Declare(routes ...config.Route) error {
	for _, r := range routes {
		if r.Exchange != "" {
			if err := c.pub.ExchangeDeclare(r.Exchange, exchangeKind, true, false, false, false, nil); err != nil {
				return xerrors.Errorf("declare exchange %s: %w", r.Exchange, err)
			}
		}

		if r.Queue == "" {
			continue
		}

		if _, err := c.pub.QueueDeclare(r.Queue, true, false, false, false, nil); err != nil {
			return xerrors.Errorf("declare queue %s: %w", r.Queue, err)
		}

		if r.Exchange == "" {
			continue
		}

		if err := c.pub.QueueBind(r.Queue, r.RoutingKey, r.Exchange, false, nil); err != nil {
			return xerrors.Errorf("bind %s to %s/%s: %w", r.Queue, r.Exchange, r.RoutingKey, err)
		}
		log.Debugf("queue %s bound to %s with key %s", r.Queue, r.Exchange, r.RoutingKey)
	}
	return nil
}

// Publish marshals msg to JSON and publishes it as a persistent, mandatory
// message, waiting for the broker's confirm. An empty messageID gets a
// random one.
func (c *Conn) Publish(ctx context.Context, route config.Route, msg interface{}, messageID string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return xerrors.Errorf("marshal message: %w", err)
	}

	if messageID == "" {
		messageID = uuid.NewString()
	}

	c.lk.Lock()
	defer c.lk.Unlock()

	dc, err := c.pub.PublishWithDeferredConfirmWithContext(ctx, route.Exchange, route.RoutingKey, true, false, amqp.Publishing{
		ContentType:  contentJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return xerrors.Errorf("publish to %s/%s: %w", route.Exchange, route.RoutingKey, err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return xerrors.Errorf("waiting for confirm: %w", err)
	}
	if !acked {
		return ErrNacked
	}

	// returns for mandatory messages arrive before the confirm
	for {
		select {
		case r := <-c.returns:
			if r.MessageId == messageID {
				return xerrors.Errorf("%s/%s: %w", route.Exchange, route.RoutingKey, ErrUnroutable)
			}
			log.Warnf("stale return for message %s: %s", r.MessageId, r.ReplyText)
		default:
			return nil
		}
	}
}

// Check reports whether the connection is still open. It has the shape of
// a metrics.Check.
func (c *Conn) Check(context.Context) error {
	if c.conn.IsClosed() {
		return amqp.ErrClosed
	}
	return nil
}

// Close closes the publishing channel and the connection.
func (c *Conn) Close() error {
	if err := c.pub.Close(); err != nil && !xerrors.Is(err, amqp.ErrClosed) {
		log.Warnf("close channel: %s", err.Error())
	}
	return c.conn.Close()
}
