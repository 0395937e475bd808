package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"chatrelay/broker"
	"chatrelay/models"
	"chatrelay/registry"
)

// ErrBrokerNotReady indicates Run was signalled ready but no handle exists.
var ErrBrokerNotReady = errors.New("broker not ready")

const (
	consumerName = "relay-dispatch"
	ackWait      = 30 * time.Second
)

// consumerRetryDelay paces retries of consumer setup when the broker bounces
// between readiness and consumer creation.
var consumerRetryDelay = 2 * time.Second

// Broker is the surface of the connection manager the relay depends on.
type Broker interface {
	Ready() <-chan struct{}
	Handle() (jetstream.JetStream, bool)
}

// Dispatcher resolves worker responses to live client connections. One
// dispatcher serves all connections; it is the only reader of the response
// queue.
type Dispatcher struct {
	registry *registry.Registry
	log      *zerolog.Logger
}

// NewDispatcher builds a Dispatcher over the shared session registry.
func NewDispatcher(reg *registry.Registry, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{registry: reg, log: logger}
}

// HandleDelivery routes one raw response payload. A room with no live
// connection is a discard, not an error: the client disconnected before its
// reply arrived. The raw payload is forwarded verbatim to every connection
// registered under the room.
func (d *Dispatcher) HandleDelivery(payload []byte) error {
	var resp models.ServerResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	senders := d.registry.Senders(resp.Room)
	if len(senders) == 0 {
		d.log.Debug().Str("room", resp.Room).Msg("no live session for response, discarding")
		return nil
	}

	for _, s := range senders {
		if err := s.Send(payload); err != nil {
			d.log.Warn().Err(err).Str("room", resp.Room).Msg("response delivery failed")
		}
	}
	return nil
}

// Run waits for the broker, registers the single shared consumer on the
// response queue, and dispatches deliveries until ctx is cancelled. Each
// message is acknowledged after the delivery attempt, whether or not a live
// session was found; a lost reply to a closed connection is accepted, not
// retried. Consumer setup failures are retried on a fixed delay, never
// fatal.
func Run(ctx context.Context, b Broker, d *Dispatcher) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.Ready():
	}

	var cc jetstream.ConsumeContext
	for {
		var err error
		cc, err = consume(ctx, b, d)
		if err == nil {
			break
		}
		d.log.Warn().Err(err).Msg("response consumer setup failed, will retry")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(consumerRetryDelay):
		}
	}
	defer cc.Stop()

	d.log.Info().Str("consumer", consumerName).Msg("outbound relay consuming")
	<-ctx.Done()
	return ctx.Err()
}

// consume registers the durable consumer and starts dispatching deliveries.
func consume(ctx context.Context, b Broker, d *Dispatcher) (jetstream.ConsumeContext, error) {
	js, ok := b.Handle()
	if !ok {
		return nil, ErrBrokerNotReady
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, broker.StreamChatResponses, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		FilterSubject: broker.SubjectChatResponses,
	})
	if err != nil {
		return nil, fmt.Errorf("create response consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		if err := d.HandleDelivery(msg.Data()); err != nil {
			d.log.Warn().Err(err).Msg("dropping malformed response payload")
		}
		if err := msg.Ack(); err != nil {
			d.log.Warn().Err(err).Msg("response ack failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("consume responses: %w", err)
	}
	return cc, nil
}
