// Package worker implements the response-generation service. It is reachable
// only through the queue contract: it consumes work items from the inbound
// queue and publishes correlated replies to the response queue. The reply
// text is a mock standing in for a future model.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"chatrelay/broker"
	"chatrelay/models"
)

// ErrMalformed marks a work item that cannot be parsed. Such items are
// acknowledged and dropped so they do not redeliver forever.
var ErrMalformed = errors.New("malformed work item")

const (
	consumerName = "model-worker"
	maxDelay     = time.Second
	ackWait      = 30 * time.Second
)

// consumerRetryDelay paces retries of consumer setup when the broker bounces
// between readiness and consumer creation.
var consumerRetryDelay = 2 * time.Second

// ErrBrokerNotReady indicates Run was signalled ready but no handle exists.
var ErrBrokerNotReady = errors.New("broker not ready")

// Broker is the surface of the connection manager the worker depends on.
type Broker interface {
	Ready() <-chan struct{}
	Handle() (jetstream.JetStream, bool)
}

// Publisher sends a serialized message to a broker subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Worker turns one work item into one reply after a bounded random delay
// that simulates processing latency.
type Worker struct {
	pub Publisher
	log *zerolog.Logger

	delay func() time.Duration
	now   func() time.Time
}

// New builds a Worker publishing through pub.
func New(pub Publisher, logger *zerolog.Logger) *Worker {
	return &Worker{
		pub:   pub,
		log:   logger,
		delay: func() time.Duration { return time.Duration(rand.Int63n(int64(maxDelay))) },
		now:   time.Now,
	}
}

// Handle processes one work item: parse, wait the simulated processing
// delay, publish the correlated reply. The caller must acknowledge the
// inbound message only after Handle returns nil, so a crash before the reply
// is published causes redelivery rather than silent loss.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var msg models.RoutedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(w.delay()):
	}

	to := msg.Sender
	if to == "" {
		to = "unknown"
	}
	resp := models.ServerResponse{
		Room:    msg.Room,
		Sender:  models.ResponseSender,
		To:      to,
		Message: "I am a server response for your message: " + msg.Message,
		Time:    w.now().UnixMilli(),
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	if err := w.pub.Publish(ctx, broker.SubjectChatResponses, data); err != nil {
		return fmt.Errorf("publish response: %w", err)
	}
	w.log.Debug().Str("room", msg.Room).Str("id", msg.ID).Msg("reply published")
	return nil
}

// Run waits for the broker, registers the durable work-queue consumer, and
// processes items until ctx is cancelled. MaxAckPending 1 keeps one message
// in flight at a time. Consumer setup failures are retried on a fixed delay,
// never fatal.
func Run(ctx context.Context, b Broker, w *Worker) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.Ready():
	}

	var cc jetstream.ConsumeContext
	for {
		var err error
		cc, err = consume(ctx, b, w)
		if err == nil {
			break
		}
		w.log.Warn().Err(err).Msg("work consumer setup failed, will retry")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(consumerRetryDelay):
		}
	}
	defer cc.Stop()

	w.log.Info().Str("consumer", consumerName).Msg("worker consuming")
	<-ctx.Done()
	return ctx.Err()
}

// consume registers the durable consumer and starts processing work items.
func consume(ctx context.Context, b Broker, w *Worker) (jetstream.ConsumeContext, error) {
	js, ok := b.Handle()
	if !ok {
		return nil, ErrBrokerNotReady
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, broker.StreamChatQueue, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxAckPending: 1,
		FilterSubject: broker.SubjectChatQueue,
	})
	if err != nil {
		return nil, fmt.Errorf("create work consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		err := w.Handle(ctx, msg.Data())
		switch {
		case err == nil:
		case errors.Is(err, ErrMalformed):
			w.log.Warn().Err(err).Msg("dropping malformed work item")
		default:
			// Left unacknowledged: the broker redelivers after AckWait.
			w.log.Warn().Err(err).Msg("work item failed, leaving for redelivery")
			return
		}
		if err := msg.Ack(); err != nil {
			w.log.Warn().Err(err).Msg("work ack failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("consume work queue: %w", err)
	}
	return cc, nil
}
