package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Queue topology. Both streams are work queues: a message is retained until
// one consumer acknowledges it, then removed.
const (
	StreamChatQueue     = "CHAT_QUEUE"
	StreamChatResponses = "CHAT_RESPONSES"

	SubjectChatQueue     = "chat.queue"
	SubjectChatResponses = "chat.responses"
)

const (
	retryDelay     = 2 * time.Second
	declareTimeout = 5 * time.Second
	publishTimeout = 5 * time.Second

	// pendingLimit bounds the buffer of messages accepted before the first
	// broker connection.
	pendingLimit = 256
)

// Manager owns the single connection to the queue broker. It retries
// connection establishment on a fixed delay, declares the queue topology
// once per connection, and exposes the JetStream handle plus a readiness
// signal to the rest of the process. Connection failure is never fatal.
type Manager struct {
	url string
	log *zerolog.Logger

	mu sync.RWMutex
	nc *nats.Conn
	js jetstream.JetStream

	ready     chan struct{}
	readyOnce sync.Once

	pending *publishBuffer
}

// NewManager builds a Manager for the given broker URL. Call Start to begin
// the connection lifecycle.
func NewManager(url string, logger *zerolog.Logger) *Manager {
	return &Manager{
		url:     url,
		log:     logger,
		ready:   make(chan struct{}),
		pending: newPublishBuffer(pendingLimit),
	}
}

// Start launches the connection lifecycle goroutine. It attempts a single
// connection; on failure it logs a warning and retries after a fixed delay,
// indefinitely, until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *Manager) run(ctx context.Context) {
	for {
		m.log.Info().Str("url", m.url).Msg("attempting broker connection")
		err := m.connect(ctx)
		if err == nil {
			return
		}
		m.log.Warn().Err(err).Str("url", m.url).Msg("broker connection failed, will retry")
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

// connect makes one connection attempt. A JetStream or stream-declaration
// failure after a successful dial closes the connection and fails the whole
// attempt, so the caller's retry loop covers it too.
func (m *Manager) connect(ctx context.Context) error {
	nc, err := nats.Connect(m.url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(retryDelay),
	)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("jetstream context: %w", err)
	}

	declCtx, cancel := context.WithTimeout(ctx, declareTimeout)
	defer cancel()
	if err := declareStreams(declCtx, js); err != nil {
		nc.Close()
		return fmt.Errorf("declare streams: %w", err)
	}

	m.mu.Lock()
	m.nc = nc
	m.js = js
	m.mu.Unlock()

	m.readyOnce.Do(func() { close(m.ready) })
	m.log.Info().Str("url", m.url).Msg("broker connected, streams ready")

	m.flushPending(ctx)
	return nil
}

// declareStreams declares the queue topology. CreateOrUpdateStream is
// idempotent: declaring an existing stream with matching properties is a
// no-op.
func declareStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        StreamChatQueue,
			Description: "Inbound chat work items",
			Subjects:    []string{SubjectChatQueue},
			Retention:   jetstream.WorkQueuePolicy,
			Storage:     jetstream.FileStorage,
		},
		{
			Name:        StreamChatResponses,
			Description: "Chat worker replies",
			Subjects:    []string{SubjectChatResponses},
			Retention:   jetstream.WorkQueuePolicy,
			Storage:     jetstream.FileStorage,
		},
	}
	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// Ready returns a channel that is closed once the first broker connection has
// succeeded and the streams are declared.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Handle returns the current JetStream handle, or false while disconnected.
func (m *Manager) Handle() (jetstream.JetStream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.js, m.js != nil
}

// Publish sends data to the given subject. While the broker is not yet
// connected the message is placed in a bounded buffer and flushed after the
// first successful connection; at capacity the oldest entry is evicted.
func (m *Manager) Publish(ctx context.Context, subject string, data []byte) error {
	js, ok := m.Handle()
	if !ok {
		m.bufferPublish(ctx, subject, data)
		return nil
	}
	if _, err := js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// bufferPublish stores a publish that found no handle. connect can install
// the handle and run its flush between the caller's readiness check and the
// add here, so the handle is re-checked after the add; otherwise the entry
// would sit in the buffer with nothing left to drain it.
func (m *Manager) bufferPublish(ctx context.Context, subject string, data []byte) {
	if evicted := m.pending.add(subject, data); evicted > 0 {
		m.log.Warn().Int("evicted", evicted).Msg("pending publish buffer full, dropping oldest")
	} else {
		m.log.Debug().Str("subject", subject).Msg("broker not ready, buffering publish")
	}
	if _, ok := m.Handle(); ok {
		m.flushPending(ctx)
	}
}

func (m *Manager) flushPending(ctx context.Context) {
	items := m.pending.drain()
	if len(items) == 0 {
		return
	}
	m.log.Info().Int("count", len(items)).Msg("flushing buffered publishes")
	for _, p := range items {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := m.Publish(pubCtx, p.subject, p.data)
		cancel()
		if err != nil {
			m.log.Warn().Err(err).Str("subject", p.subject).Msg("failed to flush buffered publish")
		}
	}
}

// Close drains the broker connection if one exists.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nc != nil {
		if err := m.nc.Drain(); err != nil {
			m.log.Warn().Err(err).Msg("broker drain failed")
		}
		m.nc = nil
		m.js = nil
	}
}
