// Package hub fans telemetry snapshots out to stream clients. The Registry
// tracks open clients, and the Broadcaster pushes snapshots on a ticker and
// on demand.
package hub

import (
	"fmt"
	"sync"
	"time"

	"github.com/servo-bridge/backend/internal/journal"
	"github.com/servo-bridge/backend/internal/logger"
	"github.com/servo-bridge/backend/internal/metrics"
	"github.com/servo-bridge/backend/internal/models"
	"go.uber.org/zap"
)

// SnapshotSource provides consistent state copies. *state.Store satisfies it.
type SnapshotSource interface {
	Snapshot() models.Snapshot
}

// Options controls per-client behaviour.
type Options struct {
	SendQueue    int
	WriteTimeout time.Duration
	// IdleTimeout closes clients without inbound traffic; zero disables it.
	// Clients are pinged every IdleTimeout/2 and pongs count as traffic.
	IdleTimeout time.Duration
}

// Registry is the set of open stream clients.
type Registry struct {
	src     SnapshotSource
	opts    Options
	journal journal.Sink
	metrics *metrics.Metrics
	log     *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry(src SnapshotSource, opts Options, sink journal.Sink, m *metrics.Metrics, log *zap.Logger) *Registry {
	if opts.SendQueue < 1 {
		opts.SendQueue = 16
	}
	if sink == nil {
		sink = journal.Discard{}
	}
	return &Registry{
		src:     src,
		opts:    opts,
		journal: sink,
		metrics: m,
		log:     logger.Component(log, "hub"),
		clients: make(map[string]*Client),
	}
}

// NewClient wraps conn in a client in the Connecting state.
func (r *Registry) NewClient(conn Conn, enc Encoding) *Client {
	c := newClient(conn, enc, r.opts.SendQueue, r.opts.WriteTimeout, r.opts.IdleTimeout/2, r.log)
	c.onClose = r.remove
	return c
}

// Register sends the current snapshot to c, then makes it visible to
// broadcasts. The first frame a client receives is always a full snapshot.
func (r *Registry) Register(c *Client) error {
	frame, err := Encode(c.Encoding, r.src.Snapshot().Telemetry())
	if err != nil {
		c.Close(ReasonWriteFailed)
		return fmt.Errorf("encode initial snapshot: %w", err)
	}
	if err := c.write(frame); err != nil {
		c.Close(ReasonWriteFailed)
		return fmt.Errorf("send initial snapshot: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		c.Close(ReasonShutdown)
		return ErrClientClosed
	}
	c.state.Store(int32(StateOpen))
	r.clients[c.ID] = c
	n := len(r.clients)
	r.mu.Unlock()

	go c.writeLoop()

	r.metrics.SetClients(n)
	r.journal.Record(models.Event{Kind: models.EventClient, Detail: fmt.Sprintf("connected %s (%s)", c.ID, c.Encoding)})
	r.log.Info("stream client connected", zap.String("client", c.ID), zap.String("encoding", string(c.Encoding)), zap.Int("clients", n))
	return nil
}

// remove is the client's close callback.
func (r *Registry) remove(c *Client, reason string) {
	r.mu.Lock()
	_, ok := r.clients[c.ID]
	delete(r.clients, c.ID)
	n := len(r.clients)
	r.mu.Unlock()
	if !ok {
		return
	}

	r.metrics.SetClients(n)
	if reason != ReasonClientClosed && reason != ReasonShutdown {
		r.metrics.ClientDropped(reason)
	}
	r.journal.Record(models.Event{Kind: models.EventClient, Detail: fmt.Sprintf("disconnected %s: %s", c.ID, reason)})
	r.log.Info("stream client disconnected", zap.String("client", c.ID), zap.String("reason", reason), zap.Int("clients", n))
}

// members returns the open clients at this instant.
func (r *Registry) members() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast queues snap for every client and returns how many accepted it.
// Each encoding is serialised once. Clients whose queue is full are closed
// and pruned; the others are unaffected.
func (r *Registry) Broadcast(snap models.Snapshot) int {
	clients := r.members()
	if len(clients) == 0 {
		return 0
	}

	telemetry := snap.Telemetry()
	frames := make(map[Encoding][]byte, 2)
	delivered := 0
	for _, c := range clients {
		frame, ok := frames[c.Encoding]
		if !ok {
			var err error
			frame, err = Encode(c.Encoding, telemetry)
			if err != nil {
				r.log.Error("failed to encode snapshot", zap.String("encoding", string(c.Encoding)), zap.Error(err))
				continue
			}
			frames[c.Encoding] = frame
		}

		switch err := c.Enqueue(frame); err {
		case nil:
			delivered++
		case ErrQueueFull:
			r.log.Warn("dropping slow stream client", zap.String("client", c.ID))
			c.Close(ReasonQueueFull)
		}
	}
	return delivered
}

// SweepIdle closes clients with no inbound traffic since IdleTimeout.
func (r *Registry) SweepIdle(now time.Time) {
	if r.opts.IdleTimeout <= 0 {
		return
	}
	for _, c := range r.members() {
		if now.Sub(c.LastSeen()) > r.opts.IdleTimeout {
			c.Close(ReasonIdle)
		}
	}
}

// Count returns the number of open clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CloseAll closes every client and refuses new registrations.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	for _, c := range r.members() {
		c.Close(ReasonShutdown)
	}
}
