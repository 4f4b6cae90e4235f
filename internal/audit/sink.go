// Package audit writes append-only records of security-relevant
// events. Writes are fire-and-forget: they are queued for a background
// writer and must never fail the request that produced them.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/passkeep/passkeep/internal/storage"
	"github.com/passkeep/passkeep/pkg/models"
	"github.com/rs/zerolog/log"
)

// Event is the caller-facing shape of one audit record. All identifier
// fields are optional; anonymous events carry no UserID.
type Event struct {
	Action   string
	OrgID    string
	UserID   string
	TargetID string
	ClientIP string
	Metadata map[string]any
}

// Recorder accepts audit events. It never returns an error to the
// caller; failures are logged for operator visibility and swallowed.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// Sink queues events on a buffered channel drained by one background
// goroutine. When the queue is full the event is dropped with a log
// line rather than blocking the request.
type Sink struct {
	store storage.Store
	queue chan *models.AuditEvent
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewSink starts the background writer with the given queue size.
func NewSink(store storage.Store, queueSize int) *Sink {
	if queueSize <= 0 {
		queueSize = 256
	}
	s := &Sink{
		store: store,
		queue: make(chan *models.AuditEvent, queueSize),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.queue {
		// The parent request may be long gone; writes get their own
		// bounded context.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.store.WriteAuditEvent(ctx, ev); err != nil {
			log.Warn().Err(err).Str("action", ev.Action).Msg("audit write failed")
		}
		cancel()
	}
}

// Record queues e without blocking. The ctx is accepted for interface
// symmetry but the write itself is detached from it. Events arriving
// after Close are dropped, never panicked on.
func (s *Sink) Record(ctx context.Context, e Event) {
	ev := &models.AuditEvent{
		Action:    e.Action,
		OrgID:     e.OrgID,
		UserID:    e.UserID,
		TargetID:  e.TargetID,
		ClientIP:  e.ClientIP,
		Metadata:  e.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		log.Warn().Str("action", e.Action).Msg("audit sink closed, event dropped")
		return
	}
	select {
	case s.queue <- ev:
	default:
		log.Warn().Str("action", e.Action).Msg("audit queue full, event dropped")
	}
}

// Close stops accepting events and waits for the queue to drain.
// Safe to call more than once.
func (s *Sink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

// Query retrieves audit log entries through the sink's store.
func (s *Sink) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEvent, error) {
	return s.store.QueryAuditLog(ctx, filter)
}
