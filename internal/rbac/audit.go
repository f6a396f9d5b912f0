package rbac

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditRecord is emitted for every decision and forwarded to the external
// audit collaborator. The engine never persists these itself.
type AuditRecord struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	PrincipalID  string    `json:"principal_id"`
	Role         RoleID    `json:"role"`
	Resource     string    `json:"resource"`
	Action       string    `json:"action"`
	Scope        Scope     `json:"scope"`
	Allowed      bool      `json:"allowed"`
	Reason       Reason    `json:"reason"`
	LatencyMicro int64     `json:"latency_micros"`
	CacheHit     bool      `json:"cache_hit"`
}

// AuditSink receives decision records. Implementations must not block the
// caller; the engine treats emission as fire-and-forget.
type AuditSink interface {
	Emit(AuditRecord)
}

// NopSink discards every record.
type NopSink struct{}

func (NopSink) Emit(AuditRecord) {}

// LogSink forwards audit records to slog from a single background drainer.
// Records are queued on a bounded channel; when the queue is full the
// record is dropped and counted rather than blocking the decision path.
type LogSink struct {
	logger  *slog.Logger
	metrics *Metrics
	queue   chan AuditRecord
	done    chan struct{}
	once    sync.Once
}

// NewLogSink starts a sink draining into the given logger. A nil logger
// falls back to slog.Default; queueSize <= 0 uses a sane default.
func NewLogSink(logger *slog.Logger, metrics *Metrics, queueSize int) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	s := &LogSink{
		logger:  logger,
		metrics: metrics,
		queue:   make(chan AuditRecord, queueSize),
		done:    make(chan struct{}),
	}
	go s.drain()
	return s
}

// Emit queues a record, dropping it when the queue is full.
func (s *LogSink) Emit(rec AuditRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	select {
	case s.queue <- rec:
	default:
		s.metrics.AuditDropped()
	}
}

// Close flushes queued records and stops the drainer.
func (s *LogSink) Close(ctx context.Context) error {
	s.once.Do(func() { close(s.queue) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *LogSink) drain() {
	defer close(s.done)
	for rec := range s.queue {
		s.logger.Info("permission decision",
			slog.String("audit_id", rec.ID),
			slog.Time("at", rec.Timestamp),
			slog.String("principal", rec.PrincipalID),
			slog.String("role", string(rec.Role)),
			slog.String("resource", rec.Resource),
			slog.String("action", rec.Action),
			slog.String("scope", string(rec.Scope)),
			slog.Bool("allowed", rec.Allowed),
			slog.String("reason", string(rec.Reason)),
			slog.Int64("latency_micros", rec.LatencyMicro),
			slog.Bool("cache_hit", rec.CacheHit),
		)
	}
}
