package rbac

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Checker is the engine facade: it answers CheckPermission by consulting
// the cache in front of the pure evaluator, and emits audit records and
// metrics for every decision. Construct one per process and inject it.
type Checker struct {
	catalog *Catalog
	cache   *DecisionCache
	audit   AuditSink
	metrics *Metrics
	logger  *slog.Logger
	clock   func() time.Time
}

// CheckerOptions wires the checker's collaborators.
type CheckerOptions struct {
	Catalog *Catalog
	Cache   *DecisionCache
	Audit   AuditSink
	Metrics *Metrics
	Logger  *slog.Logger
}

// NewChecker constructs a Checker. Catalog and Cache are required; audit
// and metrics default to no-ops.
func NewChecker(opts CheckerOptions) *Checker {
	audit := opts.Audit
	if audit == nil {
		audit = NopSink{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		catalog: opts.Catalog,
		cache:   opts.Cache,
		audit:   audit,
		metrics: opts.Metrics,
		logger:  logger,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// CheckPermission decides whether the principal may perform the requested
// action. Every error path fails closed: a decision the engine cannot
// determine is a deny. The caller's ctx deadline bounds how long the call
// may wait on an in-flight computation; on expiry ErrTimeout is returned
// and the computation keeps running for later callers.
func (ch *Checker) CheckPermission(ctx context.Context, req CheckRequest) (Decision, error) {
	start := ch.clock()
	if req.Scope == "" {
		req.Scope = ScopeAll
	}

	role, generation, err := ch.catalog.RoleSnapshot(req.Role)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Unknown role is a deny, not a fault.
			dec := Decision{Reason: ReasonNoMatch}
			ch.finish(req, dec, false, start)
			return dec, nil
		}
		return Decision{Reason: ReasonNoMatch}, err
	}

	requested := Permission{Resource: req.Resource, Action: req.Action, Scope: req.Scope}
	dec, cacheHit, err := ch.cache.GetOrCompute(ctx, req.PrincipalID, req.Resource, req.Action, req.Scope, req.OwnershipSatisfied, generation, func() (Decision, error) {
		return Evaluate(role, requested, req.OwnershipSatisfied), nil
	})
	if err != nil {
		ch.logger.Warn("permission check failed closed",
			slog.String("principal", req.PrincipalID),
			slog.String("resource", req.Resource),
			slog.String("action", req.Action),
			slog.Any("error", err),
		)
		return Decision{Reason: ReasonNoMatch}, err
	}

	ch.finish(req, dec, cacheHit, start)
	return dec, nil
}

func (ch *Checker) finish(req CheckRequest, dec Decision, cacheHit bool, start time.Time) {
	elapsed := ch.clock().Sub(start)
	ch.metrics.ObserveCheck(req.Resource, dec, elapsed)
	ch.audit.Emit(AuditRecord{
		Timestamp:    start,
		PrincipalID:  req.PrincipalID,
		Role:         req.Role,
		Resource:     req.Resource,
		Action:       req.Action,
		Scope:        req.Scope,
		Allowed:      dec.Allowed,
		Reason:       dec.Reason,
		LatencyMicro: elapsed.Microseconds(),
		CacheHit:     cacheHit,
	})
}

// Catalog exposes the underlying catalog for admin surfaces.
func (ch *Checker) Catalog() *Catalog { return ch.catalog }

// Cache exposes the underlying cache for admin surfaces.
func (ch *Checker) Cache() *DecisionCache { return ch.cache }
