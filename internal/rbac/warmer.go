package rbac

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// PrincipalState tracks where a principal sits in the warm lifecycle:
// cold (nothing cached), warm (working set populated), stale (invalidated,
// awaiting re-warm, back to cold once purged).
type PrincipalState string

const (
	StateCold  PrincipalState = "cold"
	StateWarm  PrincipalState = "warm"
	StateStale PrincipalState = "stale"
)

// Warmer pre-populates the decision cache for known hot principals and
// purges entries when the catalog mutates. It subscribes to catalog
// mutation events; because listeners run before the mutating call returns,
// no caller can observe a stale cached decision after a role update has
// been acknowledged.
type Warmer struct {
	checker *Checker
	cache   *DecisionCache
	logger  *slog.Logger

	mu         sync.Mutex
	principals map[string]*trackedPrincipal
}

type trackedPrincipal struct {
	role  RoleID
	state PrincipalState
}

// NewWarmer wires a warmer to the checker and cache; call
// Catalog.Subscribe(w) to attach it to mutation events.
func NewWarmer(checker *Checker, cache *DecisionCache, logger *slog.Logger) *Warmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{
		checker:    checker,
		cache:      cache,
		logger:     logger,
		principals: make(map[string]*trackedPrincipal),
	}
}

// Register tracks a principal and the role it holds. Cold until warmed.
func (w *Warmer) Register(principalID string, role RoleID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.principals[principalID]; ok {
		if p.role != role {
			p.role = role
			p.state = StateStale
		}
		return
	}
	w.principals[principalID] = &trackedPrincipal{role: role, state: StateCold}
}

// Deactivate purges a principal's cached decisions and stops tracking it,
// used on account deactivation or explicit administrative invalidation.
func (w *Warmer) Deactivate(principalID string) {
	w.mu.Lock()
	delete(w.principals, principalID)
	w.mu.Unlock()
	w.cache.Invalidate(principalID)
}

// State reports a principal's lifecycle state; unknown principals are cold.
func (w *Warmer) State(principalID string) PrincipalState {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.principals[principalID]; ok {
		return p.state
	}
	return StateCold
}

// CatalogMutated implements MutationListener. It invalidates every tracked
// principal affected by the mutation before the catalog call returns.
func (w *Warmer) CatalogMutated(m Mutation) {
	if m.FullReload {
		w.cache.InvalidateAll()
		w.mu.Lock()
		for _, p := range w.principals {
			if p.state != StateCold {
				p.state = StateStale
			}
		}
		w.mu.Unlock()
		return
	}
	affected := make(map[RoleID]struct{}, len(m.Roles))
	for _, role := range m.Roles {
		affected[role] = struct{}{}
	}
	w.mu.Lock()
	var invalidate []string
	for id, p := range w.principals {
		if _, hit := affected[p.role]; hit {
			invalidate = append(invalidate, id)
			if p.state != StateCold {
				p.state = StateStale
			}
		}
	}
	w.mu.Unlock()
	for _, id := range invalidate {
		w.cache.Invalidate(id)
	}
}

// Warm computes and caches decisions for every tracked principal over the
// given working set of permissions. Called by an external scheduler, never
// self-triggered. Warming evaluates without the ownership predicate; the
// ownership-positive variants populate on first real request.
func (w *Warmer) Warm(ctx context.Context, permissions []Permission) error {
	w.mu.Lock()
	targets := make(map[string]RoleID, len(w.principals))
	for id, p := range w.principals {
		targets[id] = p.role
	}
	w.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for id, role := range targets {
		for _, perm := range permissions {
			g.Go(func() error {
				_, err := w.checker.CheckPermission(ctx, CheckRequest{
					PrincipalID: id,
					Role:        role,
					Resource:    perm.Resource,
					Action:      perm.Action,
					Scope:       perm.Scope,
				})
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	w.mu.Lock()
	for id := range targets {
		if p, ok := w.principals[id]; ok {
			p.state = StateWarm
		}
	}
	w.mu.Unlock()
	w.logger.Info("cache warm complete", slog.Int("principals", len(targets)), slog.Int("permissions", len(permissions)))
	return nil
}
