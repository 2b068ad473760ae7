package tinyioc

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ScopeStore keeps "current scope" for one flow of execution.
// Implementations differ in what a flow is: a goroutine or a context.Context chain.
type ScopeStore interface {
	// Load returns scope stored for the flow of ctx.
	Load(ctx context.Context) *Scope
	// Store makes s current for the flow of ctx.
	// Returned context should be used by the flow from now on.
	Store(ctx context.Context, s *Scope) context.Context
	// Release is called once s is disposed.
	// If s is current, or an ancestor of current, for its own flow,
	// its parent becomes current.
	Release(s *Scope)
}

// ScopeManager begins scopes and tracks current scope for one scoped lifestyle.
type ScopeManager struct {
	registry   *Registry
	store      ScopeStore
	lifestyle  Lifestyle
	beginScope string
}

func newScopeManager(r *Registry, lifestyle Lifestyle, store ScopeStore, beginScope string) *ScopeManager {
	return &ScopeManager{
		registry:   r,
		store:      store,
		lifestyle:  lifestyle,
		beginScope: beginScope,
	}
}

// Lifestyle returns lifestyle served by m.
func (m *ScopeManager) Lifestyle() Lifestyle {
	return m.lifestyle
}

// BeginScope starts new scope, child of the current one, and makes it current.
// For FlowScoped lifestyle returned context carries the scope and should be passed down.
func (m *ScopeManager) BeginScope(ctx context.Context) (context.Context, *Scope) {
	if ctx == nil {
		ctx = context.Background()
	}

	parent := m.CurrentScope(ctx)
	scope := newScope(ctx, m.registry, m, parent)

	ctx = m.store.Store(ctx, scope)
	scope.ctx = ctx

	m.registry.logger.Debug(
		"scope started",
		zap.String("lifestyle", m.lifestyle.Name()),
		zap.Stringer("scope", scope.id),
	)

	return ctx, scope
}

// CurrentScope returns current live scope or nil.
// Disposed scopes are skipped and stored pointer is moved to the nearest live ancestor.
func (m *ScopeManager) CurrentScope(ctx context.Context) *Scope {
	if ctx == nil {
		ctx = context.Background()
	}

	stored := m.store.Load(ctx)

	live := stored
	for live != nil && live.IsDisposed() {
		live = live.parent
	}

	if live != stored {
		m.store.Store(ctx, live)
	}

	return live
}

func (m *ScopeManager) release(s *Scope) {
	m.store.Release(s)
}

func nearestLive(s *Scope) *Scope {
	for s != nil && s.IsDisposed() {
		s = s.parent
	}

	return s
}

func newGoroutineStore() ScopeStore {
	return &goroutineStore{current: make(map[int64]*Scope)}
}

type goroutineStore struct {
	current map[int64]*Scope
	mu      sync.Mutex
}

func (gs *goroutineStore) Load(_ context.Context) *Scope {
	id, ok := goid()
	if !ok {
		return nil
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()

	return gs.current[id]
}

func (gs *goroutineStore) Store(ctx context.Context, s *Scope) context.Context {
	id, ok := goid()
	if !ok {
		if s != nil {
			s.registry.logger.Warn("goroutine id is unavailable, scope is not current", zap.Stringer("scope", s.id))
		}

		return ctx
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()

	if s == nil {
		delete(gs.current, id)
		return ctx
	}

	if s.flow == nil {
		s.flow = id
	}

	gs.current[id] = s

	return ctx
}

func (gs *goroutineStore) Release(s *Scope) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	id, ok := s.flow.(int64)
	if !ok {
		return
	}

	for current := gs.current[id]; current != nil; current = current.parent {
		if current != s {
			continue
		}

		if parent := nearestLive(s.parent); parent != nil {
			gs.current[id] = parent
		} else {
			delete(gs.current, id)
		}

		return
	}
}

type scopeContextKey struct {
	store *contextStore
}

func newContextStore() ScopeStore {
	return new(contextStore)
}

// contextStore keeps current scope as a context value.
// Forked flows get their own contexts, so ending a child flow never changes the parent's scope.
type contextStore struct {
	// not zero-sized: pointers to distinct stores have to differ
	_ byte
}

func (cs *contextStore) Load(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeContextKey{store: cs}).(*Scope)
	return s
}

func (cs *contextStore) Store(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{store: cs}, s)
}

func (cs *contextStore) Release(*Scope) {}
