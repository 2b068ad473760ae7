package tinyioc

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type scopeState int

const (
	scopeOpen scopeState = iota
	// end-of-scope callbacks are running, resolution is still allowed
	scopeEnding
	scopeDisposing
	scopeDisposed
)

// Disposable is implemented by services that hold resources.
// Instances implementing Disposable or io.Closer are disposed together with the scope that cached them.
type Disposable interface {
	Dispose() error
}

// DisposeFunc adapts a function to Disposable.
type DisposeFunc func() error

func (fn DisposeFunc) Dispose() error {
	return fn()
}

func toDisposable(instance any) (Disposable, bool) {
	switch d := instance.(type) {
	case Disposable:
		return d, true
	case io.Closer:
		return DisposeFunc(d.Close), true
	default:
		return nil, false
	}
}

func callWithRecovery(fn func() error) (err error) {
	defer func() {
		if rp := recover(); rp != nil {
			err = newPanicError(rp)
		}
	}()

	return fn()
}

type serviceScope struct {
	value *any
	mu    sync.Mutex
}

// Scope caches scoped instances for one unit of work and disposes them when the unit of work ends.
// Scopes are created by ScopeManager and form a chain through their parents.
type Scope struct {
	ctx         context.Context
	registry    *Registry
	manager     *ScopeManager
	parent      *Scope
	flow        any
	services    map[*InstanceProducer]*serviceScope
	disposables []Disposable
	endActions  []func() error
	state       scopeState
	id          uuid.UUID
	mu          sync.Mutex
}

func newScope(ctx context.Context, r *Registry, manager *ScopeManager, parent *Scope) *Scope {
	return &Scope{
		ctx:      ctx,
		id:       uuid.New(),
		registry: r,
		manager:  manager,
		parent:   parent,
		services: make(map[*InstanceProducer]*serviceScope),
	}
}

func (s *Scope) ID() uuid.UUID {
	return s.id
}

// Parent returns the scope that was current when s began, or nil.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// Context returns context the scope was started with.
func (s *Scope) Context() context.Context {
	return s.ctx
}

func (s *Scope) IsDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state == scopeDisposed
}

func (s *Scope) String() string {
	return fmt.Sprintf("scope %s", s.id)
}

// Resolve returns service registered under key using s for scoped services.
func (s *Scope) Resolve(key Key) (any, error) {
	p, err := s.registry.GetOrBuildProducer(key)
	if err != nil {
		return nil, asActivationError(key, err)
	}

	return s.GetInstance(p)
}

// GetInstance returns instance produced by p using s for scoped services.
func (s *Scope) GetInstance(p *InstanceProducer) (any, error) {
	if p.registry != s.registry {
		return nil, newActivationError(p.key, ErrForeignScope)
	}

	if s.disposing() {
		return nil, newActivationError(p.key, newObjectDisposedError(s.String()))
	}

	return p.getInstance(&activation{ctx: s.ctx, scope: s})
}

// RegisterForDisposal adds instance to the list of objects disposed at the end of the scope.
// Instance should implement Disposable or io.Closer.
func (s *Scope) RegisterForDisposal(instance any) error {
	d, ok := toDisposable(instance)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotDisposable, instance)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state >= scopeDisposing {
		return newObjectDisposedError(s.String())
	}

	s.disposables = append(s.disposables, d)

	return nil
}

// WhenScopeEnds registers fn to be called when the scope ends,
// before any instance of the scope is disposed.
// Callbacks are called in registration order.
func (s *Scope) WhenScopeEnds(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state >= scopeDisposing {
		return newObjectDisposedError(s.String())
	}

	s.endActions = append(s.endActions, fn)

	return nil
}

// Dispose ends the scope: runs callbacks registered with WhenScopeEnds
// and then disposes cached instances in reverse creation order.
// All failures are collected into AggregateDisposalError.
// Calling Dispose more than once is a no-op.
func (s *Scope) Dispose() error {
	s.mu.Lock()
	if s.state != scopeOpen {
		s.mu.Unlock()
		return nil
	}

	s.state = scopeEnding
	s.mu.Unlock()

	var errs []error

	// callbacks can register more callbacks
	for {
		s.mu.Lock()
		actions := s.endActions
		s.endActions = nil

		if len(actions) == 0 {
			s.state = scopeDisposing
			s.mu.Unlock()

			break
		}

		s.mu.Unlock()

		for _, action := range actions {
			if err := callWithRecovery(action); err != nil {
				errs = append(errs, err)
			}
		}
	}

	s.mu.Lock()
	disposables := s.disposables
	s.disposables = nil
	s.mu.Unlock()

	for i := len(disposables) - 1; i >= 0; i-- {
		if err := callWithRecovery(disposables[i].Dispose); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	s.state = scopeDisposed
	s.services = nil
	s.mu.Unlock()

	if s.manager != nil {
		s.manager.release(s)
	}

	s.registry.logger.Debug(
		"scope disposed",
		zap.Stringer("scope", s.id),
		zap.Int("disposed", len(disposables)),
		zap.Int("errors", len(errs)),
	)

	return newAggregateDisposalError(errs)
}

func (s *Scope) disposing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state >= scopeDisposing
}

func (s *Scope) getOrCreate(p *InstanceProducer, create func() (any, error)) (any, error) {
	s.mu.Lock()
	if s.state >= scopeDisposing {
		s.mu.Unlock()
		return nil, newObjectDisposedError(s.String())
	}

	service, ok := s.services[p]
	if !ok {
		service = new(serviceScope)
		s.services[p] = service
	}
	s.mu.Unlock()

	service.mu.Lock()
	defer service.mu.Unlock()

	if service.value != nil {
		return *service.value, nil
	}

	instance, err := create()
	if err != nil {
		return nil, err
	}

	if err := s.track(instance); err != nil {
		return nil, err
	}

	service.value = &instance

	return instance, nil
}

// track remembers instance for disposal.
// Instance built after the scope started disposing is disposed right away.
func (s *Scope) track(instance any) error {
	d, disposable := toDisposable(instance)

	s.mu.Lock()
	if s.state >= scopeDisposing {
		s.mu.Unlock()

		if disposable {
			_ = callWithRecovery(d.Dispose)
		}

		return newObjectDisposedError(s.String())
	}

	if disposable {
		s.disposables = append(s.disposables, d)
	}
	s.mu.Unlock()

	return nil
}
