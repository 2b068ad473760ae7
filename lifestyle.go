package tinyioc

import (
	"context"
	"sync"
	"sync/atomic"
)

const (
	transientLength = 1
	scopedLength    = 500
	singletonLength = 1000
)

// Lifestyle decides where an instance lives once it is built.
// This interface is sealed.
type Lifestyle interface {
	// Name of the lifestyle, used in errors and diagnostics.
	Name() string
	// Length orders lifestyles by how long instances are cached:
	// Transient < Scoped < Singleton.
	Length() int
	apply(r *Registry, p *InstanceProducer, create plan) (plan, error)
}

var (
	// For Transient service new instance is returned on every call.
	Transient Lifestyle = transient{}
	// For Singleton service same instance is returned always.
	// Disposable singletons are disposed when Registry is closed.
	Singleton Lifestyle = singleton{}
	// For ThreadScoped service same instance is returned within a scope
	// started on the calling goroutine.
	ThreadScoped Lifestyle = &scoped{name: "ThreadScoped"}
	// For FlowScoped service same instance is returned within a scope
	// carried by context.Context.
	FlowScoped Lifestyle = &scoped{name: "FlowScoped"}
	// Scoped uses default scoped lifestyle of the Registry (FlowScoped unless configured).
	Scoped Lifestyle = defaultScoped{}
)

func lifestyleName(l Lifestyle) string {
	if l == nil {
		return "<nil>"
	}

	return l.Name()
}

// activation carries state of a single Resolve call through the plans.
type activation struct {
	ctx   context.Context
	scope *Scope
}

func (a *activation) within(scope *Scope) *activation {
	if a.scope == scope {
		return a
	}

	return &activation{ctx: a.ctx, scope: scope}
}

// plan builds or returns cached instance.
type plan func(a *activation) (any, error)

type transient struct{}

func (transient) Name() string { return "Transient" }
func (transient) Length() int  { return transientLength }

func (transient) apply(_ *Registry, _ *InstanceProducer, create plan) (plan, error) {
	return create, nil
}

type singletonSlot struct {
	value atomic.Pointer[any]
	mu    sync.Mutex
}

type singleton struct{}

func (singleton) Name() string { return "Singleton" }
func (singleton) Length() int  { return singletonLength }

func (singleton) apply(r *Registry, p *InstanceProducer, create plan) (plan, error) {
	slot := new(singletonSlot)
	owned := !p.registration.external

	return func(a *activation) (any, error) {
		if v := slot.value.Load(); v != nil {
			return *v, nil
		}

		slot.mu.Lock()
		defer slot.mu.Unlock()

		if v := slot.value.Load(); v != nil {
			return *v, nil
		}

		instance, err := create(a)
		if err != nil {
			return nil, err
		}

		if owned {
			if err := r.singletons.track(instance); err != nil {
				return nil, err
			}
		}

		slot.value.Store(&instance)

		return instance, nil
	}, nil
}

type scoped struct {
	name string
}

func (l *scoped) Name() string { return l.name }
func (l *scoped) Length() int  { return scopedLength }

func (l *scoped) apply(r *Registry, p *InstanceProducer, create plan) (plan, error) {
	manager, err := r.ScopeManager(l)
	if err != nil {
		return nil, err
	}

	return func(a *activation) (any, error) {
		scope := a.scope
		if scope == nil || scope.manager != manager {
			scope = manager.CurrentScope(a.ctx)
		}

		if scope == nil {
			return nil, newScopeRequiredError(p.key, p.registration.lifestyle, manager.beginScope)
		}

		return scope.getOrCreate(p, func() (any, error) {
			return create(a.within(scope))
		})
	}, nil
}

type defaultScoped struct{}

func (defaultScoped) Name() string { return "Scoped" }
func (defaultScoped) Length() int  { return scopedLength }

func (defaultScoped) apply(r *Registry, p *InstanceProducer, create plan) (plan, error) {
	return r.conf.DefaultScopedLifestyle.apply(r, p, create)
}
