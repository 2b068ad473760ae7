package tinyioc

import (
	"context"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// KnownRelationship is a dependency edge recorded while a creation plan is built.
type KnownRelationship struct {
	// Implementation of the consumer.
	Implementation reflect.Type
	// Lifestyle of the consumer.
	Lifestyle  Lifestyle
	Consumer   *InstanceProducer
	Dependency *InstanceProducer
}

// InstanceProducer produces instances of one key using its Registration.
// Creation plan of a producer is built once, on first use.
type InstanceProducer struct {
	registry       *Registry
	registration   *Registration
	key            Key
	plan           atomic.Pointer[plan]
	relationships  []KnownRelationship
	autoRegistered bool
	mu             sync.Mutex
	relMu          sync.RWMutex
}

func newInstanceProducer(r *Registry, key Key, reg *Registration, autoRegistered bool) *InstanceProducer {
	return &InstanceProducer{
		registry:       r,
		key:            key,
		registration:   reg,
		autoRegistered: autoRegistered,
	}
}

func (p *InstanceProducer) Key() Key {
	return p.key
}

func (p *InstanceProducer) Registration() *Registration {
	return p.registration
}

func (p *InstanceProducer) Lifestyle() Lifestyle {
	return p.registration.lifestyle
}

func (p *InstanceProducer) Implementation() reflect.Type {
	return p.registration.recipe.Implementation
}

// IsContainerAutoRegistered reports whether p was created for an unregistered concrete type.
func (p *InstanceProducer) IsContainerAutoRegistered() bool {
	return p.autoRegistered
}

// IsBuilt reports whether creation plan of p is already built.
func (p *InstanceProducer) IsBuilt() bool {
	return p.plan.Load() != nil
}

// Relationships returns dependencies recorded while creation plan of p was built.
func (p *InstanceProducer) Relationships() []KnownRelationship {
	p.relMu.RLock()
	defer p.relMu.RUnlock()

	return slices.Clone(p.relationships)
}

func (p *InstanceProducer) String() string {
	return p.key.String()
}

// GetInstance returns instance of p.
// Scoped services are taken from current scope of ctx.
func (p *InstanceProducer) GetInstance(ctx context.Context) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	return p.getInstance(&activation{ctx: ctx})
}

func (p *InstanceProducer) getInstance(a *activation) (any, error) {
	if p.registry.closed.Load() {
		return nil, newActivationError(p.key, newObjectDisposedError("registry"))
	}

	pl, err := p.build(nil)
	if err != nil {
		return nil, err
	}

	return pl(a)
}

// build returns creation plan of p building it if needed.
// Dependencies are built first and no lock is held while building them,
// stack holds producers of the current build call and detects cycles.
func (p *InstanceProducer) build(stack []*InstanceProducer) (plan, error) {
	if pl := p.plan.Load(); pl != nil {
		return *pl, nil
	}

	if slices.Contains(stack, p) {
		return nil, newCyclicDependencyError(p.key, stack)
	}

	stack = append(stack, p)

	deps := p.registration.recipe.Dependencies
	producers := make([]*InstanceProducer, len(deps))
	plans := make([]plan, len(deps))

	for i, dep := range deps {
		dp, err := p.registry.GetOrBuildProducer(dep)
		if err != nil {
			return nil, newActivationError(p.key, err)
		}

		depPlan, err := dp.build(stack)
		if err != nil {
			return nil, newActivationError(p.key, err)
		}

		producers[i] = dp
		plans[i] = depPlan
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if pl := p.plan.Load(); pl != nil {
		return *pl, nil
	}

	applied, err := p.registration.lifestyle.apply(p.registry, p, p.creator(plans))
	if err != nil {
		return nil, newActivationError(p.key, err)
	}

	for _, dp := range producers {
		p.addRelationship(dp)
	}

	var pl plan = func(a *activation) (any, error) {
		instance, err := applied(a)
		if err != nil {
			if ae, ok := err.(*ActivationError); !ok || ae.Key != p.key {
				err = newActivationError(p.key, err)
			}

			return nil, err
		}

		return instance, nil
	}

	p.plan.Store(&pl)
	p.registry.planBuilt(p)

	return pl, nil
}

func (p *InstanceProducer) creator(deps []plan) plan {
	recipe := p.registration.recipe

	return func(a *activation) (any, error) {
		values := make([]any, len(deps))

		for i, dep := range deps {
			value, err := dep(a)
			if err != nil {
				return nil, err
			}

			values[i] = value
		}

		var (
			instance any
			cleanUp  func()
		)

		err := callWithRecovery(func() (err error) {
			if recipe.CreateContext != nil {
				instance, cleanUp, err = recipe.CreateContext(a.ctx, values)
				return
			}

			instance, err = recipe.Create(values)
			return
		})
		if err != nil {
			return nil, err
		}

		if cleanUp != nil {
			if err := p.trackCleanUp(a, cleanUp); err != nil {
				return nil, err
			}
		}

		if ce := p.registry.logger.Check(zap.DebugLevel, "instance created"); ce != nil {
			ce.Write(zap.Stringer("key", p.key))
		}

		return instance, nil
	}
}

// trackCleanUp hands cleanUp to the scope owning instances of p.
func (p *InstanceProducer) trackCleanUp(a *activation, cleanUp func()) error {
	var owner *Scope

	switch p.registration.lifestyle.Length() {
	case singletonLength:
		owner = p.registry.singletons
	case scopedLength:
		owner = a.scope
	}

	if owner == nil {
		cleanUp()
		return ErrTransientCleanup
	}

	return owner.track(DisposeFunc(func() error {
		cleanUp()
		return nil
	}))
}

func (p *InstanceProducer) addRelationship(dep *InstanceProducer) {
	p.relMu.Lock()
	defer p.relMu.Unlock()

	for _, rel := range p.relationships {
		if rel.Dependency == dep {
			return
		}
	}

	p.relationships = append(p.relationships, KnownRelationship{
		Implementation: p.registration.recipe.Implementation,
		Lifestyle:      p.registration.lifestyle,
		Consumer:       p,
		Dependency:     dep,
	})
}
