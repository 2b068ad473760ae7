package tinyioc

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const (
	threadScopeHint string = "ScopeManager(ThreadScoped).BeginScope"
	flowScopeHint   string = "Registry.BeginScope or Registry.WithScope"
)

// UnregisteredTypeRule is consulted when a key with no registration is resolved.
// It returns a Registration for key, or false if key is not handled by the rule.
type UnregisteredTypeRule func(key Key) (*Registration, bool)

type producerSlot struct {
	producer atomic.Pointer[InstanceProducer]
	mu       sync.Mutex
}

// Registry holds registrations and builds InstanceProducers for them.
// Registry is locked on the first call to Resolve, GetOrBuildProducer or Verify,
// after that registrations can't be changed.
type Registry struct {
	conf       Configuration
	err        error
	logger     *zap.Logger
	managers   map[Lifestyle]*ScopeManager
	singletons *Scope // owns disposable singletons
	stop       func() bool

	registrations map[Key]*Registration
	decorators    map[Key][]*Registration
	order         []Key
	decorated     []Key
	rules         []UnregisteredTypeRule

	// filled once the registry is locked, read-only afterwards
	effective  map[Key]*Registration
	origins    map[Key]Key
	verifyKeys []Key

	producers sync.Map
	ordered   []*InstanceProducer
	orderMu   sync.Mutex

	mu     sync.Mutex
	locked atomic.Bool
	closed atomic.Bool
}

// Returns new Registry.
func New(opts ...Option) *Registry {
	conf := defaultConfiguration()

	for _, opt := range opts {
		opt(&conf)
	}

	err := conf.validate()
	if err != nil {
		conf.DefaultScopedLifestyle = FlowScoped
	}

	r := &Registry{
		conf:          conf,
		err:           err,
		logger:        conf.Logger,
		registrations: make(map[Key]*Registration),
		decorators:    make(map[Key][]*Registration),
	}

	r.managers = map[Lifestyle]*ScopeManager{
		ThreadScoped: newScopeManager(r, ThreadScoped, newGoroutineStore(), threadScopeHint),
		FlowScoped:   newScopeManager(r, FlowScoped, newContextStore(), flowScopeHint),
	}
	r.singletons = newScope(context.Background(), r, nil, nil)

	if conf.DisposeCtx != nil {
		r.stop = context.AfterFunc(conf.DisposeCtx, func() {
			if err := r.Close(); err != nil {
				r.logger.Error("failed to dispose singletons", zap.Error(err))
			}
		})
	}

	return r
}

// Register adds registration of recipe with lifestyle under key.
func (r *Registry) Register(key Key, recipe Recipe, lifestyle Lifestyle, opts ...RegistrationOption) error {
	reg, err := NewRegistration(recipe, lifestyle, opts...)
	if err != nil {
		return err
	}

	return r.AddRegistration(key, reg)
}

// RegisterConstructor registers constructor under the key of the type it returns.
// Constructor should be of type func([context.Context, ]T1, ...) [T|(T, error)|(T, func(), error)].
func (r *Registry) RegisterConstructor(lifestyle Lifestyle, constructor any, opts ...RegistrationOption) error {
	recipe, err := Constructor(constructor)
	if err != nil {
		return err
	}

	return r.Register(TypeKey(recipe.Implementation), recipe, lifestyle, opts...)
}

// RegisterSingletonInstance registers already built instance as Singleton.
// Registry does not dispose instances registered this way.
func (r *Registry) RegisterSingletonInstance(key Key, instance any) error {
	reg, err := NewRegistration(Value(instance), Singleton)
	if err != nil {
		return err
	}

	reg.external = true

	return r.AddRegistration(key, reg)
}

// AddRegistration adds reg under key.
// One Registration can be added under several keys.
func (r *Registry) AddRegistration(key Key, reg *Registration) error {
	if r.err != nil {
		return r.err
	}

	if err := checkRegistration(key, reg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locked.Load() {
		return ErrConfigurationLocked
	}

	if _, ok := r.registrations[key]; ok {
		if !r.conf.AllowOverriding {
			return newDuplicateRegistrationError(key)
		}
	} else {
		r.order = append(r.order, key)
	}

	r.registrations[key] = reg

	return nil
}

// RegisterDecorator registers recipe that wraps service registered under key.
// Recipe should depend on key, it receives the decorated instance there.
// Decorators wrap each other in registration order, the last one registered is returned by Resolve.
func (r *Registry) RegisterDecorator(key Key, recipe Recipe, lifestyle Lifestyle, opts ...RegistrationOption) error {
	if r.err != nil {
		return r.err
	}

	reg, err := NewRegistration(recipe, lifestyle, opts...)
	if err != nil {
		return err
	}

	if err := checkRegistration(key, reg); err != nil {
		return err
	}

	if !slices.Contains(recipe.Dependencies, key) {
		return newRecipeError(ErrDecoratorBadDependency, recipe)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locked.Load() {
		return ErrConfigurationLocked
	}

	if _, ok := r.decorators[key]; !ok {
		r.decorated = append(r.decorated, key)
	}

	r.decorators[key] = append(r.decorators[key], reg)

	return nil
}

// ResolveUnregistered adds rule consulted for keys that have no registration.
// Rules are consulted in the order they were added, before auto-registration.
func (r *Registry) ResolveUnregistered(rule UnregisteredTypeRule) error {
	if r.err != nil {
		return r.err
	}

	if rule == nil {
		return newRecipeError(ErrNilRecipe, rule)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locked.Load() {
		return ErrConfigurationLocked
	}

	r.rules = append(r.rules, rule)

	return nil
}

// Resolve returns instance registered under key.
// Scoped services are taken from the current scope of ctx.
func (r *Registry) Resolve(ctx context.Context, key Key) (any, error) {
	p, err := r.GetOrBuildProducer(key)
	if err != nil {
		return nil, asActivationError(key, err)
	}

	return p.GetInstance(ctx)
}

// TryResolve is like Resolve but reports false instead of an error
// if key is neither registered nor can be resolved as unregistered type.
func (r *Registry) TryResolve(ctx context.Context, key Key) (any, bool, error) {
	p, err := r.GetOrBuildProducer(key)
	if err != nil {
		var unregistered *UnregisteredKeyError
		if errors.As(err, &unregistered) && unregistered.Key == key {
			return nil, false, nil
		}

		return nil, false, asActivationError(key, err)
	}

	instance, err := p.GetInstance(ctx)
	if err != nil {
		return nil, false, err
	}

	return instance, true, nil
}

// GetOrBuildProducer returns InstanceProducer of key creating it on the first call.
// Exactly one producer is created for a key, failures are not remembered.
func (r *Registry) GetOrBuildProducer(key Key) (*InstanceProducer, error) {
	if r.err != nil {
		return nil, r.err
	}

	r.lock()

	if key.IsZero() {
		return nil, ErrZeroKey
	}

	v, ok := r.producers.Load(key)
	if !ok {
		v, _ = r.producers.LoadOrStore(key, new(producerSlot))
	}

	slot := v.(*producerSlot)
	if p := slot.producer.Load(); p != nil {
		return p, nil
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if p := slot.producer.Load(); p != nil {
		return p, nil
	}

	p, err := r.newProducer(key)
	if err != nil {
		return nil, err
	}

	r.orderMu.Lock()
	r.ordered = append(r.ordered, p)
	r.orderMu.Unlock()

	slot.producer.Store(p)

	r.logger.Debug(
		"producer created",
		zap.Stringer("key", key),
		zap.String("lifestyle", p.Lifestyle().Name()),
		zap.Bool("auto_registered", p.autoRegistered),
	)

	return p, nil
}

// GetAllProducers returns producers created so far, in creation order.
func (r *Registry) GetAllProducers() ([]*InstanceProducer, error) {
	if !r.locked.Load() {
		return nil, ErrNotLocked
	}

	r.orderMu.Lock()
	defer r.orderMu.Unlock()

	return slices.Clone(r.ordered), nil
}

// Verify locks the registry and builds creation plans of all registrations
// and their decorators. Instances are not created.
// Diagnostic results are logged unless SilenceDiagnosticWarnings is used.
func (r *Registry) Verify() error {
	if r.err != nil {
		return r.err
	}

	r.lock()

	var errs []error

	for _, key := range r.verifyKeys {
		p, err := r.GetOrBuildProducer(key)
		if err == nil {
			_, err = p.build(nil)
		}

		if err != nil {
			errs = append(errs, asActivationError(key, err))
		}
	}

	if len(errs) > 0 {
		return &VerificationError{Errors: errs}
	}

	if r.conf.SilenceDiagnosticWarnings {
		return nil
	}

	results, err := r.Analyze()
	if err != nil {
		return err
	}

	for _, result := range results {
		level := zap.WarnLevel
		if result.Severity == Information {
			level = zap.InfoLevel
		}

		r.logger.Log(
			level,
			"your dependency hierarchy can be optimised",
			zap.Stringer("diagnostic", result.Type),
			zap.Stringer("key", result.Key),
			zap.String("description", result.Description),
		)
	}

	return nil
}

// Analyze runs diagnostics over producers created so far.
// Registry should be locked, call Verify first to get results for every registration.
func (r *Registry) Analyze() ([]DiagnosticResult, error) {
	producers, err := r.GetAllProducers()
	if err != nil {
		return nil, err
	}

	return analyze(producers, r.conf.SRPThreshold), nil
}

// BeginScope starts scope of the default scoped lifestyle.
// Returned context should be used to resolve services of the scope.
func (r *Registry) BeginScope(ctx context.Context) (context.Context, *Scope) {
	return r.managers[r.conf.DefaultScopedLifestyle].BeginScope(ctx)
}

// GetCurrentScope returns current scope of the default scoped lifestyle or nil.
func (r *Registry) GetCurrentScope(ctx context.Context) *Scope {
	return r.managers[r.conf.DefaultScopedLifestyle].CurrentScope(ctx)
}

// ScopeManager returns scope manager of lifestyle.
// Scoped returns manager of the default scoped lifestyle.
func (r *Registry) ScopeManager(lifestyle Lifestyle) (*ScopeManager, error) {
	if lifestyle == Scoped {
		lifestyle = r.conf.DefaultScopedLifestyle
	}

	m, ok := r.managers[lifestyle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotScopedLifestyle, lifestyleName(lifestyle))
	}

	return m, nil
}

// WithScope starts FlowScoped scope that is disposed once ctx is done.
// Disposal errors are logged.
func (r *Registry) WithScope(ctx context.Context) context.Context {
	ctx, scope := r.managers[FlowScoped].BeginScope(ctx)

	context.AfterFunc(ctx, func() {
		if err := scope.Dispose(); err != nil {
			r.logger.Error(
				"failed to dispose scope",
				zap.Stringer("scope", scope.ID()),
				zap.Error(err),
			)
		}
	})

	return ctx
}

// Close disposes singletons in reverse creation order.
// Closed registry can't resolve services.
func (r *Registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	if r.stop != nil {
		r.stop()
	}

	r.logger.Debug("registry closed")

	return r.singletons.Dispose()
}

func (r *Registry) lock() {
	if r.locked.Load() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locked.Load() {
		return
	}

	r.applyDecorators()
	r.locked.Store(true)

	r.logger.Debug(
		"registry locked",
		zap.Int("registrations", len(r.registrations)),
		zap.Int("decorated", len(r.decorated)),
	)
}

// applyDecorators links decorators into chains:
// the last decorator is registered under the key itself
// and every layer depends on the one below it through a decoratee key.
func (r *Registry) applyDecorators() {
	r.effective = maps.Clone(r.registrations)
	r.origins = make(map[Key]Key)
	r.verifyKeys = slices.Clone(r.order)

	for _, key := range r.decorated {
		layers := r.decorators[key]
		inner := decorateeKey(key, 0)

		if base, ok := r.effective[key]; ok {
			r.effective[inner] = base
		} else {
			r.origins[inner] = key
			r.verifyKeys = append(r.verifyKeys, key)
		}

		for i, layer := range layers {
			outer := key
			if i < len(layers)-1 {
				outer = decorateeKey(key, i+1)
				r.verifyKeys = append(r.verifyKeys, outer)
			}

			r.effective[outer] = layer.withDependencies(replaceKey(layer.recipe.Dependencies, key, inner))
			inner = outer
		}
	}
}

func (r *Registry) newProducer(key Key) (*InstanceProducer, error) {
	if reg, ok := r.effective[key]; ok {
		return newInstanceProducer(r, key, reg, false), nil
	}

	target := key
	if origin, ok := r.origins[key]; ok {
		target = origin
	}

	for _, rule := range r.rules {
		reg, ok := rule(target)
		if !ok {
			continue
		}

		if reg == nil {
			return nil, newRecipeError(ErrNilRule, rule)
		}

		return newInstanceProducer(r, key, reg, false), nil
	}

	if r.conf.AutoRegistration && target.name == "" && isConstructable(target.t) {
		reg := &Registration{recipe: fieldsRecipe(target.t), lifestyle: Transient}
		return newInstanceProducer(r, key, reg, true), nil
	}

	return nil, newUnregisteredKeyError(target)
}

func (r *Registry) planBuilt(p *InstanceProducer) {
	r.logger.Debug(
		"creation plan built",
		zap.Stringer("key", p.key),
		zap.Int("dependencies", len(p.registration.recipe.Dependencies)),
	)

	if r.conf.OnPlanBuilt != nil {
		r.conf.OnPlanBuilt(p)
	}
}

func checkRegistration(key Key, reg *Registration) error {
	if key.IsZero() {
		return ErrZeroKey
	}

	if reg == nil {
		return newRecipeError(ErrNilRecipe, reg)
	}

	impl := reg.recipe.Implementation
	if impl != nil && !impl.AssignableTo(key.t) && !mayImplement(impl, key.t) {
		return newRecipeError(
			fmt.Errorf("%w: %s is not assignable to %s", ErrImplementationMismatch, impl, key.t),
			reg.recipe,
		)
	}

	return nil
}

// mayImplement allows recipes returning an interface to be registered under another interface.
func mayImplement(impl, target reflect.Type) bool {
	return impl.Kind() == reflect.Interface && target.Kind() == reflect.Interface
}

func replaceKey(keys []Key, old, with Key) []Key {
	replaced := slices.Clone(keys)

	for i, k := range replaced {
		if k == old {
			replaced[i] = with
		}
	}

	return replaced
}

func asActivationError(key Key, err error) error {
	var ae *ActivationError
	if errors.As(err, &ae) {
		return err
	}

	return newActivationError(key, err)
}
