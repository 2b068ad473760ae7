package tinyioc

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

const (
	constructorTypeStr string = "func([context.Context, ]T1, ...) [T|(T, error)|(T, func(), error)]"
)

var (
	errorInterface   = reflect.TypeOf((*error)(nil)).Elem()
	cleanUpType      = reflect.TypeOf((*func())(nil)).Elem()
	contextInterface = reflect.TypeOf((*context.Context)(nil)).Elem()

	ErrDuplicateRegistration  = errors.New("key has already been registered")
	ErrConfigurationLocked    = errors.New("registry can't be changed after the first call to Resolve, GetInstance or Verify")
	ErrNotLocked              = errors.New("registry is not locked yet: call Verify or resolve a service first")
	ErrNotRegistered          = errors.New("no registration found")
	ErrVariadicConstructor    = errors.New("variadic constructor is not supported")
	ErrNilRecipe              = errors.New("recipe has no Create function")
	ErrNilLifestyle           = errors.New("lifestyle is nil")
	ErrZeroKey                = errors.New("key is not initialised")
	ErrDecoratorBadDependency = errors.New("decorator should depend on the type it decorates")
	ErrNotDisposable          = errors.New("instance does not implement Disposable or io.Closer")
	ErrUnexpectedInstanceType = errors.New("resolved instance has unexpected type")
	ErrForeignScope           = errors.New("scope belongs to another registry")
	ErrNotScopedLifestyle     = errors.New("lifestyle has no scope manager")
	ErrFieldsNotAStruct       = errors.New("tinyioc.Fields can only be used with a struct")
	ErrImplementationMismatch = errors.New("implementation is not assignable to the key type")
	ErrNilRule                = errors.New("unregistered type rule returned nil registration")
	ErrTransientCleanup       = errors.New("transient service can't return a cleanup function")
)

func newRecipeError(cause error, recipe any) error {
	return &RecipeError{cause: cause, Recipe: recipe}
}

// RecipeError is returned when a recipe can't be used to build a service.
type RecipeError struct {
	cause  error
	Recipe any
}

func (err *RecipeError) Error() string {
	return fmt.Sprintf("bad recipe %T: %s", err.Recipe, err.cause)
}

func (err *RecipeError) Unwrap() error {
	return err.cause
}

// ConstructorTemplateError is returned when a constructor does not match supported templates.
type ConstructorTemplateError struct {
	ConstructorType reflect.Type
}

func (err *ConstructorTemplateError) Error() string {
	return fmt.Sprintf(
		"only %s can be used as a constructor, got %s",
		constructorTypeStr,
		err.ConstructorType,
	)
}

func newDuplicateRegistrationError(key Key) error {
	return &DuplicateRegistrationError{Key: key}
}

// DuplicateRegistrationError is returned when a key is registered twice and overriding is disabled.
type DuplicateRegistrationError struct {
	Key Key
}

func (err *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateRegistration, err.Key)
}

func (err *DuplicateRegistrationError) Unwrap() error {
	return ErrDuplicateRegistration
}

func newUnregisteredKeyError(key Key) error {
	return &UnregisteredKeyError{Key: key}
}

// UnregisteredKeyError is returned when a key has no registration
// and can't be auto-registered.
type UnregisteredKeyError struct {
	Key Key
}

func (err *UnregisteredKeyError) Error() string {
	return fmt.Sprintf("%s for %s", ErrNotRegistered, err.Key)
}

func (err *UnregisteredKeyError) Unwrap() error {
	return ErrNotRegistered
}

func newActivationError(key Key, cause error) error {
	return &ActivationError{Key: key, cause: cause}
}

// ActivationError is returned when a service can't be built.
// Nested ActivationErrors form the resolution path.
type ActivationError struct {
	cause error
	Key   Key
}

// Path returns keys from the requested service down to the one that failed.
func (err *ActivationError) Path() []Key {
	path := []Key{err.Key}

	var next *ActivationError
	cause := err.cause

	for errors.As(cause, &next) {
		path = append(path, next.Key)
		cause = next.cause
	}

	return path
}

func (err *ActivationError) Error() string {
	path := err.Path()
	names := make([]string, len(path))

	for i, key := range path {
		names[i] = key.String()
	}

	return fmt.Sprintf("cannot activate %s: %s", strings.Join(names, " -> "), err.rootCause())
}

func (err *ActivationError) rootCause() error {
	var next *ActivationError
	cause := err.cause

	for errors.As(cause, &next) {
		cause = next.cause
	}

	return cause
}

func (err *ActivationError) Unwrap() error {
	return err.cause
}

func newCyclicDependencyError(key Key, stack []*InstanceProducer) error {
	path := make([]Key, 0, len(stack)+1)
	found := false

	for _, p := range stack {
		if p.key == key {
			found = true
		}

		if found {
			path = append(path, p.key)
		}
	}

	return &CyclicDependencyError{Key: key, Path: append(path, key)}
}

// CyclicDependencyError is returned when a service depends on itself.
type CyclicDependencyError struct {
	Key  Key
	Path []Key
}

func (err *CyclicDependencyError) Error() string {
	names := make([]string, len(err.Path))
	for i, key := range err.Path {
		names[i] = key.String()
	}

	return fmt.Sprintf("cyclic dependency on %s: %s", err.Key, strings.Join(names, " -> "))
}

func newScopeRequiredError(key Key, lifestyle Lifestyle, beginScope string) error {
	return &ScopeRequiredError{Key: key, Lifestyle: lifestyle, BeginScope: beginScope}
}

// ScopeRequiredError is returned when a scoped service is resolved outside of any scope.
type ScopeRequiredError struct {
	Lifestyle  Lifestyle
	Key        Key
	BeginScope string
}

func (err *ScopeRequiredError) Error() string {
	return fmt.Sprintf(
		"%s is registered as %s but is requested outside of an active scope: use %s to start one",
		err.Key,
		err.Lifestyle.Name(),
		err.BeginScope,
	)
}

func newObjectDisposedError(object string) error {
	return &ObjectDisposedError{Object: object}
}

// ObjectDisposedError is returned when a disposed scope or registry is used.
type ObjectDisposedError struct {
	Object string
}

func (err *ObjectDisposedError) Error() string {
	return fmt.Sprintf("%s is already disposed", err.Object)
}

func newAggregateDisposalError(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	default:
		return &AggregateDisposalError{Errors: errs}
	}
}

// AggregateDisposalError collects every failure that happened while disposing.
type AggregateDisposalError struct {
	Errors []error
}

func (err *AggregateDisposalError) Error() string {
	if len(err.Errors) == 1 {
		return fmt.Sprintf("disposal failed: %s", err.Errors[0])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "disposal failed with %d errors:", len(err.Errors))

	for i, e := range err.Errors {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, e)
	}

	return b.String()
}

func (err *AggregateDisposalError) Unwrap() []error {
	return err.Errors
}

// VerificationError collects activation errors found by Verify.
type VerificationError struct {
	Errors []error
}

func (err *VerificationError) Error() string {
	if len(err.Errors) == 1 {
		return fmt.Sprintf("verification failed: %s", err.Errors[0])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "verification failed with %d errors:", len(err.Errors))

	for i, e := range err.Errors {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, e)
	}

	return b.String()
}

func (err *VerificationError) Unwrap() []error {
	return err.Errors
}

func newPanicError(recovered any) error {
	if err, ok := recovered.(error); ok {
		return &PanicError{cause: err, Value: recovered}
	}

	return &PanicError{Value: recovered}
}

// PanicError is returned when a recipe, a callback or a disposer panicked.
type PanicError struct {
	cause error
	Value any
}

func (err *PanicError) Error() string {
	return fmt.Sprintf("recovered from panic: %v", err.Value)
}

func (err *PanicError) Unwrap() error {
	return err.cause
}
