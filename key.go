package tinyioc

import (
	"context"
	"fmt"
	"reflect"
)

// Key identifies a requested service.
// Two keys are equal if they were built for the same type and the same name.
type Key struct {
	t    reflect.Type
	name string
}

// Returns Key of type T.
func KeyOf[T any]() Key {
	return Key{t: reflect.TypeOf((*T)(nil)).Elem()}
}

// Returns Key of type T distinguished by name.
func NamedKey[T any](name string) Key {
	return Key{t: reflect.TypeOf((*T)(nil)).Elem(), name: name}
}

// Returns Key for t.
func TypeKey(t reflect.Type) Key {
	return Key{t: t}
}

// Type returns the service type of the key.
func (k Key) Type() reflect.Type {
	return k.t
}

// Name returns the name of the key, empty for unnamed keys.
func (k Key) Name() string {
	return k.name
}

// IsZero reports whether k was never initialised.
func (k Key) IsZero() bool {
	return k.t == nil
}

func (k Key) String() string {
	typeName := "<nil>"
	if k.t != nil {
		typeName = k.t.String()
	}

	if k.name == "" {
		return typeName
	}

	return fmt.Sprintf("%s(%s)", typeName, k.name)
}

func decorateeKey(k Key, layer int) Key {
	return Key{t: k.t, name: fmt.Sprintf("%s#decoratee%d", k.name, layer)}
}

// Resolves service of type T using r.
func Get[T any](ctx context.Context, r *Registry) (T, error) {
	return GetKey[T](ctx, r, KeyOf[T]())
}

// Resolves service registered under key and casts it to T.
func GetKey[T any](ctx context.Context, r *Registry, key Key) (T, error) {
	var zero T

	instance, err := r.Resolve(ctx, key)
	if err != nil {
		return zero, err
	}

	if instance == nil {
		return zero, nil
	}

	service, ok := instance.(T)
	if !ok {
		return zero, newActivationError(
			key,
			fmt.Errorf("%w: got %T", ErrUnexpectedInstanceType, instance),
		)
	}

	return service, nil
}

// Resolves service of type T using r.
// Panics if resolution failed.
func MustGet[T any](ctx context.Context, r *Registry) T {
	service, err := Get[T](ctx, r)
	if err != nil {
		panic(err)
	}

	return service
}
