package tinyioc

import (
	"context"
	"reflect"
)

const fieldTag = "tinyioc"

// Recipe describes how to build one instance of a service.
// Create receives instances of Dependencies in the same order.
type Recipe struct {
	// Implementation is the concrete type Create returns.
	// It is used by diagnostics only and can be nil.
	Implementation reflect.Type
	Dependencies   []Key
	Create         func(deps []any) (any, error)
	// CreateContext is used instead of Create when set.
	// It receives context of the Resolve call.
	// Not nil cleanup is called when the scope owning the instance is disposed
	// (Registry.Close for Singleton), it is an error for Transient services.
	CreateContext func(ctx context.Context, deps []any) (instance any, cleanup func(), err error)

	returnsCleanup bool
}

func (r Recipe) validate() error {
	if r.Create == nil && r.CreateContext == nil {
		return newRecipeError(ErrNilRecipe, r)
	}

	for _, dep := range r.Dependencies {
		if dep.IsZero() {
			return newRecipeError(ErrZeroKey, r)
		}
	}

	return nil
}

// Returns Recipe of T built by create from dependencies registered under deps.
func Func[T any](create func(deps []any) (T, error), deps ...Key) Recipe {
	return Recipe{
		Implementation: reflect.TypeOf((*T)(nil)).Elem(),
		Dependencies:   deps,
		Create: func(values []any) (any, error) {
			return create(values)
		},
	}
}

// Returns Recipe that always returns instance.
func Value(instance any) Recipe {
	return Recipe{
		Implementation: reflect.TypeOf(instance),
		Create:         func([]any) (any, error) { return instance, nil },
	}
}

// Returns Recipe built from constructor.
// Constructor should be of type
// func([context.Context, ]T1, ...) [T|(T, error)|(T, func(), error)],
// every parameter type except leading context.Context is resolved using KeyOf of that type.
// Returned func() is called when the scope owning the instance is disposed.
func Constructor(constructor any) (Recipe, error) {
	t := reflect.TypeOf(constructor)

	cType, err := getConstructorType(t)
	if err != nil {
		return Recipe{}, newRecipeError(err, constructor)
	}

	withContext := t.NumIn() > 0 && t.In(0) == contextInterface

	offset := 0
	if withContext {
		offset = 1
	}

	deps := make([]Key, t.NumIn()-offset)
	for i := range deps {
		deps[i] = TypeKey(t.In(i + offset))
	}

	fn := reflect.ValueOf(constructor)

	call := func(ctx context.Context, values []any) (any, func(), error) {
		args := make([]reflect.Value, 0, t.NumIn())

		if withContext {
			args = append(args, reflect.ValueOf(&ctx).Elem())
		}

		for i, v := range values {
			if v == nil {
				args = append(args, reflect.Zero(t.In(i+offset)))
				continue
			}

			args = append(args, reflect.ValueOf(v))
		}

		out := fn.Call(args)

		switch cType {
		case withError:
			if err, ok := out[1].Interface().(error); ok && err != nil {
				return nil, nil, err
			}
		case withErrorAndCleanUp:
			if err, ok := out[2].Interface().(error); ok && err != nil {
				return nil, nil, err
			}

			cleanUp, _ := out[1].Interface().(func())

			return out[0].Interface(), cleanUp, nil
		}

		return out[0].Interface(), nil, nil
	}

	recipe := Recipe{
		Implementation: t.Out(0),
		Dependencies:   deps,
		returnsCleanup: cType == withErrorAndCleanUp,
	}

	if withContext || cType == withErrorAndCleanUp {
		recipe.CreateContext = call
	} else {
		recipe.Create = func(values []any) (any, error) {
			instance, _, err := call(context.Background(), values)
			return instance, err
		}
	}

	return recipe, nil
}

// Returns Recipe that builds *T and fills its exported fields with resolved dependencies.
// Field tagged with `tinyioc:"name"` is resolved using named key,
// field tagged with `tinyioc:"-"` is skipped.
func Fields[T any]() (Recipe, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()

	if t.Kind() != reflect.Struct {
		return Recipe{}, newRecipeError(ErrFieldsNotAStruct, reflect.Zero(reflect.PointerTo(t)).Interface())
	}

	return fieldsRecipe(reflect.PointerTo(t)), nil
}

// fieldsRecipe builds a recipe for t which is a struct or a pointer to a struct.
func fieldsRecipe(t reflect.Type) Recipe {
	structType := t
	isPointer := t.Kind() == reflect.Pointer

	if isPointer {
		structType = t.Elem()
	}

	fields := make([]int, 0, structType.NumField())
	deps := make([]Key, 0, structType.NumField())

	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if !field.IsExported() {
			continue
		}

		name, ok := field.Tag.Lookup(fieldTag)
		if ok && name == "-" {
			continue
		}

		deps = append(deps, Key{t: field.Type, name: name})
		fields = append(fields, i)
	}

	return Recipe{
		Implementation: t,
		Dependencies:   deps,
		Create: func(values []any) (any, error) {
			p := reflect.New(structType).Elem()

			for i, v := range values {
				if v == nil {
					continue
				}

				p.Field(fields[i]).Set(reflect.ValueOf(v))
			}

			if isPointer {
				return p.Addr().Interface(), nil
			}

			return p.Interface(), nil
		},
	}
}

// isConstructable reports whether t can be auto-registered.
func isConstructable(t reflect.Type) bool {
	if t == nil {
		return false
	}

	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	return t.Kind() == reflect.Struct
}

type constructorType int

const (
	onlyService constructorType = iota
	withError
	withErrorAndCleanUp
)

func getConstructorType(t reflect.Type) (constructorType, error) {
	if t == nil || t.Kind() != reflect.Func {
		return onlyService, &ConstructorTemplateError{ConstructorType: t}
	}

	if t.IsVariadic() {
		return onlyService, ErrVariadicConstructor
	}

	switch t.NumOut() {
	case 1:
		if t.Out(0).Implements(errorInterface) {
			return onlyService, &ConstructorTemplateError{ConstructorType: t}
		}

		return onlyService, nil
	case 2:
		if !t.Out(1).Implements(errorInterface) {
			return onlyService, &ConstructorTemplateError{ConstructorType: t}
		}

		return withError, nil
	case 3:
		if t.Out(1) != cleanUpType || !t.Out(2).Implements(errorInterface) {
			return onlyService, &ConstructorTemplateError{ConstructorType: t}
		}

		return withErrorAndCleanUp, nil
	default:
		return onlyService, &ConstructorTemplateError{ConstructorType: t}
	}
}
