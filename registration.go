package tinyioc

import (
	"reflect"
	"slices"
)

// Registration is an immutable pair of a Recipe and a Lifestyle.
// One Registration can be shared by several keys.
type Registration struct {
	recipe     Recipe
	lifestyle  Lifestyle
	suppressed []DiagnosticType
	external   bool
}

type registrationConfiguration struct {
	suppressed []DiagnosticType
}

// RegistrationOption configures a single Registration.
type RegistrationOption func(*registrationConfiguration)

// SuppressDiagnostics excludes registration from results of listed diagnostic types.
func SuppressDiagnostics(types ...DiagnosticType) RegistrationOption {
	return func(conf *registrationConfiguration) {
		conf.suppressed = append(conf.suppressed, types...)
	}
}

// Returns new Registration.
func NewRegistration(recipe Recipe, lifestyle Lifestyle, opts ...RegistrationOption) (*Registration, error) {
	if lifestyle == nil {
		return nil, newRecipeError(ErrNilLifestyle, recipe)
	}

	if err := recipe.validate(); err != nil {
		return nil, err
	}

	if recipe.returnsCleanup && lifestyle.Length() == transientLength {
		return nil, newRecipeError(ErrTransientCleanup, recipe)
	}

	conf := registrationConfiguration{}
	for _, opt := range opts {
		opt(&conf)
	}

	return &Registration{
		recipe:     recipe,
		lifestyle:  lifestyle,
		suppressed: conf.suppressed,
	}, nil
}

// Recipe returns a copy of the registration recipe.
func (reg *Registration) Recipe() Recipe {
	recipe := reg.recipe
	recipe.Dependencies = slices.Clone(reg.recipe.Dependencies)

	return recipe
}

func (reg *Registration) Lifestyle() Lifestyle {
	return reg.lifestyle
}

func (reg *Registration) Implementation() reflect.Type {
	return reg.recipe.Implementation
}

// IsSuppressed reports whether diagnostic results of type t are suppressed for reg.
func (reg *Registration) IsSuppressed(t DiagnosticType) bool {
	return slices.Contains(reg.suppressed, t)
}

// withDependencies returns copy of reg with its dependencies replaced.
func (reg *Registration) withDependencies(deps []Key) *Registration {
	clone := *reg
	clone.recipe.Dependencies = deps

	return &clone
}
