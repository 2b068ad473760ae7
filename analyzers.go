package tinyioc

import (
	"fmt"
	"io"
	"reflect"
)

var (
	disposableInterface = reflect.TypeOf((*Disposable)(nil)).Elem()
	closerInterface     = reflect.TypeOf((*io.Closer)(nil)).Elem()
)

type analyzer func(producers []*InstanceProducer, srpThreshold int) []DiagnosticResult

// results are reported in this order
var analyzers = []analyzer{
	analyzeLifestyleMismatch,
	analyzeShortCircuited,
	analyzeSingleResponsibility,
	analyzeContainerRegistered,
	analyzeDisposableTransient,
	analyzeAmbiguousLifestyles,
}

func analyze(producers []*InstanceProducer, srpThreshold int) []DiagnosticResult {
	var results []DiagnosticResult

	for _, fn := range analyzers {
		results = append(results, fn(producers, srpThreshold)...)
	}

	return results
}

func newDiagnosticResult(t DiagnosticType, p *InstanceProducer, description string) DiagnosticResult {
	return DiagnosticResult{
		Type:           t,
		Severity:       t.Severity(),
		Key:            p.key,
		Implementation: p.Implementation(),
		Description:    description,
	}
}

func reported(p *InstanceProducer, t DiagnosticType) bool {
	return !p.registration.IsSuppressed(t)
}

func analyzeLifestyleMismatch(producers []*InstanceProducer, _ int) []DiagnosticResult {
	var results []DiagnosticResult

	for _, p := range producers {
		if !reported(p, LifestyleMismatch) {
			continue
		}

		for _, rel := range p.Relationships() {
			dep := rel.Dependency
			if rel.Lifestyle.Length() <= dep.Lifestyle().Length() {
				continue
			}

			result := newDiagnosticResult(
				LifestyleMismatch,
				p,
				fmt.Sprintf(
					"%s (%s) depends on %s (%s)",
					p.key, rel.Lifestyle.Name(), dep.key, dep.Lifestyle().Name(),
				),
			)
			result.Relationships = []KnownRelationship{rel}
			result.Related = []*InstanceProducer{dep}

			results = append(results, result)
		}
	}

	return results
}

func analyzeShortCircuited(producers []*InstanceProducer, _ int) []DiagnosticResult {
	byImplementation := make(map[reflect.Type][]*InstanceProducer)

	for _, p := range producers {
		if p.autoRegistered || p.Implementation() == nil {
			continue
		}

		byImplementation[p.Implementation()] = append(byImplementation[p.Implementation()], p)
	}

	var results []DiagnosticResult

	for _, p := range producers {
		if !reported(p, ShortCircuitedDependency) {
			continue
		}

		for _, rel := range p.Relationships() {
			dep := rel.Dependency
			if !dep.autoRegistered {
				continue
			}

			var expected []*InstanceProducer
			for _, registered := range byImplementation[dep.key.t] {
				if registered.key != dep.key && registered.Lifestyle() != dep.Lifestyle() {
					expected = append(expected, registered)
				}
			}

			if len(expected) == 0 {
				continue
			}

			result := newDiagnosticResult(
				ShortCircuitedDependency,
				p,
				fmt.Sprintf(
					"%s depends on %s (%s) directly while %s is registered as %s (%s)",
					p.key, dep.key, dep.Lifestyle().Name(), dep.key, expected[0].key, expected[0].Lifestyle().Name(),
				),
			)
			result.Relationships = []KnownRelationship{rel}
			result.Related = expected

			results = append(results, result)
		}
	}

	return results
}

func analyzeSingleResponsibility(producers []*InstanceProducer, threshold int) []DiagnosticResult {
	var results []DiagnosticResult

	for _, p := range producers {
		if !reported(p, SingleResponsibilityViolation) {
			continue
		}

		relationships := p.Relationships()
		if len(relationships) <= threshold {
			continue
		}

		result := newDiagnosticResult(
			SingleResponsibilityViolation,
			p,
			fmt.Sprintf("%s has %d dependencies, more than %d", p.key, len(relationships), threshold),
		)
		result.Relationships = relationships

		for _, rel := range relationships {
			result.Related = append(result.Related, rel.Dependency)
		}

		results = append(results, result)
	}

	return results
}

func analyzeContainerRegistered(producers []*InstanceProducer, _ int) []DiagnosticResult {
	var results []DiagnosticResult

	for _, p := range producers {
		if p.autoRegistered || !reported(p, ContainerRegisteredDependency) {
			continue
		}

		for _, rel := range p.Relationships() {
			if !rel.Dependency.autoRegistered {
				continue
			}

			result := newDiagnosticResult(
				ContainerRegisteredDependency,
				p,
				fmt.Sprintf("%s depends on %s which is not registered", p.key, rel.Dependency.key),
			)
			result.Relationships = []KnownRelationship{rel}
			result.Related = []*InstanceProducer{rel.Dependency}

			results = append(results, result)
		}
	}

	return results
}

func analyzeDisposableTransient(producers []*InstanceProducer, _ int) []DiagnosticResult {
	var results []DiagnosticResult

	for _, p := range producers {
		impl := p.Implementation()
		if impl == nil || p.Lifestyle() != Transient || !reported(p, DisposableTransientComponent) {
			continue
		}

		if !impl.Implements(disposableInterface) && !impl.Implements(closerInterface) {
			continue
		}

		results = append(results, newDiagnosticResult(
			DisposableTransientComponent,
			p,
			fmt.Sprintf("%s is Transient and disposable: instances of %s are never disposed", p.key, impl),
		))
	}

	return results
}

func analyzeAmbiguousLifestyles(producers []*InstanceProducer, _ int) []DiagnosticResult {
	byImplementation := make(map[reflect.Type][]*InstanceProducer)

	for _, p := range producers {
		impl := p.Implementation()
		if p.autoRegistered || impl == nil || impl.Kind() == reflect.Interface {
			continue
		}

		byImplementation[impl] = append(byImplementation[impl], p)
	}

	var results []DiagnosticResult

	for _, p := range producers {
		if p.autoRegistered || !reported(p, AmbiguousLifestyles) {
			continue
		}

		var others []*InstanceProducer
		for _, other := range byImplementation[p.Implementation()] {
			if effectiveLifestyle(other) != effectiveLifestyle(p) {
				others = append(others, other)
			}
		}

		if len(others) == 0 {
			continue
		}

		result := newDiagnosticResult(
			AmbiguousLifestyles,
			p,
			fmt.Sprintf(
				"%s is registered as %s for %s and as %s for %s",
				p.Implementation(), p.Lifestyle().Name(), p.key, others[0].Lifestyle().Name(), others[0].key,
			),
		)
		result.Related = others

		results = append(results, result)
	}

	return results
}

// effectiveLifestyle resolves Scoped to the default scoped lifestyle of the registry.
func effectiveLifestyle(p *InstanceProducer) Lifestyle {
	if p.Lifestyle() == Scoped {
		return p.registry.conf.DefaultScopedLifestyle
	}

	return p.Lifestyle()
}
