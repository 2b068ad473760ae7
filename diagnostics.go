package tinyioc

import (
	"fmt"
	"reflect"
)

// Severity of a diagnostic result.
type Severity int

const (
	Information Severity = iota
	Warning
)

func (s Severity) String() string {
	switch s {
	case Information:
		return "Information"
	case Warning:
		return "Warning"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// DiagnosticType identifies the check that produced a DiagnosticResult.
type DiagnosticType int

const (
	// Consumer is cached longer than its dependency,
	// the dependency is kept alive after it should have been released.
	LifestyleMismatch DiagnosticType = iota + 1
	// Consumer depends on an unregistered concrete type
	// which is also the implementation of a registration with another lifestyle.
	ShortCircuitedDependency
	// Component has too many dependencies.
	SingleResponsibilityViolation
	// Registered component depends on a type the registry had to build on its own.
	ContainerRegisteredDependency
	// Transient component holds resources nobody disposes.
	DisposableTransientComponent
	// One implementation is registered with several lifestyles.
	AmbiguousLifestyles
)

var diagnosticTypeNames = map[DiagnosticType]string{
	LifestyleMismatch:             "LifestyleMismatch",
	ShortCircuitedDependency:      "ShortCircuitedDependency",
	SingleResponsibilityViolation: "SingleResponsibilityViolation",
	ContainerRegisteredDependency: "ContainerRegisteredDependency",
	DisposableTransientComponent:  "DisposableTransientComponent",
	AmbiguousLifestyles:           "AmbiguousLifestyles",
}

func (t DiagnosticType) String() string {
	if name, ok := diagnosticTypeNames[t]; ok {
		return name
	}

	return fmt.Sprintf("DiagnosticType(%d)", int(t))
}

// Severity returns severity of results of type t.
func (t DiagnosticType) Severity() Severity {
	switch t {
	case SingleResponsibilityViolation, ContainerRegisteredDependency:
		return Information
	default:
		return Warning
	}
}

// DiagnosticResult is a single finding of Registry.Analyze.
type DiagnosticResult struct {
	Type     DiagnosticType
	Severity Severity
	// Key of the producer the result is reported for.
	Key            Key
	Implementation reflect.Type
	Description    string
	// Relationships that caused the result.
	Relationships []KnownRelationship
	// Other producers involved.
	Related []*InstanceProducer
}

func (d DiagnosticResult) String() string {
	return fmt.Sprintf("[%s] %s: %s", d.Severity, d.Type, d.Description)
}

// DiagnosticGroup holds results reported for one implementation type.
type DiagnosticGroup struct {
	Implementation reflect.Type
	Results        []DiagnosticResult
}

// GroupByImplementation groups results by their implementation type
// keeping the order in which implementations first appear.
func GroupByImplementation(results []DiagnosticResult) []DiagnosticGroup {
	var groups []DiagnosticGroup
	index := make(map[reflect.Type]int)

	for _, result := range results {
		i, ok := index[result.Implementation]
		if !ok {
			i = len(groups)
			index[result.Implementation] = i
			groups = append(groups, DiagnosticGroup{Implementation: result.Implementation})
		}

		groups[i].Results = append(groups[i].Results, result)
	}

	return groups
}
