package tinyioc_test

import (
	"reflect"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/andriiyaremenko/tinyioc"
)

func resultsOf(results []tinyioc.DiagnosticResult, t tinyioc.DiagnosticType) []tinyioc.DiagnosticResult {
	var filtered []tinyioc.DiagnosticResult

	for _, result := range results {
		if result.Type == t {
			filtered = append(filtered, result)
		}
	}

	return filtered
}

var _ = Describe("Analyze", func() {
	var log *disposalLog

	BeforeEach(func() {
		log = new(disposalLog)
	})

	It("should report singleton depending on transient", func() {
		r := tinyioc.New()

		Expect(r.Register(componentKey("D"), componentRecipe("D", log), tinyioc.Transient)).To(Succeed())
		Expect(r.Register(componentKey("X"), componentRecipe("X", log, "D"), tinyioc.Singleton)).To(Succeed())
		Expect(r.Verify()).To(Succeed())

		results, err := r.Analyze()

		Expect(err).ShouldNot(HaveOccurred())

		mismatches := resultsOf(results, tinyioc.LifestyleMismatch)

		Expect(mismatches).To(HaveLen(1))
		Expect(mismatches[0].Key).To(Equal(componentKey("X")))
		Expect(mismatches[0].Severity).To(Equal(tinyioc.Warning))
		Expect(mismatches[0].Related).To(HaveLen(1))
		Expect(mismatches[0].Related[0].Key()).To(Equal(componentKey("D")))
		Expect(mismatches[0].Description).To(ContainSubstring("(Singleton) depends on"))

		disposable := resultsOf(results, tinyioc.DisposableTransientComponent)

		Expect(disposable).To(HaveLen(1))
		Expect(disposable[0].Key).To(Equal(componentKey("D")))
	})

	It("should not report consumers living shorter than dependencies", func() {
		r := tinyioc.New()

		Expect(r.Register(componentKey("D"), componentRecipe("D", log), tinyioc.Singleton)).To(Succeed())
		Expect(r.Register(componentKey("S"), componentRecipe("S", log, "D"), tinyioc.Scoped)).To(Succeed())
		Expect(r.Register(componentKey("T"), componentRecipe("T", log, "S"), tinyioc.FlowScoped)).To(Succeed())
		Expect(r.Verify()).To(Succeed())

		results, err := r.Analyze()

		Expect(err).ShouldNot(HaveOccurred())
		Expect(resultsOf(results, tinyioc.LifestyleMismatch)).To(BeEmpty())
	})

	It("should report short-circuited and container registered dependencies", func() {
		r := tinyioc.New()

		Expect(r.Register(
			tinyioc.KeyOf[Repository](),
			tinyioc.Func(func([]any) (*sqlRepository, error) { return new(sqlRepository), nil }),
			tinyioc.Singleton,
		)).To(Succeed())

		reports, err := tinyioc.Fields[ReportService]()

		Expect(err).ShouldNot(HaveOccurred())
		Expect(r.Register(tinyioc.KeyOf[*ReportService](), reports, tinyioc.Transient)).To(Succeed())
		Expect(r.Verify()).To(Succeed())

		results, err := r.Analyze()

		Expect(err).ShouldNot(HaveOccurred())

		shortCircuited := resultsOf(results, tinyioc.ShortCircuitedDependency)

		Expect(shortCircuited).To(HaveLen(1))
		Expect(shortCircuited[0].Key).To(Equal(tinyioc.KeyOf[*ReportService]()))
		Expect(shortCircuited[0].Related).To(HaveLen(1))
		Expect(shortCircuited[0].Related[0].Key()).To(Equal(tinyioc.KeyOf[Repository]()))

		containerRegistered := resultsOf(results, tinyioc.ContainerRegisteredDependency)

		Expect(containerRegistered).To(HaveLen(1))
		Expect(containerRegistered[0].Severity).To(Equal(tinyioc.Information))
		Expect(containerRegistered[0].Related[0].IsContainerAutoRegistered()).To(BeTrue())
	})

	It("should report components with too many dependencies", func() {
		r := tinyioc.New(tinyioc.WithSRPThreshold(2))
		deps := []string{"D1", "D2", "D3"}

		for _, dep := range deps {
			Expect(r.Register(componentKey(dep), componentRecipe(dep, log), tinyioc.Singleton)).To(Succeed())
		}

		Expect(r.Register(componentKey("X"), componentRecipe("X", log, deps...), tinyioc.Singleton)).To(Succeed())
		Expect(r.Register(componentKey("Y"), componentRecipe("Y", log, deps[:2]...), tinyioc.Singleton)).To(Succeed())
		Expect(r.Verify()).To(Succeed())

		results, err := r.Analyze()

		Expect(err).ShouldNot(HaveOccurred())

		violations := resultsOf(results, tinyioc.SingleResponsibilityViolation)

		Expect(violations).To(HaveLen(1))
		Expect(violations[0].Key).To(Equal(componentKey("X")))
		Expect(violations[0].Relationships).To(HaveLen(3))
	})

	It("should report implementation registered with different lifestyles", func() {
		r := tinyioc.New()

		Expect(r.Register(componentKey("A"), componentRecipe("A", log), tinyioc.Singleton)).To(Succeed())
		Expect(r.Register(componentKey("B"), componentRecipe("B", log), tinyioc.Scoped)).To(Succeed())
		Expect(r.Register(componentKey("C"), componentRecipe("C", log), tinyioc.Singleton)).To(Succeed())
		Expect(r.Verify()).To(Succeed())

		results, err := r.Analyze()

		Expect(err).ShouldNot(HaveOccurred())

		ambiguous := resultsOf(results, tinyioc.AmbiguousLifestyles)

		Expect(ambiguous).To(HaveLen(3))

		groups := tinyioc.GroupByImplementation(ambiguous)

		Expect(groups).To(HaveLen(1))
		Expect(groups[0].Implementation).To(Equal(reflect.TypeOf(&component{})))
		Expect(groups[0].Results).To(HaveLen(3))
	})

	It("should treat Scoped as the default scoped lifestyle", func() {
		r := tinyioc.New(tinyioc.WithDefaultScopedLifestyle(tinyioc.ThreadScoped))

		Expect(r.Register(componentKey("A"), componentRecipe("A", log), tinyioc.Scoped)).To(Succeed())
		Expect(r.Register(componentKey("B"), componentRecipe("B", log), tinyioc.ThreadScoped)).To(Succeed())
		Expect(r.Verify()).To(Succeed())

		results, err := r.Analyze()

		Expect(err).ShouldNot(HaveOccurred())
		Expect(resultsOf(results, tinyioc.AmbiguousLifestyles)).To(BeEmpty())

		r = tinyioc.New()

		Expect(r.Register(componentKey("A"), componentRecipe("A", log), tinyioc.Scoped)).To(Succeed())
		Expect(r.Register(componentKey("B"), componentRecipe("B", log), tinyioc.ThreadScoped)).To(Succeed())
		Expect(r.Verify()).To(Succeed())

		results, err = r.Analyze()

		Expect(err).ShouldNot(HaveOccurred())
		Expect(resultsOf(results, tinyioc.AmbiguousLifestyles)).To(HaveLen(2))
	})

	It("should not report suppressed diagnostics", func() {
		r := tinyioc.New()

		Expect(r.Register(componentKey("D"), componentRecipe("D", log), tinyioc.Transient,
			tinyioc.SuppressDiagnostics(tinyioc.DisposableTransientComponent),
		)).To(Succeed())
		Expect(r.Register(componentKey("X"), componentRecipe("X", log, "D"), tinyioc.Singleton,
			tinyioc.SuppressDiagnostics(tinyioc.LifestyleMismatch, tinyioc.AmbiguousLifestyles),
		)).To(Succeed())
		Expect(r.Verify()).To(Succeed())

		results, err := r.Analyze()

		Expect(err).ShouldNot(HaveOccurred())
		Expect(resultsOf(results, tinyioc.LifestyleMismatch)).To(BeEmpty())
		Expect(resultsOf(results, tinyioc.DisposableTransientComponent)).To(BeEmpty())
		Expect(resultsOf(results, tinyioc.AmbiguousLifestyles)).To(HaveLen(1))
	})

	It("should log results on Verify", func() {
		core, logs := observer.New(zap.InfoLevel)
		r := tinyioc.New(tinyioc.WithLogger(zap.New(core)))

		Expect(r.Register(componentKey("D"), componentRecipe("D", log), tinyioc.Transient)).To(Succeed())
		Expect(r.Register(componentKey("X"), componentRecipe("X", log, "D"), tinyioc.Singleton)).To(Succeed())
		Expect(r.Verify()).To(Succeed())

		entries := logs.FilterMessage("your dependency hierarchy can be optimised").All()

		Expect(entries).NotTo(BeEmpty())
		Expect(entries[0].ContextMap()).To(HaveKeyWithValue("diagnostic", "LifestyleMismatch"))
	})

	It("should not log results when silenced", func() {
		core, logs := observer.New(zap.DebugLevel)
		r := tinyioc.New(tinyioc.WithLogger(zap.New(core)), tinyioc.SilenceDiagnosticWarnings)

		Expect(r.Register(componentKey("D"), componentRecipe("D", log), tinyioc.Transient)).To(Succeed())
		Expect(r.Register(componentKey("X"), componentRecipe("X", log, "D"), tinyioc.Singleton)).To(Succeed())
		Expect(r.Verify()).To(Succeed())

		Expect(logs.FilterMessage("your dependency hierarchy can be optimised").Len()).To(BeZero())
		Expect(logs.FilterMessage("creation plan built").Len()).To(Equal(2))
	})
})

var _ = Describe("DiagnosticType", func() {
	It("should have names and severities", func() {
		Expect(tinyioc.LifestyleMismatch.String()).To(Equal("LifestyleMismatch"))
		Expect(tinyioc.SingleResponsibilityViolation.Severity()).To(Equal(tinyioc.Information))
		Expect(tinyioc.ShortCircuitedDependency.Severity()).To(Equal(tinyioc.Warning))
		Expect(tinyioc.DiagnosticType(42).String()).To(Equal("DiagnosticType(42)"))
		Expect(tinyioc.Warning.String()).To(Equal("Warning"))
	})
})
