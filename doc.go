/*
This package provides a dependency-resolution engine: it builds, caches and disposes object graphs
from registrations of recipes and lifestyles, and reports problems found in those graphs.

To install tinyioc:

	go get -u github.com/andriiyaremenko/tinyioc

How to use:

	type NameService interface {
		Name() string
	}

	type Greeter struct {
		Names NameService
	}

	func (g *Greeter) Hello() string {
		return "Hello " + g.Names.Name()
	}

	r := tinyioc.New(tinyioc.WithLogger(logger))

	err := r.Register(
		tinyioc.KeyOf[NameService](),
		tinyioc.Func(func([]any) (NameService, error) { return name("Bob"), nil }),
		tinyioc.Singleton,
	)
	if err != nil {
		// handle error
	}

	greeter, err := tinyioc.Fields[Greeter]()
	if err != nil {
		// handle error
	}

	if err := r.Register(tinyioc.KeyOf[*Greeter](), greeter, tinyioc.Scoped); err != nil {
		// handle error
	}

	if err := r.Verify(); err != nil {
		// handle error
	}

	func MyRequestHandler(w http.ResponseWriter, req *http.Request) {
		ctx := r.WithScope(req.Context())

		greeter, err := tinyioc.Get[*Greeter](ctx, r)
		if err != nil {
			// handle error
		}

		// use greeter
	}

	results, _ := r.Analyze()
	for _, group := range tinyioc.GroupByImplementation(results) {
		// report results
	}

Functions:
  - tinyioc.New
  - tinyioc.Get
  - tinyioc.GetKey
  - tinyioc.MustGet
  - tinyioc.NewRegistration
  - tinyioc.ConfigurationFromEnv
  - tinyioc.GroupByImplementation

Lifestyles:

	tinyioc.Transient
	tinyioc.Singleton
	tinyioc.Scoped - FlowScoped unless configured with WithDefaultScopedLifestyle
	tinyioc.FlowScoped - current scope travels with context.Context
	tinyioc.ThreadScoped - current scope belongs to the goroutine that started it

Recipes:
  - tinyioc.Func[T] - explicit function of resolved dependencies.
  - tinyioc.Constructor - func([context.Context, ]T1, T2, ...) [T|(T, error)|(T, func(), error)],
    parameters are resolved by their types, leading context.Context is the context of the Resolve call,
    returned func() is called when the scope owning the instance is disposed (not allowed for Transient).
  - tinyioc.Fields[T] - *T with exported fields filled using registered services.
  - tinyioc.Value - already built instance.

Instances implementing tinyioc.Disposable or io.Closer are disposed
together with the scope that cached them, singletons are disposed by Registry.Close.
*/
package tinyioc
