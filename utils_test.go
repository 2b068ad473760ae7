package tinyioc_test

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/andriiyaremenko/tinyioc"
)

type NameService interface {
	Name() string
}

type NameProvider string

func (s NameProvider) Name() string {
	return string(s)
}

type NameServiceDecorator struct {
	NameService NameService
	prefix      string
}

func (s *NameServiceDecorator) Name() string {
	return s.prefix + " " + s.NameService.Name()
}

type Hero struct {
	Names NameService
}

func (h *Hero) Announce() string {
	return h.Names.Name() + " is our hero!"
}

type Sidekick struct {
	Hero  *Hero
	Alias NameService `tinyioc:"alias"`
	Notes string      `tinyioc:"-"`
}

type Repository interface {
	Load() string
}

type sqlRepository struct{}

func (*sqlRepository) Load() string {
	return "sql"
}

type ReportService struct {
	Repository *sqlRepository
}

type requestKey struct{}

// disposalLog records names of disposed components in order.
type disposalLog struct {
	entries []string
	mu      sync.Mutex
}

func (l *disposalLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
}

func (l *disposalLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return slices.Clone(l.entries)
}

type component struct {
	log      *disposalLog
	err      error
	name     string
	disposed atomic.Bool
}

func (c *component) Dispose() error {
	c.disposed.Store(true)
	c.log.add(c.name)

	return c.err
}

type closer struct {
	closed atomic.Bool
}

func (c *closer) Close() error {
	c.closed.Store(true)
	return nil
}

func componentKey(name string) tinyioc.Key {
	return tinyioc.NamedKey[*component](name)
}

func componentRecipe(name string, log *disposalLog, deps ...string) tinyioc.Recipe {
	keys := make([]tinyioc.Key, len(deps))
	for i, dep := range deps {
		keys[i] = componentKey(dep)
	}

	return tinyioc.Func(func([]any) (*component, error) {
		return &component{name: name, log: log}, nil
	}, keys...)
}

func nameRecipe(name string) tinyioc.Recipe {
	return tinyioc.Func(func([]any) (NameService, error) {
		return NameProvider(name), nil
	})
}

func decoratorRecipe(prefix string) tinyioc.Recipe {
	return tinyioc.Func(func(deps []any) (NameService, error) {
		return &NameServiceDecorator{NameService: deps[0].(NameService), prefix: prefix}, nil
	}, tinyioc.KeyOf[NameService]())
}

func heroRecipe(created *atomic.Int32) tinyioc.Recipe {
	return tinyioc.Func(func(deps []any) (*Hero, error) {
		if created != nil {
			created.Add(1)
		}

		return &Hero{Names: deps[0].(NameService)}, nil
	}, tinyioc.KeyOf[NameService]())
}

func failingRecipe(err error) tinyioc.Recipe {
	return tinyioc.Func(func([]any) (NameService, error) {
		return nil, err
	})
}

var errScared = errors.New("scared")
