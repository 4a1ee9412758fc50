package collect

import (
	"fmt"
	"log/slog"

	"github.com/larose/harvest/search/index"
)

// FactoryContext is what a factory knows about the execution it creates a
// manager for.
type FactoryContext struct {
	Reader   *index.IndexReader
	Deadline *Deadline
	Logger   *slog.Logger
	// MaxDocs is the number of top hits requested, offset included.
	MaxDocs int
}

// Factory creates the manager of one capability for one execution. Factories
// are stateless and compared by identity.
type Factory interface {
	Name() string
	// ApplyToNested reports whether the collectors also see the nested
	// documents of every matching root document.
	ApplyToNested() bool
	// Register creates the manager and adds it to the builder.
	Register(ctx FactoryContext, builder *MultiBuilder) error
}

type FactoryOption func(*factoryOptions)

type factoryOptions struct {
	applyToNested bool
}

// ApplyToNested makes the collectors of the factory visit the nested
// documents of each collected root, before the root itself.
func ApplyToNested() FactoryOption {
	return func(o *factoryOptions) {
		o.applyToNested = true
	}
}

type typedFactory[C Collector, T any] struct {
	key     *Key[C, T]
	create  func(ctx FactoryContext) (Manager[C, T], error)
	options factoryOptions
}

// NewFactory binds a key to the function creating its manager.
func NewFactory[C Collector, T any](key *Key[C, T], create func(ctx FactoryContext) (Manager[C, T], error), opts ...FactoryOption) Factory {
	f := &typedFactory[C, T]{key: key, create: create}
	for _, opt := range opts {
		opt(&f.options)
	}

	return f
}

func (f *typedFactory[C, T]) Name() string {
	return f.key.String()
}

func (f *typedFactory[C, T]) ApplyToNested() bool {
	return f.options.applyToNested
}

func (f *typedFactory[C, T]) Register(ctx FactoryContext, builder *MultiBuilder) error {
	manager, err := f.create(ctx)
	if err != nil {
		return fmt.Errorf("create %s collector manager: %w", f.key, err)
	}

	return addManager(builder, f.key, manager, f.options.applyToNested)
}
