// Package extract turns what a caller wants out of a query into a collection
// plan, runs it, and materializes the hits.
package extract

import (
	"errors"
	"fmt"
	"slices"

	"github.com/larose/harvest/search/collect"
)

var ErrInvalidRequirements = errors.New("invalid extraction requirements")

// Requirements describes what one query execution needs. It is immutable
// once built and can be reused by any number of executions.
type Requirements struct {
	allStoredFields bool
	factories       []collect.Factory
	nestedPaths     []string
	requireScore    bool
	storedFields    []string
}

func (r *Requirements) RequiresScore() bool {
	return r.requireScore
}

func (r *Requirements) Factories() []collect.Factory {
	return slices.Clone(r.factories)
}

func (r *Requirements) AllStoredFields() bool {
	return r.allStoredFields
}

// StoredFields returns the explicitly required stored fields. It is empty
// when every stored field is required.
func (r *Requirements) StoredFields() []string {
	return slices.Clone(r.storedFields)
}

func (r *Requirements) NestedPaths() []string {
	return slices.Clone(r.nestedPaths)
}

func (r *Requirements) requiresStoredFields() bool {
	return r.allStoredFields || len(r.storedFields) > 0
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// RequirementsBuilder
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

type RequirementsBuilder struct {
	err          error
	requirements Requirements
}

func NewRequirementsBuilder() *RequirementsBuilder {
	return &RequirementsBuilder{}
}

func (b *RequirementsBuilder) fail(format string, args ...any) *RequirementsBuilder {
	if b.err == nil {
		b.err = fmt.Errorf("%w: %s", ErrInvalidRequirements, fmt.Sprintf(format, args...))
	}
	return b
}

func (b *RequirementsBuilder) RequireScore() *RequirementsBuilder {
	b.requirements.requireScore = true
	return b
}

// RequireCollectorForAllMatchingDocs runs the collectors of factory over
// every matching document. Requiring the same factory twice is a no-op.
func (b *RequirementsBuilder) RequireCollectorForAllMatchingDocs(factory collect.Factory) *RequirementsBuilder {
	if factory == nil {
		return b.fail("nil collector factory")
	}

	if !slices.Contains(b.requirements.factories, factory) {
		b.requirements.factories = append(b.requirements.factories, factory)
	}
	return b
}

// RequireAllStoredFields loads every stored field and drops the explicit
// field list.
func (b *RequirementsBuilder) RequireAllStoredFields() *RequirementsBuilder {
	b.requirements.allStoredFields = true
	b.requirements.storedFields = nil
	return b
}

// RequireStoredField loads the stored field at path. A field of a nested
// document also names the nested path holding it.
func (b *RequirementsBuilder) RequireStoredField(path, nestedPath string) *RequirementsBuilder {
	if path == "" {
		return b.fail("empty stored field path")
	}

	if nestedPath != "" {
		b.RequireNestedObjects(nestedPath)
	}

	if b.requirements.allStoredFields || slices.Contains(b.requirements.storedFields, path) {
		return b
	}

	b.requirements.storedFields = append(b.requirements.storedFields, path)
	return b
}

// RequireNestedObjects loads the stored fields of the nested documents under
// the given paths along with their root document.
func (b *RequirementsBuilder) RequireNestedObjects(paths ...string) *RequirementsBuilder {
	for _, path := range paths {
		if path == "" {
			return b.fail("empty nested path")
		}
		if !slices.Contains(b.requirements.nestedPaths, path) {
			b.requirements.nestedPaths = append(b.requirements.nestedPaths, path)
		}
	}
	return b
}

// Build returns the requirements, or the first error a requirement raised.
// The builder can keep being used; later changes do not affect what was
// built.
func (b *RequirementsBuilder) Build() (*Requirements, error) {
	if b.err != nil {
		return nil, b.err
	}

	return &Requirements{
		allStoredFields: b.requirements.allStoredFields,
		factories:       slices.Clone(b.requirements.factories),
		nestedPaths:     slices.Clone(b.requirements.nestedPaths),
		requireScore:    b.requirements.requireScore,
		storedFields:    slices.Clone(b.requirements.storedFields),
	}, nil
}
