package extract

import (
	"slices"
	"sync"

	"github.com/larose/harvest/search/index"
)

// ReusableDocumentStoredFieldVisitor materializes the accepted stored fields
// of one document at a time. It is not safe for concurrent use: take one per
// extraction pass through a VisitorFactory lease.
type ReusableDocumentStoredFieldVisitor struct {
	// nil accepts every field.
	accepted []string
	document index.Document
}

func (v *ReusableDocumentStoredFieldVisitor) NeedsField(name string) bool {
	if v.accepted == nil {
		return true
	}

	for _, accepted := range v.accepted {
		if accepted == name {
			return true
		}
	}

	return false
}

func (v *ReusableDocumentStoredFieldVisitor) StoredField(field index.Field) {
	v.document = append(v.document, field)
}

// GetDocumentAndReset hands over the fields loaded since the last reset,
// never nil, and readies the visitor for the next document.
func (v *ReusableDocumentStoredFieldVisitor) GetDocumentAndReset() index.Document {
	document := v.document
	v.document = nil

	if document == nil {
		return index.Document{}
	}
	return document
}

// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -
// VisitorFactory
// - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - -

// VisitorFactory hands out visitors sharing one field acceptance list.
type VisitorFactory struct {
	accepted []string
	pool     sync.Pool
}

// NewVisitorFactory returns a factory of visitors accepting the given
// fields, or every field when fields is nil.
func NewVisitorFactory(fields []string) *VisitorFactory {
	f := &VisitorFactory{}
	if fields != nil {
		f.accepted = slices.Clone(fields)
	}

	f.pool.New = func() any {
		return &ReusableDocumentStoredFieldVisitor{accepted: f.accepted}
	}

	return f
}

// AcceptsAll reports whether the visitors load every stored field.
func (f *VisitorFactory) AcceptsAll() bool {
	return f.accepted == nil
}

// Lease takes a visitor for the calling goroutine. The lease must be
// released once the extraction pass is over.
func (f *VisitorFactory) Lease() *VisitorLease {
	return &VisitorLease{
		factory: f,
		visitor: f.pool.Get().(*ReusableDocumentStoredFieldVisitor),
	}
}

type VisitorLease struct {
	factory *VisitorFactory
	visitor *ReusableDocumentStoredFieldVisitor
}

// Visitor returns the leased visitor, nil once released.
func (l *VisitorLease) Visitor() *ReusableDocumentStoredFieldVisitor {
	return l.visitor
}

// Release resets the visitor and returns it to its factory. Releasing twice
// is a no-op.
func (l *VisitorLease) Release() {
	if l.visitor == nil {
		return
	}

	l.visitor.GetDocumentAndReset()
	l.factory.pool.Put(l.visitor)
	l.visitor = nil
}
