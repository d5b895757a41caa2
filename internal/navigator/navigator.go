// Package navigator fetches one document for a (county, tms, doc_type)
// triple and classifies failures into domain error kinds.
package navigator

import (
	"context"

	"parcelfetch/internal/domain"
)

// Document is the raw content of one fetched document.
type Document struct {
	Data []byte
	// Instance names one document of a multi-instance type, e.g.
	// "Book 1234 Page 567" for a deed. Empty for single-instance types.
	Instance    string
	ContentType string
	Source      string
}

// Navigator must be safe for concurrent use across distinct triples.
// Errors are *domain.FetchError values; anything else is treated as
// transient by callers.
type Navigator interface {
	Fetch(ctx context.Context, county domain.CountyID, tms string, docType domain.DocTypeID) (Document, error)
}

// Func adapts a function to Navigator.
type Func func(ctx context.Context, county domain.CountyID, tms string, docType domain.DocTypeID) (Document, error)

func (f Func) Fetch(ctx context.Context, county domain.CountyID, tms string, docType domain.DocTypeID) (Document, error) {
	return f(ctx, county, tms, docType)
}
