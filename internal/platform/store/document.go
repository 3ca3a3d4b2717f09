// Package store implements the durable document store backing every
// resource collection: revisioned put/get/remove with tombstoned deletes,
// lexicographic range listing, and a per-collection change feed that
// replication and the UI hub subscribe to.
//
// A Store is an explicit handle opened once at startup and passed to every
// component that needs persistence. Backends are selected by configuration,
// never by capability probing.
package store

import (
	"encoding/json"
	"time"
)

// Document is the storage envelope around one resource. Rev is the
// optimistic-concurrency token, monotonic per document. Seq is the
// collection-wide commit sequence the change feed and replication
// checkpoints are positioned by. Neither is part of the domain model.
type Document struct {
	ID        string          `json:"id"`
	Rev       int64           `json:"rev"`
	Seq       int64           `json:"seq"`
	Deleted   bool            `json:"deleted,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Body      json.RawMessage `json:"body,omitempty"`
}

// Change is one entry of a collection's change feed, in commit order.
type Change struct {
	ID        string          `json:"id"`
	Rev       int64           `json:"rev"`
	Seq       int64           `json:"seq"`
	Deleted   bool            `json:"deleted,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Doc       json.RawMessage `json:"doc,omitempty"`
}

func changeFromDocument(doc *Document) Change {
	return Change{
		ID:        doc.ID,
		Rev:       doc.Rev,
		Seq:       doc.Seq,
		Deleted:   doc.Deleted,
		UpdatedAt: doc.UpdatedAt,
		Doc:       doc.Body,
	}
}
