// Package store defines the storage interface for inspection records.
package store

import "github.com/gsambyal/h2inspect/pkg/model"

// SchemaVersion is incremented when schema changes require re-indexing.
const SchemaVersion = 1

// Store persists the records of an inspection run.
type Store interface {
	// BeginBatch starts a batch write transaction.
	BeginBatch() error

	// CommitBatch commits the current batch.
	CommitBatch() error

	// InsertTransaction inserts a transaction record.
	InsertTransaction(t *model.Transaction) error

	// InsertEvent inserts a finding record.
	InsertEvent(e *model.Event) error

	// Close releases the store.
	Close() error
}
