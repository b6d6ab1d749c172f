package etl

import "context"

// ── Destination ────────────────────────────────────────────
// A Destination writes flat rows into a target system. The contract is
// the three calls a tabular sink needs (declare, upsert, checkpoint) plus
// delete for rows the source marks as removed.
//
// Pattern: Singer target protocol.

// Destination writes rows to a target system. Upsert must be idempotent
// per primary key: replaying a window after a failed run is safe.
type Destination interface {
	// Declare announces every table and its primary key before any write.
	Declare(ctx context.Context, tables []TableSchema) error

	// Upsert inserts or replaces one row keyed by its table's primary key.
	Upsert(ctx context.Context, table string, row map[string]any) error

	// Delete removes the row identified by keys.
	Delete(ctx context.Context, table string, keys map[string]any) error

	// Checkpoint durably records the sync position for jobID.
	Checkpoint(ctx context.Context, jobID string, state State) error

	Close() error
}
