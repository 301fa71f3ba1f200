package vectordb

import (
	"context"

	"github.com/orneryd/vectordb/pkg/metadata"
	"github.com/orneryd/vectordb/pkg/vdberrors"
)

// Insert writes v and its associated metadata, returning the new
// vector's id. Failure atomicity follows spec.md §7: the arena write
// happens first, then metadata, then the graph; if metadata or the
// graph insert fails, the arena record is rolled back via Truncate so
// a failed insert never leaves a live record with no metadata.
func (db *DB) Insert(ctx context.Context, v []float32, rec metadata.Record) (uint32, error) {
	_, span := db.tracer.Start(ctx, "vectordb.Insert")
	defer span.End()

	if uint32(len(v)) != db.cfg.Dimension {
		return 0, vdberrors.New(vdberrors.InvalidArgument, "vectordb.Insert", "vector dimension mismatch")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	id, err := db.arena.Append(v)
	if err != nil {
		return 0, err
	}

	rec.ID = id
	if err := db.meta.Insert(rec); err != nil {
		db.arena.Truncate(id)
		return 0, err
	}

	stored, err := db.arena.Get(id)
	if err != nil {
		db.arena.Truncate(id)
		return 0, err
	}
	if err := db.graph.Insert(id, stored); err != nil {
		db.arena.Truncate(id)
		return 0, err
	}

	db.histogram.Observe(histogramAttr, rec.DocType)
	return id, nil
}

// Tombstone marks id as logically deleted: it is skipped by future
// searches and by optimize's rebuild, but its arena slot and id are
// never reclaimed (deletion is tombstone-only, spec.md §1 Non-goals).
func (db *DB) Tombstone(ctx context.Context, id uint32) error {
	_, span := db.tracer.Start(ctx, "vectordb.Tombstone")
	defer span.End()

	db.mu.Lock()
	defer db.mu.Unlock()

	rec, existed := db.meta.Get(id)
	alreadyTombstoned := existed && rec.Tombstone

	if err := db.meta.Tombstone(id); err != nil {
		return err
	}
	db.graph.Tombstone(id)

	if existed && !alreadyTombstoned {
		db.histogram.Forget(histogramAttr, rec.DocType)
	}
	return nil
}
