package vectordb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/orneryd/vectordb/pkg/distance"
)

func statSize(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}

// Stats is the snapshot spec.md §6's stats() operation returns.
type Stats struct {
	Count      uint32          // total arena records, live or tombstoned
	LiveCount  uint32          // records not tombstoned
	Dimension  uint32          // vector width
	Metric     distance.Metric // active distance metric
	Bytes      uint64          // on-disk footprint across all three stores
	SIMDTier   distance.Tier   // active distance kernel tier
}

// String renders Stats with a human-readable byte count, for the
// façade's logging and the CLI's stats subcommand.
func (s Stats) String() string {
	return fmt.Sprintf("Stats{count=%d live=%d dim=%d metric=%s bytes=%s simd=%s}",
		s.Count, s.LiveCount, s.Dimension, s.Metric, humanize.Bytes(s.Bytes), s.SIMDTier)
}

// Stats reports the database's current size and shape.
func (db *DB) Stats() Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var bytes uint64
	for _, path := range []string{
		filepath.Join(db.dir, vectorsFileName),
		filepath.Join(db.dir, metadataFileName),
		filepath.Join(db.dir, graphFileName),
	} {
		if info, err := statSize(path); err == nil {
			bytes += info
		}
	}

	return Stats{
		Count:     db.arena.Len(),
		LiveCount: db.meta.LiveCount(),
		Dimension: db.arena.Dimension(),
		Metric:    db.arena.Metric(),
		Bytes:     bytes,
		SIMDTier:  distance.ActiveTier(),
	}
}
