package vectordb

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/orneryd/vectordb/pkg/hnsw"
	"github.com/orneryd/vectordb/pkg/vdberrors"
)

// Optimize rebuilds the HNSW graph from scratch over the arena's live
// ids (spec.md §4.E), dropping the accumulated churn of tombstoned
// entries from the adjacency lists, and compacts the metadata log to
// one line per id. Ids are preserved: rebuild walks ids [0, arena.Len())
// in order and skips tombstoned ones, it never renumbers anything.
//
// The graph rebuild and the metadata compaction touch disjoint files
// and neither depends on the other's output, so they run concurrently
// via errgroup. The rebuild itself stays single-threaded internally:
// spec.md invariant 10 requires that a fixed seed and fixed insert
// order produce a byte-identical graph, which a parallelized insert
// loop would break.
func (db *DB) Optimize(ctx context.Context) error {
	_, span := db.tracer.Start(ctx, "vectordb.Optimize")
	defer span.End()

	db.mu.Lock()
	defer db.mu.Unlock()

	n := db.arena.Len()
	live := func(id uint32) bool { return !db.meta.IsTombstoned(id) }

	var rebuilt *hnsw.Graph
	metaPath := filepath.Join(db.dir, metadataFileName)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		graph, err := hnsw.Rebuild(hnswConfigFrom(db.cfg), n, live, db.arena)
		if err != nil {
			return err
		}
		rebuilt = graph
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return gctx.Err()
		default:
		}
		return db.meta.Compact(metaPath)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	graphPath := filepath.Join(db.dir, graphFileName)
	tmpPath := graphPath + ".tmp"
	if err := rebuilt.Save(tmpPath); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, graphPath); err != nil {
		return vdberrors.Wrap(vdberrors.IO, "vectordb.Optimize", err)
	}

	db.graph = rebuilt
	return nil
}
