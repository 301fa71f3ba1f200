package metadata

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/orneryd/vectordb/pkg/vdberrors"
)

// Store is the append-only JSONL metadata log: metadata.jsonl. Every
// Insert/Tombstone call appends a line; Matches/Get only ever consult
// the latest record for an id, held in an in-memory map from id to
// that full record (built by replaying the file at Open time). The map
// holds decoded records, not file offsets.
//
// Store takes no lock of its own: the façade serializes writers and
// Store's reads are safe to call concurrently with each other, only
// not with a concurrent Append (same discipline as pkg/arena).
type Store struct {
	f       *os.File
	records map[uint32]Record // id -> latest record
}

// Create initializes a new, empty metadata.jsonl at path.
func Create(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, vdberrors.Wrap(vdberrors.IO, "metadata.Create", err)
	}
	return &Store{f: f, records: map[uint32]Record{}}, nil
}

// Open replays an existing metadata.jsonl, with later lines shadowing
// earlier ones for the same id, per spec.md §6.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, vdberrors.Wrap(vdberrors.IO, "metadata.Open", err)
	}

	records := map[uint32]Record{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			f.Close()
			return nil, vdberrors.Wrap(vdberrors.Corruption, "metadata.Open", err)
		}
		records[rec.ID] = rec
	}
	if err := scanner.Err(); err != nil {
		f.Close()
		return nil, vdberrors.Wrap(vdberrors.Corruption, "metadata.Open", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, vdberrors.Wrap(vdberrors.IO, "metadata.Open", err)
	}

	return &Store{f: f, records: records}, nil
}

// Insert appends rec (with Tombstone left false) as the record for
// rec.ID, shadowing any prior record for that id.
func (s *Store) Insert(rec Record) error {
	rec.Tombstone = false
	return s.append(rec)
}

// Tombstone appends a shadowing record marking id as logically
// deleted, preserving whatever other attributes it last had.
func (s *Store) Tombstone(id uint32) error {
	rec, ok := s.records[id]
	if !ok {
		rec = Record{ID: id}
	}
	rec.Tombstone = true
	return s.append(rec)
}

func (s *Store) append(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return vdberrors.Wrap(vdberrors.InvalidArgument, "metadata.append", err)
	}
	line = append(line, '\n')
	if _, err := s.f.Write(line); err != nil {
		return vdberrors.Wrap(vdberrors.IO, "metadata.append", err)
	}
	s.records[rec.ID] = rec
	return nil
}

// Get returns the latest record for id. ok is false if id was never
// inserted.
func (s *Store) Get(id uint32) (Record, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// IsTombstoned reports whether id's latest record marks it deleted.
// An id that was never inserted is not considered tombstoned.
func (s *Store) IsTombstoned(id uint32) bool {
	rec, ok := s.records[id]
	return ok && rec.Tombstone
}

// Matches reports whether id's latest record satisfies predicate. An
// id with no record never matches.
func (s *Store) Matches(id uint32, predicate Predicate) bool {
	rec, ok := s.records[id]
	if !ok {
		return false
	}
	return Matches(&rec, predicate)
}

// LiveCount returns the number of ids whose latest record is not a
// tombstone.
func (s *Store) LiveCount() uint32 {
	var n uint32
	for _, rec := range s.records {
		if !rec.Tombstone {
			n++
		}
	}
	return n
}

// TombstonedCount returns the number of ids whose latest record is a
// tombstone.
func (s *Store) TombstonedCount() uint32 {
	var n uint32
	for _, rec := range s.records {
		if rec.Tombstone {
			n++
		}
	}
	return n
}

// MatchingIDs returns every live id whose latest record satisfies
// predicate, for the façade's pre-filter search path (spec.md §4.D):
// bypassing the graph entirely and computing distances only against
// these ids is cheaper than searching when predicate is selective.
func (s *Store) MatchingIDs(predicate Predicate) []uint32 {
	var out []uint32
	for id, rec := range s.records {
		if rec.Tombstone {
			continue
		}
		if Matches(&rec, predicate) {
			out = append(out, id)
		}
	}
	return out
}

// Sample returns up to n live records, for the planner's selectivity
// estimation. Iteration order follows Go's map order and is not
// stable across calls.
func (s *Store) Sample(n int) []Record {
	out := make([]Record, 0, n)
	for _, rec := range s.records {
		if rec.Tombstone {
			continue
		}
		out = append(out, rec)
		if len(out) >= n {
			break
		}
	}
	return out
}

// LiveRecords returns every non-tombstoned record, for rebuilding a
// planner.Histogram at Open time. Iteration order follows Go's map
// order and is not stable across calls.
func (s *Store) LiveRecords() []Record {
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if !rec.Tombstone {
			out = append(out, rec)
		}
	}
	return out
}

// Compact rewrites the backing file to hold exactly one line per
// known id (its latest record, tombstone or not), replacing an
// append-only log that has accumulated shadowed history with its
// current logical contents. The caller (the façade's Optimize) is
// responsible for quiescing writers first; Compact itself does not
// lock, matching every other Store method's discipline.
func (s *Store) Compact(path string) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return vdberrors.Wrap(vdberrors.IO, "metadata.Compact", err)
	}

	w := bufio.NewWriter(f)
	for _, rec := range s.records {
		line, err := json.Marshal(rec)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return vdberrors.Wrap(vdberrors.InvalidArgument, "metadata.Compact", err)
		}
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			f.Close()
			os.Remove(tmp)
			return vdberrors.Wrap(vdberrors.IO, "metadata.Compact", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return vdberrors.Wrap(vdberrors.IO, "metadata.Compact", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return vdberrors.Wrap(vdberrors.IO, "metadata.Compact", err)
	}
	f.Close()

	if err := os.Rename(tmp, path); err != nil {
		return vdberrors.Wrap(vdberrors.IO, "metadata.Compact", err)
	}

	newFile, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return vdberrors.Wrap(vdberrors.IO, "metadata.Compact", err)
	}
	if _, err := newFile.Seek(0, io.SeekEnd); err != nil {
		newFile.Close()
		return vdberrors.Wrap(vdberrors.IO, "metadata.Compact", err)
	}
	if s.f != nil {
		s.f.Close()
	}
	s.f = newFile
	return nil
}

// Flush ensures appended lines are durable through the OS page cache.
func (s *Store) Flush() error {
	if err := s.f.Sync(); err != nil {
		return vdberrors.Wrap(vdberrors.IO, "metadata.Flush", err)
	}
	return nil
}

// Close flushes and closes the backing file. Safe to call once.
func (s *Store) Close() error {
	if s.f == nil {
		return nil
	}
	syncErr := s.f.Sync()
	closeErr := s.f.Close()
	s.f = nil
	if syncErr != nil {
		return vdberrors.Wrap(vdberrors.IO, "metadata.Close", syncErr)
	}
	if closeErr != nil {
		return vdberrors.Wrap(vdberrors.IO, "metadata.Close", closeErr)
	}
	return nil
}
