// Package metadata implements the append-only attribute store backing
// metadata.jsonl: one JSON object per line, later lines shadowing
// earlier ones for the same vector id, plus a predicate tree for
// filtering.
//
// Recognized slots are doc_type, date, source_path, asset_tag, and
// bias (written as "type", "date", "source", "asset_tag", "bias"),
// plus numeric attributes under the "numeric" key; any other top-level
// key is kept verbatim in Extra, whatever its value type, so unknown
// metadata never gets silently lost on round-trip.
package metadata

import (
	"bytes"
	"encoding/json"
	"time"
)

// Bias is a three-valued enum, spec.md §3.
type Bias string

const (
	BiasNone    Bias = ""
	BiasLeft    Bias = "left"
	BiasRight   Bias = "right"
	BiasNeutral Bias = "neutral"
)

// Record is one metadata entry for a vector id. Date is a pointer so
// the zero value can represent "absent" distinctly from the Unix
// epoch, matching spec.md's "null dates never match range predicates".
//
// Numeric holds the sparse numeric_attribute_name -> float64 mapping.
// Extra holds any other unrecognized key verbatim (as raw JSON), so an
// attribute this version of the store has no opinion about survives a
// read-modify-write cycle unchanged.
type Record struct {
	ID         uint32
	DocType    string
	Date       *time.Time
	SourcePath string
	AssetTag   string
	Bias       Bias
	Numeric    map[string]float64
	Extra      map[string]json.RawMessage
	Tombstone  bool
}

// dateLayout is the ISO-8601 calendar date format spec.md §3 pins.
const dateLayout = "2006-01-02"

// wireRecord is the literal metadata.jsonl line shape from spec.md §6.
type wireRecord struct {
	ID         uint32          `json:"id"`
	DocType    string          `json:"type,omitempty"`
	Date       *string         `json:"date,omitempty"`
	SourcePath string          `json:"source,omitempty"`
	AssetTag   string          `json:"asset_tag,omitempty"`
	Bias       Bias            `json:"bias,omitempty"`
	Numeric    map[string]float64 `json:"numeric,omitempty"`
	Tombstone  bool            `json:"_tombstone,omitempty"`
}

// recognizedKeys are excluded from Extra on unmarshal since they are
// already modeled as named fields.
var recognizedKeys = map[string]bool{
	"id": true, "type": true, "date": true, "source": true,
	"asset_tag": true, "bias": true, "numeric": true, "_tombstone": true,
}

// MarshalJSON renders the record in the exact shape spec.md §6 pins:
// a flat object with the recognized slots plus any opaque extras
// merged in at the top level.
func (r Record) MarshalJSON() ([]byte, error) {
	w := wireRecord{
		ID: r.ID, DocType: r.DocType, SourcePath: r.SourcePath,
		AssetTag: r.AssetTag, Bias: r.Bias, Numeric: r.Numeric,
		Tombstone: r.Tombstone,
	}
	if r.Date != nil {
		s := r.Date.Format(dateLayout)
		w.Date = &s
	}
	base, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return base, nil
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if recognizedKeys[k] {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON parses one metadata.jsonl line, keeping any unexpected
// top-level key verbatim in Extra rather than discarding it.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return err
	}
	r.ID = w.ID
	r.DocType = w.DocType
	r.SourcePath = w.SourcePath
	r.AssetTag = w.AssetTag
	r.Bias = w.Bias
	r.Numeric = w.Numeric
	r.Tombstone = w.Tombstone
	if w.Date != nil {
		t, err := time.Parse(dateLayout, *w.Date)
		if err != nil {
			return err
		}
		r.Date = &t
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if recognizedKeys[k] {
			continue
		}
		if r.Extra == nil {
			r.Extra = map[string]json.RawMessage{}
		}
		r.Extra[k] = v
	}
	return nil
}
