package metadata

import "time"

// Op is a numeric comparison operator, spec.md §4.C.
type Op string

const (
	OpLT Op = "<"
	OpLE Op = "<="
	OpEQ Op = "="
	OpGE Op = ">="
	OpGT Op = ">"
)

// Predicate is a first-class filter value: either a leaf comparison or
// a boolean composition of other predicates. Evaluation short-circuits
// AND/OR at the first decisive child, matching spec.md §4.C.
type Predicate interface {
	eval(r *Record) bool
}

// DocTypeEquals matches records whose DocType equals T.
type DocTypeEquals struct{ T string }

func (p DocTypeEquals) eval(r *Record) bool { return r.DocType == p.T }

// DateRange matches records whose Date falls in [From, To] inclusive.
// A nil Date never matches, per spec.md §3.
type DateRange struct{ From, To time.Time }

func (p DateRange) eval(r *Record) bool {
	if r.Date == nil {
		return false
	}
	d := *r.Date
	return !d.Before(p.From) && !d.After(p.To)
}

// AssetTagEquals matches records whose AssetTag equals S.
type AssetTagEquals struct{ S string }

func (p AssetTagEquals) eval(r *Record) bool { return r.AssetTag == p.S }

// BiasIn matches records whose Bias is one of the given values.
type BiasIn struct{ Values []Bias }

func (p BiasIn) eval(r *Record) bool {
	for _, v := range p.Values {
		if r.Bias == v {
			return true
		}
	}
	return false
}

// NumericCompare matches records whose numeric attribute Name compares
// to X via Op. A record missing the attribute never matches.
type NumericCompare struct {
	Name string
	Op   Op
	X    float64
}

func (p NumericCompare) eval(r *Record) bool {
	v, ok := r.Numeric[p.Name]
	if !ok {
		return false
	}
	switch p.Op {
	case OpLT:
		return v < p.X
	case OpLE:
		return v <= p.X
	case OpEQ:
		return v == p.X
	case OpGE:
		return v >= p.X
	case OpGT:
		return v > p.X
	default:
		return false
	}
}

// And matches when every child matches. Evaluation stops at the first
// false child.
type And []Predicate

func (p And) eval(r *Record) bool {
	for _, child := range p {
		if !child.eval(r) {
			return false
		}
	}
	return true
}

// Or matches when any child matches. Evaluation stops at the first
// true child.
type Or []Predicate

func (p Or) eval(r *Record) bool {
	for _, child := range p {
		if child.eval(r) {
			return true
		}
	}
	return false
}

// Not inverts its child.
type Not struct{ Child Predicate }

func (p Not) eval(r *Record) bool { return !p.Child.eval(r) }

// Matches reports whether r satisfies predicate. A nil predicate
// matches everything.
func Matches(r *Record, predicate Predicate) bool {
	if predicate == nil {
		return true
	}
	return predicate.eval(r)
}
