package vectorindex

import (
	"fmt"
	"slices"
)

// Filter is a metadata predicate understood by every backend. The concrete
// variants are Eq, In, Range and And; backends translate them, they never
// see free-form maps.
type Filter interface {
	isFilter()
}

// Eq matches records whose field equals Value. On list fields (labels,
// languages) it matches when any element equals Value.
type Eq struct {
	Field string
	Value any
}

// In matches when the field equals any of Values.
type In struct {
	Field  string
	Values []any
}

// Op is a range comparison.
type Op int

const (
	OpLt Op = iota
	OpLte
	OpGt
	OpGte
)

func (o Op) String() string {
	switch o {
	case OpLt:
		return "$lt"
	case OpLte:
		return "$lte"
	case OpGt:
		return "$gt"
	case OpGte:
		return "$gte"
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Range compares a numeric field against Value.
type Range struct {
	Field string
	Op    Op
	Value float64
}

// And is the conjunction of its members. An empty And matches everything.
type And []Filter

func (Eq) isFilter()    {}
func (In) isFilter()    {}
func (Range) isFilter() {}
func (And) isFilter()   {}

// Lt, Gt and Gte are shorthands for the range variants used by the jobs.
func Lt(field string, v float64) Range  { return Range{Field: field, Op: OpLt, Value: v} }
func Gt(field string, v float64) Range  { return Range{Field: field, Op: OpGt, Value: v} }
func Gte(field string, v float64) Range { return Range{Field: field, Op: OpGte, Value: v} }

// Filterable metadata fields and whether they hold numbers.
var fields = map[string]bool{
	"repo_full_name": false,
	"repo_owner":     false,
	"repo_name":      false,
	"issue_number":   true,
	"title":          false,
	"url":            false,
	"language":       false,
	"languages":      false,
	"labels":         false,
	"stars":          true,
	"comments":       true,
	"created_at_ts":  true,
	"updated_at_ts":  true,
	"ingested_at":    true,
}

// Validate rejects unknown fields, range operators on text fields, and
// malformed variants. A nil filter is valid.
func Validate(f Filter) error {
	switch v := f.(type) {
	case nil:
		return nil
	case Eq:
		return checkField(v.Field, false)
	case In:
		if len(v.Values) == 0 {
			return fmt.Errorf("filter: $in on %q needs at least one value", v.Field)
		}
		return checkField(v.Field, false)
	case Range:
		if v.Op < OpLt || v.Op > OpGte {
			return fmt.Errorf("filter: unknown operator %s", v.Op)
		}
		return checkField(v.Field, true)
	case And:
		for _, member := range v {
			if err := Validate(member); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("filter: unsupported variant %T", f)
	}
}

func checkField(name string, numeric bool) error {
	isNumber, ok := fields[name]
	if !ok {
		return fmt.Errorf("filter: unknown field %q", name)
	}
	if numeric && !isNumber {
		return fmt.Errorf("filter: field %q is not numeric", name)
	}
	return nil
}

// Fields lists the filterable metadata fields, sorted.
func Fields() []string {
	out := make([]string, 0, len(fields))
	for name := range fields {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Conjoin ANDs the non-nil filters, flattening nested conjunctions.
func Conjoin(filters ...Filter) Filter {
	var out And
	for _, f := range filters {
		switch v := f.(type) {
		case nil:
		case And:
			out = append(out, v...)
		default:
			out = append(out, v)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}
