package search

import (
	"cmp"
	"errors"
	"fmt"
	"strings"

	"github.com/dreamware/shardsearch/internal/coordinator"
)

// ErrSortTypeMismatch is returned when a sort field is declared with
// different types in indexes queried together.
var ErrSortTypeMismatch = errors.New("sort field type mismatch")

// Comparator orders ScoredResults by a sort specification. With no sort
// fields it orders by descending score. It never breaks ties itself:
// results equal on every sort field compare as 0.
type Comparator struct {
	sorts []FieldSort
	types []coordinator.FieldType
}

// NewComparator builds a comparator. types is aligned with sorts; entries
// for ScoreField are ignored.
func NewComparator(sorts []FieldSort, types []coordinator.FieldType) *Comparator {
	return &Comparator{sorts: sorts, types: types}
}

// SortTypes resolves the type of every sort field across the given
// indexes and fails if any field disagrees between them.
func SortTypes(sorts []FieldSort, indexes []coordinator.IndexMapping) ([]coordinator.FieldType, error) {
	types := make([]coordinator.FieldType, len(sorts))
	for i, fs := range sorts {
		if fs.Field == ScoreField {
			continue
		}
		for j, m := range indexes {
			t := m.Settings.SortFieldType(fs.Field)
			if j == 0 {
				types[i] = t
				continue
			}
			if t != types[i] {
				return nil, fmt.Errorf("%w: cannot sort on field %s: found type %s then type %s",
					ErrSortTypeMismatch, fs.Field, types[i], t)
			}
		}
	}
	return types, nil
}

// Sorting reports whether an explicit sort is in effect.
func (c *Comparator) Sorting() bool {
	return len(c.sorts) > 0
}

// Compare returns a negative number when a ranks before b.
func (c *Comparator) Compare(a, b *ScoredResult) int {
	if len(c.sorts) == 0 {
		return cmp.Compare(b.Score, a.Score)
	}

	for i, fs := range c.sorts {
		var r int
		if fs.Field == ScoreField {
			if fs.descending() {
				r = cmp.Compare(b.Score, a.Score)
			} else {
				r = cmp.Compare(a.Score, b.Score)
			}
		} else {
			r = compareValues(sortValueAt(a, i), sortValueAt(b, i), c.typeAt(i), fs.MissingLast)
			if fs.descending() {
				r = -r
			}
		}
		if r != 0 {
			return r
		}
	}
	return 0
}

func (c *Comparator) typeAt(i int) coordinator.FieldType {
	if i < len(c.types) {
		return c.types[i]
	}
	return coordinator.FieldKeyword
}

func sortValueAt(r *ScoredResult, i int) SortValue {
	if i < len(r.SortValues) {
		return r.SortValues[i]
	}
	return SortValue{}
}

type kind int

const (
	kindString kind = iota
	kindInt
	kindFloat
)

func sortKind(t coordinator.FieldType) kind {
	switch {
	case t.Integral():
		return kindInt
	case t == coordinator.FieldFloat || t == coordinator.FieldDouble:
		return kindFloat
	default:
		return kindString
	}
}

// compareValues orders missing values first, or last when missingLast is
// set. The direction flip is applied by the caller afterwards, so a
// descending sort also reverses where missing values land.
func compareValues(a, b SortValue, t coordinator.FieldType, missingLast bool) int {
	switch {
	case !a.Exists && !b.Exists:
		return 0
	case !a.Exists:
		if missingLast {
			return 1
		}
		return -1
	case !b.Exists:
		if missingLast {
			return -1
		}
		return 1
	}
	switch sortKind(t) {
	case kindInt:
		return cmp.Compare(a.Int, b.Int)
	case kindFloat:
		return cmp.Compare(a.Float, b.Float)
	default:
		return strings.Compare(a.String, b.String)
	}
}
