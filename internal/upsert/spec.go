package upsert

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSpec is returned for malformed conflict targets or update clauses.
var ErrInvalidSpec = errors.New("invalid upsert spec")

// Spec describes one upsert target: the table, its column order, the
// natural-key conflict target and the columns replaced on conflict.
// If TouchColumn is set, the pipeline appends a write timestamp to every
// row and refreshes it on conflict.
type Spec struct {
	Table         string
	Columns       []string
	ConflictKey   []string
	UpdateColumns []string
	TouchColumn   string
}

// Validate checks that the conflict target and update clause refer to
// declared columns. Problems here are configuration errors.
func (s Spec) Validate() error {
	if s.Table == "" {
		return fmt.Errorf("%w: empty table name", ErrInvalidSpec)
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("%w: %s has no columns", ErrInvalidSpec, s.Table)
	}
	if len(s.ConflictKey) == 0 {
		return fmt.Errorf("%w: %s has no conflict key", ErrInvalidSpec, s.Table)
	}

	cols := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		if cols[c] {
			return fmt.Errorf("%w: %s column %q declared twice", ErrInvalidSpec, s.Table, c)
		}
		cols[c] = true
	}
	if s.TouchColumn != "" && cols[s.TouchColumn] {
		return fmt.Errorf("%w: %s touch column %q must not be in Columns", ErrInvalidSpec, s.Table, s.TouchColumn)
	}

	key := make(map[string]bool, len(s.ConflictKey))
	for _, c := range s.ConflictKey {
		if !cols[c] {
			return fmt.Errorf("%w: %s conflict column %q not in columns", ErrInvalidSpec, s.Table, c)
		}
		key[c] = true
	}
	for _, c := range s.UpdateColumns {
		if !cols[c] {
			return fmt.Errorf("%w: %s update column %q not in columns", ErrInvalidSpec, s.Table, c)
		}
		if key[c] {
			return fmt.Errorf("%w: %s update column %q is part of the conflict key", ErrInvalidSpec, s.Table, c)
		}
	}
	return nil
}

// width is the number of bound values per row.
func (s Spec) width() int {
	if s.TouchColumn != "" {
		return len(s.Columns) + 1
	}
	return len(s.Columns)
}

// Placeholder renders the n-th (1-based) bind parameter.
type Placeholder func(n int) string

// Question renders "?" placeholders (SQLite, MySQL).
func Question(int) string { return "?" }

// Dollar renders "$n" placeholders (PostgreSQL).
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// BuildStatement renders a multi-row INSERT ... ON CONFLICT DO UPDATE for
// rows rows. Both SQLite (>= 3.24) and PostgreSQL accept the output.
func BuildStatement(s Spec, rows int, ph Placeholder) string {
	cols := s.Columns
	if s.TouchColumn != "" {
		cols = append(append([]string{}, s.Columns...), s.TouchColumn)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", s.Table, strings.Join(cols, ", "))
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cols {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(ph(n))
			n++
		}
		b.WriteByte(')')
	}

	fmt.Fprintf(&b, " ON CONFLICT (%s) ", strings.Join(s.ConflictKey, ", "))
	set := append([]string{}, s.UpdateColumns...)
	if s.TouchColumn != "" {
		set = append(set, s.TouchColumn)
	}
	if len(set) == 0 {
		b.WriteString("DO NOTHING")
		return b.String()
	}
	b.WriteString("DO UPDATE SET ")
	for i, c := range set {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = excluded.%s", c, c)
	}
	return b.String()
}

// Rower is a record that renders itself in its Spec's column order.
type Rower interface {
	Row() []any
}

// Rows converts records to bound-value rows.
func Rows[T Rower](recs []T) [][]any {
	out := make([][]any, len(recs))
	for i, r := range recs {
		out[i] = r.Row()
	}
	return out
}
