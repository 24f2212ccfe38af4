package domain

import (
	"fmt"
	"sort"
	"time"
)

// TimestampColumn is the implicit key column of every table.
const TimestampColumn = "timestamp"

type Kind int

const (
	KindNumber Kind = iota
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "number":
		*k = KindNumber
	case "text":
		*k = KindText
	default:
		return fmt.Errorf("unknown column kind %q", b)
	}
	return nil
}

type Column struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// TimePoint is one row. Fields hold float64 for number columns and string
// for text columns; an absent field is a missing key.
type TimePoint struct {
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields"`
}

type Table struct {
	Columns []Column    `json:"columns"`
	Rows    []TimePoint `json:"rows"`
}

func (t Table) Len() int    { return len(t.Rows) }
func (t Table) Empty() bool { return len(t.Rows) == 0 }

func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

// Validate reports whether every row matches the declared schema.
func (t Table) Validate() error {
	kinds := make(map[string]Kind, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" || c.Name == TimestampColumn {
			return fmt.Errorf("%w: invalid column name %q", ErrMalformedResponse, c.Name)
		}
		if _, dup := kinds[c.Name]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrMalformedResponse, c.Name)
		}
		kinds[c.Name] = c.Kind
	}
	for i, row := range t.Rows {
		if row.Timestamp.IsZero() {
			return fmt.Errorf("%w: row %d has no timestamp", ErrMalformedResponse, i)
		}
		if row.Timestamp.Location() != time.UTC {
			return fmt.Errorf("%w: row %d timestamp is not UTC", ErrMalformedResponse, i)
		}
		for name, v := range row.Fields {
			kind, ok := kinds[name]
			if !ok {
				return fmt.Errorf("%w: row %d has undeclared field %q", ErrMalformedResponse, i, name)
			}
			if !valueMatches(kind, v) {
				return fmt.Errorf("%w: row %d field %q is %T, want %s", ErrMalformedResponse, i, name, v, kind)
			}
		}
	}
	return nil
}

func valueMatches(kind Kind, v any) bool {
	switch kind {
	case KindNumber:
		_, ok := v.(float64)
		return ok
	case KindText:
		_, ok := v.(string)
		return ok
	default:
		return false
	}
}

// Clip returns the rows that fall inside w. Columns are kept.
func (t Table) Clip(w Window) Table {
	out := Table{Columns: t.Columns, Rows: make([]TimePoint, 0, len(t.Rows))}
	for _, row := range t.Rows {
		if w.Contains(row.Timestamp) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// SortByTime orders rows by timestamp, keeping the relative order of ties.
func (t Table) SortByTime() {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return t.Rows[i].Timestamp.Before(t.Rows[j].Timestamp)
	})
}
