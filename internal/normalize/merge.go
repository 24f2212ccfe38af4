package normalize

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"tsingest/internal/domain"
)

type Strategy int

const (
	// OuterJoin keys rows by timestamp and keeps every timestamp seen in any input.
	OuterJoin Strategy = iota
	// Concatenate unions rows without deduplicating shared timestamps.
	Concatenate
)

func (s Strategy) String() string {
	switch s {
	case OuterJoin:
		return "outer-join-on-timestamp"
	case Concatenate:
		return "concatenate"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ErrConflict is returned when inputs disagree on a column kind or on a value
// for the same field at the same timestamp.
var ErrConflict = errors.New("merge conflict")

// Merge combines tables with the given strategy. The resulting row set does
// not depend on input order; rows are sorted by timestamp.
func Merge(tables []domain.Table, strategy Strategy) (domain.Table, error) {
	cols, err := unionColumns(tables)
	if err != nil {
		return domain.Table{}, err
	}

	switch strategy {
	case OuterJoin:
		return outerJoin(tables, cols)
	case Concatenate:
		return concatenate(tables, cols), nil
	default:
		return domain.Table{}, fmt.Errorf("unknown merge strategy %d", int(strategy))
	}
}

func unionColumns(tables []domain.Table) ([]domain.Column, error) {
	kinds := make(map[string]domain.Kind)
	for _, t := range tables {
		for _, c := range t.Columns {
			if k, ok := kinds[c.Name]; ok && k != c.Kind {
				return nil, fmt.Errorf("%w: column %q is both %s and %s", ErrConflict, c.Name, k, c.Kind)
			}
			kinds[c.Name] = c.Kind
		}
	}
	cols := make([]domain.Column, 0, len(kinds))
	for name, kind := range kinds {
		cols = append(cols, domain.Column{Name: name, Kind: kind})
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	return cols, nil
}

func outerJoin(tables []domain.Table, cols []domain.Column) (domain.Table, error) {
	byTime := make(map[int64]*domain.TimePoint)
	for _, t := range tables {
		for _, row := range t.Rows {
			key := row.Timestamp.UnixNano()
			merged, ok := byTime[key]
			if !ok {
				merged = &domain.TimePoint{
					Timestamp: row.Timestamp.UTC(),
					Fields:    make(map[string]any, len(cols)),
				}
				byTime[key] = merged
			}
			for name, v := range row.Fields {
				if prev, exists := merged.Fields[name]; exists && prev != v {
					return domain.Table{}, fmt.Errorf("%w: field %q at %s has values %v and %v",
						ErrConflict, name, row.Timestamp.UTC().Format(time.RFC3339), prev, v)
				}
				merged.Fields[name] = v
			}
		}
	}

	keys := make([]int64, 0, len(byTime))
	for k := range byTime {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := domain.Table{Columns: cols, Rows: make([]domain.TimePoint, 0, len(keys))}
	for _, k := range keys {
		out.Rows = append(out.Rows, *byTime[k])
	}
	return out, nil
}

func concatenate(tables []domain.Table, cols []domain.Column) domain.Table {
	total := 0
	for _, t := range tables {
		total += t.Len()
	}
	out := domain.Table{Columns: cols, Rows: make([]domain.TimePoint, 0, total)}
	for _, t := range tables {
		for _, row := range t.Rows {
			fields := make(map[string]any, len(row.Fields))
			for k, v := range row.Fields {
				fields[k] = v
			}
			out.Rows = append(out.Rows, domain.TimePoint{Timestamp: row.Timestamp.UTC(), Fields: fields})
		}
	}
	out.SortByTime()
	return out
}
