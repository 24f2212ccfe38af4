// Package normalize maps provider payloads onto the canonical table shape and
// merges independently fetched tables.
package normalize

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"tsingest/internal/domain"
)

// Record is one decoded provider row before normalization.
type Record map[string]any

type TimeFormat int

const (
	Auto TimeFormat = iota
	EpochSeconds
	EpochMillis
	RFC3339
	DateOnly
	// EpochDay is epoch seconds truncated to the UTC calendar date, for daily
	// bars stamped at the session open.
	EpochDay
)

type TimeField struct {
	Field  string
	Format TimeFormat
}

type FieldMap struct {
	From string
	To   string
	Kind domain.Kind
}

// SchemaMap describes how one provider's fields become canonical columns.
// Static text columns are set on every row.
type SchemaMap struct {
	Timestamp TimeField
	Fields    []FieldMap
	Static    map[string]string
}

func (s SchemaMap) columns() []domain.Column {
	seen := make(map[string]bool, len(s.Fields)+len(s.Static))
	cols := make([]domain.Column, 0, len(s.Fields)+len(s.Static))
	for _, f := range s.Fields {
		if seen[f.To] {
			continue
		}
		seen[f.To] = true
		cols = append(cols, domain.Column{Name: f.To, Kind: f.Kind})
	}
	for name := range s.Static {
		if seen[name] {
			continue
		}
		seen[name] = true
		cols = append(cols, domain.Column{Name: name, Kind: domain.KindText})
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	return cols
}

// Normalize renames and retypes raw records. A record without a parsable
// timestamp fails the whole payload; unparsable values are left absent.
func Normalize(raw []Record, schema SchemaMap) (domain.Table, error) {
	if schema.Timestamp.Field == "" {
		return domain.Table{}, fmt.Errorf("normalize: timestamp field is required")
	}
	table := domain.Table{
		Columns: schema.columns(),
		Rows:    make([]domain.TimePoint, 0, len(raw)),
	}

	for i, rec := range raw {
		ts, err := ParseTime(rec[schema.Timestamp.Field], schema.Timestamp.Format)
		if err != nil {
			return domain.Table{}, fmt.Errorf("%w: record %d field %q: %v",
				domain.ErrMalformedResponse, i, schema.Timestamp.Field, err)
		}

		fields := make(map[string]any, len(schema.Fields)+len(schema.Static))
		for _, f := range schema.Fields {
			v, ok := rec[f.From]
			if !ok {
				continue
			}
			switch f.Kind {
			case domain.KindNumber:
				if n, ok := asFloat(v); ok {
					fields[f.To] = n
				}
			case domain.KindText:
				if s := asText(v); s != "" {
					fields[f.To] = s
				}
			}
		}
		for name, v := range schema.Static {
			fields[name] = v
		}

		table.Rows = append(table.Rows, domain.TimePoint{Timestamp: ts, Fields: fields})
	}

	return table, nil
}

var autoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.000 UTC",
	"2006-01-02 15:04:05 UTC",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.DateOnly,
	time.RFC1123Z,
	time.RFC1123,
}

// ParseTime converts a raw timestamp value into a UTC instant.
func ParseTime(v any, format TimeFormat) (time.Time, error) {
	if v == nil {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}

	switch format {
	case EpochSeconds, EpochMillis, EpochDay:
		n, ok := asFloat(v)
		if !ok {
			return time.Time{}, fmt.Errorf("not an epoch value: %v", v)
		}
		switch format {
		case EpochMillis:
			return time.UnixMilli(int64(n)).UTC(), nil
		case EpochDay:
			return time.Unix(int64(n), 0).UTC().Truncate(24 * time.Hour), nil
		}
		sec, frac := math.Modf(n)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	case RFC3339:
		return parseLayouts(v, time.RFC3339Nano)
	case DateOnly:
		return parseLayouts(v, time.DateOnly)
	default:
		if _, isString := v.(string); !isString {
			n, ok := asFloat(v)
			if !ok {
				return time.Time{}, fmt.Errorf("unsupported timestamp %T", v)
			}
			// Values above 1e12 are epoch milliseconds.
			if n > 1e12 {
				return time.UnixMilli(int64(n)).UTC(), nil
			}
			return time.Unix(int64(n), 0).UTC(), nil
		}
		return parseLayouts(v, autoLayouts...)
	}
}

func parseLayouts(v any, layouts ...string) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp is %T, want string", v)
	}
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func asFloat(v any) (float64, bool) {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case float32:
		n = float64(x)
	case int:
		n = float64(x)
	case int32:
		n = float64(x)
	case int64:
		n = float64(x)
	case string:
		x = strings.TrimSpace(x)
		if x == "" || x == "." {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func asText(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}
