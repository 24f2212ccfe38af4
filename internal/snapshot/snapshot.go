// Package snapshot persists one table per domain and calendar date.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"tsingest/internal/domain"

	"github.com/parquet-go/parquet-go"
)

// Writer persists a snapshot and returns where it was written. Writing the
// same (domain, date) again replaces the previous snapshot.
type Writer interface {
	Persist(ctx context.Context, snap domain.Snapshot) (string, error)
}

// ParquetWriter writes <Root>/<dir>/<artifact>_<YYYY-MM-DD>.parquet.
type ParquetWriter struct {
	Root string
}

func NewParquetWriter(root string) *ParquetWriter {
	return &ParquetWriter{Root: root}
}

// Path is the file location for snap.
func (w *ParquetWriter) Path(snap domain.Snapshot) (string, error) {
	dir, ok := domain.ArtifactDir[snap.Domain]
	if !ok {
		return "", fmt.Errorf("no artifact directory for domain %q", snap.Domain)
	}
	if snap.Artifact == "" {
		return "", errors.New("artifact name is required")
	}
	return filepath.Join(w.Root, dir, fmt.Sprintf("%s_%s.parquet", snap.Artifact, snap.DateKey())), nil
}

func (w *ParquetWriter) Persist(ctx context.Context, snap domain.Snapshot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := snap.Table.Validate(); err != nil {
		return "", fmt.Errorf("persist %s: %w", snap.Domain, err)
	}
	path, err := w.Path(snap)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := writeTable(tmp, snap.Artifact, snap.Table); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("replace %s: %w", path, err)
	}
	return path, nil
}

// Schema builds the parquet schema for a table: a required millisecond
// timestamp plus one optional column per declared column.
func Schema(name string, table domain.Table) *parquet.Schema {
	group := parquet.Group{
		domain.TimestampColumn: parquet.Timestamp(parquet.Millisecond),
	}
	for _, col := range table.Columns {
		switch col.Kind {
		case domain.KindText:
			group[col.Name] = parquet.Optional(parquet.String())
		default:
			group[col.Name] = parquet.Optional(parquet.Leaf(parquet.DoubleType))
		}
	}
	return parquet.NewSchema(name, group)
}

func writeTable(f *os.File, name string, table domain.Table) error {
	schema := Schema(name, table)

	tsLeaf, ok := schema.Lookup(domain.TimestampColumn)
	if !ok {
		return errors.New("timestamp column missing from schema")
	}
	type leaf struct {
		col   domain.Column
		index int
	}
	leaves := make([]leaf, 0, len(table.Columns))
	for _, col := range table.Columns {
		l, ok := schema.Lookup(col.Name)
		if !ok {
			return fmt.Errorf("column %q missing from schema", col.Name)
		}
		leaves = append(leaves, leaf{col: col, index: l.ColumnIndex})
	}
	width := len(leaves) + 1

	rows := make([]parquet.Row, 0, len(table.Rows))
	for _, tp := range table.Rows {
		row := make(parquet.Row, width)
		row[tsLeaf.ColumnIndex] = parquet.Int64Value(tp.Timestamp.UnixMilli()).Level(0, 0, tsLeaf.ColumnIndex)
		for _, l := range leaves {
			v, present := tp.Fields[l.col.Name]
			if !present {
				row[l.index] = parquet.NullValue().Level(0, 0, l.index)
				continue
			}
			switch x := v.(type) {
			case float64:
				row[l.index] = parquet.DoubleValue(x).Level(0, 1, l.index)
			case string:
				row[l.index] = parquet.ByteArrayValue([]byte(x)).Level(0, 1, l.index)
			default:
				return fmt.Errorf("column %q: unsupported value %T", l.col.Name, v)
			}
		}
		rows = append(rows, row)
	}

	pw := parquet.NewWriter(f, schema)
	if _, err := pw.WriteRows(rows); err != nil {
		return err
	}
	return pw.Close()
}

// MirrorError reports writers that failed after the primary snapshot was
// already in place. The snapshot itself is written.
type MirrorError struct {
	Err error
}

func (e *MirrorError) Error() string { return "snapshot mirror: " + e.Err.Error() }

func (e *MirrorError) Unwrap() error { return e.Err }

// Multi fans a snapshot out to several writers in order. The first writer is
// the primary: its location is returned and its failure fails the write.
// Later failures come back as a *MirrorError alongside the primary location.
type Multi []Writer

func (m Multi) Persist(ctx context.Context, snap domain.Snapshot) (string, error) {
	var (
		location string
		primary  bool
		mirrors  []error
	)
	for _, w := range m {
		if w == nil {
			continue
		}
		loc, err := w.Persist(ctx, snap)
		if !primary {
			if err != nil {
				return "", err
			}
			primary = true
			location = loc
			continue
		}
		if err != nil {
			mirrors = append(mirrors, err)
		}
	}
	if !primary {
		return "", errors.New("no snapshot writer configured")
	}
	if len(mirrors) > 0 {
		return location, &MirrorError{Err: errors.Join(mirrors...)}
	}
	return location, nil
}

