package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tsingest/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const createSnapshotTables = `
CREATE TABLE IF NOT EXISTS ingest_snapshots (
    domain        TEXT        NOT NULL,
    snapshot_date DATE        NOT NULL,
    artifact      TEXT        NOT NULL,
    row_count     INTEGER     NOT NULL,
    columns       JSONB       NOT NULL,
    written_at    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (domain, snapshot_date)
);

CREATE TABLE IF NOT EXISTS ingest_points (
    domain        TEXT        NOT NULL,
    snapshot_date DATE        NOT NULL,
    seq           INTEGER     NOT NULL,
    ts            TIMESTAMPTZ NOT NULL,
    fields        JSONB       NOT NULL,
    PRIMARY KEY (domain, snapshot_date, seq),
    FOREIGN KEY (domain, snapshot_date)
        REFERENCES ingest_snapshots (domain, snapshot_date) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_ingest_points_ts
    ON ingest_points (domain, ts DESC);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// SnapshotRecord describes one stored snapshot without its rows.
type SnapshotRecord struct {
	Domain    domain.ID       `json:"domain"`
	Artifact  string          `json:"artifact"`
	Date      string          `json:"date"`
	Rows      int             `json:"rows"`
	Columns   []domain.Column `json:"columns"`
	WrittenAt time.Time       `json:"written_at"`
}

// SnapshotRepository mirrors snapshots into Postgres. A snapshot for an
// existing (domain, date) replaces the stored one.
type SnapshotRepository struct {
	pool   PgxPool
	tracer trace.Tracer
	now    func() time.Time
}

func NewSnapshotRepository(pool PgxPool, tracer trace.Tracer) *SnapshotRepository {
	return &SnapshotRepository{pool: pool, tracer: tracer, now: time.Now}
}

func (r *SnapshotRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "snapshot-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createSnapshotTables)
	return err
}

// Persist implements snapshot.Writer. The header upsert, the removal of the
// previous rows and the new rows go out as one batch.
func (r *SnapshotRepository) Persist(ctx context.Context, snap domain.Snapshot) (string, error) {
	ctx, span := r.tracer.Start(ctx, "snapshot-repo.persist")
	defer span.End()
	span.SetAttributes(
		attribute.String("domain", string(snap.Domain)),
		attribute.Int("rows", snap.Table.Len()),
	)

	columns, err := json.Marshal(snap.Table.Columns)
	if err != nil {
		return "", fmt.Errorf("encode columns: %w", err)
	}
	date := snap.DateKey()

	batch := &pgx.Batch{}
	batch.Queue(
		`INSERT INTO ingest_snapshots (domain, snapshot_date, artifact, row_count, columns, written_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (domain, snapshot_date) DO UPDATE SET
		     artifact = EXCLUDED.artifact,
		     row_count = EXCLUDED.row_count,
		     columns = EXCLUDED.columns,
		     written_at = EXCLUDED.written_at`,
		string(snap.Domain), date, snap.Artifact, snap.Table.Len(), string(columns), r.now().UTC(),
	)
	batch.Queue(
		`DELETE FROM ingest_points WHERE domain = $1 AND snapshot_date = $2`,
		string(snap.Domain), date,
	)
	for i, tp := range snap.Table.Rows {
		fields, err := json.Marshal(tp.Fields)
		if err != nil {
			return "", fmt.Errorf("encode row %d: %w", i, err)
		}
		batch.Queue(
			`INSERT INTO ingest_points (domain, snapshot_date, seq, ts, fields)
			 VALUES ($1, $2, $3, $4, $5)`,
			string(snap.Domain), date, i, tp.Timestamp.UTC(), string(fields),
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("persist snapshot %s/%s: %w", snap.Domain, date, err)
		}
	}
	return fmt.Sprintf("postgres://ingest_snapshots/%s/%s", snap.Domain, date), nil
}

// ListSnapshots returns the most recent snapshots, newest first. An empty id
// lists every domain.
func (r *SnapshotRepository) ListSnapshots(ctx context.Context, id domain.ID, limit int) ([]SnapshotRecord, error) {
	_, span := r.tracer.Start(ctx, "snapshot-repo.list-snapshots")
	defer span.End()

	if limit <= 0 {
		limit = 30
	}
	rows, err := r.pool.Query(ctx,
		`SELECT domain, artifact, to_char(snapshot_date, 'YYYY-MM-DD'), row_count, columns, written_at
		 FROM ingest_snapshots
		 WHERE $1 = '' OR domain = $1
		 ORDER BY snapshot_date DESC, domain
		 LIMIT $2`,
		string(id), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotRecord
	for rows.Next() {
		var (
			rec     SnapshotRecord
			dom     string
			columns []byte
		)
		if err := rows.Scan(&dom, &rec.Artifact, &rec.Date, &rec.Rows, &columns, &rec.WrittenAt); err != nil {
			return nil, err
		}
		rec.Domain = domain.ID(dom)
		if err := json.Unmarshal(columns, &rec.Columns); err != nil {
			return nil, fmt.Errorf("decode columns for %s/%s: %w", dom, rec.Date, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
