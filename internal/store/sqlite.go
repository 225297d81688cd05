package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/KaramelBytes/insightloom/internal/analysis"
	"github.com/KaramelBytes/insightloom/internal/model"
)

// SQLite implements Store using modernc.org/sqlite.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLite{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS reports (
	seq               INTEGER PRIMARY KEY AUTOINCREMENT,
	id                TEXT NOT NULL UNIQUE,
	original_filename TEXT NOT NULL,
	row_count         INTEGER NOT NULL,
	columns           TEXT NOT NULL,
	column_stats      TEXT NOT NULL,
	preview_data      TEXT NOT NULL,
	insights          TEXT NOT NULL DEFAULT '',
	follow_ups        TEXT NOT NULL DEFAULT '[]',
	warnings          TEXT NOT NULL DEFAULT '[]',
	file_path         TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at DESC, seq DESC);

CREATE TABLE IF NOT EXISTS health_probe (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	touched_at INTEGER NOT NULL
);
`

func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Create(ctx context.Context, r *model.Report) error {
	cols, err := encodeReport(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (id, original_filename, row_count, columns, column_stats, preview_data,
			insights, follow_ups, warnings, file_path, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OriginalFilename, r.RowCount, cols.columns, cols.stats, cols.preview,
		r.Insights, cols.followUps, cols.warnings, r.FilePath,
		r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano(),
	)
	return eris.Wrapf(err, "sqlite: insert report %s", r.ID)
}

func (s *SQLite) Update(ctx context.Context, r *model.Report) error {
	cols, err := encodeReport(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE reports SET insights = ?, follow_ups = ?, warnings = ?, updated_at = ? WHERE id = ?`,
		r.Insights, cols.followUps, cols.warnings, r.UpdatedAt.UnixNano(), r.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update report %s", r.ID)
	}
	return checkRowsAffected(res, "report", r.ID)
}

func (s *SQLite) Get(ctx context.Context, id string) (*model.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "report %s", id)
	}
	return r, err
}

func (s *SQLite) List(ctx context.Context) ([]*model.Report, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports ORDER BY created_at DESC, seq DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close()

	var out []*model.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list reports iterate")
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete report %s", id)
	}
	return checkRowsAffected(res, "report", id)
}

func (s *SQLite) Ping(ctx context.Context) error {
	now := time.Now().UnixNano()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO health_probe (id, touched_at) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET touched_at = excluded.touched_at`, now); err != nil {
		return eris.Wrap(err, "sqlite: probe write")
	}
	var got int64
	if err := s.db.QueryRowContext(ctx, `SELECT touched_at FROM health_probe WHERE id = 1`).Scan(&got); err != nil {
		return eris.Wrap(err, "sqlite: probe read")
	}
	if got != now {
		return eris.Errorf("sqlite: probe mismatch: wrote %d read %d", now, got)
	}
	return nil
}

const reportColumns = `id, original_filename, row_count, columns, column_stats, preview_data,
	insights, follow_ups, warnings, file_path, created_at, updated_at`

type encoded struct {
	columns, stats, preview, followUps, warnings string
}

func encodeReport(r *model.Report) (encoded, error) {
	var e encoded
	for _, f := range []struct {
		dst *string
		v   any
	}{
		{&e.columns, nonNil(r.Columns)},
		{&e.stats, r.ColumnStats},
		{&e.preview, nonNil(r.PreviewData)},
		{&e.followUps, nonNil(r.FollowUpAnswers)},
		{&e.warnings, nonNil(r.Warnings)},
	} {
		b, err := json.Marshal(f.v)
		if err != nil {
			return e, eris.Wrapf(err, "sqlite: marshal report %s", r.ID)
		}
		*f.dst = string(b)
	}
	return e, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanReport(row scannable) (*model.Report, error) {
	var (
		r                                         model.Report
		cols, stats, preview, followUps, warnings string
		created, updated                          int64
	)
	if err := row.Scan(&r.ID, &r.OriginalFilename, &r.RowCount, &cols, &stats, &preview,
		&r.Insights, &followUps, &warnings, &r.FilePath, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan report")
	}
	r.ColumnStats = map[string]analysis.ColumnStats{}
	for _, f := range []struct {
		src string
		dst any
	}{
		{cols, &r.Columns},
		{stats, &r.ColumnStats},
		{preview, &r.PreviewData},
		{followUps, &r.FollowUpAnswers},
		{warnings, &r.Warnings},
	} {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal report %s", r.ID)
		}
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	r.UpdatedAt = time.Unix(0, updated).UTC()
	return &r, nil
}
