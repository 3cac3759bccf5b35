package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/field-capture/internal/core/domain"
)

const schemaLockID int64 = 2026101501

// MediaRepository stores report and media rows for handed-off captures.
// Inserts are idempotent on id so a retried sync never duplicates a row.
type MediaRepository struct {
	db *sql.DB
}

func NewMediaRepository(db *sql.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *MediaRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS reports (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	report_type TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS media (
	id TEXT PRIMARY KEY,
	report_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	file_name TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	file_type TEXT NOT NULL,
	file_size BIGINT NOT NULL,
	caption TEXT NOT NULL DEFAULT '',
	voice_note TEXT NOT NULL DEFAULT '',
	latitude DOUBLE PRECISION,
	longitude DOUBLE PRECISION,
	location_name TEXT NOT NULL DEFAULT '',
	captured_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_media_report_id ON media(report_id);
CREATE INDEX IF NOT EXISTS idx_reports_user_created ON reports(user_id, created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// CreateReport inserts the report row, or refreshes the summary of a linked
// report that already exists.
func (r *MediaRepository) CreateReport(ctx context.Context, report domain.ReportRecord) error {
	if report.ID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "create report", errors.New("empty report id"))
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO reports (id, user_id, report_type, notes, summary, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET summary = EXCLUDED.summary, notes = EXCLUDED.notes
`,
		report.ID, report.UserID, string(report.ReportType), report.Notes, report.Summary, report.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// CreateMedia inserts a media row. A row that already exists is left as is.
func (r *MediaRepository) CreateMedia(ctx context.Context, media domain.MediaRecord) error {
	if media.ID == "" || media.ReportID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "create media", errors.New("media and report id are required"))
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO reports (id, user_id, report_type, created_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (id) DO NOTHING
`, media.ReportID, media.UserID, string(domain.ReportDaily), media.CreatedAt)
	if err != nil {
		return fmt.Errorf("ensure report for media: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO media (
	id, report_id, user_id, storage_path, file_name, mime_type, file_type, file_size,
	caption, voice_note, latitude, longitude, location_name, captured_at, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO NOTHING
`,
		media.ID, media.ReportID, media.UserID, media.StoragePath, media.FileName, media.MimeType,
		string(media.FileType), media.FileSize, media.Caption, media.VoiceNote,
		nullFloat(media.Latitude), nullFloat(media.Longitude), media.LocationName,
		nullTime(media.CapturedAt), media.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert media: %w", err)
	}
	return nil
}

// CountByReport returns how many media rows a report has.
func (r *MediaRepository) CountByReport(ctx context.Context, reportID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media WHERE report_id = $1`, reportID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count media: %w", err)
	}
	return n, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(ts *time.Time) sql.NullTime {
	if ts == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *ts, Valid: true}
}
