package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/field-capture/internal/core/domain"
)

// OfflineQueue is the durable FIFO of media captured without connectivity.
// Re-enqueueing an id replaces its content but keeps its place in line.
// Rows marked failed stay on disk but leave the line until re-enqueued.
type OfflineQueue struct {
	db *sql.DB
}

func NewOfflineQueue(db *sql.DB) *OfflineQueue {
	return &OfflineQueue{db: db}
}

func (q *OfflineQueue) Enqueue(ctx context.Context, item domain.PendingMediaItem) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO pending_media (
			id, report_id, user_id, file_data, file_name, mime_type, file_type, file_size,
			caption, voice_note, latitude, longitude, location_name, captured_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			report_id = excluded.report_id,
			user_id = excluded.user_id,
			file_data = excluded.file_data,
			file_name = excluded.file_name,
			mime_type = excluded.mime_type,
			file_type = excluded.file_type,
			file_size = excluded.file_size,
			caption = excluded.caption,
			voice_note = excluded.voice_note,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			location_name = excluded.location_name,
			captured_at = excluded.captured_at,
			failed_at = NULL,
			last_error = ''
	`,
		item.ID, item.ReportID, item.UserID, item.FileData, item.FileName, item.MimeType, string(item.FileType), item.FileSize,
		item.Caption, item.VoiceNote, nullFloat(item.Latitude), nullFloat(item.Longitude), item.LocationName,
		nullUnix(item.CapturedAt), item.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("enqueue pending media %s: %w", item.ID, err)
	}
	return nil
}

func (q *OfflineQueue) ListPending(ctx context.Context, limit int) ([]domain.PendingMediaItem, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, report_id, user_id, file_data, file_name, mime_type, file_type, file_size,
		       caption, voice_note, latitude, longitude, location_name, captured_at, created_at
		FROM pending_media
		WHERE failed_at IS NULL
		ORDER BY seq ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending media: %w", err)
	}
	defer rows.Close()

	items := make([]domain.PendingMediaItem, 0, limit)
	for rows.Next() {
		var (
			item       domain.PendingMediaItem
			fileType   string
			lat, lon   sql.NullFloat64
			capturedAt sql.NullInt64
			createdAt  int64
		)
		if err := rows.Scan(
			&item.ID, &item.ReportID, &item.UserID, &item.FileData, &item.FileName, &item.MimeType, &fileType, &item.FileSize,
			&item.Caption, &item.VoiceNote, &lat, &lon, &item.LocationName, &capturedAt, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending media: %w", err)
		}
		item.FileType = domain.MediaKind(fileType)
		if lat.Valid {
			item.Latitude = &lat.Float64
		}
		if lon.Valid {
			item.Longitude = &lon.Float64
		}
		if capturedAt.Valid {
			ts := time.Unix(0, capturedAt.Int64).UTC()
			item.CapturedAt = &ts
		}
		item.CreatedAt = time.Unix(0, createdAt).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending media: %w", err)
	}
	return items, nil
}

func (q *OfflineQueue) Remove(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM pending_media WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove pending media %s: %w", id, err)
	}
	return nil
}

// MarkFailed takes an item that can never sync out of line, keeping it for inspection.
func (q *OfflineQueue) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE pending_media SET failed_at = ?, last_error = ? WHERE id = ?`,
		time.Now().UTC().UnixNano(), reason, id,
	)
	if err != nil {
		return fmt.Errorf("mark pending media %s failed: %w", id, err)
	}
	return nil
}

// Count returns the number of items still waiting to sync.
func (q *OfflineQueue) Count(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_media WHERE failed_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending media: %w", err)
	}
	return n, nil
}

func (q *OfflineQueue) CountFailed(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_media WHERE failed_at IS NOT NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count failed media: %w", err)
	}
	return n, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullUnix(ts *time.Time) sql.NullInt64 {
	if ts == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: ts.UnixNano(), Valid: true}
}
