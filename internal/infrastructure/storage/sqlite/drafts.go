package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/field-capture/internal/core/domain"
)

// DraftStore keeps one full draft snapshot per key.
type DraftStore struct {
	db *sql.DB
}

func NewDraftStore(db *sql.DB) *DraftStore {
	return &DraftStore{db: db}
}

func (s *DraftStore) Save(ctx context.Context, key string, draft domain.DraftSession) error {
	payload, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drafts (draft_key, payload, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(draft_key) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at
	`, key, payload, draft.SavedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

func (s *DraftStore) Load(ctx context.Context, key string) (*domain.DraftSession, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM drafts WHERE draft_key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}

	var draft domain.DraftSession
	if err := json.Unmarshal(payload, &draft); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	return &draft, nil
}

func (s *DraftStore) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE draft_key = ?`, key); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}
