package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"proxy-keepalive/pkg/models"
	"proxy-keepalive/pkg/store"
)

// SessionStore keeps session records in the sessions table, one row per proxy.
type SessionStore struct {
	db        *DB
	freshness time.Duration
	now       func() time.Time
}

var _ store.Store = (*SessionStore)(nil)

func NewSessionStore(db *DB, freshness time.Duration) *SessionStore {
	if freshness <= 0 {
		freshness = store.DefaultFreshness
	}
	return &SessionStore{db: db, freshness: freshness, now: time.Now}
}

func (s *SessionStore) Load(ctx context.Context, proxyID string) (models.Record, error) {
	var row models.SessionRow
	err := s.db.NewSelect().
		Model(&row).
		Where("proxy_id = ?", proxyID).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Record{}, store.ErrNotFound
		}
		return models.Record{}, fmt.Errorf("error querying session: %w", err)
	}

	rec := row.Record()
	if err := store.CheckFresh(rec, s.now(), s.freshness); err != nil {
		return models.Record{}, err
	}

	return rec, nil
}

func (s *SessionStore) Save(ctx context.Context, proxyID string, rec models.Record) error {
	_, err := s.db.NewInsert().
		Model(models.NewSessionRow(proxyID, rec)).
		On("CONFLICT (proxy_id) DO UPDATE").
		Set("written_at = EXCLUDED.written_at").
		Set("account_info = EXCLUDED.account_info").
		Set("browser_id = EXCLUDED.browser_id").
		Set("status = EXCLUDED.status").
		Set("retry_count = EXCLUDED.retry_count").
		Set("updated_at = CURRENT_TIMESTAMP").
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("error upserting session: %w", err)
	}

	return nil
}

func (s *SessionStore) Delete(ctx context.Context, proxyID string) error {
	_, err := s.db.NewDelete().
		Model((*models.SessionRow)(nil)).
		Where("proxy_id = ?", proxyID).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("error removing session: %w", err)
	}

	return nil
}
