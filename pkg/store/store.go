// Package store persists session records keyed by proxy so a restart can skip
// re-authentication.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"proxy-keepalive/pkg/models"
)

const DefaultFreshness = 24 * time.Hour

var (
	ErrNotFound = errors.New("session record not found")
	ErrStale    = errors.New("session record is stale")
)

// Store persists one record per proxy. Load returns ErrNotFound when nothing
// was saved and ErrStale when the record is older than the freshness window.
type Store interface {
	Load(ctx context.Context, proxyID string) (models.Record, error)
	Save(ctx context.Context, proxyID string, rec models.Record) error
	Delete(ctx context.Context, proxyID string) error
}

// CheckFresh returns ErrStale unless rec is younger than window at now.
func CheckFresh(rec models.Record, now time.Time, window time.Duration) error {
	if !rec.FreshAt(now, window) {
		return fmt.Errorf("%w: written %s", ErrStale, rec.Timestamp.Format(time.RFC3339))
	}
	return nil
}
