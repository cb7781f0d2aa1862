// Package store implements the persistence gateway for tracked sessions:
// periodic checkpoints while a session runs and a durable finalize when
// it stops. The remote Postgres store is authoritative; the on-device
// SQLite store keeps a local copy so a failed finalize loses nothing.
package store

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/session"
)

// Store is the durable representation of a session.
type Store interface {
	Upsert(ctx context.Context, s *session.Session) error
	Finalize(ctx context.Context, s *session.Session) error
	LoadActive(ctx context.Context, ownerID string) (*session.Session, error)
}

// ErrNoStore is returned by Finalize when no backing store is configured.
var ErrNoStore = errors.New("store: no backing store configured")

// Tiered layers the local cache under the remote store. Checkpoints hit
// both best-effort; finalize must land remotely or the session is
// retained locally with a pending marker for a later sync.
type Tiered struct {
	Remote Store
	Local  *SQLiteStore
	Log    *zap.Logger
}

func NewTiered(remote Store, local *SQLiteStore, log *zap.Logger) *Tiered {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tiered{Remote: remote, Local: local, Log: log}
}

func (t *Tiered) Upsert(ctx context.Context, s *session.Session) error {
	if t.Local != nil {
		if err := t.Local.Upsert(ctx, s); err != nil {
			t.Log.Warn("local checkpoint failed", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
	if t.Remote == nil {
		return nil
	}
	return t.Remote.Upsert(ctx, s)
}

func (t *Tiered) Finalize(ctx context.Context, s *session.Session) error {
	if t.Remote == nil {
		if t.Local == nil {
			return ErrNoStore
		}
		return t.Local.Finalize(ctx, s)
	}

	if err := t.Remote.Finalize(ctx, s); err != nil {
		if t.Local != nil {
			if lerr := t.Local.Finalize(ctx, s); lerr != nil {
				t.Log.Error("local retention failed after remote finalize error",
					zap.String("session_id", s.ID), zap.Error(lerr))
			}
		}
		return err
	}

	if t.Local != nil {
		if err := t.Local.Delete(ctx, s.ID); err != nil {
			t.Log.Warn("local cleanup failed", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
	return nil
}

func (t *Tiered) LoadActive(ctx context.Context, ownerID string) (*session.Session, error) {
	if t.Remote != nil {
		s, err := t.Remote.LoadActive(ctx, ownerID)
		if err == nil && s != nil {
			return s, nil
		}
		if err != nil {
			t.Log.Warn("remote load failed, falling back to local", zap.Error(err))
		}
	}
	if t.Local == nil {
		return nil, nil
	}
	return t.Local.LoadActive(ctx, ownerID)
}
