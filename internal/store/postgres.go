package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/db"
	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/session"
)

// PostgresStore is the authoritative remote store. The point, split and
// heart-rate sequences are sharded into their own JSONB columns so a
// large track never bloats summary reads.
type PostgresStore struct {
	db  db.Querier
	log *zap.Logger
}

func NewPostgresStore(q db.Querier, log *zap.Logger) *PostgresStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostgresStore{db: q, log: log}
}

const sessionsSchema = `
CREATE TABLE IF NOT EXISTS activity_sessions (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	config JSONB NOT NULL,
	distance_m DOUBLE PRECISION NOT NULL DEFAULT 0,
	moving_time_s DOUBLE PRECISION NOT NULL DEFAULT 0,
	elapsed_time_s DOUBLE PRECISION NOT NULL DEFAULT 0,
	calories DOUBLE PRECISION NOT NULL DEFAULT 0,
	elevation_gain_m DOUBLE PRECISION NOT NULL DEFAULT 0,
	elevation_loss_m DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_pace_sec_km DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_speed_mps DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_speed_mps DOUBLE PRECISION NOT NULL DEFAULT 0,
	points JSONB NOT NULL DEFAULT '[]',
	splits JSONB NOT NULL DEFAULT '[]',
	heart_rate JSONB NOT NULL DEFAULT '{}',
	finalized_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
)`

// Migrate creates the session table when it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, sessionsSchema)
	return err
}

func (p *PostgresStore) Upsert(ctx context.Context, s *session.Session) error {
	return p.write(ctx, s, false)
}

func (p *PostgresStore) Finalize(ctx context.Context, s *session.Session) error {
	return p.write(ctx, s, true)
}

func (p *PostgresStore) write(ctx context.Context, s *session.Session, finalized bool) error {
	cfg, points, splits, hr, err := marshalShards(s)
	if err != nil {
		return err
	}

	var finalizedAt *time.Time
	if finalized {
		now := time.Now()
		finalizedAt = &now
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO activity_sessions (
			id, owner_id, started_at, ended_at, status, config,
			distance_m, moving_time_s, elapsed_time_s, calories,
			elevation_gain_m, elevation_loss_m,
			avg_pace_sec_km, avg_speed_mps, max_speed_mps,
			points, splits, heart_rate, finalized_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,now())
		ON CONFLICT (id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			status = EXCLUDED.status,
			distance_m = EXCLUDED.distance_m,
			moving_time_s = EXCLUDED.moving_time_s,
			elapsed_time_s = EXCLUDED.elapsed_time_s,
			calories = EXCLUDED.calories,
			elevation_gain_m = EXCLUDED.elevation_gain_m,
			elevation_loss_m = EXCLUDED.elevation_loss_m,
			avg_pace_sec_km = EXCLUDED.avg_pace_sec_km,
			avg_speed_mps = EXCLUDED.avg_speed_mps,
			max_speed_mps = EXCLUDED.max_speed_mps,
			points = EXCLUDED.points,
			splits = EXCLUDED.splits,
			heart_rate = EXCLUDED.heart_rate,
			finalized_at = COALESCE(activity_sessions.finalized_at, EXCLUDED.finalized_at),
			updated_at = now()
	`, s.ID, s.OwnerID, s.StartedAt, s.EndedAt, s.Status, cfg,
		s.DistanceM, s.MovingTimeS, s.ElapsedTimeS, s.Calories,
		s.ElevationGainM, s.ElevationLossM,
		s.AvgPaceSecKm, s.AvgSpeedMps, s.MaxSpeedMps,
		points, splits, hr, finalizedAt)
	if err != nil {
		return fmt.Errorf("write session %s: %w", s.ID, err)
	}
	return nil
}

// LoadActive returns the most recent non-completed session for the owner,
// or nil when none exists. Used for crash recovery on relaunch; the host
// decides whether to resume or discard it.
func (p *PostgresStore) LoadActive(ctx context.Context, ownerID string) (*session.Session, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, owner_id, started_at, ended_at, status, config,
			distance_m, moving_time_s, elapsed_time_s, calories,
			elevation_gain_m, elevation_loss_m,
			avg_pace_sec_km, avg_speed_mps, max_speed_mps,
			points, splits, heart_rate
		FROM activity_sessions
		WHERE owner_id=$1 AND status IN ('acquiring_signal','active','paused')
		ORDER BY started_at DESC
		LIMIT 1
	`, ownerID)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var s session.Session
	var status string
	var cfg, points, splits, hr []byte
	err := row.Scan(&s.ID, &s.OwnerID, &s.StartedAt, &s.EndedAt, &status, &cfg,
		&s.DistanceM, &s.MovingTimeS, &s.ElapsedTimeS, &s.Calories,
		&s.ElevationGainM, &s.ElevationLossM,
		&s.AvgPaceSecKm, &s.AvgSpeedMps, &s.MaxSpeedMps,
		&points, &splits, &hr)
	if err != nil {
		return nil, err
	}
	s.Status = session.Status(status)
	if err := unmarshalShards(&s, cfg, points, splits, hr); err != nil {
		return nil, err
	}
	return &s, nil
}

func marshalShards(s *session.Session) (cfg, points, splits, hr []byte, err error) {
	if cfg, err = json.Marshal(s.Config); err != nil {
		return
	}
	if points, err = json.Marshal(s.Points); err != nil {
		return
	}
	if splits, err = json.Marshal(s.Splits); err != nil {
		return
	}
	hr, err = json.Marshal(s.HeartRate)
	return
}

func unmarshalShards(s *session.Session, cfg, points, splits, hr []byte) error {
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &s.Config); err != nil {
			return err
		}
	}
	if len(points) > 0 {
		if err := json.Unmarshal(points, &s.Points); err != nil {
			return err
		}
	}
	if len(splits) > 0 {
		if err := json.Unmarshal(splits, &s.Splits); err != nil {
			return err
		}
	}
	if len(hr) > 0 {
		if err := json.Unmarshal(hr, &s.HeartRate); err != nil {
			return err
		}
	}
	return nil
}
