package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"

	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/session"
)

var errStore = errors.New("store error")

func testSession() *session.Session {
	return &session.Session{
		ID:        "sess-1",
		OwnerID:   "owner-1",
		StartedAt: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
		Status:    session.StatusActive,
		Config:    session.Config{ActivityKind: session.KindRun, DistanceUnit: session.UnitKilometers},
		DistanceM: 1234.5,
		Points: []session.TrackPoint{
			{Lat: -6.2, Lng: 106.8, RecordedAt: time.Date(2025, 6, 1, 8, 0, 5, 0, time.UTC), AccuracyM: 5},
		},
		Splits: []session.Split{{Index: 1, DistanceM: 1000, DurationS: 300}},
		HeartRate: session.HeartRateProfile{
			Samples: []session.HeartRateSample{{BPM: 140, RecordedAt: time.Date(2025, 6, 1, 8, 0, 5, 0, time.UTC)}},
			AvgBPM:  140,
			MaxBPM:  140,
		},
	}
}

// anyArgs returns n AnyArg matchers; pgxmock requires the expected
// argument count to match even when values are not asserted.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresMigrate(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS activity_sessions`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	if err := NewPostgresStore(mock, nil).Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUpsertAndFinalize(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	st := NewPostgresStore(mock, nil)

	mock.ExpectExec(`INSERT INTO activity_sessions`).
		WithArgs(anyArgs(19)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := st.Upsert(context.Background(), testSession()); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	mock.ExpectExec(`INSERT INTO activity_sessions`).
		WithArgs(anyArgs(19)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := st.Finalize(context.Background(), testSession()); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUpsertError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO activity_sessions`).
		WithArgs(anyArgs(19)...).
		WillReturnError(errStore)

	if err := NewPostgresStore(mock, nil).Upsert(context.Background(), testSession()); !errors.Is(err, errStore) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestPostgresLoadActive(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	want := testSession()
	cfg, points, splits, hr, err := marshalShards(want)
	if err != nil {
		t.Fatalf("marshal shards: %v", err)
	}

	cols := []string{"id", "owner_id", "started_at", "ended_at", "status", "config",
		"distance_m", "moving_time_s", "elapsed_time_s", "calories",
		"elevation_gain_m", "elevation_loss_m",
		"avg_pace_sec_km", "avg_speed_mps", "max_speed_mps",
		"points", "splits", "heart_rate"}

	mock.ExpectQuery(`SELECT id, owner_id, started_at`).
		WithArgs("owner-1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			want.ID, want.OwnerID, want.StartedAt, nil, string(want.Status), cfg,
			want.DistanceM, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0,
			points, splits, hr))

	got, err := NewPostgresStore(mock, nil).LoadActive(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("load active: %v", err)
	}
	if got == nil || got.ID != want.ID || got.Status != session.StatusActive {
		t.Fatalf("unexpected session: %+v", got)
	}
	if len(got.Points) != 1 || len(got.Splits) != 1 || len(got.HeartRate.Samples) != 1 {
		t.Fatalf("shards not restored: %+v", got)
	}
}

func TestPostgresLoadActiveNoRows(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, owner_id, started_at`).
		WithArgs("owner-2").
		WillReturnError(pgx.ErrNoRows)

	got, err := NewPostgresStore(mock, nil).LoadActive(context.Background(), "owner-2")
	if err != nil || got != nil {
		t.Fatalf("expected nil,nil for no rows, got %v %v", got, err)
	}
}
