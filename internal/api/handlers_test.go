package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/engine"
	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/sensor"
	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/session"
)

type stubStore struct {
	mu        sync.Mutex
	finalizes int
	active    *session.Session
}

func (s *stubStore) Upsert(_ context.Context, _ *session.Session) error { return nil }

func (s *stubStore) Finalize(_ context.Context, _ *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizes++
	return nil
}

func (s *stubStore) LoadActive(_ context.Context, _ string) (*session.Session, error) {
	return s.active, nil
}

func stubAuth(c *fiber.Ctx) error {
	c.Locals("user_id", "owner-1")
	return c.Next()
}

func newTestApp(t *testing.T) (*fiber.App, *Handler, *stubStore) {
	t.Helper()
	st := &stubStore{}
	loc := sensor.NewPushLocationSource()
	hr := sensor.NewPushHeartRateSource()
	mgr := engine.NewManager(engine.Deps{
		Location:      loc,
		HeartRate:     hr,
		Store:         st,
		DisableTicker: true,
	})

	h := &Handler{Manager: mgr, Location: loc, HeartRate: hr, Store: st}
	app := fiber.New()
	RegisterRoutes(app.Group("/sessions"), h, stubAuth)
	return app, h, st
}

func jsonReq(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestStartPauseResumeStopFlow(t *testing.T) {
	app, _, st := newTestApp(t)

	resp, err := app.Test(jsonReq(t, http.MethodPost, "/sessions/", session.Config{ActivityKind: session.KindRun}))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil || created.SessionID == "" {
		t.Fatalf("missing session id: %v", err)
	}

	// second start conflicts while the first session runs
	resp, err = app.Test(jsonReq(t, http.MethodPost, "/sessions/", session.Config{}))
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	// pause requires an active session; the first fix has not arrived yet
	resp, err = app.Test(jsonReq(t, http.MethodPost, "/sessions/current/pause", nil))
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("pause before first fix should 409, got %d", resp.StatusCode)
	}

	resp, err = app.Test(jsonReq(t, http.MethodPost, "/sessions/current/stop", nil))
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var stopped struct {
		Session session.Session `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stopped); err != nil {
		t.Fatalf("decode stop: %v", err)
	}
	if stopped.Session.Status != session.StatusCompleted {
		t.Fatalf("expected completed, got %s", stopped.Session.Status)
	}

	st.mu.Lock()
	finals := st.finalizes
	st.mu.Unlock()
	if finals != 1 {
		t.Fatalf("expected one finalize, got %d", finals)
	}

	// stop is idempotent over HTTP too
	resp, err = app.Test(jsonReq(t, http.MethodPost, "/sessions/current/stop", nil))
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on repeat stop, got %d", resp.StatusCode)
	}
}

func TestLocationIngestActivatesSession(t *testing.T) {
	app, _, _ := newTestApp(t)

	if resp, _ := app.Test(jsonReq(t, http.MethodGet, "/sessions/current/metrics", nil)); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("metrics without session should 404, got %d", resp.StatusCode)
	}

	if _, err := app.Test(jsonReq(t, http.MethodPost, "/sessions/", session.Config{})); err != nil {
		t.Fatalf("start: %v", err)
	}

	resp, err := app.Test(jsonReq(t, http.MethodPost, "/sessions/current/locations",
		sensor.Fix{Lat: -6.2, Lng: 106.8, RecordedAt: time.Now(), AccuracyM: 5}))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	// the fix travels through the adapter stream; poll briefly
	deadline := time.Now().Add(time.Second)
	for {
		resp, err := app.Test(jsonReq(t, http.MethodGet, "/sessions/current/metrics", nil))
		if err != nil {
			t.Fatalf("metrics: %v", err)
		}
		var snap session.Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			t.Fatalf("decode metrics: %v", err)
		}
		if snap.Status == session.StatusActive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never activated, last status %s", snap.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHeartRateIngest(t *testing.T) {
	app, _, _ := newTestApp(t)

	if _, err := app.Test(jsonReq(t, http.MethodPost, "/sessions/", session.Config{})); err != nil {
		t.Fatalf("start: %v", err)
	}

	resp, err := app.Test(jsonReq(t, http.MethodPost, "/sessions/current/heartrate",
		sensor.Sample{BPM: 142, RecordedAt: time.Now()}))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var out struct {
		Accepted bool `json:"accepted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || !out.Accepted {
		t.Fatalf("sample not accepted: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		resp, _ := app.Test(jsonReq(t, http.MethodGet, "/sessions/current/metrics", nil))
		var snap session.Snapshot
		_ = json.NewDecoder(resp.Body).Decode(&snap)
		if snap.MaxBPM == 142 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("heart-rate sample never landed, got %d", snap.MaxBPM)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartPermissionDenied(t *testing.T) {
	app, h, _ := newTestApp(t)
	h.Location.DenyPermission(true)

	resp, err := app.Test(jsonReq(t, http.MethodPost, "/sessions/", session.Config{}))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestActiveRecoveryProbe(t *testing.T) {
	app, _, st := newTestApp(t)

	resp, err := app.Test(jsonReq(t, http.MethodGet, "/sessions/active", nil))
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	st.active = &session.Session{ID: "recovered-1", OwnerID: "owner-1", Status: session.StatusPaused}
	resp, err = app.Test(jsonReq(t, http.MethodGet, "/sessions/active", nil))
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var recovered session.Session
	if err := json.NewDecoder(resp.Body).Decode(&recovered); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if recovered.ID != "recovered-1" {
		t.Fatalf("unexpected recovered session: %+v", recovered)
	}
}
