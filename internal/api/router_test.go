package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"market-syncv1/internal/markethours"
	"market-syncv1/internal/model"
	"market-syncv1/internal/warmer"
)

type payloadFunc func(ctx context.Context) (model.Payload, error)

func (f payloadFunc) Get(ctx context.Context) (model.Payload, error) { return f(ctx) }

type fixedSession markethours.State

func (s fixedSession) Now() markethours.State { return markethours.State(s) }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLatestMetrics(t *testing.T) {
	p := model.NewPayload(time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC), nil)
	mux := NewRouter(payloadFunc(func(context.Context) (model.Payload, error) { return p, nil }), fixedSession{}, nil)

	rec := get(t, mux, "/api/v1/metrics/latest")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var got map[string]any
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got["updatedAt"] != "2026-10-15T14:00:00Z" {
		t.Errorf("updatedAt = %v", got["updatedAt"])
	}
	if items, ok := got["items"].([]any); !ok || len(items) != 0 {
		t.Errorf("items must be an empty array, got %v", got["items"])
	}
}

func TestLatestMetrics_ColdStart(t *testing.T) {
	mux := NewRouter(payloadFunc(func(context.Context) (model.Payload, error) {
		return model.Payload{}, fmt.Errorf("get: %w", warmer.ErrNoFallback)
	}), fixedSession{}, nil)

	if rec := get(t, mux, "/api/v1/metrics/latest"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

func TestSession(t *testing.T) {
	st := markethours.State{Session: markethours.SessionOpen, IsOpen: true}
	mux := NewRouter(payloadFunc(nil), fixedSession(st), nil)

	rec := get(t, mux, "/api/v1/session")
	var got map[string]any
	json.Unmarshal(rec.Body.Bytes(), &got)
	if rec.Code != http.StatusOK || got["session"] != "open" {
		t.Errorf("code=%d body=%s", rec.Code, rec.Body.String())
	}
}
