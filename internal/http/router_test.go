package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/service/engine"
	"ai-lecture-transcriber/internal/service/session"
)

type fakeSessions struct {
	sessions map[string]session.Snapshot
	resets   []string
}

func (f *fakeSessions) List() []session.Snapshot {
	out := make([]session.Snapshot, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out
}

func (f *fakeSessions) Snapshot(id string) (session.Snapshot, error) {
	s, ok := f.sessions[id]
	if !ok {
		return session.Snapshot{}, session.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessions) ResetSession(id string) error {
	s, ok := f.sessions[id]
	if !ok {
		return session.ErrSessionNotFound
	}
	if s.State == session.StateClosed.String() {
		return session.ErrSessionInactive
	}
	f.resets = append(f.resets, id)
	return nil
}

type fakeBackends struct{}

func (fakeBackends) Stats() map[string]engine.BackendStats {
	return map[string]engine.BackendStats{
		"local": {Name: "local", Calls: 4, Successes: 3, Failures: 1, AvgLatency: 200 * time.Millisecond},
	}
}

func (fakeBackends) Strategy() engine.Strategy { return engine.StrategyAuto }

func newTestRouter(ready bool) (http.Handler, *fakeSessions) {
	sessions := &fakeSessions{sessions: map[string]session.Snapshot{
		"s1": {ID: "s1", State: session.StateActive.String(), ChunkCount: 2, Transcript: "hello"},
		"s2": {ID: "s2", State: session.StateClosed.String()},
	}}
	return newRouter(Deps{
		Sessions:   sessions,
		Backends:   fakeBackends{},
		Ready:      func() bool { return ready },
		QueueDepth: func() int { return 3 },
		Logger:     zerolog.Nop(),
	}), sessions
}

func do(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name  string
		ready bool
		path  string
		code  int
		body  string
	}{
		{"liveness", false, "/v1/liveness", http.StatusOK, "ok"},
		{"ready", true, "/v1/readiness", http.StatusOK, "ready"},
		{"not ready", false, "/v1/readiness", http.StatusServiceUnavailable, "not ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestRouter(tt.ready)
			rec := do(h, http.MethodGet, tt.path)
			if rec.Code != tt.code || rec.Body.String() != tt.body {
				t.Errorf("got %d %q, want %d %q", rec.Code, rec.Body.String(), tt.code, tt.body)
			}
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	h, _ := newTestRouter(true)
	do(h, http.MethodGet, "/v1/liveness")
	rec := do(h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "lecture_transcriber_http_requests_total") {
		t.Error("expected http request counter in metrics output")
	}
}

func TestRouter_Sessions(t *testing.T) {
	h, _ := newTestRouter(true)

	rec := do(h, http.MethodGet, "/v1/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	var list struct {
		Count    int                `json:"count"`
		Sessions []session.Snapshot `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 2 || len(list.Sessions) != 2 {
		t.Errorf("unexpected list %+v", list)
	}

	rec = do(h, http.MethodGet, "/v1/sessions/s1")
	var snap session.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || snap.ID != "s1" || snap.ChunkCount != 2 || snap.Transcript != "hello" {
		t.Errorf("unexpected snapshot %d %+v", rec.Code, snap)
	}

	rec = do(h, http.MethodGet, "/v1/sessions/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRouter_ResetSession(t *testing.T) {
	h, sessions := newTestRouter(true)

	tests := []struct {
		path string
		code int
	}{
		{"/v1/sessions/s1/reset", http.StatusNoContent},
		{"/v1/sessions/s2/reset", http.StatusConflict},
		{"/v1/sessions/nope/reset", http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := do(h, http.MethodPost, tt.path); rec.Code != tt.code {
			t.Errorf("POST %s = %d, want %d", tt.path, rec.Code, tt.code)
		}
	}
	if len(sessions.resets) != 1 || sessions.resets[0] != "s1" {
		t.Errorf("unexpected resets %v", sessions.resets)
	}
}

func TestRouter_Backends(t *testing.T) {
	h, _ := newTestRouter(true)
	rec := do(h, http.MethodGet, "/v1/backends")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Strategy   string `json:"strategy"`
		QueueDepth int    `json:"queueDepth"`
		Backends   map[string]struct {
			Calls       int64   `json:"calls"`
			SuccessRate float64 `json:"successRate"`
		} `json:"backends"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Strategy != engine.StrategyAuto.String() || body.QueueDepth != 3 {
		t.Errorf("unexpected body %+v", body)
	}
	if b := body.Backends["local"]; b.Calls != 4 || b.SuccessRate != 0.75 {
		t.Errorf("unexpected local stats %+v", b)
	}
}
