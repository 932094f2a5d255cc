package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/service/stt"
)

func newTestBackend(url string, retries int) *Backend {
	b := New(Config{APIKey: "sk-test", BaseURL: url, MaxRetries: retries}, zerolog.Nop())
	b.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return b
}

func TestBackend_Transcribe(t *testing.T) {
	var gotAuth, gotModel, gotFormat, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotModel = r.FormValue("model")
		gotFormat = r.FormValue("response_format")
		gotLang = r.FormValue("language")
		json.NewEncoder(w).Encode(stt.VerboseResponse{
			Language: "english",
			Text:     "Newton's second law relates force and acceleration.",
			Segments: []stt.VerboseSegment{{Start: 0, End: 3, Text: "Newton's second law relates force and acceleration.", AvgLogProb: -0.2}},
		})
	}))
	defer srv.Close()

	b := newTestBackend(srv.URL, 0)
	res, err := b.Transcribe(context.Background(), stt.Request{
		Samples: make([]float32, 16000),
		Params:  stt.Params{Language: "en"},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "Newton's second law relates force and acceleration." {
		t.Errorf("unexpected text %q", res.Text)
	}
	if res.Backend != BackendName || res.SegmentCount != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotModel != "whisper-1" || gotFormat != "verbose_json" || gotLang != "en" {
		t.Errorf("unexpected form model=%q format=%q lang=%q", gotModel, gotFormat, gotLang)
	}
}

func TestBackend_NotConfigured(t *testing.T) {
	b := New(Config{}, zerolog.Nop())
	_, err := b.Transcribe(context.Background(), stt.Request{})
	if !errors.Is(err, stt.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestBackend_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(stt.VerboseResponse{Text: "finally"})
	}))
	defer srv.Close()

	res, err := newTestBackend(srv.URL, 3).Transcribe(context.Background(), stt.Request{Samples: make([]float32, 10)})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if res.Text != "finally" || calls.Load() != 3 {
		t.Errorf("expected 3 attempts ending in success, got %d attempts text=%q", calls.Load(), res.Text)
	}
}

func TestBackend_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestBackend(srv.URL, 2).Transcribe(context.Background(), stt.Request{Samples: make([]float32, 10)})
	if !errors.Is(err, stt.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestBackend_RejectedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := newTestBackend(srv.URL, 3).Transcribe(context.Background(), stt.Request{Samples: make([]float32, 10)})
	if !errors.Is(err, stt.ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
}

func TestAPIError(t *testing.T) {
	err := apiError(400, []byte(`{"error":{"message":"bad audio"}}`))
	if err.Error() != "HTTP 400: bad audio" {
		t.Errorf("unexpected message %q", err)
	}
	if apiError(502, []byte("<html>")).Error() != "HTTP 502" {
		t.Error("expected bare status for non-JSON body")
	}
}
