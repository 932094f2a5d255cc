package local

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/service/audio"
	"ai-lecture-transcriber/internal/service/stt"
)

type whisperServer struct {
	mu     sync.Mutex
	fields map[string]string
	loads  atomic.Int32
	status int
}

func (s *whisperServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/inference", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file: %v", err)
		} else {
			file.Close()
		}
		s.mu.Lock()
		s.fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			s.fields[k] = v[0]
		}
		status := s.status
		s.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			return
		}
		json.NewEncoder(w).Encode(stt.VerboseResponse{
			Language: "en",
			Text:     "the derivative measures change",
			Segments: []stt.VerboseSegment{{Start: 0, End: 2, Text: "the derivative measures change", AvgLogProb: -0.1}},
		})
	})
	mux.HandleFunc("/load", func(w http.ResponseWriter, r *http.Request) {
		s.loads.Add(1)
		time.Sleep(10 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func TestBackend_Transcribe(t *testing.T) {
	ws := &whisperServer{}
	srv := httptest.NewServer(ws.handler(t))
	defer srv.Close()

	b := New(Config{ServerURL: srv.URL, ModelSize: "base"}, zerolog.Nop(), nil)
	res, err := b.Transcribe(context.Background(), stt.Request{
		Samples: make([]float32, audio.SampleRate),
		Params: stt.Params{
			BeamSize: 5, BestOf: 3, Temperatures: []float64{0, 0.2, 0.4},
			Language: "en", InitialPrompt: "calculus", ConditionOnPreviousText: true,
		},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "the derivative measures change" || res.Backend != BackendName {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Confidence <= 0.8 {
		t.Errorf("expected confidence from avg_logprob, got %f", res.Confidence)
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	want := map[string]string{
		"response_format": "verbose_json",
		"beam_size":       "5",
		"best_of":         "3",
		"language":        "en",
		"prompt":          "calculus",
		"temperature":     "0.00",
		"temperature_inc": "0.20",
	}
	for k, v := range want {
		if ws.fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, ws.fields[k], v)
		}
	}
	if _, ok := ws.fields["no_context"]; ok {
		t.Error("no_context should be omitted when conditioning is on")
	}
	if ws.loads.Load() != 0 {
		t.Error("no model path configured, /load should not be called")
	}
}

func TestBackend_StatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusInternalServerError, stt.ErrUnavailable},
		{http.StatusServiceUnavailable, stt.ErrUnavailable},
		{http.StatusTooManyRequests, stt.ErrUnavailable},
		{http.StatusBadRequest, stt.ErrRejected},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			ws := &whisperServer{status: tt.status}
			srv := httptest.NewServer(ws.handler(t))
			defer srv.Close()

			b := New(Config{ServerURL: srv.URL}, zerolog.Nop(), nil)
			_, err := b.Transcribe(context.Background(), stt.Request{Samples: make([]float32, 100)})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestBackend_NotConfigured(t *testing.T) {
	b := New(Config{}, zerolog.Nop(), nil)
	_, err := b.Transcribe(context.Background(), stt.Request{})
	if !errors.Is(err, stt.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestBackend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	b := New(Config{ServerURL: url, Timeout: time.Second}, zerolog.Nop(), nil)
	_, err := b.Transcribe(context.Background(), stt.Request{Samples: make([]float32, 10)})
	if !errors.Is(err, stt.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestBackend_LoadsModelOnce(t *testing.T) {
	ws := &whisperServer{}
	srv := httptest.NewServer(ws.handler(t))
	defer srv.Close()

	b := New(Config{ServerURL: srv.URL, ModelPath: "/models/ggml-base.bin", ModelSize: "base"}, zerolog.Nop(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Transcribe(context.Background(), stt.Request{Samples: make([]float32, 10)}); err != nil {
				t.Errorf("Transcribe: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := ws.loads.Load(); n != 1 {
		t.Errorf("expected a single /load, got %d", n)
	}
	if b.Model().Refs() != 0 {
		t.Errorf("expected all references released, got %d", b.Model().Refs())
	}
}

type fakeLoader struct {
	calls atomic.Int32
	err   error
}

func (f *fakeLoader) LoadModel(ctx context.Context, model string) error {
	f.calls.Add(1)
	return f.err
}

func TestModelHandle_RefCount(t *testing.T) {
	loader := &fakeLoader{}
	h := NewModelHandle("base", loader, zerolog.Nop(), nil)
	ctx := context.Background()

	if h.Loaded() {
		t.Fatal("handle with a loader should start unloaded")
	}
	if err := h.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if h.Refs() != 2 || loader.calls.Load() != 1 {
		t.Errorf("expected 2 refs and 1 load, got %d/%d", h.Refs(), loader.calls.Load())
	}

	if err := h.Unload(); !errors.Is(err, ErrModelInUse) {
		t.Errorf("expected ErrModelInUse, got %v", err)
	}

	h.Release()
	h.Release()
	h.Release() // extra release is ignored
	if h.Refs() != 0 {
		t.Errorf("expected 0 refs, got %d", h.Refs())
	}
	if err := h.Unload(); err != nil {
		t.Fatal(err)
	}
	if h.Loaded() {
		t.Error("expected model unloaded")
	}

	if err := h.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if loader.calls.Load() != 2 {
		t.Errorf("expected reload after unload, got %d loads", loader.calls.Load())
	}
}

func TestModelHandle_LoadFailure(t *testing.T) {
	loader := &fakeLoader{err: errors.New("out of memory")}
	h := NewModelHandle("large", loader, zerolog.Nop(), nil)

	if err := h.Acquire(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	if h.Refs() != 0 || h.Loaded() {
		t.Errorf("failed load must not take a reference, refs=%d loaded=%v", h.Refs(), h.Loaded())
	}
}

func TestTemperatureIncrement(t *testing.T) {
	if temperatureIncrement([]float64{0.2}) != 0 {
		t.Error("single temperature should disable fallback")
	}
	if temperatureIncrement([]float64{0, 0.2, 0.4}) != 0.2 {
		t.Error("expected 0.2 step")
	}
}
