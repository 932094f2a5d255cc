package app

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"ai-lecture-transcriber/internal/config"
	"ai-lecture-transcriber/internal/models"
	"ai-lecture-transcriber/internal/service/audio"
	"ai-lecture-transcriber/internal/service/engine"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Observability.LogLevel = "error"
	cfg.Transcription.Local.Provider = "mock"
	cfg.Transcription.Remote.Provider = "mock"
	cfg.Session.GracePeriod = 0
	return cfg
}

func tonePCM(seconds float64) []byte {
	samples := make([]float32, int(seconds*audio.SampleRate))
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*220*float64(i)/audio.SampleRate))
	}
	return audio.EncodePCM16(samples)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Transcription.Strategy = "fastest"
	if _, err := New(context.Background(), cfg, nil); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestNew_Wiring(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*config.Config)
		wantScheduler bool
		wantModel     bool
	}{
		{"mock with batching", func(*config.Config) {}, true, false},
		{"batching disabled", func(c *config.Config) { c.Batch.Enabled = false }, false, false},
		{"whisper backend", func(c *config.Config) { c.Transcription.Local.Provider = "whisper" }, true, true},
		{"no local backend", func(c *config.Config) { c.Transcription.Local.Provider = "none" }, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			a, err := New(context.Background(), cfg, nil)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if (a.Scheduler != nil) != tt.wantScheduler {
				t.Errorf("scheduler present = %v, want %v", a.Scheduler != nil, tt.wantScheduler)
			}
			if (a.Model != nil) != tt.wantModel {
				t.Errorf("model present = %v, want %v", a.Model != nil, tt.wantModel)
			}
			if a.Engine.Strategy() != engine.StrategyLocalFirst {
				t.Errorf("unexpected strategy %v", a.Engine.Strategy())
			}
			if a.Ready() {
				t.Error("application must not be ready before Start")
			}
		})
	}
}

func TestApplication_Lifecycle(t *testing.T) {
	a, err := New(context.Background(), testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !a.Ready() {
		t.Fatal("expected ready after Start")
	}

	snap, err := a.Orchestrator.StartSession(ctx, "client-1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	res, err := a.Orchestrator.PushChunk(ctx, snap.ID, tonePCM(2))
	if err != nil {
		t.Fatalf("PushChunk: %v", err)
	}
	if res.Status != models.StatusProcessed || res.BytesProcessed != 64000 {
		t.Errorf("unexpected chunk result %+v", res)
	}

	final, err := a.Orchestrator.StopSession(ctx, snap.ID)
	if err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if final.TotalChunks != 1 || final.TotalDurationMs != 2000 {
		t.Errorf("unexpected final result %+v", final)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if a.Ready() {
		t.Error("expected not ready after Shutdown")
	}
}
