// Package engine combines a Local and a Remote transcription backend under
// a configurable strategy, with fallback and rolling backend statistics.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/observability/metrics"
	"ai-lecture-transcriber/internal/service/stt"
)

// Config holds engine settings.
type Config struct {
	Strategy Strategy
	// LocalTimeout exceeds RemoteTimeout because a cold local model is slow
	// to load.
	LocalTimeout  time.Duration
	RemoteTimeout time.Duration
	// FinalTimeoutMultiplier scales both timeouts for end-of-session passes.
	FinalTimeoutMultiplier float64
	// MinConfidence is the exclusive lower bound for accepting a primary result.
	MinConfidence float64

	AutoMinCalls         int64
	AutoSuccessRate      float64
	AutoLatencyTolerance float64
	// LatencyAlpha is the EMA smoothing factor for backend latency.
	LatencyAlpha float64
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:               StrategyLocalFirst,
		LocalTimeout:           60 * time.Second,
		RemoteTimeout:          30 * time.Second,
		FinalTimeoutMultiplier: 3,
		MinConfidence:          0.1,
		AutoMinCalls:           10,
		AutoSuccessRate:        0.8,
		AutoLatencyTolerance:   1.5,
		LatencyAlpha:           0.1,
	}
}

// Outcome is the result of one engine call.
type Outcome struct {
	Result         stt.Result
	Backend        string
	FallbackUsed   bool
	FallbackReason string
	States         []State
	Err            error
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg     Config
	local   stt.Backend
	remote  stt.Backend
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	stats map[stt.Kind]*BackendStats
	now   func() time.Time
}

// New creates an engine. Either backend may be nil; calls routed to a nil
// backend fail with stt.ErrNotConfigured.
func New(cfg Config, local, remote stt.Backend, logger zerolog.Logger, m *metrics.Metrics) *Engine {
	def := DefaultConfig()
	if cfg.LocalTimeout <= 0 {
		cfg.LocalTimeout = def.LocalTimeout
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = def.RemoteTimeout
	}
	if cfg.FinalTimeoutMultiplier < 1 {
		cfg.FinalTimeoutMultiplier = def.FinalTimeoutMultiplier
	}
	if cfg.LatencyAlpha <= 0 || cfg.LatencyAlpha > 1 {
		cfg.LatencyAlpha = def.LatencyAlpha
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Engine{
		cfg:     cfg,
		local:   local,
		remote:  remote,
		logger:  logger.With().Str("component", "engine").Str("strategy", cfg.Strategy.String()).Logger(),
		metrics: m,
		stats: map[stt.Kind]*BackendStats{
			stt.KindLocal:  {Name: backendName(local, "local")},
			stt.KindRemote: {Name: backendName(remote, "remote")},
		},
		now: time.Now,
	}
}

// Strategy returns the configured strategy.
func (e *Engine) Strategy() Strategy { return e.cfg.Strategy }

// Transcribe runs req through the configured strategy. It never panics on
// backend failure; errors are reported in Outcome.Err.
func (e *Engine) Transcribe(ctx context.Context, req stt.Request) Outcome {
	out := Outcome{States: []State{StateIdle}}

	switch e.cfg.Strategy {
	case StrategyLocalOnly:
		return e.single(ctx, stt.KindLocal, req, out)
	case StrategyRemoteOnly:
		return e.single(ctx, stt.KindRemote, req, out)
	case StrategyAuto:
		return e.withFallback(ctx, e.autoPrimary(), req, out)
	default:
		return e.withFallback(ctx, stt.KindLocal, req, out)
	}
}

func (e *Engine) single(ctx context.Context, kind stt.Kind, req stt.Request, out Outcome) Outcome {
	out.States = append(out.States, StateTryingPrimary)
	res, err := e.call(ctx, kind, req)
	out.Backend = e.nameOf(kind)
	if err != nil {
		out.Err = err
		out.States = append(out.States, StateFailed, StateIdle)
		return out
	}
	out.Result = res
	out.States = append(out.States, StateSuccess, StateIdle)
	return out
}

func (e *Engine) withFallback(ctx context.Context, primary stt.Kind, req stt.Request, out Outcome) Outcome {
	secondary := stt.KindRemote
	if primary == stt.KindRemote {
		secondary = stt.KindLocal
	}

	out.States = append(out.States, StateTryingPrimary)
	res, err := e.call(ctx, primary, req)
	reason := e.rejectReason(res, err)
	if reason == "" {
		out.Result = res
		out.Backend = e.nameOf(primary)
		out.States = append(out.States, StateSuccess, StateIdle)
		return out
	}

	e.metrics.RecordFallback(reason)
	e.logger.Debug().
		Str("session_id", req.SessionID).
		Int("chunk_index", req.ChunkIndex).
		Str("reason", reason).
		Err(err).
		Msg("Falling back to secondary backend")

	out.FallbackUsed = true
	out.FallbackReason = reason
	out.States = append(out.States, StateTryingFallback)
	fres, ferr := e.call(ctx, secondary, req)
	if ferr == nil {
		out.Result = fres
		out.Backend = e.nameOf(secondary)
		out.States = append(out.States, StateSuccess, StateIdle)
		return out
	}

	// Keep a usable primary transcript when the fallback itself fails.
	if err == nil && strings.TrimSpace(res.Text) != "" {
		out.Result = res
		out.Backend = e.nameOf(primary)
		out.States = append(out.States, StateSuccess, StateIdle)
		return out
	}

	out.Backend = e.nameOf(secondary)
	out.Err = errors.Join(err, ferr)
	out.States = append(out.States, StateFailed, StateIdle)
	return out
}

// rejectReason returns "" when a primary result is acceptable.
func (e *Engine) rejectReason(res stt.Result, err error) string {
	switch {
	case errors.Is(err, stt.ErrNotConfigured):
		return ReasonNotConfigured
	case errors.Is(err, stt.ErrTimeout):
		return ReasonTimeout
	case err != nil:
		return ReasonError
	case strings.TrimSpace(res.Text) == "":
		return ReasonEmpty
	case res.Confidence <= e.cfg.MinConfidence:
		return ReasonLowConfidence
	default:
		return ""
	}
}

// autoPrimary picks the primary backend for StrategyAuto.
func (e *Engine) autoPrimary() stt.Kind {
	e.mu.Lock()
	local := *e.stats[stt.KindLocal]
	remote := *e.stats[stt.KindRemote]
	e.mu.Unlock()

	if local.Calls+remote.Calls < e.cfg.AutoMinCalls {
		return stt.KindLocal
	}
	latencyOK := remote.AvgLatency == 0 ||
		float64(local.AvgLatency) <= e.cfg.AutoLatencyTolerance*float64(remote.AvgLatency)
	if local.SuccessRate() >= e.cfg.AutoSuccessRate && latencyOK {
		return stt.KindLocal
	}
	if remote.SuccessRate() >= e.cfg.AutoSuccessRate {
		return stt.KindRemote
	}
	return stt.KindLocal
}

func (e *Engine) call(ctx context.Context, kind stt.Kind, req stt.Request) (stt.Result, error) {
	backend := e.backend(kind)
	name := e.nameOf(kind)
	if backend == nil {
		err := stt.NewError(name, stt.ErrNotConfigured, nil)
		e.metrics.RecordInferenceError(name, stt.KindOf(err))
		return stt.Result{}, err
	}

	timeout := e.cfg.LocalTimeout
	if kind == stt.KindRemote {
		timeout = e.cfg.RemoteTimeout
	}
	mode := "chunk"
	if req.Final {
		timeout = time.Duration(float64(timeout) * e.cfg.FinalTimeoutMultiplier)
		mode = "final"
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := e.now()
	res, err := backend.Transcribe(callCtx, req)
	latency := e.now().Sub(start)
	if err != nil {
		err = stt.Classify(name, err)
	}

	e.mu.Lock()
	e.stats[kind].observe(latency, err, e.cfg.LatencyAlpha, e.now())
	e.mu.Unlock()

	e.metrics.RecordInference(name, mode, latency.Seconds())
	if err != nil {
		e.metrics.RecordInferenceError(name, stt.KindOf(err))
		return stt.Result{}, err
	}
	if res.Backend == "" {
		res.Backend = name
	}
	return res, nil
}

func (e *Engine) backend(kind stt.Kind) stt.Backend {
	if kind == stt.KindRemote {
		return e.remote
	}
	return e.local
}

func (e *Engine) nameOf(kind stt.Kind) string {
	if b := e.backend(kind); b != nil {
		return b.Name()
	}
	return kind.String()
}

// Stats returns a snapshot of per-backend statistics keyed by kind label.
func (e *Engine) Stats() map[string]BackendStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]BackendStats, len(e.stats))
	for kind, s := range e.stats {
		out[kind.String()] = *s
	}
	return out
}

// ResetStats clears all rolling statistics.
func (e *Engine) ResetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for kind, s := range e.stats {
		e.stats[kind] = &BackendStats{Name: s.Name}
	}
}

func backendName(b stt.Backend, fallback string) string {
	if b == nil {
		return fallback
	}
	return b.Name()
}
