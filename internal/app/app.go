package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/config"
	"ai-lecture-transcriber/internal/events"
	"ai-lecture-transcriber/internal/observability/logging"
	"ai-lecture-transcriber/internal/observability/metrics"
	"ai-lecture-transcriber/internal/schema"
	"ai-lecture-transcriber/internal/service/batch"
	"ai-lecture-transcriber/internal/service/confidence"
	"ai-lecture-transcriber/internal/service/engine"
	"ai-lecture-transcriber/internal/service/hallucination"
	"ai-lecture-transcriber/internal/service/params"
	"ai-lecture-transcriber/internal/service/pipeline"
	"ai-lecture-transcriber/internal/service/preprocess"
	"ai-lecture-transcriber/internal/service/session"
	"ai-lecture-transcriber/internal/service/stt"
	"ai-lecture-transcriber/internal/service/stt/breaker"
	"ai-lecture-transcriber/internal/service/stt/google"
	"ai-lecture-transcriber/internal/service/stt/local"
	"ai-lecture-transcriber/internal/service/stt/mock"
	"ai-lecture-transcriber/internal/service/stt/openai"
	"ai-lecture-transcriber/internal/service/vad"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Engine       *engine.Engine
	Orchestrator *session.Orchestrator
	Publisher    *events.Publisher

	// Scheduler is nil when batching is disabled or there is no local backend.
	Scheduler *batch.Scheduler
	// Model is the local whisper model handle, if the whisper backend is used.
	Model *local.ModelHandle

	metrics *metrics.Metrics
	closers []func() error

	ready  atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs the application and every transcription component from cfg.
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	a := &Application{Cfg: cfg, metrics: m}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("component", "application").
		Str("method", "New").
		Logger()

	localBackend, err := a.newLocal()
	if err != nil {
		return nil, err
	}
	remoteBackend, err := a.newRemote(ctx)
	if err != nil {
		return nil, err
	}

	tc := cfg.Transcription
	strategy, _ := engine.ParseStrategy(tc.Strategy)
	content, _ := params.ParseContentType(tc.ContentType)

	engCfg := engine.DefaultConfig()
	engCfg.Strategy = strategy
	engCfg.MinConfidence = tc.MinConfidence
	engCfg.LocalTimeout = tc.LocalTimeout
	engCfg.RemoteTimeout = tc.RemoteTimeout
	engCfg.FinalTimeoutMultiplier = tc.FinalTimeoutMultiplier
	engCfg.AutoMinCalls = tc.AutoMinCalls
	engCfg.AutoSuccessRate = tc.AutoSuccessRate
	engCfg.AutoLatencyTolerance = tc.AutoLatencyTolerance
	a.Engine = engine.New(engCfg, localBackend, remoteBackend, a.Logger, m)

	analyzer, err := confidence.New(nil, a.Logger, m)
	if err != nil {
		return nil, err
	}
	gate := vad.NewGate(vad.DefaultConfig(), nil, a.Logger, m)
	pipe := pipeline.New(pipeline.Stages{
		Gate:         gate,
		Preprocessor: preprocess.New(preprocess.DefaultConfig(), a.Logger, m),
		Optimizer:    params.New(tc.Language),
		Engine:       a.Engine,
		Filter: hallucination.New(hallucination.Config{
			EducationalMode: tc.EducationalMode,
			Strict:          tc.StrictFiltering,
		}, a.Logger, m),
		Analyzer: analyzer,
	}, content, a.Logger, m)

	a.Publisher = events.New(&events.Config{
		Enabled:    cfg.Kafka.Enabled,
		Brokers:    cfg.Kafka.Brokers,
		TopicChunk: cfg.Kafka.TopicChunk,
		TopicFinal: cfg.Kafka.TopicFinal,
		Principal:  cfg.Kafka.Principal,
	}, schema.New(a.Logger), a.Logger, m)
	a.closers = append(a.closers, a.Publisher.Close)

	sc := cfg.Session
	a.Orchestrator = session.New(session.Config{
		GracePeriod:       sc.GracePeriod,
		InactivityTimeout: sc.InactivityTimeout,
		ReapInterval:      sc.ReapInterval,
		HistorySize:       sc.HistorySize,
		SubscriberBuffer:  sc.SubscriberBuffer,
		MaxSessions:       sc.MaxSessions,
		MaxSessionAudio:   sc.MaxSessionAudio,
	}, session.Deps{
		Pipeline:    pipe,
		Publisher:   a.Publisher,
		NewDetector: gate.NewDetector,
	}, a.Logger, m)

	appLogger.Info().
		Str("strategy", strategy.String()).
		Str("local", tc.Local.Provider).
		Str("remote", tc.Remote.Provider).
		Bool("batching", a.Scheduler != nil).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("AI lecture transcriber application created")
	return a, nil
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	a.Logger = logging.Init(logging.Config{
		Level:   a.Cfg.Observability.LogLevel,
		Format:  a.Cfg.Observability.LogFormat,
		Service: "ai-lecture-transcriber",
	})

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", a.Cfg.Service.Environment).
		Msg("Logger setup completed")
}

// newLocal returns the on-device backend, behind the batch scheduler when
// batching is enabled. It returns an untyped nil for provider none.
func (a *Application) newLocal() (stt.Backend, error) {
	lc := a.Cfg.Transcription.Local
	var b stt.Backend
	switch lc.Provider {
	case "whisper":
		w := local.New(local.Config{
			ServerURL: lc.ServerURL,
			ModelPath: lc.ModelPath,
			ModelSize: lc.ModelSize,
			Device:    lc.Device,
			Timeout:   a.Cfg.Transcription.LocalTimeout,
		}, a.Logger, a.metrics)
		a.Model = w.Model()
		a.closers = append(a.closers, w.Model().Unload)
		b = w
	case "mock":
		b = mock.New(local.BackendName, stt.KindLocal)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown local provider %q", lc.Provider)
	}

	bc := a.Cfg.Batch
	if !bc.Enabled {
		return b, nil
	}
	a.Scheduler = batch.New(batch.Config{
		QueueSize:         bc.QueueSize,
		MaxBatchSize:      bc.MaxBatchSize,
		MaxWait:           bc.MaxWait,
		RealtimeTimeout:   bc.RealtimeTimeout,
		BackgroundTimeout: bc.BackgroundTimeout,
		MaxParallel:       bc.MaxParallel,
	}, b, a.Logger, a.metrics)
	return a.Scheduler, nil
}

// newRemote returns the hosted backend, optionally behind a circuit
// breaker. It returns an untyped nil for provider none.
func (a *Application) newRemote(ctx context.Context) (stt.Backend, error) {
	rc := a.Cfg.Transcription.Remote
	var b stt.Backend
	switch rc.Provider {
	case "openai":
		b = openai.New(openai.Config{
			APIKey:     rc.APIKey,
			BaseURL:    rc.BaseURL,
			Model:      rc.Model,
			MaxRetries: rc.MaxRetries,
			Timeout:    a.Cfg.Transcription.RemoteTimeout,
		}, a.Logger)
	case "google":
		gc := google.DefaultConfig()
		gc.LanguageCode = a.Cfg.Transcription.Language
		g, err := google.New(ctx, gc, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("create google backend: %w", err)
		}
		a.closers = append(a.closers, g.Close)
		b = g
	case "mock":
		b = mock.New("remote", stt.KindRemote)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown remote provider %q", rc.Provider)
	}

	if !rc.Breaker.Enabled {
		return b, nil
	}
	return breaker.Wrap(b, breaker.Config{
		ConsecutiveFailures: uint32(max(rc.Breaker.ConsecutiveFailures, 0)),
		OpenTimeout:         rc.Breaker.OpenTimeout,
	}, a.Logger), nil
}

// Start launches background loops and marks the application ready.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	ctx, a.cancel = context.WithCancel(ctx)
	if a.Scheduler != nil {
		a.Scheduler.Start(ctx)
	}
	if err := a.Orchestrator.Start(ctx); err != nil {
		a.cancel()
		return err
	}
	if a.Cfg.File != "" {
		if err := a.watchConfig(ctx); err != nil {
			startLogger.Warn().Err(err).Msg("Configuration hot reload disabled")
		}
	}

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("AI lecture transcriber starting")
	return nil
}

// watchConfig applies log level changes from the configuration file.
func (a *Application) watchConfig(ctx context.Context) error {
	w, err := config.NewWatcher(a.Cfg.File, a.Logger)
	if err != nil {
		return err
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := w.Run(ctx, func(c *config.Config) {
			if err := logging.SetLevel(c.Observability.LogLevel); err != nil {
				a.Logger.Warn().Err(err).Msg("Ignoring log level change")
			}
		})
		if err != nil {
			a.Logger.Error().Err(err).Msg("Configuration watcher stopped")
		}
	}()
	return nil
}

// Ready reports whether Start completed and Shutdown has not begun.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown closes every session, stops background loops and releases
// backends and the Kafka writers.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Msg("AI lecture transcriber shutting down")
	a.ready.Store(false)

	var errs []error
	if err := a.Orchestrator.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
