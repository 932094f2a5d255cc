package local

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"ai-lecture-transcriber/internal/observability/metrics"
)

// ErrModelInUse is returned by Unload while requests still hold the model.
var ErrModelInUse = errors.New("local: model in use")

// Loader brings a model into the inference runtime.
type Loader interface {
	LoadModel(ctx context.Context, model string) error
}

// ModelHandle owns the lifetime of the local model. Concurrent first users
// share a single load; each user holds a reference until Release.
type ModelHandle struct {
	model   string
	loader  Loader
	logger  zerolog.Logger
	metrics *metrics.Metrics

	group singleflight.Group

	mu     sync.Mutex
	loaded bool
	refs   int
}

// NewModelHandle creates an unloaded handle. A nil loader means the runtime
// already has the model resident.
func NewModelHandle(model string, loader Loader, logger zerolog.Logger, m *metrics.Metrics) *ModelHandle {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &ModelHandle{
		model:   model,
		loader:  loader,
		logger:  logger.With().Str("component", "model_handle").Str("model", model).Logger(),
		metrics: m,
		loaded:  loader == nil,
	}
}

// Acquire loads the model if needed and takes a reference.
func (h *ModelHandle) Acquire(ctx context.Context) error {
	h.mu.Lock()
	if h.loaded {
		h.refs++
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	_, err, shared := h.group.Do(h.model, func() (any, error) {
		h.mu.Lock()
		done := h.loaded
		h.mu.Unlock()
		if done {
			return nil, nil
		}

		h.logger.Info().Msg("Loading model")
		err := h.loader.LoadModel(context.WithoutCancel(ctx), h.model)
		h.metrics.RecordModelLoad(err)
		if err != nil {
			h.logger.Error().Err(err).Msg("Model load failed")
			return nil, err
		}
		h.mu.Lock()
		h.loaded = true
		h.mu.Unlock()
		h.logger.Info().Msg("Model loaded")
		return nil, nil
	})
	if err != nil {
		return err
	}
	if shared {
		h.logger.Debug().Msg("Joined in-flight model load")
	}

	h.mu.Lock()
	h.refs++
	h.mu.Unlock()
	return nil
}

// Release drops a reference taken by Acquire.
func (h *ModelHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs > 0 {
		h.refs--
	}
}

// Unload marks the model as not resident so the next Acquire reloads it.
func (h *ModelHandle) Unload() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs > 0 {
		return ErrModelInUse
	}
	if h.loader != nil && h.loaded {
		h.loaded = false
		h.logger.Info().Msg("Model unloaded")
	}
	return nil
}

// Loaded reports whether the model is resident.
func (h *ModelHandle) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

// Refs returns the number of outstanding references.
func (h *ModelHandle) Refs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}
