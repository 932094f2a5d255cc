// Package local implements the on-device backend against a whisper.cpp
// server (POST /inference, POST /load).
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/observability/metrics"
	"ai-lecture-transcriber/internal/service/audio"
	"ai-lecture-transcriber/internal/service/stt"
)

// BackendName is the name reported in results and metrics.
const BackendName = "local"

// Config holds whisper.cpp server settings.
type Config struct {
	// ServerURL of the whisper.cpp server, e.g. http://localhost:8080.
	ServerURL string
	// ModelPath is loaded with POST /load before first use. Empty uses the
	// model the server was started with.
	ModelPath string
	// ModelSize is informational (tiny, base, small, medium, large).
	ModelSize string
	// Device is a hint forwarded to logs; the server owns placement.
	Device string
	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration
}

// DefaultConfig returns defaults for a server on localhost.
func DefaultConfig() Config {
	return Config{
		ServerURL: "http://localhost:8080",
		ModelSize: "base",
		Device:    "auto",
		Timeout:   60 * time.Second,
	}
}

// Backend transcribes with a whisper.cpp server.
type Backend struct {
	cfg        Config
	httpClient *http.Client
	model      *ModelHandle
	logger     zerolog.Logger
}

var _ stt.Backend = (*Backend)(nil)

// New creates a Local backend. An empty ServerURL yields a backend whose
// calls fail with stt.ErrNotConfigured.
func New(cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Backend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	b := &Backend{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().
			Str("component", "stt_local").
			Str("model_size", cfg.ModelSize).
			Str("device", cfg.Device).
			Logger(),
	}
	var loader Loader
	if cfg.ModelPath != "" {
		loader = b
	}
	b.model = NewModelHandle(cfg.ModelSize, loader, logger, m)
	return b
}

// Name implements stt.Backend.
func (b *Backend) Name() string { return BackendName }

// Kind implements stt.Backend.
func (b *Backend) Kind() stt.Kind { return stt.KindLocal }

// Model returns the backend's model handle.
func (b *Backend) Model() *ModelHandle { return b.model }

// Transcribe implements stt.Backend.
func (b *Backend) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if b.cfg.ServerURL == "" {
		return stt.Result{}, stt.NewError(BackendName, stt.ErrNotConfigured, nil)
	}
	if err := b.model.Acquire(ctx); err != nil {
		return stt.Result{}, stt.Classify(BackendName, fmt.Errorf("load model: %w", err))
	}
	defer b.model.Release()

	start := time.Now()
	wav := audio.EncodeWAV(audio.EncodePCM16(req.Samples), audio.SampleRate)

	body, contentType, err := inferenceForm(wav, req.Params)
	if err != nil {
		return stt.Result{}, stt.NewError(BackendName, stt.ErrRejected, err)
	}

	var resp stt.VerboseResponse
	if err := b.post(ctx, "/inference", body, contentType, &resp); err != nil {
		return stt.Result{}, err
	}

	res := resp.Result(BackendName)
	res.ProcessingTime = time.Since(start)
	b.logger.Debug().
		Str("session_id", req.SessionID).
		Int("chunk_index", req.ChunkIndex).
		Int("segments", res.SegmentCount).
		Dur("latency", res.ProcessingTime).
		Msg("Inference complete")
	return res, nil
}

// LoadModel implements Loader.
func (b *Backend) LoadModel(ctx context.Context, model string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model", b.cfg.ModelPath); err != nil {
		return fmt.Errorf("write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}
	return b.post(ctx, "/load", &buf, mw.FormDataContentType(), nil)
}

func (b *Backend) post(ctx context.Context, path string, body io.Reader, contentType string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.ServerURL+path, body)
	if err != nil {
		return stt.NewError(BackendName, stt.ErrRejected, err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return stt.Classify(BackendName, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Classify(BackendName, fmt.Errorf("read response: %w", err))
	}
	if err := statusError(resp.StatusCode, data); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return stt.NewError(BackendName, stt.ErrUnavailable, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func statusError(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500 || code == http.StatusTooManyRequests:
		return stt.NewError(BackendName, stt.ErrUnavailable, fmt.Errorf("server returned HTTP %d: %s", code, snippet(body)))
	default:
		return stt.NewError(BackendName, stt.ErrRejected, fmt.Errorf("server returned HTTP %d: %s", code, snippet(body)))
	}
}

func inferenceForm(wav []byte, p stt.Params) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "verbose_json",
		"temperature":     strconv.FormatFloat(p.Temperature(), 'f', 2, 64),
		"temperature_inc": strconv.FormatFloat(temperatureIncrement(p.Temperatures), 'f', 2, 64),
	}
	if p.BeamSize > 0 {
		fields["beam_size"] = strconv.Itoa(p.BeamSize)
	}
	if p.BestOf > 0 {
		fields["best_of"] = strconv.Itoa(p.BestOf)
	}
	if p.Language != "" {
		fields["language"] = p.Language
	}
	if p.InitialPrompt != "" {
		fields["prompt"] = p.InitialPrompt
	}
	if p.NoSpeechThreshold > 0 {
		fields["no_speech_thold"] = strconv.FormatFloat(p.NoSpeechThreshold, 'f', 2, 64)
	}
	if p.WordTimestamps {
		fields["split_on_word"] = "true"
	}
	if !p.ConditionOnPreviousText {
		fields["no_context"] = "true"
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", k, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// temperatureIncrement derives whisper.cpp's fallback step from the
// temperature schedule. A single temperature disables fallback.
func temperatureIncrement(temps []float64) float64 {
	if len(temps) < 2 {
		return 0
	}
	return temps[1] - temps[0]
}

func snippet(b []byte) string {
	const n = 200
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n]
	}
	return s
}
