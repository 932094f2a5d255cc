// Package openai implements the hosted backend against an OpenAI-compatible
// /audio/transcriptions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/service/audio"
	"ai-lecture-transcriber/internal/service/stt"
)

// BackendName is the name reported in results and metrics.
const BackendName = "openai"

// Config holds API settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// MaxRetries bounds attempts on transient failures (0 = single attempt).
	MaxRetries int
	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration
}

// DefaultConfig returns the settings for api.openai.com.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://api.openai.com/v1",
		Model:      "whisper-1",
		MaxRetries: 3,
		Timeout:    30 * time.Second,
	}
}

// Backend transcribes through the hosted API.
type Backend struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
	// newBackOff is replaced in tests to avoid real delays.
	newBackOff func() backoff.BackOff
}

var _ stt.Backend = (*Backend)(nil)

// New creates a Remote backend. A missing API key yields a backend whose
// calls fail with stt.ErrNotConfigured.
func New(cfg Config, logger zerolog.Logger) *Backend {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Backend{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "stt_openai").Str("model", cfg.Model).Logger(),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

// Name implements stt.Backend.
func (b *Backend) Name() string { return BackendName }

// Kind implements stt.Backend.
func (b *Backend) Kind() stt.Kind { return stt.KindRemote }

// Transcribe implements stt.Backend. Transient failures are retried with
// exponential backoff; rejections are returned immediately.
func (b *Backend) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if b.cfg.APIKey == "" {
		return stt.Result{}, stt.NewError(BackendName, stt.ErrNotConfigured, errors.New("api key not set"))
	}

	start := time.Now()
	wav := audio.EncodeWAV(audio.EncodePCM16(req.Samples), audio.SampleRate)

	attempt := 0
	op := func() (stt.VerboseResponse, error) {
		attempt++
		resp, err := b.upload(ctx, wav, req.Params)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, stt.ErrRejected) || ctx.Err() != nil {
			return resp, backoff.Permanent(err)
		}
		b.logger.Warn().Err(err).
			Str("session_id", req.SessionID).
			Int("attempt", attempt).
			Msg("Transient transcription failure")
		return resp, err
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b.newBackOff()),
		backoff.WithMaxTries(uint(b.cfg.MaxRetries+1)),
	)
	if err != nil {
		return stt.Result{}, stt.Classify(BackendName, err)
	}

	res := resp.Result(BackendName)
	res.ProcessingTime = time.Since(start)
	return res, nil
}

func (b *Backend) upload(ctx context.Context, wav []byte, p stt.Params) (stt.VerboseResponse, error) {
	var out stt.VerboseResponse

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return out, stt.NewError(BackendName, stt.ErrRejected, err)
	}
	if _, err := fw.Write(wav); err != nil {
		return out, stt.NewError(BackendName, stt.ErrRejected, err)
	}
	fields := [][2]string{
		{"model", b.cfg.Model},
		{"response_format", "verbose_json"},
		{"temperature", strconv.FormatFloat(p.Temperature(), 'f', 2, 64)},
	}
	if p.Language != "" {
		fields = append(fields, [2]string{"language", p.Language})
	}
	if p.InitialPrompt != "" {
		fields = append(fields, [2]string{"prompt", p.InitialPrompt})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return out, stt.NewError(BackendName, stt.ErrRejected, err)
		}
	}
	if err := mw.Close(); err != nil {
		return out, stt.NewError(BackendName, stt.ErrRejected, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return out, stt.NewError(BackendName, stt.ErrRejected, err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return out, stt.Classify(BackendName, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, stt.Classify(BackendName, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return out, stt.NewError(BackendName, stt.ErrUnavailable, apiError(resp.StatusCode, data))
	case resp.StatusCode >= 400:
		return out, stt.NewError(BackendName, stt.ErrRejected, apiError(resp.StatusCode, data))
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return out, stt.NewError(BackendName, stt.ErrUnavailable, fmt.Errorf("decode response: %w", err))
	}
	return out, nil
}

// apiError extracts the message from an OpenAI error body.
func apiError(code int, body []byte) error {
	var e struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return fmt.Errorf("HTTP %d: %s", code, e.Error.Message)
	}
	return fmt.Errorf("HTTP %d", code)
}
