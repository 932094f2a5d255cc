// Package mock provides a scripted transcription backend for tests and for
// running the service without a whisper.cpp server or cloud credentials.
package mock

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ai-lecture-transcriber/internal/service/audio"
	"ai-lecture-transcriber/internal/service/stt"
)

// Response is one scripted backend answer.
type Response struct {
	Text       string
	Confidence float64
	Err        error
	Delay      time.Duration
}

// DefaultUtterances are returned in rotation when no script is set.
var DefaultUtterances = []Response{
	{Text: "Today we are going to look at the second law of thermodynamics.", Confidence: 0.93},
	{Text: "Entropy in an isolated system never decreases over time.", Confidence: 0.91},
	{Text: "Let me write the equation on the board so everyone can see it.", Confidence: 0.95},
	{Text: "Does anyone have a question about the example from last week?", Confidence: 0.89},
	{Text: "We will continue with heat engines in the next lecture.", Confidence: 0.94},
}

// Backend implements stt.BatchBackend with scripted responses.
type Backend struct {
	name string
	kind stt.Kind

	mu       sync.Mutex
	script   []Response
	next     int
	repeat   bool
	requests []stt.Request
	fn       func(ctx context.Context, req stt.Request) (stt.Result, error)

	calls      atomic.Int64
	batchCalls atomic.Int64
	inFlight   atomic.Int64
	maxFlight  atomic.Int64
}

// Option configures a Backend.
type Option func(*Backend)

// WithScript sets responses consumed in order. Once exhausted the last
// response repeats.
func WithScript(responses ...Response) Option {
	return func(b *Backend) {
		b.script = responses
		b.repeat = false
	}
}

// WithFunc delegates every call to fn.
func WithFunc(fn func(ctx context.Context, req stt.Request) (stt.Result, error)) Option {
	return func(b *Backend) {
		b.fn = fn
	}
}

// New creates a mock backend of the given kind.
func New(name string, kind stt.Kind, opts ...Option) *Backend {
	b := &Backend{
		name:   name,
		kind:   kind,
		script: DefaultUtterances,
		repeat: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements stt.Backend.
func (b *Backend) Name() string { return b.name }

// Kind implements stt.Backend.
func (b *Backend) Kind() stt.Kind { return b.kind }

// Transcribe implements stt.Backend.
func (b *Backend) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	b.calls.Add(1)
	return b.transcribe(ctx, req)
}

// TranscribeBatch implements stt.BatchBackend.
func (b *Backend) TranscribeBatch(ctx context.Context, reqs []stt.Request) ([]stt.Result, []error) {
	b.batchCalls.Add(1)
	results := make([]stt.Result, len(reqs))
	errs := make([]error, len(reqs))
	for i, req := range reqs {
		results[i], errs[i] = b.transcribe(ctx, req)
	}
	return results, errs
}

func (b *Backend) transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		cur := b.maxFlight.Load()
		if n <= cur || b.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	b.mu.Lock()
	b.requests = append(b.requests, req)
	fn := b.fn
	var resp Response
	if fn == nil {
		resp = b.nextResponse()
	}
	b.mu.Unlock()

	start := time.Now()
	if fn != nil {
		res, err := fn(ctx, req)
		if err != nil {
			return stt.Result{}, stt.Classify(b.name, err)
		}
		if res.Backend == "" {
			res.Backend = b.name
		}
		return res, nil
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-ctx.Done():
			return stt.Result{}, stt.Classify(b.name, ctx.Err())
		}
	}
	if resp.Err != nil {
		return stt.Result{}, stt.Classify(b.name, resp.Err)
	}

	durationMs := int64(len(req.Samples)) * 1000 / audio.SampleRate
	res := stt.Result{
		Text:                resp.Text,
		Confidence:          resp.Confidence,
		Language:            "en",
		LanguageProbability: 0.99,
		Backend:             b.name,
		ProcessingTime:      time.Since(start),
	}
	if strings.TrimSpace(resp.Text) != "" {
		res.Segments = []stt.Segment{{StartMs: 0, EndMs: durationMs, Text: resp.Text, Confidence: resp.Confidence}}
		res.SegmentCount = 1
	}
	return res, nil
}

func (b *Backend) nextResponse() Response {
	if len(b.script) == 0 {
		return Response{}
	}
	if b.repeat {
		r := b.script[b.next%len(b.script)]
		b.next++
		return r
	}
	if b.next >= len(b.script) {
		return b.script[len(b.script)-1]
	}
	r := b.script[b.next]
	b.next++
	return r
}

// Calls returns the number of single-item Transcribe calls.
func (b *Backend) Calls() int { return int(b.calls.Load()) }

// BatchCalls returns the number of TranscribeBatch calls.
func (b *Backend) BatchCalls() int { return int(b.batchCalls.Load()) }

// MaxConcurrent returns the highest number of overlapping requests seen.
func (b *Backend) MaxConcurrent() int { return int(b.maxFlight.Load()) }

// Requests returns a copy of every request received.
func (b *Backend) Requests() []stt.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]stt.Request(nil), b.requests...)
}

// Single wraps a backend so that it only exposes stt.Backend, forcing
// callers down their single-request path.
type Single struct {
	stt.Backend
}
