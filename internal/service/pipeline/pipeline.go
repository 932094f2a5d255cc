// Package pipeline composes the per-chunk and end-of-session stages:
// stats, voice activity, enhancement, parameter selection, inference,
// hallucination filtering and confidence scoring.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/observability/metrics"
	"ai-lecture-transcriber/internal/service/audio"
	"ai-lecture-transcriber/internal/service/confidence"
	"ai-lecture-transcriber/internal/service/engine"
	"ai-lecture-transcriber/internal/service/hallucination"
	"ai-lecture-transcriber/internal/service/params"
	"ai-lecture-transcriber/internal/service/preprocess"
	"ai-lecture-transcriber/internal/service/stt"
	"ai-lecture-transcriber/internal/service/vad"
)

// Machine-readable reasons for an empty transcript.
const (
	ReasonNoSpeech           = "no_speech_detected"
	ReasonBackendUnavailable = "backend_unavailable"
	ReasonLowConfidence      = "low_confidence_suppressed"
)

// Transcriber runs inference with fallback. *engine.Engine implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, req stt.Request) engine.Outcome
}

// Stages groups the components a Pipeline runs.
type Stages struct {
	Gate         *vad.Gate
	Preprocessor *preprocess.Processor
	Optimizer    *params.Optimizer
	Engine       Transcriber
	Filter       *hallucination.Filter
	Analyzer     *confidence.Analyzer
}

// Pipeline is stateless; per-session state is passed in with each call.
type Pipeline struct {
	stages Stages
	// content forces a content type; ContentUnknown detects it from
	// elapsed session audio.
	content params.ContentType
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a pipeline.
func New(stages Stages, content params.ContentType, logger zerolog.Logger, m *metrics.Metrics) *Pipeline {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Pipeline{
		stages:  stages,
		content: content,
		logger:  logger.With().Str("component", "pipeline").Logger(),
		metrics: m,
	}
}

// ChunkInput is one live chunk and the session state it needs.
type ChunkInput struct {
	SessionID  string
	ChunkIndex int
	PCM        []byte
	// SessionDurationMs is the session's audio duration including this chunk.
	SessionDurationMs int64
	Detector          vad.Detector
	History           *hallucination.Context
}

// Output is the result of running the stages over some audio.
type Output struct {
	Stats          audio.Stats
	Transcript     string
	RawTranscript  string
	Confidence     float64
	Level          string
	Reason         string
	Success        bool
	Backend        string
	FallbackUsed   bool
	FallbackReason string
	ContentType    params.ContentType
	Quality        params.Quality
	VAD            *vad.Decision
	Verdict        *hallucination.Verdict
	Report         *confidence.Report
	Segments       []stt.Segment
	Err            error
	Elapsed        time.Duration
}

// ProcessChunk runs the live path for one chunk. It never panics on
// malformed input and reports backend failures through Output.Err.
func (p *Pipeline) ProcessChunk(ctx context.Context, in ChunkInput) Output {
	start := time.Now()
	logger := p.logger.With().Str("sessionId", in.SessionID).Int("chunkIndex", in.ChunkIndex).Logger()

	stats := audio.ComputeStats(in.PCM)
	samples, _ := audio.DecodePCM16(in.PCM)
	out := Output{Stats: stats, Success: true}

	decision := p.stages.Gate.Evaluate(in.Detector, samples, stats)
	out.VAD = &decision
	if !decision.HasSpeech {
		out.Reason = ReasonNoSpeech
		out.Elapsed = time.Since(start)
		logger.Debug().Str("vad", decision.Reason).Float64("speechRatio", decision.SpeechRatio).Msg("Chunk skipped, no speech")
		return out
	}

	enhanced := p.stages.Preprocessor.Process(preprocess.Input{Samples: samples, SampleRate: audio.SampleRate, Channels: 1})
	out.Quality = params.ClassifyQuality(enhanced.Stats, enhanced.Compatibility)
	out.ContentType = p.contentType(in.SessionDurationMs)
	opt := p.stages.Optimizer.Optimize(out.ContentType, out.Quality, float64(stats.DurationMs)/1000, true)

	outcome := p.stages.Engine.Transcribe(ctx, stt.Request{
		SessionID:  in.SessionID,
		ChunkIndex: in.ChunkIndex,
		Samples:    enhanced.Samples,
		Params:     opt.Params,
		Priority:   stt.PriorityHigh,
	})
	p.finish(&out, outcome, samples, in.History, logger)
	out.Elapsed = time.Since(start)
	return out
}

// FinalInput is a whole session's audio.
type FinalInput struct {
	SessionID string
	PCM       []byte
}

// ProcessFinal runs the high-quality pass over a session's cumulative
// audio. Silence is not gated here; the backend decides.
func (p *Pipeline) ProcessFinal(ctx context.Context, in FinalInput) Output {
	start := time.Now()
	logger := p.logger.With().Str("sessionId", in.SessionID).Bool("final", true).Logger()

	stats := audio.ComputeStats(in.PCM)
	out := Output{Stats: stats, Success: true}
	if stats.SampleCount == 0 {
		out.Reason = ReasonNoSpeech
		return out
	}
	samples, _ := audio.DecodePCM16(in.PCM)

	enhanced := p.stages.Preprocessor.Process(preprocess.Input{Samples: samples, SampleRate: audio.SampleRate, Channels: 1})
	out.Quality = params.ClassifyQuality(enhanced.Stats, enhanced.Compatibility)
	out.ContentType = p.contentType(stats.DurationMs)
	fp := p.stages.Optimizer.FinalParams(out.ContentType, out.Quality, float64(stats.DurationMs)/1000)

	outcome := p.stages.Engine.Transcribe(ctx, stt.Request{
		SessionID:  in.SessionID,
		ChunkIndex: -1,
		Samples:    enhanced.Samples,
		Params:     fp,
		Priority:   stt.PriorityBackground,
		Final:      true,
	})
	p.finish(&out, outcome, samples, nil, logger)
	out.Elapsed = time.Since(start)
	return out
}

// finish applies the inference outcome, the hallucination filter and the
// confidence analyzer to out. Accepted text is added to hist.
func (p *Pipeline) finish(out *Output, outcome engine.Outcome, samples []float32, hist *hallucination.Context, logger zerolog.Logger) {
	out.Backend = outcome.Backend
	out.FallbackUsed = outcome.FallbackUsed
	out.FallbackReason = outcome.FallbackReason

	if outcome.Err != nil {
		out.Success = false
		out.Reason = ReasonBackendUnavailable
		out.Err = outcome.Err
		logger.Warn().Err(outcome.Err).Str("kind", stt.KindOf(outcome.Err)).Msg("Inference failed")
		return
	}

	res := outcome.Result
	out.RawTranscript = res.Text
	out.Segments = res.Segments

	verdict := p.stages.Filter.Check(hallucination.Input{
		Text:            res.Text,
		Stats:           out.Stats,
		ModelConfidence: res.Confidence,
	}, hist)
	out.Verdict = &verdict

	text := res.Text
	if verdict.IsHallucination {
		text = ""
		out.Segments = nil
		out.Reason = ReasonLowConfidence
		p.metrics.RecordSuppressed(ReasonLowConfidence)
		logger.Info().
			Strs("categories", verdict.CategoryLabels()).
			Float64("score", verdict.Confidence).
			Msg("Transcript suppressed")
	}

	report := p.stages.Analyzer.Analyze(confidence.Input{
		Text:            text,
		ModelConfidence: res.Confidence,
		Stats:           out.Stats,
		Quality:         audio.AnalyzeQuality(samples),
		DurationMs:      out.Stats.DurationMs,
		Verdict:         &verdict,
	})
	out.Report = &report
	out.Confidence = report.Reliability
	out.Level = report.LevelLabel
	out.Transcript = text

	switch {
	case text != "":
		if hist != nil {
			hist.Add(text)
		}
	case out.Reason == "":
		out.Reason = ReasonNoSpeech
	}
}

func (p *Pipeline) contentType(sessionMs int64) params.ContentType {
	if p.content != params.ContentUnknown {
		return p.content
	}
	return params.DetectContentType(float64(sessionMs) / 1000)
}
