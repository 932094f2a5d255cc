// Package vad decides whether a chunk contains enough speech to be worth
// transcribing.
package vad

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/observability/metrics"
	"ai-lecture-transcriber/internal/service/audio"
)

// Decision reasons.
const (
	ReasonSpeech       = "speech"
	ReasonDeepSilence  = "deep_silence"
	ReasonBelowRatio   = "below_speech_ratio"
	ReasonDetectorFail = "detector_failed_open"
)

// ErrWindowSize is returned by detectors given a window of the wrong length.
var ErrWindowSize = errors.New("vad: window must be 512 samples")

// Detector scores one 512-sample window at a time and keeps state across
// windows and chunks of the same session.
type Detector interface {
	// ProcessWindow reports whether the window contains speech.
	ProcessWindow(window []float32) (bool, error)
	// Reset clears all carried state.
	Reset()
}

// Config holds gate thresholds.
type Config struct {
	// ShortChunk is the duration below which ShortChunkRatio applies.
	ShortChunkMs    int64
	ShortChunkRatio float64
	LongChunkRatio  float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		ShortChunkMs:    1000,
		ShortChunkRatio: 0.15,
		LongChunkRatio:  0.25,
	}
}

// Decision is the outcome of gating one chunk.
type Decision struct {
	HasSpeech   bool    `json:"hasSpeech"`
	SpeechRatio float64 `json:"speechRatio"`
	SpeechMs    int64   `json:"speechMs"`
	Threshold   float64 `json:"threshold"`
	Reason      string  `json:"reason"`
}

// DetectorFactory creates a fresh per-session detector.
type DetectorFactory func() Detector

// Gate applies the speech-ratio rule on top of a per-session Detector.
type Gate struct {
	cfg     Config
	factory DetectorFactory
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewGate creates a gate. A nil factory uses the energy detector.
func NewGate(cfg Config, factory DetectorFactory, logger zerolog.Logger, m *metrics.Metrics) *Gate {
	if factory == nil {
		factory = func() Detector { return NewEnergyDetector(DefaultEnergyConfig()) }
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Gate{
		cfg:     cfg,
		factory: factory,
		logger:  logger.With().Str("component", "vad").Logger(),
		metrics: m,
	}
}

// NewDetector returns a detector to be owned by one session.
func (g *Gate) NewDetector() Detector {
	return g.factory()
}

// Evaluate gates one chunk using the session's detector. Detector errors
// and panics fail open.
func (g *Gate) Evaluate(det Detector, samples []float32, stats audio.Stats) Decision {
	threshold := g.cfg.LongChunkRatio
	if stats.DurationMs < g.cfg.ShortChunkMs {
		threshold = g.cfg.ShortChunkRatio
	}

	if stats.SampleCount == 0 || stats.IsDeepSilence() {
		g.metrics.RecordVAD("silent")
		return Decision{Threshold: threshold, Reason: ReasonDeepSilence}
	}

	speechSamples, err := g.scan(det, samples)
	if err != nil {
		g.metrics.RecordVAD("fail_open")
		g.logger.Warn().Err(err).Msg("VAD detector failed, treating chunk as speech")
		return Decision{HasSpeech: true, SpeechRatio: 1, SpeechMs: stats.DurationMs, Threshold: threshold, Reason: ReasonDetectorFail}
	}

	ratio := float64(speechSamples) / float64(len(samples))
	d := Decision{
		SpeechRatio: ratio,
		SpeechMs:    int64(speechSamples) * 1000 / audio.SampleRate,
		Threshold:   threshold,
		HasSpeech:   ratio >= threshold,
		Reason:      ReasonSpeech,
	}
	if !d.HasSpeech {
		d.Reason = ReasonBelowRatio
		g.metrics.RecordVAD("no_speech")
	} else {
		g.metrics.RecordVAD("speech")
	}
	return d
}

// scan feeds whole windows to the detector. A trailing partial window is
// zero-padded and counted in proportion to its length.
func (g *Gate) scan(det Detector, samples []float32) (speech int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("vad: detector panic: %v", r)
		}
	}()

	window := make([]float32, audio.WindowSize)
	for start := 0; start < len(samples); start += audio.WindowSize {
		end := start + audio.WindowSize
		n := audio.WindowSize
		if end > len(samples) {
			end = len(samples)
			n = end - start
			clear(window)
		}
		copy(window, samples[start:end])
		isSpeech, err := det.ProcessWindow(window)
		if err != nil {
			return 0, err
		}
		if isSpeech {
			speech += n
		}
	}
	return speech, nil
}

// EnergyConfig tunes the energy detector.
type EnergyConfig struct {
	// MinRMS is the absolute level below which a window is never speech.
	MinRMS float64
	// NoiseMultiplier scales the adaptive noise floor into a threshold.
	NoiseMultiplier float64
	// NoiseAdapt is the smoothing factor for the noise floor.
	NoiseAdapt float64
	// HangoverWindows keeps the speech state after energy drops.
	HangoverWindows int
	// MaxZeroCrossRate rejects hiss-like windows.
	MaxZeroCrossRate float64
}

// DefaultEnergyConfig returns thresholds tuned for classroom microphones.
func DefaultEnergyConfig() EnergyConfig {
	return EnergyConfig{
		MinRMS:           0.01,
		NoiseMultiplier:  3,
		NoiseAdapt:       0.05,
		HangoverWindows:  3,
		MaxZeroCrossRate: 0.5,
	}
}

// EnergyDetector is an RMS detector with an adaptive noise floor and
// hangover. Not safe for concurrent use; each session owns one.
type EnergyDetector struct {
	cfg        EnergyConfig
	noiseFloor float64
	hangover   int
}

// NewEnergyDetector creates a detector in its initial state.
func NewEnergyDetector(cfg EnergyConfig) *EnergyDetector {
	return &EnergyDetector{cfg: cfg}
}

// ProcessWindow implements Detector.
func (d *EnergyDetector) ProcessWindow(window []float32) (bool, error) {
	if len(window) != audio.WindowSize {
		return false, ErrWindowSize
	}

	var sum float64
	crossings := 0
	for i, s := range window {
		sum += float64(s) * float64(s)
		if i > 0 && (s >= 0) != (window[i-1] >= 0) {
			crossings++
		}
	}
	rms := math.Sqrt(sum / float64(len(window)))
	zcr := float64(crossings) / float64(len(window)-1)

	threshold := math.Max(d.cfg.MinRMS, d.noiseFloor*d.cfg.NoiseMultiplier)
	loud := rms >= threshold && zcr <= d.cfg.MaxZeroCrossRate

	if loud {
		d.hangover = d.cfg.HangoverWindows
		return true, nil
	}

	// Only quiet windows update the noise estimate.
	if d.noiseFloor == 0 {
		d.noiseFloor = rms
	} else {
		d.noiseFloor += d.cfg.NoiseAdapt * (rms - d.noiseFloor)
	}

	if d.hangover > 0 {
		d.hangover--
		return true, nil
	}
	return false, nil
}

// Reset implements Detector.
func (d *EnergyDetector) Reset() {
	d.noiseFloor = 0
	d.hangover = 0
}
