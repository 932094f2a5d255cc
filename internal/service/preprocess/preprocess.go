// Package preprocess enhances classroom audio before transcription.
//
// The pipeline runs six stages in a fixed order:
//
//	format → loudness → noise reduction → formant boost → dynamics → validation
//
// Every stage can be disabled. A stage that fails (error, panic, or
// non-finite output) is recorded in the result and its input is passed
// through unchanged, so enhancement never blocks transcription.
package preprocess

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/observability/metrics"
	"ai-lecture-transcriber/internal/service/audio"
)

// Stage names as reported in StageReport.
const (
	StageFormat     = "format_normalization"
	StageLoudness   = "loudness_normalization"
	StageNoise      = "noise_reduction"
	StageFormant    = "formant_enhancement"
	StageDynamics   = "dynamics"
	StageValidation = "validation"
)

// ErrNonFinite is reported when a stage produces NaN or Inf samples.
var ErrNonFinite = errors.New("preprocess: stage produced non-finite samples")

// Config toggles individual stages.
type Config struct {
	FormatNormalization bool
	Loudness            bool
	NoiseReduction      bool
	FormantEnhancement  bool
	Dynamics            bool
	Validation          bool

	// TargetLUFS is clamped to [-30, -12].
	TargetLUFS float64
}

// DefaultConfig enables every stage with a -16 LUFS target.
func DefaultConfig() Config {
	return Config{
		FormatNormalization: true,
		Loudness:            true,
		NoiseReduction:      true,
		FormantEnhancement:  true,
		Dynamics:            true,
		Validation:          true,
		TargetLUFS:          -16,
	}
}

// Input is audio to enhance. Samples are interleaved when Channels > 1.
type Input struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// StageReport describes what one stage did.
type StageReport struct {
	Stage    string             `json:"stage"`
	Applied  bool               `json:"applied"`
	Error    string             `json:"error,omitempty"`
	Metadata map[string]float64 `json:"metadata,omitempty"`
}

// Result is the enhanced audio and its diagnostics.
type Result struct {
	Samples       []float32
	SampleRate    int
	Channels      int
	Stages        []StageReport
	Warnings      []string
	Compatibility float64
	Stats         audio.Stats
}

// Processor runs the enhancement stages. It holds no per-call state and is
// safe for concurrent use.
type Processor struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a Processor.
func New(cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Processor {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	if cfg.TargetLUFS == 0 {
		cfg.TargetLUFS = -16
	}
	cfg.TargetLUFS = clamp(cfg.TargetLUFS, -30, -12)
	return &Processor{
		cfg:     cfg,
		logger:  logger.With().Str("component", "preprocess").Logger(),
		metrics: m,
	}
}

type stageFunc func(samples []float32, st *runState) ([]float32, map[string]float64, error)

type runState struct {
	sampleRate int
	channels   int
	warnings   []string
}

func (s *runState) warn(format string, args ...any) {
	s.warnings = append(s.warnings, fmt.Sprintf(format, args...))
}

// Process runs all enabled stages over in.
func (p *Processor) Process(in Input) Result {
	st := &runState{sampleRate: in.SampleRate, channels: in.Channels}
	if st.sampleRate <= 0 {
		st.sampleRate = audio.SampleRate
	}
	if st.channels <= 0 {
		st.channels = 1
	}

	stages := []struct {
		name    string
		enabled bool
		run     stageFunc
	}{
		{StageFormat, p.cfg.FormatNormalization, normalizeFormat},
		{StageLoudness, p.cfg.Loudness, p.normalizeLoudness},
		{StageNoise, p.cfg.NoiseReduction, reduceNoise},
		{StageFormant, p.cfg.FormantEnhancement, enhanceFormants},
		{StageDynamics, p.cfg.Dynamics, compress},
		{StageValidation, p.cfg.Validation, validate},
	}

	samples := in.Samples
	res := Result{}
	for _, stage := range stages {
		if !stage.enabled {
			res.Stages = append(res.Stages, StageReport{Stage: stage.name})
			continue
		}
		out, report := p.runStage(stage.name, stage.run, samples, st)
		samples = out
		res.Stages = append(res.Stages, report)
	}

	res.Samples = samples
	res.SampleRate = st.sampleRate
	res.Channels = st.channels
	res.Warnings = st.warnings
	res.Stats = audio.StatsFromSamples(samples, st.sampleRate)
	res.Compatibility = compatibility(samples, st.sampleRate, st.channels)
	return res
}

func (p *Processor) runStage(name string, fn stageFunc, in []float32, st *runState) (out []float32, report StageReport) {
	report.Stage = name
	defer func() {
		if r := recover(); r != nil {
			out = in
			report.Applied = false
			report.Error = fmt.Sprintf("panic: %v", r)
			p.fail(name, report.Error)
		}
	}()

	result, meta, err := fn(in, st)
	if err == nil && !allFinite(result) {
		err = ErrNonFinite
	}
	if err != nil {
		report.Error = err.Error()
		p.fail(name, report.Error)
		return in, report
	}
	report.Applied = true
	report.Metadata = meta
	return result, report
}

func (p *Processor) fail(stage, reason string) {
	p.metrics.RecordPreprocessFailure(stage)
	p.logger.Warn().
		Str("stage", stage).
		Str("reason", reason).
		Msg("Preprocessing stage failed, passing audio through")
}

// normalizeFormat downmixes to mono and resamples to the pipeline rate.
func normalizeFormat(samples []float32, st *runState) ([]float32, map[string]float64, error) {
	meta := map[string]float64{
		"inputSampleRate": float64(st.sampleRate),
		"inputChannels":   float64(st.channels),
	}
	out := samples
	if st.channels > 1 {
		frames := len(samples) / st.channels
		mono := make([]float32, frames)
		for i := 0; i < frames; i++ {
			var sum float32
			for c := 0; c < st.channels; c++ {
				sum += samples[i*st.channels+c]
			}
			mono[i] = sum / float32(st.channels)
		}
		out = mono
		st.channels = 1
	}
	if st.sampleRate != audio.SampleRate {
		st.warn("sample rate %d Hz resampled to %d Hz", st.sampleRate, audio.SampleRate)
		out = resampleLinear(out, st.sampleRate, audio.SampleRate)
		st.sampleRate = audio.SampleRate
	}
	return out, meta, nil
}

// normalizeLoudness applies gain toward the target pseudo-LUFS then a tanh
// soft limiter. Pseudo-LUFS is the unweighted mean-square loudness.
func (p *Processor) normalizeLoudness(samples []float32, _ *runState) ([]float32, map[string]float64, error) {
	if len(samples) == 0 {
		return samples, nil, nil
	}
	_, rms := peakAndRMS(samples)
	if rms < 1e-6 {
		return samples, map[string]float64{"gain": 1}, nil
	}

	lufs := -0.691 + 20*math.Log10(rms)
	gain := clamp(math.Pow(10, (p.cfg.TargetLUFS-lufs)/20), 0.1, 20)

	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(math.Tanh(float64(s)*gain*0.9) * 0.95)
	}
	return out, map[string]float64{"inputLufs": lufs, "gain": gain}, nil
}

const (
	overSubtraction = 2.0
	spectralFloor   = 0.1
	lowPassCutoffHz = 8000.0
)

// reduceNoise performs spectral subtraction against the chunk's 25th
// percentile magnitude, removes mains hum and rolls off high-frequency hiss.
func reduceNoise(samples []float32, st *runState) ([]float32, map[string]float64, error) {
	if len(samples) == 0 {
		return samples, nil, nil
	}
	sampleRate := st.sampleRate
	cutoff := math.Min(lowPassCutoffHz, 0.95*float64(sampleRate)/2)
	var noiseFloor float64

	out := processBlocks(samples, func(block []float32) []float32 {
		sp := analyze(block, sampleRate)
		noise := percentile(sp.meanMagnitude(), 0.25)
		if noise > noiseFloor {
			noiseFloor = noise
		}
		for _, frame := range sp.frames {
			for b, c := range frame {
				mag := cmplxAbs(c)
				if mag == 0 {
					continue
				}
				target := mag - overSubtraction*noise
				if floor := spectralFloor * mag; target < floor {
					target = floor
				}
				frame[b] = c * complex(target/mag, 0)
			}
		}
		sp.applyGain(func(f float64) float64 {
			if f <= cutoff {
				return 1
			}
			return 1 / math.Sqrt(1+math.Pow(f/cutoff, 8))
		})
		return sp.synthesize()
	})

	for _, hz := range []float64{60, 120} {
		out = newNotch(hz, 30, sampleRate).process(out)
	}
	return out, map[string]float64{"noiseFloor": noiseFloor, "lowPassHz": cutoff}, nil
}

type formantBand struct {
	lo, hi, boost float64
}

var formantBands = []formantBand{
	{200, 1000, 0.2},
	{800, 2500, 0.2},
	{1500, 4000, 0.1},
}

// enhanceFormants adds band-limited copies of the first three formant
// regions back into the signal and renormalizes the peak.
func enhanceFormants(samples []float32, st *runState) ([]float32, map[string]float64, error) {
	if len(samples) == 0 {
		return samples, nil, nil
	}
	sampleRate := st.sampleRate
	out := processBlocks(samples, func(block []float32) []float32 {
		sp := analyze(block, sampleRate)
		sp.applyGain(func(f float64) float64 {
			g := 1.0
			for _, band := range formantBands {
				if f >= band.lo && f <= band.hi {
					g += band.boost
				}
			}
			return g
		})
		return sp.synthesize()
	})

	peak, _ := peakAndRMS(out)
	meta := map[string]float64{"peak": peak}
	if peak > 0.95 {
		out = scale(out, 0.95/peak)
		meta["renormalized"] = 1
	}
	return out, meta, nil
}

const (
	compThreshold = 0.6
	compRatio     = 3.0
	compAttack    = 0.003
	compRelease   = 0.100
	limiterLevel  = 0.85
)

// compress applies a feed-forward compressor followed by a hard limiter.
func compress(samples []float32, st *runState) ([]float32, map[string]float64, error) {
	sr := float64(st.sampleRate)
	attack := math.Exp(-1 / (compAttack * sr))
	release := math.Exp(-1 / (compRelease * sr))

	out := make([]float32, len(samples))
	var env float64
	limited := 0
	for i, s := range samples {
		x := float64(s)
		a := math.Abs(x)
		if a > env {
			env = attack*env + (1-attack)*a
		} else {
			env = release*env + (1-release)*a
		}
		if env > compThreshold {
			x *= (compThreshold + (env-compThreshold)/compRatio) / env
		}
		if x > limiterLevel {
			x = limiterLevel
			limited++
		} else if x < -limiterLevel {
			x = -limiterLevel
			limited++
		}
		out[i] = float32(x)
	}
	return out, map[string]float64{"limitedSamples": float64(limited)}, nil
}

// validate corrects DC offset and clipping and flags a flat signal.
func validate(samples []float32, st *runState) ([]float32, map[string]float64, error) {
	if len(samples) == 0 {
		return samples, nil, nil
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := sum / float64(len(samples))
	meta := map[string]float64{"dcOffset": mean}

	out := samples
	if math.Abs(mean) > 0.01 {
		out = make([]float32, len(samples))
		for i, s := range samples {
			out[i] = float32(float64(s) - mean)
		}
		meta["dcCorrected"] = 1
	}

	peak, rms := peakAndRMS(out)
	if peak > 0.95 {
		out = scale(out, 0.95/peak)
		meta["renormalized"] = 1
		peak, rms = 0.95, rms*0.95/peak
	}
	dynamicRange := peak - rms
	meta["dynamicRange"] = dynamicRange
	if peak > 0 && dynamicRange < 0.1 {
		st.warn("low dynamic range %.3f", dynamicRange)
	}
	return out, meta, nil
}

// compatibility scores how well audio matches what Whisper models expect.
func compatibility(samples []float32, sampleRate, channels int) float64 {
	score := 0.0
	if sampleRate == audio.SampleRate {
		score += 0.2
	}
	if channels == 1 {
		score += 0.2
	}
	peak, rms := peakAndRMS(samples)
	if rms >= 0.01 && rms <= 0.5 {
		score += 0.2
	}
	if peak-rms > 0.1 {
		score += 0.2
	}
	ratio := bandEnergyRatio(samples, sampleRate, 300, 3400)
	if ratio >= 0.3 {
		score += 0.2
	} else {
		score += 0.2 * ratio / 0.3
	}
	return score
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
