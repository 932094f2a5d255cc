// Package confidence scores how far a transcript can be trusted from
// several weighted factors.
package confidence

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/observability/metrics"
	"ai-lecture-transcriber/internal/service/audio"
	"ai-lecture-transcriber/internal/service/hallucination"
	"ai-lecture-transcriber/internal/service/textutil"
)

// ErrInvalidWeights is returned when factor weights are incomplete or do
// not sum to 1.
var ErrInvalidWeights = errors.New("confidence weights invalid")

// Factor names.
const (
	FactorModel         = "model_confidence"
	FactorAudio         = "audio_quality"
	FactorLinguistic    = "linguistic_coherence"
	FactorLength        = "length_consistency"
	FactorEducational   = "educational_context"
	FactorRepetition    = "repetition_penalty"
	FactorHallucination = "hallucination_risk"
)

// factorOrder fixes iteration order for recommendations and logs.
var factorOrder = []string{
	FactorModel, FactorAudio, FactorLinguistic, FactorLength,
	FactorEducational, FactorRepetition, FactorHallucination,
}

// DefaultWeights returns the standard factor weights.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		FactorModel:         0.25,
		FactorAudio:         0.20,
		FactorLinguistic:    0.15,
		FactorLength:        0.10,
		FactorEducational:   0.10,
		FactorRepetition:    0.10,
		FactorHallucination: 0.10,
	}
}

const (
	emptyTranscriptCap = 0.2
	maxRecommendations = 5
	minWordsPerSecond  = 1.0
	maxWordsPerSecond  = 4.0
)

// Level is a coarse confidence class.
type Level int

const (
	LevelVeryLow Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelVeryHigh
)

// String returns the level label.
func (l Level) String() string {
	switch l {
	case LevelVeryLow:
		return "very_low"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelVeryHigh:
		return "very_high"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// LevelFor maps a score in [0,1] to a Level.
func LevelFor(score float64) Level {
	switch {
	case score >= 0.9:
		return LevelVeryHigh
	case score >= 0.7:
		return LevelHigh
	case score >= 0.5:
		return LevelMedium
	case score >= 0.3:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

// Input is what the analyzer scores.
type Input struct {
	Text            string
	ModelConfidence float64
	Stats           audio.Stats
	Quality         audio.Quality
	DurationMs      int64
	// Verdict is optional.
	Verdict *hallucination.Verdict
}

// Report is the analyzer output.
type Report struct {
	Overall         float64            `json:"overall"`
	Reliability     float64            `json:"reliability"`
	Level           Level              `json:"-"`
	LevelLabel      string             `json:"level"`
	Factors         map[string]float64 `json:"factors"`
	StdDev          float64            `json:"stdDev"`
	Warnings        []string           `json:"warnings,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

// Analyzer is stateless and safe for concurrent use.
type Analyzer struct {
	weights map[string]float64
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates an analyzer. nil weights selects DefaultWeights.
func New(weights map[string]float64, logger zerolog.Logger, m *metrics.Metrics) (*Analyzer, error) {
	if weights == nil {
		weights = DefaultWeights()
	}
	if err := ValidateWeights(weights); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Analyzer{
		weights: weights,
		logger:  logger.With().Str("component", "confidence_analyzer").Logger(),
		metrics: m,
	}, nil
}

// ValidateWeights checks that every factor has a non-negative weight and
// that they sum to 1.
func ValidateWeights(weights map[string]float64) error {
	var sum float64
	for _, f := range factorOrder {
		w, ok := weights[f]
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrInvalidWeights, f)
		}
		if w < 0 {
			return fmt.Errorf("%w: negative %s", ErrInvalidWeights, f)
		}
		sum += w
	}
	if len(weights) != len(factorOrder) {
		return fmt.Errorf("%w: unknown factor", ErrInvalidWeights)
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: sum is %.4f", ErrInvalidWeights, sum)
	}
	return nil
}

// Analyze scores in.
func (a *Analyzer) Analyze(in Input) Report {
	words := textutil.Words(in.Text)
	factors := map[string]float64{
		FactorModel:         modelFactor(in.ModelConfidence, len(words)),
		FactorAudio:         audioFactor(in.Stats, in.Quality, len(words)),
		FactorLinguistic:    linguisticFactor(in.Text, words),
		FactorLength:        lengthFactor(len(words), in.DurationMs),
		FactorEducational:   educationalFactor(words),
		FactorRepetition:    repetitionFactor(words),
		FactorHallucination: hallucinationFactor(in, len(words)),
	}

	var overall float64
	values := make([]float64, 0, len(factors))
	for _, f := range factorOrder {
		overall += a.weights[f] * factors[f]
		values = append(values, factors[f])
	}
	sd := stdDev(values)

	reliability := overall
	switch {
	case sd > 0.3:
		reliability *= 0.8
	case sd > 0.2:
		reliability *= 0.9
	}
	if factors[FactorAudio] < 0.5 {
		reliability *= 0.7
	}
	if factors[FactorHallucination] < 0.5 {
		reliability *= 0.6
	}
	if len(words) == 0 {
		reliability = math.Min(reliability, emptyTranscriptCap)
		overall = math.Min(overall, emptyTranscriptCap)
	}

	var warnings []string
	if len(words) == 0 {
		warnings = append(warnings, "empty transcript")
	}
	if in.Stats.IsSilent && len(words) > 0 {
		warnings = append(warnings, "text produced from silent audio")
	}
	if sd > 0.3 {
		warnings = append(warnings, "factors disagree strongly")
	}

	level := LevelFor(overall)
	a.metrics.RecordConfidence(overall)
	if level == LevelVeryLow && len(words) > 0 {
		a.logger.Debug().Float64("overall", overall).Float64("reliability", reliability).Float64("stdDev", sd).Msg("Very low confidence transcript")
	}
	return Report{
		Overall:         overall,
		Reliability:     reliability,
		Level:           level,
		LevelLabel:      level.String(),
		Factors:         factors,
		StdDev:          sd,
		Warnings:        warnings,
		Recommendations: recommendations(factors, in.Stats),
	}
}

// modelFactor scales raw confidence down for very short transcripts.
func modelFactor(raw float64, n int) float64 {
	var scale float64
	switch {
	case n == 0:
		return 0
	case n == 1:
		scale = 0.7
	case n >= 10:
		scale = 1.0
	default:
		scale = 0.8 + 0.2*float64(n-2)/8
	}
	return clamp01(raw * scale)
}

func audioFactor(stats audio.Stats, q audio.Quality, n int) float64 {
	if stats.IsSilent && n > 0 {
		return 0
	}
	score := 1.0
	var dist float64
	switch {
	case stats.DBFS < -20:
		dist = -20 - stats.DBFS
	case stats.DBFS > -6:
		dist = stats.DBFS + 6
	}
	if dist > 0 {
		score *= math.Max(0.2, 1-0.02*dist)
	}
	if q.CrestFactor > 0 && (q.CrestFactor < 2 || q.CrestFactor > 20) {
		score *= 0.8
	}
	if q.CrestFactor > 0 && q.SNRDB < 15 {
		score *= math.Max(0.5, 0.5+0.5*q.SNRDB/15)
	}
	return clamp01(score)
}

func linguisticFactor(text string, words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	score := 1.0
	sentences := textutil.Sentences(text)
	if len(sentences) == 0 {
		sentences = []string{text}
	}
	avg := float64(len(words)) / float64(len(sentences))
	switch {
	case avg > 40:
		score *= 0.7
	case avg < 2 && len(words) > 1:
		score *= 0.8
	}
	if len(words) >= 3 && textutil.UniquenessRatio(words) < 0.5 {
		score *= 0.6
	}
	if textutil.FillerRatio(words) > 0.4 {
		score *= 0.5
	}
	return score
}

// lengthFactor compares speaking rate against the expected band.
func lengthFactor(n int, durationMs int64) float64 {
	if n == 0 {
		return 0
	}
	if durationMs <= 0 {
		return 0.5
	}
	wps := float64(n) / (float64(durationMs) / 1000)
	switch {
	case wps < minWordsPerSecond:
		return clamp01(wps / minWordsPerSecond)
	case wps > maxWordsPerSecond:
		return clamp01(maxWordsPerSecond / wps)
	default:
		return 1
	}
}

func educationalFactor(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	score := 0.6 + 0.1*float64(textutil.AcademicTermCount(words)) - 0.5*textutil.FillerRatio(words)
	return clamp01(score)
}

func repetitionFactor(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	if len(words) < 3 {
		return 1
	}
	u := textutil.UniquenessRatio(words)
	switch {
	case u >= 0.8:
		return 1
	case u >= 0.6:
		return 0.8
	case u >= 0.4:
		return 0.5
	default:
		return 0.2
	}
}

func hallucinationFactor(in Input, n int) float64 {
	if in.Verdict != nil {
		return clamp01(1 - in.Verdict.Confidence)
	}
	score := 1.0
	if in.Stats.IsSilent && n > 0 {
		score = math.Min(score, 0.2)
	}
	if in.ModelConfidence > 0.8 && in.Stats.DBFS < -50 {
		score = math.Min(score, 0.3)
	}
	if in.ModelConfidence < 0.2 && n >= 3 {
		score = math.Min(score, 0.5)
	}
	return score
}

func recommendations(factors map[string]float64, stats audio.Stats) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if !seen[s] && len(out) < maxRecommendations {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, f := range factorOrder {
		v := factors[f]
		switch {
		case f == FactorModel && v < 0.5:
			add("Model confidence is low; re-run the final pass with a larger beam")
		case f == FactorAudio && v < 0.5:
			add("Audio quality is poor; move the microphone closer to the speaker")
		case f == FactorLinguistic && v < 0.5:
			add("Transcript reads poorly; review it manually")
		case f == FactorLength && v < 0.5:
			add("Speaking rate is implausible; check for missing or spurious words")
		case f == FactorEducational && v < 0.4:
			add("Few course terms detected; set an initial prompt for the topic")
		case f == FactorRepetition && v < 0.5:
			add("Transcript is repetitive; verify it against the audio")
		case f == FactorHallucination && v < 0.5:
			add("High hallucination risk; verify it against the audio")
		}
	}
	if stats.DBFS < -40 && stats.SampleCount > 0 {
		add("Input level is low; increase microphone gain")
	}
	return out
}

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Summary is a one-line description used in logs.
func (r Report) Summary() string {
	parts := make([]string, 0, len(factorOrder))
	for _, f := range factorOrder {
		parts = append(parts, fmt.Sprintf("%s=%.2f", f, r.Factors[f]))
	}
	return fmt.Sprintf("%s %.2f reliability=%.2f (%s)", r.LevelLabel, r.Overall, r.Reliability, strings.Join(parts, " "))
}
