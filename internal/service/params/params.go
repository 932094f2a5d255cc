// Package params chooses decoding parameters for each inference call from
// the content type, audio quality, chunk length and latency mode.
package params

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"ai-lecture-transcriber/internal/service/audio"
	"ai-lecture-transcriber/internal/service/stt"
)

// ContentType is the kind of classroom activity being recorded.
type ContentType int

const (
	ContentUnknown ContentType = iota
	ContentLecture
	ContentDiscussion
	ContentQASession
	ContentPresentation
	ContentLabSession
	ContentSeminar
)

// String returns the content type label.
func (c ContentType) String() string {
	switch c {
	case ContentLecture:
		return "lecture"
	case ContentDiscussion:
		return "discussion"
	case ContentQASession:
		return "qa_session"
	case ContentPresentation:
		return "presentation"
	case ContentLabSession:
		return "lab_session"
	case ContentSeminar:
		return "seminar"
	case ContentUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("content(%d)", int(c))
	}
}

// ErrUnknownContentType is returned by ParseContentType.
var ErrUnknownContentType = errors.New("params: unknown content type")

// ParseContentType parses a content type label. Empty and "auto" map to
// ContentUnknown, which leaves detection to the duration heuristic.
func ParseContentType(s string) (ContentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto", "unknown":
		return ContentUnknown, nil
	case "lecture":
		return ContentLecture, nil
	case "discussion":
		return ContentDiscussion, nil
	case "qa_session", "qa":
		return ContentQASession, nil
	case "presentation":
		return ContentPresentation, nil
	case "lab_session", "lab":
		return ContentLabSession, nil
	case "seminar":
		return ContentSeminar, nil
	default:
		return ContentUnknown, fmt.Errorf("%w: %q", ErrUnknownContentType, s)
	}
}

// Quality is the post-enhancement audio quality class.
type Quality int

const (
	QualityHigh Quality = iota
	QualityMedium
	QualityLow
	QualityVeryLow
)

// String returns the quality label.
func (q Quality) String() string {
	switch q {
	case QualityHigh:
		return "high"
	case QualityMedium:
		return "medium"
	case QualityLow:
		return "low"
	case QualityVeryLow:
		return "very_low"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

const (
	maxBeam          = 10
	shortChunkS      = 2.0
	longChunkS       = 30.0
	realtimeMaxBeam  = 3
	realtimeMaxBest  = 2
	finalMinBestOf   = 5
	lectureMinS      = 300.0
	qaSessionMaxS    = 30.0
	maxTemperature   = 1.0
	fallbackTempStep = 0.2
)

// qualityAdjustment shifts a base profile for worse audio.
type qualityAdjustment struct {
	beamMultiplier float64
	tempShift      float64
	thresholdShift float64
	// rtfMultiplier scales the expected real-time factor.
	rtfMultiplier float64
}

var qualityTable = map[Quality]qualityAdjustment{
	QualityHigh:    {beamMultiplier: 1.0, tempShift: 0.0, thresholdShift: 0.0, rtfMultiplier: 1.0},
	QualityMedium:  {beamMultiplier: 1.2, tempShift: 0.0, thresholdShift: 0.1, rtfMultiplier: 1.2},
	QualityLow:     {beamMultiplier: 1.4, tempShift: 0.1, thresholdShift: 0.2, rtfMultiplier: 1.5},
	QualityVeryLow: {beamMultiplier: 1.6, tempShift: 0.2, thresholdShift: 0.3, rtfMultiplier: 2.0},
}

var baseProfiles = map[ContentType]stt.Params{
	ContentLecture: {
		BeamSize: 5, BestOf: 5, Temperatures: []float64{0.0, 0.2, 0.4},
		CompressionRatioThreshold: 2.4, LogProbThreshold: -1.0, NoSpeechThreshold: 0.6,
		ConditionOnPreviousText: true, WordTimestamps: true,
		InitialPrompt: "This is a university lecture.",
	},
	ContentDiscussion: {
		BeamSize: 5, BestOf: 3, Temperatures: []float64{0.0, 0.2},
		CompressionRatioThreshold: 2.4, LogProbThreshold: -1.0, NoSpeechThreshold: 0.5,
		ConditionOnPreviousText: true,
		InitialPrompt:           "This is a classroom discussion between students and a teacher.",
	},
	ContentQASession: {
		BeamSize: 3, BestOf: 3, Temperatures: []float64{0.0},
		CompressionRatioThreshold: 2.2, LogProbThreshold: -0.8, NoSpeechThreshold: 0.5,
		InitialPrompt: "Questions and answers in class.",
	},
	ContentPresentation: {
		BeamSize: 5, BestOf: 5, Temperatures: []float64{0.0, 0.2},
		CompressionRatioThreshold: 2.4, LogProbThreshold: -1.0, NoSpeechThreshold: 0.6,
		ConditionOnPreviousText: true, WordTimestamps: true,
		InitialPrompt: "This is a student presentation.",
	},
	ContentLabSession: {
		BeamSize: 4, BestOf: 3, Temperatures: []float64{0.0, 0.2, 0.4},
		CompressionRatioThreshold: 2.6, LogProbThreshold: -1.2, NoSpeechThreshold: 0.55,
		InitialPrompt: "Instructions during a laboratory session.",
	},
	ContentSeminar: {
		BeamSize: 5, BestOf: 4, Temperatures: []float64{0.0, 0.2},
		CompressionRatioThreshold: 2.4, LogProbThreshold: -1.0, NoSpeechThreshold: 0.6,
		ConditionOnPreviousText: true, WordTimestamps: true,
		InitialPrompt: "This is an academic seminar.",
	},
	ContentUnknown: {
		BeamSize: 5, BestOf: 5, Temperatures: []float64{0.0},
		CompressionRatioThreshold: 2.4, LogProbThreshold: -1.0, NoSpeechThreshold: 0.6,
	},
}

// Optimized is a parameter set with its expected cost.
type Optimized struct {
	Params stt.Params
	// ExpectedRTF is the anticipated processing time over audio time.
	ExpectedRTF float64
}

// Optimizer is stateless and deterministic.
type Optimizer struct {
	language string
}

// New creates an optimizer. language is passed through to every parameter
// set ("" lets the backend detect it).
func New(language string) *Optimizer {
	return &Optimizer{language: language}
}

// Optimize returns decoding parameters for a chunk.
func (o *Optimizer) Optimize(content ContentType, quality Quality, durationS float64, realtime bool) Optimized {
	base, ok := baseProfiles[content]
	if !ok {
		base = baseProfiles[ContentUnknown]
	}
	adj, ok := qualityTable[quality]
	if !ok {
		adj = qualityTable[QualityVeryLow]
	}

	p := base.Clone()
	p.Language = o.language
	p.BeamSize = clampInt(int(math.Round(float64(p.BeamSize)*adj.beamMultiplier)), 1, maxBeam)
	p.Temperatures = shiftTemperatures(p.Temperatures, adj.tempShift)
	p.CompressionRatioThreshold += adj.thresholdShift
	p.LogProbThreshold -= adj.thresholdShift
	p.NoSpeechThreshold = math.Max(0.1, p.NoSpeechThreshold-adj.thresholdShift/2)

	switch {
	case durationS < shortChunkS:
		p.BeamSize = max(1, p.BeamSize-2)
		p.BestOf = max(1, p.BestOf-2)
		p.ConditionOnPreviousText = false
	case durationS > longChunkS:
		p.BeamSize = min(maxBeam, p.BeamSize+2)
		p.ConditionOnPreviousText = true
		p.WordTimestamps = true
		p.Temperatures = fallbackTemperatures(p.Temperature())
	}

	rtf := 0.1 * adj.rtfMultiplier * float64(p.BeamSize) / 5
	if realtime {
		p = applyRealtime(p)
		rtf = math.Min(rtf, 0.1*adj.rtfMultiplier)
	}

	return Optimized{Params: p, ExpectedRTF: rtf}
}

// FinalParams returns the higher-quality parameters used for the
// end-of-session pass over the whole recording.
func (o *Optimizer) FinalParams(content ContentType, quality Quality, durationS float64) stt.Params {
	p := o.Optimize(content, quality, durationS, false).Params
	p.BeamSize = min(maxBeam, p.BeamSize+2)
	p.BestOf = max(p.BestOf, finalMinBestOf)
	p.WordTimestamps = true
	if len(p.Temperatures) < 2 {
		p.Temperatures = fallbackTemperatures(p.Temperature())
	}
	return p
}

func applyRealtime(p stt.Params) stt.Params {
	p.BeamSize = min(p.BeamSize, realtimeMaxBeam)
	p.BestOf = min(p.BestOf, realtimeMaxBest)
	p.WordTimestamps = false
	p.Temperatures = []float64{p.Temperature()}
	return p
}

// DetectContentType guesses the activity from elapsed session audio.
// The thresholds are coarse; callers that know the content type should
// pass it explicitly.
func DetectContentType(durationS float64) ContentType {
	switch {
	case durationS > lectureMinS:
		return ContentLecture
	case durationS < qaSessionMaxS:
		return ContentQASession
	default:
		return ContentDiscussion
	}
}

// ClassifyQuality maps enhanced-audio statistics and the compatibility
// score to a quality class.
func ClassifyQuality(stats audio.Stats, compatibility float64) Quality {
	switch {
	case stats.IsSilent:
		return QualityVeryLow
	case stats.DBFS >= -30 && compatibility >= 0.8:
		return QualityHigh
	case stats.DBFS >= -40 && compatibility >= 0.6:
		return QualityMedium
	case stats.DBFS >= -50:
		return QualityLow
	default:
		return QualityVeryLow
	}
}

func shiftTemperatures(temps []float64, shift float64) []float64 {
	out := make([]float64, len(temps))
	for i, t := range temps {
		out[i] = math.Min(maxTemperature, t+shift)
	}
	if len(out) == 0 {
		out = []float64{math.Min(maxTemperature, shift)}
	}
	return out
}

// fallbackTemperatures returns the increasing temperature schedule starting
// at start, up to 1.0.
func fallbackTemperatures(start float64) []float64 {
	var out []float64
	for t := start; t <= maxTemperature+1e-9; t += fallbackTempStep {
		out = append(out, math.Round(t*10)/10)
	}
	return out
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
