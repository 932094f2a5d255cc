// Package stt defines the contract between the transcription core and
// speech-to-text backends (local whisper.cpp, hosted APIs, mocks).
package stt

import (
	"context"
	"time"
)

// Kind distinguishes on-device inference from hosted APIs.
type Kind int

const (
	KindLocal Kind = iota
	KindRemote
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Priority orders requests in the batch queue.
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityRealtime
)

// String returns the priority label.
func (p Priority) String() string {
	switch p {
	case PriorityBackground:
		return "background"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityRealtime:
		return "realtime"
	default:
		return "unknown"
	}
}

// Params are the decoding parameters for one inference call.
type Params struct {
	BeamSize                  int       `json:"beamSize"`
	BestOf                    int       `json:"bestOf"`
	Temperatures              []float64 `json:"temperatures"`
	CompressionRatioThreshold float64   `json:"compressionRatioThreshold"`
	LogProbThreshold          float64   `json:"logProbThreshold"`
	NoSpeechThreshold         float64   `json:"noSpeechThreshold"`
	ConditionOnPreviousText   bool      `json:"conditionOnPreviousText"`
	WordTimestamps            bool      `json:"wordTimestamps"`
	InitialPrompt             string    `json:"initialPrompt,omitempty"`
	Language                  string    `json:"language,omitempty"`
}

// Temperature returns the first (or only) sampling temperature.
func (p Params) Temperature() float64 {
	if len(p.Temperatures) == 0 {
		return 0
	}
	return p.Temperatures[0]
}

// Clone returns a copy that shares no slices with p.
func (p Params) Clone() Params {
	p.Temperatures = append([]float64(nil), p.Temperatures...)
	return p
}

// Request is one unit of audio to transcribe.
type Request struct {
	SessionID  string
	ChunkIndex int
	// Samples are 16 kHz mono in [-1, 1].
	Samples  []float32
	Params   Params
	Priority Priority
	// Final marks end-of-session passes over the whole buffer.
	Final bool
}

// Segment is a timed piece of a transcript.
type Segment struct {
	StartMs    int64   `json:"startMs"`
	EndMs      int64   `json:"endMs"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is the raw output of a backend before filtering.
type Result struct {
	Text                string        `json:"text"`
	Confidence          float64       `json:"confidence"`
	Language            string        `json:"language,omitempty"`
	LanguageProbability float64       `json:"languageProbability"`
	Backend             string        `json:"backend"`
	SegmentCount        int           `json:"segmentCount"`
	Segments            []Segment     `json:"segments,omitempty"`
	ProcessingTime      time.Duration `json:"processingTime"`
}

// Backend transcribes audio. Implementations must be safe for concurrent use.
type Backend interface {
	Name() string
	Kind() Kind
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// BatchBackend is implemented by backends that can run several requests
// with identical parameters in one call. Results and errors are positional.
type BatchBackend interface {
	Backend
	TranscribeBatch(ctx context.Context, reqs []Request) ([]Result, []error)
}
