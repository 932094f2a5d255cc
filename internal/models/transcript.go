// Package models defines the results returned to callers and the events
// published downstream.
package models

import "ai-lecture-transcriber/internal/service/audio"

// Chunk statuses.
const (
	StatusProcessed = "processed"
	StatusError     = "error"
)

// Final statuses.
const (
	FinalCompleted = "completed"
	// FinalPartial means the final pass failed and the transcript was
	// salvaged from per-chunk results.
	FinalPartial = "partial"
	FinalEmpty   = "empty"
)

// Event types.
const (
	EventTypeChunk = "transcript.chunk"
	EventTypeFinal = "transcript.final"
)

// ChunkResult is returned for every pushed chunk.
type ChunkResult struct {
	SessionID       string      `json:"sessionId"`
	ChunkIndex      int         `json:"chunkIndex"`
	BytesProcessed  int         `json:"bytesProcessed"`
	AudioStats      audio.Stats `json:"audioStats"`
	Transcript      string      `json:"transcript"`
	Confidence      float64     `json:"confidence"`
	ConfidenceLevel string      `json:"confidenceLevel,omitempty"`
	TotalDurationMs int64       `json:"totalDurationMs"`
	Status          string      `json:"status"`
	Success         bool        `json:"success"`
	Reason          string      `json:"reason,omitempty"`
	Backend         string      `json:"backend,omitempty"`
	FallbackUsed    bool        `json:"fallbackUsed"`
	FallbackReason  string      `json:"fallbackReason,omitempty"`
	Error           string      `json:"error,omitempty"`
	ProcessingMs    int64       `json:"processingMs"`
}

// Paragraph groups consecutive segments of the final transcript.
type Paragraph struct {
	Index         int    `json:"index"`
	StartMs       int64  `json:"startMs"`
	EndMs         int64  `json:"endMs"`
	Text          string `json:"text"`
	SentenceCount int    `json:"sentenceCount"`
}

// Utterance is one timed piece of the final transcript.
type Utterance struct {
	Index      int     `json:"index"`
	StartMs    int64   `json:"startMs"`
	EndMs      int64   `json:"endMs"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// FinalResult is returned when a session is stopped.
type FinalResult struct {
	SessionID       string      `json:"sessionId"`
	Status          string      `json:"status"`
	FinalTranscript string      `json:"finalTranscript"`
	Confidence      float64     `json:"confidence"`
	ConfidenceLevel string      `json:"confidenceLevel,omitempty"`
	TotalChunks     int         `json:"totalChunks"`
	TotalDurationMs int64       `json:"totalDurationMs"`
	Paragraphs      []Paragraph `json:"paragraphs"`
	Utterances      []Utterance `json:"utterances"`
	AudioStats      audio.Stats `json:"audioStats"`
	Backend         string      `json:"backend,omitempty"`
	Reason          string      `json:"reason,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// TranscriptChunk is published for every non-empty chunk transcript.
type TranscriptChunk struct {
	EventID         string  `json:"eventId"`
	EventType       string  `json:"eventType"`
	SessionID       string  `json:"sessionId"`
	ClientID        string  `json:"clientId,omitempty"`
	Timestamp       int64   `json:"timestamp"`
	ChunkIndex      int     `json:"chunkIndex"`
	Text            string  `json:"text"`
	Confidence      float64 `json:"confidence"`
	TotalDurationMs int64   `json:"totalDurationMs"`
	Backend         string  `json:"backend,omitempty"`
	FallbackUsed    bool    `json:"fallbackUsed"`
}

// TranscriptFinal is published once per stopped session.
type TranscriptFinal struct {
	EventID         string      `json:"eventId"`
	EventType       string      `json:"eventType"`
	SessionID       string      `json:"sessionId"`
	ClientID        string      `json:"clientId,omitempty"`
	Timestamp       int64       `json:"timestamp"`
	Status          string      `json:"status"`
	Text            string      `json:"text"`
	Confidence      float64     `json:"confidence"`
	TotalChunks     int         `json:"totalChunks"`
	TotalDurationMs int64       `json:"totalDurationMs"`
	Paragraphs      []Paragraph `json:"paragraphs,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// Update is delivered to session subscribers. Exactly one of Chunk and
// Final is set.
type Update struct {
	Chunk *TranscriptChunk `json:"chunk,omitempty"`
	Final *TranscriptFinal `json:"final,omitempty"`
}
