// Package schema validates outbound transcript events before they are
// published.
package schema

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/models"
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

// ErrUnknownEvent is returned for event types the validator does not know.
var ErrUnknownEvent = errors.New("unknown event type")

type Validator struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Validator {
	return &Validator{logger: logger.With().Str("component", "schema").Logger()}
}

// Validate checks required fields and value ranges. All problems are
// reported together.
func (v *Validator) Validate(event any) error {
	var problems []error
	switch ev := event.(type) {
	case models.TranscriptChunk:
		problems = chunkProblems(&ev)
	case *models.TranscriptChunk:
		problems = chunkProblems(ev)
	case models.TranscriptFinal:
		problems = finalProblems(&ev)
	case *models.TranscriptFinal:
		problems = finalProblems(ev)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, event)
	}
	if len(problems) == 0 {
		return nil
	}
	err := fmt.Errorf("%w: %w", ErrInvalidEvent, errors.Join(problems...))
	v.logger.Warn().Err(err).Msg("Event failed validation")
	return err
}

func chunkProblems(ev *models.TranscriptChunk) []error {
	var p []error
	p = append(p, common(ev.EventID, ev.EventType, models.EventTypeChunk, ev.SessionID, ev.Timestamp, ev.Confidence)...)
	if ev.ChunkIndex < 0 {
		p = append(p, fmt.Errorf("chunkIndex %d is negative", ev.ChunkIndex))
	}
	if ev.Text == "" {
		p = append(p, errors.New("text is empty"))
	}
	if ev.TotalDurationMs < 0 {
		p = append(p, errors.New("totalDurationMs is negative"))
	}
	return p
}

func finalProblems(ev *models.TranscriptFinal) []error {
	var p []error
	p = append(p, common(ev.EventID, ev.EventType, models.EventTypeFinal, ev.SessionID, ev.Timestamp, ev.Confidence)...)
	switch ev.Status {
	case models.FinalCompleted, models.FinalPartial, models.FinalEmpty:
	default:
		p = append(p, fmt.Errorf("status %q is not recognised", ev.Status))
	}
	if ev.TotalChunks < 0 {
		p = append(p, errors.New("totalChunks is negative"))
	}
	return p
}

func common(id, eventType, want, sessionID string, ts int64, confidence float64) []error {
	var p []error
	if id == "" {
		p = append(p, errors.New("eventId is required"))
	}
	if eventType != want {
		p = append(p, fmt.Errorf("eventType %q, want %q", eventType, want))
	}
	if sessionID == "" {
		p = append(p, errors.New("sessionId is required"))
	}
	if ts <= 0 {
		p = append(p, errors.New("timestamp is required"))
	}
	if confidence < 0 || confidence > 1 {
		p = append(p, fmt.Errorf("confidence %.3f outside [0,1]", confidence))
	}
	return p
}
