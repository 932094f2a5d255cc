package stt

import (
	"math"
	"strings"
)

// VerboseSegment is one segment of a verbose_json transcription response,
// as returned by whisper.cpp server and OpenAI-compatible APIs.
type VerboseSegment struct {
	ID               int     `json:"id"`
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	Text             string  `json:"text"`
	Temperature      float64 `json:"temperature"`
	AvgLogProb       float64 `json:"avg_logprob"`
	CompressionRatio float64 `json:"compression_ratio"`
	NoSpeechProb     float64 `json:"no_speech_prob"`
}

// VerboseResponse is a verbose_json transcription response.
type VerboseResponse struct {
	Task                string           `json:"task"`
	Language            string           `json:"language"`
	LanguageProbability float64          `json:"detected_language_probability"`
	Duration            float64          `json:"duration"`
	Text                string           `json:"text"`
	Segments            []VerboseSegment `json:"segments"`
}

// DefaultConfidence is used when a backend returns text without a usable
// confidence.
const DefaultConfidence = 0.5

// Result converts the response into a backend Result. Segment confidence is
// exp(avg_logprob) scaled by the probability that the segment holds speech;
// the overall confidence is the duration-weighted mean.
func (v VerboseResponse) Result(backend string) Result {
	res := Result{
		Text:                strings.TrimSpace(v.Text),
		Language:            v.Language,
		LanguageProbability: v.LanguageProbability,
		Backend:             backend,
	}

	var weighted, total float64
	for _, s := range v.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		conf := math.Exp(math.Min(0, s.AvgLogProb)) * (1 - clamp01(s.NoSpeechProb))
		conf = clamp01(conf)
		res.Segments = append(res.Segments, Segment{
			StartMs:    int64(s.Start * 1000),
			EndMs:      int64(s.End * 1000),
			Text:       text,
			Confidence: conf,
		})
		d := math.Max(s.End-s.Start, 0.01)
		weighted += conf * d
		total += d
	}
	res.SegmentCount = len(res.Segments)

	switch {
	case total > 0:
		res.Confidence = weighted / total
	case res.Text != "":
		res.Confidence = DefaultConfidence
	}
	if res.Text == "" && len(res.Segments) > 0 {
		parts := make([]string, len(res.Segments))
		for i, s := range res.Segments {
			parts[i] = s.Text
		}
		res.Text = strings.Join(parts, " ")
	}
	return res
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
