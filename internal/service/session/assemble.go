package session

import (
	"sort"
	"strings"

	"ai-lecture-transcriber/internal/models"
	"ai-lecture-transcriber/internal/service/stt"
	"ai-lecture-transcriber/internal/service/textutil"
)

const (
	paragraphGapMs        = 2000
	paragraphMaxSentences = 5
)

// utterancesFromSegments builds one utterance per non-blank segment,
// ordered by start time.
func utterancesFromSegments(segs []stt.Segment) []models.Utterance {
	sorted := append([]stt.Segment(nil), segs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartMs < sorted[j].StartMs })

	out := make([]models.Utterance, 0, len(sorted))
	for _, s := range sorted {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		out = append(out, models.Utterance{
			Index:      len(out),
			StartMs:    s.StartMs,
			EndMs:      s.EndMs,
			Text:       text,
			Confidence: s.Confidence,
		})
	}
	return out
}

// paragraphs groups utterances, starting a new paragraph after a pause of
// paragraphGapMs or once the current one holds paragraphMaxSentences.
func paragraphs(utts []models.Utterance) []models.Paragraph {
	out := []models.Paragraph{}
	var cur *models.Paragraph
	var parts []string
	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = strings.Join(parts, " ")
		out = append(out, *cur)
		cur, parts = nil, nil
	}

	for i, u := range utts {
		if cur != nil && (u.StartMs-utts[i-1].EndMs >= paragraphGapMs || cur.SentenceCount >= paragraphMaxSentences) {
			flush()
		}
		if cur == nil {
			cur = &models.Paragraph{Index: len(out), StartMs: u.StartMs}
		}
		parts = append(parts, u.Text)
		cur.EndMs = u.EndMs
		cur.SentenceCount += max(1, len(textutil.Sentences(u.Text)))
	}
	flush()
	return out
}

// joinUtterances returns the utterance texts separated by spaces.
func joinUtterances(utts []models.Utterance) string {
	parts := make([]string, len(utts))
	for i, u := range utts {
		parts[i] = u.Text
	}
	return strings.Join(parts, " ")
}
