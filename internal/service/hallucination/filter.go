// Package hallucination decides whether a transcript is spurious text
// produced without matching speech in the audio.
package hallucination

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/observability/metrics"
	"ai-lecture-transcriber/internal/service/audio"
	"ai-lecture-transcriber/internal/service/textutil"
)

// Category labels a detection.
type Category string

const (
	CategoryFillerOnly          Category = "filler_only"
	CategorySignOff             Category = "social_media_signoff"
	CategoryAnnotation          Category = "non_speech_annotation"
	CategoryWordRepetition      Category = "word_repetition"
	CategoryClosingRemark       Category = "closing_remark"
	CategorySilenceMismatch     Category = "silence_mismatch"
	CategoryImplausibleLength   Category = "implausible_length"
	CategoryFillerDominated     Category = "filler_dominated"
	CategoryRepeatedTranscript  Category = "repeated_transcript"
	CategoryConfidenceMismatch  Category = "confidence_mismatch"
	CategoryWordDominance       Category = "word_dominance"
	CategoryPhraseRepetition    Category = "phrase_repetition"
	CategoryFunctionWordDensity Category = "function_word_density"
)

// Layer names, used as LayerScores keys.
const (
	LayerPattern     = "pattern"
	LayerAudio       = "audio_alignment"
	LayerEducational = "educational_context"
	LayerConfidence  = "confidence_alignment"
	LayerRepetition  = "repetition_structure"
)

// NoClearSpeech is offered as an alternative for suppressed transcripts.
const NoClearSpeech = "[no clear speech]"

const (
	defaultThreshold = 0.6
	strictThreshold  = 0.5
	quietDBFS        = -50.0
	maxAlternatives  = 3
)

var (
	signOffRe = regexp.MustCompile(`(?i)\b(thanks? (you )?(so much )?for watching|please (like and )?subscribe|like and subscribe|subscribe to (my|our|the) channel|see you in the next (video|one)|don'?t forget to (like|subscribe)|hit the (bell|like button)|subtitles? by|captions? by|transcribed by)\b`)

	annotationRe = regexp.MustCompile(`^[\s♪♫]*([\[(][^\])]*[\])][\s♪♫.]*)+$|^[\s♪♫.]+$`)

	closingRe = regexp.MustCompile(`(?i)^\s*(thank you( (so|very) much)?( for (listening|your attention))?( everyone| all)?|thanks( (everyone|all|for listening))?|bye( bye)?|goodbye|see you (next time|later|soon|tomorrow))[\s.!]*$`)
)

// suspiciousShort are phrases a speech model commonly emits for silence.
var suspiciousShort = map[string]struct{}{
	"thank you": {}, "thanks": {}, "thank you very much": {}, "bye": {}, "bye bye": {},
	"okay": {}, "ok": {}, "you": {}, "so": {}, "yeah": {}, "hmm": {}, "the end": {},
	"subscribe": {}, "oh": {}, "uh": {}, "um": {},
}

// Config holds filter settings.
type Config struct {
	// EducationalMode enables the filler-ratio and cross-chunk repetition checks.
	EducationalMode bool
	// Strict lowers the suppression threshold.
	Strict bool
}

// DefaultConfig returns educational mode without strict filtering.
func DefaultConfig() Config {
	return Config{EducationalMode: true}
}

// Input is what the filter inspects.
type Input struct {
	Text            string
	Stats           audio.Stats
	ModelConfidence float64
}

// Verdict is the filter decision.
type Verdict struct {
	IsHallucination bool               `json:"isHallucination"`
	Confidence      float64            `json:"confidenceScore"`
	Categories      []Category         `json:"detectedCategories,omitempty"`
	Reasons         []string           `json:"reasons,omitempty"`
	Alternatives    []string           `json:"alternatives,omitempty"`
	LayerScores     map[string]float64 `json:"layerScores,omitempty"`
}

// HasCategory reports whether c was detected.
func (v Verdict) HasCategory(c Category) bool {
	for _, got := range v.Categories {
		if got == c {
			return true
		}
	}
	return false
}

// CategoryLabels returns the categories as strings.
func (v Verdict) CategoryLabels() []string {
	out := make([]string, len(v.Categories))
	for i, c := range v.Categories {
		out[i] = string(c)
	}
	return out
}

// Filter is stateless; session history is passed in as a *Context.
type Filter struct {
	cfg       Config
	threshold float64
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// New creates a filter.
func New(cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Filter {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	threshold := defaultThreshold
	if cfg.Strict {
		threshold = strictThreshold
	}
	return &Filter{
		cfg:       cfg,
		threshold: threshold,
		logger:    logger.With().Str("component", "hallucination_filter").Logger(),
		metrics:   m,
	}
}

// Threshold returns the suppression threshold in use.
func (f *Filter) Threshold() float64 { return f.threshold }

// detection is one layer finding.
type detection struct {
	layer    string
	category Category
	score    float64
	reason   string
}

// Check evaluates in against all layers. hist may be nil. Check does not
// modify hist; callers add accepted transcripts themselves.
func (f *Filter) Check(in Input, hist *Context) Verdict {
	words := textutil.Words(in.Text)
	v := Verdict{LayerScores: map[string]float64{
		LayerPattern: 0, LayerAudio: 0, LayerEducational: 0, LayerConfidence: 0, LayerRepetition: 0,
	}}
	if strings.TrimSpace(in.Text) == "" {
		return v
	}

	var found []detection
	found = append(found, patternLayer(in.Text, words)...)
	found = append(found, audioLayer(words, in.Stats)...)
	if f.cfg.EducationalMode {
		found = append(found, educationalLayer(in.Text, words, hist)...)
	}
	found = append(found, confidenceLayer(words, in)...)
	found = append(found, repetitionLayer(words)...)

	seen := map[Category]bool{}
	for _, d := range found {
		if d.score > v.LayerScores[d.layer] {
			v.LayerScores[d.layer] = d.score
		}
		if d.score > v.Confidence {
			v.Confidence = d.score
		}
		if !seen[d.category] {
			seen[d.category] = true
			v.Categories = append(v.Categories, d.category)
		}
		v.Reasons = append(v.Reasons, d.reason)
	}
	sort.Slice(v.Categories, func(i, j int) bool { return v.Categories[i] < v.Categories[j] })

	v.IsHallucination = v.Confidence > f.threshold
	if v.IsHallucination {
		v.Alternatives = alternatives(words)
		f.metrics.RecordHallucination(v.CategoryLabels())
		f.logger.Debug().
			Str("text", in.Text).
			Float64("score", v.Confidence).
			Strs("categories", v.CategoryLabels()).
			Msg("Transcript flagged as hallucination")
	}
	return v
}

func patternLayer(text string, words []string) []detection {
	var out []detection
	if annotationRe.MatchString(text) {
		out = append(out, detection{LayerPattern, CategoryAnnotation, 0.9, "transcript is a non-speech annotation"})
	}
	if len(words) > 0 && textutil.FillerRatio(words) == 1 {
		out = append(out, detection{LayerPattern, CategoryFillerOnly, 0.9, "transcript contains only filler words"})
	}
	if signOffRe.MatchString(text) {
		out = append(out, detection{LayerPattern, CategorySignOff, 0.95, "transcript contains a video sign-off phrase"})
	}
	if closingRe.MatchString(text) {
		out = append(out, detection{LayerPattern, CategoryClosingRemark, 0.55, "transcript is a stock closing remark"})
	}
	if run := longestRun(words); run >= 3 {
		out = append(out, detection{LayerPattern, CategoryWordRepetition, 0.75,
			fmt.Sprintf("single word repeated %d times in a row", run)})
	}
	return out
}

func audioLayer(words []string, stats audio.Stats) []detection {
	quiet := stats.DBFS < quietDBFS
	if !quiet && !stats.IsSilent {
		return nil
	}
	var out []detection
	if _, ok := suspiciousShort[strings.Join(words, " ")]; ok {
		out = append(out, detection{LayerAudio, CategorySilenceMismatch, 0.9,
			fmt.Sprintf("common silence phrase from quiet audio (%.1f dBFS)", stats.DBFS)})
	} else if stats.IsSilent && len(words) > 0 {
		out = append(out, detection{LayerAudio, CategorySilenceMismatch, 0.7, "text produced from silent audio"})
	}
	if quiet && len(words) >= 8 {
		out = append(out, detection{LayerAudio, CategoryImplausibleLength, 0.8,
			fmt.Sprintf("%d words from very quiet audio", len(words))})
	}
	return out
}

func educationalLayer(text string, words []string, hist *Context) []detection {
	var out []detection
	if len(words) >= 3 {
		if ratio := textutil.FillerRatio(words); ratio > 0.7 {
			score := 0.7 + 0.3*(ratio-0.7)/0.3
			out = append(out, detection{LayerEducational, CategoryFillerDominated, score,
				fmt.Sprintf("filler ratio %.0f%%", ratio*100)})
		}
	}
	if hist != nil && hist.Contains(text) {
		out = append(out, detection{LayerEducational, CategoryRepeatedTranscript, 0.7, "identical to a recent transcript"})
	}
	return out
}

func confidenceLayer(words []string, in Input) []detection {
	var out []detection
	if in.ModelConfidence > 0.8 && in.Stats.DBFS < quietDBFS {
		out = append(out, detection{LayerConfidence, CategoryConfidenceMismatch, 0.75, "model too confident for the audio level"})
	}
	if in.ModelConfidence < 0.2 && len(words) >= 3 {
		out = append(out, detection{LayerConfidence, CategoryConfidenceMismatch, 0.65, "model too uncertain for a long transcript"})
	}
	return out
}

func repetitionLayer(words []string) []detection {
	var out []detection
	n := len(words)
	if n >= 3 {
		counts := map[string]int{}
		top := 0
		for _, w := range words {
			counts[w]++
			top = max(top, counts[w])
		}
		if share := float64(top) / float64(n); share > 0.5 {
			out = append(out, detection{LayerRepetition, CategoryWordDominance, 0.5 + 0.4*share,
				fmt.Sprintf("one word is %.0f%% of the transcript", share*100)})
		}
	}
	if n >= 4 {
		counts := map[string]int{}
		top := 0
		for i := 0; i+1 < n; i++ {
			k := words[i] + " " + words[i+1]
			counts[k]++
			top = max(top, counts[k])
		}
		if share := float64(top) / float64(n-1); top > 1 && share > 0.4 {
			out = append(out, detection{LayerRepetition, CategoryPhraseRepetition, 0.7,
				fmt.Sprintf("one phrase fills %.0f%% of positions", share*100)})
		}
	}
	if n >= 3 {
		if d := textutil.FunctionWordDensity(words); d > 0.4 {
			out = append(out, detection{LayerRepetition, CategoryFunctionWordDensity, 0.65,
				fmt.Sprintf("articles and conjunctions are %.0f%% of words", d*100)})
		}
	}
	return out
}

func longestRun(words []string) int {
	best, run := 0, 0
	for i, w := range words {
		if i > 0 && w == words[i-1] {
			run++
		} else {
			run = 1
		}
		best = max(best, run)
	}
	return best
}

// alternatives returns replacement candidates for a suppressed transcript.
func alternatives(words []string) []string {
	out := []string{""}
	if d := dedupe(words); d != "" {
		out = append(out, d)
	}
	out = append(out, NoClearSpeech)
	if len(out) > maxAlternatives {
		out = out[:maxAlternatives]
	}
	return out
}

// dedupe drops hesitation sounds and collapses consecutive repeated words and
// two-word phrases.
func dedupe(words []string) string {
	var kept []string
	for _, w := range words {
		if textutil.IsPrimaryFiller(w) {
			continue
		}
		if len(kept) > 0 && kept[len(kept)-1] == w {
			continue
		}
		kept = append(kept, w)
	}
	var out []string
	for i := 0; i < len(kept); i++ {
		if n := len(out); n >= 2 && i+1 < len(kept) && out[n-2] == kept[i] && out[n-1] == kept[i+1] {
			i++
			continue
		}
		out = append(out, kept[i])
	}
	return strings.Join(out, " ")
}
