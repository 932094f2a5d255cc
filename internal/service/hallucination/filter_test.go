package hallucination

import (
	"testing"

	"github.com/rs/zerolog"

	"ai-lecture-transcriber/internal/service/audio"
)

var normalAudio = audio.Stats{MaxLevel: 0.5, RMSLevel: 0.1, DBFS: -20}

var quietAudio = audio.Stats{MaxLevel: 0.002, RMSLevel: 0.001, DBFS: -60}

func newFilter(cfg Config) *Filter {
	return New(cfg, zerolog.Nop(), nil)
}

func TestCheck_FillerDominated(t *testing.T) {
	f := newFilter(DefaultConfig())
	v := f.Check(Input{Text: "um uh okay so um yeah uh", Stats: normalAudio, ModelConfidence: 0.7}, nil)

	if !v.IsHallucination {
		t.Fatalf("expected hallucination, got %+v", v)
	}
	if !v.HasCategory(CategoryFillerDominated) {
		t.Errorf("expected %s in %v", CategoryFillerDominated, v.Categories)
	}
	if len(v.Alternatives) == 0 || len(v.Alternatives) > 3 || v.Alternatives[0] != "" {
		t.Errorf("unexpected alternatives %q", v.Alternatives)
	}
}

func TestCheck_CleanLectureSentence(t *testing.T) {
	f := newFilter(DefaultConfig())
	v := f.Check(Input{
		Text:            "The professor explained the concept clearly to the students.",
		Stats:           normalAudio,
		ModelConfidence: 0.9,
	}, NewContext(10))

	if v.IsHallucination {
		t.Errorf("expected clean sentence to pass, got %+v", v)
	}
	if v.Confidence > 0.6 {
		t.Errorf("expected low score, got %f", v.Confidence)
	}
	if len(v.Alternatives) != 0 {
		t.Errorf("no alternatives expected for accepted text, got %q", v.Alternatives)
	}
}

func TestCheck_Patterns(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Category
	}{
		{"music annotation", "[Music]", CategoryAnnotation},
		{"parenthesised", "(applause)", CategoryAnnotation},
		{"notes only", "♪ ♪", CategoryAnnotation},
		{"sign off", "Thanks for watching and please subscribe!", CategorySignOff},
		{"subtitles", "Subtitles by the Amara.org community", CategorySignOff},
		{"word run", "the the the the", CategoryWordRepetition},
		{"filler only", "um uh", CategoryFillerOnly},
	}
	f := newFilter(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := f.Check(Input{Text: tt.text, Stats: normalAudio, ModelConfidence: 0.7}, nil)
			if !v.HasCategory(tt.want) {
				t.Errorf("expected %s, got %v", tt.want, v.Categories)
			}
			if !v.IsHallucination {
				t.Errorf("expected suppression, score %f", v.Confidence)
			}
		})
	}
}

func TestCheck_ClosingRemarkOnlyInStrictMode(t *testing.T) {
	in := Input{Text: "Thank you for listening.", Stats: normalAudio, ModelConfidence: 0.7}

	v := newFilter(DefaultConfig()).Check(in, nil)
	if !v.HasCategory(CategoryClosingRemark) {
		t.Fatalf("expected closing remark detection, got %v", v.Categories)
	}
	if v.IsHallucination {
		t.Error("closing remark over normal audio should pass the default threshold")
	}

	strict := newFilter(Config{EducationalMode: true, Strict: true})
	if strict.Threshold() != 0.5 {
		t.Errorf("expected strict threshold 0.5, got %f", strict.Threshold())
	}
	if !strict.Check(in, nil).IsHallucination {
		t.Error("strict mode should suppress a closing remark")
	}
}

func TestCheck_AudioAlignment(t *testing.T) {
	f := newFilter(DefaultConfig())

	v := f.Check(Input{Text: "Thank you.", Stats: quietAudio, ModelConfidence: 0.5}, nil)
	if !v.IsHallucination || !v.HasCategory(CategorySilenceMismatch) {
		t.Errorf("expected silence mismatch, got %+v", v)
	}

	long := "in this lecture we will derive the equations of motion from first principles"
	v = f.Check(Input{Text: long, Stats: quietAudio, ModelConfidence: 0.5}, nil)
	if !v.HasCategory(CategoryImplausibleLength) || !v.IsHallucination {
		t.Errorf("expected implausible length, got %+v", v)
	}

	v = f.Check(Input{Text: long, Stats: normalAudio, ModelConfidence: 0.5}, nil)
	if v.IsHallucination {
		t.Errorf("same text over normal audio should pass, got %+v", v)
	}
}

func TestCheck_ConfidenceAlignment(t *testing.T) {
	f := newFilter(DefaultConfig())

	v := f.Check(Input{Text: "entropy increases", Stats: audio.Stats{DBFS: -55, MaxLevel: 0.004}, ModelConfidence: 0.95}, nil)
	if !v.HasCategory(CategoryConfidenceMismatch) || !v.IsHallucination {
		t.Errorf("expected overconfident flag, got %+v", v)
	}

	v = f.Check(Input{Text: "entropy always increases overall", Stats: normalAudio, ModelConfidence: 0.1}, nil)
	if !v.HasCategory(CategoryConfidenceMismatch) || !v.IsHallucination {
		t.Errorf("expected underconfident flag, got %+v", v)
	}
}

func TestCheck_RepetitionStructure(t *testing.T) {
	f := newFilter(DefaultConfig())

	v := f.Check(Input{Text: "thank you thank you thank you", Stats: normalAudio, ModelConfidence: 0.7}, nil)
	if !v.HasCategory(CategoryPhraseRepetition) {
		t.Errorf("expected phrase repetition, got %v", v.Categories)
	}
	if len(v.Alternatives) < 2 || v.Alternatives[1] != "thank you" {
		t.Errorf("expected de-duplicated alternative, got %q", v.Alternatives)
	}

	v = f.Check(Input{Text: "data data science data", Stats: normalAudio, ModelConfidence: 0.7}, nil)
	if !v.HasCategory(CategoryWordDominance) {
		t.Errorf("expected word dominance, got %v", v.Categories)
	}

	v = f.Check(Input{Text: "and the or a but the", Stats: normalAudio, ModelConfidence: 0.7}, nil)
	if !v.HasCategory(CategoryFunctionWordDensity) {
		t.Errorf("expected function word density, got %v", v.Categories)
	}
}

func TestCheck_RepeatedTranscript(t *testing.T) {
	f := newFilter(DefaultConfig())
	hist := NewContext(10)
	in := Input{Text: "Let us move on to the next slide.", Stats: normalAudio, ModelConfidence: 0.9}

	if f.Check(in, hist).IsHallucination {
		t.Fatal("first occurrence should pass")
	}
	hist.Add(in.Text)

	v := f.Check(Input{Text: "let us move on to the next slide", Stats: normalAudio, ModelConfidence: 0.9}, hist)
	if !v.IsHallucination || !v.HasCategory(CategoryRepeatedTranscript) {
		t.Errorf("expected repeated transcript, got %+v", v)
	}

	hist.Reset()
	if f.Check(in, hist).IsHallucination {
		t.Error("reset context should forget history")
	}

	off := newFilter(Config{EducationalMode: false})
	hist.Add(in.Text)
	if off.Check(in, hist).HasCategory(CategoryRepeatedTranscript) {
		t.Error("repetition across chunks is an educational-mode check")
	}
}

func TestCheck_EmptyText(t *testing.T) {
	v := newFilter(DefaultConfig()).Check(Input{Text: "  ", Stats: quietAudio}, nil)
	if v.IsHallucination || v.Confidence != 0 || len(v.Categories) != 0 {
		t.Errorf("empty text should produce an empty verdict, got %+v", v)
	}
}

func TestContext_Ring(t *testing.T) {
	c := NewContext(3)
	for _, s := range []string{"one", "two", "three", "four"} {
		c.Add(s)
	}
	if c.Len() != 3 {
		t.Errorf("expected 3 entries, got %d", c.Len())
	}
	if c.Contains("one") {
		t.Error("oldest entry should be evicted")
	}
	if !c.Contains("Four!") {
		t.Error("expected normalized match")
	}
	c.Add("   ")
	if c.Len() != 3 || !c.Contains("two") {
		t.Error("blank input should be ignored")
	}
}

func TestDedupe(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{[]string{"um", "the", "the", "answer"}, "the answer"},
		{[]string{"go", "on", "go", "on", "go", "on"}, "go on"},
		{[]string{"uh", "um"}, ""},
	}
	for _, tt := range tests {
		if got := dedupe(tt.in); got != tt.want {
			t.Errorf("dedupe(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
