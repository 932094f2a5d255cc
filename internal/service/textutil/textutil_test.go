package textutil

import (
	"reflect"
	"testing"
)

func TestWords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"The professor explained.", []string{"the", "professor", "explained"}},
		{"  um,  uh... OK!  ", []string{"um", "uh", "ok"}},
		{"it's the student's turn", []string{"it's", "the", "student's", "turn"}},
		{"", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Words(tt.in)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Words(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFillerRatio(t *testing.T) {
	if r := FillerRatio(Words("um uh okay so um yeah uh")); r != 1.0 {
		t.Errorf("expected all fillers, got %f", r)
	}
	if r := FillerRatio(Words("The professor explained the concept clearly to the students.")); r != 0 {
		t.Errorf("expected no fillers, got %f", r)
	}
	if r := FillerRatio(nil); r != 0 {
		t.Errorf("expected 0 for empty input, got %f", r)
	}
}

func TestFunctionWordDensity(t *testing.T) {
	words := Words("the cat and the dog")
	if d := FunctionWordDensity(words); d != 0.6 {
		t.Errorf("expected 0.6, got %f", d)
	}
}

func TestUniquenessRatio(t *testing.T) {
	if r := UniquenessRatio(Words("go go go go")); r != 0.25 {
		t.Errorf("expected 0.25, got %f", r)
	}
}

func TestSentences(t *testing.T) {
	got := Sentences("First point. Second point! Is that clear? ")
	if len(got) != 3 {
		t.Fatalf("expected 3 sentences, got %v", got)
	}
	if got[2] != "Is that clear" {
		t.Errorf("unexpected sentence %q", got[2])
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("Thank you, very   much!"); got != "thank you very much" {
		t.Errorf("unexpected %q", got)
	}
}
