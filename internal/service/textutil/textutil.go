// Package textutil holds the tokenizer and word lists shared by the
// hallucination filter and the confidence analyzer.
package textutil

import (
	"strings"
	"unicode"
)

var primaryFillers = set("um", "umm", "uh", "uhh", "uhm", "er", "erm", "ah", "ahh", "hmm", "hm", "mm", "mhm")

var secondaryFillers = set("like", "yeah", "okay", "ok", "so", "well", "right", "basically", "actually", "literally", "anyway", "alright")

var transitionalFillers = set("now", "then", "just", "kind", "sort", "you", "know")

var articles = set("a", "an", "the")

var conjunctions = set("and", "but", "or", "so", "because", "nor", "yet")

var academicTerms = set(
	"analysis", "answer", "argument", "assignment", "chapter", "concept", "conclusion",
	"definition", "derivative", "equation", "evidence", "example", "exam", "experiment",
	"explain", "explained", "formula", "function", "hypothesis", "lecture", "method",
	"model", "problem", "process", "professor", "proof", "question", "research",
	"semester", "solution", "student", "students", "study", "theorem", "theory",
	"therefore", "variable",
)

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Words lowercases text and splits it into words, dropping punctuation.
// Apostrophes inside words are kept.
func Words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Normalize collapses text to its lowercase words joined by single spaces.
func Normalize(text string) string {
	return strings.Join(Words(text), " ")
}

// IsFiller reports whether w belongs to any filler tier.
func IsFiller(w string) bool {
	if _, ok := primaryFillers[w]; ok {
		return true
	}
	if _, ok := secondaryFillers[w]; ok {
		return true
	}
	_, ok := transitionalFillers[w]
	return ok
}

// IsPrimaryFiller reports whether w is a hesitation sound.
func IsPrimaryFiller(w string) bool {
	_, ok := primaryFillers[w]
	return ok
}

// FillerRatio returns the share of words that are fillers.
func FillerRatio(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	n := 0
	for _, w := range words {
		if IsFiller(w) {
			n++
		}
	}
	return float64(n) / float64(len(words))
}

// FunctionWordDensity returns the share of articles and conjunctions.
func FunctionWordDensity(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	n := 0
	for _, w := range words {
		_, a := articles[w]
		_, c := conjunctions[w]
		if a || c {
			n++
		}
	}
	return float64(n) / float64(len(words))
}

// UniquenessRatio returns distinct words over total words.
func UniquenessRatio(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[w] = struct{}{}
	}
	return float64(len(seen)) / float64(len(words))
}

// AcademicTermCount counts words from the course vocabulary list.
func AcademicTermCount(words []string) int {
	n := 0
	for _, w := range words {
		if _, ok := academicTerms[w]; ok {
			n++
		}
	}
	return n
}

// Sentences splits text on terminal punctuation, dropping empty pieces.
func Sentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
