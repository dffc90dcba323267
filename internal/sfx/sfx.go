// Package sfx finds sound-effect cues in scene segments.
//
// A [Detector] looks at the ordered segments of a scene and returns the cues
// that should play under them. [KeywordDetector] matches a fixed lexicon of
// word stems and needs no network. [LLMDetector] asks a language model and
// falls back to another detector when the model is unavailable or answers
// with something unusable.
package sfx

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/MrWong99/talecast/pkg/types"
)

// Cue is one sound effect anchored to a segment.
type Cue struct {
	// Name is the effect identifier, e.g. "door_creak".
	Name string `json:"name"`

	// SegmentIndex is the index of the segment the cue belongs to.
	SegmentIndex int `json:"segment"`

	// Keyword is the word that triggered the cue, when known.
	Keyword string `json:"keyword,omitempty"`
}

// Detector finds sound-effect cues in a scene.
type Detector interface {
	// Detect returns cues ordered by segment index. A scene without effects
	// yields an empty slice and a nil error.
	Detect(ctx context.Context, segments []types.Segment) ([]Cue, error)
}

// DefaultLexicon maps word stems to effect names.
var DefaultLexicon = map[string]string{
	"creak":     "door_creak",
	"knock":     "door_knock",
	"slam":      "door_slam",
	"thunder":   "thunder",
	"rain":      "rain",
	"wind":      "wind",
	"footstep":  "footsteps",
	"gunshot":   "gunshot",
	"scream":    "scream",
	"howl":      "wolf_howl",
	"bell":      "bell",
	"tick":      "clock_tick",
	"crackl":    "fire_crackle",
	"shatter":   "glass_break",
	"gallop":    "horse_gallop",
	"clash":     "sword_clash",
	"explosion": "explosion",
	"wave":      "waves",
}

// suffixes are the inflections accepted after a stem.
var suffixes = []string{"", "s", "es", "d", "ed", "ing", "ings", "y", "e", "ous"}

// KeywordDetector matches word stems against a lexicon. It is pure and safe
// for concurrent use.
type KeywordDetector struct {
	lexicon map[string]string
}

var _ Detector = (*KeywordDetector)(nil)

// NewKeywordDetector returns a detector for lexicon (stem → effect name). A
// nil lexicon uses [DefaultLexicon].
func NewKeywordDetector(lexicon map[string]string) *KeywordDetector {
	if lexicon == nil {
		lexicon = DefaultLexicon
	}
	lex := make(map[string]string, len(lexicon))
	for stem, name := range lexicon {
		lex[strings.ToLower(strings.TrimSpace(stem))] = name
	}
	return &KeywordDetector{lexicon: lex}
}

// Detect implements [Detector]. Each effect is reported at most once per
// segment, at its first trigger word.
func (d *KeywordDetector) Detect(_ context.Context, segments []types.Segment) ([]Cue, error) {
	cues := []Cue{}
	for i, seg := range segments {
		seen := make(map[string]bool)
		for _, word := range words(seg.Text) {
			name, ok := d.lookup(word)
			if !ok || seen[name] {
				continue
			}
			seen[name] = true
			cues = append(cues, Cue{Name: name, SegmentIndex: i, Keyword: word})
		}
	}
	return cues, nil
}

func (d *KeywordDetector) lookup(word string) (string, bool) {
	for _, suf := range suffixes {
		stem, ok := strings.CutSuffix(word, suf)
		if !ok || stem == "" {
			continue
		}
		if name, ok := d.lexicon[stem]; ok {
			return name, true
		}
	}
	return "", false
}

// Names returns the distinct effect names of the lexicon, sorted.
func (d *KeywordDetector) Names() []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range d.lexicon {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// words splits text into lowercase words, dropping punctuation.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}
