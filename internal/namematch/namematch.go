// Package namematch scores how likely two character names refer to the same
// character. It is a pure function library shared by speaker reconciliation
// and duplicate-character detection.
//
// Scoring proceeds through tiers, strongest first:
//
//  1. Exact: case-insensitive equality.
//  2. Normalized: equality after lower-casing, stripping punctuation and
//     dropping honorifics and articles ("Captain Mira" == "mira").
//  3. Substring: one normalized name is a whole-word run inside the other
//     ("Mira" inside "Mira Stone").
//  4. Token overlap: shared normalized tokens divided by the larger token
//     count reaches the overlap threshold (default 0.6).
//  5. Phonetic (opt-in): the names share a Double Metaphone code and their
//     Jaro-Winkler similarity reaches the phonetic threshold.
//
// A Matcher is read-only after construction and safe for concurrent use.
package namematch

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	// DefaultTokenOverlapThreshold is the token overlap ratio required by the
	// token overlap tier.
	DefaultTokenOverlapThreshold = 0.6

	// DefaultPhoneticThreshold is the Jaro-Winkler score required by the
	// phonetic tier when it is enabled.
	DefaultPhoneticThreshold = 0.88
)

// Tier identifies which rule produced a match. Lower tiers are stronger.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierNormalized
	TierSubstring
	TierTokenOverlap
	TierPhonetic
)

// String returns the human-readable name of the tier.
func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierNormalized:
		return "normalized"
	case TierSubstring:
		return "substring"
	case TierTokenOverlap:
		return "token_overlap"
	case TierPhonetic:
		return "phonetic"
	default:
		return "none"
	}
}

// Score is the result of comparing two names.
type Score struct {
	Tier Tier

	// Value is the similarity in [0,1]. It is 1 for exact, normalized and
	// substring matches.
	Value float64
}

// Matched reports whether any tier matched.
func (s Score) Matched() bool {
	return s.Tier != TierNone
}

// stronger reports whether s ranks above o.
func (s Score) stronger(o Score) bool {
	if !s.Matched() {
		return false
	}
	if !o.Matched() || s.Tier != o.Tier {
		return !o.Matched() || s.Tier < o.Tier
	}
	return s.Value > o.Value
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithTokenOverlapThreshold sets the minimum token overlap ratio. Default: 0.6.
func WithTokenOverlapThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.overlapThreshold = threshold
	}
}

// WithPhonetic enables the phonetic tier with the given Jaro-Winkler
// threshold. A threshold <= 0 selects [DefaultPhoneticThreshold].
func WithPhonetic(threshold float64) Option {
	return func(m *Matcher) {
		m.phonetic = true
		if threshold > 0 {
			m.phoneticThreshold = threshold
		}
	}
}

// Matcher scores name pairs.
type Matcher struct {
	overlapThreshold  float64
	phonetic          bool
	phoneticThreshold float64
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		overlapThreshold:  DefaultTokenOverlapThreshold,
		phoneticThreshold: DefaultPhoneticThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Score compares a and b.
func (m *Matcher) Score(a, b string) Score {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return Score{}
	}
	if strings.EqualFold(a, b) {
		return Score{Tier: TierExact, Value: 1}
	}

	ta, tb := tokens(a), tokens(b)
	na, nb := strings.Join(ta, " "), strings.Join(tb, " ")
	if na == "" || nb == "" {
		return Score{}
	}
	if na == nb {
		return Score{Tier: TierNormalized, Value: 1}
	}
	if containsWords(na, nb) || containsWords(nb, na) {
		return Score{Tier: TierSubstring, Value: 1}
	}
	if ov := overlap(ta, tb); ov >= m.overlapThreshold {
		return Score{Tier: TierTokenOverlap, Value: ov}
	}
	if m.phonetic && codesOverlap(codesForTokens(ta), codesForTokens(tb)) {
		if jw := bestJWScore(ta, tb, na, nb); jw >= m.phoneticThreshold {
			return Score{Tier: TierPhonetic, Value: jw}
		}
	}
	return Score{}
}

// Match is the outcome of [Matcher.Best].
type Match struct {
	// Index of the winning candidate, or -1.
	Index int

	// Score of the winning candidate.
	Score Score

	// Ambiguous lists every candidate index that tied for the best score when
	// more than one did. Index is -1 in that case.
	Ambiguous []int
}

// Best returns the strongest candidate for name. A tie at the best score is
// reported as ambiguous instead of picking one.
func (m *Matcher) Best(name string, candidates []string) Match {
	best := Match{Index: -1}
	var tied []int
	for i, c := range candidates {
		s := m.Score(name, c)
		switch {
		case s.stronger(best.Score):
			best.Score = s
			tied = []int{i}
		case s.Matched() && s == best.Score:
			tied = append(tied, i)
		}
	}
	switch len(tied) {
	case 0:
	case 1:
		best.Index = tied[0]
	default:
		best.Ambiguous = tied
	}
	return best
}

// Duplicates returns every index pair (i < j) of names that match each other.
func (m *Matcher) Duplicates(names []string) [][2]int {
	var out [][2]int
	for i := range names {
		for j := i + 1; j < len(names); j++ {
			if m.Score(names[i], names[j]).Matched() {
				out = append(out, [2]int{i, j})
			}
		}
	}
	return out
}

// ── Normalization ────────────────────────────────────────────────────────────

// stopwords are honorifics and articles dropped during normalization.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true,
	"mr": true, "mrs": true, "ms": true, "miss": true, "mx": true,
	"dr": true, "doctor": true, "prof": true, "professor": true,
	"sir": true, "dame": true, "lord": true, "lady": true,
	"master": true, "mistress": true, "madam": true, "madame": true,
	"captain": true, "capt": true, "cpt": true,
	"king": true, "queen": true, "prince": true, "princess": true,
	"father": true, "mother": true, "brother": true, "sister": true,
	"aunt": true, "uncle": true, "old": true, "young": true,
	"saint": true, "st": true,
}

// Normalize lower-cases name, strips punctuation and drops honorifics and
// articles. When only stopwords remain, they are kept.
func Normalize(name string) string {
	return strings.Join(tokens(name), " ")
}

func tokens(name string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '\'' || r == '’':
			return -1
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, name)
	all := strings.Fields(cleaned)
	kept := make([]string, 0, len(all))
	for _, t := range all {
		if !stopwords[t] {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return all
	}
	return kept
}

// containsWords reports whether needle appears in hay on word boundaries.
func containsWords(hay, needle string) bool {
	return strings.Contains(" "+hay+" ", " "+needle+" ")
}

// overlap is the number of shared tokens divided by the larger token count.
func overlap(a, b []string) float64 {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	shared := 0
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		if set[t] && !seen[t] {
			shared++
		}
		seen[t] = true
	}
	den := max(len(set), len(seen))
	if den == 0 {
		return 0
	}
	return float64(shared) / float64(den)
}

// ── Phonetic tier ────────────────────────────────────────────────────────────

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the full names,
// their space-stripped forms and every token pair.
func bestJWScore(aTokens, bTokens []string, aFull, bFull string) float64 {
	score := matchr.JaroWinkler(aFull, bFull, false)

	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}

	for _, at := range aTokens {
		for _, bt := range bTokens {
			if s := matchr.JaroWinkler(at, bt, false); s > score {
				score = s
			}
		}
	}
	return score
}
