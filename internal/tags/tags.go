// Package tags parses speaker-tagged scene prose into ordered speech segments.
//
// Dialogue is delimited as
//
//	[SPEAKER:Name] ... [/SPEAKER]
//	[SPEAKER:Name|whispering] ... [/SPEAKER]
//
// and everything outside a tag belongs to the narrator. Tag names match
// case-insensitively. Balance validation is purely lexical: every open tag
// needs a close, tags never nest, and no tag may span a hard scene break (a
// line holding only "***", "* * *", "---" or "#"). Violations are reported as
// [*TagImbalanceError] and are never auto-corrected.
//
// All functions are pure and safe for concurrent use.
package tags

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/talecast/pkg/types"
)

// DefaultCoverageTolerance is the number of runes of whitespace the parser may
// normalise away before the result is rejected.
const DefaultCoverageTolerance = 32

// ErrCoverageLoss is returned by Parse when the produced segments do not cover
// the stripped prose. It always indicates a parser bug.
var ErrCoverageLoss = errors.New("tags: segment coverage does not match stripped prose")

var (
	tokenRe      = regexp.MustCompile(`(?i)\[SPEAKER:([^\[\]]*)\]|\[/SPEAKER\]`)
	tagPrefixRe  = regexp.MustCompile(`(?i)\[/?SPEAKER\b`)
	sceneBreakRe = regexp.MustCompile(`(?m)^[ \t]*(?:\*[ \t]*\*[ \t]*\*[ \t*]*|-{3,}[ \t]*|#[ \t]*)\r?$`)
)

// token is one lexical tag occurrence, in byte offsets.
type token struct {
	start, end int
	open       bool
	speaker    string
	emotion    string
}

func lex(prose string) []token {
	matches := tokenRe.FindAllStringSubmatchIndex(prose, -1)
	out := make([]token, 0, len(matches))
	for _, m := range matches {
		tok := token{start: m[0], end: m[1]}
		if m[2] >= 0 {
			tok.open = true
			tok.speaker, tok.emotion = splitName(prose[m[2]:m[3]])
		}
		out = append(out, tok)
	}
	return out
}

// splitName separates "Name|emotion" into its trimmed parts.
func splitName(raw string) (name, emotion string) {
	name, emotion, _ = strings.Cut(raw, "|")
	return strings.TrimSpace(name), strings.TrimSpace(emotion)
}

// StripTags removes all tag markup, leaving narration and dialogue text
// untouched. It is idempotent: StripTags(StripTags(x)) == StripTags(x).
func StripTags(prose string) string {
	for {
		next := tokenRe.ReplaceAllString(prose, "")
		if next == prose {
			return next
		}
		prose = next
	}
}

// Result is the output of Parse.
type Result struct {
	// Segments in document order.
	Segments []types.Segment

	// Speakers holds the distinct non-narrator speaker names in order of first
	// appearance.
	Speakers []string
}

// Text concatenates the text of every segment.
func (r *Result) Text() string {
	var b strings.Builder
	for _, s := range r.Segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

// Parser converts tagged prose into segments.
type Parser struct {
	tolerance int
}

// Option configures a Parser.
type Option func(*Parser)

// WithCoverageTolerance sets how many runes of whitespace may be lost between
// the stripped prose and the concatenated segments.
func WithCoverageTolerance(runes int) Option {
	return func(p *Parser) {
		if runes >= 0 {
			p.tolerance = runes
		}
	}
}

// New returns a Parser with the given options applied.
func New(opts ...Option) *Parser {
	p := &Parser{tolerance: DefaultCoverageTolerance}
	for _, o := range opts {
		o(p)
	}
	return p
}

var defaultParser = New()

// Parse parses prose with the default parser.
func Parse(prose string) (*Result, error) {
	return defaultParser.Parse(prose)
}

// Parse validates tag balance and splits prose into segments.
//
// Leading and trailing document whitespace is trimmed. Whitespace-only runs
// between tags are folded into the preceding segment so that the
// concatenated segment text equals the stripped prose.
func (p *Parser) Parse(prose string) (*Result, error) {
	if err := ValidateBalance(prose).Err(); err != nil {
		return nil, err
	}

	var (
		segs    []types.Segment
		current *token
		pos     int
	)
	emit := func(text string, tok *token) {
		if text == "" {
			return
		}
		if strings.TrimSpace(text) == "" {
			if n := len(segs); n > 0 {
				segs[n-1].Text += text
			}
			return
		}
		seg := types.Segment{Speaker: types.NarratorSpeaker, Text: text, Type: types.SegmentNarrator}
		if tok != nil && !strings.EqualFold(tok.speaker, types.NarratorSpeaker) {
			seg.Speaker = tok.speaker
			seg.Type = types.SegmentDialogue
			seg.Emotion = tok.emotion
		} else if tok != nil {
			seg.Emotion = tok.emotion
		}
		if n := len(segs); n > 0 && seg.Type == types.SegmentNarrator && segs[n-1].Type == types.SegmentNarrator && segs[n-1].Emotion == seg.Emotion {
			segs[n-1].Text += seg.Text
			return
		}
		segs = append(segs, seg)
	}

	for _, tok := range lex(prose) {
		emit(prose[pos:tok.start], current)
		pos = tok.end
		if tok.open {
			t := tok
			current = &t
		} else {
			current = nil
		}
	}
	emit(prose[pos:], current)

	// Trim document-level whitespace.
	if n := len(segs); n > 0 {
		segs[0].Text = strings.TrimLeftFunc(segs[0].Text, unicode.IsSpace)
		segs[n-1].Text = strings.TrimRightFunc(segs[n-1].Text, unicode.IsSpace)
	}

	res := &Result{Segments: segs, Speakers: speakersOf(segs)}
	stripped := strings.TrimFunc(StripTags(prose), unicode.IsSpace)
	if err := p.checkCoverage(stripped, res.Text()); err != nil {
		return nil, err
	}
	return res, nil
}

func speakersOf(segs []types.Segment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range segs {
		if s.Type != types.SegmentDialogue || seen[s.Speaker] {
			continue
		}
		seen[s.Speaker] = true
		out = append(out, s.Speaker)
	}
	return out
}

// checkCoverage requires identical non-whitespace content and at most
// p.tolerance runes of whitespace difference.
func (p *Parser) checkCoverage(stripped, joined string) error {
	if removeSpace(stripped) != removeSpace(joined) {
		return fmt.Errorf("%w: non-whitespace text differs", ErrCoverageLoss)
	}
	diff := utf8.RuneCountInString(stripped) - utf8.RuneCountInString(joined)
	if diff < 0 {
		diff = -diff
	}
	if diff > p.tolerance {
		return fmt.Errorf("%w: %d runes lost, tolerance %d", ErrCoverageLoss, diff, p.tolerance)
	}
	return nil
}

func removeSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
