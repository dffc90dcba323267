package tags

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// IssueKind classifies a balance violation.
type IssueKind int

const (
	// IssueUnclosed is an open tag with no matching close tag.
	IssueUnclosed IssueKind = iota

	// IssueUnopened is a close tag with no open tag before it.
	IssueUnopened

	// IssueNested is an open tag inside another open tag.
	IssueNested

	// IssueSpansBreak is a tag pair with a hard scene break between them.
	IssueSpansBreak

	// IssueEmptySpeaker is an open tag without a speaker name.
	IssueEmptySpeaker

	// IssueMalformed is tag-like markup that is not a valid tag.
	IssueMalformed
)

// String returns the human-readable name of the issue kind.
func (k IssueKind) String() string {
	switch k {
	case IssueUnclosed:
		return "unclosed tag"
	case IssueUnopened:
		return "close without open"
	case IssueNested:
		return "nested tag"
	case IssueSpansBreak:
		return "tag spans scene break"
	case IssueEmptySpeaker:
		return "empty speaker"
	case IssueMalformed:
		return "malformed tag"
	default:
		return "unknown"
	}
}

// Issue is one balance violation.
type Issue struct {
	Kind IssueKind

	// Offset is the rune offset of the offending tag in the source prose.
	Offset int

	// Speaker is the speaker named by the offending tag, if any.
	Speaker string
}

func (i Issue) String() string {
	if i.Speaker != "" {
		return fmt.Sprintf("%s at %d (%s)", i.Kind, i.Offset, i.Speaker)
	}
	return fmt.Sprintf("%s at %d", i.Kind, i.Offset)
}

// ValidationResult is the outcome of ValidateBalance.
type ValidationResult struct {
	Issues []Issue
}

// Valid reports whether no issues were found.
func (r ValidationResult) Valid() bool {
	return len(r.Issues) == 0
}

// Err returns a [*TagImbalanceError] describing the issues, or nil.
func (r ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	return &TagImbalanceError{Issues: r.Issues}
}

// TagImbalanceError reports malformed prose structure. It is fatal to the
// pipeline and is never retried automatically.
type TagImbalanceError struct {
	Issues []Issue
}

func (e *TagImbalanceError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.String()
	}
	return "tags: imbalanced speaker tags: " + strings.Join(parts, "; ")
}

// ValidateBalance checks the tag structure of prose without interpreting it.
func ValidateBalance(prose string) ValidationResult {
	var (
		res    ValidationResult
		open   *token
		runeAt = func(byteOff int) int { return utf8.RuneCountInString(prose[:byteOff]) }
		breaks = sceneBreakRe.FindAllStringIndex(prose, -1)
		toks   = lex(prose)
	)
	add := func(kind IssueKind, tok token) {
		res.Issues = append(res.Issues, Issue{Kind: kind, Offset: runeAt(tok.start), Speaker: tok.speaker})
	}

	for _, tok := range toks {
		if tok.open {
			if tok.speaker == "" {
				add(IssueEmptySpeaker, tok)
			}
			if open != nil {
				add(IssueNested, tok)
				continue
			}
			t := tok
			open = &t
			continue
		}
		if open == nil {
			add(IssueUnopened, tok)
			continue
		}
		if spansBreak(breaks, open.end, tok.start) {
			add(IssueSpansBreak, *open)
		}
		open = nil
	}
	if open != nil {
		add(IssueUnclosed, *open)
	}

	// Tag-like markup that the lexer did not accept.
	for _, loc := range tagPrefixRe.FindAllStringIndex(prose, -1) {
		if !coveredBy(toks, loc[0]) {
			res.Issues = append(res.Issues, Issue{Kind: IssueMalformed, Offset: runeAt(loc[0])})
		}
	}
	return res
}

func spansBreak(breaks [][]int, from, to int) bool {
	for _, b := range breaks {
		if b[0] >= from && b[1] <= to {
			return true
		}
	}
	return false
}

func coveredBy(toks []token, off int) bool {
	for _, t := range toks {
		if t.start == off {
			return true
		}
	}
	return false
}
