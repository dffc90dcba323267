package synth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/MrWong99/talecast/pkg/types"
)

// ErrInvalidDialogueMap is returned when an offset-based dialogue map does not
// fit its prose.
var ErrInvalidDialogueMap = errors.New("synth: invalid dialogue map")

// SegmentSource is where a scene's segments come from. It is a closed set:
// [TagBased] and [OffsetBased] are the only implementations.
type SegmentSource interface {
	segments() ([]types.Segment, error)
}

// Compile-time interface assertions.
var (
	_ SegmentSource = TagBased{}
	_ SegmentSource = OffsetBased{}
)

// TagBased wraps segments already produced by the tag parser.
type TagBased struct {
	Segments []types.Segment
}

func (s TagBased) segments() ([]types.Segment, error) {
	return s.Segments, nil
}

// OffsetBased attributes spans of plain prose to speakers by rune offset.
// Text outside every entry belongs to the narrator.
type OffsetBased struct {
	Text    string
	Entries []types.DialogueMapEntry
}

func (s OffsetBased) segments() ([]types.Segment, error) {
	runes := []rune(s.Text)
	entries := slices.Clone(s.Entries)
	slices.SortStableFunc(entries, func(a, b types.DialogueMapEntry) int { return a.StartOffset - b.StartOffset })

	var (
		segs []types.Segment
		pos  int
	)
	emit := func(text, speaker string) {
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
		if speaker != "" && !strings.EqualFold(speaker, types.NarratorSpeaker) {
			seg.Speaker = speaker
			seg.Type = types.SegmentDialogue
		}
		if n := len(segs); n > 0 && seg.Type == types.SegmentNarrator && segs[n-1].Type == types.SegmentNarrator {
			segs[n-1].Text += text
			return
		}
		segs = append(segs, seg)
	}

	for i, e := range entries {
		speaker := strings.TrimSpace(e.Speaker)
		switch {
		case speaker == "":
			return nil, fmt.Errorf("%w: entry %d has no speaker", ErrInvalidDialogueMap, i)
		case e.StartOffset < 0 || e.EndOffset > len(runes) || e.StartOffset >= e.EndOffset:
			return nil, fmt.Errorf("%w: entry %d range [%d,%d) outside prose of %d runes", ErrInvalidDialogueMap, i, e.StartOffset, e.EndOffset, len(runes))
		case e.StartOffset < pos:
			return nil, fmt.Errorf("%w: entry %d overlaps previous entry ending at %d", ErrInvalidDialogueMap, i, pos)
		}
		emit(string(runes[pos:e.StartOffset]), "")
		emit(string(runes[e.StartOffset:e.EndOffset]), speaker)
		pos = e.EndOffset
	}
	emit(string(runes[pos:]), "")

	if n := len(segs); n > 0 {
		segs[0].Text = strings.TrimLeftFunc(segs[0].Text, unicode.IsSpace)
		segs[n-1].Text = strings.TrimRightFunc(segs[n-1].Text, unicode.IsSpace)
	}
	return segs, nil
}

// Segments resolves src into its ordered segments.
func Segments(src SegmentSource) ([]types.Segment, error) {
	if src == nil {
		return nil, errors.New("synth: nil segment source")
	}
	return src.segments()
}
