package voice

import (
	"context"
	"slices"
	"strings"

	"github.com/MrWong99/talecast/pkg/types"
)

// Request is the input to a [Strategy].
type Request struct {
	// Characters need a voice. They arrive in cast order.
	Characters []types.Character

	// Catalog holds the selectable voices. The narrator voice is never in it.
	Catalog []types.VoiceProfile

	// InUse maps character ID → voice ID for assignments that stay in place.
	InUse map[string]string

	// Story is the scene context.
	Story types.StoryContext
}

// Strategy chooses voices for characters. Implementations return character ID
// → voice ID for every requested character and must be deterministic for the
// same request.
type Strategy interface {
	Choose(ctx context.Context, req Request) (map[string]string, error)
}

// ── Heuristic ────────────────────────────────────────────────────────────────

// Compile-time interface assertions.
var (
	_ Strategy = Heuristic{}
	_ Strategy = (*Pinned)(nil)
)

// Heuristic scores catalog voices against each character's gender and age,
// gives prominent characters first pick and prefers voices tagged with the
// story genre. Voices already in use are skipped while unused ones remain;
// once the catalog is exhausted the least-used voice is shared.
type Heuristic struct{}

// Choose implements [Strategy].
func (Heuristic) Choose(_ context.Context, req Request) (map[string]string, error) {
	usage := make(map[string]int, len(req.Catalog))
	for _, v := range req.InUse {
		usage[v]++
	}

	catalog := slices.Clone(req.Catalog)
	slices.SortFunc(catalog, func(a, b types.VoiceProfile) int { return strings.Compare(a.ID, b.ID) })

	out := make(map[string]string, len(req.Characters))
	for _, c := range castOrder(req.Characters) {
		best, bestScore, bestUse := "", 0, 0
		for _, v := range catalog {
			s := score(c, v, req.Story)
			use := usage[v.ID]
			if best == "" || use < bestUse || (use == bestUse && s > bestScore) {
				best, bestScore, bestUse = v.ID, s, use
			}
		}
		if best == "" {
			continue
		}
		out[c.ID] = best
		usage[best]++
	}
	return out, nil
}

// score rates how well voice v suits character c.
func score(c types.Character, v types.VoiceProfile, story types.StoryContext) int {
	s := 0
	if g, vg := normGender(c.Gender), normGender(v.Attr("gender")); g != "" && vg != "" {
		switch {
		case g == vg:
			s += 4
		case vg == "neutral":
			s++
		default:
			s -= 4
		}
	}
	if a, va := ageBucket(c.AgeGroup), ageBucket(v.Attr("age")); a != "" && va != "" {
		if a == va {
			s += 2
		} else {
			s--
		}
	}
	if genre := strings.ToLower(story.Genre); genre != "" {
		for _, key := range []string{"genre", "use_case", "description", "tone"} {
			if strings.Contains(v.Attr(key), genre) {
				s++
				break
			}
		}
	}
	// Protagonists favour expressive voices.
	if c.Role == types.RoleProtagonist && (expressive[v.Attr("tone")] || expressive[v.Attr("use_case")]) {
		s++
	}
	return s
}

var expressive = map[string]bool{
	"expressive":      true,
	"storyteller":     true,
	"characters":      true,
	"narrative_story": true,
}

func normGender(g string) string {
	switch strings.ToLower(strings.TrimSpace(g)) {
	case "female", "f", "woman", "girl":
		return "female"
	case "male", "m", "man", "boy":
		return "male"
	case "neutral", "non-binary", "nonbinary", "androgynous":
		return "neutral"
	}
	return ""
}

func ageBucket(a string) string {
	switch strings.ToLower(strings.TrimSpace(a)) {
	case "child", "kid", "teen", "young", "youth":
		return "young"
	case "adult", "middle_aged", "middle aged", "middle-aged":
		return "adult"
	case "elder", "old", "senior", "elderly":
		return "old"
	}
	return ""
}

// ── Pinned ───────────────────────────────────────────────────────────────────

// Pinned applies operator-chosen voices by character name, then delegates the
// rest to Next. Names match case-insensitively. Pins naming a voice outside
// the catalog are ignored.
type Pinned struct {
	Pins map[string]string
	Next Strategy
}

// NewPinned returns a Pinned strategy falling back to next. A nil next selects
// [Heuristic].
func NewPinned(pins map[string]string, next Strategy) *Pinned {
	if next == nil {
		next = Heuristic{}
	}
	lower := make(map[string]string, len(pins))
	for name, v := range pins {
		lower[strings.ToLower(strings.TrimSpace(name))] = v
	}
	return &Pinned{Pins: lower, Next: next}
}

// Choose implements [Strategy].
func (p *Pinned) Choose(ctx context.Context, req Request) (map[string]string, error) {
	offered := make(map[string]bool, len(req.Catalog))
	for _, v := range req.Catalog {
		offered[v.ID] = true
	}

	out := make(map[string]string, len(req.Characters))
	inUse := make(map[string]string, len(req.InUse)+len(req.Characters))
	for k, v := range req.InUse {
		inUse[k] = v
	}
	var rest []types.Character
	for _, c := range req.Characters {
		if v, ok := p.Pins[strings.ToLower(c.Name)]; ok && offered[v] {
			out[c.ID] = v
			inUse[c.ID] = v
			continue
		}
		rest = append(rest, c)
	}
	if len(rest) == 0 {
		return out, nil
	}

	next, err := p.Next.Choose(ctx, Request{Characters: rest, Catalog: req.Catalog, InUse: inUse, Story: req.Story})
	if err != nil {
		return nil, err
	}
	for k, v := range next {
		out[k] = v
	}
	return out, nil
}
