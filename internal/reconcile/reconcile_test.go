package reconcile_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/MrWong99/talecast/internal/namematch"
	"github.com/MrWong99/talecast/internal/reconcile"
	"github.com/MrWong99/talecast/internal/roster"
	"github.com/MrWong99/talecast/pkg/types"
)

func dialogue(speakers ...string) []types.Segment {
	segs := []types.Segment{{Speaker: types.NarratorSpeaker, Text: "Intro.", Type: types.SegmentNarrator}}
	for _, s := range speakers {
		segs = append(segs, types.Segment{Speaker: s, Text: "Line.", Type: types.SegmentDialogue})
	}
	return segs
}

func seed(t *testing.T, store *roster.MemStore, session string, names ...string) []types.Character {
	t.Helper()
	out := make([]types.Character, 0, len(names))
	for _, n := range names {
		c, err := store.CreateCharacter(context.Background(), session, types.Character{Name: n, Role: types.RoleSupporting})
		if err != nil {
			t.Fatalf("seed %q: %v", n, err)
		}
		out = append(out, c)
	}
	return out
}

func TestReconcile_MatchesRoster(t *testing.T) {
	t.Parallel()

	store := roster.NewMemStore()
	known := seed(t, store, "s1", "Mira", "Tom Stone")
	r := reconcile.New(store)

	res, err := r.Reconcile(context.Background(), "s1", dialogue("mira", "Captain Mira", "Tom"), known, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Created) != 0 || len(res.Unresolved) != 0 {
		t.Fatalf("Created=%v Unresolved=%v, want none", res.Created, res.Unresolved)
	}
	for speaker, want := range map[string]string{"mira": known[0].ID, "Captain Mira": known[0].ID, "Tom": known[1].ID} {
		if got := res.Mapping[speaker].ID; got != want {
			t.Errorf("Mapping[%q] = %q, want %q", speaker, got, want)
		}
	}
}

func TestReconcile_UnknownSpeakerIsUnresolved(t *testing.T) {
	t.Parallel()

	store := roster.NewMemStore()
	r := reconcile.New(store)

	res, err := r.Reconcile(context.Background(), "s1", dialogue("Mira"), nil, nil)
	var unres *reconcile.UnresolvedSpeakerError
	if !errors.As(err, &unres) {
		t.Fatalf("err = %v, want *UnresolvedSpeakerError", err)
	}
	if !reflect.DeepEqual(unres.Names(), []string{"Mira"}) {
		t.Errorf("Names() = %v, want [Mira]", unres.Names())
	}
	if res == nil || len(res.Unresolved) != 1 || res.Unresolved[0].Reason != reconcile.ReasonUnknown {
		t.Errorf("result = %+v, want Mira unresolved as unknown", res)
	}
	if _, ok := res.Mapping["Mira"]; ok {
		t.Error("unresolved speaker must not be mapped")
	}
	if chars, _ := store.ListCharacters(context.Background(), "s1"); len(chars) != 0 {
		t.Errorf("roster grew to %d characters without a hint", len(chars))
	}
}

func TestReconcile_HintCreatesMinorCharacter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := roster.NewMemStore()
	r := reconcile.New(store)
	hints := []types.CharacterHint{{Name: "Ferryman", Gender: "male", AgeGroup: "elder"}}

	res, err := r.Reconcile(ctx, "s1", dialogue("Ferryman", "the ferryman"), nil, hints)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Created) != 1 {
		t.Fatalf("Created = %+v, want exactly one", res.Created)
	}
	c := res.Created[0]
	if c.Role != types.RoleMinor || c.Gender != "male" || c.AgeGroup != "elder" {
		t.Errorf("created = %+v, want minor male elder", c)
	}
	if res.Mapping["the ferryman"].ID != c.ID {
		t.Errorf("second spelling mapped to %q, want %q", res.Mapping["the ferryman"].ID, c.ID)
	}

	persisted, _ := store.ListCharacters(ctx, "s1")
	if len(persisted) != 1 || persisted[0].ID != c.ID {
		t.Errorf("persisted = %+v, want created character", persisted)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := roster.NewMemStore()
	r := reconcile.New(store)
	segs := dialogue("Ferryman")
	hints := []types.CharacterHint{{Name: "Ferryman"}}

	first, err := r.Reconcile(ctx, "s1", segs, nil, hints)
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	// Stale caller view: known omits the character created above.
	second, err := r.Reconcile(ctx, "s1", segs, nil, hints)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if len(second.Created) != 0 {
		t.Errorf("second call created %+v", second.Created)
	}
	if first.Mapping["Ferryman"].ID != second.Mapping["Ferryman"].ID {
		t.Error("mapping changed between identical calls")
	}
}

func TestReconcile_HintForExistingCharacterReusesIt(t *testing.T) {
	t.Parallel()

	store := roster.NewMemStore()
	known := seed(t, store, "s1", "Mira Stone")
	r := reconcile.New(store)

	res, err := r.Reconcile(context.Background(), "s1", dialogue("Mira"), known, []types.CharacterHint{{Name: "Mira"}})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Created) != 0 {
		t.Errorf("duplicate created: %+v", res.Created)
	}
	if res.Mapping["Mira"].ID != known[0].ID {
		t.Errorf("Mira mapped to %+v, want existing Mira Stone", res.Mapping["Mira"])
	}
}

func TestReconcile_AmbiguousIsUnresolved(t *testing.T) {
	t.Parallel()

	store := roster.NewMemStore()
	known := seed(t, store, "s1", "Mira Stone", "Mira Vale")
	r := reconcile.New(store)

	_, err := r.Reconcile(context.Background(), "s1", dialogue("Mira"), known, []types.CharacterHint{{Name: "Mira"}})
	var unres *reconcile.UnresolvedSpeakerError
	if !errors.As(err, &unres) {
		t.Fatalf("err = %v, want *UnresolvedSpeakerError", err)
	}
	got := unres.Speakers[0]
	if got.Reason != reconcile.ReasonAmbiguous || !reflect.DeepEqual(got.Candidates, []string{"Mira Stone", "Mira Vale"}) {
		t.Errorf("unresolved = %+v", got)
	}
	if want := "reconcile: session s1: unresolved speakers: Mira (ambiguous: Mira Stone, Mira Vale)"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestReconcile_PartialCreatesArePersisted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := roster.NewMemStore()
	r := reconcile.New(store)

	res, err := r.Reconcile(ctx, "s1", dialogue("Guard", "Stranger"), nil, []types.CharacterHint{{Name: "Guard"}})
	if err == nil {
		t.Fatal("expected unresolved error for Stranger")
	}
	if len(res.Created) != 1 || res.Created[0].Name != "Guard" {
		t.Fatalf("Created = %+v", res.Created)
	}
	if chars, _ := store.ListCharacters(ctx, "s1"); len(chars) != 1 {
		t.Errorf("persisted %d characters, want 1", len(chars))
	}
}

func TestReconcile_IgnoresNarrator(t *testing.T) {
	t.Parallel()

	store := roster.NewMemStore()
	r := reconcile.New(store)
	segs := []types.Segment{
		{Speaker: types.NarratorSpeaker, Text: "x", Type: types.SegmentNarrator},
		{Speaker: "Narrator", Text: "y", Type: types.SegmentDialogue},
	}
	res, err := r.Reconcile(context.Background(), "s1", segs, nil, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Mapping) != 0 {
		t.Errorf("Mapping = %v, want empty", res.Mapping)
	}
}

func TestReconcile_PhoneticOptIn(t *testing.T) {
	t.Parallel()

	store := roster.NewMemStore()
	known := seed(t, store, "s1", "Katherine")

	strict := reconcile.New(store)
	if _, err := strict.Reconcile(context.Background(), "s1", dialogue("Catherine"), known, nil); err == nil {
		t.Error("default matcher resolved a phonetic-only match")
	}

	loose := reconcile.New(store, reconcile.WithMatcher(namematch.New(namematch.WithPhonetic(0))))
	res, err := loose.Reconcile(context.Background(), "s1", dialogue("Catherine"), known, nil)
	if err != nil {
		t.Fatalf("phonetic Reconcile: %v", err)
	}
	if res.Mapping["Catherine"].ID != known[0].ID {
		t.Errorf("Catherine mapped to %+v", res.Mapping["Catherine"])
	}
}

type failingStore struct {
	roster.CharacterStore
	err error
}

func (f failingStore) ListCharacters(context.Context, string) ([]types.Character, error) {
	return nil, f.err
}

func TestReconcile_StoreError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r := reconcile.New(failingStore{err: boom})
	_, err := r.Reconcile(context.Background(), "s1", dialogue("Mira"), nil, nil)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}

func TestReconcile_ConcurrentSameSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := roster.NewMemStore()
	r := reconcile.New(store)
	hints := []types.CharacterHint{{Name: "Ferryman"}}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Reconcile(ctx, "s1", dialogue("Ferryman"), nil, hints); err != nil {
				t.Errorf("Reconcile: %v", err)
			}
		}()
	}
	wg.Wait()

	if chars, _ := store.ListCharacters(ctx, "s1"); len(chars) != 1 {
		t.Errorf("roster has %d characters, want 1", len(chars))
	}
}
