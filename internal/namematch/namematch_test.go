package namematch_test

import (
	"reflect"
	"testing"

	"github.com/MrWong99/talecast/internal/namematch"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Mira", "mira"},
		{"Dr. O'Brien", "obrien"},
		{"Captain  Mira-Stone", "mira stone"},
		{"The Old Ferryman", "ferryman"},
		{"The Captain", "the captain"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := namematch.Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMatcher_ScoreTiers(t *testing.T) {
	t.Parallel()

	m := namematch.New()
	tests := []struct {
		name string
		a, b string
		want namematch.Tier
	}{
		{name: "exact", a: "Mira", b: "mira", want: namematch.TierExact},
		{name: "honorific dropped", a: "Captain Mira", b: "Mira", want: namematch.TierNormalized},
		{name: "punctuation", a: "O'Brien", b: "obrien", want: namematch.TierNormalized},
		{name: "whole word substring", a: "Mira", b: "Mira Stone", want: namematch.TierSubstring},
		{name: "partial word is not substring", a: "Mir", b: "Mira Stone", want: namematch.TierNone},
		{name: "token overlap", a: "Mira Stone Vale", b: "Mira Stone Reyes", want: namematch.TierTokenOverlap},
		{name: "overlap below threshold", a: "Mira Stone", b: "Tom Stone", want: namematch.TierNone},
		{name: "phonetic disabled", a: "Katherine", b: "Catherine", want: namematch.TierNone},
		{name: "empty", a: "", b: "Mira", want: namematch.TierNone},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := m.Score(tc.a, tc.b).Tier; got != tc.want {
				t.Errorf("Score(%q, %q).Tier = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestMatcher_Phonetic(t *testing.T) {
	t.Parallel()

	m := namematch.New(namematch.WithPhonetic(0))
	s := m.Score("Katherine", "Catherine")
	if s.Tier != namematch.TierPhonetic {
		t.Fatalf("tier = %v, want phonetic", s.Tier)
	}
	if s.Value < namematch.DefaultPhoneticThreshold {
		t.Errorf("value = %f, below threshold", s.Value)
	}
	if got := m.Score("Katherine", "Bartholomew").Tier; got != namematch.TierNone {
		t.Errorf("unrelated names matched at %v", got)
	}
}

func TestMatcher_TokenOverlapThreshold(t *testing.T) {
	t.Parallel()

	loose := namematch.New(namematch.WithTokenOverlapThreshold(0.5))
	if got := loose.Score("Mira Stone", "Tom Stone").Tier; got != namematch.TierTokenOverlap {
		t.Errorf("tier = %v, want token_overlap at 0.5", got)
	}
}

func TestMatcher_Best(t *testing.T) {
	t.Parallel()

	m := namematch.New()

	t.Run("stronger tier wins", func(t *testing.T) {
		t.Parallel()
		got := m.Best("Mira", []string{"Mira Stone", "mira", "Tom"})
		if got.Index != 1 || got.Score.Tier != namematch.TierExact {
			t.Errorf("Best = %+v, want index 1 exact", got)
		}
	})

	t.Run("tie is ambiguous", func(t *testing.T) {
		t.Parallel()
		got := m.Best("Mira", []string{"Mira Stone", "Mira Vale"})
		if got.Index != -1 {
			t.Errorf("Index = %d, want -1", got.Index)
		}
		if !reflect.DeepEqual(got.Ambiguous, []int{0, 1}) {
			t.Errorf("Ambiguous = %v, want [0 1]", got.Ambiguous)
		}
	})

	t.Run("no match", func(t *testing.T) {
		t.Parallel()
		got := m.Best("Zed", []string{"Mira", "Tom"})
		if got.Index != -1 || got.Ambiguous != nil || got.Score.Matched() {
			t.Errorf("Best = %+v, want no match", got)
		}
	})
}

func TestMatcher_Duplicates(t *testing.T) {
	t.Parallel()

	got := namematch.New().Duplicates([]string{"Mira", "Tom", "Lady Mira", "Bo"})
	want := [][2]int{{0, 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Duplicates = %v, want %v", got, want)
	}
}
