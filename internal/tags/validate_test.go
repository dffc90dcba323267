package tags_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/talecast/internal/tags"
)

func TestValidateBalance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		prose string
		want  []tags.IssueKind
	}{
		{name: "balanced", prose: "[SPEAKER:A]x[/SPEAKER] y [SPEAKER:B]z[/SPEAKER]"},
		{name: "no tags", prose: "plain prose"},
		{name: "unclosed", prose: "[SPEAKER:A]x", want: []tags.IssueKind{tags.IssueUnclosed}},
		{name: "close without open", prose: "x[/SPEAKER]", want: []tags.IssueKind{tags.IssueUnopened}},
		{
			name:  "nested",
			prose: "[SPEAKER:A]x [SPEAKER:B]y[/SPEAKER] z[/SPEAKER]",
			want:  []tags.IssueKind{tags.IssueNested, tags.IssueUnopened},
		},
		{name: "empty speaker", prose: "[SPEAKER: ]x[/SPEAKER]", want: []tags.IssueKind{tags.IssueEmptySpeaker}},
		{name: "spans asterisk break", prose: "[SPEAKER:A]x\n***\ny[/SPEAKER]", want: []tags.IssueKind{tags.IssueSpansBreak}},
		{name: "spans spaced break", prose: "[SPEAKER:A]x\n  * * *  \ny[/SPEAKER]", want: []tags.IssueKind{tags.IssueSpansBreak}},
		{name: "spans dash break", prose: "[SPEAKER:A]x\n-----\ny[/SPEAKER]", want: []tags.IssueKind{tags.IssueSpansBreak}},
		{name: "break outside tags ok", prose: "[SPEAKER:A]x[/SPEAKER]\n#\n[SPEAKER:A]y[/SPEAKER]"},
		{name: "inline dashes are not a break", prose: "[SPEAKER:A]wait --- what[/SPEAKER]"},
		{name: "malformed open", prose: "[SPEAKER:A x [/SPEAKER]", want: []tags.IssueKind{tags.IssueUnopened, tags.IssueMalformed}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := tags.ValidateBalance(tc.prose)
			if len(res.Issues) != len(tc.want) {
				t.Fatalf("issues = %v, want kinds %v", res.Issues, tc.want)
			}
			for i, k := range tc.want {
				if res.Issues[i].Kind != k {
					t.Errorf("issue %d = %v, want %v", i, res.Issues[i].Kind, k)
				}
			}
			if res.Valid() != (len(tc.want) == 0) {
				t.Errorf("Valid() = %v", res.Valid())
			}
		})
	}
}

func TestValidateBalance_RuneOffsets(t *testing.T) {
	t.Parallel()
	res := tags.ValidateBalance("ééé[/SPEAKER]")
	if len(res.Issues) != 1 || res.Issues[0].Offset != 3 {
		t.Fatalf("issues = %+v, want one issue at rune offset 3", res.Issues)
	}
}

func TestValidationResult_Err(t *testing.T) {
	t.Parallel()

	if err := tags.ValidateBalance("ok").Err(); err != nil {
		t.Errorf("Err() on valid prose = %v", err)
	}
	err := tags.ValidateBalance("[SPEAKER:Mira]x").Err()
	var imb *tags.TagImbalanceError
	if !errors.As(err, &imb) {
		t.Fatalf("Err() = %v, want *TagImbalanceError", err)
	}
	if got := err.Error(); got != "tags: imbalanced speaker tags: unclosed tag at 0 (Mira)" {
		t.Errorf("Error() = %q", got)
	}
}
