package llm

import "testing"

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: `{"v":"a"}`, want: "a"},
		{name: "json fence", in: "```json\n{\"v\":\"b\"}\n```", want: "b"},
		{name: "bare fence", in: "```\n{\"v\":\"c\"}```", want: "c"},
		{name: "prose", in: "Sure! Here you go.", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out struct {
				V string `json:"v"`
			}
			err := DecodeJSON(tt.in, &out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if out.V != tt.want {
				t.Errorf("v = %q, want %q", out.V, tt.want)
			}
		})
	}
}

func TestTranscript(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		req        CompletionRequest
		inlineJSON bool
		wantRoles  []string
		wantSystem string
		wantErr    bool
	}{
		{
			name:       "system first",
			req:        UserPrompt("Find cues.", "The door creaked."),
			wantRoles:  []string{RoleSystem, RoleUser},
			wantSystem: "Find cues.",
		},
		{
			name:      "no system prompt",
			req:       CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}}},
			wantRoles: []string{RoleUser, RoleAssistant},
		},
		{
			name:       "native json mode leaves prompt alone",
			req:        CompletionRequest{SystemPrompt: "Review.", Messages: []Message{{Role: RoleUser, Content: "x"}}, JSON: true},
			wantRoles:  []string{RoleSystem, RoleUser},
			wantSystem: "Review.",
		},
		{
			name:       "inline json without prompt",
			req:        CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}, JSON: true},
			inlineJSON: true,
			wantRoles:  []string{RoleSystem, RoleUser},
			wantSystem: JSONInstruction,
		},
		{
			name:       "inline json appended",
			req:        CompletionRequest{SystemPrompt: "Review.", Messages: []Message{{Role: RoleUser, Content: "x"}}, JSON: true},
			inlineJSON: true,
			wantRoles:  []string{RoleSystem, RoleUser},
			wantSystem: "Review.\n" + JSONInstruction,
		},
		{name: "empty", req: CompletionRequest{SystemPrompt: "x"}, wantErr: true},
		{name: "tool role", req: CompletionRequest{Messages: []Message{{Role: "tool"}}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.req.Transcript(tt.inlineJSON)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.wantRoles) {
				t.Fatalf("messages = %+v, want roles %v", got, tt.wantRoles)
			}
			for i, m := range got {
				if m.Role != tt.wantRoles[i] {
					t.Errorf("message %d role = %q, want %q", i, m.Role, tt.wantRoles[i])
				}
			}
			if tt.wantSystem != "" && got[0].Content != tt.wantSystem {
				t.Errorf("system = %q, want %q", got[0].Content, tt.wantSystem)
			}
		})
	}
}
