package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/talecast/pkg/provider/tts"
)

func TestSynthesize_SendsSpeechRequest(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("path = %q, want /audio/speech", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(make([]byte, 480))
	}))
	defer srv.Close()

	p, err := New("sk-test", WithBaseURL(srv.URL+"/"), WithModel("tts-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Synthesize(context.Background(), tts.Request{
		Text:    "The door creaked.",
		VoiceID: "fable",
		Style:   tts.Style{Mood: "tense", Speed: 1.1},
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.SampleRate != 24000 || len(res.Audio) != 480 {
		t.Errorf("result = %d bytes @ %d Hz", len(res.Audio), res.SampleRate)
	}
	if body["voice"] != "fable" || body["model"] != "tts-1" || body["response_format"] != "pcm" {
		t.Errorf("request body = %v", body)
	}
	if body["instructions"] != "Read in a tense mood." {
		t.Errorf("instructions = %v", body["instructions"])
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	p, _ := New("sk-test", WithBaseURL(srv.URL+"/"))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "x", VoiceID: "alloy"}); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestSynthesize_TimingsUnsupported(t *testing.T) {
	t.Parallel()
	p, _ := New("sk-test")
	_, err := p.Synthesize(context.Background(), tts.Request{Text: "x", VoiceID: "alloy", WantTimings: true})
	if !errors.Is(err, tts.ErrTimingsUnsupported) {
		t.Fatalf("err = %v, want ErrTimingsUnsupported", err)
	}
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()
	p, _ := New("sk-test")
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != len(builtinVoices) {
		t.Fatalf("voices = %d, want %d", len(voices), len(builtinVoices))
	}
	for _, v := range voices {
		if v.Attr("gender") == "" {
			t.Errorf("voice %q has no gender", v.ID)
		}
	}
}
