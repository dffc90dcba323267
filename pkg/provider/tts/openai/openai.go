// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// Audio is requested as raw PCM (24 kHz, 16-bit mono). The speech endpoint does
// not return word timings, so requests that need them fail with
// [tts.ErrTimingsUnsupported].
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/talecast/pkg/provider/tts"
)

const (
	defaultModel = "gpt-4o-mini-tts"
	pcmRate      = 24000
)

// builtinVoices is the fixed catalogue of the speech endpoint.
var builtinVoices = []struct {
	id     string
	gender string
	tone   string
}{
	{"alloy", "neutral", "balanced"},
	{"ash", "male", "warm"},
	{"ballad", "male", "lyrical"},
	{"coral", "female", "bright"},
	{"echo", "male", "calm"},
	{"fable", "neutral", "storyteller"},
	{"nova", "female", "energetic"},
	{"onyx", "male", "deep"},
	{"sage", "female", "measured"},
	{"shimmer", "female", "soft"},
	{"verse", "male", "expressive"},
}

// Provider implements tts.Provider using the OpenAI speech API.
type Provider struct {
	client oai.Client
	model  string
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel sets the speech model (e.g. "gpt-4o-mini-tts", "tts-1-hd").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	// Retries are owned by the caller so each attempt is visible and bounded.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	if req.WantTimings {
		return nil, tts.ErrTimingsUnsupported
	}
	if req.VoiceID == "" {
		return nil, fmt.Errorf("openai: voice id must not be empty")
	}

	params := oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(req.VoiceID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if instr := req.Style.Instruction(); instr != "" {
		params.Instructions = oai.String(instr)
	}
	if req.Style.Speed > 0 {
		params.Speed = oai.Float(req.Style.Speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: speech: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read speech body: %w", err)
	}
	return &tts.Result{Audio: pcm, SampleRate: pcmRate}, nil
}

// ListVoices returns the built-in voice catalogue. The speech endpoint has no
// listing API.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, 0, len(builtinVoices))
	for _, v := range builtinVoices {
		out = append(out, tts.VoiceProfile{
			ID:       v.id,
			Name:     v.id,
			Provider: "openai",
			Metadata: map[string]string{"gender": v.gender, "tone": v.tone},
		})
	}
	return out, nil
}
