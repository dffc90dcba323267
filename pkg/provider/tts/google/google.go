// Package google provides a TTS provider backed by Google Cloud Text-to-Speech.
//
// Voices are addressed by their full Cloud name (e.g. "en-US-Neural2-F"); the
// language code is derived from the name. Audio is requested as LINEAR16 and
// unwrapped from its WAV container. The v1 API does not report word timings.
package google

import (
	"context"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"

	"github.com/MrWong99/talecast/pkg/audio"
	"github.com/MrWong99/talecast/pkg/provider/tts"
)

const defaultSampleRate = 24000

// speechClient is the subset of the Cloud client used by Provider.
type speechClient interface {
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error)
	ListVoices(ctx context.Context, req *texttospeechpb.ListVoicesRequest, opts ...gax.CallOption) (*texttospeechpb.ListVoicesResponse, error)
	Close() error
}

// Provider implements tts.Provider using Google Cloud Text-to-Speech.
type Provider struct {
	client     speechClient
	sampleRate int
	language   string
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	credentialsFile string
	apiKey          string
	endpoint        string
	sampleRate      int
	language        string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithCredentialsFile authenticates with a service account JSON file instead
// of application default credentials.
func WithCredentialsFile(path string) Option {
	return func(c *config) { c.credentialsFile = path }
}

// WithAPIKey authenticates with an API key.
func WithAPIKey(key string) Option {
	return func(c *config) { c.apiKey = key }
}

// WithEndpoint overrides the service endpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *config) { c.endpoint = endpoint }
}

// WithSampleRate sets the requested LINEAR16 sample rate. Default 24000.
func WithSampleRate(hz int) Option {
	return func(c *config) { c.sampleRate = hz }
}

// WithLanguage restricts ListVoices to a BCP-47 language code (e.g. "en-GB").
func WithLanguage(code string) Option {
	return func(c *config) { c.language = code }
}

// New dials the Cloud Text-to-Speech service.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	cfg := &config{sampleRate: defaultSampleRate}
	for _, o := range opts {
		o(cfg)
	}

	var clientOpts []option.ClientOption
	if cfg.credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.credentialsFile))
	}
	if cfg.apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.apiKey))
	}
	if cfg.endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.endpoint))
	}

	client, err := texttospeech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return newWithClient(client, cfg), nil
}

func newWithClient(client speechClient, cfg *config) *Provider {
	rate := cfg.sampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	return &Provider{client: client, sampleRate: rate, language: cfg.language}
}

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	if req.WantTimings {
		return nil, tts.ErrTimingsUnsupported
	}
	if req.VoiceID == "" {
		return nil, fmt.Errorf("google: voice id must not be empty")
	}

	audioCfg := &texttospeechpb.AudioConfig{
		AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
		SampleRateHertz: int32(p.sampleRate),
	}
	// Chirp voices reject speaking rate adjustments.
	if req.Style.Speed > 0 && !strings.Contains(strings.ToLower(req.VoiceID), "chirp") {
		audioCfg.SpeakingRate = req.Style.Speed
	}

	resp, err := p.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: req.Text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: languageOf(req.VoiceID),
			Name:         req.VoiceID,
		},
		AudioConfig: audioCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("google: synthesize: %w", err)
	}

	wav, err := audio.ParseWAV(resp.GetAudioContent())
	if err != nil {
		return nil, fmt.Errorf("google: decode audio: %w", err)
	}
	pcm := wav.Data
	if wav.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	return &tts.Result{Audio: pcm, SampleRate: wav.SampleRate}, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	resp, err := p.client.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{LanguageCode: p.language})
	if err != nil {
		return nil, fmt.Errorf("google: list voices: %w", err)
	}
	out := make([]tts.VoiceProfile, 0, len(resp.GetVoices()))
	for _, v := range resp.GetVoices() {
		meta := map[string]string{
			"gender":   strings.ToLower(v.GetSsmlGender().String()),
			"language": strings.Join(v.GetLanguageCodes(), ","),
		}
		out = append(out, tts.VoiceProfile{
			ID:       v.GetName(),
			Name:     v.GetName(),
			Provider: "google",
			Metadata: meta,
		})
	}
	return out, nil
}

// languageOf derives the BCP-47 code from a voice name such as
// "en-US-Neural2-F". Falls back to "en-US".
func languageOf(voiceName string) string {
	parts := strings.SplitN(voiceName, "-", 3)
	if len(parts) < 3 {
		return "en-US"
	}
	return parts[0] + "-" + parts[1]
}
