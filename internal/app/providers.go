package app

import (
	"fmt"

	"github.com/MrWong99/talecast/internal/config"
	"github.com/MrWong99/talecast/internal/observe"
	"github.com/MrWong99/talecast/internal/resilience"
	"github.com/MrWong99/talecast/pkg/provider/llm"
	"github.com/MrWong99/talecast/pkg/provider/tts"
)

// BuildProviders creates the configured providers through reg. Every
// provider is instrumented with m. When fallbacks are configured the primary
// and its fallbacks are combined into a circuit-breaking failover group.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	ttsP, err := buildTTS(cfg.Providers, reg, m)
	if err != nil {
		return nil, err
	}
	p := &Providers{TTS: ttsP}

	if cfg.Providers.LLM.Name != "" {
		llmP, err := buildLLM(cfg.Providers, reg, m)
		if err != nil {
			return nil, err
		}
		p.LLM = llmP
	}
	return p, nil
}

func buildTTS(pc config.ProvidersConfig, reg *config.Registry, m *observe.Metrics) (tts.Provider, error) {
	create := func(e config.ProviderEntry) (tts.Provider, error) {
		p, err := reg.CreateTTS(e)
		if err != nil {
			return nil, fmt.Errorf("app: create tts provider %q: %w", e.Name, err)
		}
		return observe.InstrumentTTS(p, e.Name, m), nil
	}

	primary, err := create(pc.TTS)
	if err != nil {
		return nil, err
	}
	if len(pc.TTSFallbacks) == 0 {
		return primary, nil
	}
	group := resilience.NewTTSFallback(pc.TTS.Name, primary, resilience.BreakerConfig{})
	for _, e := range pc.TTSFallbacks {
		fb, err := create(e)
		if err != nil {
			return nil, err
		}
		group.Add(e.Name, fb)
	}
	return group, nil
}

func buildLLM(pc config.ProvidersConfig, reg *config.Registry, m *observe.Metrics) (llm.Provider, error) {
	create := func(e config.ProviderEntry) (llm.Provider, error) {
		p, err := reg.CreateLLM(e)
		if err != nil {
			return nil, fmt.Errorf("app: create llm provider %q: %w", e.Name, err)
		}
		return observe.InstrumentLLM(p, e.Name, m), nil
	}

	primary, err := create(pc.LLM)
	if err != nil {
		return nil, err
	}
	if len(pc.LLMFallbacks) == 0 {
		return primary, nil
	}
	group := resilience.NewLLMFallback(pc.LLM.Name, primary, resilience.BreakerConfig{})
	for _, e := range pc.LLMFallbacks {
		fb, err := create(e)
		if err != nil {
			return nil, err
		}
		group.Add(e.Name, fb)
	}
	return group, nil
}
