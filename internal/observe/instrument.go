package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/talecast/pkg/provider/llm"
	"github.com/MrWong99/talecast/pkg/provider/tts"
)

// InstrumentTTS wraps p so that every call records latency and the
// provider request and error counters under the given provider name.
func InstrumentTTS(p tts.Provider, name string, m *Metrics) tts.Provider {
	return &ttsProvider{next: p, name: name, m: m}
}

// InstrumentLLM is the [llm.Provider] counterpart of [InstrumentTTS].
func InstrumentLLM(p llm.Provider, name string, m *Metrics) llm.Provider {
	return &llmProvider{next: p, name: name, m: m}
}

type ttsProvider struct {
	next tts.Provider
	name string
	m    *Metrics
}

var _ tts.Provider = (*ttsProvider)(nil)

func (p *ttsProvider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	ctx, span := StartProviderSpan(ctx, "tts", "synthesize", p.name)
	defer span.End()

	start := time.Now()
	res, err := p.next.Synthesize(ctx, req)
	p.m.TTSDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("status", status(err))))
	p.m.record(ctx, p.name, "tts", err)
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

func (p *ttsProvider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	voices, err := p.next.ListVoices(ctx)
	p.m.record(ctx, p.name, "tts_voices", err)
	return voices, err
}

type llmProvider struct {
	next llm.Provider
	name string
	m    *Metrics
}

var _ llm.Provider = (*llmProvider)(nil)

func (p *llmProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, span := StartProviderSpan(ctx, "llm", "complete", p.name)
	defer span.End()

	start := time.Now()
	resp, err := p.next.Complete(ctx, req)
	kind := "text"
	if req.JSON {
		kind = "json"
	}
	p.m.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("kind", kind)))
	p.m.record(ctx, p.name, "llm", err)
	if err != nil {
		span.RecordError(err)
	}
	return resp, err
}

func (m *Metrics) record(ctx context.Context, provider, kind string, err error) {
	m.RecordProviderRequest(ctx, provider, kind, status(err))
	if err != nil {
		m.RecordProviderError(ctx, provider, kind)
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
