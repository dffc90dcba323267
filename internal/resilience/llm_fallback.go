package resilience

import (
	"context"

	"github.com/MrWong99/talecast/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] over a [Failover] of LLM backends.
type LLMFallback struct {
	*Failover[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns a failover group with primary as the preferred
// backend.
func NewLLMFallback(primaryName string, primary llm.Provider, cfg BreakerConfig) *LLMFallback {
	return &LLMFallback{NewFailover(primaryName, primary, cfg)}
}

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(f.Failover, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}
