package llm

import "context"

// LimitedClient bounds how many completions run at once. Both the
// preparer and the rubric scorer share one instance, so the bound
// covers every outgoing LLM call in the process.
type LimitedClient struct {
	inner CompletionClient
	sem   chan struct{}
}

func NewLimited(inner CompletionClient, maxConcurrent int) *LimitedClient {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &LimitedClient{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (c *LimitedClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.sem }()

	return c.inner.Complete(ctx, req)
}
