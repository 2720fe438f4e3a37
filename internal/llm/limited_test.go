package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingClient holds every call until release is closed and records
// the highest number of calls seen in flight at once.
type blockingClient struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	release chan struct{}
}

func (c *blockingClient) Complete(_ context.Context, _ CompletionRequest) (*CompletionResponse, error) {
	c.mu.Lock()
	c.active++
	if c.active > c.maxSeen {
		c.maxSeen = c.active
	}
	c.mu.Unlock()

	<-c.release

	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	return &CompletionResponse{Text: "ok"}, nil
}

func (c *blockingClient) inFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func TestLimitedClientBoundsConcurrency(t *testing.T) {
	inner := &blockingClient{release: make(chan struct{})}
	limited := NewLimited(inner, 2)

	wg := &sync.WaitGroup{}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := limited.Complete(context.Background(), CompletionRequest{Prompt: "p"})
			assert.NoError(t, err)
		}()
	}

	deadline := time.Now().Add(time.Second)
	for inner.inFlight() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 2, inner.inFlight(), "exactly the bound should be in flight")

	close(inner.release)
	wg.Wait()

	inner.mu.Lock()
	defer inner.mu.Unlock()
	assert.Equal(t, 2, inner.maxSeen)
}

func TestLimitedClientRespectsContextWhileWaiting(t *testing.T) {
	inner := &blockingClient{release: make(chan struct{})}
	limited := NewLimited(inner, 1)

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = limited.Complete(context.Background(), CompletionRequest{Prompt: "holder"})
	}()
	<-started
	deadline := time.Now().Add(time.Second)
	for inner.inFlight() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := limited.Complete(ctx, CompletionRequest{Prompt: "waiter"})
	assert.ErrorIs(t, err, context.Canceled)

	close(inner.release)
}
