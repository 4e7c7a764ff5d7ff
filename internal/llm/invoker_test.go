package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/revrost/go-openrouter"

	"github.com/podsight/backend/internal/pkg/apperr"
	"github.com/podsight/backend/internal/pkg/logger"
)

// scriptedProvider fails a fixed number of times, then succeeds. It also
// tracks the highest number of concurrent in-flight calls it ever saw.
type scriptedProvider struct {
	mu          sync.Mutex
	failures    int
	failWith    error
	inFlight    int32
	maxInFlight int32
	calls       int
	delay       time.Duration
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, _ CompletionRequest) (string, Usage, error) {
	cur := atomic.AddInt32(&p.inFlight, 1)
	defer atomic.AddInt32(&p.inFlight, -1)
	for {
		max := atomic.LoadInt32(&p.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&p.maxInFlight, max, cur) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	p.calls++
	fail := p.failures > 0
	if fail {
		p.failures--
	}
	p.mu.Unlock()
	if fail {
		return "", Usage{}, p.failWith
	}
	return `{"ok":true}`, Usage{PromptTokens: 10, CompletionTokens: 5}, nil
}

func testPools(t *testing.T, mining, eval int) *Pools {
	t.Helper()
	p := NewPools(HardwareProfile{MiningWorkers: mining, EvalWorkers: eval}, 0.85, logger.NewNop(),
		WithMemorySampler(func() (float64, bool) { return 0.1, true }),
		WithMonitorInterval(time.Hour))
	t.Cleanup(p.Close)
	return p
}

func quickInvoker(provider Provider, pools *Pools) *Invoker {
	inv := NewInvoker(provider, pools, nil, logger.NewNop())
	inv.minBackoff = time.Millisecond
	inv.maxBackoff = 5 * time.Millisecond
	return inv
}

func TestInvokeRetriesTransientFailures(t *testing.T) {
	provider := &scriptedProvider{
		failures: 2,
		failWith: &openrouter.APIError{HTTPStatusCode: 429, Message: "slow down"},
	}
	inv := quickInvoker(provider, testPools(t, 2, 1))

	resp, err := inv.Invoke(context.Background(), Request{Pool: PoolMining, Stage: "mine", Model: "test-model"})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if resp.Text != `{"ok":true}` || resp.PromptTokens != 10 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if provider.calls != 3 {
		t.Fatalf("expected 2 retries then success, got %d calls", provider.calls)
	}
}

func TestInvokeExhaustedRateLimitClassified(t *testing.T) {
	provider := &scriptedProvider{
		failures: 100,
		failWith: &openrouter.APIError{HTTPStatusCode: 429, Message: "slow down"},
	}
	inv := quickInvoker(provider, testPools(t, 2, 1))

	_, err := inv.Invoke(context.Background(), Request{Pool: PoolMining, Stage: "mine", Model: "test-model"})
	if !errors.Is(err, apperr.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if provider.calls != inv.maxAttempts {
		t.Fatalf("expected %d attempts, got %d", inv.maxAttempts, provider.calls)
	}
}

func TestInvokeNonRetryableFailsFast(t *testing.T) {
	provider := &scriptedProvider{
		failures: 100,
		failWith: &openrouter.APIError{HTTPStatusCode: 400, Message: "bad prompt"},
	}
	inv := quickInvoker(provider, testPools(t, 2, 1))

	_, err := inv.Invoke(context.Background(), Request{Pool: PoolMining, Stage: "mine", Model: "test-model"})
	if !errors.Is(err, apperr.ErrProviderError) {
		t.Fatalf("expected ErrProviderError, got %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("400 must not retry, got %d calls", provider.calls)
	}
}

func TestInvokeMissingModelRejected(t *testing.T) {
	inv := quickInvoker(&scriptedProvider{}, testPools(t, 2, 1))
	_, err := inv.Invoke(context.Background(), Request{Pool: PoolMining, Stage: "mine"})
	if !errors.Is(err, apperr.ErrProviderError) {
		t.Fatalf("expected ErrProviderError for missing model, got %v", err)
	}
}

func TestInvokeRespectsPoolCeiling(t *testing.T) {
	provider := &scriptedProvider{delay: 20 * time.Millisecond}
	inv := quickInvoker(provider, testPools(t, 2, 1))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = inv.Invoke(context.Background(), Request{Pool: PoolMining, Stage: "mine", Model: "test-model"})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&provider.maxInFlight); got > 2 {
		t.Fatalf("mining ceiling 2 violated, saw %d concurrent calls", got)
	}
	if provider.calls != 8 {
		t.Fatalf("expected all 8 calls to complete, got %d", provider.calls)
	}
}
