package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	llmrepo "github.com/podsight/backend/internal/data/repos/llm"
	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/pkg/apperr"
	"github.com/podsight/backend/internal/pkg/dbctx"
	"github.com/podsight/backend/internal/pkg/httpx"
	"github.com/podsight/backend/internal/pkg/logger"
)

// Request is one structured-output invocation. Pool selects the concurrency
// ceiling; Stage/JobID/EpisodeID only annotate the audit row.
type Request struct {
	Pool      PoolClass
	Stage     string
	Model     string
	System    string
	Prompt    string
	Schema    *SchemaSpec
	JobID     *uuid.UUID
	EpisodeID *uuid.UUID
	// Validate, when set, labels the raw response for the audit row
	// ("valid"/"repaired"/"rejected"). Runs before the row is written.
	Validate func(raw string) string
}

type Response struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Invoker executes prompts under the two pool ceilings and the provider rate
// limit, and writes the append-only audit row for every call before
// returning. The only suspension points in the pipeline are here and at
// checkpoint commits; no invocation ever nests inside another.
type Invoker struct {
	log      *logger.Logger
	provider Provider
	pools    *Pools
	calls    llmrepo.CallRepo

	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
}

func NewInvoker(provider Provider, pools *Pools, calls llmrepo.CallRepo, baseLog *logger.Logger) *Invoker {
	return &Invoker{
		log:         baseLog.With("component", "LLMInvoker"),
		provider:    provider,
		pools:       pools,
		calls:       calls,
		maxAttempts: 4,
		minBackoff:  time.Second,
		maxBackoff:  30 * time.Second,
	}
}

func (inv *Invoker) Invoke(ctx context.Context, req Request) (Response, error) {
	var resp Response
	if req.Model == "" {
		return resp, fmt.Errorf("%w: missing model", apperr.ErrProviderError)
	}
	if err := inv.pools.Acquire(ctx, req.Pool); err != nil {
		return resp, classifyCtx(err)
	}
	defer inv.pools.Release(req.Pool)

	start := time.Now()
	text, usage, err := inv.callWithRetry(ctx, req)
	resp = Response{
		Text:             text,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Latency:          time.Since(start),
	}
	inv.audit(ctx, req, resp, err)
	return resp, err
}

func (inv *Invoker) callWithRetry(ctx context.Context, req Request) (string, Usage, error) {
	backoff := inv.minBackoff
	var lastErr error
	for attempt := 1; attempt <= inv.maxAttempts; attempt++ {
		text, usage, err := inv.provider.Complete(ctx, CompletionRequest{
			Model:  req.Model,
			System: req.System,
			User:   req.Prompt,
			Schema: req.Schema,
		})
		if err == nil {
			return text, usage, nil
		}
		lastErr = err
		if cerr := classifyCtx(err); errors.Is(cerr, apperr.ErrTimeout) {
			return "", Usage{}, cerr
		}
		code := providerStatusCode(err)
		if !httpx.IsRetryableHTTPStatus(code) {
			return "", Usage{}, fmt.Errorf("%w: %v", apperr.ErrProviderError, err)
		}
		if attempt == inv.maxAttempts {
			break
		}
		sleepFor := httpx.Jitter(backoff)
		inv.log.Warn("provider call retrying",
			"stage", req.Stage, "model", req.Model, "status", code,
			"attempt", attempt, "sleep", sleepFor.String())
		select {
		case <-ctx.Done():
			return "", Usage{}, classifyCtx(ctx.Err())
		case <-time.After(sleepFor):
		}
		backoff *= 2
		if backoff > inv.maxBackoff {
			backoff = inv.maxBackoff
		}
	}
	if httpx.IsRateLimitStatus(providerStatusCode(lastErr)) {
		return "", Usage{}, fmt.Errorf("%w: %v", apperr.ErrRateLimited, lastErr)
	}
	return "", Usage{}, fmt.Errorf("%w: %v", apperr.ErrProviderError, lastErr)
}

func (inv *Invoker) audit(ctx context.Context, req Request, resp Response, callErr error) {
	if inv.calls == nil {
		return
	}
	outcome := ""
	if callErr == nil && req.Validate != nil {
		outcome = req.Validate(resp.Text)
	}
	row := &domain.LLMCall{
		JobID:             req.JobID,
		EpisodeID:         req.EpisodeID,
		Stage:             req.Stage,
		Pool:              string(req.Pool),
		Provider:          inv.provider.Name(),
		Model:             req.Model,
		System:            req.System,
		Prompt:            req.Prompt,
		RawResponse:       resp.Text,
		PromptTokens:      resp.PromptTokens,
		CompletionTokens:  resp.CompletionTokens,
		ValidationOutcome: outcome,
		LatencyMS:         resp.Latency.Milliseconds(),
		CreatedAt:         time.Now(),
	}
	if callErr != nil {
		row.Err = callErr.Error()
	}
	// Audit uses a background-tolerant context: the row must land even when
	// the call's own context just expired.
	actx := ctx
	if actx.Err() != nil {
		actx = context.Background()
	}
	if err := inv.calls.Append(dbctx.Context{Ctx: actx}, row); err != nil {
		inv.log.Error("llm audit append failed", "stage", req.Stage, "error", err)
	}
}

func classifyCtx(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", apperr.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return err
}
