package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/revrost/go-openrouter"
	"github.com/revrost/go-openrouter/jsonschema"

	"github.com/podsight/backend/internal/pkg/envutil"
	"github.com/podsight/backend/internal/pkg/logger"
)

// openRouterProvider speaks to OpenRouter's chat completions API.
type openRouterProvider struct {
	log    *logger.Logger
	client *openrouter.Client
}

func NewOpenRouterProvider(baseLog *logger.Logger) (Provider, error) {
	apiKey := envutil.String("OPENROUTER_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENROUTER_API_KEY")
	}
	return &openRouterProvider{
		log:    baseLog.With("provider", "openrouter"),
		client: openrouter.NewClient(apiKey),
	}, nil
}

func (p *openRouterProvider) Name() string { return "openrouter" }

func (p *openRouterProvider) Complete(ctx context.Context, req CompletionRequest) (string, Usage, error) {
	var usage Usage
	out := openrouter.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openrouter.ChatCompletionMessage{
			{
				Role:    openrouter.ChatMessageRoleSystem,
				Content: openrouter.Content{Text: req.System},
			},
			{
				Role:    openrouter.ChatMessageRoleUser,
				Content: openrouter.Content{Text: req.User},
			},
		},
	}
	if req.Schema != nil {
		schema, err := jsonschema.GenerateSchemaForType(req.Schema.Example)
		if err != nil {
			return "", usage, fmt.Errorf("generate schema %q: %w", req.Schema.Name, err)
		}
		out.ResponseFormat = &openrouter.ChatCompletionResponseFormat{
			Type: openrouter.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openrouter.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Schema.Name,
				Schema: schema,
				// Strict mode is not supported by every routed model.
				Strict: false,
			},
		}
	} else {
		out.ResponseFormat = &openrouter.ChatCompletionResponseFormat{
			Type: openrouter.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, out)
	if err != nil {
		return "", usage, err
	}
	if len(resp.Choices) == 0 {
		return "", usage, fmt.Errorf("no completion choices returned")
	}
	usage.PromptTokens = resp.Usage.PromptTokens
	usage.CompletionTokens = resp.Usage.CompletionTokens
	return strings.TrimSpace(resp.Choices[0].Message.Content.Text), usage, nil
}

// providerStatusCode extracts an HTTP status from a provider error, 0 when
// unknown.
func providerStatusCode(err error) int {
	var apiErr *openrouter.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	return 0
}
