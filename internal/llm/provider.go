package llm

import "context"

// Usage is the provider-reported token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// SchemaSpec asks the provider for structured output shaped like Example.
// The concrete JSON schema is generated from the Example type.
type SchemaSpec struct {
	Name    string
	Example any
}

type CompletionRequest struct {
	Model  string
	System string
	User   string
	// Schema nil means plain JSON-object mode.
	Schema *SchemaSpec
}

// Provider executes one chat completion. Implementations classify transport
// failures via httpx so the invoker can decide on retries.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, Usage, error)
}

// Embedder produces embedding vectors for the deduplicator.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}
