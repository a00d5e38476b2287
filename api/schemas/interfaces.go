package schemas

import (
	"context"
	"fmt"
)

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions provides detailed parameters to control the text generation
// process of the LLM, such as creativity (temperature) and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	TopK            int     `json:"top_k"`             // Top-k sampling parameter.
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"` // Instructions for the model's persona and task.
	UserPrompt   string            `json:"user_prompt"`   // The specific query or input from the user.
	Tier         ModelTier         `json:"tier"`          // The desired model tier (fast or powerful).
	Options      GenerationOptions `json:"options"`       // Advanced generation parameters.
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider (e.g., Gemini).
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client (e.g., network connections).
	Close() error
}

// ProviderError reports a failure at the LLM provider boundary. Retryable
// failures (rate limiting, transient 5xx) are handled by suspend-and-retry;
// non-retryable failures (auth, malformed requests) end the calling agent's
// run without affecting sibling agents.
type ProviderError struct {
	StatusCode int    // HTTP status from the provider, 0 for transport errors.
	Message    string // Human-readable description.
	Retryable  bool   // Whether the caller may retry after waiting.
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm provider error (status %d, retryable=%t): %s", e.StatusCode, e.Retryable, e.Message)
}

// -- Trail Sink Interface --

// TrailSink is the write side of the audit trail. Every component that takes
// a gated or observable action appends through this interface; the concrete
// trail assigns the global sequence number and returns the finished entry.
type TrailSink interface {
	Append(entry TrailEntry) TrailEntry
}

// -- Store Interface --

// Store defines a generic interface for durable persistence of the audit
// trail and task ledger. The core only requires append plus ordered-query
// semantics; the concrete backend (PostgreSQL, in-memory) is swappable.
type Store interface {
	// PersistTrail saves a batch of trail entries for a run.
	PersistTrail(ctx context.Context, runID string, entries []TrailEntry) error
	// PersistTasks saves the current task set for a run.
	PersistTasks(ctx context.Context, runID string, tasks []Task) error
	// LoadTrail retrieves all trail entries for a run in (timestamp, seq) order.
	LoadTrail(ctx context.Context, runID string) ([]TrailEntry, error)
	// LoadTasks retrieves all tasks for a run in creation order.
	LoadTasks(ctx context.Context, runID string) ([]Task, error)
}
