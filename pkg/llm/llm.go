// Package llm defines the LLM client interface for the research pipeline.
package llm

import "context"

// Client is a minimal interface for making LLM API calls.
// Implementations provide the actual HTTP transport to a specific provider.
// maxTokens bounds the length of the generated reply.
type Client interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}
