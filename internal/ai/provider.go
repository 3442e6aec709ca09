package ai

import "context"

// Provider generates the machine response for a round's prompt.
type Provider interface {
	Generate(ctx context.Context, model string, prompt string) (string, error)
}
