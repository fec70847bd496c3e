// Package ai provides prompt-in, text-out clients for generative name backends.
package ai

import (
	"context"

	"github.com/keenturbo/dropradar/internal/config"
)

// Backend completes a single prompt.
type Backend interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// FromConfig returns the backend selected by ai.provider. It returns a nil
// backend and no error when the provider has no credentials.
func FromConfig(ctx context.Context, cfg *config.Config) (Backend, error) {
	if !cfg.AIEnabled() {
		return nil, nil
	}
	switch cfg.AI.Provider {
	case "gemini":
		return NewGemini(ctx, cfg.AI)
	default:
		return NewAnthropic(cfg.AI), nil
	}
}
