// Package advisor produces an AI-generated cost and risk note for a
// plan. Advisory only: apply never blocks on it, and it is disabled
// entirely without an API key.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/fathomdata/trellis/internal/types"
)

const (
	defaultModel   = "claude-3-5-haiku-20241022"
	maxRetries     = 2
	initialBackoff = 1 * time.Second
	maxTokens      = 512
)

// ErrAPIKeyRequired is returned when an API key is needed but not provided.
var ErrAPIKeyRequired = errors.New("API key required")

// Client summarizes plans through the Anthropic API.
type Client struct {
	client         anthropic.Client
	model          anthropic.Model
	maxRetries     int
	initialBackoff time.Duration
}

// NewClient creates an advisor client. Env var ANTHROPIC_API_KEY takes
// precedence over the explicit apiKey.
func NewClient(apiKey, model string) (*Client, error) {
	envKey := os.Getenv("ANTHROPIC_API_KEY")
	if envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or configure advisor.api-key", ErrAPIKeyRequired)
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          anthropic.Model(model),
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

// PlanNote returns a short operator-facing note on the plan's cost and
// risk profile.
func (c *Client) PlanNote(ctx context.Context, plan *types.Plan) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(planPrompt(plan))),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.initialBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := c.client.Messages.New(ctx, params)
		if err == nil {
			if len(message.Content) == 0 {
				return "", fmt.Errorf("unexpected response format: no content blocks")
			}
			content := message.Content[0]
			if content.Type != "text" {
				return "", fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
			}
			return strings.TrimSpace(content.Text), nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("advisor request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func planPrompt(plan *types.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing a data transformation plan before it runs.\n")
	fmt.Fprintf(&b, "Write at most three sentences flagging cost or risk concerns, or say the plan looks routine.\n\n")
	fmt.Fprintf(&b, "Plan %s (%s -> %s): %d steps, estimated $%.2f, %d models changed, %d contract violations (%d breaking).\n",
		plan.PlanID, plan.Base, plan.Target,
		plan.Summary.TotalSteps, plan.Summary.EstimatedCostUSD, len(plan.Summary.ModelsChanged),
		plan.Summary.ContractViolationsCount, plan.Summary.BreakingContractViolations)
	for _, step := range plan.Steps {
		rng := ""
		if step.InputRange != nil {
			rng = " " + step.InputRange.String()
		}
		fmt.Fprintf(&b, "- %s %s%s (est %.0fs, $%.2f): %s\n",
			step.Model, step.RunType, rng, step.EstimatedComputeSeconds, step.EstimatedCostUSD, step.Reason)
	}
	return b.String()
}
