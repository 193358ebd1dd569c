package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/mwielgat/agentd/core"
)

const summaryInstructions = "Summarize the conversation below in a few sentences. " +
	"Preserve user goals, stated facts, and the results of any tool calls. " +
	"Respond with the summary only."

// Summarizer condenses long conversation histories into a short synopsis
// suitable for storing as session working memory.
type Summarizer struct {
	provider Provider
}

// NewSummarizer builds a summarizer over the given provider.
func NewSummarizer(provider Provider) *Summarizer {
	return &Summarizer{provider: provider}
}

// Summarize produces a synopsis of the given turns. Tool turns are rendered
// as one-line outcomes so the summary reflects what actually happened.
func (s *Summarizer) Summarize(ctx context.Context, turns []core.Turn) (string, error) {
	if len(turns) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, t := range turns {
		switch t.Role {
		case core.RoleUser:
			fmt.Fprintf(&b, "User: %s\n", t.Content)
		case core.RoleAgent:
			fmt.Fprintf(&b, "Assistant: %s\n", t.Content)
		case core.RoleTool:
			fmt.Fprintf(&b, "Tool %s -> %s: %s\n", t.ToolName, t.Outcome, t.Content)
		}
	}

	resp, err := s.provider.Complete(ctx, Request{
		Instructions: summaryInstructions,
		Turns:        []core.Turn{core.NewUserTurn(b.String())},
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
