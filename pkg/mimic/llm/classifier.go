// Package llm – classifier.go decides whether an un-triggered message burst
// is still a conversational continuation directed at the agent. Runs a
// cheap completion with a strict JSON-only contract.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Classification is the classifier's verdict on a message burst.
type Classification struct {
	// Continuation is true when the latest message logically continues
	// an exchange with the agent.
	Continuation bool `json:"continuation"`

	// AboutUser is true when the message mentions or discusses the agent
	// without conversing with it.
	AboutUser bool `json:"aboutUser"`

	// Reason is the model's explanation for the verdict.
	Reason string `json:"reason"`
}

// Classifier answers "does this burst deserve a reply" using a Completer.
type Classifier struct {
	completer Completer
	model     string
	logger    *slog.Logger
}

// NewClassifier creates a classifier backed by the given completer.
func NewClassifier(completer Completer, model string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		completer: completer,
		model:     model,
		logger:    logger.With("component", "classifier"),
	}
}

// Classify asks the model whether the latest message in the rendered
// history continues a conversation with selfName. Malformed model output
// is treated as "not a continuation" rather than an error: a misbehaving
// classifier must never abort a burst.
func (c *Classifier) Classify(ctx context.Context, selfName, renderedHistory string) (Classification, error) {
	instructions := strings.Join([]string{
		"you are a chat history classifier.",
		fmt.Sprintf("decide if the latest chat message continues a conversation WITH the user named %q.", selfName),
		fmt.Sprintf("- continuation is true if the message is replying in a way that logically continues an exchange with the user %q.", "@"+selfName),
		fmt.Sprintf("- aboutUser is true if the message mentions or discusses %q even if not conversing.", "@"+selfName),
		"reply with ONLY a JSON object; no extra text",
	}, "\n")

	resp, err := c.completer.Complete(ctx, &Request{
		Model: c.model,
		Messages: []Message{
			{Role: RoleSystem, Content: instructions},
			{Role: RoleUser, Content: "chat history of the channel:\n\n" + renderedHistory},
		},
	})
	if err != nil {
		return Classification{}, fmt.Errorf("classify: %w", err)
	}

	var result Classification
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &result); err != nil {
		c.logger.Warn("classifier returned malformed JSON, treating as no-continuation",
			"content", truncate(resp.Content, 200))
		return Classification{}, nil
	}

	c.logger.Debug("burst classified",
		"continuation", result.Continuation,
		"about_user", result.AboutUser,
		"reason", result.Reason,
	)
	return result, nil
}

// stripFences removes markdown code fences some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
