package ai

import (
	"context"
)

// Roles understood by every provider
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage represents a message in a chat conversation
type ChatMessage struct {
	Role    string
	Content string
}

// ChatConfig holds configuration for chat completions
type ChatConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// JSON asks the provider for a single JSON object response
	JSON bool
}

// Completion is a provider response plus accounting
type Completion struct {
	Text        string
	Model       string
	TotalTokens int
}

// ChatProvider defines the interface for text-to-text chat completions
type ChatProvider interface {
	// ChatCompletion sends a conversation to the LLM and returns its response
	ChatCompletion(ctx context.Context, messages []ChatMessage, config ChatConfig) (*Completion, error)

	// Name identifies the provider in logs
	Name() string
}

// SplitSystem separates system instructions from the conversation turns
func SplitSystem(messages []ChatMessage) (system string, turns []ChatMessage) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		turns = append(turns, m)
	}
	return system, turns
}
