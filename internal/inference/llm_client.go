// Package inference turns an aggregated conversation context into a reply
// using the configured model provider.
package inference

import "context"

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one turn sent to a model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// boundClient pins a model id onto every request.
type boundClient struct {
	client  LLMClient
	modelID string
}

func (b boundClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	if b.modelID != "" {
		req.Model = b.modelID
	}
	return b.client.Complete(ctx, req)
}
