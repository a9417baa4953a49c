package summarize

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI summarizes through any OpenAI-compatible chat completion API.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAI creates an OpenAI-backed summarizer. An empty baseURL uses the
// public endpoint; an empty model uses gpt-4o-mini.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: 256,
	}
}

func (o *OpenAI) Summarize(ctx context.Context, texts []string, targetLevel int) (string, error) {
	var b strings.Builder
	for i, t := range texts {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, t)
	}

	instruction := "Summarize the following conversation turns into one dense paragraph. Keep names, numbers, decisions and open questions."
	if targetLevel > 1 {
		instruction = fmt.Sprintf("Merge the following level-%d summaries into one denser summary. Keep names, numbers, decisions and open questions.", targetLevel-1)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instruction},
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai summarize: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai summarize: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
