package llmseed

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/pkoukk/tiktoken-go"
)

// OpenAIClient implements Client over the OpenAI chat API with a token
// budget per request.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIClient builds the production client from an API key.
func NewOpenAIClient(apiKey, model string, maxTokens int) *OpenAIClient {
	return &OpenAIClient{
		client:    openai.NewClient(apiKey),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Propose implements Client.
func (c *OpenAIClient) Propose(ctx context.Context, prompt string) (string, error) {
	if n, err := CountTokens(c.model, prompt); err == nil && n > c.maxTokens {
		return "", fmt.Errorf("prompt of %d tokens exceeds budget %d", n, c.maxTokens)
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You propose test inputs. Reply with one call per line and literal arguments only.",
			},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

// CountTokens counts prompt tokens for the model, falling back to the
// base encoding for unknown models.
func CountTokens(model, text string) (int, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0, err
		}
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// MockClient replays a canned response, used in tests and offline runs.
type MockClient struct {
	Response string
	Err      error
	Calls    int
}

// Propose implements Client.
func (m *MockClient) Propose(ctx context.Context, prompt string) (string, error) {
	m.Calls++
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}
