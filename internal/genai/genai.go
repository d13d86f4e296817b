// Package genai provides GenAI-enhanced operations using OpenAI API.

package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const intentSystemPrompt = `You classify assistant replies from a lead-management chat.
Answer with exactly "yes" if the reply invites the lead to schedule, book, or pick a time for an appointment, otherwise answer exactly "no".`

// ClientInterface defines the GenAI operations used by LeadPipe. It
// matches the flow package's IntentClassifier so the client can be plugged
// into the augmentation pipeline.
type ClientInterface interface {
	DetectBookingIntent(ctx context.Context, replyContent, lastUserUtterance string) (bool, error)
}

// Client wraps the OpenAI chat completion API for booking intent detection.
type Client struct {
	client openai.Client
	model  openai.ChatModel
}

// NewClient initializes a new GenAI client using the OPENAI_API_KEY environment variable.
func NewClient() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  openai.ChatModelGPT4oMini,
	}, nil
}

// DetectBookingIntent asks the model whether the reply steers the lead
// toward scheduling an appointment.
func (c *Client) DetectBookingIntent(ctx context.Context, replyContent, lastUserUtterance string) (bool, error) {
	userPrompt := fmt.Sprintf("Assistant reply: %q\nLast user message: %q", replyContent, lastUserUtterance)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(intentSystemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		return false, fmt.Errorf("intent completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return false, fmt.Errorf("no choices returned")
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content))
	slog.Debug("GenAI intent classification", "answer", answer)
	return strings.HasPrefix(answer, "yes"), nil
}
