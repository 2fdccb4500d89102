package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const defaultModel = "gpt-4o-mini"

// Client generates text with the OpenAI chat completion API
type Client struct {
	client  openai.Client
	model   string
	timeout time.Duration
	backoff func() backoff.BackOff
}

// NewClient creates an OpenAI backed generator
func NewClient(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("no api key")
	}
	if model == "" {
		model = defaultModel
	}
	res := Client{}
	res.client = openai.NewClient(option.WithAPIKey(apiKey))
	res.model = model
	res.timeout = time.Minute * 2
	res.backoff = newSimpleBackoff
	return &res, nil
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.model
}

// Generate runs one system+user prompt pair and returns the completion text
func (c *Client) Generate(ctx context.Context, system, user string) (string, error) {
	return goapp.InvokeWithBackoff(ctx, func() (string, bool, error) {
		ctx, cancelF := context.WithTimeout(ctx, c.timeout)
		defer cancelF()
		completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: shared.ChatModel(c.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(user),
			},
		})
		if err != nil {
			return "", isRateLimitError(err), fmt.Errorf("can't call openai: %w", err)
		}
		if len(completion.Choices) == 0 {
			return "", false, fmt.Errorf("no completion choices returned")
		}
		return completion.Choices[0].Message.Content, false, nil
	}, c.backoff())
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func newSimpleBackoff() backoff.BackOff {
	res := backoff.NewExponentialBackOff()
	return backoff.WithMaxRetries(res, 3)
}
