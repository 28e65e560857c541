package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/samber/lo"

	"chat-relay/internal/domain"
)

const (
	defaultBaseURL = "https://api.openai.com/v1/"
	DefaultModel   = "gpt-4o-mini"
)

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d: %v", e.StatusCode, e.Err)
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI-compatible chat client.
type Client struct {
	api     openaisdk.Client
	model   string
	baseURL string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		c.model = strings.TrimSpace(model)
	}
}

// NewClient creates a Client. The underlying SDK retries are disabled: a
// failed call is reported once and the caller substitutes its fallback.
func NewClient(apiKey string, httpClient *http.Client, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{model: DefaultModel, baseURL: defaultBaseURL}
	for _, opt := range opts {
		opt(c)
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}

	c.api = openaisdk.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(c.baseURL),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)
	return c, nil
}

func (c *Client) Model() string {
	return c.model
}

// Generate sends the system instruction followed by turns as a chat
// completion and returns the first choice.
func (c *Client) Generate(ctx context.Context, turns domain.History, systemInstruction string) (string, error) {
	if len(turns) == 0 {
		return "", errors.New("openai: at least one turn is required")
	}

	resp, err := c.api.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(c.model),
		Messages: buildMessages(turns, systemInstruction),
	})
	if err != nil {
		var apiErr *openaisdk.Error
		if errors.As(err, &apiErr) {
			return "", &HTTPStatusError{StatusCode: apiErr.StatusCode, Err: err}
		}
		return "", errors.Wrap(err, "openai: request failed")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("openai: empty response")
	}
	return text, nil
}

func buildMessages(turns domain.History, systemInstruction string) []openaisdk.ChatCompletionMessageParamUnion {
	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	if strings.TrimSpace(systemInstruction) != "" {
		messages = append(messages, openaisdk.SystemMessage(systemInstruction))
	}
	return append(messages, lo.Map(turns, func(t domain.Turn, _ int) openaisdk.ChatCompletionMessageParamUnion {
		if t.Role == domain.RoleModel {
			return openaisdk.AssistantMessage(t.Text)
		}
		return openaisdk.UserMessage(t.Text)
	})...)
}
