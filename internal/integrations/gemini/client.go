package gemini

import (
	"context"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"google.golang.org/genai"

	"chat-relay/internal/domain"
)

// DefaultModel is used when no model identifier is configured.
const DefaultModel = "gemini-2.0-flash"

// Client generates replies with the Gemini API.
type Client struct {
	models *genai.Models
	model  string
}

type Option func(*options)

type options struct {
	model      string
	httpClient *http.Client
}

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(o *options) {
		o.model = strings.TrimSpace(model)
	}
}

// WithHTTPClient sets the HTTP client used by the underlying genai client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// NewClient creates a Gemini API client. The client is safe for concurrent
// use and is meant to be created once per process.
func NewClient(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key must not be empty")
	}
	o := options{model: DefaultModel}
	for _, opt := range opts {
		opt(&o)
	}
	if o.model == "" {
		o.model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: o.httpClient,
	})
	if err != nil {
		return nil, errors.Wrap(err, "gemini: create client")
	}
	return &Client{models: client.Models, model: o.model}, nil
}

// Model returns the model identifier requests are sent to.
func (c *Client) Model() string {
	return c.model
}

// Generate sends turns to the model with systemInstruction and returns the
// reply text.
func (c *Client) Generate(ctx context.Context, turns domain.History, systemInstruction string) (string, error) {
	if len(turns) == 0 {
		return "", errors.New("gemini: at least one turn is required")
	}

	cfg := &genai.GenerateContentConfig{}
	if strings.TrimSpace(systemInstruction) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	resp, err := c.models.GenerateContent(ctx, c.model, toContents(turns), cfg)
	if err != nil {
		return "", errors.Wrap(err, "gemini: generate content")
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("gemini: empty response")
	}
	return text, nil
}

func toContents(turns domain.History) []*genai.Content {
	return lo.Map(turns, func(t domain.Turn, _ int) *genai.Content {
		if t.Role == domain.RoleModel {
			return genai.NewContentFromText(t.Text, genai.RoleModel)
		}
		return genai.NewContentFromText(t.Text, genai.RoleUser)
	})
}
