package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"phai/internal/domain"
)

const (
	DefaultModel = "gemini-2.5-flash"

	DefaultSystemPrompt = "You are PHAI, a friendly and concise assistant that helps the user with their projects. " +
		"Answer clearly, prefer short paragraphs and lists, and use Google Search when the question needs current information. " +
		"When you reference a web page, format it as a markdown link."

	// InvalidAPIKeyText is the reply shown when the backend rejects the
	// configured credential.
	InvalidAPIKeyText = "There seems to be an issue with the API configuration. Please check the API key."
	TimeoutText       = "Sorry, PHAI took too long to respond. Please try again."
	unknownErrorText  = "Sorry, I encountered an unknown error. Please try again."
)

var ErrMissingAPIKey = errors.New("gemini: api key is not configured")

// chatAPI is the part of *genai.Chat used by Session. Defined here for
// testability.
type chatAPI interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type chatCreator func(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatAPI, error)

// Client opens Gemini chat sessions that share one model, system
// instruction and tool set.
type Client struct {
	model        string
	systemPrompt string
	googleSearch bool
	baseURL      string
	httpClient   *http.Client
	logger       *slog.Logger
	create       chatCreator
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(c *Client) { c.systemPrompt = strings.TrimSpace(prompt) }
}

// WithGoogleSearch toggles search grounding for every session.
func WithGoogleSearch(enabled bool) Option {
	return func(c *Client) { c.googleSearch = enabled }
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSpace(baseURL) }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func defaults(opts []Option) *Client {
	c := &Client{
		model:        DefaultModel,
		systemPrompt: DefaultSystemPrompt,
		googleSearch: true,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClient builds a client for the Gemini API. It fails with
// ErrMissingAPIKey when apiKey is empty.
func NewClient(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	c := defaults(opts)

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	sdk, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.create = func(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatAPI, error) {
		chat, err := sdk.Chats.Create(ctx, model, config, history)
		if err != nil {
			return nil, err
		}
		return chat, nil
	}
	return c, nil
}

func (c *Client) Model() string { return c.model }

// NewSession opens a chat seeded with history.
func (c *Client) NewSession(ctx context.Context, history []domain.HistoryEntry) (*Session, error) {
	if c.create == nil {
		return nil, errors.New("gemini: client not initialized")
	}
	chat, err := c.create(ctx, c.model, c.sessionConfig(), toContents(history))
	if err != nil {
		return nil, fmt.Errorf("gemini: create chat: %w", err)
	}
	return &Session{chat: chat, logger: c.logger}, nil
}

func (c *Client) sessionConfig() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if c.systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(c.systemPrompt, genai.RoleUser)
	}
	if c.googleSearch {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return cfg
}

func toContents(history []domain.HistoryEntry) []*genai.Content {
	if len(history) == 0 {
		return nil
	}
	out := make([]*genai.Content, 0, len(history))
	for _, h := range history {
		role := genai.Role(genai.RoleUser)
		if h.Role == domain.RoleModel {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(h.Text, role))
	}
	return out
}
