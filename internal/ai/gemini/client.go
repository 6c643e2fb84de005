package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/wxdecoder/wxdecoder/internal/ai"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

// Client represents a Google Gemini API client
type Client struct {
	genai  *genai.Client
	logger *logger.Logger
}

// NewClient creates a new Gemini client. baseURL is optional and only used to
// point the SDK at a compatible endpoint.
func NewClient(ctx context.Context, apiKey, baseURL string, timeout time.Duration, log *logger.Logger) (*Client, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(baseURL, "/") + "/"}
	}

	gc, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Client{genai: gc, logger: log.Named("gemini")}, nil
}

// Name implements ai.ChatProvider
func (c *Client) Name() string { return "gemini" }

// ChatCompletion implements ai.ChatProvider
func (c *Client) ChatCompletion(ctx context.Context, messages []ai.ChatMessage, config ai.ChatConfig) (*ai.Completion, error) {
	system, turns := ai.SplitSystem(messages)

	contents := make([]*genai.Content, 0, len(turns))
	for _, msg := range turns {
		role := genai.Role(genai.RoleUser)
		if msg.Role == ai.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("no user content")
	}

	gcfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(config.Temperature)),
	}
	if config.MaxTokens > 0 {
		gcfg.MaxOutputTokens = int32(config.MaxTokens)
	}
	if system != "" {
		gcfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if config.JSON {
		gcfg.ResponseMIMEType = "application/json"
	}

	start := time.Now()
	resp, err := c.genai.Models.GenerateContent(ctx, config.Model, contents, gcfg)
	if err != nil {
		return nil, fmt.Errorf("gemini chat failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("no content in gemini response")
	}

	out := &ai.Completion{Text: text, Model: config.Model}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		out.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	c.logger.Debug("Gemini generation finished",
		logger.String("model", out.Model),
		logger.Int("tokens", out.TotalTokens),
		logger.Duration("elapsed", time.Since(start)))
	return out, nil
}
