package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/wxdecoder/wxdecoder/internal/ai"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

// Client handles communication with OpenAI-compatible chat APIs
type Client struct {
	apiKey     string
	httpClient *http.Client
	logger     *logger.Logger
	baseURL    string // Stored without trailing slash

	chatCompletionsPath string
}

// NewClient creates a new OpenAI client
func NewClient(apiKey string, log *logger.Logger, baseURL string, timeout time.Duration) *Client {
	// Determine base URL (prefer explicit parameter, then env, then default)
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		if env := os.Getenv("OPENAI_API_BASE"); env != "" {
			base = env
		} else {
			base = "https://api.openai.com"
		}
	}
	base = strings.TrimRight(base, "/")

	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		apiKey:  apiKey,
		logger:  log.Named("openai"),
		baseURL: base,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		chatCompletionsPath: "/v1/chat/completions",
	}
}

// Name implements ai.ChatProvider
func (c *Client) Name() string { return "openai" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// ChatCompletion implements ai.ChatProvider
func (c *Client) ChatCompletion(ctx context.Context, messages []ai.ChatMessage, config ai.ChatConfig) (*ai.Completion, error) {
	apiURL := c.baseURL + c.chatCompletionsPath

	reqMessages := make([]message, len(messages))
	for i, msg := range messages {
		reqMessages[i] = message{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	reqBody := chatRequest{
		Model:       config.Model,
		Messages:    reqMessages,
		MaxTokens:   config.MaxTokens,
		Temperature: config.Temperature,
	}
	if config.JSON {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chat completion failed: %s %s", resp.Status, string(body))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	model := result.Model
	if model == "" {
		model = config.Model
	}
	c.logger.Debug("Chat completion finished",
		logger.String("model", model),
		logger.Int("tokens", result.Usage.TotalTokens),
		logger.Duration("elapsed", time.Since(start)))

	return &ai.Completion{
		Text:        result.Choices[0].Message.Content,
		Model:       model,
		TotalTokens: result.Usage.TotalTokens,
	}, nil
}
