package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"

	maxResponseSize = 1 << 20
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

// OpenAI talks to any service implementing the OpenAI chat completions API.
type OpenAI struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}

	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}

	return &OpenAI{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  cfg.Client,
	}, nil
}

func (o *OpenAI) Name() string { return "openai/" + o.model }

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	body := openAIRequest{
		Model:       o.model,
		Messages:    make([]message, 0, len(req.Messages)+1),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	if req.System != "" {
		body.Messages = append(body.Messages, message{Role: "system", Content: req.System})
	}

	for _, m := range req.Messages {
		body.Messages = append(body.Messages, message{Role: string(m.Role), Content: m.Content})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("llm: can't marshal request: %w", err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("llm: can't create request: %w", err)
	}

	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(hreq)
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("llm: can't read response: %w", err)
	}

	var result openAIResponse
	jsonErr := json.Unmarshal(raw, &result)

	if resp.StatusCode != http.StatusOK {
		if jsonErr == nil && result.Error != nil {
			return "", fmt.Errorf("%w: status %d: %s", ErrBadResponse, resp.StatusCode, result.Error.Message)
		}
		return "", fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}

	if jsonErr != nil {
		return "", fmt.Errorf("llm: can't parse response: %w", jsonErr)
	}

	if len(result.Choices) == 0 {
		return "", ErrEmptyReply
	}

	text := strings.TrimSpace(result.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyReply
	}

	return text, nil
}
