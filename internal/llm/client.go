package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the OpenAI compatible endpoint used when none is
	// configured
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is the generation model used when none is configured
	DefaultModel = "gpt-4"

	defaultTimeout     = time.Second * 60
	defaultMaxTokens   = 512
	defaultTemperature = 0.7
)

// Config holds the settings for the chat completions endpoint. Any OpenAI
// compatible server works, the base URL is configurable.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client is responsible for requesting free-text generation from the
// language model runtime.
type Client struct {
	logger *zap.Logger
	cfg    Config
	c      *http.Client
}

func NewClient(logger *zap.Logger, cfg Config) (*Client, error) {
	if logger == nil {
		return nil, errors.New("unable to initialize llm client: missing logger dependency")
	}

	if cfg.APIKey == "" {
		return nil, errors.New("unable to initialize llm client: missing api key")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}

	return &Client{
		logger: logger,
		cfg:    cfg,
		c:      &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends the system directives and prompt to the chat completions
// endpoint and returns the raw generated text
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	logger := c.logger.With(zap.String("model", c.cfg.Model))

	payload := chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	}

	b, err := json.Marshal(payload)
	if err != nil {
		const msg = "unable to marshal completion payload"
		logger.Error(msg, zap.Error(err))
		return "", fmt.Errorf(msg+": %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(b),
	)
	if err != nil {
		const msg = "unable to create completion request"
		logger.Error(msg, zap.Error(err))
		return "", fmt.Errorf(msg+": %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.c.Do(req)
	if err != nil {
		const msg = "unable to request completion"
		logger.Error(msg, zap.Error(err))
		return "", fmt.Errorf(msg+": %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.Body != nil {
			if b, err := ioutil.ReadAll(resp.Body); err == nil {
				logger.Error("completion error body", zap.String("body", string(b)))
			}
		}
		const msg = "received non-200 status code from completion endpoint"
		logger.Error(msg, zap.Int("statusCode", resp.StatusCode))
		return "", fmt.Errorf(msg+": %d", resp.StatusCode)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		const msg = "unable to decode completion response"
		logger.Error(msg, zap.Error(err))
		return "", fmt.Errorf(msg+": %w", err)
	}

	if len(cr.Choices) == 0 {
		const msg = "completion response contained no choices"
		logger.Error(msg)
		return "", errors.New(msg)
	}

	logger.Debug(
		"completion received",
		zap.Duration("duration", time.Since(start)),
		zap.Int("length", len(cr.Choices[0].Message.Content)),
	)

	return cr.Choices[0].Message.Content, nil
}
