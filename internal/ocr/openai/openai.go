// Package openai reads medication labels through an OpenAI-compatible chat
// completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/ocr"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

// Client implements label text extraction and condition inference
type Client struct {
	apiKey  string
	model   string
	baseURL string
	httpc   *http.Client
	logger  *zap.Logger
}

// New creates a client. Empty model and base URL fall back to the defaults.
func New(apiKey, model, baseURL string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key is empty")
	}
	if model = strings.TrimSpace(model); model == "" {
		model = DefaultModel
	}
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL == "" {
		baseURL = DefaultBaseURL
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   10,
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		httpc:   &http.Client{Transport: tr},
		logger:  logger,
	}, nil
}

// WithHTTPClient overrides the HTTP client
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	if h != nil {
		c.httpc = h
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ExtractText transcribes the label in image
func (c *Client) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("%w: empty image", medication.ErrExtractionFailed)
	}
	mime := ocr.PickMIME(mimeType, image)
	if !ocr.SupportedImage(mime) {
		return "", fmt.Errorf("%w: unsupported image type %s", medication.ErrExtractionFailed, mime)
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)

	text, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: ocr.ExtractionInstruction},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: "Transcribe this label."},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			}},
		},
	})
	if err != nil {
		return "", err
	}
	text = ocr.StripCodeFences(text)
	if text == "" {
		return "", fmt.Errorf("%w: model returned no text", medication.ErrExtractionFailed)
	}
	return text, nil
}

// Suggest ranks conditions the medication is commonly prescribed for
func (c *Client) Suggest(ctx context.Context, rec medication.Record) ([]medication.SuggestedCondition, error) {
	if rec.DisplayName() == "" {
		return nil, nil
	}
	text, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: ocr.ConditionsInstruction},
			{Role: "user", Content: ocr.ConditionsPrompt(rec)},
		},
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return nil, err
	}
	return ocr.DecodeConditions(text)
}

func (c *Client) complete(ctx context.Context, body chatRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("openai: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai %d: %s", resp.StatusCode, truncate(raw, 512))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("openai: bad response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	c.logger.Debug("chat completion", zap.String("model", c.model), zap.Int("chars", len(out.Choices[0].Message.Content)))
	return out.Choices[0].Message.Content, nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
