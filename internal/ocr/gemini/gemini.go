// Package gemini reads medication labels and suggests conditions with the
// Gemini vision models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/ocr"
)

// DefaultModel is used when no model is configured
const DefaultModel = "gemini-1.5-flash"

// Client implements label text extraction and condition inference
type Client struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// New connects to the Gemini API
func New(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini: api key is empty")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Client{client: cl, model: model, logger: logger}, nil
}

// Close releases the underlying connection
func (c *Client) Close() error {
	return c.client.Close()
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

	m := c.newModel(ocr.ExtractionInstruction, "text/plain")
	text, err := c.generate(ctx, m,
		genai.Text("Transcribe this label."),
		genai.Blob{MIMEType: mime, Data: image},
	)
	if err != nil {
		return "", err
	}
	text = ocr.StripCodeFences(text)
	if text == "" {
		return "", fmt.Errorf("%w: model returned no text", medication.ErrExtractionFailed)
	}
	c.logger.Debug("label transcribed",
		zap.String("model", c.model),
		zap.Int("lines", strings.Count(text, "\n")+1))
	return text, nil
}

// Suggest ranks conditions the medication is commonly prescribed for
func (c *Client) Suggest(ctx context.Context, rec medication.Record) ([]medication.SuggestedCondition, error) {
	if rec.DisplayName() == "" {
		return nil, nil
	}
	m := c.newModel(ocr.ConditionsInstruction, "application/json")
	text, err := c.generate(ctx, m, genai.Text(ocr.ConditionsPrompt(rec)))
	if err != nil {
		return nil, err
	}
	return ocr.DecodeConditions(text)
}

func (c *Client) newModel(instruction, responseMIME string) *genai.GenerativeModel {
	m := c.client.GenerativeModel(c.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: responseMIME,
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(instruction)},
	}
	return m
}

func (c *Client) generate(ctx context.Context, m *genai.GenerativeModel, parts ...genai.Part) (string, error) {
	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("gemini %s: %w", c.model, err)
	}
	return firstText(resp), nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		var b strings.Builder
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
