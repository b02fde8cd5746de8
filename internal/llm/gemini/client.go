// Package gemini implements llm.Client on the Google Gen AI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"jobtracker-backend/internal/llm"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client sends prompts to a Gemini model and asks for JSON output.
type Client struct {
	models generator
	model  string
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newClient(client.Models, model), nil
}

func newClient(models generator, model string) *Client {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &Client{models: models, model: model}
}

// Model reports the configured model name.
func (c *Client) Model() string { return c.model }

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt cannot be empty")
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(0.1)),
		ResponseMIMEType: "application/json",
	}
	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	if err := validateResponse(resp); err != nil {
		return "", fmt.Errorf("gemini invalid response: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("gemini returned empty text")
	}
	return text, nil
}

func validateResponse(resp *genai.GenerateContentResponse) error {
	if resp == nil {
		return errors.New("response is nil")
	}
	if len(resp.Candidates) == 0 {
		return errors.New("no candidates in response")
	}
	if resp.Candidates[0].Content == nil {
		return errors.New("candidate content is nil")
	}
	if len(resp.Candidates[0].Content.Parts) == 0 {
		return errors.New("no parts in content")
	}
	return nil
}

var _ llm.Client = (*Client)(nil)
