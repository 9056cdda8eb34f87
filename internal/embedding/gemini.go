package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "text-embedding-004"

// GeminiVectorizer calls the Gemini embedContent API.
type GeminiVectorizer struct {
	client    *genai.Client
	modelName string
}

// NewGeminiVectorizer creates a vectorizer configured for the Gemini API backend.
func NewGeminiVectorizer(ctx context.Context, apiKey, model string) (*GeminiVectorizer, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrEmptyAPIKey
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultGeminiModel
	}

	return &GeminiVectorizer{client: client, modelName: model}, nil
}

// Model implements Vectorizer.
func (g *GeminiVectorizer) Model() string {
	return "gemini/" + g.modelName
}

// Embed implements Vectorizer.
func (g *GeminiVectorizer) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.modelName, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed content: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, errors.New("gemini embed content: empty response")
	}
	return toFloat64(resp.Embeddings[0].Values), nil
}
