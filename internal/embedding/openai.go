package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "text-embedding-3-small"

// OpenAIVectorizer calls the OpenAI embeddings endpoint.
type OpenAIVectorizer struct {
	client *openai.Client
	model  string
}

// NewOpenAIVectorizer creates a vectorizer for model, defaulting to text-embedding-3-small.
// baseURL may be empty to use the public API.
func NewOpenAIVectorizer(apiKey, model, baseURL string) (*OpenAIVectorizer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrEmptyAPIKey
	}
	if model = strings.TrimSpace(model); model == "" {
		model = defaultOpenAIModel
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIVectorizer{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Model implements Vectorizer.
func (o *OpenAIVectorizer) Model() string {
	return "openai/" + o.model
}

// Embed implements Vectorizer.
func (o *OpenAIVectorizer) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embeddings: empty response")
	}
	return toFloat64(resp.Data[0].Embedding), nil
}
