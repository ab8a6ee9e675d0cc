package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/helixml/vecsync/domain/embedding"
)

const geminiName = "gemini"

// GeminiConfig holds configuration for the Gemini provider.
type GeminiConfig struct {
	APIKey string
	Model  string
	// ClientOptions are appended after the API key, for endpoints in tests.
	ClientOptions []option.ClientOption
}

// GeminiProvider embeds texts with the Gemini batch embedding API.
type GeminiProvider struct {
	client *genai.Client
	model  *genai.EmbeddingModel
}

// NewGeminiProvider creates a Gemini client.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	opts := append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, cfg.ClientOptions...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := client.EmbeddingModel(cfg.Model)
	model.TaskType = genai.TaskTypeRetrievalDocument
	return &GeminiProvider{client: client, model: model}, nil
}

// Name returns the provider label.
func (p *GeminiProvider) Name() string { return geminiName }

// Close releases the client.
func (p *GeminiProvider) Close() error { return p.client.Close() }

// Embed makes a single batch embedding request for texts.
func (p *GeminiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	batch := p.model.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	res, err := p.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, wrapGeminiError(err)
	}

	if len(res.Embeddings) != len(texts) {
		return nil, embedding.NewProviderError(embedding.Transient, geminiName, http.StatusOK,
			fmt.Sprintf("got %d vectors for %d texts", len(res.Embeddings), len(texts)), errEmbeddingCountMismatch)
	}
	vectors := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		if e == nil {
			return nil, embedding.NewProviderError(embedding.Transient, geminiName, http.StatusOK,
				fmt.Sprintf("missing vector at %d", i), errEmbeddingCountMismatch)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}

func wrapGeminiError(err error) *embedding.ProviderError {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		pe := embedding.NewProviderError(embedding.KindForStatus(gErr.Code), geminiName, gErr.Code, gErr.Message, err)
		if d, ok := parseRetryAfter(gErr.Header, time.Now()); ok {
			pe = pe.WithRetryAfter(d)
		}
		return pe
	}
	return embedding.NewProviderError(embedding.Transient, geminiName, 0, err.Error(), err)
}

var _ Provider = (*GeminiProvider)(nil)
