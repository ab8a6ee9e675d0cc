package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/helixml/vecsync/domain/embedding"
)

// errEmbeddingCountMismatch indicates the API returned a different number of
// vectors than texts. Partial responses happen under upstream load, so the
// failure is transient.
var errEmbeddingCountMismatch = errors.New("embedding response count mismatch")

// errUpstreamProviderFailure indicates HTTP 200 with no data, no model and
// no usage. Routing proxies return this when every upstream is down.
var errUpstreamProviderFailure = errors.New("upstream provider failure")

// OpenAIConfig holds configuration for an OpenAI-compatible provider.
type OpenAIConfig struct {
	// Name labels errors; "openai" or "ollama".
	Name       string
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	HTTPClient *http.Client
}

// OpenAIProvider embeds texts through the OpenAI embeddings API or any
// compatible endpoint such as Ollama's /v1.
type OpenAIProvider struct {
	client     *openai.Client
	name       string
	model      string
	dimensions int
}

// NewOpenAIProvider creates a provider from configuration.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	} else {
		config.HTTPClient = &http.Client{Transport: NewRetryAfterTransport(nil)}
	}

	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(config),
		name:       name,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// Name returns the provider label.
func (p *OpenAIProvider) Name() string { return p.name }

// Close is a no-op for HTTP providers.
func (p *OpenAIProvider) Close() error { return nil }

// Embed makes a single embeddings request for texts.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.model),
		Input: texts,
	}
	// Only the text-embedding-3 family accepts a requested size.
	if p.dimensions > 0 && strings.HasPrefix(p.model, "text-embedding-3") {
		req.Dimensions = p.dimensions
	}

	hintCtx, hint := WithRetryHint(ctx)
	resp, err := p.client.CreateEmbeddings(hintCtx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, p.wrapError(err).WithRetryAfter(hint.Delay())
	}

	if len(resp.Data) == 0 && string(resp.Model) == "" && resp.Usage.TotalTokens == 0 {
		return nil, embedding.NewProviderError(embedding.Permanent, p.name, http.StatusOK,
			"HTTP 200 with no embedding data, no model and zero usage", errUpstreamProviderFailure)
	}
	if len(resp.Data) != len(texts) {
		return nil, embedding.NewProviderError(embedding.Transient, p.name, http.StatusOK,
			fmt.Sprintf("got %d vectors for %d texts", len(resp.Data), len(texts)), errEmbeddingCountMismatch)
	}

	vectors := make([][]float32, len(texts))
	for i, data := range resp.Data {
		idx := data.Index
		if idx < 0 || idx >= len(texts) || vectors[idx] != nil {
			idx = i
		}
		vectors[idx] = data.Embedding
	}
	return vectors, nil
}

// wrapError classifies an OpenAI client error.
func (p *OpenAIProvider) wrapError(err error) *embedding.ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return embedding.NewProviderError(embedding.KindForStatus(apiErr.HTTPStatusCode), p.name, apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		kind := embedding.Transient
		if reqErr.HTTPStatusCode != 0 {
			kind = embedding.KindForStatus(reqErr.HTTPStatusCode)
		}
		return embedding.NewProviderError(kind, p.name, reqErr.HTTPStatusCode, reqErr.Error(), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return embedding.NewProviderError(embedding.Transient, p.name, 0, netErr.Error(), err)
	}

	return embedding.NewProviderError(embedding.Transient, p.name, 0, err.Error(), err)
}

var _ Provider = (*OpenAIProvider)(nil)
