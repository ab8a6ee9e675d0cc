// Package provider adapts embedding services to the embedding.Embedder
// contract. Adapters make exactly one call per Embed and classify failures
// as embedding.ProviderError; retries belong to the caller.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/helixml/vecsync/domain/embedding"
	"github.com/helixml/vecsync/domain/vectorizer"
)

// ErrMissingAPIKey indicates the environment variable named by api_key_name
// is unset on the worker.
var ErrMissingAPIKey = errors.New("embedding api key not set")

// Provider is an embedding adapter that owns client resources.
type Provider interface {
	embedding.Embedder
	// Name identifies the provider in logs and errors.
	Name() string
	Close() error
}

// Options carries process-level settings shared by all providers.
type Options struct {
	timeout   time.Duration
	modelDir  string
	lookupEnv func(string) (string, bool)
	transport http.RoundTripper
}

// Option is a functional option for provider construction.
type Option func(*Options)

// WithTimeout sets the HTTP timeout for one provider call.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.timeout = d }
}

// WithModelDir sets the directory searched for local models.
func WithModelDir(dir string) Option {
	return func(o *Options) { o.modelDir = dir }
}

// WithLookupEnv replaces os.LookupEnv when resolving API keys.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(o *Options) { o.lookupEnv = fn }
}

// WithTransport sets the base HTTP transport for HTTP providers.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *Options) { o.transport = rt }
}

func newOptions(opts []Option) Options {
	o := Options{
		timeout:   60 * time.Second,
		modelDir:  "models",
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o Options) apiKey(name string) (string, error) {
	key, ok := o.lookupEnv(name)
	if !ok || key == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingAPIKey, name)
	}
	return key, nil
}

func (o Options) httpClient() *http.Client {
	return &http.Client{
		Timeout:   o.timeout,
		Transport: NewRetryAfterTransport(o.transport),
	}
}

// New creates the provider selected by an embedding configuration.
func New(ctx context.Context, cfg vectorizer.Embedding, opts ...Option) (Provider, error) {
	o := newOptions(opts)
	switch c := cfg.(type) {
	case vectorizer.OpenAIEmbedding:
		key, err := o.apiKey(c.APIKeyName)
		if err != nil {
			return nil, err
		}
		return NewOpenAIProvider(OpenAIConfig{
			Name:       vectorizer.ImplOpenAI,
			APIKey:     key,
			BaseURL:    c.BaseURL,
			Model:      c.Model,
			Dimensions: c.Dimensions,
			HTTPClient: o.httpClient(),
		}), nil
	case vectorizer.OllamaEmbedding:
		return NewOpenAIProvider(OpenAIConfig{
			Name:       vectorizer.ImplOllama,
			APIKey:     "ollama",
			BaseURL:    c.BaseURL,
			Model:      c.Model,
			HTTPClient: o.httpClient(),
		}), nil
	case vectorizer.GeminiEmbedding:
		key, err := o.apiKey(c.APIKeyName)
		if err != nil {
			return nil, err
		}
		return NewGeminiProvider(ctx, GeminiConfig{
			APIKey: key,
			Model:  c.Model,
		})
	case vectorizer.LocalEmbedding:
		dir := c.ModelDir
		if dir == "" {
			dir = o.modelDir
		}
		return NewHugotEmbedding(dir, c.Model), nil
	default:
		return nil, fmt.Errorf("%w: unsupported embedding %s", vectorizer.ErrInvalidConfig, cfg.Implementation())
	}
}
