package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/helixml/vecsync/domain/embedding"
	"github.com/helixml/vecsync/domain/vectorizer"
)

const localName = "local"

// ortSingleton holds the process-wide hugot session and one pipeline per
// model directory. ORT allows a single session per process and is not
// thread-safe, so the mutex serializes initialization and inference.
var ortSingleton struct {
	session   *hugot.Session
	pipelines map[string]*pipelines.FeatureExtractionPipeline
	mu        sync.Mutex
}

// HugotEmbedding computes embeddings in process with an ONNX model loaded
// through hugot. The model is a directory holding tokenizer.json and the
// ONNX weights: either modelDir itself, modelDir/<model>, or the first
// subdirectory of modelDir that has a tokenizer.
type HugotEmbedding struct {
	modelDir string
	model    string
}

// NewHugotEmbedding creates a local provider reading models from modelDir.
func NewHugotEmbedding(modelDir, model string) *HugotEmbedding {
	return &HugotEmbedding{modelDir: modelDir, model: model}
}

// Name returns the provider label.
func (h *HugotEmbedding) Name() string { return localName }

// Available reports whether a model exists on disk.
func (h *HugotEmbedding) Available() bool {
	_, err := h.modelPath()
	return err == nil
}

// modelPath resolves the model directory.
func (h *HugotEmbedding) modelPath() (string, error) {
	candidates := []string{}
	if h.model != "" {
		candidates = append(candidates, filepath.Join(h.modelDir, h.model))
	}
	candidates = append(candidates, h.modelDir)
	for _, c := range candidates {
		if hasTokenizer(c) {
			return c, nil
		}
	}

	entries, err := os.ReadDir(h.modelDir)
	if err != nil {
		return "", fmt.Errorf("read model directory %s: %w", h.modelDir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(h.modelDir, entry.Name())
		if hasTokenizer(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no model with tokenizer.json found in %s", h.modelDir)
}

func hasTokenizer(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "tokenizer.json"))
	return err == nil
}

// pipeline returns the shared pipeline for the model. The caller must hold
// ortSingleton.mu.
func (h *HugotEmbedding) pipeline() (*pipelines.FeatureExtractionPipeline, error) {
	path, err := h.modelPath()
	if err != nil {
		return nil, embedding.NewProviderError(embedding.Permanent, localName, 0, "resolve model", err)
	}
	if p, ok := ortSingleton.pipelines[path]; ok {
		return p, nil
	}

	if ortSingleton.session == nil {
		session, err := newHugotSession()
		if err != nil {
			return nil, fmt.Errorf("create hugot session: %w", err)
		}
		ortSingleton.session = session
		ortSingleton.pipelines = make(map[string]*pipelines.FeatureExtractionPipeline)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: path,
		Name:      fmt.Sprintf("vecsync-embeddings-%d", len(ortSingleton.pipelines)),
		Options: []hugot.FeatureExtractionOption{
			pipelines.WithNormalization(),
		},
	}
	p, err := hugot.NewPipeline(ortSingleton.session, config)
	if err != nil {
		return nil, fmt.Errorf("create feature extraction pipeline: %w", err)
	}
	ortSingleton.pipelines[path] = p
	return p, nil
}

// Embed runs the local model over texts, at most MaxLocalBatchSize at once.
func (h *HugotEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) > vectorizer.MaxLocalBatchSize {
		return nil, embedding.NewProviderError(embedding.Permanent, localName, 0,
			fmt.Sprintf("%d texts exceeds capacity %d", len(texts), vectorizer.MaxLocalBatchSize), nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ortSingleton.mu.Lock()
	defer ortSingleton.mu.Unlock()

	p, err := h.pipeline()
	if err != nil {
		return nil, err
	}
	result, err := p.RunPipeline(texts)
	if err != nil {
		return nil, embedding.NewProviderError(embedding.Transient, localName, 0, "run embedding pipeline", err)
	}
	return result.Embeddings, nil
}

// Close is a no-op. The session is process-global and shared across
// instances; it is released when the process exits.
func (h *HugotEmbedding) Close() error {
	return nil
}

var _ Provider = (*HugotEmbedding)(nil)
