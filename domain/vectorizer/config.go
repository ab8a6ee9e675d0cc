package vectorizer

import "time"

// Implementation names used as discriminators in definitions.
const (
	ImplCharacterTextSplitter          = "character_text_splitter"
	ImplRecursiveCharacterTextSplitter = "recursive_character_text_splitter"
	ImplTemplate                       = "template"
	ImplChunkValue                     = "chunk_value"
	ImplOpenAI                         = "openai"
	ImplOllama                         = "ollama"
	ImplGemini                         = "gemini"
	ImplLocal                          = "local"
	ImplNone                           = "none"
	ImplHNSW                           = "hnsw"
	ImplIVFFlat                        = "ivfflat"
	ImplDiskANN                        = "diskann"
	ImplDatabaseCron                   = "database_cron"
)

// ChunkPlaceholder is the reserved template placeholder bound to the chunk text.
const ChunkPlaceholder = "chunk"

// Config is the validated pipeline configuration of a vectorizer.
type Config struct {
	Chunking   Chunking
	Formatting Formatting
	Embedding  Embedding
	Indexing   Indexing
	Scheduling Scheduling
	Processing Processing
}

// Chunking selects how source text is split into chunks.
type Chunking interface {
	Implementation() string
	Settings() ChunkSettings
	isChunking()
}

// ChunkSettings holds the parameters shared by every chunking strategy.
// Sizes are measured in characters (runes).
type ChunkSettings struct {
	Columns          []string
	Size             int
	Overlap          int
	IsSeparatorRegex bool
}

// CharacterTextSplitter splits on one separator and packs pieces into chunks.
type CharacterTextSplitter struct {
	ChunkSettings
	Separator string
}

// Implementation returns the discriminator.
func (CharacterTextSplitter) Implementation() string { return ImplCharacterTextSplitter }

// Settings returns the shared chunk parameters.
func (c CharacterTextSplitter) Settings() ChunkSettings { return c.ChunkSettings }

func (CharacterTextSplitter) isChunking() {}

// RecursiveCharacterTextSplitter splits with a prioritized separator list,
// recursing into pieces that are still too large.
type RecursiveCharacterTextSplitter struct {
	ChunkSettings
	Separators []string
}

// Implementation returns the discriminator.
func (RecursiveCharacterTextSplitter) Implementation() string {
	return ImplRecursiveCharacterTextSplitter
}

// Settings returns the shared chunk parameters.
func (c RecursiveCharacterTextSplitter) Settings() ChunkSettings { return c.ChunkSettings }

func (RecursiveCharacterTextSplitter) isChunking() {}

// Formatting turns a chunk and its row into the text sent for embedding.
type Formatting interface {
	Implementation() string
	Template() string
	isFormatting()
}

// TemplateFormatting substitutes $column placeholders and $chunk.
type TemplateFormatting struct {
	Text string
}

// Implementation returns the discriminator.
func (TemplateFormatting) Implementation() string { return ImplTemplate }

// Template returns the template text.
func (t TemplateFormatting) Template() string { return t.Text }

func (TemplateFormatting) isFormatting() {}

// ChunkValueFormatting embeds the chunk text unchanged.
type ChunkValueFormatting struct{}

// Implementation returns the discriminator.
func (ChunkValueFormatting) Implementation() string { return ImplChunkValue }

// Template returns "$chunk".
func (ChunkValueFormatting) Template() string { return "$" + ChunkPlaceholder }

func (ChunkValueFormatting) isFormatting() {}

// Embedding selects the provider that computes vectors.
type Embedding interface {
	Implementation() string
	Settings() EmbeddingSettings
	isEmbedding()
}

// EmbeddingSettings holds the parameters shared by every provider.
type EmbeddingSettings struct {
	Model      string
	Dimensions int
	BatchSize  int
}

// OpenAIEmbedding calls the OpenAI embeddings API.
type OpenAIEmbedding struct {
	EmbeddingSettings
	APIKeyName string
	BaseURL    string
}

// Implementation returns the discriminator.
func (OpenAIEmbedding) Implementation() string { return ImplOpenAI }

// Settings returns the shared provider parameters.
func (e OpenAIEmbedding) Settings() EmbeddingSettings { return e.EmbeddingSettings }

func (OpenAIEmbedding) isEmbedding() {}

// OllamaEmbedding calls an Ollama server through its OpenAI-compatible API.
type OllamaEmbedding struct {
	EmbeddingSettings
	BaseURL string
}

// Implementation returns the discriminator.
func (OllamaEmbedding) Implementation() string { return ImplOllama }

// Settings returns the shared provider parameters.
func (e OllamaEmbedding) Settings() EmbeddingSettings { return e.EmbeddingSettings }

func (OllamaEmbedding) isEmbedding() {}

// GeminiEmbedding calls the Google Gemini embedding API.
type GeminiEmbedding struct {
	EmbeddingSettings
	APIKeyName string
}

// Implementation returns the discriminator.
func (GeminiEmbedding) Implementation() string { return ImplGemini }

// Settings returns the shared provider parameters.
func (e GeminiEmbedding) Settings() EmbeddingSettings { return e.EmbeddingSettings }

func (GeminiEmbedding) isEmbedding() {}

// LocalEmbedding runs an ONNX model in process.
type LocalEmbedding struct {
	EmbeddingSettings
	ModelDir string
}

// Implementation returns the discriminator.
func (LocalEmbedding) Implementation() string { return ImplLocal }

// Settings returns the shared provider parameters.
func (e LocalEmbedding) Settings() EmbeddingSettings { return e.EmbeddingSettings }

func (LocalEmbedding) isEmbedding() {}

// Indexing selects the ANN index built over the store.
type Indexing interface {
	Implementation() string
	// Threshold returns the creation policy; false means never index.
	Threshold() (IndexThreshold, bool)
	isIndexing()
}

// IndexThreshold decides when an index is created.
type IndexThreshold struct {
	MinRows              int64
	CreateWhenQueueEmpty bool
	Opclass              string
}

// NoIndexing never creates an index.
type NoIndexing struct{}

// Implementation returns the discriminator.
func (NoIndexing) Implementation() string { return ImplNone }

// Threshold reports that no index is wanted.
func (NoIndexing) Threshold() (IndexThreshold, bool) { return IndexThreshold{}, false }

func (NoIndexing) isIndexing() {}

// HNSWIndexing builds a pgvector HNSW index.
type HNSWIndexing struct {
	IndexThreshold
	M              int
	EFConstruction int
}

// Implementation returns the discriminator.
func (HNSWIndexing) Implementation() string { return ImplHNSW }

// Threshold returns the creation policy.
func (i HNSWIndexing) Threshold() (IndexThreshold, bool) { return i.IndexThreshold, true }

func (HNSWIndexing) isIndexing() {}

// IVFFlatIndexing builds a pgvector IVFFlat index. Zero Lists derives the
// list count from the row count at creation time.
type IVFFlatIndexing struct {
	IndexThreshold
	Lists int
}

// Implementation returns the discriminator.
func (IVFFlatIndexing) Implementation() string { return ImplIVFFlat }

// Threshold returns the creation policy.
func (i IVFFlatIndexing) Threshold() (IndexThreshold, bool) { return i.IndexThreshold, true }

func (IVFFlatIndexing) isIndexing() {}

// DiskANNIndexing builds a pgvectorscale StreamingDiskANN index.
type DiskANNIndexing struct {
	IndexThreshold
}

// Implementation returns the discriminator.
func (DiskANNIndexing) Implementation() string { return ImplDiskANN }

// Threshold returns the creation policy.
func (i DiskANNIndexing) Threshold() (IndexThreshold, bool) { return i.IndexThreshold, true }

func (DiskANNIndexing) isIndexing() {}

// Scheduling selects what triggers worker passes besides the poll loop.
type Scheduling interface {
	Implementation() string
	isScheduling()
}

// NoScheduling relies on external workers polling.
type NoScheduling struct{}

// Implementation returns the discriminator.
func (NoScheduling) Implementation() string { return ImplNone }

func (NoScheduling) isScheduling() {}

// CronScheduling registers a database job that signals workers every Interval.
type CronScheduling struct {
	Interval time.Duration
}

// Implementation returns the discriminator.
func (CronScheduling) Implementation() string { return ImplDatabaseCron }

func (CronScheduling) isScheduling() {}

// Processing controls how a worker pass drains the queue.
type Processing struct {
	BatchSize   int
	Concurrency int
}
