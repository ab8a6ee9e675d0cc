package vectorizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition defaults.
const (
	DefaultChunkSize          = 800
	DefaultChunkOverlap       = 400
	DefaultBatchSize          = 50
	MaxBatchSize              = 2048
	DefaultConcurrency        = 1
	MaxConcurrency            = 50
	DefaultProviderBatchSize  = 100
	MaxLocalBatchSize         = 10
	MaxDimensions             = 16000
	DefaultOpenAIModel        = "text-embedding-3-small"
	DefaultOpenAIKeyName      = "OPENAI_API_KEY"
	DefaultOllamaBaseURL      = "http://localhost:11434/v1"
	DefaultGeminiModel        = "text-embedding-004"
	DefaultGeminiKeyName      = "GEMINI_API_KEY"
	DefaultIndexMinRows       = 100000
	DefaultOpclass            = "vector_cosine_ops"
	DefaultHNSWM              = 16
	DefaultHNSWEFConstruction = 64
	DefaultScheduleInterval   = 5 * time.Minute
	DefaultCharacterSeparator = "\n\n"
	implPythonTemplate        = "python_template"
	maxIdentifierLength       = 48
)

// DefaultSeparators is the recursive splitter priority list.
var DefaultSeparators = []string{"\n\n", "\n", ".", "?", "!", " ", ""}

var (
	identPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	sourcePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
)

// Definition is the declarative document that creates a vectorizer.
type Definition struct {
	Name         string                `json:"name,omitempty" yaml:"name,omitempty"`
	Source       SourceDefinition      `json:"source" yaml:"source"`
	Destination  DestinationDefinition `json:"destination" yaml:"destination"`
	QueueTable   string                `json:"queue_table,omitempty" yaml:"queue_table,omitempty"`
	Chunking     ChunkingDefinition    `json:"chunking" yaml:"chunking"`
	Formatting   FormattingDefinition  `json:"formatting" yaml:"formatting"`
	Embedding    EmbeddingDefinition   `json:"embedding" yaml:"embedding"`
	Indexing     IndexingDefinition    `json:"indexing" yaml:"indexing"`
	Scheduling   SchedulingDefinition  `json:"scheduling" yaml:"scheduling"`
	Processing   ProcessingDefinition  `json:"processing" yaml:"processing"`
	IfNotExists  bool                  `json:"if_not_exists,omitempty" yaml:"if_not_exists,omitempty"`
	SkipBackfill bool                  `json:"skip_backfill,omitempty" yaml:"skip_backfill,omitempty"`
}

// SourceDefinition names the watched table. PrimaryKey is filled from
// introspection when omitted.
type SourceDefinition struct {
	Table      string   `json:"table" yaml:"table"`
	PrimaryKey []string `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
}

// DestinationDefinition names the store table and its joined view.
type DestinationDefinition struct {
	StoreTable string `json:"store_table,omitempty" yaml:"store_table,omitempty"`
	View       string `json:"view,omitempty" yaml:"view,omitempty"`
}

// ChunkingDefinition selects and parameterizes a splitter.
type ChunkingDefinition struct {
	Implementation   string   `json:"implementation" yaml:"implementation"`
	ChunkColumn      string   `json:"chunk_column,omitempty" yaml:"chunk_column,omitempty"`
	ChunkColumns     []string `json:"chunk_columns,omitempty" yaml:"chunk_columns,omitempty"`
	Separator        *string  `json:"separator,omitempty" yaml:"separator,omitempty"`
	Separators       []string `json:"separators,omitempty" yaml:"separators,omitempty"`
	IsSeparatorRegex bool     `json:"is_separator_regex,omitempty" yaml:"is_separator_regex,omitempty"`
	ChunkSize        int      `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
	ChunkOverlap     *int     `json:"chunk_overlap,omitempty" yaml:"chunk_overlap,omitempty"`
}

// FormattingDefinition selects the embedding text template.
type FormattingDefinition struct {
	Implementation string `json:"implementation,omitempty" yaml:"implementation,omitempty"`
	Template       string `json:"template,omitempty" yaml:"template,omitempty"`
}

// EmbeddingDefinition selects and parameterizes a provider.
type EmbeddingDefinition struct {
	Implementation string `json:"implementation" yaml:"implementation"`
	Model          string `json:"model,omitempty" yaml:"model,omitempty"`
	Dimensions     int    `json:"dimensions" yaml:"dimensions"`
	APIKeyName     string `json:"api_key_name,omitempty" yaml:"api_key_name,omitempty"`
	BaseURL        string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	ModelDir       string `json:"model_dir,omitempty" yaml:"model_dir,omitempty"`
	BatchSize      int    `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
}

// IndexingDefinition selects the ANN index policy.
type IndexingDefinition struct {
	Implementation       string `json:"implementation,omitempty" yaml:"implementation,omitempty"`
	MinRows              *int64 `json:"min_rows,omitempty" yaml:"min_rows,omitempty"`
	CreateWhenQueueEmpty *bool  `json:"create_when_queue_empty,omitempty" yaml:"create_when_queue_empty,omitempty"`
	Opclass              string `json:"opclass,omitempty" yaml:"opclass,omitempty"`
	M                    int    `json:"m,omitempty" yaml:"m,omitempty"`
	EFConstruction       int    `json:"ef_construction,omitempty" yaml:"ef_construction,omitempty"`
	Lists                int    `json:"lists,omitempty" yaml:"lists,omitempty"`
}

// SchedulingDefinition selects database-side scheduling.
type SchedulingDefinition struct {
	Implementation   string `json:"implementation,omitempty" yaml:"implementation,omitempty"`
	ScheduleInterval string `json:"schedule_interval,omitempty" yaml:"schedule_interval,omitempty"`
}

// ProcessingDefinition controls batch size and execution paths.
type ProcessingDefinition struct {
	BatchSize   int `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
}

// ParseDefinition decodes a YAML or JSON document and returns the
// normalized definition.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Definition{}, fmt.Errorf("%w: empty definition", ErrInvalidConfig)
	}
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return Definition{}, fmt.Errorf("%w: decode json: %v", ErrInvalidConfig, err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(trimmed))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return Definition{}, fmt.Errorf("%w: decode yaml: %v", ErrInvalidConfig, err)
		}
	}
	return def.Normalize()
}

// Normalize fills defaults and validates the definition. The returned
// definition round-trips through JSON unchanged.
func (d Definition) Normalize() (Definition, error) {
	d.Source.Table = strings.TrimSpace(d.Source.Table)
	if !sourcePattern.MatchString(d.Source.Table) {
		return Definition{}, invalid("source.table %q is not a valid table name", d.Source.Table)
	}
	d.Source.PrimaryKey = slices.Clone(d.Source.PrimaryKey)

	if d.Name == "" {
		d.Name = baseName(d.Source.Table) + "_embedding"
	}
	if d.Destination.StoreTable == "" {
		d.Destination.StoreTable = d.Name + "_store"
	}
	if d.Destination.View == "" {
		d.Destination.View = d.Name
	}
	if d.QueueTable == "" {
		d.QueueTable = d.Name + "_queue"
	}

	var errs []error
	for _, ident := range []struct{ field, value string }{
		{"name", d.Name},
		{"destination.store_table", d.Destination.StoreTable},
		{"destination.view", d.Destination.View},
		{"queue_table", d.QueueTable},
	} {
		if err := validIdentifier(ident.field, ident.value); err != nil {
			errs = append(errs, err)
		}
	}
	if d.Destination.StoreTable == d.Destination.View {
		errs = append(errs, invalid("destination.store_table and destination.view must differ"))
	}
	if d.QueueTable == d.Destination.StoreTable || d.QueueTable == d.Destination.View {
		errs = append(errs, invalid("queue_table must differ from the destination names"))
	}
	for _, col := range d.Source.PrimaryKey {
		if !identPattern.MatchString(col) {
			errs = append(errs, invalid("source.primary_key column %q is not a valid name", col))
		}
	}

	errs = append(errs, d.Chunking.normalize()...)
	errs = append(errs, d.Formatting.normalize()...)
	errs = append(errs, d.Embedding.normalize()...)
	errs = append(errs, d.Indexing.normalize()...)
	errs = append(errs, d.Scheduling.normalize()...)
	errs = append(errs, d.Processing.normalize()...)

	if err := errors.Join(errs...); err != nil {
		return Definition{}, err
	}
	return d, nil
}

// Config builds the sealed configuration variants from a normalized definition.
func (d Definition) Config() (Config, error) {
	cfg := Config{
		Processing: Processing{
			BatchSize:   d.Processing.BatchSize,
			Concurrency: d.Processing.Concurrency,
		},
	}

	settings := ChunkSettings{
		Columns:          slices.Clone(d.Chunking.ChunkColumns),
		Size:             d.Chunking.ChunkSize,
		IsSeparatorRegex: d.Chunking.IsSeparatorRegex,
	}
	if d.Chunking.ChunkOverlap != nil {
		settings.Overlap = *d.Chunking.ChunkOverlap
	}
	switch d.Chunking.Implementation {
	case ImplCharacterTextSplitter:
		sep := DefaultCharacterSeparator
		if d.Chunking.Separator != nil {
			sep = *d.Chunking.Separator
		}
		cfg.Chunking = CharacterTextSplitter{ChunkSettings: settings, Separator: sep}
	case ImplRecursiveCharacterTextSplitter:
		cfg.Chunking = RecursiveCharacterTextSplitter{
			ChunkSettings: settings,
			Separators:    slices.Clone(d.Chunking.Separators),
		}
	default:
		return Config{}, invalid("unknown chunking implementation %q", d.Chunking.Implementation)
	}

	switch d.Formatting.Implementation {
	case ImplTemplate:
		cfg.Formatting = TemplateFormatting{Text: d.Formatting.Template}
	case ImplChunkValue:
		cfg.Formatting = ChunkValueFormatting{}
	default:
		return Config{}, invalid("unknown formatting implementation %q", d.Formatting.Implementation)
	}

	es := EmbeddingSettings{
		Model:      d.Embedding.Model,
		Dimensions: d.Embedding.Dimensions,
		BatchSize:  d.Embedding.BatchSize,
	}
	switch d.Embedding.Implementation {
	case ImplOpenAI:
		cfg.Embedding = OpenAIEmbedding{EmbeddingSettings: es, APIKeyName: d.Embedding.APIKeyName, BaseURL: d.Embedding.BaseURL}
	case ImplOllama:
		cfg.Embedding = OllamaEmbedding{EmbeddingSettings: es, BaseURL: d.Embedding.BaseURL}
	case ImplGemini:
		cfg.Embedding = GeminiEmbedding{EmbeddingSettings: es, APIKeyName: d.Embedding.APIKeyName}
	case ImplLocal:
		cfg.Embedding = LocalEmbedding{EmbeddingSettings: es, ModelDir: d.Embedding.ModelDir}
	default:
		return Config{}, invalid("unknown embedding implementation %q", d.Embedding.Implementation)
	}

	var threshold IndexThreshold
	if d.Indexing.MinRows != nil {
		threshold.MinRows = *d.Indexing.MinRows
	}
	if d.Indexing.CreateWhenQueueEmpty != nil {
		threshold.CreateWhenQueueEmpty = *d.Indexing.CreateWhenQueueEmpty
	}
	threshold.Opclass = d.Indexing.Opclass
	switch d.Indexing.Implementation {
	case ImplNone:
		cfg.Indexing = NoIndexing{}
	case ImplHNSW:
		cfg.Indexing = HNSWIndexing{IndexThreshold: threshold, M: d.Indexing.M, EFConstruction: d.Indexing.EFConstruction}
	case ImplIVFFlat:
		cfg.Indexing = IVFFlatIndexing{IndexThreshold: threshold, Lists: d.Indexing.Lists}
	case ImplDiskANN:
		cfg.Indexing = DiskANNIndexing{IndexThreshold: threshold}
	default:
		return Config{}, invalid("unknown indexing implementation %q", d.Indexing.Implementation)
	}

	switch d.Scheduling.Implementation {
	case ImplNone:
		cfg.Scheduling = NoScheduling{}
	case ImplDatabaseCron:
		interval, err := time.ParseDuration(d.Scheduling.ScheduleInterval)
		if err != nil {
			return Config{}, invalid("scheduling.schedule_interval: %v", err)
		}
		cfg.Scheduling = CronScheduling{Interval: interval}
	default:
		return Config{}, invalid("unknown scheduling implementation %q", d.Scheduling.Implementation)
	}

	return cfg, nil
}

// TextColumns returns the columns whose text is chunked.
func (d Definition) TextColumns() []string {
	return slices.Clone(d.Chunking.ChunkColumns)
}

func (c *ChunkingDefinition) normalize() []error {
	var errs []error
	if c.ChunkColumn != "" {
		if len(c.ChunkColumns) > 0 && !slices.Contains(c.ChunkColumns, c.ChunkColumn) {
			errs = append(errs, invalid("chunking: set either chunk_column or chunk_columns"))
		}
		if len(c.ChunkColumns) == 0 {
			c.ChunkColumns = []string{c.ChunkColumn}
		}
		c.ChunkColumn = ""
	}
	if len(c.ChunkColumns) == 0 {
		errs = append(errs, invalid("chunking: chunk_column is required"))
	}
	seen := make(map[string]bool, len(c.ChunkColumns))
	for _, col := range c.ChunkColumns {
		if !identPattern.MatchString(col) {
			errs = append(errs, invalid("chunking: column %q is not a valid name", col))
		}
		if seen[col] {
			errs = append(errs, invalid("chunking: column %q listed twice", col))
		}
		seen[col] = true
	}

	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap == nil {
		overlap := min(DefaultChunkOverlap, c.ChunkSize/2)
		c.ChunkOverlap = &overlap
	}
	if c.ChunkSize < 1 {
		errs = append(errs, invalid("chunking: chunk_size must be positive, got %d", c.ChunkSize))
	}
	if *c.ChunkOverlap < 0 {
		errs = append(errs, invalid("chunking: chunk_overlap must not be negative, got %d", *c.ChunkOverlap))
	}
	if *c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, invalid("chunking: overlap (%d) must be less than size (%d)", *c.ChunkOverlap, c.ChunkSize))
	}

	switch c.Implementation {
	case ImplCharacterTextSplitter:
		if len(c.Separators) > 0 {
			errs = append(errs, invalid("chunking: separators is not valid for %s", c.Implementation))
		}
		if c.Separator == nil {
			sep := DefaultCharacterSeparator
			c.Separator = &sep
		}
		if c.IsSeparatorRegex {
			errs = append(errs, checkRegex(*c.Separator)...)
		}
	case ImplRecursiveCharacterTextSplitter:
		if c.Separator != nil {
			errs = append(errs, invalid("chunking: separator is not valid for %s", c.Implementation))
		}
		if c.Separators == nil {
			c.Separators = slices.Clone(DefaultSeparators)
		}
		if len(c.Separators) == 0 {
			errs = append(errs, invalid("chunking: separators must not be empty"))
		}
		if c.IsSeparatorRegex {
			for _, sep := range c.Separators {
				errs = append(errs, checkRegex(sep)...)
			}
		}
	case "":
		errs = append(errs, invalid("chunking: implementation is required"))
	default:
		errs = append(errs, invalid("chunking: unknown implementation %q", c.Implementation))
	}
	return errs
}

func checkRegex(expr string) []error {
	if _, err := regexp.Compile(expr); err != nil {
		return []error{invalid("chunking: separator %q: %v", expr, err)}
	}
	return nil
}

func (f *FormattingDefinition) normalize() []error {
	switch f.Implementation {
	case "":
		if f.Template == "" {
			f.Implementation = ImplChunkValue
			return nil
		}
		f.Implementation = ImplTemplate
	case implPythonTemplate:
		f.Implementation = ImplTemplate
	}
	switch f.Implementation {
	case ImplTemplate:
		if f.Template == "" {
			return []error{invalid("formatting: template is required")}
		}
		if !referencesChunk(f.Template) {
			return []error{invalid("formatting: template must reference $%s", ChunkPlaceholder)}
		}
	case ImplChunkValue:
		if f.Template != "" {
			return []error{invalid("formatting: template is not valid for %s", ImplChunkValue)}
		}
	default:
		return []error{invalid("formatting: unknown implementation %q", f.Implementation)}
	}
	return nil
}

// referencesChunk reports whether template uses the $chunk placeholder, so
// a non-empty chunk always renders non-empty text.
func referencesChunk(template string) bool {
	found := false
	os.Expand(template, func(name string) string {
		if name == ChunkPlaceholder {
			found = true
		}
		return ""
	})
	return found
}

func (e *EmbeddingDefinition) normalize() []error {
	var errs []error
	if e.Dimensions < 1 || e.Dimensions > MaxDimensions {
		errs = append(errs, invalid("embedding: dimensions must be between 1 and %d, got %d", MaxDimensions, e.Dimensions))
	}
	if e.BatchSize < 0 {
		errs = append(errs, invalid("embedding: batch_size must be positive, got %d", e.BatchSize))
	}

	switch e.Implementation {
	case ImplOpenAI:
		if e.Model == "" {
			e.Model = DefaultOpenAIModel
		}
		if e.APIKeyName == "" {
			e.APIKeyName = DefaultOpenAIKeyName
		}
	case ImplOllama:
		if e.Model == "" {
			errs = append(errs, invalid("embedding: model is required for %s", ImplOllama))
		}
		if e.BaseURL == "" {
			e.BaseURL = DefaultOllamaBaseURL
		}
	case ImplGemini:
		if e.Model == "" {
			e.Model = DefaultGeminiModel
		}
		if e.APIKeyName == "" {
			e.APIKeyName = DefaultGeminiKeyName
		}
	case ImplLocal:
		if e.BatchSize > MaxLocalBatchSize {
			errs = append(errs, invalid("embedding: batch_size for %s must be at most %d", ImplLocal, MaxLocalBatchSize))
		}
		if e.BatchSize == 0 {
			e.BatchSize = MaxLocalBatchSize
		}
	case "":
		errs = append(errs, invalid("embedding: implementation is required"))
	default:
		errs = append(errs, invalid("embedding: unknown implementation %q", e.Implementation))
	}
	if e.BatchSize == 0 {
		e.BatchSize = DefaultProviderBatchSize
	}
	if e.Implementation != ImplLocal && e.ModelDir != "" {
		errs = append(errs, invalid("embedding: model_dir is only valid for %s", ImplLocal))
	}
	return errs
}

func (i *IndexingDefinition) normalize() []error {
	if i.Implementation == "" {
		i.Implementation = ImplNone
	}
	switch i.Implementation {
	case ImplNone:
		if i.MinRows != nil || i.CreateWhenQueueEmpty != nil || i.Opclass != "" || i.M != 0 || i.EFConstruction != 0 || i.Lists != 0 {
			return []error{invalid("indexing: parameters are not valid for %s", ImplNone)}
		}
		return nil
	case ImplHNSW, ImplIVFFlat, ImplDiskANN:
	default:
		return []error{invalid("indexing: unknown implementation %q", i.Implementation)}
	}

	var errs []error
	if i.MinRows == nil {
		rows := int64(DefaultIndexMinRows)
		i.MinRows = &rows
	}
	if *i.MinRows < 0 {
		errs = append(errs, invalid("indexing: min_rows must not be negative"))
	}
	if i.CreateWhenQueueEmpty == nil {
		yes := true
		i.CreateWhenQueueEmpty = &yes
	}
	if i.Opclass == "" {
		i.Opclass = DefaultOpclass
	}
	if !identPattern.MatchString(i.Opclass) {
		errs = append(errs, invalid("indexing: opclass %q is not a valid name", i.Opclass))
	}
	if i.Implementation == ImplHNSW {
		if i.M == 0 {
			i.M = DefaultHNSWM
		}
		if i.EFConstruction == 0 {
			i.EFConstruction = DefaultHNSWEFConstruction
		}
		if i.M < 2 || i.M > 100 {
			errs = append(errs, invalid("indexing: m must be between 2 and 100, got %d", i.M))
		}
		if i.EFConstruction < 4 || i.EFConstruction > 1000 {
			errs = append(errs, invalid("indexing: ef_construction must be between 4 and 1000, got %d", i.EFConstruction))
		}
	} else if i.M != 0 || i.EFConstruction != 0 {
		errs = append(errs, invalid("indexing: m and ef_construction are only valid for %s", ImplHNSW))
	}
	if i.Lists < 0 {
		errs = append(errs, invalid("indexing: lists must not be negative"))
	}
	if i.Lists != 0 && i.Implementation != ImplIVFFlat {
		errs = append(errs, invalid("indexing: lists is only valid for %s", ImplIVFFlat))
	}
	return errs
}

func (s *SchedulingDefinition) normalize() []error {
	if s.Implementation == "" {
		s.Implementation = ImplNone
	}
	switch s.Implementation {
	case ImplNone:
		if s.ScheduleInterval != "" {
			return []error{invalid("scheduling: schedule_interval is not valid for %s", ImplNone)}
		}
	case ImplDatabaseCron:
		if s.ScheduleInterval == "" {
			s.ScheduleInterval = DefaultScheduleInterval.String()
		}
		d, err := time.ParseDuration(s.ScheduleInterval)
		if err != nil {
			return []error{invalid("scheduling: schedule_interval: %v", err)}
		}
		if d < time.Second {
			return []error{invalid("scheduling: schedule_interval must be at least 1s, got %s", d)}
		}
	default:
		return []error{invalid("scheduling: unknown implementation %q", s.Implementation)}
	}
	return nil
}

func (p *ProcessingDefinition) normalize() []error {
	var errs []error
	if p.BatchSize == 0 {
		p.BatchSize = DefaultBatchSize
	}
	if p.Concurrency == 0 {
		p.Concurrency = DefaultConcurrency
	}
	if p.BatchSize < 1 || p.BatchSize > MaxBatchSize {
		errs = append(errs, invalid("processing: batch_size must be between 1 and %d, got %d", MaxBatchSize, p.BatchSize))
	}
	if p.Concurrency < 1 || p.Concurrency > MaxConcurrency {
		errs = append(errs, invalid("processing: concurrency must be between 1 and %d, got %d", MaxConcurrency, p.Concurrency))
	}
	return errs
}

func validIdentifier(field, value string) error {
	if !identPattern.MatchString(value) {
		return invalid("%s %q is not a valid name", field, value)
	}
	if len(value) > maxIdentifierLength {
		return invalid("%s %q is longer than %d characters", field, value, maxIdentifierLength)
	}
	return nil
}

func baseName(table string) string {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[i+1:]
	}
	return table
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
