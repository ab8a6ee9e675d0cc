package jsonapi

import (
	"strconv"
	"time"

	"github.com/helixml/vecsync/application/service"
	"github.com/helixml/vecsync/domain/vectorizer"
)

// Resource types.
const (
	TypeVectorizer       = "vectorizer"
	TypeVectorizerStatus = "vectorizer_status"
	TypeVectorizerError  = "vectorizer_error"
)

// VectorizerAttributes represents vectorizer attributes in JSON:API format.
type VectorizerAttributes struct {
	Name        string     `json:"name"`
	SourceTable string     `json:"source_table"`
	PrimaryKey  []string   `json:"primary_key"`
	QueueTable  string     `json:"queue_table"`
	StoreTable  string     `json:"store_table"`
	View        string     `json:"view"`
	Chunking    string     `json:"chunking"`
	Formatting  string     `json:"formatting"`
	Embedding   string     `json:"embedding"`
	Model       string     `json:"model"`
	Dimensions  int        `json:"dimensions"`
	Indexing    string     `json:"indexing"`
	Scheduling  string     `json:"scheduling"`
	Disabled    bool       `json:"disabled"`
	Failure     string     `json:"failure,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StatusAttributes represents queue and store counts in JSON:API format.
type StatusAttributes struct {
	Name    string `json:"name"`
	Active  bool   `json:"active"`
	Pending int64  `json:"pending"`
	// Capped is set when Pending stopped counting at the cap.
	Capped  bool  `json:"capped"`
	Records int64 `json:"records"`
}

// ErrorAttributes represents an error log entry in JSON:API format.
type ErrorAttributes struct {
	VectorizerID int64          `json:"vectorizer_id"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
	RecordedAt   time.Time      `json:"recorded_at"`
}

// VectorizerResource serializes a vectorizer.
func VectorizerResource(v vectorizer.Vectorizer) *Resource {
	cfg := v.Config()
	return NewResource(TypeVectorizer, strconv.FormatInt(v.ID(), 10), VectorizerAttributes{
		Name:        v.Name(),
		SourceTable: v.SourceTable(),
		PrimaryKey:  v.PrimaryKey(),
		QueueTable:  v.QueueTable(),
		StoreTable:  v.StoreTable(),
		View:        v.ViewName(),
		Chunking:    cfg.Chunking.Implementation(),
		Formatting:  cfg.Formatting.Implementation(),
		Embedding:   cfg.Embedding.Implementation(),
		Model:       cfg.Embedding.Settings().Model,
		Dimensions:  v.Dimensions(),
		Indexing:    cfg.Indexing.Implementation(),
		Scheduling:  cfg.Scheduling.Implementation(),
		Disabled:    v.Disabled(),
		Failure:     v.Failure(),
		FailedAt:    v.FailedAt(),
		CreatedAt:   v.CreatedAt(),
		UpdatedAt:   v.UpdatedAt(),
	})
}

// StatusResource serializes a vectorizer's status.
func StatusResource(s service.VectorizerStatus) *Resource {
	return NewResource(TypeVectorizerStatus, strconv.FormatInt(s.Vectorizer.ID(), 10), StatusAttributes{
		Name:    s.Vectorizer.Name(),
		Active:  s.Vectorizer.Active(),
		Pending: s.Pending,
		Capped:  s.Capped,
		Records: s.Records,
	})
}

// ErrorResource serializes an error log entry.
func ErrorResource(e vectorizer.ErrorRecord) *Resource {
	return NewResource(TypeVectorizerError, strconv.FormatInt(e.ID(), 10), ErrorAttributes{
		VectorizerID: e.VectorizerID(),
		Message:      e.Message(),
		Details:      e.Details(),
		RecordedAt:   e.RecordedAt(),
	})
}
