package persistence

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/helixml/vecsync/domain/vectorizer"
)

// VectorizerMapper maps between the domain Vectorizer and VectorizerModel.
// The normalized definition is stored whole in the config column.
type VectorizerMapper struct{}

// ToDomain converts a VectorizerModel to a domain Vectorizer.
func (m VectorizerMapper) ToDomain(e VectorizerModel) (vectorizer.Vectorizer, error) {
	var def vectorizer.Definition
	if err := json.Unmarshal(e.Config, &def); err != nil {
		return vectorizer.Vectorizer{}, fmt.Errorf("decode config of vectorizer %d: %w", e.ID, err)
	}
	// The primary key is introspected at creation; the column is authoritative.
	if len(e.SourcePK) > 0 {
		var pk []string
		if err := json.Unmarshal(e.SourcePK, &pk); err != nil {
			return vectorizer.Vectorizer{}, fmt.Errorf("decode source_pk of vectorizer %d: %w", e.ID, err)
		}
		def.Source.PrimaryKey = pk
	}

	var cronJobID int64
	if e.CronJobID != nil {
		cronJobID = *e.CronJobID
	}

	return vectorizer.Reconstruct(
		e.ID,
		def,
		e.Disabled,
		e.FailedAt,
		e.Failure,
		cronJobID,
		e.CreatedAt,
		e.UpdatedAt,
	)
}

// ToModel converts a domain Vectorizer to a VectorizerModel.
func (m VectorizerMapper) ToModel(v vectorizer.Vectorizer) (VectorizerModel, error) {
	config, err := json.Marshal(v.Definition())
	if err != nil {
		return VectorizerModel{}, fmt.Errorf("encode config: %w", err)
	}
	pk, err := json.Marshal(v.PrimaryKey())
	if err != nil {
		return VectorizerModel{}, fmt.Errorf("encode source_pk: %w", err)
	}

	var cronJobID *int64
	if id := v.CronJobID(); id != 0 {
		cronJobID = &id
	}

	return VectorizerModel{
		ID:          v.ID(),
		Name:        v.Name(),
		SourceTable: v.SourceTable(),
		SourcePK:    datatypes.JSON(pk),
		QueueTable:  v.QueueTable(),
		StoreTable:  v.StoreTable(),
		ViewName:    v.ViewName(),
		Config:      datatypes.JSON(config),
		Disabled:    v.Disabled(),
		FailedAt:    v.FailedAt(),
		Failure:     v.Failure(),
		CronJobID:   cronJobID,
		CreatedAt:   v.CreatedAt(),
		UpdatedAt:   v.UpdatedAt(),
	}, nil
}

// ErrorRecordMapper maps between ErrorRecord and VectorizerErrorModel.
type ErrorRecordMapper struct{}

// ToDomain converts a VectorizerErrorModel to a domain ErrorRecord.
func (m ErrorRecordMapper) ToDomain(e VectorizerErrorModel) (vectorizer.ErrorRecord, error) {
	var details map[string]any
	if len(e.Details) > 0 {
		if err := json.Unmarshal(e.Details, &details); err != nil {
			return vectorizer.ErrorRecord{}, fmt.Errorf("decode error details %d: %w", e.ID, err)
		}
	}
	return vectorizer.ReconstructErrorRecord(e.ID, e.VectorizerID, e.Message, details, e.RecordedAt), nil
}

// ToModel converts a domain ErrorRecord to a VectorizerErrorModel.
func (m ErrorRecordMapper) ToModel(r vectorizer.ErrorRecord) (VectorizerErrorModel, error) {
	var details datatypes.JSON
	if len(r.Details()) > 0 {
		data, err := json.Marshal(r.Details())
		if err != nil {
			return VectorizerErrorModel{}, fmt.Errorf("encode error details: %w", err)
		}
		details = datatypes.JSON(data)
	}
	return VectorizerErrorModel{
		ID:           r.ID(),
		VectorizerID: r.VectorizerID(),
		Message:      r.Message(),
		Details:      details,
		RecordedAt:   r.RecordedAt(),
	}, nil
}
