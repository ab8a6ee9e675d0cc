package persistence

import (
	"time"

	"gorm.io/datatypes"
)

// VectorizerModel is the catalog row for one vectorizer.
type VectorizerModel struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Name        string         `gorm:"column:name;not null;uniqueIndex"`
	SourceTable string         `gorm:"column:source_table;not null"`
	SourcePK    datatypes.JSON `gorm:"column:source_pk;not null"`
	QueueTable  string         `gorm:"column:queue_table;not null"`
	StoreTable  string         `gorm:"column:store_table;not null"`
	ViewName    string         `gorm:"column:view_name;not null"`
	Config      datatypes.JSON `gorm:"column:config;not null"`
	Disabled    bool           `gorm:"column:disabled;not null;default:false"`
	FailedAt    *time.Time     `gorm:"column:failed_at"`
	Failure     string         `gorm:"column:failure;not null;default:''"`
	CronJobID   *int64         `gorm:"column:cron_job_id"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at"`
}

// TableName returns the table name.
func (VectorizerModel) TableName() string { return "vectorizers" }

// VectorizerErrorModel is one entry of the error log.
type VectorizerErrorModel struct {
	ID           int64          `gorm:"column:id;primaryKey;autoIncrement"`
	VectorizerID int64          `gorm:"column:vectorizer_id;not null;index:idx_vectorizer_errors_lookup,priority:1"`
	Message      string         `gorm:"column:message;not null"`
	Details      datatypes.JSON `gorm:"column:details"`
	RecordedAt   time.Time      `gorm:"column:recorded_at;not null;index:idx_vectorizer_errors_lookup,priority:2"`
}

// TableName returns the table name.
func (VectorizerErrorModel) TableName() string { return "vectorizer_errors" }
