package repository

import (
	"mosquitoserver/internal/model"
)

// ResultRepository defines the interface for detection job records.
type ResultRepository interface {
	// Create operations
	Insert(res *model.Result) error

	// Read operations
	GetByID(id string) (*model.Result, error)
	GetAll(filter *model.ResultFilter) ([]model.Result, error)
	GetTotalCount(filter *model.ResultFilter) (int, error)

	// Delete operations
	Delete(id string) error
	DeleteAll() error
}

// DetectionRepository defines the interface for detection data operations.
type DetectionRepository interface {
	// Create operations
	InsertBatch(detections []model.Detection) error

	// Read operations
	GetByResultID(resultID string) ([]model.Detection, error)

	// Delete operations
	DeleteByResultID(resultID string) error
}
