package sqlite

import (
	"fmt"

	"mosquitoserver/internal/model"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch adds multiple detections in a single transaction.
func (r *DetectionRepository) InsertBatch(detections []model.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (result_id, frame, class_id, label, xmin, ymin, xmax, ymax, confidence, track_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, det := range detections {
		if _, err := stmt.Exec(det.ResultID, det.Frame, det.ClassID, det.Label,
			det.XMin, det.YMin, det.XMax, det.YMax, det.Confidence, det.TrackID); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// GetByResultID retrieves all detections of a result in insertion order.
func (r *DetectionRepository) GetByResultID(resultID string) ([]model.Detection, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, result_id, frame, class_id, label, xmin, ymin, xmax, ymax, confidence, track_id
		FROM detections WHERE result_id = ? ORDER BY id
	`, resultID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []model.Detection
	for rows.Next() {
		var det model.Detection
		if err := rows.Scan(&det.ID, &det.ResultID, &det.Frame, &det.ClassID, &det.Label,
			&det.XMin, &det.YMin, &det.XMax, &det.YMax, &det.Confidence, &det.TrackID); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, det)
	}

	return detections, rows.Err()
}

// DeleteByResultID removes all detections for a specific result.
func (r *DetectionRepository) DeleteByResultID(resultID string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections WHERE result_id = ?`, resultID); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}
	return nil
}
