package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"mosquitoserver/internal/apperr"
	"mosquitoserver/internal/model"
)

const resultColumns = `id, kind, source_name, total_count, peak_count, unique_tracks, frames,
	density, density_per_unit, unit, length_m, width_m, tracking, artifact_path, created_at`

// ResultRepository implements repository.ResultRepository for SQLite.
type ResultRepository struct {
	db *DB
}

// NewResultRepository creates a new SQLite result repository.
func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Insert adds a new result record to the database.
func (r *ResultRepository) Insert(res *model.Result) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`
		INSERT INTO results (`+resultColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, res.ID, res.Kind, res.SourceName, res.TotalCount, res.PeakCount, res.UniqueTracks, res.Frames,
		res.Density, res.DensityPerUnit, res.Unit, res.LengthM, res.WidthM, res.Tracking, res.ArtifactPath, res.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// GetByID retrieves a result by its ID.
func (r *ResultRepository) GetByID(id string) (*model.Result, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRow(`SELECT `+resultColumns+` FROM results WHERE id = ?`, id)
	res, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: result %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return res, nil
}

// GetAll retrieves results based on filter criteria, newest first.
func (r *ResultRepository) GetAll(filter *model.ResultFilter) ([]model.Result, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query := `SELECT ` + resultColumns + ` FROM results WHERE 1=1`
	args := []interface{}{}

	if filter != nil && filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}

	query += " ORDER BY created_at DESC"

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, *res)
	}

	return results, rows.Err()
}

// GetTotalCount returns the total count of results matching the filter.
func (r *ResultRepository) GetTotalCount(filter *model.ResultFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query := `SELECT COUNT(*) FROM results WHERE 1=1`
	args := []interface{}{}

	if filter != nil && filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}

	var count int
	if err := r.db.Conn().QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return count, nil
}

// Delete removes a result and, through the foreign key, its detections.
func (r *ResultRepository) Delete(id string) error {
	r.db.Lock()
	defer r.db.Unlock()

	res, err := r.db.Conn().Exec(`DELETE FROM results WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: result %s", apperr.ErrNotFound, id)
	}
	return nil
}

// DeleteAll removes all results and their detections.
func (r *ResultRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections`); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM results`); err != nil {
		return fmt.Errorf("failed to delete results: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanResult(s scanner) (*model.Result, error) {
	var res model.Result
	err := s.Scan(&res.ID, &res.Kind, &res.SourceName, &res.TotalCount, &res.PeakCount, &res.UniqueTracks, &res.Frames,
		&res.Density, &res.DensityPerUnit, &res.Unit, &res.LengthM, &res.WidthM, &res.Tracking, &res.ArtifactPath, &res.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
