// Package apperr holds the error kinds surfaced by the detection pipeline.
// Callers wrap them with fmt.Errorf("...: %w", err) and match with errors.Is.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrModelLoad means the weights file is missing, unreadable or could not be parsed.
	ErrModelLoad = errors.New("model load failed")
	// ErrInvalidArea means a length or width is negative or not a number.
	ErrInvalidArea = errors.New("invalid area")
	// ErrInvalidUnit means the dimension unit is not one of m, cm, mm.
	ErrInvalidUnit = errors.New("invalid unit")
	// ErrInvalidConfidence means the confidence threshold is outside (0, 1].
	ErrInvalidConfidence = errors.New("invalid confidence threshold")
	// ErrArtifactNotFound means the model produced no annotated output file.
	ErrArtifactNotFound = errors.New("annotated artifact not found")
	// ErrTranscode means the container conversion failed.
	ErrTranscode = errors.New("transcode failed")
	// ErrUnsupportedFileType means the upload extension is not accepted.
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrTimeout means a job did not finish before its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrQueueFull means no worker slot is available for a new job.
	ErrQueueFull = errors.New("processing queue full")
	// ErrInvalidUpload means the request is not a usable multipart upload.
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrNotFound means the requested result or artifact does not exist.
	ErrNotFound = errors.New("not found")
)

// FromContext converts a context error into ErrTimeout when the deadline passed.
// Other errors are returned unchanged.
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
