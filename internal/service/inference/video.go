package inference

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"mosquitoserver/internal/apperr"
	"mosquitoserver/internal/density"
	"mosquitoserver/internal/detect"
	"mosquitoserver/internal/logger"
)

// VideoOptions configure one video job.
type VideoOptions struct {
	Tracking bool
	Area     *density.Area // nil means density 0
	Conf     float64
	// WorkDir receives the annotated output. It is emptied before the run and
	// must not be shared with another job.
	WorkDir  string
	Progress func(frame, detections int)
}

// VideoResult is the outcome of one video inference.
type VideoResult struct {
	// TotalCount is the number of detections in the first frame.
	TotalCount   int
	PeakCount    int
	UniqueTracks int
	Frames       int
	Density      float64
	Area         density.Area
	Detections   detect.Detections // detections of the first frame
	ArtifactPath string
}

type VideoService struct {
	models ModelProvider
	logger *logger.Logger
}

func NewVideoService(models ModelProvider, logger *logger.Logger) *VideoService {
	return &VideoService{models: models, logger: logger}
}

// Run detects (or tracks) objects over every frame of the video at path and
// returns the annotated file the model saved into opts.WorkDir.
func (s *VideoService) Run(ctx context.Context, path string, opts VideoOptions) (*VideoResult, error) {
	if opts.WorkDir == "" {
		return nil, fmt.Errorf("video job needs a working directory")
	}
	if opts.Conf <= 0 {
		opts.Conf = DefaultConfidence
	}

	if err := os.RemoveAll(opts.WorkDir); err != nil {
		return nil, fmt.Errorf("failed to clear working directory %s: %w", opts.WorkDir, err)
	}
	if err := os.MkdirAll(opts.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create working directory %s: %w", opts.WorkDir, err)
	}

	model, err := s.models.Get()
	if err != nil {
		return nil, err
	}

	modelOpts := detect.Options{
		Conf:     opts.Conf,
		Save:     true,
		SaveDir:  opts.WorkDir,
		Persist:  opts.Tracking,
		Progress: opts.Progress,
	}

	var results []detect.Results
	if opts.Tracking {
		results, err = model.Track(ctx, path, modelOpts)
	} else {
		results, err = model.Predict(ctx, path, modelOpts)
	}
	if err != nil {
		return nil, apperr.FromContext(fmt.Errorf("video inference failed: %w", err))
	}

	res := &VideoResult{}
	if len(results) > 0 {
		res.Detections = detect.FromResults(results[0])
	}
	res.TotalCount = len(res.Detections)

	summary := detect.Summarize(results)
	res.Frames, res.PeakCount, res.UniqueTracks = summary.Frames, summary.PeakCount, summary.UniqueTracks

	if opts.Area != nil {
		res.Area = *opts.Area
	}
	res.Density = density.Compute(res.TotalCount, res.Area)

	saveDir := opts.WorkDir
	if len(results) > 0 && results[0].SaveDir != "" {
		saveDir = results[0].SaveDir
	}
	res.ArtifactPath, err = findArtifact(saveDir)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Video %s: %d frames, %d in first frame, peak %d", filepath.Base(path), res.Frames, res.TotalCount, res.PeakCount)
	return res, nil
}

// findArtifact returns the single regular file in dir.
func findArtifact(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrArtifactNotFound, err)
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}

	switch len(files) {
	case 0:
		return "", fmt.Errorf("%w: %s is empty", apperr.ErrArtifactNotFound, dir)
	case 1:
		return files[0], nil
	default:
		return "", fmt.Errorf("expected one annotated file in %s, found %d", dir, len(files))
	}
}
