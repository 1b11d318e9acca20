package ai

import (
	"sync"

	"mosquitoserver/internal/config"
	"mosquitoserver/internal/detect"
	"mosquitoserver/internal/logger"
)

// Loader loads the detector on first use and shares it afterwards.
// A failed load is not cached, so a corrected weights file is picked up on the next call.
type Loader struct {
	opts   LoadOptions
	logger *logger.Logger

	mu       sync.Mutex
	detector *Detector
}

// NewLoader builds a Loader from the model settings in cfg.
func NewLoader(cfg *config.Config, logger *logger.Logger) *Loader {
	return &Loader{
		opts: LoadOptions{
			WeightsPath: cfg.ModelPath,
			NamesPath:   cfg.NamesPath,
			Backend:     cfg.ModelBackend,
			InputSize:   cfg.InputSize,
			TrackerIoU:  cfg.TrackerIoU,
			TrackerAge:  cfg.TrackerMaxAge,
		},
		logger: logger,
	}
}

// Get returns the shared detector, loading it if needed.
func (l *Loader) Get() (detect.Model, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.detector != nil {
		return l.detector, nil
	}

	d, err := LoadModel(l.opts, l.logger)
	if err != nil {
		l.logger.Error("Could not load detection network: %v", err)
		return nil, err
	}
	l.detector = d
	return d, nil
}

// Close releases the detector if it was loaded.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.detector == nil {
		return nil
	}
	err := l.detector.Close()
	l.detector = nil
	return err
}
