// Package inference orchestrates a detector run: load model, predict or
// track, normalize results, count, compute density, return the artifact.
package inference

import (
	"context"
	"fmt"
	"image"

	"mosquitoserver/internal/apperr"
	"mosquitoserver/internal/density"
	"mosquitoserver/internal/detect"
	"mosquitoserver/internal/logger"

	"github.com/disintegration/imaging"
)

// DefaultConfidence is used when a caller passes a non-positive threshold.
const DefaultConfidence = 0.25

// ModelProvider hands out the shared detector.
type ModelProvider interface {
	Get() (detect.Model, error)
}

// Annotator renders detections onto an image.
type Annotator interface {
	Annotate(scene image.Image, dets detect.Detections, labels []string) *image.RGBA
}

// ImageResult is the outcome of one image inference.
type ImageResult struct {
	TotalCount int
	Density    float64
	Area       density.Area
	// PixelArea is set when no dimensions were given and the image's own
	// pixel size was used, so Density is per square pixel.
	PixelArea  bool
	Detections detect.Detections
	Annotated  image.Image
}

type ImageService struct {
	models    ModelProvider
	annotator Annotator
	logger    *logger.Logger
}

func NewImageService(models ModelProvider, annotator Annotator, logger *logger.Logger) *ImageService {
	return &ImageService{models: models, annotator: annotator, logger: logger}
}

// Run detects objects in the image at path. When area is nil the image's
// pixel height and width stand in for length and width.
func (s *ImageService) Run(ctx context.Context, path string, area *density.Area, conf float64) (*ImageResult, error) {
	if conf <= 0 {
		conf = DefaultConfidence
	}

	scene, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}

	res := &ImageResult{}
	if area != nil {
		res.Area = *area
	} else {
		b := scene.Bounds()
		res.Area = density.Area{Length: float64(b.Dy()), Width: float64(b.Dx())}
		res.PixelArea = true
	}

	model, err := s.models.Get()
	if err != nil {
		return nil, err
	}

	results, err := model.Predict(ctx, path, detect.Options{Conf: conf})
	if err != nil {
		return nil, apperr.FromContext(fmt.Errorf("image prediction failed: %w", err))
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("model returned no results for %s", path)
	}

	res.Detections = detect.FromResults(results[0])
	res.TotalCount = len(res.Detections)
	res.Annotated = s.annotator.Annotate(scene, res.Detections, res.Detections.Labels())
	res.Density = density.Compute(res.TotalCount, res.Area)

	if !res.Area.Valid() {
		s.logger.Warning("Area is not positive for %s, density reported as 0", path)
	}
	return res, nil
}
