// Package detect defines the detector contract and the pure-Go pieces around
// it: result normalization, box annotation and identity tracking.
package detect

import (
	"context"
	"image"
)

// Box is one raw detection in pixel coordinates of the source frame.
type Box struct {
	XYXY    [4]float64
	Conf    float64
	Cls     int
	TrackID int // -1 when not tracked
}

// Results is the native output of one model call for one image or one video frame.
type Results struct {
	Path      string
	Frame     int
	OrigShape image.Point // width, height
	Boxes     []Box
	Names     map[int]string
	SaveDir   string // directory annotated output was written to, empty when not saved
}

// Options control a Predict or Track call.
type Options struct {
	Conf    float64
	Save    bool
	SaveDir string
	// Persist keeps track identities across frames of the same source.
	Persist bool
	// Progress is called after every processed frame.
	Progress func(frame, detections int)
}

// Model is a pretrained detector. Implementations write annotated output into
// opts.SaveDir when opts.Save is set and report that directory in Results.SaveDir.
type Model interface {
	Predict(ctx context.Context, source string, opts Options) ([]Results, error)
	Track(ctx context.Context, source string, opts Options) ([]Results, error)
	Names() map[int]string
}
