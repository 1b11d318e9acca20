package detect

import (
	"fmt"
	"image"
)

// Detection is the uniform form of one detected object.
type Detection struct {
	XMin       float64
	YMin       float64
	XMax       float64
	YMax       float64
	ClassID    int
	ClassName  string
	Confidence float64
	TrackID    int
}

// Rect returns the integer pixel rectangle of the detection.
func (d Detection) Rect() image.Rectangle {
	return image.Rect(int(d.XMin), int(d.YMin), int(d.XMax), int(d.YMax))
}

type Detections []Detection

// FromResults adapts one native results entry into uniform detections.
// Class names are resolved from r.Names; unknown ids become "class<N>".
func FromResults(r Results) Detections {
	out := make(Detections, 0, len(r.Boxes))
	for _, b := range r.Boxes {
		name, ok := r.Names[b.Cls]
		if !ok {
			name = fmt.Sprintf("class%d", b.Cls)
		}
		out = append(out, Detection{
			XMin:       b.XYXY[0],
			YMin:       b.XYXY[1],
			XMax:       b.XYXY[2],
			YMax:       b.XYXY[3],
			ClassID:    b.Cls,
			ClassName:  name,
			Confidence: b.Conf,
			TrackID:    b.TrackID,
		})
	}
	return out
}

// Labels builds one caption per detection: "mosquito 0.87", prefixed with
// "#<id>" for tracked detections.
func (ds Detections) Labels() []string {
	labels := make([]string, len(ds))
	for i, d := range ds {
		if d.TrackID >= 0 {
			labels[i] = fmt.Sprintf("#%d %s %.2f", d.TrackID, d.ClassName, d.Confidence)
			continue
		}
		labels[i] = fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
	}
	return labels
}

// Summary aggregates counts over all results of a video job.
type Summary struct {
	Frames       int
	PeakCount    int
	UniqueTracks int
}

// Summarize walks every frame: PeakCount is the largest per-frame count,
// UniqueTracks the number of distinct track ids seen.
func Summarize(results []Results) Summary {
	s := Summary{Frames: len(results)}
	seen := make(map[int]struct{})
	for _, r := range results {
		if len(r.Boxes) > s.PeakCount {
			s.PeakCount = len(r.Boxes)
		}
		for _, b := range r.Boxes {
			if b.TrackID >= 0 {
				seen[b.TrackID] = struct{}{}
			}
		}
	}
	s.UniqueTracks = len(seen)
	return s
}
