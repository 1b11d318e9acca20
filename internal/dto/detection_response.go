package dto

import "time"

// DetectionBox is one detection as returned to API clients.
type DetectionBox struct {
	ClassID    int        `json:"class_id"`
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"` // xmin, ymin, xmax, ymax
	TrackID    *int       `json:"track_id,omitempty"`
}

// DetectionResponse is the payload of the detect endpoints and of /api/results/view.
type DetectionResponse struct {
	ID             string         `json:"id"`
	Kind           string         `json:"kind"`
	SourceName     string         `json:"source_name"`
	TotalCount     int            `json:"total_count"`
	PeakCount      int            `json:"peak_count,omitempty"`
	UniqueTracks   int            `json:"unique_tracks,omitempty"`
	Frames         int            `json:"frames,omitempty"`
	Density        float64        `json:"density"`
	DensityPerUnit float64        `json:"density_per_unit"`
	DensityLabel   string         `json:"density_label"`
	Unit           string         `json:"unit"`
	AreaValid      bool           `json:"area_valid"`
	Tracking       bool           `json:"tracking"`
	DownloadURL    string         `json:"download_url"`
	Detections     []DetectionBox `json:"detections"`
	CreatedAt      time.Time      `json:"created_at"`
}
