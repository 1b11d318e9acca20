package model

import "time"

// Result represents one finished detection job.
type Result struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"` // image or video
	SourceName     string    `json:"source_name"`
	TotalCount     int       `json:"total_count"`
	PeakCount      int       `json:"peak_count"`
	UniqueTracks   int       `json:"unique_tracks"`
	Frames         int       `json:"frames"`
	Density        float64   `json:"density"` // per square metre
	DensityPerUnit float64   `json:"density_per_unit"`
	Unit           string    `json:"unit"`
	LengthM        float64   `json:"length_m"`
	WidthM         float64   `json:"width_m"`
	Tracking       bool      `json:"tracking"`
	ArtifactPath   string    `json:"artifact_path"`
	CreatedAt      time.Time `json:"created_at"`
}

// ResultFilter contains filtering options for querying results.
type ResultFilter struct {
	Kind   string
	Limit  int
	Offset int
}
