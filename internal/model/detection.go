package model

// Detection represents one counted box of a result.
type Detection struct {
	ID         int64   `json:"id"`
	ResultID   string  `json:"result_id"`
	Frame      int     `json:"frame"`
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label"`
	XMin       float64 `json:"xmin"`
	YMin       float64 `json:"ymin"`
	XMax       float64 `json:"xmax"`
	YMax       float64 `json:"ymax"`
	Confidence float64 `json:"confidence"`
	TrackID    int     `json:"track_id"`
}
