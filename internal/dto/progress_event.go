package dto

// ProgressEvent is pushed to websocket viewers while a video job runs.
type ProgressEvent struct {
	Job        string `json:"job"`
	Frame      int    `json:"frame"`
	Detections int    `json:"detections"`
	Done       bool   `json:"done"`
	Error      string `json:"error,omitempty"`
}
