package dto

import (
	"encoding/json"
	"time"
)

// ResultInfo is one row of the results list.
type ResultInfo struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	SourceName string    `json:"sourceName"`
	TotalCount int       `json:"totalCount"`
	Density    float64   `json:"density"`
	Unit       string    `json:"unit"`
	Date       time.Time `json:"date"`
	TimeOfDay  time.Time `json:"timeOfDay"`
}

// MarshalJSON customizes JSON output for ResultInfo to format date and time-of-day.
func (p ResultInfo) MarshalJSON() ([]byte, error) {
	type Alias ResultInfo
	return json.Marshal(&struct {
		Date      string `json:"date"`
		TimeOfDay string `json:"timeOfDay"`
		Alias
	}{
		Date:      p.Date.Format("02-01-2006"),
		TimeOfDay: p.TimeOfDay.Format("15:04"),
		Alias:     (Alias)(p),
	})
}
