// ResultsData is a paginated response payload for the results list.
package dto

type ResultsData struct {
	Results     []ResultInfo `json:"results"`
	Length      int          `json:"length"`
	TotalPages  int          `json:"totalPages"`
	CurrentPage int          `json:"currentPage"`
	Limit       int          `json:"pageSize"`
}
