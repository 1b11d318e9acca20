package service

import (
	"fmt"
	"net/url"

	"mosquitoserver/internal/density"
	"mosquitoserver/internal/dto"
	"mosquitoserver/internal/model"
)

// NewResponse builds the API payload of a stored result.
func NewResponse(res *model.Result, dets []model.Detection) *dto.DetectionResponse {
	unit := density.Unit(res.Unit)
	areaValid := density.Area{Length: res.LengthM, Width: res.WidthM}.Valid()

	resp := &dto.DetectionResponse{
		ID:             res.ID,
		Kind:           res.Kind,
		SourceName:     res.SourceName,
		TotalCount:     res.TotalCount,
		PeakCount:      res.PeakCount,
		UniqueTracks:   res.UniqueTracks,
		Frames:         res.Frames,
		Density:        res.Density,
		DensityPerUnit: res.DensityPerUnit,
		DensityLabel:   fmt.Sprintf("%.4f mosquitoes per sq. %s", res.DensityPerUnit, unit.Name()),
		Unit:           res.Unit,
		AreaValid:      areaValid,
		Tracking:       res.Tracking,
		DownloadURL:    "/api/results/download?id=" + url.QueryEscape(res.ID),
		Detections:     make([]dto.DetectionBox, 0, len(dets)),
		CreatedAt:      res.CreatedAt,
	}

	for _, d := range dets {
		box := dto.DetectionBox{
			ClassID:    d.ClassID,
			Label:      d.Label,
			Confidence: d.Confidence,
			Box:        [4]float64{d.XMin, d.YMin, d.XMax, d.YMax},
		}
		if d.TrackID >= 0 {
			id := d.TrackID
			box.TrackID = &id
		}
		resp.Detections = append(resp.Detections, box)
	}
	return resp
}

// ResultInfos converts stored results to list rows.
func ResultInfos(results []model.Result) []dto.ResultInfo {
	infos := make([]dto.ResultInfo, 0, len(results))
	for _, r := range results {
		infos = append(infos, dto.ResultInfo{
			ID:         r.ID,
			Kind:       r.Kind,
			SourceName: r.SourceName,
			TotalCount: r.TotalCount,
			Density:    r.Density,
			Unit:       r.Unit,
			Date:       r.CreatedAt,
			TimeOfDay:  r.CreatedAt,
		})
	}
	return infos
}
