package handler

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"mosquitoserver/internal/apperr"
	"mosquitoserver/internal/config"
	"mosquitoserver/internal/density"
	"mosquitoserver/internal/dto"
	"mosquitoserver/internal/logger"
	"mosquitoserver/internal/service"
)

const multipartMemory = 32 << 20

// Jobs is the part of service.Manager the HTTP layer uses.
type Jobs interface {
	SubmitImage(ctx context.Context, req service.ImageRequest) (*dto.DetectionResponse, error)
	SubmitVideo(ctx context.Context, req service.VideoRequest) (*dto.DetectionResponse, error)
	Result(id string) (*dto.DetectionResponse, error)
	Artifact(id string) (string, error)
	Delete(id string) error
	Clear() error
}

// DetectImageHandler handles POST /api/detect/image with a multipart "file"
// and optional length, width, unit and confidence fields.
func DetectImageHandler(jobs Jobs, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		form, err := parseUpload(w, r, cfg)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		defer form.close()

		resp, err := jobs.SubmitImage(r.Context(), service.ImageRequest{
			FileName: form.fileName,
			Body:     form.file,
			Area:     form.area,
			Unit:     form.unit,
			Conf:     form.conf,
		})
		if err != nil {
			writeError(w, logger, err)
			return
		}

		logger.Info("Image %s: %d detections, density %.4f", form.fileName, resp.TotalCount, resp.Density)
		writeJSON(w, logger, http.StatusOK, resp)
	}
}

// DetectVideoHandler handles POST /api/detect/video. Besides the image fields
// it reads "tracking" (default false) and "transcode" (default from config).
func DetectVideoHandler(jobs Jobs, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		form, err := parseUpload(w, r, cfg)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		defer form.close()

		resp, err := jobs.SubmitVideo(r.Context(), service.VideoRequest{
			FileName:  form.fileName,
			Body:      form.file,
			Area:      form.area,
			Unit:      form.unit,
			Conf:      form.conf,
			Tracking:  parseBool(r.FormValue("tracking"), false),
			Transcode: parseBool(r.FormValue("transcode"), cfg.Transcode),
		})
		if err != nil {
			writeError(w, logger, err)
			return
		}

		logger.Info("Video %s: %d detections in first frame, density %.4f", form.fileName, resp.TotalCount, resp.Density)
		writeJSON(w, logger, http.StatusOK, resp)
	}
}

type uploadForm struct {
	fileName string
	file     multipart.File
	area     *density.Area
	unit     density.Unit
	conf     float64
}

func (f *uploadForm) close() {
	f.file.Close()
}

func parseUpload(w http.ResponseWriter, r *http.Request, cfg *config.Config) (*uploadForm, error) {
	if cfg.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadSize<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidUpload, err)
	}

	unit, err := density.ParseUnit(r.FormValue("unit"))
	if err != nil {
		return nil, err
	}
	area, err := parseArea(r.FormValue("length"), r.FormValue("width"), unit)
	if err != nil {
		return nil, err
	}
	conf, err := parseConfidence(r.FormValue("confidence"), cfg.ConfidenceThreshold)
	if err != nil {
		return nil, err
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: missing file field: %v", apperr.ErrInvalidUpload, err)
	}

	return &uploadForm{fileName: header.Filename, file: file, area: area, unit: unit, conf: conf}, nil
}

// parseArea returns nil when both dimensions are blank. A single blank
// dimension counts as 0, which yields density 0.
func parseArea(length, width string, unit density.Unit) (*density.Area, error) {
	length, width = strings.TrimSpace(length), strings.TrimSpace(width)
	if length == "" && width == "" {
		return nil, nil
	}

	l, err := parseDimension(length)
	if err != nil {
		return nil, err
	}
	wv, err := parseDimension(width)
	if err != nil {
		return nil, err
	}

	area, err := density.NewArea(l, wv, unit)
	if err != nil {
		return nil, err
	}
	return &area, nil
}

func parseDimension(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", apperr.ErrInvalidArea, s)
	}
	return v, nil
}

func parseConfidence(s string, def float64) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 || v > 1 {
		return 0, fmt.Errorf("%w: %q", apperr.ErrInvalidConfidence, s)
	}
	return v, nil
}

func parseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true
	case "0", "false", "off", "no":
		return false
	default:
		return def
	}
}
