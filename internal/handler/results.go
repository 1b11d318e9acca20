package handler

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"mosquitoserver/internal/dto"
	"mosquitoserver/internal/logger"
	"mosquitoserver/internal/model"
	"mosquitoserver/internal/repository"
	"mosquitoserver/internal/service"
)

// ListResultsHandler returns a page of stored results, newest first.
// Query: page, limit, kind (image|video).
func ListResultsHandler(results repository.ResultRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)

		filter := &model.ResultFilter{
			Kind:   q.Get("kind"),
			Limit:  limit,
			Offset: (page - 1) * limit,
		}

		rows, err := results.GetAll(filter)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		totalCount, err := results.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting results: %v", err)
			totalCount = len(rows)
		}

		writeJSON(w, logger, http.StatusOK, dto.ResultsData{
			Results:     service.ResultInfos(rows),
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		})
	}
}

// ViewResultHandler returns one result with its detections.
func ViewResultHandler(jobs Jobs, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id parameter is required", http.StatusBadRequest)
			return
		}

		resp, err := jobs.Result(id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, resp)
	}
}

// DownloadResultHandler serves the annotated artifact as annotated_result.<ext>.
func DownloadResultHandler(jobs Jobs, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id parameter is required", http.StatusBadRequest)
			return
		}

		path, err := jobs.Artifact(id)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		name := "annotated_result" + filepath.Ext(path)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, path)
	}
}

// DeleteResultHandler removes one result and its files.
func DeleteResultHandler(jobs Jobs, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id parameter is required", http.StatusBadRequest)
			return
		}

		if err := jobs.Delete(id); err != nil {
			writeError(w, logger, err)
			return
		}

		logger.Info("Deleted result: %s", id)
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "deleted", "id": id})
	}
}

// ClearResultsHandler removes every result.
func ClearResultsHandler(jobs Jobs, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := jobs.Clear(); err != nil {
			writeError(w, logger, err)
			return
		}

		logger.Info("All results cleared")
		w.WriteHeader(http.StatusNoContent)
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}
