package handler

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"mosquitoserver/internal/logger"
)

var logFiles = map[string]string{
	"info":    logger.InfoFile,
	"warning": logger.WarningFile,
	"error":   logger.ErrorFile,
}

// ShowLogsHandler serves the log file selected by ?level=info|warning|error as text/plain.
func ShowLogsHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename, ok := logFiles[levelOf(r)]
		if !ok {
			http.Error(w, "Unknown log level", http.StatusBadRequest)
			return
		}
		serveLogFile(w, r, logger.Dir(), filename)
	}
}

// ClearLogsHandler truncates the log file selected by ?level=.
func ClearLogsHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		filename, ok := logFiles[levelOf(r)]
		if !ok {
			http.Error(w, "Unknown log level", http.StatusBadRequest)
			return
		}
		if err := logger.CleanLogs(filename); err != nil {
			http.Error(w, fmt.Sprintf("Failed to clear %s: %v", filename, err), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func levelOf(r *http.Request) string {
	if level := r.URL.Query().Get("level"); level != "" {
		return level
	}
	return "info"
}

// serveLogFile is a helper that sets headers and serves a log file if it exists.
func serveLogFile(w http.ResponseWriter, r *http.Request, logDir, filename string) {
	filePath := filepath.Join(logDir, filename)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Log file not found: " + filename))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	http.ServeFile(w, r, filePath)
}
