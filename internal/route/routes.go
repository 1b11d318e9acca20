package route

import (
	"net/http"
	"os"
	"path/filepath"

	"mosquitoserver/internal/config"
	"mosquitoserver/internal/handler"
	"mosquitoserver/internal/logger"
	"mosquitoserver/internal/metrics"
	"mosquitoserver/internal/middleware"
	"mosquitoserver/internal/repository"

	"github.com/rs/cors"
)

// Deps are the services the routes are wired to.
type Deps struct {
	Jobs    handler.Jobs
	Results repository.ResultRepository
	Viewers handler.Viewers
	Metrics *metrics.Metrics
}

// dynamicHTMLHandler serves /path as <static>/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(staticDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if path == "/" {
			path = "/index"
		}

		filePath := filepath.Join(staticDir, filepath.Clean("/"+path)+".html")

		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}

		http.ServeFile(w, r, filePath)
	}
}

// SetupRoutes registers HTTP routes, static file serving and API endpoints,
// and wraps the mux with CORS and the authentication middleware.
func SetupRoutes(deps Deps, cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDirectory))))

	// Detection endpoints
	mux.HandleFunc("/api/detect/image", handler.DetectImageHandler(deps.Jobs, cfg, logger))
	mux.HandleFunc("/api/detect/video", handler.DetectVideoHandler(deps.Jobs, cfg, logger))
	mux.HandleFunc("/api/progress", handler.ProgressWebsocketHandler(deps.Viewers, logger))

	// Result endpoints
	mux.HandleFunc("/api/results", handler.ListResultsHandler(deps.Results, logger))
	mux.HandleFunc("/api/results/view", handler.ViewResultHandler(deps.Jobs, logger))
	mux.HandleFunc("/api/results/download", handler.DownloadResultHandler(deps.Jobs, logger))
	mux.HandleFunc("/api/results/delete", handler.DeleteResultHandler(deps.Jobs, logger))
	mux.HandleFunc("/api/results/clear", handler.ClearResultsHandler(deps.Jobs, logger))

	// Log endpoints
	mux.HandleFunc("/logs", handler.ShowLogsHandler(logger))
	mux.HandleFunc("/logs/clear", handler.ClearLogsHandler(logger))

	// Auth endpoints
	mux.HandleFunc("/auth/login", handler.LoginHandler(cfg, logger))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler)

	// Operations
	mux.Handle("/metrics", deps.Metrics.Handler())
	mux.HandleFunc("/healthz", handler.HealthHandler)

	// Automatic HTML handler mapping for example: /login -> <static>/login.html
	mux.HandleFunc("/", dynamicHTMLHandler(cfg.StaticDirectory))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	})

	return corsHandler.Handler(middleware.AuthMiddleware(cfg.Password, mux))
}
