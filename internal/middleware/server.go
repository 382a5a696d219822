package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tg-antispam-go/internal/config"
)

// NewRouter builds the liveness endpoints and, when enabled, the metrics endpoint
func NewRouter(cfg *config.MonitoringConfig) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/", staticHandler("OK - Telegram AntiSpam Bot running")).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/ping", staticHandler("pong")).Methods(http.MethodGet, http.MethodHead)

	// Health check endpoint
	router.HandleFunc("/health", staticHandler("OK")).Methods(http.MethodGet, http.MethodHead)

	if cfg.Metrics.Enabled && cfg.Metrics.Path != "" {
		router.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	return router
}

func staticHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}
}

// NewServer creates the HTTP server for health checks and metrics
func NewServer(cfg *config.MonitoringConfig) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(cfg),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
