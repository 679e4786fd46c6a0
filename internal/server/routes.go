package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+).
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /api/upload", h.Upload)
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", h.DeleteJob)
	mux.HandleFunc("GET /api/jobs/{id}/download", h.Download)
	mux.HandleFunc("POST /api/jobs/{id}/reference-voice", h.ReferenceVoice)
	mux.HandleFunc("POST /api/jobs/{id}/assign-voices", h.AssignVoices)

	mux.HandleFunc("GET /api/voices", h.ListVoices)
	mux.HandleFunc("DELETE /api/voices/{id}", h.DeleteVoice)

	mux.HandleFunc("POST /api/tts", h.TTS)
	mux.HandleFunc("POST /api/music", h.Music)
	mux.HandleFunc("POST /api/mix", h.Mix)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
