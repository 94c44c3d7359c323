// Package server exposes the HTTP API.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pitchforge/engine/internal/imagegen"
	"github.com/pitchforge/engine/internal/lifecycle"
	"github.com/pitchforge/engine/internal/ports"
	"github.com/pitchforge/engine/internal/vault"
)

// Config holds server-specific configuration.
type Config struct {
	Addr         string
	GeneratedDir string
}

func NewHTTPServer(cfg Config, manager *lifecycle.Manager, sessions ports.SessionRepository, contentVault *vault.Vault, images *imagegen.Client) *http.Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if cfg.GeneratedDir != "" {
		r.Handle("/generated/*", http.StripPrefix("/generated/",
			http.FileServer(http.Dir(cfg.GeneratedDir))))
	}

	h := NewHandler(manager, sessions, contentVault, images)
	h.RegisterRoutes(r)

	return &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}
}
