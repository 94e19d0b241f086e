// Package server exposes the admin HTTP surface: health, status, stats,
// the attempt log, and out-of-band publish/replenish triggers. It carries
// no business logic of its own; every handler is a thin read or trigger
// over the lifecycle manager and post store.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ibeckermayer/dripfeed/internal/lifecycle"
	"github.com/ibeckermayer/dripfeed/internal/store"
)

// Server is the dripfeed admin HTTP server.
type Server struct {
	manager *lifecycle.Manager
	store   *store.Store
	botID   string
	addr    string
	router  chi.Router
	srv     *http.Server
}

// New creates the admin server.
func New(addr, botID string, mgr *lifecycle.Manager, st *store.Store) *Server {
	s := &Server{
		manager: mgr,
		store:   st,
		botID:   botID,
		addr:    addr,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/stats", s.handleStats)
		r.Get("/attempts", s.handleAttempts)
		r.Post("/publish", s.handlePublish)
		r.Post("/replenish", s.handleReplenish)
		r.Post("/stats/recompute", s.handleRecompute)
	})
	s.router = r
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests. It blocks until the listener fails
// or Stop is called.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	log.Printf("[server] admin API listening on %s", s.addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("http://%s", s.addr)
}
