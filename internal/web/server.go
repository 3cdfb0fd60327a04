// Package web serves the deck viewer: HTML pages for browsing decks, JSON
// endpoints for card data and ratings, and the extracted media files.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ankiview/internal/config"
	"ankiview/internal/media"
	"ankiview/internal/ratings"
)

//go:embed all:static
var staticFiles embed.FS

//go:embed all:templates
var templateFiles embed.FS

// Server holds the dependencies for the HTTP server.
type Server struct {
	cfg       *config.Config
	state     *State
	ratings   *ratings.Store
	lookup    *media.Lookup
	packages  []string
	logger    *slog.Logger
	router    *http.ServeMux
	templates *template.Template

	statsMu     sync.Mutex
	lookupCount int
	lookupTime  time.Duration
}

// NewServer creates and configures a new server. packages is the set of
// .apkg files the user may switch between.
func NewServer(
	cfg *config.Config,
	state *State,
	ratingsStore *ratings.Store,
	packages []string,
	logger *slog.Logger,
) (*Server, error) {
	tpl, err := template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		state:     state,
		ratings:   ratingsStore,
		lookup:    media.NewLookup(cfg.MediaLookupTTL()),
		packages:  packages,
		logger:    logger,
		router:    http.NewServeMux(),
		templates: tpl,
	}
	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler with request logging around the mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	s.router.ServeHTTP(wrapped, r)

	level := slog.LevelInfo
	switch {
	case wrapped.status >= 500:
		level = slog.LevelError
	case wrapped.status >= 400:
		level = slog.LevelWarn
	}
	s.logger.Log(r.Context(), level, "http request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", wrapped.status,
		"duration_ms", time.Since(start).Milliseconds(),
		"bytes", wrapped.written,
	)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		// The static tree is embedded at build time; this cannot fail at runtime.
		panic(err)
	}
	s.router.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	s.router.HandleFunc("GET /{$}", s.handleIndex)
	s.router.HandleFunc("GET /deck/{deckID}", s.handleDeck)
	s.router.HandleFunc("GET /deck/{deckID}/card/{cardFile}", s.handleCardJSON)
	s.router.HandleFunc("GET /switch/{filename}", s.handleSwitch)
	s.router.HandleFunc("GET /favorites", s.handleFavorites)

	s.router.HandleFunc("GET /api/cards", s.handleListCards)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /api/deck/{deckID}/ratings", s.handleGetRatings)
	s.router.HandleFunc("POST /api/card/{cardID}/rating", s.handleSetRating)

	s.router.HandleFunc("GET "+s.cfg.MediaURLPath+"/{filename...}", s.handleMedia)

	s.router.HandleFunc("GET /dev/media-matches/{filename}", s.handleDevMediaMatches)
	s.router.HandleFunc("GET /dev/media-stats", s.handleDevMediaStats)
}

// statusWriter captures the status code and bytes written for logging.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

func (s *Server) recordLookup(d time.Duration) {
	s.statsMu.Lock()
	s.lookupCount++
	s.lookupTime += d
	s.statsMu.Unlock()
}

func (s *Server) lookupStats() (int, time.Duration) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.lookupCount, s.lookupTime
}
