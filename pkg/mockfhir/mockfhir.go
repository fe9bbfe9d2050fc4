// Package mockfhir is the test fixture surface: an in-memory FHIR
// repository served over a local HTTP listener. Point an HTTP FHIR client
// at URL(), call Reset between test cases, Close when done.
package mockfhir

import (
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mockfhir/mockfhir/internal/repository"
	"github.com/mockfhir/mockfhir/internal/server"
)

// Server is one mock FHIR endpoint with its own isolated store.
type Server struct {
	repo *repository.Repository
	http *httptest.Server
}

// Option configures the fixture before it starts serving.
type Option func(*settings)

type settings struct {
	clock  func() time.Time
	newID  func() string
	logger zerolog.Logger
}

// WithClock pins the timestamp source, making meta.lastUpdated
// deterministic.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.clock = now }
}

// WithIDFunc pins the resource id generator, making generated ids
// deterministic.
func WithIDFunc(newID func() string) Option {
	return func(s *settings) { s.newID = newID }
}

// WithLogger enables diagnostic trace output from the repository and the
// HTTP layer.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// New starts a mock FHIR server on a local listener. The repository's
// location prefix is the listener's own /fhir URL, so locations in
// outcomes are directly dereferenceable.
func New(opts ...Option) *Server {
	cfg := settings{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := echo.New()
	e.HideBanner = true
	ts := httptest.NewServer(e)

	repoOpts := []repository.Option{
		repository.WithBaseURL(ts.URL + "/fhir"),
		repository.WithLogger(cfg.logger),
	}
	if cfg.clock != nil {
		repoOpts = append(repoOpts, repository.WithClock(cfg.clock))
	}
	if cfg.newID != nil {
		repoOpts = append(repoOpts, repository.WithIDFunc(cfg.newID))
	}
	repo := repository.New(repoOpts...)
	server.New(repo, cfg.logger).RegisterRoutes(e)

	return &Server{repo: repo, http: ts}
}

// URL returns the base FHIR endpoint, e.g. "http://127.0.0.1:PORT/fhir".
func (s *Server) URL() string { return s.http.URL + "/fhir" }

// Client returns an HTTP client wired to the fixture's listener.
func (s *Server) Client() *http.Client { return s.http.Client() }

// Reset empties the store, isolating the next test case.
func (s *Server) Reset() { s.repo.Reset() }

// Close shuts the listener down.
func (s *Server) Close() { s.http.Close() }

// Create stores a resource directly, bypassing HTTP. The input may be a
// plain document or any typed model with a ToFHIR method. Returns the
// stored resource document.
func (s *Server) Create(resource interface{}) map[string]interface{} {
	return s.repo.Create(resource).CreatedResource
}

// Read fetches a stored resource directly, bypassing HTTP.
func (s *Server) Read(kind, id string) (map[string]interface{}, bool) {
	return s.repo.Read(kind, id)
}
