// Package server exposes the repository over the FHIR REST surface:
// create, read, search, conditional create/update, and bundle processing.
package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mockfhir/mockfhir/internal/platform/fhir"
	"github.com/mockfhir/mockfhir/internal/repository"
)

type Server struct {
	repo *repository.Repository
	log  zerolog.Logger
}

func New(repo *repository.Repository, log zerolog.Logger) *Server {
	return &Server{repo: repo, log: log}
}

// RegisterRoutes wires the FHIR endpoints onto the echo instance, both at
// the root and under the conventional /fhir prefix.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/", s.handleBundle)
	fg := e.Group("/fhir")
	fg.POST("", s.handleBundle)
	fg.POST("/", s.handleBundle)
	for _, g := range []*echo.Group{e.Group(""), fg} {
		g.POST("/:kind", s.handleCreate)
		g.PUT("/:kind", s.handleConditionalUpdate)
		g.PUT("/:kind/:id", s.handleUpdate)
		g.GET("/:kind", s.handleSearch)
		g.GET("/:kind/:id", s.handleRead)
	}
	e.RouteNotFound("/*", s.handleNotFound)
	e.HTTPErrorHandler = s.errorHandler
}

// errorHandler maps echo routing errors onto FHIR outcomes: every
// unmatched method/path shape is a 404 not-found outcome, anything else a
// 500 exception. Correctly routed requests never reach here.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
	}
	if code == http.StatusNotFound || code == http.StatusMethodNotAllowed {
		_ = fhirJSON(c, http.StatusNotFound,
			fhir.ErrorOutcome(fhir.IssueTypeNotFound, "Endpoint not found"))
		return
	}
	s.log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
	_ = fhirJSON(c, http.StatusInternalServerError,
		fhir.ErrorOutcome(fhir.IssueTypeException, "Server error: "+err.Error()))
}

// handleCreate handles POST /{Kind}. An If-None-Exist header turns the
// create into a conditional create.
func (s *Server) handleCreate(c echo.Context) error {
	doc, err := decodeBody(c)
	if err != nil {
		return s.invalidBody(c, err)
	}
	ifNoneExist := c.Request().Header.Get("If-None-Exist")

	var out *repository.Outcome
	if ifNoneExist != "" {
		out = s.repo.ConditionalCreate(doc, ifNoneExist)
	} else {
		out = s.repo.Create(doc)
	}
	return fhirJSON(c, out.HTTPStatus(), out)
}

// handleUpdate handles PUT /{Kind}/{id}.
func (s *Server) handleUpdate(c echo.Context) error {
	doc, err := decodeBody(c)
	if err != nil {
		return s.invalidBody(c, err)
	}
	out := s.repo.Update(c.Param("kind"), c.Param("id"), doc)
	return fhirJSON(c, out.HTTPStatus(), out)
}

// handleConditionalUpdate handles PUT /{Kind}?{criteria}. A PUT with
// neither id nor criteria is invalid.
func (s *Server) handleConditionalUpdate(c echo.Context) error {
	criteria := c.QueryString()
	if criteria == "" {
		outcome := fhir.ErrorOutcome(fhir.IssueTypeInvalid,
			"PUT requests must include a resource ID or search parameters")
		return fhirJSON(c, http.StatusBadRequest, outcome)
	}
	doc, err := decodeBody(c)
	if err != nil {
		return s.invalidBody(c, err)
	}
	out := s.repo.ConditionalUpdate(c.Param("kind"), doc, criteria)
	return fhirJSON(c, out.HTTPStatus(), out)
}

// handleRead handles GET /{Kind}/{id}.
func (s *Server) handleRead(c echo.Context) error {
	kind, id := c.Param("kind"), c.Param("id")
	doc, ok := s.repo.Read(kind, id)
	if !ok {
		return fhirJSON(c, http.StatusNotFound, fhir.NotFoundOutcome(kind, id))
	}
	return fhirJSON(c, http.StatusOK, doc)
}

// handleSearch handles GET /{Kind}?{criteria}.
func (s *Server) handleSearch(c echo.Context) error {
	bundle := s.repo.Search(c.Param("kind"), c.QueryString())
	return fhirJSON(c, http.StatusOK, bundle)
}

// handleBundle handles POST / with a transaction or batch Bundle body.
func (s *Server) handleBundle(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return s.invalidBody(c, err)
	}
	bundle, err := repository.ParseRequestBundle(body)
	if err != nil {
		return s.invalidBody(c, err)
	}
	return fhirJSON(c, http.StatusOK, s.repo.ProcessBundle(bundle))
}

func (s *Server) handleNotFound(c echo.Context) error {
	return fhirJSON(c, http.StatusNotFound,
		fhir.ErrorOutcome(fhir.IssueTypeNotFound, "Endpoint not found"))
}

func (s *Server) invalidBody(c echo.Context, err error) error {
	s.log.Debug().Err(err).Str("path", c.Request().URL.Path).Msg("rejected request body")
	return fhirJSON(c, http.StatusBadRequest,
		fhir.ErrorOutcome(fhir.IssueTypeInvalid, err.Error()))
}

func decodeBody(c echo.Context) (map[string]interface{}, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, err
	}
	doc := map[string]interface{}{}
	if len(body) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// fhirJSON writes v with the FHIR JSON content type. echo's c.JSON would
// label the body application/json, which FHIR clients reject.
func fhirJSON(c echo.Context, status int, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Blob(status, fhir.MediaType, body)
}
