package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mockfhir/mockfhir/internal/platform/fhir"
)

// Recovery converts request-handler panics into a 500 exception
// OperationOutcome, so the caller always receives a well-formed FHIR
// document.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)

					logger.Error().
						Str("request_id", fmt.Sprintf("%v", c.Get("request_id"))).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", string(stack[:n])).
						Msg("panic recovered")

					outcome := fhir.ErrorOutcome(fhir.IssueTypeException,
						fmt.Sprintf("Server error: %v", r))
					body, _ := json.Marshal(outcome)
					err = c.Blob(http.StatusInternalServerError, fhir.MediaType, body)
				}
			}()
			return next(c)
		}
	}
}
