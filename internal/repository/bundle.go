package repository

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mockfhir/mockfhir/internal/platform/fhir"
)

// RequestBundle is the parsed form of a submitted transaction or batch
// Bundle.
type RequestBundle struct {
	ResourceType string         `json:"resourceType"`
	Type         string         `json:"type"`
	Entry        []RequestEntry `json:"entry,omitempty"`
}

type RequestEntry struct {
	FullURL  string                 `json:"fullUrl,omitempty"`
	Resource map[string]interface{} `json:"resource,omitempty"`
	Request  EntryRequest           `json:"request"`
}

type EntryRequest struct {
	Method      string `json:"method"`
	URL         string `json:"url"`
	IfNoneExist string `json:"ifNoneExist,omitempty"`
}

// ParseRequestBundle accepts the representations a bundle may arrive in:
// raw JSON, an already-decoded document, or a typed model.
func ParseRequestBundle(bundle interface{}) (*RequestBundle, error) {
	var raw []byte
	switch v := bundle.(type) {
	case *RequestBundle:
		return v, nil
	case []byte:
		raw = v
	case map[string]interface{}:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode bundle document: %w", err)
		}
		raw = encoded
	case Flattener:
		encoded, err := json.Marshal(v.ToFHIR())
		if err != nil {
			return nil, fmt.Errorf("encode bundle document: %w", err)
		}
		raw = encoded
	case nil:
		return nil, fmt.Errorf("bundle payload is required")
	default:
		return nil, fmt.Errorf("unsupported bundle representation %T", bundle)
	}

	parsed := &RequestBundle{}
	if err := json.Unmarshal(raw, parsed); err != nil {
		return nil, fmt.Errorf("invalid bundle JSON: %w", err)
	}
	return parsed, nil
}

// ProcessBundle dispatches each entry in submission order and assembles a
// per-entry response list. This is a best-effort batch, not an atomic
// transaction: a failing entry is reported in place and never blocks or
// rolls back the others.
func (r *Repository) ProcessBundle(bundle *RequestBundle) *fhir.Bundle {
	entries := make([]fhir.BundleEntry, 0, len(bundle.Entry))
	for i, entry := range bundle.Entry {
		entries = append(entries, r.processEntry(i, entry))
	}
	r.log.Debug().Str("type", bundle.Type).Int("entries", len(entries)).Msg("bundle processed")
	return fhir.NewResponseBundle(bundle.Type, entries)
}

// processEntry handles one bundle entry. Panics are contained here and
// converted into a 500-style entry response so one bad entry cannot abort
// the loop.
func (r *Repository) processEntry(index int, entry RequestEntry) (response fhir.BundleEntry) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Int("entry", index).Interface("panic", rec).Msg("bundle entry failed")
			response = responseEntry(
				http.StatusInternalServerError,
				"",
				errorOutcome(http.StatusInternalServerError, fhir.IssueTypeException,
					fmt.Sprintf("Error processing entry: %v", rec)),
			)
		}
	}()

	method := strings.ToUpper(entry.Request.Method)
	if method == "" {
		method = http.MethodGet
	}
	kind, id, query := splitEntryURL(entry.Request.URL)

	switch method {
	case http.MethodPost:
		var out *Outcome
		if entry.Request.IfNoneExist != "" {
			out = r.ConditionalCreate(entry.Resource, entry.Request.IfNoneExist)
		} else {
			out = r.Create(entry.Resource)
		}
		return outcomeEntry(out)

	case http.MethodPut:
		if kind == "" {
			return invalidURLEntry(entry.Request.URL)
		}
		var out *Outcome
		switch {
		case query != "":
			out = r.ConditionalUpdate(kind, entry.Resource, query)
		case id != "":
			out = r.Update(kind, id, entry.Resource)
		default:
			return invalidURLEntry(entry.Request.URL)
		}
		return outcomeEntry(out)

	case http.MethodGet:
		if kind == "" {
			return invalidURLEntry(entry.Request.URL)
		}
		if id != "" {
			doc, ok := r.Read(kind, id)
			if !ok {
				outcome := fhir.NotFoundOutcome(kind, id)
				return responseEntry(http.StatusNotFound, "", outcome)
			}
			return fhir.BundleEntry{
				FullURL:  r.location(kind, id),
				Resource: doc,
				Response: &fhir.BundleResponse{Status: fhir.StatusToken(http.StatusOK)},
			}
		}
		results := r.Search(kind, query)
		return fhir.BundleEntry{
			Resource: results,
			Response: &fhir.BundleResponse{Status: fhir.StatusToken(http.StatusOK)},
		}

	default:
		return responseEntry(
			http.StatusNotFound,
			"",
			errorOutcome(http.StatusNotFound, fhir.IssueTypeNotSupported,
				fmt.Sprintf("Method %s not supported", method)),
		)
	}
}

// splitEntryURL parses a bundle entry URL of the form
// "Kind", "Kind/id", or "Kind?criteria" (an optional leading slash is
// tolerated). The same parsing applies to every entry method.
func splitEntryURL(raw string) (kind, id, query string) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "/")
	path, q, _ := strings.Cut(raw, "?")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) > 0 {
		kind = segments[0]
	}
	if len(segments) > 1 {
		id = segments[1]
	}
	return kind, id, q
}

func outcomeEntry(out *Outcome) fhir.BundleEntry {
	return fhir.BundleEntry{
		Response: &fhir.BundleResponse{
			Status:   fhir.StatusToken(out.HTTPStatus()),
			Location: out.Location,
			Outcome:  out,
		},
	}
}

func responseEntry(status int, location string, outcome interface{}) fhir.BundleEntry {
	return fhir.BundleEntry{
		Response: &fhir.BundleResponse{
			Status:   fhir.StatusToken(status),
			Location: location,
			Outcome:  outcome,
		},
	}
}

func invalidURLEntry(url string) fhir.BundleEntry {
	return responseEntry(
		http.StatusBadRequest,
		"",
		errorOutcome(http.StatusBadRequest, fhir.IssueTypeInvalid,
			fmt.Sprintf("Invalid URL format: %s", url)),
	)
}
