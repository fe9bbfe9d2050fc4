// Package repository implements an in-memory FHIR resource repository used
// as a deterministic stand-in for a real server in tests. It covers plain
// and conditional create/update, read, identifier search, and
// transaction/batch bundle processing against a partitioned store.
package repository

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mockfhir/mockfhir/internal/platform/fhir"
)

// DefaultBaseURL is the location prefix used when none is configured.
const DefaultBaseURL = "http://localhost:8080/fhir"

// Flattener is satisfied by typed domain models that can flatten
// themselves to the plain document form the store keeps. Write operations
// accept either a typed model or a map document, uniformly.
type Flattener interface {
	ToFHIR() map[string]interface{}
}

// IDSetter lets the repository write a generated id back onto a typed
// submission.
type IDSetter interface {
	SetID(id string)
}

// Repository coordinates identity assignment, search matching, and store
// mutation. It is single-session: one logical client at a time, no
// internal locking.
type Repository struct {
	store   *Store
	ident   identity
	baseURL string
	log     zerolog.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithBaseURL sets the prefix used to build location strings in outcomes.
func WithBaseURL(u string) Option {
	return func(r *Repository) { r.baseURL = u }
}

// WithClock replaces the wall clock used for meta.lastUpdated.
func WithClock(c Clock) Option {
	return func(r *Repository) { r.ident.now = c }
}

// WithIDFunc replaces the resource id generator.
func WithIDFunc(f IDFunc) Option {
	return func(r *Repository) { r.ident.newID = f }
}

// WithLogger attaches a logger for diagnostic trace output. The default
// logger discards everything so embedding tests stay silent.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Repository) { r.log = log }
}

func New(opts ...Option) *Repository {
	r := &Repository{
		store:   NewStore(),
		ident:   identity{now: time.Now, newID: uuid.NewString},
		baseURL: DefaultBaseURL,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.baseURL = strings.TrimSuffix(r.baseURL, "/")
	return r
}

// Reset empties every partition, restoring the repository to its initial
// state without rebuilding it. Used between test cases.
func (r *Repository) Reset() {
	r.store.Reset()
	r.log.Debug().Msg("store reset")
}

// BaseURL returns the configured location prefix.
func (r *Repository) BaseURL() string { return r.baseURL }

// Outcome is the structured document returned by every write operation.
// The embedded OperationOutcome carries the issue list; Location,
// CreatedResource and Created mirror the wire format of the server this
// repository emulates.
type Outcome struct {
	fhir.OperationOutcome
	Location        string                 `json:"location,omitempty"`
	CreatedResource map[string]interface{} `json:"created_resource,omitempty"`
	Created         *bool                  `json:"created,omitempty"`

	status int
}

// HTTPStatus returns the HTTP status code implied by the outcome.
func (o *Outcome) HTTPStatus() int { return o.status }

// WasCreated reports whether the operation created a new resource.
func (o *Outcome) WasCreated() bool { return o.Created != nil && *o.Created }

// Failed reports whether the outcome carries an error issue.
func (o *Outcome) Failed() bool {
	for _, issue := range o.Issue {
		if issue.Severity == fhir.IssueSeverityError || issue.Severity == fhir.IssueSeverityFatal {
			return true
		}
	}
	return false
}

func writeOutcome(status int, diagnostics, location string, stored map[string]interface{}, created bool) *Outcome {
	return &Outcome{
		OperationOutcome: fhir.InformationOutcome(diagnostics),
		Location:         location,
		CreatedResource:  stored,
		Created:          &created,
		status:           status,
	}
}

func errorOutcome(status int, code, diagnostics string) *Outcome {
	return &Outcome{
		OperationOutcome: fhir.ErrorOutcome(code, diagnostics),
		status:           status,
	}
}

// Create assigns identity to the submitted resource and stores it
// unconditionally.
func (r *Repository) Create(resource interface{}) *Outcome {
	doc, setter, err := toDocument(resource)
	if err != nil {
		return errorOutcome(http.StatusBadRequest, fhir.IssueTypeInvalid, err.Error())
	}
	kind, _ := doc["resourceType"].(string)
	if kind == "" {
		return errorOutcome(http.StatusBadRequest, fhir.IssueTypeInvalid, "resource is missing resourceType")
	}

	id := r.ident.assign(doc, setter)
	r.store.Put(kind, id, doc)
	r.log.Debug().Str("kind", kind).Str("id", id).Msg("resource created")

	return writeOutcome(
		http.StatusCreated,
		fmt.Sprintf("Resource %s/%s created successfully", kind, id),
		r.location(kind, id),
		copyDocument(doc),
		true,
	)
}

// Update stores the resource under the given kind and id, overwriting any
// prior record. The payload's id is forced to the target id before
// identity assignment, so an update can never move a record.
func (r *Repository) Update(kind, id string, resource interface{}) *Outcome {
	if kind == "" || id == "" {
		return errorOutcome(http.StatusBadRequest, fhir.IssueTypeInvalid, "update requires a resource type and id")
	}
	doc, setter, err := toDocument(resource)
	if err != nil {
		return errorOutcome(http.StatusBadRequest, fhir.IssueTypeInvalid, err.Error())
	}
	doc["id"] = id
	if setter != nil {
		setter.SetID(id)
	}

	_, existed := r.store.Get(kind, id)
	r.ident.assign(doc, setter)
	r.store.Put(kind, id, doc)
	r.log.Debug().Str("kind", kind).Str("id", id).Bool("existed", existed).Msg("resource updated")

	verb := "created"
	status := http.StatusCreated
	if existed {
		verb = "updated"
		status = http.StatusOK
	}
	return writeOutcome(
		status,
		fmt.Sprintf("Resource %s/%s %s successfully", kind, id, verb),
		r.location(kind, id),
		copyDocument(doc),
		!existed,
	)
}

// ConditionalCreate creates the resource only if no stored resource of its
// kind matches the ifNoneExist criteria. When matches exist, the first one
// in partition order is returned unmodified with created=false, making
// re-submission idempotent.
func (r *Repository) ConditionalCreate(resource interface{}, ifNoneExist string) *Outcome {
	kind, err := kindOf(resource)
	if err != nil {
		return errorOutcome(http.StatusBadRequest, fhir.IssueTypeInvalid, err.Error())
	}

	criteria := ParseQuery(ifNoneExist)
	matches := r.search(kind, criteria)
	if len(matches) > 0 {
		existing := matches[0]
		id, _ := existing["id"].(string)
		r.log.Debug().Str("kind", kind).Str("id", id).Int("matches", len(matches)).
			Msg("conditional create matched existing resource")
		return writeOutcome(
			http.StatusOK,
			"Resource already exists, not created",
			r.location(kind, id),
			copyDocument(existing),
			false,
		)
	}
	return r.Create(resource)
}

// ConditionalUpdate resolves the criteria against stored resources of the
// given kind: zero matches create, exactly one match updates it in place,
// and two or more matches are a terminal error with no mutation.
func (r *Repository) ConditionalUpdate(kind string, resource interface{}, criteriaString string) *Outcome {
	criteria := ParseQuery(criteriaString)
	matches := r.search(kind, criteria)

	switch len(matches) {
	case 0:
		out := r.Create(resource)
		if out.Failed() {
			return out
		}
		created := true
		out.Created = &created
		out.status = http.StatusCreated
		return out
	case 1:
		id, _ := matches[0]["id"].(string)
		out := r.Update(kind, id, resource)
		if out.Failed() {
			return out
		}
		created := false
		out.Created = &created
		out.status = http.StatusOK
		return out
	default:
		r.log.Debug().Str("kind", kind).Int("matches", len(matches)).
			Msg("conditional update rejected: criteria not selective")
		return errorOutcome(
			http.StatusPreconditionFailed,
			fhir.IssueTypeMultipleMatches,
			fmt.Sprintf("Multiple resources match the search criteria: %d found", len(matches)),
		)
	}
}

// Read returns a copy of the resource stored under (kind, id).
func (r *Repository) Read(kind, id string) (map[string]interface{}, bool) {
	doc, ok := r.store.Get(kind, id)
	if !ok {
		return nil, false
	}
	return copyDocument(doc), true
}

// Search evaluates the raw query string against stored resources of the
// given kind and returns a searchset Bundle. An empty query selects all.
func (r *Repository) Search(kind, rawQuery string) *fhir.Bundle {
	criteria := ParseQuery(rawQuery)
	matches := r.search(kind, criteria)
	results := make([]map[string]interface{}, 0, len(matches))
	for _, doc := range matches {
		results = append(results, copyDocument(doc))
	}
	r.log.Debug().Str("kind", kind).Int("total", len(results)).Msg("search evaluated")
	return fhir.NewSearchset(results, r.baseURL)
}

// search returns stored resources of the kind matching the criteria, in
// partition insertion order. Returned documents are the stored instances;
// callers copy before letting them escape.
func (r *Repository) search(kind string, criteria Criteria) []map[string]interface{} {
	var matches []map[string]interface{}
	for _, doc := range r.store.All(kind) {
		if Matches(doc, criteria) {
			matches = append(matches, doc)
		}
	}
	return matches
}

func (r *Repository) location(kind, id string) string {
	return fmt.Sprintf("%s/%s/%s", r.baseURL, kind, id)
}

// toDocument flattens a submission to the plain document form the store
// keeps. Typed models flatten through the Flattener seam; map documents
// are deep-copied so the caller's value is never aliased.
func toDocument(resource interface{}) (map[string]interface{}, IDSetter, error) {
	switch v := resource.(type) {
	case Flattener:
		setter, _ := resource.(IDSetter)
		return copyDocument(v.ToFHIR()), setter, nil
	case map[string]interface{}:
		// A nil map (a bundle entry without a resource field) is an
		// empty document, not an error.
		if v == nil {
			return map[string]interface{}{}, nil, nil
		}
		return copyDocument(v), nil, nil
	case nil:
		return nil, nil, fmt.Errorf("resource payload is required")
	default:
		return nil, nil, fmt.Errorf("unsupported resource representation %T", resource)
	}
}

// kindOf extracts the resource type discriminator without committing to a
// full flatten.
func kindOf(resource interface{}) (string, error) {
	var kind string
	switch v := resource.(type) {
	case Flattener:
		kind, _ = v.ToFHIR()["resourceType"].(string)
	case map[string]interface{}:
		kind, _ = v["resourceType"].(string)
	case nil:
		return "", fmt.Errorf("resource payload is required")
	default:
		return "", fmt.Errorf("unsupported resource representation %T", resource)
	}
	if kind == "" {
		return "", fmt.Errorf("resource is missing resourceType")
	}
	return kind, nil
}
