package repository

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"testing"
	"time"
)

// newTestRepository returns a repository with deterministic seams: a fixed
// clock and sequential ids id-1, id-2, ...
func newTestRepository() *Repository {
	n := 0
	return New(
		WithBaseURL("http://example.org/fhir"),
		WithClock(func() time.Time {
			return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		}),
		WithIDFunc(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
}

func patientDoc(identValue string) map[string]interface{} {
	doc := map[string]interface{}{"resourceType": "Patient"}
	if identValue != "" {
		doc["identifier"] = []interface{}{
			map[string]interface{}{"system": "sys", "value": identValue},
		}
	}
	return doc
}

func TestCreateAssignsIdentity(t *testing.T) {
	r := newTestRepository()

	out := r.Create(patientDoc(""))

	if out.HTTPStatus() != http.StatusCreated {
		t.Errorf("status = %d, want 201", out.HTTPStatus())
	}
	if !out.WasCreated() {
		t.Error("expected created=true")
	}
	stored := out.CreatedResource
	if stored["id"] != "id-1" {
		t.Errorf("id = %v, want id-1", stored["id"])
	}
	meta := stored["meta"].(map[string]interface{})
	if meta["versionId"] != "1" {
		t.Errorf("versionId = %v, want \"1\"", meta["versionId"])
	}
	if out.Location != "http://example.org/fhir/Patient/id-1" {
		t.Errorf("location = %q", out.Location)
	}
}

func TestCreateRejectsMissingResourceType(t *testing.T) {
	r := newTestRepository()
	out := r.Create(map[string]interface{}{"id": "p1"})
	if out.HTTPStatus() != http.StatusBadRequest || !out.Failed() {
		t.Errorf("expected 400 error outcome, got %d", out.HTTPStatus())
	}
}

func TestCreateDoesNotAliasInput(t *testing.T) {
	r := newTestRepository()
	doc := patientDoc("V1")
	r.Create(doc)

	doc["identifier"].([]interface{})[0].(map[string]interface{})["value"] = "mutated"

	stored, _ := r.Read("Patient", "id-1")
	value := stored["identifier"].([]interface{})[0].(map[string]interface{})["value"]
	if value != "V1" {
		t.Error("stored resource aliases caller's document")
	}
}

func TestUpdateKeepsIDAndReplacesContent(t *testing.T) {
	r := newTestRepository()
	r.Create(map[string]interface{}{"resourceType": "Patient", "id": "X", "name": "first"})

	out := r.Update("Patient", "X", map[string]interface{}{"resourceType": "Patient", "name": "second", "gender": "male"})
	if out.HTTPStatus() != http.StatusOK || out.WasCreated() {
		t.Errorf("update of existing resource: status %d, created %v", out.HTTPStatus(), out.WasCreated())
	}

	out2 := r.Update("Patient", "X", map[string]interface{}{"resourceType": "Patient", "gender": "female"})
	if out2.WasCreated() {
		t.Error("second update reported created=true")
	}

	stored, _ := r.Read("Patient", "X")
	if stored["id"] != "X" {
		t.Errorf("id changed across updates: %v", stored["id"])
	}
	if stored["gender"] != "female" {
		t.Errorf("second payload not reflected: %v", stored["gender"])
	}
	if _, hasName := stored["name"]; hasName {
		t.Error("updates must replace, not merge")
	}
}

func TestUpdateForcesPayloadID(t *testing.T) {
	r := newTestRepository()
	out := r.Update("Patient", "target", map[string]interface{}{"resourceType": "Patient", "id": "other"})
	if out.CreatedResource["id"] != "target" {
		t.Errorf("payload id not forced to target: %v", out.CreatedResource["id"])
	}
	if !out.WasCreated() {
		t.Error("update of absent id must report created=true")
	}
	if out.HTTPStatus() != http.StatusCreated {
		t.Errorf("status = %d, want 201", out.HTTPStatus())
	}
}

func TestConditionalCreateIdempotence(t *testing.T) {
	r := newTestRepository()
	criteria := "identifier=sys|V1"

	first := r.ConditionalCreate(patientDoc("V1"), criteria)
	second := r.ConditionalCreate(patientDoc("V1"), criteria)

	if !first.WasCreated() {
		t.Error("first submission must create")
	}
	if second.WasCreated() {
		t.Error("second submission must not create")
	}
	if second.HTTPStatus() != http.StatusOK {
		t.Errorf("second submission status = %d, want 200", second.HTTPStatus())
	}
	if first.CreatedResource["id"] != second.CreatedResource["id"] {
		t.Errorf("ids differ: %v vs %v", first.CreatedResource["id"], second.CreatedResource["id"])
	}
	if r.store.Len("Patient") != 1 {
		t.Errorf("store holds %d patients, want 1", r.store.Len("Patient"))
	}
}

func TestConditionalCreateReturnsFirstMatch(t *testing.T) {
	r := newTestRepository()
	r.Create(patientDoc("V1")) // id-1
	r.Create(patientDoc("V1")) // id-2

	out := r.ConditionalCreate(patientDoc("V1"), "identifier=sys|V1")
	if out.WasCreated() {
		t.Error("expected existing resource")
	}
	if out.CreatedResource["id"] != "id-1" {
		t.Errorf("got %v, want first match id-1", out.CreatedResource["id"])
	}
}

func TestConditionalUpdateNoMatchCreates(t *testing.T) {
	r := newTestRepository()

	out := r.ConditionalUpdate("Patient", patientDoc("V9"), "identifier=sys|V9")

	if !out.WasCreated() || out.HTTPStatus() != http.StatusCreated {
		t.Errorf("expected created=true 201, got %v %d", out.WasCreated(), out.HTTPStatus())
	}
	if out.CreatedResource["id"] == "" {
		t.Error("expected a generated id")
	}
}

func TestConditionalUpdateSingleMatchUpdates(t *testing.T) {
	r := newTestRepository()
	created := r.Create(patientDoc("V1"))
	existingID := created.CreatedResource["id"].(string)

	payload := patientDoc("V1")
	payload["gender"] = "male"
	out := r.ConditionalUpdate("Patient", payload, "identifier=sys|V1")

	if out.WasCreated() || out.HTTPStatus() != http.StatusOK {
		t.Errorf("expected created=false 200, got %v %d", out.WasCreated(), out.HTTPStatus())
	}
	if out.CreatedResource["id"] != existingID {
		t.Errorf("updated id %v, want %v", out.CreatedResource["id"], existingID)
	}
	stored, _ := r.Read("Patient", existingID)
	if stored["gender"] != "male" {
		t.Error("fields not replaced by conditional update")
	}
}

func TestConditionalUpdateMultipleMatchesMutatesNothing(t *testing.T) {
	r := newTestRepository()
	r.Create(patientDoc("V1"))
	r.Create(patientDoc("V1"))
	before := snapshot(t, r, "Patient")

	payload := patientDoc("V1")
	payload["gender"] = "male"
	out := r.ConditionalUpdate("Patient", payload, "identifier=sys|V1")

	if out.HTTPStatus() != http.StatusPreconditionFailed {
		t.Errorf("status = %d, want 412", out.HTTPStatus())
	}
	if !out.Failed() {
		t.Error("expected error outcome")
	}
	if out.Issue[0].Code != "multiple-matches" {
		t.Errorf("code = %q, want multiple-matches", out.Issue[0].Code)
	}
	if out.Created != nil {
		t.Error("error outcome must not carry a created flag")
	}

	after := snapshot(t, r, "Patient")
	if !reflect.DeepEqual(before, after) {
		t.Error("store changed despite ambiguous criteria")
	}
}

// snapshot serializes a partition so store states can be compared.
func snapshot(t *testing.T, r *Repository, kind string) string {
	t.Helper()
	raw, err := json.Marshal(r.store.All(kind))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return string(raw)
}

func TestReadRoundTrip(t *testing.T) {
	r := newTestRepository()
	out := r.Create(patientDoc("V1"))
	id := out.CreatedResource["id"].(string)

	got, ok := r.Read("Patient", id)
	if !ok {
		t.Fatal("created resource not readable")
	}
	if !reflect.DeepEqual(got, out.CreatedResource) {
		t.Errorf("read-back differs from created resource:\n%v\n%v", got, out.CreatedResource)
	}

	if _, ok := r.Read("Patient", "absent"); ok {
		t.Error("expected absent id to report not found")
	}
}

func TestSearchBundle(t *testing.T) {
	r := newTestRepository()
	r.Create(patientDoc("V1"))
	r.Create(patientDoc("V2"))

	bundle := r.Search("Patient", "identifier=sys|V1")
	if bundle.Type != "searchset" {
		t.Errorf("type = %q, want searchset", bundle.Type)
	}
	if *bundle.Total != 1 {
		t.Fatalf("total = %d, want 1", *bundle.Total)
	}
	if bundle.Entry[0].FullURL != "http://example.org/fhir/Patient/id-1" {
		t.Errorf("fullUrl = %q", bundle.Entry[0].FullURL)
	}

	all := r.Search("Patient", "")
	if *all.Total != 2 {
		t.Errorf("empty criteria must select all, total = %d", *all.Total)
	}

	none := r.Search("Patient", "name=Smith")
	if *none.Total != 0 {
		t.Errorf("unsupported parameter must yield zero matches, total = %d", *none.Total)
	}
}

func TestResetIsolatesTestCases(t *testing.T) {
	r := newTestRepository()
	r.Create(patientDoc("V1"))

	r.Reset()

	bundle := r.Search("Patient", "")
	if *bundle.Total != 0 {
		t.Errorf("store not empty after reset, total = %d", *bundle.Total)
	}
}

// typedPatient is a minimal Flattener+IDSetter used to exercise the typed
// submission path without importing pkg/fhirmodels.
type typedPatient struct {
	ID     string
	Gender string
}

func (p *typedPatient) ToFHIR() map[string]interface{} {
	doc := map[string]interface{}{"resourceType": "Patient"}
	if p.ID != "" {
		doc["id"] = p.ID
	}
	if p.Gender != "" {
		doc["gender"] = p.Gender
	}
	return doc
}

func (p *typedPatient) SetID(id string) { p.ID = id }

func TestCreateTypedInput(t *testing.T) {
	r := newTestRepository()
	p := &typedPatient{Gender: "female"}

	out := r.Create(p)

	if !out.WasCreated() {
		t.Fatal("expected create")
	}
	if p.ID != "id-1" {
		t.Errorf("generated id not written back onto typed input: %q", p.ID)
	}
	stored, _ := r.Read("Patient", "id-1")
	if stored["gender"] != "female" {
		t.Error("typed fields not flattened into stored document")
	}
}

func TestUpdateTypedInputForcesID(t *testing.T) {
	r := newTestRepository()
	p := &typedPatient{ID: "stale"}

	r.Update("Patient", "forced", p)

	if p.ID != "forced" {
		t.Errorf("typed input id = %q, want forced", p.ID)
	}
}

func TestCreateRejectsUnsupportedRepresentation(t *testing.T) {
	r := newTestRepository()
	out := r.Create(42)
	if out.HTTPStatus() != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", out.HTTPStatus())
	}
	if out.Issue[0].Code != "invalid" {
		t.Errorf("code = %q, want invalid", out.Issue[0].Code)
	}
}

func TestOutcomeWireFormat(t *testing.T) {
	r := newTestRepository()
	out := r.Create(patientDoc(""))

	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	decoded := map[string]interface{}{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}

	if decoded["resourceType"] != "OperationOutcome" {
		t.Errorf("resourceType = %v", decoded["resourceType"])
	}
	if decoded["created"] != true {
		t.Errorf("created = %v, want true", decoded["created"])
	}
	if _, ok := decoded["created_resource"]; !ok {
		t.Error("created_resource missing from wire format")
	}
	if _, ok := decoded["location"]; !ok {
		t.Error("location missing from wire format")
	}
	if _, ok := decoded["status"]; ok {
		t.Error("internal status must not serialize")
	}
}
