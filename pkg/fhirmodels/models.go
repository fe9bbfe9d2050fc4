// Package fhirmodels provides minimal typed FHIR domain models. The models
// flatten to plain documents and can be reconstructed from them, so tests
// can round-trip typed objects through the mock repository losslessly.
package fhirmodels

import (
	"encoding/json"
	"fmt"
)

// Identifier is a business identifier token carried by a resource.
type Identifier struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Meta is the server-assigned metadata block.
type Meta struct {
	VersionID   string `json:"versionId,omitempty"`
	LastUpdated string `json:"lastUpdated,omitempty"`
}

type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Display   string `json:"display,omitempty"`
}

// Patient gender codes per FHIR R4.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderOther   = "other"
	GenderUnknown = "unknown"
)

// Observation status codes per FHIR R4.
const (
	ObservationRegistered  = "registered"
	ObservationPreliminary = "preliminary"
	ObservationFinal       = "final"
	ObservationAmended     = "amended"
)

// Patient is a typed FHIR Patient. It satisfies the repository's flattener
// seam, so it can be submitted directly to write operations; a generated
// id is written back through SetID.
type Patient struct {
	ID         string       `json:"id,omitempty"`
	Meta       *Meta        `json:"meta,omitempty"`
	Identifier []Identifier `json:"identifier,omitempty"`
	Name       []HumanName  `json:"name,omitempty"`
	Gender     string       `json:"gender,omitempty"`
	BirthDate  string       `json:"birthDate,omitempty"`
	Active     *bool        `json:"active,omitempty"`
}

func (p *Patient) ToFHIR() map[string]interface{} { return flatten("Patient", p) }

func (p *Patient) SetID(id string) { p.ID = id }

// PatientFromFHIR reconstructs a typed Patient from its document form.
func PatientFromFHIR(doc map[string]interface{}) (*Patient, error) {
	p := &Patient{}
	if err := inflate("Patient", doc, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Observation is a typed FHIR Observation covering the fields the mock
// repository's consumers exercise.
type Observation struct {
	ID          string           `json:"id,omitempty"`
	Meta        *Meta            `json:"meta,omitempty"`
	Identifier  []Identifier     `json:"identifier,omitempty"`
	Status      string           `json:"status,omitempty"`
	Code        *CodeableConcept `json:"code,omitempty"`
	Subject     *Reference       `json:"subject,omitempty"`
	ValueString string           `json:"valueString,omitempty"`
}

func (o *Observation) ToFHIR() map[string]interface{} { return flatten("Observation", o) }

func (o *Observation) SetID(id string) { o.ID = id }

// ObservationFromFHIR reconstructs a typed Observation from its document
// form.
func ObservationFromFHIR(doc map[string]interface{}) (*Observation, error) {
	o := &Observation{}
	if err := inflate("Observation", doc, o); err != nil {
		return nil, err
	}
	return o, nil
}

// flatten serializes a typed model to the plain document form the store
// keeps, stamping the resourceType discriminator.
func flatten(resourceType string, model interface{}) map[string]interface{} {
	raw, err := json.Marshal(model)
	if err != nil {
		return map[string]interface{}{"resourceType": resourceType}
	}
	doc := map[string]interface{}{}
	_ = json.Unmarshal(raw, &doc)
	doc["resourceType"] = resourceType
	return doc
}

func inflate(resourceType string, doc map[string]interface{}, model interface{}) error {
	if rt, _ := doc["resourceType"].(string); rt != "" && rt != resourceType {
		return fmt.Errorf("expected resourceType %s, got %s", resourceType, rt)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, model); err != nil {
		return fmt.Errorf("decode %s: %w", resourceType, err)
	}
	return nil
}
