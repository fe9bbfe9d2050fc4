package fhir

import (
	"fmt"
	"net/http"
)

// Bundle is the FHIR Bundle document used for search results and for
// transaction/batch responses.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Entry        []BundleEntry `json:"entry"`
}

type BundleEntry struct {
	FullURL string `json:"fullUrl,omitempty"`
	// Resource is a plain resource document for search entries, or an
	// embedded Bundle for GET-in-bundle search responses.
	Resource interface{}     `json:"resource,omitempty"`
	Response *BundleResponse `json:"response,omitempty"`
}

type BundleResponse struct {
	Status   string      `json:"status"`
	Location string      `json:"location,omitempty"`
	Outcome  interface{} `json:"outcome,omitempty"`
}

// NewSearchset builds a searchset Bundle from matched resources. Entry
// order follows the input order; fullUrl is derived from each resource's
// own resourceType and id.
func NewSearchset(resources []map[string]interface{}, baseURL string) *Bundle {
	total := len(resources)
	entries := make([]BundleEntry, 0, total)
	for _, res := range resources {
		kind, _ := res["resourceType"].(string)
		id, _ := res["id"].(string)
		entries = append(entries, BundleEntry{
			FullURL:  fmt.Sprintf("%s/%s/%s", baseURL, kind, id),
			Resource: res,
		})
	}
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        &total,
		Entry:        entries,
	}
}

// NewResponseBundle builds the response Bundle for a processed
// transaction or batch Bundle. The type is the request type suffixed with
// "-response".
func NewResponseBundle(requestType string, entries []BundleEntry) *Bundle {
	if requestType == "" {
		requestType = "collection"
	}
	if entries == nil {
		entries = []BundleEntry{}
	}
	return &Bundle{
		ResourceType: "Bundle",
		Type:         requestType + "-response",
		Entry:        entries,
	}
}

// StatusToken renders an HTTP status code as the protocol-style token
// carried in bundle entry responses, e.g. "201 Created".
func StatusToken(code int) string {
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}
