package repository

import (
	"time"

	"github.com/mockfhir/mockfhir/internal/platform/fhir"
)

// Clock supplies the timestamp written to meta.lastUpdated. Injectable so
// tests can pin time.
type Clock func() time.Time

// IDFunc supplies generated resource ids. Injectable so tests can pin id
// generation.
type IDFunc func() string

// lastUpdatedLayout renders UTC instants with sub-second precision and the
// canonical "Z" offset.
const lastUpdatedLayout = "2006-01-02T15:04:05.999999Z07:00"

// identity stamps submitted documents with an id and version metadata. It
// never touches the store.
type identity struct {
	now   Clock
	newID IDFunc
}

// assign gives the document a generated id when it lacks one and
// overwrites the meta block with versionId "1" and a fresh lastUpdated.
// When the submission was a typed object, the generated id is written back
// onto it through setter. Returns the document's id.
func (a identity) assign(doc map[string]interface{}, setter IDSetter) string {
	id, _ := doc["id"].(string)
	if id == "" {
		id = a.newID()
		doc["id"] = id
		if setter != nil {
			setter.SetID(id)
		}
	}
	doc["meta"] = map[string]interface{}{
		"versionId":   fhir.InitialVersionID,
		"lastUpdated": a.now().UTC().Format(lastUpdatedLayout),
	}
	return id
}
