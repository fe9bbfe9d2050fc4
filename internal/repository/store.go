package repository

// Store is the partitioned in-memory resource store. Partitions are keyed
// by resource kind and created lazily; within a partition, ids map to the
// stored document. Each partition preserves insertion order so iteration
// (and therefore "first match" conditional semantics) is stable for a
// given store state.
//
// The store enforces nothing beyond key overwrite: Put on an existing id
// replaces the record. Create-vs-update semantics live in the Repository.
type Store struct {
	partitions map[string]*partition
}

type partition struct {
	order []string
	byID  map[string]map[string]interface{}
}

func NewStore() *Store {
	return &Store{partitions: make(map[string]*partition)}
}

func (s *Store) partitionFor(kind string) *partition {
	p, ok := s.partitions[kind]
	if !ok {
		p = &partition{byID: make(map[string]map[string]interface{})}
		s.partitions[kind] = p
	}
	return p
}

// Put stores a resource under (kind, id), replacing any existing record.
// A replaced record keeps its original position in the partition order.
func (s *Store) Put(kind, id string, resource map[string]interface{}) {
	p := s.partitionFor(kind)
	if _, exists := p.byID[id]; !exists {
		p.order = append(p.order, id)
	}
	p.byID[id] = resource
}

// Get returns the resource stored under (kind, id).
func (s *Store) Get(kind, id string) (map[string]interface{}, bool) {
	p, ok := s.partitions[kind]
	if !ok {
		return nil, false
	}
	res, ok := p.byID[id]
	return res, ok
}

// All returns every resource of the given kind in insertion order.
func (s *Store) All(kind string) []map[string]interface{} {
	p, ok := s.partitions[kind]
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byID[id])
	}
	return out
}

// Len returns the number of resources stored under the given kind.
func (s *Store) Len(kind string) int {
	p, ok := s.partitions[kind]
	if !ok {
		return 0
	}
	return len(p.byID)
}

// Reset empties every partition in place. Partitions themselves survive,
// matching the fixture lifecycle of one store reused across test cases.
func (s *Store) Reset() {
	for _, p := range s.partitions {
		p.order = p.order[:0]
		clear(p.byID)
	}
}

// copyDocument returns a deep copy of a resource document. The store owns
// its documents exclusively; copies are taken at every boundary so callers
// can never alias stored state.
func copyDocument(doc map[string]interface{}) map[string]interface{} {
	if doc == nil {
		return nil
	}
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return copyDocument(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = copyDocument(item)
		}
		return out
	default:
		return v
	}
}
