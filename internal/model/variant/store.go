package variant

// Store exposes variant retrieval for handlers and the turn service.
type Store interface {
	List() []Variant
	FindByID(id string) (Variant, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Variant
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied variants.
func NewMemoryStore(items []Variant) *MemoryStore {
	return &MemoryStore{items: append([]Variant(nil), items...)}
}

// List returns the client-selectable variants.
func (s *MemoryStore) List() []Variant {
	out := make([]Variant, 0, len(s.items))
	for _, item := range s.items {
		if item.Selectable {
			out = append(out, item)
		}
	}
	return out
}

// FindByID looks up a variant by identifier.
func (s *MemoryStore) FindByID(id string) (Variant, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Variant{}, false
}
