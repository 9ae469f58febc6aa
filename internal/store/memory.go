package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memoryDoc struct {
	data    map[string]any
	version int64
	seq     int64
}

// MemoryStore is an in-process DocumentStore. Transactions are optimistic:
// the computed write only lands if the document version is unchanged.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*memoryDoc
	seq         int64
	hub         *hub
	newID       func() string
}

// NewMemoryStore creates an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]*memoryDoc),
		hub:         newHub(),
		newID:       uuid.NewString,
	}
}

func (s *MemoryStore) Create(ctx context.Context, collection string, data any) (string, error) {
	fields, err := toFields(data)
	if err != nil {
		return "", err
	}
	id := s.newID()

	s.mu.Lock()
	coll := s.collection(collection)
	if _, exists := coll[id]; exists {
		s.mu.Unlock()
		return "", ErrAlreadyExists
	}
	s.seq++
	coll[id] = &memoryDoc{data: fields, version: 1, seq: s.seq}
	s.mu.Unlock()

	s.hub.notify(ctx, s, collection, id)
	return id, nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, data any) error {
	fields, err := toFields(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	coll := s.collection(collection)
	if existing, ok := coll[id]; ok {
		existing.data = fields
		existing.version++
	} else {
		s.seq++
		coll[id] = &memoryDoc{data: fields, version: 1, seq: s.seq}
	}
	s.mu.Unlock()

	s.hub.notify(ctx, s, collection, id)
	return nil
}

// Insert writes data under id only if no document holds that id yet.
func (s *MemoryStore) Insert(ctx context.Context, collection, id string, data any) error {
	fields, err := toFields(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	coll := s.collection(collection)
	if _, exists := coll[id]; exists {
		s.mu.Unlock()
		return ErrAlreadyExists
	}
	s.seq++
	coll[id] = &memoryDoc{data: fields, version: 1, seq: s.seq}
	s.mu.Unlock()

	s.hub.notify(ctx, s, collection, id)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return snapshot(id, doc), nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.RunTransaction(ctx, collection, id, func(Document) (map[string]any, error) {
		return fields, nil
	})
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	_, existed := s.collections[collection][id]
	delete(s.collections[collection], id)
	s.mu.Unlock()

	if existed {
		s.hub.notify(ctx, s, collection, id)
	}
	return nil
}

// Query returns matching documents in creation order.
func (s *MemoryStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	s.mu.RLock()
	type entry struct {
		doc Document
		seq int64
	}
	var found []entry
	for id, doc := range s.collections[collection] {
		ok, err := matches(doc.data, filters)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		if ok {
			found = append(found, entry{doc: snapshot(id, doc), seq: doc.seq})
		}
	}
	s.mu.RUnlock()

	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })
	out := make([]Document, 0, len(found))
	for _, e := range found {
		out = append(out, e.doc)
	}
	return out, nil
}

func (s *MemoryStore) RunTransaction(ctx context.Context, collection, id string, fn TxFunc) error {
	for attempt := 0; attempt < MaxTransactionAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		current, err := s.Get(ctx, collection, id)
		if err != nil {
			return err
		}

		fields, err := fn(current)
		if err != nil {
			return err
		}

		next, err := applyFields(current.Data, fields)
		if err != nil {
			return err
		}

		s.mu.Lock()
		doc, ok := s.collections[collection][id]
		if !ok {
			s.mu.Unlock()
			return ErrNotFound
		}
		if doc.version != current.Version {
			s.mu.Unlock()
			continue
		}
		doc.data = next
		doc.version++
		s.mu.Unlock()

		s.hub.notify(ctx, s, collection, id)
		return nil
	}
	return ErrTransactionConflict
}

func (s *MemoryStore) Subscribe(collection, id string, fn ChangeFunc) func() {
	return s.hub.addDoc(collection, id, fn)
}

func (s *MemoryStore) SubscribeQuery(collection string, filters []Filter, fn QueryChangeFunc) func() {
	return s.hub.addQuery(collection, filters, fn)
}

func (s *MemoryStore) collection(name string) map[string]*memoryDoc {
	coll, ok := s.collections[name]
	if !ok {
		coll = make(map[string]*memoryDoc)
		s.collections[name] = coll
	}
	return coll
}

func snapshot(id string, doc *memoryDoc) Document {
	return Document{
		ID:      id,
		Version: doc.version,
		Data:    deepCopy(doc.data).(map[string]any),
	}
}
