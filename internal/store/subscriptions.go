package store

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

type querySubscription struct {
	filters []Filter
	fn      QueryChangeFunc
}

// hub keeps change listeners for a store and fans out notifications.
type hub struct {
	mu        sync.Mutex
	nextID    int
	docSubs   map[string]map[int]ChangeFunc
	querySubs map[string]map[int]querySubscription
}

func newHub() *hub {
	return &hub{
		docSubs:   make(map[string]map[int]ChangeFunc),
		querySubs: make(map[string]map[int]querySubscription),
	}
}

func docKey(collection, id string) string {
	return collection + "/" + id
}

func (h *hub) addDoc(collection, id string, fn ChangeFunc) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := docKey(collection, id)
	h.nextID++
	subID := h.nextID
	if h.docSubs[key] == nil {
		h.docSubs[key] = make(map[int]ChangeFunc)
	}
	h.docSubs[key][subID] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.docSubs[key], subID)
			if len(h.docSubs[key]) == 0 {
				delete(h.docSubs, key)
			}
		})
	}
}

func (h *hub) addQuery(collection string, filters []Filter, fn QueryChangeFunc) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	subID := h.nextID
	if h.querySubs[collection] == nil {
		h.querySubs[collection] = make(map[int]querySubscription)
	}
	h.querySubs[collection][subID] = querySubscription{filters: filters, fn: fn}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.querySubs[collection], subID)
			if len(h.querySubs[collection]) == 0 {
				delete(h.querySubs, collection)
			}
		})
	}
}

func (h *hub) listeners(collection, id string) ([]ChangeFunc, []querySubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	docs := make([]ChangeFunc, 0, len(h.docSubs[docKey(collection, id)]))
	for _, fn := range h.docSubs[docKey(collection, id)] {
		docs = append(docs, fn)
	}
	queries := make([]querySubscription, 0, len(h.querySubs[collection]))
	for _, sub := range h.querySubs[collection] {
		queries = append(queries, sub)
	}
	return docs, queries
}

// notify reloads the changed document and any watched queries on its
// collection and hands them to listeners. Listeners run on the caller's
// goroutine with no store lock held.
func (h *hub) notify(ctx context.Context, s DocumentStore, collection, id string) {
	docSubs, querySubs := h.listeners(collection, id)
	if len(docSubs) == 0 && len(querySubs) == 0 {
		return
	}

	if len(docSubs) > 0 {
		doc, err := s.Get(ctx, collection, id)
		exists := err == nil
		if err != nil && !errors.Is(err, ErrNotFound) {
			log.Error().Err(err).Str("collection", collection).Str("id", id).Msg("failed to load changed document")
			return
		}
		for _, fn := range docSubs {
			fn(doc, exists)
		}
	}

	for _, sub := range querySubs {
		docs, err := s.Query(ctx, collection, sub.filters...)
		if err != nil {
			log.Error().Err(err).Str("collection", collection).Msg("failed to refresh watched query")
			continue
		}
		sub.fn(docs)
	}
}
