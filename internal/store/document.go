/**
 * @description
 * This file defines the document-store abstraction every repository in the
 * service is built on: collection-scoped documents, equality and
 * array-containment queries, single-document transactions and change
 * subscriptions.
 *
 * @notes
 * - Document data is held in its JSON form (map[string]any with json.Number
 *   for numbers). Typed repositories convert with Document.DataTo.
 * - Field paths are top-level only.
 */
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/samber/lo"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned by Create and Insert when the id is taken.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrTransactionConflict is returned when a transaction keeps losing
	// its conditional write to concurrent writers.
	ErrTransactionConflict = errors.New("transaction aborted after repeated conflicts")
)

// MaxTransactionAttempts bounds the read-compute-write retries of RunTransaction.
const MaxTransactionAttempts = 5

// Document is a snapshot of one stored document.
type Document struct {
	ID      string
	Version int64
	Data    map[string]any
}

// DataTo decodes the document data into out.
func (d Document) DataTo(out any) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", d.ID, err)
	}
	return nil
}

// FilterOp is a query predicate kind.
type FilterOp string

const (
	OpEqual         FilterOp = "=="
	OpArrayContains FilterOp = "array-contains"
)

// Filter restricts a query to documents whose field satisfies Op.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Where matches documents whose field equals value.
func Where(field string, value any) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

// ArrayContains matches documents whose array field holds value.
func ArrayContains(field string, value any) Filter {
	return Filter{Field: field, Op: OpArrayContains, Value: value}
}

// TxFunc computes the fields to write from the current document. Returning
// an error aborts the transaction without writing.
type TxFunc func(current Document) (map[string]any, error)

// ChangeFunc receives the new state of a watched document. exists is false
// once the document has been deleted.
type ChangeFunc func(doc Document, exists bool)

// QueryChangeFunc receives the full result set of a watched query.
type QueryChangeFunc func(docs []Document)

// DocumentStore is the persistence contract shared by all repositories.
type DocumentStore interface {
	Create(ctx context.Context, collection string, data any) (string, error)
	Set(ctx context.Context, collection, id string, data any) error
	Insert(ctx context.Context, collection, id string, data any) error
	Get(ctx context.Context, collection, id string) (Document, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	RunTransaction(ctx context.Context, collection, id string, fn TxFunc) error
	Subscribe(collection, id string, fn ChangeFunc) (unsubscribe func())
	SubscribeQuery(collection string, filters []Filter, fn QueryChangeFunc) (unsubscribe func())
}

type arrayOp struct {
	remove bool
	values []any
}

// ArrayUnion is an Update value that adds the given elements to an array
// field, skipping ones already present.
func ArrayUnion(values ...any) any {
	return arrayOp{values: values}
}

// ArrayRemove is an Update value that removes every occurrence of the given
// elements from an array field.
func ArrayRemove(values ...any) any {
	return arrayOp{remove: true, values: values}
}

// toFields converts a struct or map into its stored JSON form.
func toFields(v any) (map[string]any, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	fields, ok := normalized.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document data must encode to a JSON object, got %T", normalized)
	}
	return fields, nil
}

func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document value: %w", err)
	}
	return decodeJSON(raw)
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode document value: %w", err)
	}
	return out, nil
}

func decodeFields(raw []byte) (map[string]any, error) {
	v, err := decodeJSON(raw)
	if err != nil {
		return nil, err
	}
	fields, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("stored document is not a JSON object")
	}
	return fields, nil
}

// applyFields merges an update into current and returns the new data.
// current is never modified.
func applyFields(current map[string]any, fields map[string]any) (map[string]any, error) {
	next := make(map[string]any, len(current)+len(fields))
	for k, v := range current {
		next[k] = v
	}
	for k, v := range fields {
		if op, ok := v.(arrayOp); ok {
			values, err := normalizeAll(op.values)
			if err != nil {
				return nil, err
			}
			existing, _ := next[k].([]any)
			if op.remove {
				next[k] = lo.Filter(existing, func(item any, _ int) bool {
					return !containsValue(values, item)
				})
				continue
			}
			merged := slices.Clone(existing)
			for _, item := range values {
				if !containsValue(merged, item) {
					merged = append(merged, item)
				}
			}
			if merged == nil {
				merged = []any{}
			}
			next[k] = merged
			continue
		}
		nv, err := normalize(v)
		if err != nil {
			return nil, err
		}
		next[k] = nv
	}
	return next, nil
}

func normalizeAll(values []any) ([]any, error) {
	out := make([]any, 0, len(values))
	for _, v := range values {
		nv, err := normalize(v)
		if err != nil {
			return nil, err
		}
		out = append(out, nv)
	}
	return out, nil
}

func containsValue(list []any, v any) bool {
	return lo.ContainsBy(list, func(item any) bool {
		return reflect.DeepEqual(item, v)
	})
}

// matches evaluates filters against stored data.
func matches(data map[string]any, filters []Filter) (bool, error) {
	for _, f := range filters {
		want, err := normalize(f.Value)
		if err != nil {
			return false, err
		}
		got, ok := data[f.Field]
		if !ok {
			return false, nil
		}
		switch f.Op {
		case OpEqual:
			if !reflect.DeepEqual(got, want) {
				return false, nil
			}
		case OpArrayContains:
			list, isList := got.([]any)
			if !isList || !containsValue(list, want) {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported filter op %q", f.Op)
		}
	}
	return true, nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
