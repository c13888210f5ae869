package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDocumentNotFound is returned by Documents.Get for unknown ids.
var ErrDocumentNotFound = errors.New("document not found")

// Documents stores JSON documents by unique id on top of a Store.
type Documents struct {
	store  Store
	prefix string
}

// NewDocuments stores documents under prefix in store.
func NewDocuments(store Store, prefix string) *Documents {
	return &Documents{store: store, prefix: prefix}
}

// Put replaces the document stored under id.
func (d *Documents) Put(id string, doc map[string]any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", id, err)
	}
	return d.store.Put(d.prefix+id, b)
}

// Get decodes the document stored under id. Numbers decode as float64.
func (d *Documents) Get(id string) (map[string]any, error) {
	b, err := d.store.Get(d.prefix + id)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	return doc, nil
}

// Delete reports whether the document existed.
func (d *Documents) Delete(id string) (bool, error) {
	return d.store.Delete(d.prefix + id)
}

// IDs lists stored document ids, sorted.
func (d *Documents) IDs() []string {
	keys := d.store.Keys(d.prefix)
	for i, k := range keys {
		keys[i] = k[len(d.prefix):]
	}
	return keys
}

// Count is the number of stored documents.
func (d *Documents) Count() int {
	return len(d.store.Keys(d.prefix))
}
