// Package memstore is an in-memory implementation of the docstore contract.
//
// It backs the dev CLI and the test suites: documents carry opaque revision
// tokens, conditional patches and transactions honor revision guards with
// all-or-nothing semantics, and subscribers receive a change feed with the
// same drop-for-slow-consumers behavior as a real feed.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medleyhq/medley/pkg/docstore"
)

type document struct {
	id     string
	fields map[string]any
}

// Store is an in-memory document store.
type Store struct {
	mu          sync.RWMutex
	order       []string // insertion order
	docs        map[string]*document
	subscribers map[chan docstore.ChangeEvent][]string // chan -> type filter
}

// New creates an empty store.
func New() *Store {
	return &Store{
		docs:        make(map[string]*document),
		subscribers: make(map[chan docstore.ChangeEvent][]string),
	}
}

var _ docstore.Store = (*Store)(nil)

// Query runs a structured read and decodes the matches into out.
func (s *Store) Query(ctx context.Context, q docstore.Query, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	matches := s.match(q)
	s.mu.RUnlock()

	if out == nil {
		return nil
	}
	data, err := json.Marshal(matches)
	if err != nil {
		return fmt.Errorf("encode query result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode query result: %w", err)
	}
	return nil
}

// Count returns the number of documents matching the query.
func (s *Store) Count(ctx context.Context, q docstore.Query) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.match(q)), nil
}

// Create stores a new document, assigning id, revision token, and
// timestamps as needed, and decodes the stored document into out.
func (s *Store) Create(ctx context.Context, doc any, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fields, err := toFields(doc)
	if err != nil {
		return err
	}

	id, _ := fields["_id"].(string)
	if id == "" {
		id = uuid.NewString()
		fields["_id"] = id
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	fields["_rev"] = uuid.NewString()
	if _, ok := fields["_createdAt"]; !ok {
		fields["_createdAt"] = now
	}
	fields["_updatedAt"] = now

	s.mu.Lock()
	if _, exists := s.docs[id]; exists {
		s.mu.Unlock()
		return &docstore.RequestError{StatusCode: 409, Message: "document already exists: " + id}
	}
	s.docs[id] = &document{id: id, fields: fields}
	s.order = append(s.order, id)
	s.mu.Unlock()

	s.publish(docstore.ChangeCreate, id, fields)
	return decodeFields(fields, out)
}

// Patch applies a conditional field patch and decodes the updated document
// into out.
func (s *Store) Patch(ctx context.Context, id string, p docstore.Patch, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	doc, ok := s.docs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", id, docstore.ErrNotFound)
	}
	if p.IfRevisionID != "" && doc.fields["_rev"] != p.IfRevisionID {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", id, docstore.ErrStaleRevision)
	}
	applyPatch(doc, p)
	fields := cloneFields(doc.fields)
	s.mu.Unlock()

	s.publish(docstore.ChangeUpdate, id, fields)
	return decodeFields(fields, out)
}

// Transaction commits all mutations or none. Every revision guard is
// checked against current state before anything is applied.
func (s *Store) Transaction(ctx context.Context, muts []docstore.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	for _, m := range muts {
		doc, ok := s.docs[m.ID]
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("%s: %w", m.ID, docstore.ErrNotFound)
		}
		if m.Patch != nil && m.Patch.IfRevisionID != "" && doc.fields["_rev"] != m.Patch.IfRevisionID {
			s.mu.Unlock()
			return fmt.Errorf("%s: %w", m.ID, docstore.ErrStaleRevision)
		}
	}

	type change struct {
		typ    docstore.ChangeType
		id     string
		fields map[string]any
	}
	var changes []change

	for _, m := range muts {
		if m.Delete {
			delete(s.docs, m.ID)
			for i, id := range s.order {
				if id == m.ID {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
			changes = append(changes, change{docstore.ChangeDelete, m.ID, nil})
			continue
		}
		if m.Patch != nil {
			doc := s.docs[m.ID]
			applyPatch(doc, *m.Patch)
			changes = append(changes, change{docstore.ChangeUpdate, m.ID, cloneFields(doc.fields)})
		}
	}
	s.mu.Unlock()

	for _, ch := range changes {
		s.publish(ch.typ, ch.id, ch.fields)
	}
	return nil
}

// Subscribe streams change events for the given document types until ctx is
// cancelled. Events are dropped for slow consumers rather than blocking
// writers.
func (s *Store) Subscribe(ctx context.Context, types []string) (<-chan docstore.ChangeEvent, <-chan error) {
	events := make(chan docstore.ChangeEvent, 64)
	errs := make(chan error, 1)

	s.mu.Lock()
	s.subscribers[events] = append([]string(nil), types...)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers, events)
		s.mu.Unlock()
		close(events)
		close(errs)
	}()

	return events, errs
}

// Get returns the raw fields of a document, for test assertions.
func (s *Store) Get(id string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, false
	}
	return cloneFields(doc.fields), true
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// match evaluates a query. Must be called with at least a read lock held.
func (s *Store) match(q docstore.Query) []map[string]any {
	var matches []map[string]any
	for _, id := range s.order {
		doc := s.docs[id]
		if !q.IncludeDrafts && strings.HasPrefix(id, "drafts.") {
			continue
		}
		if len(q.Types) > 0 {
			typ, _ := doc.fields["_type"].(string)
			if !contains(q.Types, typ) {
				continue
			}
		}
		if q.NameEquals != "" {
			name, _ := doc.fields["name"].(string)
			if name != q.NameEquals {
				continue
			}
		}
		if q.References != "" && !referencesID(doc.fields, q.References) {
			continue
		}
		matches = append(matches, cloneFields(doc.fields))
	}

	if q.OrderBy != "" {
		field := q.OrderBy
		sort.SliceStable(matches, func(i, j int) bool {
			a, _ := matches[i][field].(string)
			b, _ := matches[j][field].(string)
			return a < b
		})
	}
	return matches
}

// referencesID walks a document value looking for a reference ({_ref: id})
// anywhere in its structure, excluding the document's own id.
func referencesID(v any, id string) bool {
	switch val := v.(type) {
	case map[string]any:
		if ref, ok := val["_ref"].(string); ok && ref == id {
			return true
		}
		for key, nested := range val {
			if key == "_id" {
				continue
			}
			if referencesID(nested, id) {
				return true
			}
		}
	case []any:
		for _, item := range val {
			if referencesID(item, id) {
				return true
			}
		}
	}
	return false
}

func (s *Store) publish(typ docstore.ChangeType, id string, fields map[string]any) {
	var doc json.RawMessage
	if fields != nil {
		doc, _ = json.Marshal(fields)
	}
	ev := docstore.ChangeEvent{Type: typ, ID: id, Document: doc}

	docType, _ := func() (string, bool) {
		if fields == nil {
			return "", false
		}
		t, ok := fields["_type"].(string)
		return t, ok
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch, typeFilter := range s.subscribers {
		if len(typeFilter) > 0 && fields != nil && !contains(typeFilter, docType) {
			continue
		}
		select {
		case ch <- ev:
		default:
			// Drop event for slow consumer
		}
	}
}

func applyPatch(doc *document, p docstore.Patch) {
	for key, val := range p.Set {
		doc.fields[key] = normalizeValue(val)
	}
	for _, key := range p.Unset {
		delete(doc.fields, key)
	}
	doc.fields["_rev"] = uuid.NewString()
	doc.fields["_updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
}

// normalizeValue round-trips a value through JSON so stored shapes match
// what a real wire store would hold.
func normalizeValue(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func toFields(doc any) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("document must be an object: %w", err)
	}
	return fields, nil
}

func decodeFields(fields map[string]any, out any) error {
	if out == nil {
		return nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
