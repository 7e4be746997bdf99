// Package docstore defines the remote document store contract used by the
// plugin core, together with its HTTP implementation.
//
// The store is an opaque capability: structured queries, counts, single
// document creation, conditional patches, all-or-nothing transactions, and
// a long-lived change feed. Every call is asynchronous and may fail; the
// workflow layer normalizes failures, this package only classifies them.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Query is a structured read against the store.
type Query struct {
	// Types restricts matches to the given document types.
	Types []string `json:"types,omitempty"`
	// NameEquals matches documents whose name field equals the value exactly.
	NameEquals string `json:"nameEquals,omitempty"`
	// References matches documents holding a reference to the given id.
	References string `json:"references,omitempty"`
	// OrderBy orders results ascending by the given field.
	OrderBy string `json:"orderBy,omitempty"`
	// IncludeDrafts includes draft documents; they are excluded by default.
	IncludeDrafts bool `json:"includeDrafts,omitempty"`
}

// Patch is a conditional field patch on a single document.
type Patch struct {
	Set   map[string]any `json:"set,omitempty"`
	Unset []string       `json:"unset,omitempty"`
	// IfRevisionID makes the patch fail with ErrStaleRevision when the
	// document's current revision differs. "" applies unconditionally.
	IfRevisionID string `json:"ifRevisionID,omitempty"`
}

// Mutation is one entry of a transaction: a patch or a deletion.
type Mutation struct {
	ID     string `json:"id"`
	Patch  *Patch `json:"patch,omitempty"`
	Delete bool   `json:"delete,omitempty"`
}

// ChangeType identifies a change-feed event kind.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent is one entry of the store's real-time change feed.
// Document is present for create and update events.
type ChangeEvent struct {
	Type     ChangeType      `json:"type"`
	ID       string          `json:"id"`
	Document json.RawMessage `json:"document,omitempty"`
}

// Store is the remote document store capability.
//
// Query and Create decode the store's response into out (any JSON-decodable
// value); out may be nil when the caller does not need the result.
type Store interface {
	Query(ctx context.Context, q Query, out any) error
	Count(ctx context.Context, q Query) (int, error)
	Create(ctx context.Context, doc any, out any) error
	Patch(ctx context.Context, id string, p Patch, out any) error
	Transaction(ctx context.Context, muts []Mutation) error
	// Subscribe streams change events for the given document types until
	// ctx is cancelled. The error channel reports transport problems; the
	// stream itself keeps going where reconnection is possible.
	Subscribe(ctx context.Context, types []string) (<-chan ChangeEvent, <-chan error)
}

// ErrStaleRevision reports that a conditional patch or transaction was
// rejected because a document changed since it was read.
var ErrStaleRevision = errors.New("document revision changed since read")

// ErrNotFound reports that the addressed document does not exist.
var ErrNotFound = errors.New("document not found")

// RequestError is a remote failure that carries an HTTP-like status code.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote store returned %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}
