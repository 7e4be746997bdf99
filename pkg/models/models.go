// Package models contains the document and domain types shared across the plugin.
package models

import (
	"fmt"
	"time"
)

// Document type names in the remote store.
const (
	DirectoryType  = "media.directory"
	FileAssetType  = "media.fileAsset"
	ImageAssetType = "media.imageAsset"
)

// AssetTypes lists every asset document type that can reference a directory.
var AssetTypes = []string{FileAssetType, ImageAssetType}

// RootDirectoryID is the reserved id of the synthetic "All Files" root.
// It never exists in the remote store and is injected by the projection
// layer only.
const RootDirectoryID = "root"

// Reference is a weak link to another document by id. Weak references do
// not block deletion of the referenced document.
type Reference struct {
	Ref  string `json:"_ref"`
	Type string `json:"_type,omitempty"`
	Key  string `json:"_key,omitempty"`
	Weak bool   `json:"_weak,omitempty"`
}

// Directory is a remote-authoritative hierarchical organization document.
// Rev is an opaque revision token that changes on every remote mutation.
type Directory struct {
	ID        string     `json:"_id"`
	Type      string     `json:"_type,omitempty"`
	Rev       string     `json:"_rev,omitempty"`
	Name      string     `json:"name"`
	Parent    *Reference `json:"parent,omitempty"`
	CreatedAt time.Time  `json:"_createdAt,omitempty"`
	UpdatedAt time.Time  `json:"_updatedAt,omitempty"`
}

// ParentID returns the parent directory id, or "" for a root-level directory.
func (d Directory) ParentID() string {
	if d.Parent == nil {
		return ""
	}
	return d.Parent.Ref
}

// Asset is the slice of an asset document the directory subsystem needs:
// identity, revision token, and directory references.
type Asset struct {
	ID          string      `json:"_id"`
	Type        string      `json:"_type,omitempty"`
	Rev         string      `json:"_rev,omitempty"`
	Directories []Reference `json:"directories,omitempty"`
}

// ReferencesDirectory reports whether the asset links the given directory.
func (a Asset) ReferencesDirectory(id string) bool {
	for _, ref := range a.Directories {
		if ref.Ref == id {
			return true
		}
	}
	return false
}

// HTTPError is the normalized failure shape surfaced to the UI.
type HTTPError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}
