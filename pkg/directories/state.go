// Package directories implements the directory management core: a
// normalized tree store of directory documents, the command processor that
// drives remote mutations, the change-feed listener, and the pure
// projections the UI reads.
package directories

import (
	"sort"
	"sync"

	"github.com/medleyhq/medley/internal/metrics"
	"github.com/medleyhq/medley/pkg/models"
)

// Node wraps a remote directory snapshot with UI-only transient state.
// The snapshot is replaced wholesale on updates; the transient fields
// survive refetches and snapshot replacement.
type Node struct {
	Directory models.Directory

	// Open is the expand/collapse state, preserved across refetches.
	Open bool
	// Picked marks the node selected in a multi-select view.
	Picked bool
	// Updating is advisory: a mutation affecting this node is in flight.
	// It is not a lock.
	Updating bool
	// Err is the last mutation failure, cleared on the next attempt or
	// when the edit dialog opens.
	Err *models.HTTPError
}

// Store is the normalized directory tree cache.
//
// All command methods apply atomically behind one mutex; workflows and the
// listener never touch state directly. Child lists are never stored, they
// are derived on read from the flat state (see projection.go).
type Store struct {
	mu sync.RWMutex

	allIds []string
	byIds  map[string]*Node

	fetching bool
	// fetchCount is -1 until the first completed fetch. 0 is a valid
	// count and distinct from the sentinel.
	fetchCount int
	fetchErr   *models.HTTPError

	creating  bool
	createErr *models.HTTPError

	panelVisible    bool
	activeDirectory *models.Directory
}

// NewStore creates an empty store that has never fetched.
func NewStore() *Store {
	return &Store{
		byIds:        make(map[string]*Node),
		fetchCount:   -1,
		panelVisible: true,
	}
}

// FetchRequested marks a listing fetch as in flight.
func (s *Store) FetchRequested() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetching = true
}

// FetchCompleted applies an authoritative full listing. Existing nodes keep
// their open flag; picked and updating are reset, the listing is the new
// truth for everything else.
func (s *Store) FetchCompleted(dirs []models.Directory) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byIds := make(map[string]*Node, len(dirs))
	allIds := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if _, dup := byIds[dir.ID]; dup {
			continue
		}
		node := &Node{Directory: dir}
		if prev, ok := s.byIds[dir.ID]; ok {
			node.Open = prev.Open
		}
		byIds[dir.ID] = node
		allIds = append(allIds, dir.ID)
	}

	s.allIds = allIds
	s.byIds = byIds
	s.fetchCount = len(allIds)
	s.fetching = false
	s.fetchErr = nil
	metrics.SetStoreNodes(len(s.allIds))
}

// FetchFailed records a listing failure.
func (s *Store) FetchFailed(err *models.HTTPError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetching = false
	s.fetchErr = err
}

// CreateRequested marks a create as in flight and clears the previous
// create error.
func (s *Store) CreateRequested() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creating = true
	s.createErr = nil
}

// CreateCompleted inserts the created directory. Idempotent: an id already
// present is not duplicated in the ordered list.
func (s *Store) CreateCompleted(dir models.Directory) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creating = false
	if _, ok := s.byIds[dir.ID]; !ok {
		s.allIds = append(s.allIds, dir.ID)
	}
	s.byIds[dir.ID] = &Node{Directory: dir}
	metrics.SetStoreNodes(len(s.allIds))
}

// CreateFailed records a create failure.
func (s *Store) CreateFailed(err *models.HTTPError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creating = false
	s.createErr = err
}

// DeleteRequested marks the target as updating and unpicked, and clears
// the error on every node, not just the target.
func (s *Store) DeleteRequested(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, node := range s.byIds {
		node.Err = nil
	}
	if node, ok := s.byIds[id]; ok {
		node.Picked = false
		node.Updating = true
	}
}

// DeleteCompleted removes the node from both the ordered list and the
// mapping. Nodes that referenced it as parent keep the dangling reference
// until the next fetch or batched update reconciles them.
func (s *Store) DeleteCompleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
	metrics.SetStoreNodes(len(s.allIds))
}

// DeleteFailed records the failure on the target node.
func (s *Store) DeleteFailed(id string, err *models.HTTPError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node, ok := s.byIds[id]; ok {
		node.Updating = false
		node.Err = err
	}
}

// UpdateRequested marks the target as updating and clears its error.
func (s *Store) UpdateRequested(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node, ok := s.byIds[id]; ok {
		node.Updating = true
		node.Err = nil
	}
}

// UpdateCompleted replaces the node's directory snapshot. UI-only fields
// are untouched.
func (s *Store) UpdateCompleted(dir models.Directory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node, ok := s.byIds[dir.ID]; ok {
		node.Directory = dir
		node.Updating = false
	}
}

// UpdateFailed records the failure on the target node.
func (s *Store) UpdateFailed(id string, err *models.HTTPError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node, ok := s.byIds[id]; ok {
		node.Updating = false
		node.Err = err
	}
}

// ToggleOpen flips the expand state. Unknown ids are a no-op, a stale
// handle is not an error.
func (s *Store) ToggleOpen(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node, ok := s.byIds[id]; ok {
		node.Open = !node.Open
	}
}

// SetPicked sets the selection flag. Unknown ids are a no-op.
func (s *Store) SetPicked(id string, picked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node, ok := s.byIds[id]; ok {
		node.Picked = picked
	}
}

// ListenerCreateQueueCompleted applies a batch of remote create events.
func (s *Store) ListenerCreateQueueCompleted(dirs []models.Directory) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dir := range dirs {
		if _, ok := s.byIds[dir.ID]; !ok {
			s.allIds = append(s.allIds, dir.ID)
		}
		s.byIds[dir.ID] = &Node{Directory: dir}
	}
	metrics.SetStoreNodes(len(s.allIds))
}

// ListenerUpdateQueueCompleted applies a batch of remote update events.
// Only the directory snapshot of already-known nodes is replaced; unknown
// ids are ignored.
func (s *Store) ListenerUpdateQueueCompleted(dirs []models.Directory) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dir := range dirs {
		if node, ok := s.byIds[dir.ID]; ok {
			node.Directory = dir
		}
	}
}

// ListenerDeleteQueueCompleted applies a batch of remote delete events.
// Unknown ids are ignored.
func (s *Store) ListenerDeleteQueueCompleted(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		s.removeLocked(id)
	}
	metrics.SetStoreNodes(len(s.allIds))
}

// Sort reorders the id list by directory name, ascending, case-sensitive.
// Equal names keep their prior relative order.
func (s *Store) Sort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	sort.SliceStable(s.allIds, func(i, j int) bool {
		return s.byIds[s.allIds[i]].Directory.Name < s.byIds[s.allIds[j]].Directory.Name
	})
}

// ActiveDirectorySet sets the current search-facet directory. nil means
// all files.
func (s *Store) ActiveDirectorySet(dir *models.Directory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir == nil {
		s.activeDirectory = nil
		return
	}
	d := *dir
	s.activeDirectory = &d
}

// SearchFacetChanged is the search module's side of the facet: choosing a
// directory facet (or clearing it) tracks into the active directory.
func (s *Store) SearchFacetChanged(dir *models.Directory) {
	s.ActiveDirectorySet(dir)
}

// PanelVisibleSet toggles the directory panel.
func (s *Store) PanelVisibleSet(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panelVisible = visible
}

// CreateDialogOpened clears the store-level create error.
func (s *Store) CreateDialogOpened() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr = nil
}

// EditDialogOpened clears the target node's error.
func (s *Store) EditDialogOpened(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node, ok := s.byIds[id]; ok {
		node.Err = nil
	}
}

// AssetAssignRequested marks the node as updating while a bulk assign or
// unassign of the directory to picked assets is in flight.
func (s *Store) AssetAssignRequested(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node, ok := s.byIds[id]; ok {
		node.Updating = true
	}
}

// AssetAssignSettled clears the updating flag after a bulk assign settles,
// on success or failure.
func (s *Store) AssetAssignSettled(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node, ok := s.byIds[id]; ok {
		node.Updating = false
	}
}

// removeLocked drops one id from both structures. Must hold the write lock.
func (s *Store) removeLocked(id string) {
	if _, ok := s.byIds[id]; !ok {
		return
	}
	delete(s.byIds, id)
	for i, cur := range s.allIds {
		if cur == id {
			s.allIds = append(s.allIds[:i], s.allIds[i+1:]...)
			break
		}
	}
}

// Get returns a copy of the node for id.
func (s *Store) Get(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.byIds[id]
	if !ok {
		return Node{}, false
	}
	return *node, true
}

// List returns copies of all nodes in the current order.
func (s *Store) List() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Node, 0, len(s.allIds))
	for _, id := range s.allIds {
		out = append(out, *s.byIds[id])
	}
	return out
}

// IDs returns the ordered id list.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.allIds...)
}

// Len returns the number of nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.allIds)
}

// Fetching reports whether a listing fetch is in flight.
func (s *Store) Fetching() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetching
}

// FetchCount returns the size of the last completed fetch, or -1 if no
// fetch has ever completed.
func (s *Store) FetchCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchCount
}

// FetchError returns the last listing failure, if any.
func (s *Store) FetchError() *models.HTTPError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchErr
}

// Creating reports whether a create is in flight.
func (s *Store) Creating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creating
}

// CreateError returns the last create failure, if any.
func (s *Store) CreateError() *models.HTTPError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createErr
}

// PanelVisible reports whether the directory panel is shown.
func (s *Store) PanelVisible() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.panelVisible
}

// ActiveDirectory returns the current search-facet directory, or nil for
// all files.
func (s *Store) ActiveDirectory() *models.Directory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeDirectory == nil {
		return nil
	}
	d := *s.activeDirectory
	return &d
}
