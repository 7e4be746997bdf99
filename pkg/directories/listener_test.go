package directories

import (
	"context"
	"testing"
	"time"

	"github.com/medleyhq/medley/pkg/docstore"
	"github.com/medleyhq/medley/pkg/docstore/memstore"
	"github.com/medleyhq/medley/pkg/models"
)

func patchName(name string) docstore.Patch {
	return docstore.Patch{Set: map[string]any{"name": name}}
}

func deleteMutation(id string) []docstore.Mutation {
	return []docstore.Mutation{{ID: id, Delete: true}}
}

func testListenerConfig() ListenerConfig {
	return ListenerConfig{
		BatchWindow:   50 * time.Millisecond,
		SortWindow:    30 * time.Millisecond,
		BatchMaxItems: 256,
	}
}

func startListener(t *testing.T, tree *Store, st *memstore.Store) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	l := NewListener(tree, st, testListenerConfig())
	go func() { _ = l.Run(ctx) }()
	// Give the listener a moment to subscribe before events flow.
	time.Sleep(10 * time.Millisecond)
	return cancel
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestListener_AppliesCreates(t *testing.T) {
	st := memstore.New()
	tree := NewStore()
	cancel := startListener(t, tree, st)
	defer cancel()

	ctx := context.Background()
	for _, d := range []models.Directory{
		dir("b", "Beta", ""),
		dir("a", "Alpha", ""),
		dir("c", "Gamma", ""),
	} {
		if err := st.Create(ctx, d, nil); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	waitFor(t, time.Second, func() bool { return tree.Len() == 3 })

	// The debounced sort has fired by the time all three are applied and
	// the sort window elapsed.
	waitFor(t, time.Second, func() bool {
		got := tree.IDs()
		return len(got) == 3 && got[0] == "a" && got[1] == "b" && got[2] == "c"
	})
}

func TestListener_AppliesUpdatesAndDeletes(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	if err := st.Create(ctx, dir("a", "Alpha", ""), nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := st.Create(ctx, dir("b", "Beta", ""), nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tree := NewStore()
	tree.FetchCompleted([]models.Directory{
		dir("a", "Alpha", ""),
		dir("b", "Beta", ""),
	})
	tree.ToggleOpen("a")

	cancel := startListener(t, tree, st)
	defer cancel()

	if err := st.Patch(ctx, "a", patchName("Renamed"), nil); err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if err := st.Transaction(ctx, deleteMutation("b")); err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		node, ok := tree.Get("a")
		if !ok || node.Directory.Name != "Renamed" {
			return false
		}
		_, present := tree.Get("b")
		return !present
	})

	node, _ := tree.Get("a")
	if !node.Open {
		t.Error("open flag lost across listener update")
	}
}

func TestListener_IgnoresOtherDocumentTypes(t *testing.T) {
	st := memstore.New()
	tree := NewStore()
	cancel := startListener(t, tree, st)
	defer cancel()

	err := st.Create(context.Background(), models.Asset{
		ID:   "asset1",
		Type: models.ImageAssetType,
	}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if tree.Len() != 0 {
		t.Errorf("tree has %d nodes, want 0 (asset events filtered)", tree.Len())
	}
}
