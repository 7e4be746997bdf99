package directories

import (
	"reflect"
	"testing"

	"github.com/medleyhq/medley/pkg/models"
)

func asset(id string, dirIDs ...string) models.Asset {
	a := models.Asset{ID: id, Type: models.ImageAssetType}
	for _, d := range dirIDs {
		a.Directories = append(a.Directories, models.Reference{Ref: d, Weak: true})
	}
	return a
}

func TestRootNode(t *testing.T) {
	root := RootNode()
	if root.ID != models.RootDirectoryID {
		t.Errorf("root id = %q, want %q", root.ID, models.RootDirectoryID)
	}
	if root.Name != "All Files" {
		t.Errorf("root name = %q, want All Files", root.Name)
	}
	if root.Parent != nil {
		t.Error("root must have no parent")
	}
}

func TestRootsAndChildren(t *testing.T) {
	s := NewStore()
	s.FetchCompleted([]models.Directory{
		dir("a", "Alpha", ""),
		dir("b", "Beta", "a"),
	})

	roots := Roots(s)
	if len(roots) != 1 || roots[0].Directory.ID != "a" {
		t.Fatalf("Roots = %v, want [a]", ids(roots))
	}

	children := ChildrenOf(s, "a")
	if len(children) != 1 || children[0].Directory.ID != "b" {
		t.Fatalf("ChildrenOf(a) = %v, want [b]", ids(children))
	}
	if got := ChildrenOf(s, "b"); len(got) != 0 {
		t.Errorf("ChildrenOf(b) = %v, want empty", ids(got))
	}
}

func TestChildrenOf_DerivedAfterIncrementalUpdate(t *testing.T) {
	s := NewStore()
	s.FetchCompleted([]models.Directory{dir("a", "Alpha", "")})

	// A listener-applied create must show up in the derived child list
	// without another fetch.
	s.ListenerCreateQueueCompleted([]models.Directory{dir("b", "Beta", "a")})

	children := ChildrenOf(s, "a")
	if len(children) != 1 || children[0].Directory.ID != "b" {
		t.Fatalf("ChildrenOf(a) = %v, want [b]", ids(children))
	}
}

func TestSelectOptions(t *testing.T) {
	s := NewStore()
	s.FetchCompleted([]models.Directory{dir("a", "Alpha", "")})

	opts := SelectOptions(s)
	want := []SelectOption{{Label: "Alpha", Value: "a"}}
	if !reflect.DeepEqual(opts, want) {
		t.Errorf("SelectOptions = %v, want %v", opts, want)
	}
}

func TestClassifyUsage(t *testing.T) {
	picked := []models.Asset{
		asset("one", "x", "y"),
		asset("two", "x"),
	}

	usage := ClassifyUsage(picked)
	if !reflect.DeepEqual(usage.AppliedToAll, []string{"x"}) {
		t.Errorf("AppliedToAll = %v, want [x]", usage.AppliedToAll)
	}
	if !reflect.DeepEqual(usage.AppliedToSome, []string{"y"}) {
		t.Errorf("AppliedToSome = %v, want [y]", usage.AppliedToSome)
	}
}

func TestClassifyUsage_Partition(t *testing.T) {
	picked := []models.Asset{
		asset("one", "x", "y", "z"),
		asset("two", "x", "z"),
		asset("three", "z"),
	}

	usage := ClassifyUsage(picked)

	seen := make(map[string]int)
	for _, id := range usage.AppliedToAll {
		seen[id]++
	}
	for _, id := range usage.AppliedToSome {
		seen[id]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("directory %q appears %d times across the partition", id, n)
		}
	}

	if !reflect.DeepEqual(usage.AppliedToAll, []string{"z"}) {
		t.Errorf("AppliedToAll = %v, want [z]", usage.AppliedToAll)
	}
}

func TestClassifyUsage_DuplicateRefsCountOnce(t *testing.T) {
	picked := []models.Asset{
		asset("one", "x", "x"),
		asset("two", "x"),
	}

	usage := ClassifyUsage(picked)
	if !reflect.DeepEqual(usage.AppliedToAll, []string{"x"}) {
		t.Errorf("AppliedToAll = %v, want [x]", usage.AppliedToAll)
	}
}

func TestClassifyUsage_NoPickedAssets(t *testing.T) {
	usage := ClassifyUsage(nil)
	if usage.AppliedToAll != nil || usage.AppliedToSome != nil {
		t.Errorf("usage with no picked assets = %v, want zero", usage)
	}
}

func TestBuildRows_NoPickedAssets(t *testing.T) {
	s := NewStore()
	s.FetchCompleted([]models.Directory{
		dir("a", "Alpha", ""),
		dir("b", "Beta", ""),
	})

	rows := BuildRows(s, nil)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (flat list, no headers)", len(rows))
	}
	for _, row := range rows {
		if row.Header != "" {
			t.Errorf("unexpected header row %q", row.Header)
		}
		want := []Action{ActionDelete, ActionEdit, ActionSearch}
		if !reflect.DeepEqual(row.Actions, want) {
			t.Errorf("actions = %v, want %v", row.Actions, want)
		}
	}
}

func TestBuildRows_Sections(t *testing.T) {
	s := NewStore()
	s.FetchCompleted([]models.Directory{
		dir("x", "X", ""),
		dir("y", "Y", ""),
		dir("z", "Z", ""),
	})
	picked := []models.Asset{
		asset("one", "x", "y"),
		asset("two", "x"),
	}

	rows := BuildRows(s, picked)

	var headers []string
	byHeader := make(map[string][]string)
	var current string
	for _, row := range rows {
		if row.Header != "" {
			current = row.Header
			headers = append(headers, current)
			continue
		}
		byHeader[current] = append(byHeader[current], row.Node.Directory.ID)
	}

	wantHeaders := []string{"Used by all", "Used by some", "Unused"}
	if !reflect.DeepEqual(headers, wantHeaders) {
		t.Fatalf("headers = %v, want %v", headers, wantHeaders)
	}
	if !reflect.DeepEqual(byHeader["Used by all"], []string{"x"}) {
		t.Errorf("Used by all = %v, want [x]", byHeader["Used by all"])
	}
	if !reflect.DeepEqual(byHeader["Used by some"], []string{"y"}) {
		t.Errorf("Used by some = %v, want [y]", byHeader["Used by some"])
	}
	if !reflect.DeepEqual(byHeader["Unused"], []string{"z"}) {
		t.Errorf("Unused = %v, want [z]", byHeader["Unused"])
	}
}

func TestBuildRows_SinglePickedAssetLabel(t *testing.T) {
	s := NewStore()
	s.FetchCompleted([]models.Directory{dir("x", "X", "")})
	picked := []models.Asset{asset("one", "x")}

	rows := BuildRows(s, picked)
	if len(rows) == 0 || rows[0].Header != "Used" {
		t.Fatalf("first row = %+v, want header Used", rows[0])
	}
}

func TestBuildRows_Actions(t *testing.T) {
	s := NewStore()
	s.FetchCompleted([]models.Directory{
		dir("x", "X", ""),
		dir("y", "Y", ""),
		dir("z", "Z", ""),
	})
	picked := []models.Asset{
		asset("one", "x", "y"),
		asset("two", "x"),
	}

	actionsFor := func(id string) []Action {
		for _, row := range BuildRows(s, picked) {
			if row.Node != nil && row.Node.Directory.ID == id {
				return row.Actions
			}
		}
		t.Fatalf("no row for %q", id)
		return nil
	}

	if got := actionsFor("x"); !reflect.DeepEqual(got,
		[]Action{ActionDelete, ActionEdit, ActionRemoveAll, ActionSearch}) {
		t.Errorf("applied-to-all actions = %v", got)
	}
	if got := actionsFor("y"); !reflect.DeepEqual(got,
		[]Action{ActionApplyAll, ActionDelete, ActionEdit, ActionRemoveAll, ActionSearch}) {
		t.Errorf("applied-to-some actions = %v", got)
	}
	if got := actionsFor("z"); !reflect.DeepEqual(got,
		[]Action{ActionApplyAll, ActionDelete, ActionEdit, ActionSearch}) {
		t.Errorf("unused actions = %v", got)
	}
}

func ids(nodes []Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Directory.ID)
	}
	return out
}
