package directories

import "github.com/medleyhq/medley/pkg/models"

// RootNode returns the synthetic "All Files" root. It never exists in the
// remote store or in the tree store; it is constructed here for rendering
// only and must never be the target of a mutation.
func RootNode() models.Directory {
	return models.Directory{
		ID:   models.RootDirectoryID,
		Name: "All Files",
	}
}

// Roots returns the nodes without a parent reference, in store order.
func Roots(s *Store) []Node {
	var out []Node
	for _, node := range s.List() {
		if node.Directory.Parent == nil {
			out = append(out, node)
		}
	}
	return out
}

// ChildrenOf returns the direct children of id, in store order. Children
// are always derived live from the flat state, never from a stored
// snapshot, so the result stays correct under incremental updates.
func ChildrenOf(s *Store, id string) []Node {
	var out []Node
	for _, node := range s.List() {
		if node.Directory.ParentID() == id {
			out = append(out, node)
		}
	}
	return out
}

// SelectOption is a {label, value} pair for external form controls.
type SelectOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// SelectOptionOf maps a node to its form-control option.
func SelectOptionOf(node Node) SelectOption {
	return SelectOption{
		Label: node.Directory.Name,
		Value: node.Directory.ID,
	}
}

// SelectOptions maps the whole store to form-control options, in store
// order.
func SelectOptions(s *Store) []SelectOption {
	nodes := s.List()
	out := make([]SelectOption, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, SelectOptionOf(node))
	}
	return out
}

// Usage partitions the directories referenced by a picked-asset set.
// Every directory referenced by at least one picked asset lands in exactly
// one of the two lists; AppliedToAll holds a directory iff every picked
// asset references it. Order is first appearance across the assets.
type Usage struct {
	AppliedToAll  []string
	AppliedToSome []string
}

// ClassifyUsage computes the usage partition for the given picked assets.
// With no picked assets there is nothing to classify; the zero Usage is
// returned and the caller presents the flat list.
func ClassifyUsage(picked []models.Asset) Usage {
	if len(picked) == 0 {
		return Usage{}
	}

	counts := make(map[string]int)
	var order []string
	for _, asset := range picked {
		seen := make(map[string]bool, len(asset.Directories))
		for _, ref := range asset.Directories {
			if ref.Ref == "" || seen[ref.Ref] {
				continue
			}
			seen[ref.Ref] = true
			if counts[ref.Ref] == 0 {
				order = append(order, ref.Ref)
			}
			counts[ref.Ref]++
		}
	}

	var usage Usage
	for _, id := range order {
		if counts[id] == len(picked) {
			usage.AppliedToAll = append(usage.AppliedToAll, id)
		} else {
			usage.AppliedToSome = append(usage.AppliedToSome, id)
		}
	}
	return usage
}

// Action identifies one per-row action button exposed by the picker.
type Action string

const (
	ActionApplyAll  Action = "applyAll"
	ActionDelete    Action = "delete"
	ActionEdit      Action = "edit"
	ActionRemoveAll Action = "removeAll"
	ActionSearch    Action = "search"
)

// Row is one entry of the picker list: either a section header or a
// directory with its action set.
type Row struct {
	// Header is the section label; set only on header rows.
	Header string
	// Node is the directory; nil on header rows.
	Node    *Node
	Actions []Action
}

// BuildRows assembles the picker list. With no picked assets every
// directory appears flat with the baseline actions. With picked assets the
// list splits into usage sections: one "Used" section for a single picked
// asset, "Used by all" and "Used by some" for several, and "Unused" for
// directories no picked asset references. Empty sections are omitted.
func BuildRows(s *Store, picked []models.Asset) []Row {
	nodes := s.List()

	if len(picked) == 0 {
		rows := make([]Row, 0, len(nodes))
		for i := range nodes {
			rows = append(rows, Row{
				Node:    &nodes[i],
				Actions: []Action{ActionDelete, ActionEdit, ActionSearch},
			})
		}
		return rows
	}

	usage := ClassifyUsage(picked)
	inAll := toSet(usage.AppliedToAll)
	inSome := toSet(usage.AppliedToSome)

	var all, some, unused []*Node
	for i := range nodes {
		id := nodes[i].Directory.ID
		switch {
		case inAll[id]:
			all = append(all, &nodes[i])
		case inSome[id]:
			some = append(some, &nodes[i])
		default:
			unused = append(unused, &nodes[i])
		}
	}

	allLabel := "Used by all"
	if len(picked) == 1 {
		allLabel = "Used"
	}

	var rows []Row
	rows = appendSection(rows, allLabel, all,
		[]Action{ActionDelete, ActionEdit, ActionRemoveAll, ActionSearch})
	rows = appendSection(rows, "Used by some", some,
		[]Action{ActionApplyAll, ActionDelete, ActionEdit, ActionRemoveAll, ActionSearch})
	rows = appendSection(rows, "Unused", unused,
		[]Action{ActionApplyAll, ActionDelete, ActionEdit, ActionSearch})
	return rows
}

func appendSection(rows []Row, label string, nodes []*Node, actions []Action) []Row {
	if len(nodes) == 0 {
		return rows
	}
	rows = append(rows, Row{Header: label})
	for _, node := range nodes {
		rows = append(rows, Row{Node: node, Actions: actions})
	}
	return rows
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
