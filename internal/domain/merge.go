package domain

import "log/slog"

// RootName is the name of the synthetic root of a merged tree.
const RootName = "root"

// EngineTree is one engine's discovery result.
type EngineTree struct {
	EngineID string
	Root     *TestNode
}

// MergeTrees merges per-engine subtrees under one synthetic root. Each
// engine's subtree becomes a direct child of the root, labeled with the
// engine id, so execution can later be dispatched back to the owning
// engine.
//
// Uniform paths are engine-independent, so two engines may report the
// same path. The tie-break is deterministic: the first registered engine
// keeps the test, later duplicates are dropped with a warning.
func MergeTrees(trees []EngineTree) *TestNode {
	root := NewContainer(RootName)
	seen := make(map[TestPath]string)

	for _, t := range trees {
		if t.Root == nil {
			continue
		}
		group := &TestNode{Name: t.EngineID, Kind: KindContainer, EngineID: t.EngineID}
		if t.Root.Kind == KindTest {
			group.Children = []*TestNode{t.Root}
		} else {
			group.Children = t.Root.Children
		}
		pruneDuplicates(group, seen, t.EngineID)
		root.AddChild(group)
	}
	return root
}

func pruneDuplicates(group *TestNode, seen map[TestPath]string, engineID string) {
	var prune func(node *TestNode, path TestPath) bool
	prune = func(node *TestNode, path TestPath) bool {
		if node.Kind == KindTest {
			if owner, dup := seen[path]; dup {
				slog.Warn("duplicate uniform path, keeping first engine",
					"path", path, "kept", owner, "dropped", engineID)
				return false
			}
			seen[path] = engineID
			return true
		}
		kept := node.Children[:0]
		for _, c := range node.Children {
			if prune(c, path.Join(c.Name)) {
				kept = append(kept, c)
			}
		}
		node.Children = kept
		return len(node.Children) > 0 || path == ""
	}
	prune(group, "")
}

// UniformLeaves returns all tests of a merged tree with their
// engine-independent uniform paths, in discovery order.
func UniformLeaves(merged *TestNode) []Leaf {
	var out []Leaf
	for _, group := range merged.Children {
		out = append(out, group.Leaves()...)
	}
	return out
}

// DetailsOf flattens the tests of a merged tree into the test-details
// artifact entries, preserving discovery order.
func DetailsOf(merged *TestNode) []TestDetail {
	leaves := UniformLeaves(merged)
	details := make([]TestDetail, 0, len(leaves))
	for _, l := range leaves {
		details = append(details, TestDetail{UniformPath: l.Path})
	}
	return details
}
