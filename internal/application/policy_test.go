package application

import (
	"testing"

	"github.com/coverbeam/coverbeam/internal/domain"
)

func impactedTree() *domain.TestNode {
	return domain.MergeTrees([]domain.EngineTree{{
		EngineID: "unit",
		Root: domain.NewContainer("root",
			domain.NewContainer("pkg",
				domain.NewTest("slow"),
				domain.NewTest("fast"),
				domain.NewTest("untouched"),
			),
			domain.NewContainer("other",
				domain.NewTest("alsoUntouched"),
			),
		),
	}})
}

func leafPaths(merged *domain.TestNode) []domain.TestPath {
	leaves := domain.UniformLeaves(merged)
	out := make([]domain.TestPath, 0, len(leaves))
	for _, l := range leaves {
		out = append(out, l.Path)
	}
	return out
}

func TestKeepAllPolicyKeepsEverything(t *testing.T) {
	merged := impactedTree()
	KeepAllPolicy{}.Apply(merged)
	if got := len(leafPaths(merged)); got != 4 {
		t.Fatalf("kept %d tests, want 4", got)
	}
}

func TestImpactedPolicyPrunesAndRanks(t *testing.T) {
	merged := impactedTree()
	policy := NewImpactedPolicy([]domain.TestPath{"pkg/fast", "pkg/slow"})
	policy.Apply(merged)

	got := leafPaths(merged)
	want := []domain.TestPath{"pkg/fast", "pkg/slow"}
	if len(got) != len(want) {
		t.Fatalf("kept %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestImpactedPolicyDropsEmptyGroups(t *testing.T) {
	merged := impactedTree()
	NewImpactedPolicy(nil).Apply(merged)
	if len(merged.Children) != 0 {
		t.Fatalf("expected all groups pruned, got %d", len(merged.Children))
	}
}
