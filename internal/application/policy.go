package application

import (
	"sort"

	"github.com/coverbeam/coverbeam/internal/domain"
)

// KeepAllPolicy runs every discovered test in discovery order.
type KeepAllPolicy struct{}

func (KeepAllPolicy) Apply(*domain.TestNode) {}

// ImpactedPolicy keeps only the tests named by a ranked list of uniform
// paths (as returned by the remote impacted-test service) and orders
// them by rank. Tests outside the list are pruned from the tree.
type ImpactedPolicy struct {
	rank map[domain.TestPath]int
}

// NewImpactedPolicy builds a policy from a ranked list; earlier entries
// run first.
func NewImpactedPolicy(ranked []domain.TestPath) *ImpactedPolicy {
	rank := make(map[domain.TestPath]int, len(ranked))
	for i, p := range ranked {
		if _, ok := rank[p]; !ok {
			rank[p] = i
		}
	}
	return &ImpactedPolicy{rank: rank}
}

func (p *ImpactedPolicy) Apply(merged *domain.TestNode) {
	kept := merged.Children[:0]
	for _, group := range merged.Children {
		p.pruneGroup(group)
		if len(group.Children) > 0 {
			kept = append(kept, group)
		}
	}
	merged.Children = kept
}

func (p *ImpactedPolicy) pruneGroup(group *domain.TestNode) {
	var prune func(node *domain.TestNode, path domain.TestPath) bool
	prune = func(node *domain.TestNode, path domain.TestPath) bool {
		if node.Kind == domain.KindTest {
			_, impacted := p.rank[path]
			return impacted
		}
		kept := node.Children[:0]
		for _, c := range node.Children {
			if prune(c, path.Join(c.Name)) {
				kept = append(kept, c)
			}
		}
		node.Children = kept
		p.sortByRank(node, path)
		return len(node.Children) > 0
	}
	prune(group, "")
}

// sortByRank orders siblings by the best rank found among their tests,
// so higher-priority tests run first. The sort is stable, keeping
// discovery order between equally ranked siblings.
func (p *ImpactedPolicy) sortByRank(node *domain.TestNode, path domain.TestPath) {
	best := func(c *domain.TestNode) int {
		b := int(^uint(0) >> 1)
		for _, l := range c.Leaves() {
			full := path.Join(c.Name)
			if l.Path != "" {
				full = full.Join(string(l.Path))
			}
			if r, ok := p.rank[full]; ok && r < b {
				b = r
			}
		}
		return b
	}
	sort.SliceStable(node.Children, func(i, j int) bool {
		return best(node.Children[i]) < best(node.Children[j])
	})
}
