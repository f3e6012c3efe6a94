package blocktree

import (
	"sort"

	"leaflet/api/internal/store"
)

// Node is one block in its tree shape. Level is the depth from the nearest
// root (root = 0).
type Node struct {
	store.Block
	Level    int
	Children []*Node
}

// Build turns the flat block set of one note into a forest of root nodes.
// Siblings are ordered by position ascending with id as tie-break. A block
// whose parent id points outside the set is promoted to a root rather than
// dropped, so malformed graphs never lose content. Parent cycles are broken
// the same way: one member is promoted and the rest hang off it.
func Build(blocks []store.Block) []*Node {
	nodes := make(map[string]*Node, len(blocks))
	for _, block := range blocks {
		block.Properties = normalizedProperties(block)
		nodes[block.ID] = &Node{Block: block, Children: []*Node{}}
	}

	roots := make([]*Node, 0)
	for _, block := range blocks {
		node := nodes[block.ID]
		if block.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[*block.ParentID]
		if !ok || parent == node {
			// orphan: keep it visible as a root
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	sortSiblings(roots)
	seen := make(map[string]bool, len(nodes))
	for _, root := range roots {
		seen[root.ID] = true
	}
	for _, root := range roots {
		annotate(root, 0, seen)
	}

	// anything still unseen sits in a parent cycle; promote members in
	// deterministic order until every block is placed
	ordered := make([]store.Block, len(blocks))
	copy(ordered, blocks)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Position != ordered[j].Position {
			return ordered[i].Position < ordered[j].Position
		}
		return ordered[i].ID < ordered[j].ID
	})
	for _, block := range ordered {
		if seen[block.ID] {
			continue
		}
		node := nodes[block.ID]
		roots = append(roots, node)
		seen[node.ID] = true
		annotate(node, 0, seen)
	}

	return roots
}

func sortSiblings(siblings []*Node) {
	sort.SliceStable(siblings, func(i, j int) bool {
		if siblings[i].Position != siblings[j].Position {
			return siblings[i].Position < siblings[j].Position
		}
		return siblings[i].ID < siblings[j].ID
	})
}

func annotate(node *Node, level int, seen map[string]bool) {
	node.Level = level
	sortSiblings(node.Children)
	kept := node.Children[:0]
	for _, child := range node.Children {
		if seen[child.ID] {
			continue
		}
		seen[child.ID] = true
		kept = append(kept, child)
		annotate(child, level+1, seen)
	}
	node.Children = kept
}
