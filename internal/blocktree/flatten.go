package blocktree

import "leaflet/api/internal/store"

// Flatten is the inverse of Build: it walks a client-submitted forest
// depth-first and returns the flat block list, with every block's parent id
// resolved from the tree shape and its position set to its index among its
// flattened siblings.
func Flatten(roots []*Node) []store.Block {
	flat := make([]store.Block, 0)
	var walk func(nodes []*Node, parentID *string)
	walk = func(nodes []*Node, parentID *string) {
		for i, node := range nodes {
			block := node.Block
			block.ParentID = parentID
			block.Position = i
			block.Properties = normalizedProperties(block)
			flat = append(flat, block)

			id := block.ID
			walk(node.Children, &id)
		}
	}
	walk(roots, nil)
	return flat
}

// Splice computes the placement updates for deleting one block without
// cascading: the deleted block's children move up to its former parent,
// inserted at the slot the deleted block occupied, keeping their relative
// order. The returned placements cover the affected sibling run; untouched
// subtrees are left alone. The boolean reports whether the block was found.
func Splice(blocks []store.Block, deletedID string) ([]store.BlockPlacement, bool) {
	roots := Build(blocks)

	target, siblings, parentID := locate(roots, deletedID, nil)
	if target == nil {
		return nil, false
	}

	merged := make([]*Node, 0, len(siblings)-1+len(target.Children))
	for _, sibling := range siblings {
		if sibling == target {
			merged = append(merged, target.Children...)
			continue
		}
		merged = append(merged, sibling)
	}

	placements := make([]store.BlockPlacement, 0, len(merged))
	for i, node := range merged {
		placements = append(placements, store.BlockPlacement{
			ID:       node.ID,
			ParentID: parentID,
			Position: i,
		})
	}
	return placements, true
}

// locate finds the node with the given id plus its sibling list and the id of
// the parent that list hangs off (nil for roots).
func locate(siblings []*Node, id string, parentID *string) (*Node, []*Node, *string) {
	for _, node := range siblings {
		if node.ID == id {
			return node, siblings, parentID
		}
		nodeID := node.ID
		if found, sibs, pid := locate(node.Children, id, &nodeID); found != nil {
			return found, sibs, pid
		}
	}
	return nil, nil, nil
}
