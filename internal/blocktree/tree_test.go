package blocktree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leaflet/api/internal/store"
)

func strptr(s string) *string { return &s }

func flatFixture() []store.Block {
	return []store.Block{
		{ID: "blk-a", NoteID: "note-1", Type: TypeHeading, Position: 0, Properties: `{"level":1}`},
		{ID: "blk-b", NoteID: "note-1", Type: TypeText, Position: 1},
		{ID: "blk-a1", NoteID: "note-1", Type: TypeText, ParentID: strptr("blk-a"), Position: 0},
		{ID: "blk-a2", NoteID: "note-1", Type: TypeTodo, ParentID: strptr("blk-a"), Position: 1},
		{ID: "blk-a2x", NoteID: "note-1", Type: TypeText, ParentID: strptr("blk-a2"), Position: 0},
	}
}

func TestBuildShape(t *testing.T) {
	roots := Build(flatFixture())

	require.Len(t, roots, 2)
	assert.Equal(t, "blk-a", roots[0].ID)
	assert.Equal(t, "blk-b", roots[1].ID)
	assert.Equal(t, 0, roots[0].Level)

	require.Len(t, roots[0].Children, 2)
	assert.Equal(t, "blk-a1", roots[0].Children[0].ID)
	assert.Equal(t, "blk-a2", roots[0].Children[1].ID)
	assert.Equal(t, 1, roots[0].Children[0].Level)

	require.Len(t, roots[0].Children[1].Children, 1)
	assert.Equal(t, "blk-a2x", roots[0].Children[1].Children[0].ID)
	assert.Equal(t, 2, roots[0].Children[1].Children[0].Level)
}

func TestBuildSortsSiblingsByPosition(t *testing.T) {
	blocks := []store.Block{
		{ID: "blk-c", Type: TypeText, Position: 2},
		{ID: "blk-a", Type: TypeText, Position: 0},
		{ID: "blk-b", Type: TypeText, Position: 1},
	}
	roots := Build(blocks)
	require.Len(t, roots, 3)
	assert.Equal(t, []string{"blk-a", "blk-b", "blk-c"}, []string{roots[0].ID, roots[1].ID, roots[2].ID})
}

func TestBuildOrphanBecomesRoot(t *testing.T) {
	blocks := []store.Block{
		{ID: "blk-root", Type: TypeText, Position: 0},
		{ID: "blk-lost", Type: TypeText, ParentID: strptr("blk-nope"), Position: 0},
	}
	roots := Build(blocks)
	require.Len(t, roots, 2)
	ids := []string{roots[0].ID, roots[1].ID}
	assert.Contains(t, ids, "blk-lost")
}

func TestBuildBreaksParentCycle(t *testing.T) {
	blocks := []store.Block{
		{ID: "blk-x", Type: TypeText, ParentID: strptr("blk-y"), Position: 0},
		{ID: "blk-y", Type: TypeText, ParentID: strptr("blk-x"), Position: 1},
	}
	roots := Build(blocks)

	total := 0
	var count func(nodes []*Node)
	count = func(nodes []*Node) {
		for _, node := range nodes {
			total++
			count(node.Children)
		}
	}
	count(roots)
	assert.Equal(t, 2, total, "no block may be dropped by a cycle")
	require.NotEmpty(t, roots)
}

func TestRoundTrip(t *testing.T) {
	original := flatFixture()
	flat := Flatten(Build(original))
	require.Len(t, flat, len(original))

	byID := make(map[string]store.Block, len(flat))
	for _, block := range flat {
		byID[block.ID] = block
	}
	for _, want := range original {
		got, ok := byID[want.ID]
		require.True(t, ok, "block %s missing after round trip", want.ID)
		if want.ParentID == nil {
			assert.Nil(t, got.ParentID, "block %s", want.ID)
		} else {
			require.NotNil(t, got.ParentID, "block %s", want.ID)
			assert.Equal(t, *want.ParentID, *got.ParentID)
		}
		assert.Equal(t, want.Position, got.Position, "block %s", want.ID)
	}
}

func TestFlattenReindexesSparsePositions(t *testing.T) {
	blocks := []store.Block{
		{ID: "blk-a", Type: TypeText, Position: 3},
		{ID: "blk-b", Type: TypeText, Position: 7},
	}
	flat := Flatten(Build(blocks))
	require.Len(t, flat, 2)
	assert.Equal(t, 0, flat[0].Position)
	assert.Equal(t, 1, flat[1].Position)
}

func TestSpliceReparentsChildren(t *testing.T) {
	// P has children [s0, mid, s2]; mid (position 1) has children [c1, c2].
	blocks := []store.Block{
		{ID: "blk-p", Type: TypeText, Position: 0},
		{ID: "blk-s0", Type: TypeText, ParentID: strptr("blk-p"), Position: 0},
		{ID: "blk-mid", Type: TypeText, ParentID: strptr("blk-p"), Position: 1},
		{ID: "blk-s2", Type: TypeText, ParentID: strptr("blk-p"), Position: 2},
		{ID: "blk-c1", Type: TypeText, ParentID: strptr("blk-mid"), Position: 0},
		{ID: "blk-c2", Type: TypeText, ParentID: strptr("blk-mid"), Position: 1},
	}

	placements, ok := Splice(blocks, "blk-mid")
	require.True(t, ok)
	require.Len(t, placements, 4)

	order := make([]string, len(placements))
	for i, placement := range placements {
		order[i] = placement.ID
		assert.Equal(t, i, placement.Position)
		require.NotNil(t, placement.ParentID)
		assert.Equal(t, "blk-p", *placement.ParentID)
	}
	assert.Equal(t, []string{"blk-s0", "blk-c1", "blk-c2", "blk-s2"}, order)
}

func TestSpliceRootDeletionPromotesChildrenToRoots(t *testing.T) {
	blocks := []store.Block{
		{ID: "blk-root", Type: TypeText, Position: 0},
		{ID: "blk-other", Type: TypeText, Position: 1},
		{ID: "blk-kid", Type: TypeText, ParentID: strptr("blk-root"), Position: 0},
	}
	placements, ok := Splice(blocks, "blk-root")
	require.True(t, ok)
	require.Len(t, placements, 2)
	assert.Equal(t, "blk-kid", placements[0].ID)
	assert.Nil(t, placements[0].ParentID)
	assert.Equal(t, 0, placements[0].Position)
	assert.Equal(t, "blk-other", placements[1].ID)
	assert.Equal(t, 1, placements[1].Position)
}

func TestSpliceUnknownBlock(t *testing.T) {
	_, ok := Splice(flatFixture(), "blk-nope")
	assert.False(t, ok)
}
