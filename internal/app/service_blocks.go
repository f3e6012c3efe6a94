package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"leaflet/api/internal/access"
	"leaflet/api/internal/blocktree"
	"leaflet/api/internal/store"
)

func (s *Service) ListBlocks(ctx context.Context, userID, noteID string) (map[string]any, error) {
	if _, _, err := s.requireNoteAccess(ctx, userID, noteID, access.ActionRead); err != nil {
		return nil, err
	}
	blocks, err := s.store.ListBlocks(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return map[string]any{"blocks": blockForest(blocktree.Build(blocks))}, nil
}

type CreateBlockInput struct {
	BlockInput
	ParentID *string `json:"parentId"`
	Position *int    `json:"position"`
}

func (s *Service) CreateBlock(ctx context.Context, userID, noteID string, input CreateBlockInput) (map[string]any, error) {
	if _, _, err := s.requireNoteAccess(ctx, userID, noteID, access.ActionWrite); err != nil {
		return nil, err
	}

	block, err := blockFromInput(input.BlockInput, noteID, userID)
	if err != nil {
		return nil, err
	}

	siblings, err := s.store.ListBlocks(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}

	if input.ParentID != nil {
		if !blockInSet(siblings, *input.ParentID) {
			return nil, validationError("parent block does not belong to this note", nil)
		}
		block.ParentID = input.ParentID
	}

	if input.Position != nil {
		if *input.Position < 0 {
			return nil, validationError("position must be a non-negative integer", nil)
		}
		block.Position = *input.Position
	} else {
		block.Position = nextSiblingPosition(siblings, block.ParentID)
	}

	if err := s.store.InsertBlock(ctx, block); err != nil {
		return nil, fmt.Errorf("insert block: %w", err)
	}
	return blockPayload(block), nil
}

type UpdateBlockInput struct {
	Type       *string         `json:"type"`
	Content    *string         `json:"content"`
	Properties json.RawMessage `json:"properties"`
	Done       *bool           `json:"done"`
	ParentID   *string         `json:"parentId"`
	Position   *int            `json:"position"`
}

func (s *Service) UpdateBlock(ctx context.Context, userID, noteID, blockID string, input UpdateBlockInput) (map[string]any, error) {
	if _, _, err := s.requireNoteAccess(ctx, userID, noteID, access.ActionWrite); err != nil {
		return nil, err
	}

	block, err := s.store.GetBlock(ctx, noteID, blockID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("block not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get block: %w", err)
	}

	if input.Type != nil {
		if !blocktree.ValidType(*input.Type) {
			return nil, validationError(fmt.Sprintf("invalid block type %q", *input.Type), nil)
		}
		block.Type = *input.Type
		if block.Type != blocktree.TypeTodo {
			block.Done = nil
		}
	}
	if input.Content != nil {
		block.Content = *input.Content
	}
	if input.Properties != nil {
		block.Properties = string(input.Properties)
	}
	if input.Done != nil {
		if err := blocktree.ValidateDone(block.Type, input.Done); err != nil {
			return nil, validationError(err.Error(), nil)
		}
		block.Done = input.Done
	}

	// re-validate the combined type/properties pair
	props, err := blocktree.DecodeProperties(block.Type, block.Properties)
	if err != nil {
		return nil, validationError(err.Error(), nil)
	}
	if block.Properties, err = blocktree.EncodeProperties(props); err != nil {
		return nil, fmt.Errorf("encode properties: %w", err)
	}

	if input.ParentID != nil {
		parent := strings.TrimSpace(*input.ParentID)
		if parent == "" {
			block.ParentID = nil
		} else {
			blocks, err := s.store.ListBlocks(ctx, noteID)
			if err != nil {
				return nil, fmt.Errorf("list blocks: %w", err)
			}
			if parent == blockID || !blockInSet(blocks, parent) || isDescendant(blocks, blockID, parent) {
				return nil, validationError("parent must be another block of the same note and not a descendant", nil)
			}
			block.ParentID = &parent
		}
	}
	if input.Position != nil {
		if *input.Position < 0 {
			return nil, validationError("position must be a non-negative integer", nil)
		}
		block.Position = *input.Position
	}

	if err := s.store.UpdateBlock(ctx, block); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("block not found")
		}
		return nil, fmt.Errorf("update block: %w", err)
	}
	return blockPayload(block), nil
}

// DeleteBlock removes one block. Its children are re-parented to the deleted
// block's former parent at the slot it occupied; nothing cascades.
func (s *Service) DeleteBlock(ctx context.Context, userID, noteID, blockID string) error {
	if _, _, err := s.requireNoteAccess(ctx, userID, noteID, access.ActionWrite); err != nil {
		return err
	}

	blocks, err := s.store.ListBlocks(ctx, noteID)
	if err != nil {
		return fmt.Errorf("list blocks: %w", err)
	}
	placements, ok := blocktree.Splice(blocks, blockID)
	if !ok {
		return notFoundError("block not found")
	}

	if err := s.store.DeleteBlockAndReparent(ctx, noteID, blockID, placements); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("block not found")
		}
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

type ReorderEntry struct {
	ID       string `json:"id"`
	Position *int   `json:"position"`
}

// ReorderBlocks atomically rewrites sibling positions. The batch is rejected
// as a whole if any entry is malformed, duplicated, or references a block
// outside the note.
func (s *Service) ReorderBlocks(ctx context.Context, userID, noteID string, entries []ReorderEntry) (map[string]any, error) {
	if _, _, err := s.requireNoteAccess(ctx, userID, noteID, access.ActionWrite); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, validationError("at least one reorder entry is required", nil)
	}

	blocks, err := s.store.ListBlocks(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	known := make(map[string]struct{}, len(blocks))
	for _, block := range blocks {
		known[block.ID] = struct{}{}
	}

	updates := make([]store.PositionUpdate, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.ID == "" {
			return nil, validationError("reorder entries require an id", nil)
		}
		if entry.Position == nil || *entry.Position < 0 {
			return nil, validationError("reorder entries require a non-negative integer position", map[string]any{"id": entry.ID})
		}
		if _, dup := seen[entry.ID]; dup {
			return nil, conflictError(fmt.Sprintf("duplicate reorder entry for block %s", entry.ID))
		}
		seen[entry.ID] = struct{}{}
		if _, ok := known[entry.ID]; !ok {
			return nil, validationError("block does not belong to this note", map[string]any{"id": entry.ID})
		}
		updates = append(updates, store.PositionUpdate{ID: entry.ID, Position: *entry.Position})
	}

	if err := s.store.UpdateBlockPositions(ctx, noteID, updates); err != nil {
		return nil, fmt.Errorf("reorder blocks: %w", err)
	}

	reordered, err := s.store.ListBlocks(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return map[string]any{"blocks": blockForest(blocktree.Build(reordered))}, nil
}

func blockInSet(blocks []store.Block, id string) bool {
	for _, block := range blocks {
		if block.ID == id {
			return true
		}
	}
	return false
}

// isDescendant reports whether candidate sits under ancestor in the tree.
// Used to reject re-parenting a block beneath its own subtree.
func isDescendant(blocks []store.Block, ancestorID, candidateID string) bool {
	parents := make(map[string]*string, len(blocks))
	for _, block := range blocks {
		parents[block.ID] = block.ParentID
	}
	current := parents[candidateID]
	for steps := 0; current != nil && steps < len(blocks); steps++ {
		if *current == ancestorID {
			return true
		}
		current = parents[*current]
	}
	return false
}

func nextSiblingPosition(blocks []store.Block, parentID *string) int {
	next := 0
	for _, block := range blocks {
		if !sameParent(block.ParentID, parentID) {
			continue
		}
		if block.Position >= next {
			next = block.Position + 1
		}
	}
	return next
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func blockForest(nodes []*blocktree.Node) []map[string]any {
	items := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		payload := blockPayload(node.Block)
		payload["level"] = node.Level
		payload["children"] = blockForest(node.Children)
		items = append(items, payload)
	}
	return items
}

func blockPayload(block store.Block) map[string]any {
	properties := block.Properties
	if properties == "" {
		properties = "{}"
	}
	payload := map[string]any{
		"id":         block.ID,
		"noteId":     block.NoteID,
		"createdBy":  block.CreatedBy,
		"parentId":   block.ParentID,
		"type":       block.Type,
		"content":    block.Content,
		"properties": json.RawMessage(properties),
		"position":   block.Position,
		"createdAt":  block.CreatedAt,
		"updatedAt":  block.UpdatedAt,
	}
	if block.Done != nil {
		payload["done"] = *block.Done
	}
	return payload
}
