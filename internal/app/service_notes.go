package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"leaflet/api/internal/access"
	"leaflet/api/internal/blocktree"
	"leaflet/api/internal/store"
	"leaflet/api/internal/util"
)

const maxPageLimit = 50

var noteSortFields = map[string]struct{}{
	"updated_at": {},
	"created_at": {},
	"title":      {},
}

// ListNotesInput carries the optional pagination and filter options. When
// Paginated is false the full set is returned, which older clients rely on.
type ListNotesInput struct {
	Paginated bool
	Page      int
	Limit     int
	Search    string
	Tags      []string
	SortBy    string
	SortOrder string
}

type Pagination struct {
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	Total       int  `json:"total"`
	TotalPages  int  `json:"totalPages"`
	HasNextPage bool `json:"hasNextPage"`
}

func (s *Service) ListNotes(ctx context.Context, userID string, input ListNotesInput) (map[string]any, error) {
	filter := store.NoteFilter{
		Paginated: input.Paginated,
		Page:      input.Page,
		Limit:     input.Limit,
		Search:    strings.TrimSpace(input.Search),
		Tags:      input.Tags,
		SortBy:    input.SortBy,
		SortOrder: input.SortOrder,
	}

	if filter.SortBy == "" {
		filter.SortBy = "updated_at"
	}
	if _, ok := noteSortFields[filter.SortBy]; !ok {
		return nil, validationError("sortBy must be one of updated_at, created_at, title", nil)
	}
	if filter.SortOrder == "" {
		filter.SortOrder = "desc"
	}
	if filter.SortOrder != "asc" && filter.SortOrder != "desc" {
		return nil, validationError("sortOrder must be asc or desc", nil)
	}

	if filter.Paginated {
		if filter.Page < 1 {
			filter.Page = 1
		}
		if filter.Limit < 1 {
			filter.Limit = 10
		}
		if filter.Limit > maxPageLimit {
			return nil, validationError(fmt.Sprintf("limit must not exceed %d", maxPageLimit), nil)
		}
	}

	notes, total, err := s.store.ListNotesForUser(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}

	items := make([]map[string]any, 0, len(notes))
	for _, note := range notes {
		items = append(items, notePayload(note, note.OwnerID == userID))
	}

	payload := map[string]any{"notes": items}
	if filter.Paginated {
		totalPages := (total + filter.Limit - 1) / filter.Limit
		payload["pagination"] = Pagination{
			Page:        filter.Page,
			Limit:       filter.Limit,
			Total:       total,
			TotalPages:  totalPages,
			HasNextPage: filter.Page < totalPages,
		}
	}
	return payload, nil
}

func (s *Service) GetNote(ctx context.Context, userID, noteID string) (map[string]any, error) {
	note, relationship, err := s.requireNoteAccess(ctx, userID, noteID, access.ActionRead)
	if err != nil {
		return nil, err
	}

	blocks, err := s.store.ListBlocks(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}

	payload := notePayload(note, relationship == access.RelationshipOwner)
	payload["blocks"] = blockForest(blocktree.Build(blocks))
	payload["access"] = access.CapabilitiesFor(relationship)
	return payload, nil
}

// BlockInput is a client-submitted block, possibly nested. Ids may be
// client-generated for new blocks; empty ids are assigned server-side.
type BlockInput struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Content    string          `json:"content"`
	Properties json.RawMessage `json:"properties"`
	Done       *bool           `json:"done"`
	Children   []BlockInput    `json:"children"`
}

type CreateNoteInput struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Tags        []string     `json:"tags"`
	Blocks      []BlockInput `json:"blocks"`
}

func (s *Service) CreateNote(ctx context.Context, userID string, input CreateNoteInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validationError("title is required", nil)
	}

	note := store.Note{
		ID:          util.NewID("note"),
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Tags:        normalizeTags(input.Tags),
		OwnerID:     userID,
	}

	roots, err := s.inputForest(input.Blocks, note.ID, userID)
	if err != nil {
		return nil, err
	}
	blocks := blocktree.Flatten(roots)

	if err := s.store.InsertNote(ctx, note, blocks); err != nil {
		return nil, fmt.Errorf("insert note: %w", err)
	}

	payload := notePayload(note, true)
	payload["blocks"] = blockForest(blocktree.Build(blocks))
	payload["access"] = access.CapabilitiesFor(access.RelationshipOwner)
	return payload, nil
}

type UpdateNoteInput struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
}

func (s *Service) UpdateNote(ctx context.Context, userID, noteID string, input UpdateNoteInput) (map[string]any, error) {
	note, _, err := s.requireNoteAccess(ctx, userID, noteID, access.ActionWrite)
	if err != nil {
		return nil, err
	}

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, validationError("title must not be empty", nil)
		}
		note.Title = title
	}
	if input.Description != nil {
		note.Description = strings.TrimSpace(*input.Description)
	}
	if input.Tags != nil {
		note.Tags = normalizeTags(*input.Tags)
	}

	if err := s.store.UpdateNote(ctx, noteID, note.Title, note.Description, note.Tags); err != nil {
		return nil, fmt.Errorf("update note: %w", err)
	}
	note.UpdatedAt = time.Now()
	return notePayload(note, true), nil
}

func (s *Service) DeleteNote(ctx context.Context, userID, noteID string) error {
	if _, _, err := s.requireNoteAccess(ctx, userID, noteID, access.ActionDelete); err != nil {
		return err
	}
	if err := s.store.SoftDeleteNote(ctx, noteID); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// inputForest validates a nested block submission and turns it into tree
// nodes ready for flattening.
func (s *Service) inputForest(inputs []BlockInput, noteID, userID string) ([]*blocktree.Node, error) {
	nodes := make([]*blocktree.Node, 0, len(inputs))
	for _, input := range inputs {
		block, err := blockFromInput(input, noteID, userID)
		if err != nil {
			return nil, err
		}
		children, err := s.inputForest(input.Children, noteID, userID)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, &blocktree.Node{Block: block, Children: children})
	}
	return nodes, nil
}

func blockFromInput(input BlockInput, noteID, userID string) (store.Block, error) {
	if !blocktree.ValidType(input.Type) {
		return store.Block{}, validationError(fmt.Sprintf("invalid block type %q", input.Type), nil)
	}
	props, err := blocktree.DecodeProperties(input.Type, string(input.Properties))
	if err != nil {
		return store.Block{}, validationError(err.Error(), nil)
	}
	if err := blocktree.ValidateDone(input.Type, input.Done); err != nil {
		return store.Block{}, validationError(err.Error(), nil)
	}
	encoded, err := blocktree.EncodeProperties(props)
	if err != nil {
		return store.Block{}, fmt.Errorf("encode properties: %w", err)
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = util.NewID("blk")
	}
	return store.Block{
		ID:         id,
		NoteID:     noteID,
		CreatedBy:  userID,
		Type:       input.Type,
		Content:    input.Content,
		Properties: encoded,
		Done:       input.Done,
	}, nil
}

func notePayload(note store.Note, isOwner bool) map[string]any {
	return map[string]any{
		"id":          note.ID,
		"title":       note.Title,
		"description": note.Description,
		"tags":        note.Tags,
		"ownerId":     note.OwnerID,
		"isOwner":     isOwner,
		"createdAt":   note.CreatedAt,
		"updatedAt":   note.UpdatedAt,
	}
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		normalized = append(normalized, tag)
	}
	return normalized
}
