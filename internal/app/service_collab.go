package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"leaflet/api/internal/access"
	"leaflet/api/internal/notify"
	"leaflet/api/internal/store"
	"leaflet/api/internal/util"
)

const (
	removedByOwner  = "owner"
	removedByItself = "itself"
)

type AddCollaboratorInput struct {
	Email  string `json:"email"`
	UserID string `json:"userId"`
}

// AddCollaborator shares a note with another user. The notification side
// effect fires after the write commits and can never fail the operation.
func (s *Service) AddCollaborator(ctx context.Context, userID, noteID string, input AddCollaboratorInput) (map[string]any, error) {
	note, _, err := s.requireNoteAccess(ctx, userID, noteID, access.ActionShare)
	if err != nil {
		return nil, err
	}

	target, err := s.resolveTargetUser(ctx, input)
	if err != nil {
		return nil, err
	}
	if target.ID == note.OwnerID {
		return nil, validationError("the owner cannot be added as a collaborator", nil)
	}

	active, err := s.store.GetActiveCollaboration(ctx, noteID, target.ID)
	if err != nil {
		return nil, fmt.Errorf("check collaboration: %w", err)
	}
	if active != nil {
		return nil, conflictError("user is already a collaborator on this note")
	}

	collaboration := store.Collaboration{
		ID:     util.NewID("collab"),
		NoteID: noteID,
		UserID: target.ID,
	}
	if err := s.store.InsertCollaboration(ctx, collaboration); err != nil {
		return nil, fmt.Errorf("insert collaboration: %w", err)
	}

	owner, err := s.store.GetUserByID(ctx, note.OwnerID)
	if err == nil {
		s.notifier.NotifyCollaboratorAdded(notify.CollaboratorAdded{
			RecipientEmail: target.Email,
			RecipientName:  target.DisplayName,
			OwnerName:      owner.DisplayName,
			NoteTitle:      note.Title,
		})
	}

	return map[string]any{
		"id":     collaboration.ID,
		"noteId": noteID,
		"user": map[string]any{
			"id":          target.ID,
			"email":       target.Email,
			"displayName": target.DisplayName,
		},
	}, nil
}

func (s *Service) resolveTargetUser(ctx context.Context, input AddCollaboratorInput) (store.User, error) {
	if id := strings.TrimSpace(input.UserID); id != "" {
		user, err := s.store.GetUserByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, notFoundError("user not found")
		}
		if err != nil {
			return store.User{}, fmt.Errorf("get user: %w", err)
		}
		return user, nil
	}

	email := strings.TrimSpace(strings.ToLower(input.Email))
	if email == "" {
		return store.User{}, validationError("email or userId is required", nil)
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, notFoundError("user not found")
	}
	if err != nil {
		return store.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *Service) RemoveCollaborator(ctx context.Context, userID, noteID, targetUserID string) error {
	if _, _, err := s.requireNoteAccess(ctx, userID, noteID, access.ActionShare); err != nil {
		return err
	}

	removed, err := s.store.MarkCollaborationRemoved(ctx, noteID, targetUserID, removedByOwner)
	if err != nil {
		return fmt.Errorf("remove collaborator: %w", err)
	}
	if !removed {
		return notFoundError("no active collaboration for this user")
	}
	return nil
}

// RecuseCollaboration is the collaborator's own exit from a shared note.
func (s *Service) RecuseCollaboration(ctx context.Context, userID, noteID string) error {
	_, relationship, err := s.resolveNote(ctx, userID, noteID)
	if err != nil {
		return err
	}
	if relationship == access.RelationshipOwner {
		return validationError("the owner cannot recuse from their own note", nil)
	}
	if !access.Can(relationship, access.ActionRecuse) {
		return notFoundError("note not found")
	}

	removed, err := s.store.MarkCollaborationRemoved(ctx, noteID, userID, removedByItself)
	if err != nil {
		return fmt.Errorf("recuse collaboration: %w", err)
	}
	if !removed {
		return notFoundError("no active collaboration for this user")
	}
	return nil
}

// ListCollaborators returns active and removed entries, oldest first, so the
// full sharing history stays auditable. Filtering to active entries is the
// caller's job.
func (s *Service) ListCollaborators(ctx context.Context, userID, noteID string) (map[string]any, error) {
	if _, _, err := s.requireNoteAccess(ctx, userID, noteID, access.ActionRead); err != nil {
		return nil, err
	}

	collaborations, err := s.store.ListCollaborations(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("list collaborations: %w", err)
	}

	items := make([]map[string]any, 0, len(collaborations))
	for _, collaboration := range collaborations {
		item := map[string]any{
			"id":      collaboration.ID,
			"addedAt": collaboration.AddedAt,
			"removed": collaboration.Removed,
			"user": map[string]any{
				"id":          collaboration.UserID,
				"email":       collaboration.UserEmail,
				"displayName": collaboration.UserName,
			},
		}
		if collaboration.Removed {
			item["removedBy"] = collaboration.RemovedBy
			item["removedAt"] = collaboration.RemovedAt
		}
		items = append(items, item)
	}
	return map[string]any{"collaborators": items}, nil
}
