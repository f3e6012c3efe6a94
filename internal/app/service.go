// Package app implements the note service: block-tree operations, access
// control, collaboration lifecycle, and the HTTP surface above them.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"leaflet/api/internal/access"
	"leaflet/api/internal/auth"
	"leaflet/api/internal/authpw"
	"leaflet/api/internal/config"
	"leaflet/api/internal/notify"
	"leaflet/api/internal/store"
	"leaflet/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(ctx context.Context, user store.User) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)

	InsertNote(ctx context.Context, note store.Note, blocks []store.Block) error
	GetNote(ctx context.Context, noteID string) (store.Note, error)
	ListNotesForUser(ctx context.Context, userID string, filter store.NoteFilter) ([]store.Note, int, error)
	UpdateNote(ctx context.Context, noteID, title, description string, tags []string) error
	SoftDeleteNote(ctx context.Context, noteID string) error

	ListBlocks(ctx context.Context, noteID string) ([]store.Block, error)
	GetBlock(ctx context.Context, noteID, blockID string) (store.Block, error)
	InsertBlock(ctx context.Context, block store.Block) error
	UpdateBlock(ctx context.Context, block store.Block) error
	DeleteBlockAndReparent(ctx context.Context, noteID, blockID string, placements []store.BlockPlacement) error
	UpdateBlockPositions(ctx context.Context, noteID string, updates []store.PositionUpdate) error

	GetActiveCollaboration(ctx context.Context, noteID, userID string) (*store.Collaboration, error)
	InsertCollaboration(ctx context.Context, collaboration store.Collaboration) error
	MarkCollaborationRemoved(ctx context.Context, noteID, userID, removedBy string) (bool, error)
	ListCollaborations(ctx context.Context, noteID string) ([]store.Collaboration, error)

	Ping(ctx context.Context) error

	refreshStore
}

// refreshStore is the session backend; Redis when configured, otherwise the
// primary Postgres store.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	auth     *authpw.Service
	notifier *notify.Notifier
	logger   *zap.Logger
}

func New(cfg config.Config, dataStore dataStore, sessions refreshStore, authService *authpw.Service, notifier *notify.Notifier, logger *zap.Logger) *Service {
	if sessions == nil {
		sessions = dataStore
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		auth:     authService,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.auth.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			return Session{}, conflictError("email already registered")
		}
		return Session{}, validationError(err.Error(), nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// session is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// resolveNote loads a note and the caller's relationship to it. Missing,
// soft-deleted, and forbidden notes all come back as the same not-found
// error so callers cannot distinguish denial from absence.
func (s *Service) resolveNote(ctx context.Context, userID, noteID string) (store.Note, access.Relationship, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Note{}, access.RelationshipNone, notFoundError("note not found")
	}
	if err != nil {
		return store.Note{}, access.RelationshipNone, fmt.Errorf("get note: %w", err)
	}
	if note.DeletedAt != nil {
		return store.Note{}, access.RelationshipNone, notFoundError("note not found")
	}

	if note.OwnerID == userID {
		return note, access.RelationshipOwner, nil
	}

	collaboration, err := s.store.GetActiveCollaboration(ctx, noteID, userID)
	if err != nil {
		return store.Note{}, access.RelationshipNone, fmt.Errorf("get collaboration: %w", err)
	}
	if collaboration != nil {
		return note, access.RelationshipCollaborator, nil
	}
	return store.Note{}, access.RelationshipNone, notFoundError("note not found")
}

// requireNoteAccess resolves the note and checks the action against the
// caller's relationship. A denied action on a readable note is still shaped
// as not-found for strangers; owners and collaborators attempting an action
// outside their set get the same treatment to keep the surface uniform.
func (s *Service) requireNoteAccess(ctx context.Context, userID, noteID string, action access.Action) (store.Note, access.Relationship, error) {
	note, relationship, err := s.resolveNote(ctx, userID, noteID)
	if err != nil {
		return store.Note{}, relationship, err
	}
	if !access.Can(relationship, action) {
		return store.Note{}, relationship, notFoundError("note not found")
	}
	return note, relationship, nil
}
