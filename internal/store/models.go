package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Note struct {
	ID          string
	Title       string
	Description string
	Tags        []string
	OwnerID     string
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Block is one typed content unit in a note's hierarchy. ParentID nil means
// the block is a root. Position is unique among siblings sharing a parent.
type Block struct {
	ID         string
	NoteID     string
	CreatedBy  string
	ParentID   *string
	Type       string
	Content    string
	Properties string // jsonb payload, shape depends on Type
	Done       *bool  // only meaningful for todo blocks
	Position   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Collaboration links a user to a note they do not own. At most one
// non-removed row exists per (note, user); re-adding after removal inserts a
// fresh row.
type Collaboration struct {
	ID        string
	NoteID    string
	UserID    string
	AddedAt   time.Time
	Removed   bool
	RemovedBy string // "owner" or "itself"
	RemovedAt *time.Time
	// Joined fields for API responses
	UserEmail string
	UserName  string
}

// NoteFilter controls listing. When Paginated is false the full set is
// returned and Page/Limit are ignored.
type NoteFilter struct {
	Paginated bool
	Page      int
	Limit     int
	Search    string
	Tags      []string
	SortBy    string // updated_at, created_at, title
	SortOrder string // asc, desc
}

// PositionUpdate is one entry of a bulk sibling reorder.
type PositionUpdate struct {
	ID       string
	Position int
}

// BlockPlacement re-homes a block during delete re-parenting.
type BlockPlacement struct {
	ID       string
	ParentID *string
	Position int
}
