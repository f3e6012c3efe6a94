package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at, updated_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at, updated_at
		FROM users
		WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// InsertNote writes the note and its initial blocks as one transaction.
func (s *PostgresStore) InsertNote(ctx context.Context, note Note, blocks []Block) error {
	tags, err := encodeTags(note.Tags)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert note: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO notes (id, title, description, tags, owner_id)
		VALUES ($1, $2, $3, $4::jsonb, $5)
	`, note.ID, note.Title, note.Description, tags, note.OwnerID); err != nil {
		return fmt.Errorf("insert note: %w", err)
	}

	for _, block := range blocks {
		if err := insertBlockTx(ctx, tx, block); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	var item Note
	var tagsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, tags, owner_id, deleted_at, created_at, updated_at
		FROM notes
		WHERE id=$1
	`, noteID).Scan(&item.ID, &item.Title, &item.Description, &tagsRaw, &item.OwnerID, &item.DeletedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Note{}, err
	}
	_ = json.Unmarshal(tagsRaw, &item.Tags)
	return item, nil
}

var noteSortColumns = map[string]string{
	"updated_at": "n.updated_at",
	"created_at": "n.created_at",
	"title":      "LOWER(n.title)",
}

// ListNotesForUser returns every non-deleted note the user owns or actively
// collaborates on, filtered and ordered per the filter. The second return is
// the total match count before pagination.
func (s *PostgresStore) ListNotesForUser(ctx context.Context, userID string, filter NoteFilter) ([]Note, int, error) {
	tagsJSON, err := encodeTags(filter.Tags)
	if err != nil {
		return nil, 0, err
	}

	const whereClause = `
		FROM notes n
		WHERE n.deleted_at IS NULL
		  AND (n.owner_id = $1 OR EXISTS (
			SELECT 1 FROM collaborations c
			WHERE c.note_id = n.id AND c.user_id = $1 AND c.removed = FALSE))
		  AND ($2 = '' OR n.title ILIKE '%' || $2 || '%' OR n.description ILIKE '%' || $2 || '%')
		  AND ($3::jsonb = '[]'::jsonb OR EXISTS (
			SELECT 1 FROM jsonb_array_elements_text(n.tags) tag
			WHERE tag IN (SELECT jsonb_array_elements_text($3::jsonb))))
	`

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) `+whereClause, userID, filter.Search, tagsJSON).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notes: %w", err)
	}

	sortColumn, ok := noteSortColumns[filter.SortBy]
	if !ok {
		sortColumn = noteSortColumns["updated_at"]
	}
	direction := "DESC"
	if filter.SortOrder == "asc" {
		direction = "ASC"
	}

	query := `SELECT n.id, n.title, n.description, n.tags, n.owner_id, n.deleted_at, n.created_at, n.updated_at ` +
		whereClause +
		fmt.Sprintf(" ORDER BY %s %s, n.id ASC", sortColumn, direction)
	args := []any{userID, filter.Search, tagsJSON}
	if filter.Paginated {
		query += " LIMIT $4 OFFSET $5"
		args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		var item Note
		var tagsRaw []byte
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &tagsRaw, &item.OwnerID, &item.DeletedAt, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan note: %w", err)
		}
		_ = json.Unmarshal(tagsRaw, &item.Tags)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate notes: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) UpdateNote(ctx context.Context, noteID, title, description string, tags []string) error {
	encoded, err := encodeTags(tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE notes
		SET title=$2, description=$3, tags=$4::jsonb, updated_at=NOW()
		WHERE id=$1
	`, noteID, title, description, encoded)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteNote(ctx context.Context, noteID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notes SET deleted_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL
	`, noteID)
	if err != nil {
		return fmt.Errorf("soft delete note: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBlocks(ctx context.Context, noteID string) ([]Block, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, note_id, created_by, parent_id, type, content, COALESCE(properties::text, '{}'), done, position, created_at, updated_at
		FROM blocks
		WHERE note_id=$1
		ORDER BY position ASC, id ASC
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	items := make([]Block, 0)
	for rows.Next() {
		var item Block
		if err := rows.Scan(
			&item.ID,
			&item.NoteID,
			&item.CreatedBy,
			&item.ParentID,
			&item.Type,
			&item.Content,
			&item.Properties,
			&item.Done,
			&item.Position,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetBlock(ctx context.Context, noteID, blockID string) (Block, error) {
	var item Block
	err := s.db.QueryRowContext(ctx, `
		SELECT id, note_id, created_by, parent_id, type, content, COALESCE(properties::text, '{}'), done, position, created_at, updated_at
		FROM blocks
		WHERE note_id=$1 AND id=$2
	`, noteID, blockID).Scan(
		&item.ID,
		&item.NoteID,
		&item.CreatedBy,
		&item.ParentID,
		&item.Type,
		&item.Content,
		&item.Properties,
		&item.Done,
		&item.Position,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Block{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertBlock(ctx context.Context, block Block) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert block: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertBlockTx(ctx, tx, block); err != nil {
		return err
	}
	if err := touchNoteTx(ctx, tx, block.NoteID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert block: %w", err)
	}
	return nil
}

func insertBlockTx(ctx context.Context, tx *sql.Tx, block Block) error {
	properties := block.Properties
	if properties == "" {
		properties = "{}"
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO blocks (id, note_id, created_by, parent_id, type, content, properties, done, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)
	`, block.ID, block.NoteID, block.CreatedBy, block.ParentID, block.Type, block.Content, properties, block.Done, block.Position)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

func touchNoteTx(ctx context.Context, tx *sql.Tx, noteID string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE notes SET updated_at=NOW() WHERE id=$1`, noteID); err != nil {
		return fmt.Errorf("touch note: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateBlock(ctx context.Context, block Block) error {
	properties := block.Properties
	if properties == "" {
		properties = "{}"
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE blocks
		SET parent_id=$3, type=$4, content=$5, properties=$6::jsonb, done=$7, position=$8, updated_at=NOW()
		WHERE note_id=$1 AND id=$2
	`, block.NoteID, block.ID, block.ParentID, block.Type, block.Content, properties, block.Done, block.Position)
	if err != nil {
		return fmt.Errorf("update block: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update block rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteBlockAndReparent removes one block and re-homes the surviving blocks
// per the supplied placements, all in one transaction.
func (s *PostgresStore) DeleteBlockAndReparent(ctx context.Context, noteID, blockID string, placements []BlockPlacement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete block: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE note_id=$1 AND id=$2`, noteID, blockID)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete block rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	for _, placement := range placements {
		result, err := tx.ExecContext(ctx, `
			UPDATE blocks SET parent_id=$3, position=$4, updated_at=NOW()
			WHERE note_id=$1 AND id=$2
		`, noteID, placement.ID, placement.ParentID, placement.Position)
		if err != nil {
			return fmt.Errorf("reparent block %s: %w", placement.ID, err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("reparent block rows: %w", err)
		} else if affected == 0 {
			return fmt.Errorf("reparent block %s: %w", placement.ID, sql.ErrNoRows)
		}
	}

	if err := touchNoteTx(ctx, tx, noteID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete block: %w", err)
	}
	return nil
}

// UpdateBlockPositions applies a reorder batch atomically. Every entry must
// match a block of the target note or the whole batch rolls back.
func (s *PostgresStore) UpdateBlockPositions(ctx context.Context, noteID string, updates []PositionUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, update := range updates {
		result, err := tx.ExecContext(ctx, `
			UPDATE blocks SET position=$3, updated_at=NOW()
			WHERE note_id=$1 AND id=$2
		`, noteID, update.ID, update.Position)
		if err != nil {
			return fmt.Errorf("reorder block %s: %w", update.ID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("reorder block rows: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("reorder block %s: %w", update.ID, sql.ErrNoRows)
		}
	}

	if err := touchNoteTx(ctx, tx, noteID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetActiveCollaboration(ctx context.Context, noteID, userID string) (*Collaboration, error) {
	var item Collaboration
	err := s.db.QueryRowContext(ctx, `
		SELECT id, note_id, user_id, added_at, removed
		FROM collaborations
		WHERE note_id=$1 AND user_id=$2 AND removed=FALSE
	`, noteID, userID).Scan(&item.ID, &item.NoteID, &item.UserID, &item.AddedAt, &item.Removed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active collaboration: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) InsertCollaboration(ctx context.Context, collaboration Collaboration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collaborations (id, note_id, user_id)
		VALUES ($1, $2, $3)
	`, collaboration.ID, collaboration.NoteID, collaboration.UserID)
	if err != nil {
		return fmt.Errorf("insert collaboration: %w", err)
	}
	return nil
}

// MarkCollaborationRemoved closes the active collaboration row, recording who
// initiated the removal. Returns false when no active row existed.
func (s *PostgresStore) MarkCollaborationRemoved(ctx context.Context, noteID, userID, removedBy string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE collaborations
		SET removed=TRUE, removed_by=$3, removed_at=NOW()
		WHERE note_id=$1 AND user_id=$2 AND removed=FALSE
	`, noteID, userID, removedBy)
	if err != nil {
		return false, fmt.Errorf("mark collaboration removed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark collaboration removed rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListCollaborations(ctx context.Context, noteID string) ([]Collaboration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.note_id, c.user_id, c.added_at, c.removed, COALESCE(c.removed_by, ''), c.removed_at, u.email, u.display_name
		FROM collaborations c
		JOIN users u ON u.id = c.user_id
		WHERE c.note_id=$1
		ORDER BY c.added_at ASC, c.id ASC
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("list collaborations: %w", err)
	}
	defer rows.Close()

	items := make([]Collaboration, 0)
	for rows.Next() {
		var item Collaboration
		if err := rows.Scan(
			&item.ID,
			&item.NoteID,
			&item.UserID,
			&item.AddedAt,
			&item.Removed,
			&item.RemovedBy,
			&item.RemovedAt,
			&item.UserEmail,
			&item.UserName,
		); err != nil {
			return nil, fmt.Errorf("scan collaboration: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborations: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(encoded), nil
}
