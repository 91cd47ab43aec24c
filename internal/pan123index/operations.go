package pan123index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tonimelisma/restic-pan123-backend/internal/pan123"
)

// Child returns the row named name under parentID, or (Node{}, false, nil)
// if absent.
func (s *Store) Child(ctx context.Context, parentID int64, name string) (Node, bool, error) {
	return scanOne(s.stmts.child.QueryRowContext(ctx, parentID, name))
}

// FindDirChild is Child filtered to is_dir = true.
func (s *Store) FindDirChild(ctx context.Context, parentID int64, name string) (Node, bool, error) {
	return scanOne(s.stmts.findDirChild.QueryRowContext(ctx, parentID, name))
}

// Children returns all rows under parentID, ordered by name.
func (s *Store) Children(ctx context.Context, parentID int64) ([]Node, error) {
	rows, err := s.stmts.children.QueryContext(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("querying children: %w", err)
	}
	defer rows.Close()

	return scanAll(rows)
}

// UpsertByPK inserts or updates n keyed on file_id. Used by mkdir, move,
// and warm-up insertion.
func (s *Store) UpsertByPK(ctx context.Context, n Node) error {
	_, err := s.stmts.upsertByPK.ExecContext(ctx,
		n.FileID, n.ParentID, n.Name, n.IsDir, n.Size, n.ETag, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting node by file_id: %w", err)
	}

	return nil
}

// UpsertByParentName inserts or updates keyed on (parent_id, name). Used
// after uploads, where an overwrite mints a new file_id for the same
// logical path and must replace rather than duplicate the row.
func (s *Store) UpsertByParentName(ctx context.Context, n Node) error {
	_, err := s.db.ExecContext(ctx, sqlUpsertByParentName,
		n.FileID, n.ParentID, n.Name, n.IsDir, n.Size, n.ETag, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting node by (parent_id, name): %w", err)
	}

	return nil
}

// DeleteByID removes the row for fileID.
func (s *Store) DeleteByID(ctx context.Context, fileID int64) error {
	_, err := s.stmts.deleteByID.ExecContext(ctx, fileID)
	if err != nil {
		return fmt.Errorf("deleting node: %w", err)
	}

	return nil
}

// UpdateParent bulk-reparents fileIDs to newParentID in a single statement,
// inside a transaction so the move is all-or-nothing from the index's
// perspective.
func (s *Store) UpdateParent(ctx context.Context, fileIDs []int64, newParentID int64) error {
	if len(fileIDs) == 0 {
		return nil
	}

	placeholders := make([]string, len(fileIDs))
	args := make([]any, 0, len(fileIDs)+1)
	args = append(args, newParentID)

	for i, id := range fileIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(
		"UPDATE file_nodes SET parent_id = ? WHERE file_id IN (%s)", strings.Join(placeholders, ","))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin move tx: %w", err)
	}

	if _, execErr := tx.ExecContext(ctx, query, args...); execErr != nil {
		_ = tx.Rollback()
		return fmt.Errorf("updating parent ids: %w", execErr)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit move tx: %w", err)
	}

	return nil
}

// BulkInsert inserts rows with do-nothing-on-conflict semantics, chunked to
// bulkInsertChunkSize rows per statement to stay under SQLite's bound
// parameter ceiling. Used by warm-up crawl and mkdir race reconciliation.
func (s *Store) BulkInsert(ctx context.Context, rows []Node) error {
	for start := 0; start < len(rows); start += bulkInsertChunkSize {
		end := min(start+bulkInsertChunkSize, len(rows))
		if err := s.insertChunk(ctx, rows[start:end]); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) insertChunk(ctx context.Context, chunk []Node) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk insert tx: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, sqlInsertIgnore)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("preparing bulk insert: %w", err)
	}
	defer stmt.Close()

	for _, n := range chunk {
		if _, execErr := stmt.ExecContext(ctx, n.FileID, n.ParentID, n.Name, n.IsDir, n.Size, n.ETag, n.UpdatedAt); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("inserting node %d: %w", n.FileID, execErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk insert tx: %w", err)
	}

	return nil
}

// Count returns the total number of rows. Warm-up uses this to decide
// between reuse and rebuild.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.stmts.count.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting nodes: %w", err)
	}

	return n, nil
}

// Truncate empties the table. Used at the start of a forced or first-time
// warm-up rebuild.
func (s *Store) Truncate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqlTruncate); err != nil {
		return fmt.Errorf("truncating file_nodes: %w", err)
	}

	return nil
}

// LoadToken implements pan123.TokenStore.
func (s *Store) LoadToken(ctx context.Context) (pan123.Token, error) {
	var (
		accessToken string
		expiresAt   time.Time
	)

	err := s.stmts.getToken.QueryRowContext(ctx).Scan(&accessToken, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return pan123.Token{}, nil
	}

	if err != nil {
		return pan123.Token{}, fmt.Errorf("loading token: %w", err)
	}

	return pan123.Token{AccessToken: accessToken, ExpiresAt: expiresAt}, nil
}

// SaveToken implements pan123.TokenStore.
func (s *Store) SaveToken(ctx context.Context, tok pan123.Token) error {
	_, err := s.stmts.saveToken.ExecContext(ctx, tok.AccessToken, tok.ExpiresAt)
	if err != nil {
		return fmt.Errorf("saving token: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(r rowScanner) (Node, error) {
	var n Node

	err := r.Scan(&n.FileID, &n.ParentID, &n.Name, &n.IsDir, &n.Size, &n.ETag, &n.UpdatedAt)

	return n, err
}

func scanOne(row *sql.Row) (Node, bool, error) {
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, false, nil
	}

	if err != nil {
		return Node{}, false, fmt.Errorf("scanning node: %w", err)
	}

	return n, true, nil
}

func scanAll(rows *sql.Rows) ([]Node, error) {
	var nodes []Node

	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node row: %w", err)
		}

		nodes = append(nodes, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating node rows: %w", err)
	}

	return nodes, nil
}
