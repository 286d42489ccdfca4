package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

var ErrNotFound = errors.New("not found")

// EnsureUser creates the user row if it does not exist. The returned flag
// is informational; calling it for an existing user is not an error.
func (s *Store) EnsureUser(ctx context.Context, userID int64) (created bool, err error) {
	q := s.sql.Insert("users").
		Columns("user_id").
		Values(userID).
		Suffix("ON CONFLICT(user_id) DO NOTHING")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build ensure user query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("ensure user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil
	}
	return n > 0, nil
}

// SaveToken seals the plaintext token and upserts it. A user holds at most
// one token; saving replaces any previous ciphertext.
func (s *Store) SaveToken(ctx context.Context, userID int64, token string) error {
	enc, err := s.crypto.SealString(token)
	if err != nil {
		return fmt.Errorf("seal token: %w", err)
	}

	q := s.sql.Insert("users").
		Columns("user_id", "enc_github_token").
		Values(userID, enc).
		Suffix("ON CONFLICT(user_id) DO UPDATE SET enc_github_token=excluded.enc_github_token, updated_at=" + nowSQL(s.driver))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build save token query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// GetToken loads and opens the stored token. ErrNotFound means the user has
// no token; any other error is either a transport failure or a ciphertext
// integrity failure and must not be treated as absence.
func (s *Store) GetToken(ctx context.Context, userID int64) (string, error) {
	q := s.sql.Select("enc_github_token").From("users").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build get token query: %w", err)
	}

	var enc sql.NullString
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&enc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get token: %w", err)
	}
	if !enc.Valid || strings.TrimSpace(enc.String) == "" {
		return "", ErrNotFound
	}

	token, err := s.crypto.OpenString(enc.String)
	if err != nil {
		return "", fmt.Errorf("open stored token for user %d: %w", userID, err)
	}
	return token, nil
}

// SetCursor writes the navigation cursor. Repository and path change in a
// single statement so a concurrent reader can never observe the new
// repository with a stale path.
func (s *Store) SetCursor(ctx context.Context, userID int64, repo, path string) error {
	q := s.sql.Insert("users").
		Columns("user_id", "current_repo", "current_path").
		Values(userID, repo, path).
		Suffix("ON CONFLICT(user_id) DO UPDATE SET current_repo=excluded.current_repo, current_path=excluded.current_path, updated_at=" + nowSQL(s.driver))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build set cursor query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

// GetCursor returns the current repository (nil when none was ever opened)
// and path (empty means repository root).
func (s *Store) GetCursor(ctx context.Context, userID int64) (repo *string, path string, err error) {
	q := s.sql.Select("current_repo", "current_path").From("users").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, "", fmt.Errorf("build get cursor query: %w", err)
	}

	var r sql.NullString
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&r, &path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("get cursor: %w", err)
	}
	if r.Valid && r.String != "" {
		repo = &r.String
	}
	return repo, path, nil
}

// LogAction appends one immutable history row, creating the user row first
// if needed. Callers treat this as a best-effort side channel.
func (s *Store) LogAction(ctx context.Context, userID int64, actionType string, repoName, filePath *string) error {
	if _, err := s.EnsureUser(ctx, userID); err != nil {
		return err
	}

	q := s.sql.Insert("action_history").
		Columns("user_id", "action_type", "repo_name", "file_path").
		Values(userID, actionType, repoName, filePath)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build action insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert action entry: %w", err)
	}
	return nil
}

func (s *Store) GetStats(ctx context.Context, userID int64) (Stats, error) {
	stats := Stats{ByType: map[string]int64{}}

	countQ := s.sql.Select("COUNT(*)").From("action_history").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := countQ.ToSql()
	if err != nil {
		return Stats{}, fmt.Errorf("build total count query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&stats.TotalActions); err != nil {
		return Stats{}, fmt.Errorf("count actions: %w", err)
	}

	byTypeQ := s.sql.Select("action_type", "COUNT(*)").
		From("action_history").
		Where(sq.Eq{"user_id": userID}).
		GroupBy("action_type")
	sqlStr, args, err = byTypeQ.ToSql()
	if err != nil {
		return Stats{}, fmt.Errorf("build by-type query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return Stats{}, fmt.Errorf("count actions by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return Stats{}, fmt.Errorf("scan by-type row: %w", err)
		}
		stats.ByType[kind] = n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate by-type rows: %w", err)
	}

	recentQ := s.sql.Select("id", "user_id", "action_type", "repo_name", "file_path", "created_at").
		From("action_history").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(5)
	sqlStr, args, err = recentQ.ToSql()
	if err != nil {
		return Stats{}, fmt.Errorf("build recent actions query: %w", err)
	}
	recentRows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return Stats{}, fmt.Errorf("list recent actions: %w", err)
	}
	defer recentRows.Close()
	for recentRows.Next() {
		var e ActionEntry
		var repoName, filePath sql.NullString
		if err := recentRows.Scan(&e.ID, &e.UserID, &e.Type, &repoName, &filePath, &e.CreatedAt); err != nil {
			return Stats{}, fmt.Errorf("scan recent action row: %w", err)
		}
		if repoName.Valid {
			e.RepoName = &repoName.String
		}
		if filePath.Valid {
			e.FilePath = &filePath.String
		}
		stats.Recent = append(stats.Recent, e)
	}
	if err := recentRows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate recent action rows: %w", err)
	}

	return stats, nil
}

// DeleteUser removes the user's history rows and the user row in one
// transaction, so a partial erasure is never committed. Deleting a user
// that does not exist returns ErrNotFound.
func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete user tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	histQ := s.sql.Delete("action_history").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := histQ.ToSql()
	if err != nil {
		return fmt.Errorf("build delete history query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("delete action history: %w", err)
	}

	userQ := s.sql.Delete("users").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err = userQ.ToSql()
	if err != nil {
		return fmt.Errorf("build delete user query: %w", err)
	}
	res, err := tx.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete user tx: %w", err)
	}
	return nil
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	q := s.sql.Select("COUNT(*)").From("users")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count users query: %w", err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func nowSQL(driver string) string {
	if driver == "postgres" {
		return "NOW()"
	}
	return "CURRENT_TIMESTAMP"
}
