package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/promptdeck/promptdeck/internal/domain"
	"github.com/promptdeck/promptdeck/internal/domain/prompt"
)

// CreatePromptVersion inserts a new version with the next contiguous version
// number for the prompt. If the identical content is already versioned for
// this prompt, the existing row is returned with created=false. The first
// version of a prompt is inserted already active.
//
// Version numbering and bootstrap activation are computed in the INSERT
// itself; a concurrent insert that takes the same number trips the unique
// constraint and the loop re-reads and retries.
func (s *Store) CreatePromptVersion(ctx context.Context, req prompt.CreateRequest) (*prompt.Version, bool, error) {
	hash := prompt.HashContent(req.Content)

	for range 3 {
		existing, err := s.getVersionByHash(ctx, req.PromptName, hash)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, err
		}

		row := s.pool.QueryRow(ctx,
			`INSERT INTO prompt_versions (prompt_name, version, content, content_hash, author, change_summary, is_active)
			 SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4, $5, COALESCE(MAX(version), 0) = 0
			 FROM prompt_versions WHERE prompt_name = $1
			 RETURNING id, prompt_name, version, content, content_hash, author, change_summary, is_active, created_at`,
			req.PromptName, req.Content, hash, req.Author, req.ChangeSummary)

		v, err := scanVersion(row)
		if err == nil {
			return &v, true, nil
		}
		if isUniqueViolation(err, "") {
			continue
		}
		return nil, false, fmt.Errorf("create prompt version %s: %w", req.PromptName, err)
	}

	return nil, false, fmt.Errorf("create prompt version %s: too many concurrent writers: %w", req.PromptName, domain.ErrConflict)
}

func (s *Store) getVersionByHash(ctx context.Context, promptName, hash string) (*prompt.Version, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, prompt_name, version, content, content_hash, author, change_summary, is_active, created_at
		 FROM prompt_versions WHERE prompt_name = $1 AND content_hash = $2`, promptName, hash)

	v, err := scanVersion(row)
	if err != nil {
		return nil, notFoundWrap(err, "get version by hash for %s", promptName)
	}
	return &v, nil
}

// GetActiveVersion returns the currently active version of a prompt.
func (s *Store) GetActiveVersion(ctx context.Context, promptName string) (*prompt.Version, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, prompt_name, version, content, content_hash, author, change_summary, is_active, created_at
		 FROM prompt_versions WHERE prompt_name = $1 AND is_active`, promptName)

	v, err := scanVersion(row)
	if err != nil {
		return nil, notFoundWrap(err, "get active version of %s", promptName)
	}
	return &v, nil
}

// GetVersionByNumber returns a specific version of a prompt.
func (s *Store) GetVersionByNumber(ctx context.Context, promptName string, version int) (*prompt.Version, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, prompt_name, version, content, content_hash, author, change_summary, is_active, created_at
		 FROM prompt_versions WHERE prompt_name = $1 AND version = $2`, promptName, version)

	v, err := scanVersion(row)
	if err != nil {
		return nil, notFoundWrap(err, "get version %s v%d", promptName, version)
	}
	return &v, nil
}

// GetVersionByID returns a version by its row ID.
func (s *Store) GetVersionByID(ctx context.Context, id string) (*prompt.Version, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, prompt_name, version, content, content_hash, author, change_summary, is_active, created_at
		 FROM prompt_versions WHERE id = $1`, id)

	v, err := scanVersion(row)
	if err != nil {
		return nil, notFoundWrap(err, "get version %s", id)
	}
	return &v, nil
}

// ListVersions returns all versions of a prompt, newest first.
func (s *Store) ListVersions(ctx context.Context, promptName string) ([]prompt.Version, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, prompt_name, version, content, content_hash, author, change_summary, is_active, created_at
		 FROM prompt_versions WHERE prompt_name = $1 ORDER BY version DESC`, promptName)
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", promptName, err)
	}
	defer rows.Close()

	var versions []prompt.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// ListPromptNames returns the distinct prompt names with at least one version.
func (s *Store) ListPromptNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT prompt_name FROM prompt_versions ORDER BY prompt_name`)
	if err != nil {
		return nil, fmt.Errorf("list prompt names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan prompt name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// SetActiveVersion deactivates every version of the prompt and activates the
// target, in one transaction. Either both writes land or neither does, so a
// prompt can never end up with zero or two active versions.
func (s *Store) SetActiveVersion(ctx context.Context, promptName string, version int) (*prompt.Version, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx,
		`UPDATE prompt_versions SET is_active = FALSE WHERE prompt_name = $1 AND is_active`, promptName); err != nil {
		return nil, fmt.Errorf("deactivate versions of %s: %w", promptName, err)
	}

	row := tx.QueryRow(ctx,
		`UPDATE prompt_versions SET is_active = TRUE WHERE prompt_name = $1 AND version = $2
		 RETURNING id, prompt_name, version, content, content_hash, author, change_summary, is_active, created_at`,
		promptName, version)

	v, err := scanVersion(row)
	if err != nil {
		return nil, notFoundWrap(err, "set active version %s v%d", promptName, version)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit set active: %w", err)
	}
	return &v, nil
}

func scanVersion(row scannable) (prompt.Version, error) {
	var v prompt.Version
	err := row.Scan(&v.ID, &v.PromptName, &v.Version, &v.Content, &v.ContentHash,
		&v.Author, &v.ChangeSummary, &v.IsActive, &v.CreatedAt)
	return v, err
}
