package templatestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of *pgxpool.Pool used by PGStore.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	getTemplateSQL    = `SELECT content FROM conversion_templates WHERE name = $1`
	listTemplatesSQL  = `SELECT name FROM conversion_templates ORDER BY name`
	upsertTemplateSQL = `INSERT INTO conversion_templates (name, content, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (name) DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()`
)

// PGStore keeps templates in the conversion_templates table created by the
// db package migrations.
type PGStore struct {
	db Querier
}

// NewPGStore returns a store backed by db.
func NewPGStore(db Querier) *PGStore {
	return &PGStore{db: db}
}

// Get loads the named template.
func (s *PGStore) Get(ctx context.Context, name string) (string, error) {
	var content string
	err := s.db.QueryRow(ctx, getTemplateSQL, name).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return "", fmt.Errorf("query template %s: %w", name, err)
	}
	return content, nil
}

// Put inserts or replaces a template.
func (s *PGStore) Put(ctx context.Context, name, content string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, upsertTemplateSQL, name, content); err != nil {
		return fmt.Errorf("store template %s: %w", name, err)
	}
	return nil
}

// List returns the stored template names in sorted order.
func (s *PGStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, listTemplatesSQL)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan template name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return names, nil
}
