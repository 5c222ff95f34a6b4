// Package store persists templates and remembered user corrections.
// Templates live in Postgres as raw JSON so unknown keys survive a round
// trip; corrections live in Redis keyed by template so future sessions can
// replay them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/template-mapper/internal/schema"
)

// ErrNotFound is returned when a template GUID has no stored row.
var ErrNotFound = errors.New("store: template not found")

// TemplateRecord is one stored template with its metadata.
type TemplateRecord struct {
	GUID      string    `json:"template_guid"`
	Name      string    `json:"template_name"`
	Raw       []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TemplateStore implements template persistence against PostgreSQL.
type TemplateStore struct{ db *sql.DB }

func NewTemplateStore(db *sql.DB) *TemplateStore { return &TemplateStore{db: db} }

// Save validates and upserts a template. A template without a GUID is
// assigned one; the (possibly updated) raw document is returned.
func (s *TemplateStore) Save(ctx context.Context, raw []byte) (*TemplateRecord, error) {
	tmpl, err := schema.Validate(raw)
	if err != nil {
		return nil, err
	}

	if tmpl.GUID == "" {
		tmpl.GUID = uuid.NewString()
		raw, err = withGUID(raw, tmpl.GUID)
		if err != nil {
			return nil, err
		}
	}

	rec := &TemplateRecord{GUID: tmpl.GUID, Name: tmpl.Name, Raw: raw}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO mapping_templates (guid, name, document, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (guid) DO UPDATE
		SET name = EXCLUDED.name, document = EXCLUDED.document, updated_at = NOW()
		RETURNING created_at, updated_at
	`, rec.GUID, rec.Name, rec.Raw).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}
	return rec, nil
}

// Get returns the stored template document for guid.
func (s *TemplateStore) Get(ctx context.Context, guid string) (*TemplateRecord, error) {
	rec := &TemplateRecord{}
	err := s.db.QueryRowContext(ctx, `
		SELECT guid, name, document, created_at, updated_at
		FROM mapping_templates
		WHERE guid = $1
	`, guid).Scan(&rec.GUID, &rec.Name, &rec.Raw, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return rec, nil
}

// List returns template metadata (no documents), newest first.
func (s *TemplateStore) List(ctx context.Context, limit int) ([]TemplateRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT guid, name, created_at, updated_at
		FROM mapping_templates
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []TemplateRecord
	for rows.Next() {
		var rec TemplateRecord
		if err := rows.Scan(&rec.GUID, &rec.Name, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list templates: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes a template. Deleting an absent GUID returns ErrNotFound.
func (s *TemplateStore) Delete(ctx context.Context, guid string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mapping_templates WHERE guid = $1`, guid)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func withGUID(raw []byte, guid string) ([]byte, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, err
	}
	g, err := json.Marshal(guid)
	if err != nil {
		return nil, err
	}
	top["template_guid"] = g
	return json.Marshal(top)
}
