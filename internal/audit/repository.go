package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
)

// Sink receives audit entries after the audited change has committed.
type Sink interface {
	Record(ctx context.Context, actorID, action, entityType, entityID string, details map[string]any) error
}

// Reader lists the trail recorded for one entity, oldest first.
type Reader interface {
	ListForEntity(ctx context.Context, entityType, entityID string) ([]Entry, error)
}

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Record(ctx context.Context, actorID, action, entityType, entityID string, details map[string]any) error {
	payload := types.JSONText("{}")
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		payload = b
	}

	var actor *string
	if actorID != "" {
		actor = &actorID
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (actor_id, action, entity_type, entity_id, details)
		VALUES ($1, $2, $3, $4, $5)`,
		actor, action, entityType, entityID, payload,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (r *Repository) ListForEntity(ctx context.Context, entityType, entityID string) ([]Entry, error) {
	entries := []Entry{}
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, actor_id, action, entity_type, entity_id, details, created_at
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at ASC, id ASC`,
		entityType, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit logs for %s %s: %w", entityType, entityID, err)
	}
	return entries, nil
}
