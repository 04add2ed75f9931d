// Package audit writes the activity trail. Recording is best-effort:
// a failed audit write must never abort the business operation that
// produced it, so Record has no error return.
package audit

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type ActionKind string

const (
	ActionCreate  ActionKind = "CREATE"
	ActionUpdate  ActionKind = "UPDATE"
	ActionDelete  ActionKind = "DELETE"
	ActionSale    ActionKind = "SALE"
	ActionPayment ActionKind = "PAYMENT"
)

type Log interface {
	Record(ctx context.Context, actorID *uuid.UUID, action ActionKind, entity string, entityID uuid.UUID, description string)
}

type postgresLog struct {
	db *pgxpool.Pool
}

func NewPostgresLog(db *pgxpool.Pool) Log {
	return &postgresLog{db: db}
}

func (l *postgresLog) Record(ctx context.Context, actorID *uuid.UUID, action ActionKind, entity string, entityID uuid.UUID, description string) {
	id, err := uuid.NewV4()
	if err != nil {
		log.Warn().Err(err).Msg("audit: failed to generate entry ID, entry dropped")
		return
	}

	query := `
		INSERT INTO audit_log (id, actor_id, action, entity, entity_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = l.db.Exec(ctx, query, id, actorID, string(action), entity, entityID, description, time.Now().UTC())
	if err != nil {
		log.Warn().Err(err).
			Str("action", string(action)).
			Str("entity", entity).
			Stringer("entity_id", entityID).
			Msg("audit: failed to write entry, entry dropped")
	}
}

// Nop discards every entry. Used in tests and when auditing is disabled.
type Nop struct{}

func (Nop) Record(context.Context, *uuid.UUID, ActionKind, string, uuid.UUID, string) {}
