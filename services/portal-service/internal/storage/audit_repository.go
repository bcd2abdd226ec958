package storage

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/smartcondo/condo-portal/libs/db"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/outbox"
)

//go:embed schema.sql
var schema string

type Action string

const (
	ActionReservationCreated   Action = "reservation.created"
	ActionReservationCancelled Action = "reservation.cancelled"
)

// AuditEntry is one reservation change made through the portal.
type AuditEntry struct {
	Action        Action
	ReservationID int64
	AreaID        int64
	Actor         string
	SessionFP     string
	RequestID     string
	Event         outbox.ReservationEvent
}

func (e AuditEntry) topic() string {
	if e.Action == ActionReservationCancelled {
		return outbox.TopicReservationCancelled
	}
	return outbox.TopicReservationCreated
}

type AuditRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAuditRepository(pool *db.Pool, ob *outbox.Repository) *AuditRepository {
	return &AuditRepository{pool: pool, outbox: ob}
}

// EnsureSchema creates the audit and outbox tables if they are missing.
func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Record writes the audit row and its outbox event atomically.
func (r *AuditRepository) Record(ctx context.Context, e AuditEntry) error {
	payload, err := e.Event.Marshal()
	if err != nil {
		return err
	}
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO portal_audit (action, reservation_id, area_id, actor, session_fp, request_id, detail)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, string(e.Action), e.ReservationID, e.AreaID, e.Actor, e.SessionFP, e.RequestID, payload); err != nil {
			return fmt.Errorf("insert audit: %w", err)
		}
		if err := r.outbox.Insert(ctx, tx, outbox.Event{
			EventID:       uuid.NewString(),
			AggregateType: "reservation",
			AggregateID:   fmt.Sprint(e.ReservationID),
			EventType:     e.topic(),
			Payload:       payload,
		}); err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}
		return nil
	})
}
