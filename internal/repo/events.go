package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// DomainEventRepo appends emitted events to the durable event log.
type DomainEventRepo struct {
	DB Querier
}

// InsertDomainEventParams captures a single event append.
type InsertDomainEventParams struct {
	Topic       string
	AggregateID pgtype.UUID
	Payload     []byte
}

const insertDomainEventSQL = `
INSERT INTO domain_events (topic, aggregate_id, payload)
VALUES ($1, $2, $3)
RETURNING id, topic, aggregate_id, payload, occurred_at`

// Insert appends the event and returns the stored row.
func (r DomainEventRepo) Insert(ctx context.Context, arg InsertDomainEventParams) (DomainEvent, error) {
	row := r.DB.QueryRow(ctx, insertDomainEventSQL, arg.Topic, arg.AggregateID, arg.Payload)
	var ev DomainEvent
	err := row.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	return ev, err
}
