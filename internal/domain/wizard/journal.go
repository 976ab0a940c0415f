package wizard

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Schema creates the lifecycle journal table. relayed_at, relay_attempts
// and last_error belong to the journal relay.
const Schema = `
CREATE TABLE IF NOT EXISTS wizard_events (
	id             BIGSERIAL PRIMARY KEY,
	event_id       UUID        NOT NULL UNIQUE,
	wizard_id      UUID        NOT NULL,
	flow           TEXT        NOT NULL,
	event_type     TEXT        NOT NULL,
	step           INT         NOT NULL,
	detail         TEXT        NOT NULL DEFAULT '',
	version        INT         NOT NULL,
	actor_id       INT         NOT NULL DEFAULT 0,
	occurred_at    TIMESTAMPTZ NOT NULL,
	relayed_at     TIMESTAMPTZ,
	relay_attempts INT         NOT NULL DEFAULT 0,
	last_error     TEXT
);
CREATE INDEX IF NOT EXISTS wizard_events_wizard_idx ON wizard_events (wizard_id, version);
CREATE INDEX IF NOT EXISTS wizard_events_unrelayed_idx ON wizard_events (occurred_at) WHERE relayed_at IS NULL;
`

// Journal appends wizard lifecycle events to PostgreSQL
type Journal struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewJournal creates a new journal
func NewJournal(pool *pgxpool.Pool, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{pool: pool, logger: logger}
}

// Migrate creates the journal table if needed
func (j *Journal) Migrate(ctx context.Context) error {
	if _, err := j.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate wizard_events: %w", err)
	}
	return nil
}

// Append persists events in one transaction
func (j *Journal) Append(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, event := range events {
		if err := j.insertEvent(ctx, tx, event); err != nil {
			return fmt.Errorf("insert %s: %w", event.EventType, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (j *Journal) insertEvent(ctx context.Context, tx pgx.Tx, event *Event) error {
	query := `
		INSERT INTO wizard_events
		(event_id, wizard_id, flow, event_type, step, detail, version, actor_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := tx.Exec(ctx, query,
		event.ID,
		event.WizardID,
		event.Flow,
		event.EventType,
		event.Step,
		event.Detail,
		event.Version,
		event.ActorID,
		event.Timestamp,
	)
	return err
}

// Events retrieves the lifecycle of one wizard
func (j *Journal) Events(ctx context.Context, wizardID string) ([]*Event, error) {
	query := `
		SELECT event_id, wizard_id, flow, event_type, step, detail, version, actor_id, occurred_at
		FROM wizard_events
		WHERE wizard_id = $1
		ORDER BY version ASC
	`
	rows, err := j.pool.Query(ctx, query, wizardID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsByType retrieves the most recent events of a type
func (j *Journal) EventsByType(ctx context.Context, eventType EventType, limit int) ([]*Event, error) {
	query := `
		SELECT event_id, wizard_id, flow, event_type, step, detail, version, actor_id, occurred_at
		FROM wizard_events
		WHERE event_type = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	rows, err := j.pool.Query(ctx, query, eventType, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]*Event, error) {
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		err := rows.Scan(
			&e.ID, &e.WizardID, &e.Flow, &e.EventType, &e.Step,
			&e.Detail, &e.Version, &e.ActorID, &e.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
