// Package postgres relays the wizard lifecycle journal from PostgreSQL to
// the event stream.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/maatrinet/go-intake/internal/domain/wizard"
)

// relayLockID keeps concurrent relays from interleaving batches.
const relayLockID = int64(0x6d61617472)

// RelayConfig holds configuration for the journal relay
type RelayConfig struct {
	Topic           string
	DeadLetterTopic string
	// BatchSize is the number of events to relay per poll
	BatchSize    int
	PollInterval time.Duration
	// MaxAttempts is the number of publish attempts before an event is
	// moved to the dead letter topic
	MaxAttempts int
}

// DefaultRelayConfig returns defaults for the relay
func DefaultRelayConfig(topic string) RelayConfig {
	return RelayConfig{
		Topic:           topic,
		DeadLetterTopic: topic + ".dead-letter",
		BatchSize:       100,
		PollInterval:    500 * time.Millisecond,
		MaxAttempts:     5,
	}
}

// Publisher sends one record to the stream
type Publisher interface {
	ProduceMessage(ctx context.Context, topic, key string, value []byte) error
}

// Recorder receives the outcome of each batch
type Recorder interface {
	ObserveRelay(relayed int, pending int64)
}

// Entry is an unrelayed journal row
type Entry struct {
	RowID     int64
	Event     wizard.Event
	Attempts  int
	LastError *string
}

// DeadLetter wraps an event that could not be published
type DeadLetter struct {
	OriginalTopic string       `json:"original_topic"`
	Event         wizard.Event `json:"event"`
	Attempts      int          `json:"attempts"`
	LastError     string       `json:"last_error,omitempty"`
}

// Relay publishes journal rows that have not been relayed yet
type Relay struct {
	pool      *pgxpool.Pool
	publisher Publisher
	recorder  Recorder
	config    RelayConfig
	logger    *zap.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRelay creates a relay. recorder may be nil.
func NewRelay(pool *pgxpool.Pool, publisher Publisher, recorder Recorder, cfg RelayConfig, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		pool:      pool,
		publisher: publisher,
		recorder:  recorder,
		config:    cfg,
		logger:    logger,
		tracer:    otel.Tracer("journal-relay"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start begins polling
func (r *Relay) Start() {
	go r.loop()
	r.logger.Info("journal relay started",
		zap.String("topic", r.config.Topic),
		zap.Int("batch_size", r.config.BatchSize),
		zap.Duration("poll_interval", r.config.PollInterval))
}

// Stop waits for the current batch to finish
func (r *Relay) Stop() {
	r.cancel()
	<-r.done
	r.logger.Info("journal relay stopped")
}

func (r *Relay) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RelayBatch(r.ctx); err != nil {
				r.logger.Error("relay batch failed", zap.Error(err))
			}
		}
	}
}

// RelayBatch publishes one batch and returns how many rows it settled.
// Rows are locked with SKIP LOCKED for the duration of the batch. A failed
// publish ends the batch.
func (r *Relay) RelayBatch(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "relay_batch")
	defer span.End()

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", relayLockID).Scan(&acquired); err != nil {
		return 0, fmt.Errorf("advisory lock: %w", err)
	}
	if !acquired {
		return 0, nil
	}
	defer conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", relayLockID)

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	entries, err := fetchUnrelayed(ctx, tx, r.config.BatchSize)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	settled := 0
	for _, e := range entries {
		ok, err := r.relayEntry(ctx, tx, e)
		if err != nil {
			span.RecordError(err)
			return settled, err
		}
		if !ok {
			// later events wait so each wizard's stream stays in order
			break
		}
		settled++
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	if r.recorder != nil {
		pending, err := r.Pending(ctx)
		if err != nil {
			r.logger.Warn("count pending events failed", zap.Error(err))
		} else {
			r.recorder.ObserveRelay(settled, pending)
		}
	}
	return settled, nil
}

func fetchUnrelayed(ctx context.Context, tx pgx.Tx, limit int) ([]*Entry, error) {
	query := `
		SELECT id, event_id, wizard_id, flow, event_type, step, detail, version,
		       actor_id, occurred_at, relay_attempts, last_error
		FROM wizard_events
		WHERE relayed_at IS NULL
		ORDER BY occurred_at ASC, version ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unrelayed: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		ev := &e.Event
		if err := rows.Scan(
			&e.RowID, &ev.ID, &ev.WizardID, &ev.Flow, &ev.EventType, &ev.Step,
			&ev.Detail, &ev.Version, &ev.ActorID, &ev.Timestamp, &e.Attempts, &e.LastError,
		); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// relayEntry publishes e, or its dead letter once attempts run out. It
// reports whether the row was settled.
func (r *Relay) relayEntry(ctx context.Context, tx pgx.Tx, e *Entry) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "relay_event",
		trace.WithAttributes(
			attribute.String("wizard_id", e.Event.WizardID),
			attribute.String("event_type", string(e.Event.EventType)),
		))
	defer span.End()

	topic, value, err := r.Message(e)
	if err != nil {
		return false, err
	}

	if err := r.publisher.ProduceMessage(ctx, topic, e.Event.WizardID, value); err != nil {
		span.RecordError(err)
		r.logger.Warn("publish wizard event failed",
			zap.Int64("row_id", e.RowID),
			zap.String("topic", topic),
			zap.Int("attempts", e.Attempts+1),
			zap.Error(err))
		_, uerr := tx.Exec(ctx,
			"UPDATE wizard_events SET relay_attempts = relay_attempts + 1, last_error = $1 WHERE id = $2",
			err.Error(), e.RowID)
		if uerr != nil {
			return false, fmt.Errorf("record attempt: %w", uerr)
		}
		return false, nil
	}

	if _, err := tx.Exec(ctx, "UPDATE wizard_events SET relayed_at = NOW() WHERE id = $1", e.RowID); err != nil {
		return false, fmt.Errorf("mark relayed: %w", err)
	}
	if topic == r.config.DeadLetterTopic {
		r.logger.Warn("wizard event dead-lettered",
			zap.Int64("row_id", e.RowID),
			zap.String("wizard_id", e.Event.WizardID),
			zap.Int("attempts", e.Attempts))
	}
	return true, nil
}

// Message returns the topic and value an entry is published as.
func (r *Relay) Message(e *Entry) (string, []byte, error) {
	if r.config.MaxAttempts > 0 && e.Attempts >= r.config.MaxAttempts {
		dl := DeadLetter{
			OriginalTopic: r.config.Topic,
			Event:         e.Event,
			Attempts:      e.Attempts,
		}
		if e.LastError != nil {
			dl.LastError = *e.LastError
		}
		value, err := json.Marshal(dl)
		if err != nil {
			return "", nil, fmt.Errorf("marshal dead letter: %w", err)
		}
		return r.config.DeadLetterTopic, value, nil
	}

	value, err := json.Marshal(e.Event)
	if err != nil {
		return "", nil, fmt.Errorf("marshal event: %w", err)
	}
	return r.config.Topic, value, nil
}

// Pending counts events waiting to be relayed
func (r *Relay) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM wizard_events WHERE relayed_at IS NULL").Scan(&n)
	return n, err
}

// Cleanup removes relayed events older than retention
func (r *Relay) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		"DELETE FROM wizard_events WHERE relayed_at IS NOT NULL AND relayed_at < NOW() - make_interval(secs => $1)",
		retention.Seconds())
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}
