package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	// batchSize is the maximum number of alerts to batch before flushing
	batchSize = 50
	// flushInterval is how often to flush alerts to the database
	flushInterval = 5 * time.Second

	insertHistorySQL = `
		INSERT INTO alert_history (
			time,
			alert_id,
			definition_id,
			symbol,
			kind,
			message
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		ON CONFLICT (alert_id, time) DO NOTHING
	`
)

// AlertPersister appends triggered alerts to the alert_history audit log in batches
type AlertPersister struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
	queue  []TriggeredAlert
	mu     sync.Mutex
	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewAlertPersister creates a persister and starts its background flusher
func NewAlertPersister(db *pgxpool.Pool, logger zerolog.Logger) *AlertPersister {
	p := &AlertPersister{
		db:     db,
		logger: logger.With().Str("component", "alert-persister").Logger(),
		queue:  make([]TriggeredAlert, 0, batchSize),
		ticker: time.NewTicker(flushInterval),
		done:   make(chan struct{}),
	}

	p.wg.Add(1)
	go p.flusher()

	return p
}

// SaveAlerts queues alerts for the next flush
func (p *AlertPersister) SaveAlerts(alerts ...TriggeredAlert) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.queue = append(p.queue, alerts...)
	if len(p.queue) >= batchSize {
		p.flushLocked()
	}
}

func (p *AlertPersister) flusher() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ticker.C:
			p.mu.Lock()
			p.flushLocked()
			p.mu.Unlock()

		case <-p.done:
			p.mu.Lock()
			p.flushLocked()
			p.mu.Unlock()
			return
		}
	}
}

// flushLocked writes the queued alerts (must hold mutex)
func (p *AlertPersister) flushLocked() {
	if len(p.queue) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pending := make([]TriggeredAlert, len(p.queue))
	copy(pending, p.queue)
	p.queue = p.queue[:0]

	if err := p.writeAlerts(ctx, pending); err != nil {
		p.logger.Error().Err(err).Int("count", len(pending)).Msg("Failed to persist alerts")
		return
	}

	p.logger.Debug().Int("count", len(pending)).Msg("Persisted alerts to database")
}

// writeAlerts sends one batch inside a transaction
func (p *AlertPersister) writeAlerts(ctx context.Context, alerts []TriggeredAlert) error {
	batch := &pgx.Batch{}
	for _, a := range alerts {
		batch.Queue(insertHistorySQL, a.OccurredAt, a.ID, a.DefinitionID, a.Symbol, string(a.Kind), a.Message)
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Close stops the persister and flushes remaining alerts
func (p *AlertPersister) Close() error {
	close(p.done)
	p.ticker.Stop()
	p.wg.Wait()
	return nil
}

// HistoryReader queries the alert_history audit log
type HistoryReader struct {
	db *pgxpool.Pool
}

// NewHistoryReader creates a reader over db
func NewHistoryReader(db *pgxpool.Pool) *HistoryReader {
	return &HistoryReader{db: db}
}

// Recent returns up to limit alerts, newest first. An empty symbol matches all.
func (r *HistoryReader) Recent(ctx context.Context, symbol string, limit int) ([]TriggeredAlert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.db.Query(ctx, `
		SELECT alert_id, definition_id, symbol, kind, message, time
		FROM alert_history
		WHERE $1 = '' OR symbol = $1
		ORDER BY time DESC
		LIMIT $2
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query alert history: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TriggeredAlert, error) {
		var a TriggeredAlert
		var kind string
		err := row.Scan(&a.ID, &a.DefinitionID, &a.Symbol, &kind, &a.Message, &a.OccurredAt)
		a.Kind = ConditionKind(kind)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan alert history: %w", err)
	}

	return out, nil
}
