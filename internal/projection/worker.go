package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"TroveLedger/internal/core"
	"TroveLedger/internal/observability"
)

// ProjectionWorker updates the read-model tables from engine outputs.
// The projection channel is non-blocking with drop on the engine side: if
// this worker falls behind, projections lag and catch up via rebuild.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop. Failed updates are logged and
// skipped; projections are eventually consistent and rebuildable.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if err := pw.Apply(ctx, output); err != nil {
				pw.logger.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).
					Msg("projection update failed")
			}
		}
	}
}

// Apply projects a single engine output into the troves and history tables
// and advances the watermark, all in one transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, output core.CoreOutput) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	env := output.Envelope
	if output.Result != nil {
		if err := pw.upsertTrove(ctx, tx, output); err != nil {
			return fmt.Errorf("trove upsert: %w", err)
		}
		if err := pw.insertHistory(ctx, tx, output); err != nil {
			return fmt.Errorf("history insert: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.watermark SET sequence = $1 WHERE name = 'troves'
	`, env.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("troves").Observe(time.Since(start).Seconds())
		pw.metrics.ProjectionSequence.Set(float64(env.Sequence))
	}
	return nil
}

func (pw *ProjectionWorker) upsertTrove(ctx context.Context, tx *sql.Tx, output core.CoreOutput) error {
	res := output.Result
	env := output.Envelope

	var nicr interface{}
	if res.Status.Closed() {
		nicr = nil
	} else {
		nicr = res.NICR.Dec()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.troves (owner, debt, coll, status, nicr, updated_seq, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner) DO UPDATE SET
			debt = $2, coll = $3, status = $4, nicr = $5, updated_seq = $6, updated_at = $7
	`, res.Owner, res.Debt.Dec(), res.Coll.Dec(), res.Status.String(),
		nicr, env.Sequence, env.Timestamp)
	return err
}

func (pw *ProjectionWorker) insertHistory(ctx context.Context, tx *sql.Tx, output core.CoreOutput) error {
	res := output.Result
	env := output.Envelope

	// Replays hit the unique sequence index and are dropped.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.trove_history (sequence, owner, event_type, debt, coll, fee, status, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sequence) DO NOTHING
	`, env.Sequence, res.Owner, env.EventType.String(),
		res.Debt.Dec(), res.Coll.Dec(), res.Fee.Dec(), res.Status.String(), env.Timestamp)
	return err
}

// Watermark returns the highest sequence the projections reflect, -1 if
// nothing has been projected.
func Watermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT sequence FROM projections.watermark WHERE name = 'troves'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	return seq, err
}

// Reset truncates the projection tables and rewinds the watermark. A
// rebuild then replays the event log through a fresh engine whose
// projection channel feeds a worker.
func Reset(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`TRUNCATE projections.troves`,
		`TRUNCATE projections.trove_history`,
		`UPDATE projections.watermark SET sequence = -1 WHERE name = 'troves'`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("projection reset: %w", err)
		}
	}
	return nil
}
