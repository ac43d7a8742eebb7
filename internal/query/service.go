package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// QueryService provides read-only access to the projection tables. All
// responses carry as_of_sequence so callers can reason about freshness:
// the projections lag the engine by however far the projection worker is
// behind the watermark.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetTrove returns the projected state of a single trove, nil if the owner
// never opened one.
func (qs *QueryService) GetTrove(ctx context.Context, owner uuid.UUID) (*TroveResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var t TroveResponse
	var nicr sql.NullString
	err = qs.db.QueryRowContext(ctx, `
		SELECT owner, debt, coll, status, nicr, updated_seq
		FROM projections.troves
		WHERE owner = $1
	`, owner).Scan(&t.Owner, &t.Debt, &t.Coll, &t.Status, &nicr, &t.UpdatedSeq)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if nicr.Valid {
		t.NICR = nicr.String
	}
	t.AsOfSequence = asOfSeq
	return &t, nil
}

// ListTroves returns active troves ordered by owner, with cursor-based
// pagination: pass the last owner of the previous page as after.
func (qs *QueryService) ListTroves(ctx context.Context, limit int, after *uuid.UUID) ([]TroveResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT owner, debt, coll, status, nicr, updated_seq
		FROM projections.troves
		WHERE status = 'ACTIVE'
	`
	args := []interface{}{}
	argIdx := 1

	if after != nil {
		query += fmt.Sprintf(" AND owner > $%d", argIdx)
		args = append(args, *after)
		argIdx++
	}

	query += " ORDER BY owner"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var troves []TroveResponse
	for rows.Next() {
		var t TroveResponse
		var nicr sql.NullString
		if err := rows.Scan(&t.Owner, &t.Debt, &t.Coll, &t.Status, &nicr, &t.UpdatedSeq); err != nil {
			return nil, err
		}
		if nicr.Valid {
			t.NICR = nicr.String
		}
		t.AsOfSequence = asOfSeq
		troves = append(troves, t)
	}

	return troves, rows.Err()
}

// GetTroveHistory returns lifecycle operations for an owner, newest first,
// with cursor-based pagination on sequence.
func (qs *QueryService) GetTroveHistory(
	ctx context.Context,
	owner uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]TroveHistoryEntry, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, event_type, debt, coll, fee, status, timestamp
		FROM projections.trove_history
		WHERE owner = $1
	`
	args := []interface{}{owner}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []TroveHistoryEntry
	for rows.Next() {
		var h TroveHistoryEntry
		h.Owner = owner
		h.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&h.Sequence, &h.EventType, &h.Debt, &h.Coll, &h.Fee, &h.Status, &h.Timestamp,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetSystem aggregates totals over active troves. The live TCR comes from
// the engine's SystemStatus, not from here; this view is for dashboards
// reading the projections.
func (qs *QueryService) GetSystem(ctx context.Context) (*SystemResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var s SystemResponse
	err = qs.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(coll), 0)::TEXT, COALESCE(SUM(debt), 0)::TEXT
		FROM projections.troves
		WHERE status = 'ACTIVE'
	`).Scan(&s.TroveCount, &s.TotalColl, &s.TotalDebt)
	if err != nil {
		return nil, err
	}

	s.AsOfSequence = asOfSeq
	return &s, nil
}

// VerifyIntegrity checks hash chain continuity across the event log.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	if err := qs.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM event_log.events
	`).Scan(&report.EventCount); err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT sequence FROM projections.watermark WHERE name = 'troves'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	return seq, err
}
