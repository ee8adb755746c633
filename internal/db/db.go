package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ipcmanview/core-go/internal/sqlcgen"
)

// ErrClaimConflict means another dispatcher activated a scan for the same
// camera first. The caller may try to claim again.
var ErrClaimConflict = errors.New("camera already has an active scan")

// Pool wraps the connection pool. Queries run outside a transaction through
// the embedded *sqlcgen.Queries.
type Pool struct {
	*sqlcgen.Queries
	pool *pgxpool.Pool
}

func Open(ctx context.Context, databaseURL string) (*Pool, error) {
	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Verify connectivity early.
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}

	return &Pool{Queries: sqlcgen.New(p), pool: p}, nil
}

func (p *Pool) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return nil
	}
	return p.pool.Ping(ctx)
}

// InTx runs fn inside a transaction and commits when fn returns nil.
func (p *Pool) InTx(ctx context.Context, fn func(q *sqlcgen.Queries) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(p.Queries.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ScanPlanner resolves the time range covered by a claimed pending scan.
type ScanPlanner func(c sqlcgen.ClaimCandidate) (start, end time.Time)

// ClaimNextScan moves the next eligible scan into active_scans.
//
// Pending scans are preferred; otherwise a completed scan flagged for retry
// is reactivated with its original range. pgx.ErrNoRows means nothing is
// eligible.
func (p *Pool) ClaimNextScan(ctx context.Context, now time.Time, plan ScanPlanner) (sqlcgen.ActiveScan, error) {
	var active sqlcgen.ActiveScan
	err := p.InTx(ctx, func(q *sqlcgen.Queries) error {
		arg, err := nextScan(ctx, q, now, plan)
		if err != nil {
			return err
		}
		active, err = q.InsertActiveScan(ctx, arg)
		return err
	})
	if isUniqueViolation(err) {
		return sqlcgen.ActiveScan{}, ErrClaimConflict
	}
	return active, err
}

func nextScan(ctx context.Context, q *sqlcgen.Queries, now time.Time, plan ScanPlanner) (sqlcgen.InsertActiveScanParams, error) {
	pending, err := q.SelectNextPendingScan(ctx)
	if err == nil {
		if err := q.DeletePendingScan(ctx, pending.ID); err != nil {
			return sqlcgen.InsertActiveScanParams{}, fmt.Errorf("delete pending scan: %w", err)
		}
		start, end := plan(pending)
		return sqlcgen.InsertActiveScanParams{
			CameraID:   pending.CameraID,
			Kind:       pending.Kind,
			RangeStart: start,
			RangeEnd:   end,
			StartedAt:  now,
		}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return sqlcgen.InsertActiveScanParams{}, fmt.Errorf("select pending scan: %w", err)
	}

	retry, err := q.SelectRetryPendingScan(ctx)
	if err != nil {
		return sqlcgen.InsertActiveScanParams{}, err
	}
	if err := q.ResetCompletedScanRetry(ctx, retry.ID); err != nil {
		return sqlcgen.InsertActiveScanParams{}, fmt.Errorf("reset retry flags: %w", err)
	}
	return sqlcgen.InsertActiveScanParams{
		CameraID:   retry.CameraID,
		Kind:       retry.Kind,
		RangeStart: retry.RangeStart,
		RangeEnd:   retry.RangeEnd,
		StartedAt:  now,
	}, nil
}

type EndScanParams struct {
	CameraID int64
	// Record copies the active scan into completed_scans.
	Record     bool
	DurationMs int64
	Success    bool
	Error      *string
	CanRetry   bool
	// AdvanceCursor, when set, moves the camera scan cursor forward to it.
	AdvanceCursor *time.Time
}

// EndScan retires a camera's active scan in one transaction.
func (p *Pool) EndScan(ctx context.Context, arg EndScanParams) error {
	return p.InTx(ctx, func(q *sqlcgen.Queries) error {
		if arg.Record {
			if _, err := q.InsertCompletedScan(ctx, sqlcgen.InsertCompletedScanParams{
				CameraID:   arg.CameraID,
				DurationMs: arg.DurationMs,
				Success:    arg.Success,
				Error:      arg.Error,
				CanRetry:   arg.CanRetry,
			}); err != nil {
				return fmt.Errorf("insert completed scan: %w", err)
			}
		}
		if err := q.DeleteActiveScan(ctx, arg.CameraID); err != nil {
			return fmt.Errorf("delete active scan: %w", err)
		}
		if arg.AdvanceCursor != nil {
			if _, err := q.AdvanceCameraScanCursor(ctx, sqlcgen.AdvanceCameraScanCursorParams{
				ID:         arg.CameraID,
				ScanCursor: *arg.AdvanceCursor,
			}); err != nil {
				return fmt.Errorf("advance scan cursor: %w", err)
			}
		}
		return nil
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
