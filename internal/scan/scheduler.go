package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"ipcmanview/core-go/internal/dahuarpc"
	"ipcmanview/core-go/internal/db"
	"ipcmanview/core-go/internal/metrics"
	"ipcmanview/core-go/internal/sqlcgen"
)

var (
	ErrNotRetryable = errors.New("scan cannot be retried")
	ErrInvalidRange = errors.New("manual scan needs a range")
	ErrInvalidKind  = errors.New("scan kind cannot be queued for every camera")
)

// claimAttempts bounds how often a lost claim race is retried in one go.
const claimAttempts = 5

// Store is the persistence the scheduler needs.
//
// NOTE: *db.Pool satisfies this.
type Store interface {
	UpsertPendingScan(ctx context.Context, arg sqlcgen.UpsertPendingScanParams) (sqlcgen.PendingScan, error)
	QueuePendingScanForAll(ctx context.Context, arg sqlcgen.QueuePendingScanForAllParams) (int64, error)
	ClaimNextScan(ctx context.Context, now time.Time, plan db.ScanPlanner) (sqlcgen.ActiveScan, error)
	UpdateActiveScanProgress(ctx context.Context, arg sqlcgen.UpdateActiveScanProgressParams) error
	UpsertCameraFiles(ctx context.Context, args []sqlcgen.UpsertCameraFileParams) (int64, error)
	DeleteStaleCameraFiles(ctx context.Context, arg sqlcgen.DeleteStaleCameraFilesParams) (int64, error)
	EndScan(ctx context.Context, arg db.EndScanParams) error
	SetCompletedScanRetryPending(ctx context.Context, id int64) (int64, error)
	DeleteAllActiveScans(ctx context.Context) (int64, error)
}

// FileFinder enumerates files on a camera. *camera.Registry satisfies it.
type FileFinder interface {
	FindFiles(ctx context.Context, cameraID int64, cond dahuarpc.Condition, fn func([]dahuarpc.FindNextFileInfo) error) error
}

type Options struct {
	ChunkPeriod time.Duration
	// CursorMargin keeps the scan cursor this far behind now so windows the
	// camera may still write to are scanned again.
	CursorMargin      time.Duration
	KeepCursorHistory bool
	Now               func() time.Time
}

type Scheduler struct {
	log               zerolog.Logger
	store             Store
	files             FileFinder
	metrics           *metrics.Metrics
	chunkPeriod       time.Duration
	cursorMargin      time.Duration
	keepCursorHistory bool
	now               func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(log zerolog.Logger, store Store, files FileFinder, opts Options, m *metrics.Metrics) *Scheduler {
	chunk := opts.ChunkPeriod
	if chunk <= 0 {
		chunk = DefaultChunkPeriod
	}
	margin := opts.CursorMargin
	if margin < 0 {
		margin = 0
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:               log.With().Str("component", "scan_scheduler").Logger(),
		store:             store,
		files:             files,
		metrics:           m,
		chunkPeriod:       chunk,
		cursorMargin:      margin,
		keepCursorHistory: opts.KeepCursorHistory,
		now:               now,
		ctx:               ctx,
		cancel:            cancel,
	}
}

// Start clears active scans left by a previous process and dispatches
// whatever is still pending.
func (s *Scheduler) Start(ctx context.Context) error {
	n, err := s.store.DeleteAllActiveScans(ctx)
	if err != nil {
		return fmt.Errorf("clear active scans: %w", err)
	}
	if n > 0 {
		s.log.Warn().Int64("count", n).Msg("cleared abandoned active scans")
	}
	s.Dispatch()
	return nil
}

// Stop abandons in-flight runs and waits for their workers to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Queue replaces the camera's pending scan of the same kind and dispatches.
// Manual scans need a range.
func (s *Scheduler) Queue(ctx context.Context, cameraID int64, kind Kind, r *Range) error {
	arg := sqlcgen.UpsertPendingScanParams{CameraID: cameraID, Kind: string(kind)}
	if kind == KindManual {
		if r == nil {
			return ErrInvalidRange
		}
		arg.RangeStart, arg.RangeEnd = &r.Start, &r.End
	}
	if _, err := s.store.UpsertPendingScan(ctx, arg); err != nil {
		return fmt.Errorf("queue %s scan for camera %d: %w", kind, cameraID, err)
	}
	s.Dispatch()
	return nil
}

// QueueAll queues a full or cursor scan for every camera.
func (s *Scheduler) QueueAll(ctx context.Context, kind Kind) error {
	if kind == KindManual {
		return ErrInvalidKind
	}
	if _, err := s.store.QueuePendingScanForAll(ctx, sqlcgen.QueuePendingScanForAllParams{Kind: string(kind)}); err != nil {
		return fmt.Errorf("queue %s scan for all cameras: %w", kind, err)
	}
	s.Dispatch()
	return nil
}

// Retry flags a failed full or manual run for another attempt.
func (s *Scheduler) Retry(ctx context.Context, completedID int64) error {
	n, err := s.store.SetCompletedScanRetryPending(ctx, completedID)
	if err != nil {
		return fmt.Errorf("flag scan %d for retry: %w", completedID, err)
	}
	if n == 0 {
		return ErrNotRetryable
	}
	s.Dispatch()
	return nil
}

// Dispatch claims every eligible scan and starts a worker for each. Workers
// keep claiming after their run ends until nothing is left.
func (s *Scheduler) Dispatch() {
	for {
		active, ok := s.claim()
		if !ok {
			return
		}
		s.wg.Add(1)
		go s.work(active)
	}
}

func (s *Scheduler) work(active sqlcgen.ActiveScan) {
	defer s.wg.Done()
	for {
		s.execute(active)
		next, ok := s.claim()
		if !ok {
			return
		}
		active = next
	}
}

func (s *Scheduler) claim() (sqlcgen.ActiveScan, bool) {
	for range claimAttempts {
		if s.ctx.Err() != nil {
			return sqlcgen.ActiveScan{}, false
		}
		now := s.now()
		active, err := s.store.ClaimNextScan(s.ctx, now, s.planner(now))
		switch {
		case err == nil:
			s.log.Info().
				Int64("camera_id", active.CameraID).
				Str("kind", active.Kind).
				Time("range_start", active.RangeStart).
				Time("range_end", active.RangeEnd).
				Msg("scan run claimed")
			return active, true
		case errors.Is(err, db.ErrClaimConflict):
			continue
		case errors.Is(err, pgx.ErrNoRows):
			return sqlcgen.ActiveScan{}, false
		default:
			if s.ctx.Err() == nil {
				s.log.Error().Err(err).Msg("failed to claim scan")
			}
			return sqlcgen.ActiveScan{}, false
		}
	}
	return sqlcgen.ActiveScan{}, false
}

// planner resolves ranges at claim time so full and cursor scans always end
// at the moment they start.
func (s *Scheduler) planner(now time.Time) db.ScanPlanner {
	return func(c sqlcgen.ClaimCandidate) (time.Time, time.Time) {
		switch Kind(c.Kind) {
		case KindFull:
			return FullScanStart(), now
		case KindCursor:
			return c.ScanCursor, now
		default:
			if c.RangeStart == nil || c.RangeEnd == nil {
				return now, now
			}
			return *c.RangeStart, *c.RangeEnd
		}
	}
}

type runState struct {
	cursor   time.Time
	percent  float64
	upserted int64
	deleted  int64
}

func (s *Scheduler) execute(active sqlcgen.ActiveScan) {
	ctx := s.ctx
	log := s.log.With().Int64("camera_id", active.CameraID).Str("kind", active.Kind).Logger()
	kind := Kind(active.Kind)
	r := Range{Start: active.RangeStart, End: active.RangeEnd}
	state := runState{cursor: r.End}

	runErr := s.scanRange(ctx, active, r, &state, log)
	if runErr == nil {
		deleted, err := s.store.DeleteStaleCameraFiles(ctx, sqlcgen.DeleteStaleCameraFilesParams{
			CameraID:   active.CameraID,
			SeenBefore: active.StartedAt,
			RangeStart: r.Start,
			RangeEnd:   r.End,
		})
		if err != nil {
			runErr = fmt.Errorf("evict stale files: %w", err)
		} else {
			state.deleted = deleted
			s.saveProgress(ctx, active.CameraID, state, log)
		}
	}

	if ctx.Err() != nil {
		log.Warn().Msg("scan run abandoned")
		return
	}

	s.end(ctx, active, kind, state, runErr, log)
}

func (s *Scheduler) scanRange(ctx context.Context, active sqlcgen.ActiveScan, r Range, state *runState, log zerolog.Logger) error {
	for chunk, percent := range r.Chunks(s.chunkPeriod) {
		n, err := s.scanChunk(ctx, active.CameraID, chunk)
		state.upserted += n
		if err != nil {
			return fmt.Errorf("scan %s to %s: %w", chunk.Start.Format(time.RFC3339), chunk.End.Format(time.RFC3339), err)
		}
		state.cursor = chunk.Start
		state.percent = percent
		s.saveProgress(ctx, active.CameraID, *state, log)
	}
	return nil
}

func (s *Scheduler) saveProgress(ctx context.Context, cameraID int64, state runState, log zerolog.Logger) {
	if err := s.store.UpdateActiveScanProgress(ctx, sqlcgen.UpdateActiveScanProgressParams{
		CameraID:    cameraID,
		RangeCursor: state.cursor,
		Percent:     state.percent,
		Upserted:    state.upserted,
		Deleted:     state.deleted,
	}); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Msg("failed to save scan progress")
	}
}

// scanChunk enumerates videos then pictures in one window and upserts each
// page as it arrives.
func (s *Scheduler) scanChunk(ctx context.Context, cameraID int64, chunk Range) (int64, error) {
	cond := dahuarpc.NewCondition(chunk.Start, chunk.End)
	var total int64
	for _, q := range []struct {
		kind string
		cond dahuarpc.Condition
	}{
		{"video", cond.Video()},
		{"picture", cond.Picture()},
	} {
		err := s.files.FindFiles(ctx, cameraID, q.cond, func(infos []dahuarpc.FindNextFileInfo) error {
			n, err := s.store.UpsertCameraFiles(ctx, fileParams(cameraID, q.kind, s.now(), infos))
			total += n
			if err != nil {
				return fmt.Errorf("upsert files: %w", err)
			}
			return nil
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func fileParams(cameraID int64, kind string, seen time.Time, infos []dahuarpc.FindNextFileInfo) []sqlcgen.UpsertCameraFileParams {
	out := make([]sqlcgen.UpsertCameraFileParams, 0, len(infos))
	for _, info := range infos {
		start, end := info.UniqueTime()
		events := info.Events
		if events == nil {
			events = []string{}
		}
		out = append(out, sqlcgen.UpsertCameraFileParams{
			CameraID:  cameraID,
			FilePath:  info.FilePath,
			Kind:      kind,
			Size:      info.Length,
			StartTime: start,
			EndTime:   end,
			UpdatedAt: seen,
			Events:    events,
		})
	}
	return out
}

func (s *Scheduler) end(ctx context.Context, active sqlcgen.ActiveScan, kind Kind, state runState, runErr error, log zerolog.Logger) {
	now := s.now()
	duration := now.Sub(active.StartedAt)
	success := runErr == nil

	arg := db.EndScanParams{
		CameraID:   active.CameraID,
		Record:     kind != KindCursor || s.keepCursorHistory,
		DurationMs: duration.Milliseconds(),
		Success:    success,
		CanRetry:   !success && kind.Retryable(),
	}
	if runErr != nil {
		msg := runErr.Error()
		arg.Error = &msg
	}
	if success && kind.AdvancesCursor() {
		cursor := active.RangeEnd
		if limit := now.Add(-s.cursorMargin); limit.Before(cursor) {
			cursor = limit
		}
		arg.AdvanceCursor = &cursor
	}

	if err := s.store.EndScan(ctx, arg); err != nil {
		log.Error().Err(err).Msg("failed to end scan run")
	}

	s.metrics.ObserveScanRun(string(kind), success, duration)
	s.metrics.AddScanFiles(state.upserted, state.deleted)

	ev := log.Info()
	if runErr != nil {
		ev = log.Warn().Err(runErr)
	}
	ev.Int64("upserted", state.upserted).
		Int64("deleted", state.deleted).
		Float64("percent", state.percent).
		Dur("duration", duration).
		Msg("scan run finished")
}
