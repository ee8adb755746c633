package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"ipcmanview/core-go/internal/sqlcgen"
)

func requireTestDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}
	return dsn
}

// openTestPool creates a throwaway database, migrates it and returns a pool.
func openTestPool(t *testing.T, ctx context.Context) *Pool {
	t.Helper()
	adminURL := requireTestDatabaseURL(t)

	u, err := url.Parse(adminURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		t.Skipf("TEST_DATABASE_URL must be a URL-style DSN (e.g. postgres://...); got %q", adminURL)
	}
	dbName := fmt.Sprintf("ipcmanview_test_%d", time.Now().UnixNano())
	u.Path = "/" + dbName

	admin, err := pgx.Connect(ctx, adminURL)
	if err != nil {
		t.Fatalf("connect admin: %v", err)
	}
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+dbName); err != nil {
		_ = admin.Close(ctx)
		t.Fatalf("create database: %v", err)
	}
	_ = admin.Close(ctx)
	t.Cleanup(func() {
		ctx := context.Background()
		admin, err := pgx.Connect(ctx, adminURL)
		if err != nil {
			return
		}
		defer admin.Close(ctx)
		_, _ = admin.Exec(ctx, "DROP DATABASE "+dbName+" WITH (FORCE)")
	})

	pool, err := Open(ctx, u.String())
	if err != nil {
		t.Fatalf("open db pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Migrate(ctx, zerolog.Nop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Running again is a no-op.
	if err := pool.Migrate(ctx, zerolog.Nop()); err != nil {
		t.Fatalf("migrate twice: %v", err)
	}
	return pool
}

func mustCreateCamera(t *testing.T, ctx context.Context, pool *Pool, ip string) sqlcgen.Camera {
	t.Helper()
	cam, err := pool.CreateCamera(ctx, sqlcgen.CreateCameraParams{IP: ip, Username: "admin", Password: "pw"})
	if err != nil {
		t.Fatalf("create camera: %v", err)
	}
	return cam
}

func fixedPlan(start, end time.Time) ScanPlanner {
	return func(sqlcgen.ClaimCandidate) (time.Time, time.Time) { return start, end }
}

func TestPostgres_ClaimAndEndScan(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool := openTestPool(t, ctx)

	cam := mustCreateCamera(t, ctx, pool, "192.0.2.10")
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, err := pool.UpsertPendingScan(ctx, sqlcgen.UpsertPendingScanParams{CameraID: cam.ID, Kind: "cursor"}); err != nil {
		t.Fatalf("queue cursor: %v", err)
	}
	if _, err := pool.UpsertPendingScan(ctx, sqlcgen.UpsertPendingScanParams{CameraID: cam.ID, Kind: "full"}); err != nil {
		t.Fatalf("queue full: %v", err)
	}

	start := now.Add(-24 * time.Hour)
	active, err := pool.ClaimNextScan(ctx, now, fixedPlan(start, now))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if active.Kind != "full" {
		t.Fatalf("expected full scan to be claimed before cursor, got %s", active.Kind)
	}
	if !active.RangeCursor.Equal(now) {
		t.Fatalf("expected range cursor to start at range end, got %v", active.RangeCursor)
	}

	// The camera is busy, so the remaining cursor scan is not eligible.
	if _, err := pool.ClaimNextScan(ctx, now, fixedPlan(start, now)); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected no eligible scan, got %v", err)
	}

	advance := now.Add(-8 * time.Hour)
	if err := pool.EndScan(ctx, EndScanParams{
		CameraID:      cam.ID,
		Record:        true,
		DurationMs:    1500,
		Success:       true,
		AdvanceCursor: &advance,
	}); err != nil {
		t.Fatalf("end scan: %v", err)
	}

	active2, err := pool.ClaimNextScan(ctx, now, fixedPlan(start, now))
	if err != nil {
		t.Fatalf("claim cursor: %v", err)
	}
	if active2.Kind != "cursor" {
		t.Fatalf("expected cursor scan, got %s", active2.Kind)
	}

	// An older cursor never moves the camera cursor back.
	older := advance.Add(-time.Hour)
	if err := pool.EndScan(ctx, EndScanParams{CameraID: cam.ID, Success: true, AdvanceCursor: &older}); err != nil {
		t.Fatalf("end cursor scan: %v", err)
	}
	got, err := pool.GetCamera(ctx, cam.ID)
	if err != nil {
		t.Fatalf("get camera: %v", err)
	}
	if !got.ScanCursor.Equal(advance) {
		t.Fatalf("expected cursor %v, got %v", advance, got.ScanCursor)
	}

	history, err := pool.ListCompletedScans(ctx, sqlcgen.ListCompletedScansParams{Limit: 10})
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(history) != 1 || history[0].Kind != "full" || !history[0].Success || history[0].DurationMs != 1500 {
		t.Fatalf("expected only the full scan in history, got %+v", history)
	}
	active3, err := pool.ListActiveScans(ctx)
	if err != nil || len(active3) != 0 {
		t.Fatalf("expected no active scans, got %v %v", active3, err)
	}
}

func TestPostgres_RetryReusesRange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool := openTestPool(t, ctx)

	cam := mustCreateCamera(t, ctx, pool, "192.0.2.11")
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	start, end := now.Add(-72*time.Hour), now.Add(-48*time.Hour)

	if _, err := pool.UpsertPendingScan(ctx, sqlcgen.UpsertPendingScanParams{CameraID: cam.ID, Kind: "manual", RangeStart: &start, RangeEnd: &end}); err != nil {
		t.Fatalf("queue manual: %v", err)
	}
	if _, err := pool.ClaimNextScan(ctx, now, fixedPlan(start, end)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	msg := "device offline"
	if err := pool.EndScan(ctx, EndScanParams{CameraID: cam.ID, Record: true, Error: &msg, CanRetry: true}); err != nil {
		t.Fatalf("end scan: %v", err)
	}

	history, err := pool.ListCompletedScans(ctx, sqlcgen.ListCompletedScansParams{Limit: 10})
	if err != nil || len(history) != 1 {
		t.Fatalf("expected one history row, got %v %v", history, err)
	}
	failed := history[0]
	if n, err := pool.SetCompletedScanRetryPending(ctx, failed.ID); err != nil || n != 1 {
		t.Fatalf("flag retry: %d %v", n, err)
	}

	later := now.Add(time.Hour)
	planned := false
	retried, err := pool.ClaimNextScan(ctx, later, func(sqlcgen.ClaimCandidate) (time.Time, time.Time) {
		planned = true
		return later, later
	})
	if err != nil {
		t.Fatalf("claim retry: %v", err)
	}
	if planned {
		t.Fatalf("expected a retry to skip planning")
	}
	if !retried.RangeStart.Equal(start) || !retried.RangeEnd.Equal(end) || retried.Kind != "manual" {
		t.Fatalf("expected original range, got %+v", retried)
	}

	reset, err := pool.GetCompletedScan(ctx, failed.ID)
	if err != nil {
		t.Fatalf("get completed: %v", err)
	}
	if reset.CanRetry || reset.RetryPending {
		t.Fatalf("expected retry flags reset, got %+v", reset)
	}
	if n, err := pool.SetCompletedScanRetryPending(ctx, failed.ID); err != nil || n != 0 {
		t.Fatalf("expected a reset row not to be retryable, got %d %v", n, err)
	}
}

func TestPostgres_ClaimConflict(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool := openTestPool(t, ctx)

	cam := mustCreateCamera(t, ctx, pool, "192.0.2.12")
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := pool.InTx(ctx, func(q *sqlcgen.Queries) error {
		_, err := q.InsertActiveScan(ctx, sqlcgen.InsertActiveScanParams{CameraID: cam.ID, Kind: "full", RangeStart: now, RangeEnd: now, StartedAt: now})
		return err
	}); err != nil {
		t.Fatalf("seed active scan: %v", err)
	}

	// Bypass the idle check by inserting straight into active_scans again.
	err := pool.InTx(ctx, func(q *sqlcgen.Queries) error {
		_, err := q.InsertActiveScan(ctx, sqlcgen.InsertActiveScanParams{CameraID: cam.ID, Kind: "cursor", RangeStart: now, RangeEnd: now, StartedAt: now})
		return err
	})
	if !isUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}

	n, err := pool.DeleteAllActiveScans(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one cleared scan, got %d %v", n, err)
	}
}

func TestPostgres_FilesUpsertListEvict(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool := openTestPool(t, ctx)

	cam := mustCreateCamera(t, ctx, pool, "192.0.2.13")
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	firstSeen := base.Add(48 * time.Hour)

	var files []sqlcgen.UpsertCameraFileParams
	for i := range 30 {
		start := base.Add(time.Duration(i) * time.Minute)
		files = append(files, sqlcgen.UpsertCameraFileParams{
			CameraID:  cam.ID,
			FilePath:  fmt.Sprintf("/mnt/sd/%02d.dav", i),
			Kind:      "video",
			Size:      int64(i),
			StartTime: start,
			EndTime:   start.Add(time.Minute),
			UpdatedAt: firstSeen,
			Events:    []string{},
		})
	}
	// Same derived start time as file 0 under a different path is dropped.
	files = append(files, sqlcgen.UpsertCameraFileParams{
		CameraID: cam.ID, FilePath: "/mnt/sd/dup.dav", Kind: "video",
		StartTime: base, EndTime: base.Add(time.Minute), UpdatedAt: firstSeen, Events: []string{},
	})

	n, err := pool.UpsertCameraFiles(ctx, files)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n != 30 {
		t.Fatalf("expected 30 rows written, got %d", n)
	}

	page, err := pool.ListCameraFilesBefore(ctx, sqlcgen.ListCameraFilesParams{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 10 || page[0].FilePath != "/mnt/sd/29.dav" {
		t.Fatalf("expected newest first, got %d rows starting %v", len(page), page)
	}
	last := page[len(page)-1]
	next, err := pool.ListCameraFilesBefore(ctx, sqlcgen.ListCameraFilesParams{CursorTime: &last.StartTime, CursorID: last.ID, Limit: 10})
	if err != nil {
		t.Fatalf("list next: %v", err)
	}
	if len(next) != 10 || !next[0].StartTime.Before(last.StartTime) {
		t.Fatalf("expected the next older page, got %v", next)
	}
	back, err := pool.ListCameraFilesAfter(ctx, sqlcgen.ListCameraFilesParams{CursorTime: &next[0].StartTime, CursorID: next[0].ID, Limit: 10})
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	if len(back) != 10 || back[0].ID != last.ID {
		t.Fatalf("expected paging forward to return to the first page, got %v", back)
	}

	// A rescan that only sees the first 20 files evicts the rest.
	rescan := firstSeen.Add(time.Hour)
	for i := range files[:20] {
		files[i].UpdatedAt = rescan.Add(time.Minute)
	}
	if _, err := pool.UpsertCameraFiles(ctx, files[:20]); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	deleted, err := pool.DeleteStaleCameraFiles(ctx, sqlcgen.DeleteStaleCameraFilesParams{
		CameraID:   cam.ID,
		SeenBefore: rescan,
		RangeStart: base,
		RangeEnd:   base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if deleted != 10 {
		t.Fatalf("expected 10 evicted files, got %d", deleted)
	}
}
