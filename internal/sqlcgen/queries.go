package sqlcgen

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const createCamera = `-- name: CreateCamera :one
INSERT INTO cameras (ip, username, password)
VALUES ($1, $2, $3)
RETURNING id, ip, username, password, scan_cursor, refreshed_at, created_at
`

type CreateCameraParams struct {
	IP       string
	Username string
	Password string
}

func (q *Queries) CreateCamera(ctx context.Context, arg CreateCameraParams) (Camera, error) {
	row := q.db.QueryRow(ctx, createCamera, arg.IP, arg.Username, arg.Password)
	var i Camera
	err := row.Scan(&i.ID, &i.IP, &i.Username, &i.Password, &i.ScanCursor, &i.RefreshedAt, &i.CreatedAt)
	return i, err
}

const getCamera = `-- name: GetCamera :one
SELECT id, ip, username, password, scan_cursor, refreshed_at, created_at
FROM cameras
WHERE id = $1
`

func (q *Queries) GetCamera(ctx context.Context, id int64) (Camera, error) {
	row := q.db.QueryRow(ctx, getCamera, id)
	var i Camera
	err := row.Scan(&i.ID, &i.IP, &i.Username, &i.Password, &i.ScanCursor, &i.RefreshedAt, &i.CreatedAt)
	return i, err
}

const listCameras = `-- name: ListCameras :many
SELECT id, ip, username, password, scan_cursor, refreshed_at, created_at
FROM cameras
ORDER BY id ASC
`

func (q *Queries) ListCameras(ctx context.Context) ([]Camera, error) {
	rows, err := q.db.Query(ctx, listCameras)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Camera
	for rows.Next() {
		var i Camera
		if err := rows.Scan(&i.ID, &i.IP, &i.Username, &i.Password, &i.ScanCursor, &i.RefreshedAt, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateCamera = `-- name: UpdateCamera :one
UPDATE cameras
SET ip = COALESCE($2, ip),
    username = COALESCE($3, username),
    password = COALESCE($4, password),
    refreshed_at = now()
WHERE id = $1
RETURNING id, ip, username, password, scan_cursor, refreshed_at, created_at
`

type UpdateCameraParams struct {
	ID       int64
	IP       *string
	Username *string
	Password *string
}

func (q *Queries) UpdateCamera(ctx context.Context, arg UpdateCameraParams) (Camera, error) {
	row := q.db.QueryRow(ctx, updateCamera, arg.ID, arg.IP, arg.Username, arg.Password)
	var i Camera
	err := row.Scan(&i.ID, &i.IP, &i.Username, &i.Password, &i.ScanCursor, &i.RefreshedAt, &i.CreatedAt)
	return i, err
}

const deleteCamera = `-- name: DeleteCamera :execrows
DELETE FROM cameras
WHERE id = $1
`

func (q *Queries) DeleteCamera(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.Exec(ctx, deleteCamera, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const advanceCameraScanCursor = `-- name: AdvanceCameraScanCursor :execrows
UPDATE cameras
SET scan_cursor = $2
WHERE id = $1
  AND scan_cursor < $2
`

type AdvanceCameraScanCursorParams struct {
	ID         int64
	ScanCursor time.Time
}

// AdvanceCameraScanCursor only ever moves the cursor forward.
func (q *Queries) AdvanceCameraScanCursor(ctx context.Context, arg AdvanceCameraScanCursorParams) (int64, error) {
	result, err := q.db.Exec(ctx, advanceCameraScanCursor, arg.ID, arg.ScanCursor)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const upsertCameraDetail = `-- name: UpsertCameraDetail :exec
INSERT INTO camera_details (
  camera_id,
  sn,
  device_class,
  device_type,
  hardware_version,
  market_area,
  process_info,
  vendor
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (camera_id) DO UPDATE
SET sn = EXCLUDED.sn,
    device_class = EXCLUDED.device_class,
    device_type = EXCLUDED.device_type,
    hardware_version = EXCLUDED.hardware_version,
    market_area = EXCLUDED.market_area,
    process_info = EXCLUDED.process_info,
    vendor = EXCLUDED.vendor
`

func (q *Queries) UpsertCameraDetail(ctx context.Context, arg CameraDetail) error {
	_, err := q.db.Exec(ctx, upsertCameraDetail,
		arg.CameraID,
		arg.SN,
		arg.DeviceClass,
		arg.DeviceType,
		arg.HardwareVersion,
		arg.MarketArea,
		arg.ProcessInfo,
		arg.Vendor,
	)
	return err
}

const getCameraDetail = `-- name: GetCameraDetail :one
SELECT camera_id, sn, device_class, device_type, hardware_version, market_area, process_info, vendor
FROM camera_details
WHERE camera_id = $1
`

func (q *Queries) GetCameraDetail(ctx context.Context, cameraID int64) (CameraDetail, error) {
	row := q.db.QueryRow(ctx, getCameraDetail, cameraID)
	var i CameraDetail
	err := row.Scan(
		&i.CameraID,
		&i.SN,
		&i.DeviceClass,
		&i.DeviceType,
		&i.HardwareVersion,
		&i.MarketArea,
		&i.ProcessInfo,
		&i.Vendor,
	)
	return i, err
}

const upsertCameraSoftware = `-- name: UpsertCameraSoftware :exec
INSERT INTO camera_softwares (
  camera_id,
  build,
  build_date,
  security_base_line_version,
  version,
  web_version
)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (camera_id) DO UPDATE
SET build = EXCLUDED.build,
    build_date = EXCLUDED.build_date,
    security_base_line_version = EXCLUDED.security_base_line_version,
    version = EXCLUDED.version,
    web_version = EXCLUDED.web_version
`

func (q *Queries) UpsertCameraSoftware(ctx context.Context, arg CameraSoftware) error {
	_, err := q.db.Exec(ctx, upsertCameraSoftware,
		arg.CameraID,
		arg.Build,
		arg.BuildDate,
		arg.SecurityBaseLineVersion,
		arg.Version,
		arg.WebVersion,
	)
	return err
}

const getCameraSoftware = `-- name: GetCameraSoftware :one
SELECT camera_id, build, build_date, security_base_line_version, version, web_version
FROM camera_softwares
WHERE camera_id = $1
`

func (q *Queries) GetCameraSoftware(ctx context.Context, cameraID int64) (CameraSoftware, error) {
	row := q.db.QueryRow(ctx, getCameraSoftware, cameraID)
	var i CameraSoftware
	err := row.Scan(&i.CameraID, &i.Build, &i.BuildDate, &i.SecurityBaseLineVersion, &i.Version, &i.WebVersion)
	return i, err
}

// The NOT EXISTS guard drops a file whose derived start time collides with a
// different file already stored for the camera.
const upsertCameraFile = `-- name: UpsertCameraFile :execrows
INSERT INTO camera_files (camera_id, file_path, kind, size, start_time, end_time, updated_at, events)
SELECT $1::bigint, $2::text, $3::text, $4::bigint, $5::timestamptz, $6::timestamptz, $7::timestamptz, $8::text[]
WHERE NOT EXISTS (
  SELECT 1
  FROM camera_files
  WHERE camera_id = $1::bigint
    AND start_time = $5::timestamptz
    AND file_path <> $2::text
)
ON CONFLICT (camera_id, file_path) DO UPDATE
SET size = EXCLUDED.size,
    end_time = EXCLUDED.end_time,
    events = EXCLUDED.events,
    updated_at = EXCLUDED.updated_at
`

type UpsertCameraFileParams struct {
	CameraID  int64
	FilePath  string
	Kind      string
	Size      int64
	StartTime time.Time
	EndTime   time.Time
	UpdatedAt time.Time
	Events    []string
}

// UpsertCameraFiles sends every row in one batch and returns how many rows
// were inserted or refreshed.
func (q *Queries) UpsertCameraFiles(ctx context.Context, args []UpsertCameraFileParams) (int64, error) {
	if len(args) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, arg := range args {
		batch.Queue(upsertCameraFile,
			arg.CameraID,
			arg.FilePath,
			arg.Kind,
			arg.Size,
			arg.StartTime,
			arg.EndTime,
			arg.UpdatedAt,
			arg.Events,
		)
	}

	br := q.db.SendBatch(ctx, batch)
	var total int64
	for range args {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, br.Close()
}

const deleteStaleCameraFiles = `-- name: DeleteStaleCameraFiles :execrows
DELETE FROM camera_files
WHERE camera_id = $1
  AND updated_at < $2
  AND start_time >= $3
  AND start_time <= $4
`

type DeleteStaleCameraFilesParams struct {
	CameraID   int64
	SeenBefore time.Time
	RangeStart time.Time
	RangeEnd   time.Time
}

func (q *Queries) DeleteStaleCameraFiles(ctx context.Context, arg DeleteStaleCameraFilesParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteStaleCameraFiles, arg.CameraID, arg.SeenBefore, arg.RangeStart, arg.RangeEnd)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getCameraFile = `-- name: GetCameraFile :one
SELECT id, camera_id, file_path, kind, size, start_time, end_time, updated_at, events
FROM camera_files
WHERE id = $1
`

func (q *Queries) GetCameraFile(ctx context.Context, id int64) (CameraFile, error) {
	row := q.db.QueryRow(ctx, getCameraFile, id)
	var i CameraFile
	err := row.Scan(&i.ID, &i.CameraID, &i.FilePath, &i.Kind, &i.Size, &i.StartTime, &i.EndTime, &i.UpdatedAt, &i.Events)
	return i, err
}

const listCameraFilesBefore = `-- name: ListCameraFilesBefore :many
SELECT id, camera_id, file_path, kind, size, start_time, end_time, updated_at, events
FROM camera_files
WHERE ($1::bigint[] IS NULL OR camera_id = ANY($1::bigint[]))
  AND ($2::text[] IS NULL OR kind = ANY($2::text[]))
  AND ($3::timestamptz IS NULL OR start_time >= $3::timestamptz)
  AND ($4::timestamptz IS NULL OR start_time < $4::timestamptz)
  AND ($5::timestamptz IS NULL OR (start_time, id) < ($5::timestamptz, $6::bigint))
ORDER BY start_time DESC, id DESC
LIMIT $7
`

const listCameraFilesAfter = `-- name: ListCameraFilesAfter :many
SELECT id, camera_id, file_path, kind, size, start_time, end_time, updated_at, events
FROM camera_files
WHERE ($1::bigint[] IS NULL OR camera_id = ANY($1::bigint[]))
  AND ($2::text[] IS NULL OR kind = ANY($2::text[]))
  AND ($3::timestamptz IS NULL OR start_time >= $3::timestamptz)
  AND ($4::timestamptz IS NULL OR start_time < $4::timestamptz)
  AND ($5::timestamptz IS NULL OR (start_time, id) > ($5::timestamptz, $6::bigint))
ORDER BY start_time ASC, id ASC
LIMIT $7
`

type ListCameraFilesParams struct {
	CameraIDs  []int64
	Kinds      []string
	Start      *time.Time
	End        *time.Time
	// Keyset position. Nil starts from the newest file.
	CursorTime *time.Time
	CursorID   int64
	Limit      int32
}

// ListCameraFilesBefore pages toward older files, newest first.
func (q *Queries) ListCameraFilesBefore(ctx context.Context, arg ListCameraFilesParams) ([]CameraFile, error) {
	return q.listCameraFiles(ctx, listCameraFilesBefore, arg)
}

// ListCameraFilesAfter pages toward newer files, oldest first.
func (q *Queries) ListCameraFilesAfter(ctx context.Context, arg ListCameraFilesParams) ([]CameraFile, error) {
	return q.listCameraFiles(ctx, listCameraFilesAfter, arg)
}

func (q *Queries) listCameraFiles(ctx context.Context, query string, arg ListCameraFilesParams) ([]CameraFile, error) {
	rows, err := q.db.Query(ctx, query,
		arg.CameraIDs,
		arg.Kinds,
		arg.Start,
		arg.End,
		arg.CursorTime,
		arg.CursorID,
		arg.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CameraFile
	for rows.Next() {
		var i CameraFile
		if err := rows.Scan(&i.ID, &i.CameraID, &i.FilePath, &i.Kind, &i.Size, &i.StartTime, &i.EndTime, &i.UpdatedAt, &i.Events); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertPendingScan = `-- name: UpsertPendingScan :one
INSERT INTO pending_scans (camera_id, kind, range_start, range_end)
VALUES ($1, $2, $3, $4)
ON CONFLICT (camera_id, kind) DO UPDATE
SET range_start = EXCLUDED.range_start,
    range_end = EXCLUDED.range_end
RETURNING id, camera_id, kind, range_start, range_end
`

type UpsertPendingScanParams struct {
	CameraID   int64
	Kind       string
	RangeStart *time.Time
	RangeEnd   *time.Time
}

func (q *Queries) UpsertPendingScan(ctx context.Context, arg UpsertPendingScanParams) (PendingScan, error) {
	row := q.db.QueryRow(ctx, upsertPendingScan, arg.CameraID, arg.Kind, arg.RangeStart, arg.RangeEnd)
	var i PendingScan
	err := row.Scan(&i.ID, &i.CameraID, &i.Kind, &i.RangeStart, &i.RangeEnd)
	return i, err
}

const queuePendingScanForAll = `-- name: QueuePendingScanForAll :execrows
INSERT INTO pending_scans (camera_id, kind, range_start, range_end)
SELECT id, $1, $2, $3
FROM cameras
ON CONFLICT (camera_id, kind) DO UPDATE
SET range_start = EXCLUDED.range_start,
    range_end = EXCLUDED.range_end
`

type QueuePendingScanForAllParams struct {
	Kind       string
	RangeStart *time.Time
	RangeEnd   *time.Time
}

func (q *Queries) QueuePendingScanForAll(ctx context.Context, arg QueuePendingScanForAllParams) (int64, error) {
	result, err := q.db.Exec(ctx, queuePendingScanForAll, arg.Kind, arg.RangeStart, arg.RangeEnd)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listPendingScans = `-- name: ListPendingScans :many
SELECT id, camera_id, kind, range_start, range_end
FROM pending_scans
ORDER BY id ASC
`

func (q *Queries) ListPendingScans(ctx context.Context) ([]PendingScan, error) {
	rows, err := q.db.Query(ctx, listPendingScans)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PendingScan
	for rows.Next() {
		var i PendingScan
		if err := rows.Scan(&i.ID, &i.CameraID, &i.Kind, &i.RangeStart, &i.RangeEnd); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const selectNextPendingScan = `-- name: SelectNextPendingScan :one
SELECT p.id, p.camera_id, p.kind, p.range_start, p.range_end, c.scan_cursor
FROM pending_scans p
JOIN cameras c ON c.id = p.camera_id
WHERE NOT EXISTS (
  SELECT 1 FROM active_scans a WHERE a.camera_id = p.camera_id
)
ORDER BY CASE p.kind WHEN 'cursor' THEN 1 ELSE 0 END ASC, p.id ASC
LIMIT 1
FOR UPDATE OF p SKIP LOCKED
`

// SelectNextPendingScan locks the next pending scan whose camera is idle.
// Full and manual scans come before cursor scans.
func (q *Queries) SelectNextPendingScan(ctx context.Context) (ClaimCandidate, error) {
	row := q.db.QueryRow(ctx, selectNextPendingScan)
	var i ClaimCandidate
	err := row.Scan(&i.ID, &i.CameraID, &i.Kind, &i.RangeStart, &i.RangeEnd, &i.ScanCursor)
	return i, err
}

const deletePendingScan = `-- name: DeletePendingScan :exec
DELETE FROM pending_scans
WHERE id = $1
`

func (q *Queries) DeletePendingScan(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, deletePendingScan, id)
	return err
}

const insertActiveScan = `-- name: InsertActiveScan :one
INSERT INTO active_scans (camera_id, kind, range_start, range_end, started_at, range_cursor, percent, upserted, deleted)
VALUES ($1, $2, $3, $4, $5, $4, 0, 0, 0)
RETURNING camera_id, kind, range_start, range_end, started_at, range_cursor, percent, upserted, deleted
`

type InsertActiveScanParams struct {
	CameraID   int64
	Kind       string
	RangeStart time.Time
	RangeEnd   time.Time
	StartedAt  time.Time
}

func (q *Queries) InsertActiveScan(ctx context.Context, arg InsertActiveScanParams) (ActiveScan, error) {
	row := q.db.QueryRow(ctx, insertActiveScan, arg.CameraID, arg.Kind, arg.RangeStart, arg.RangeEnd, arg.StartedAt)
	var i ActiveScan
	err := row.Scan(
		&i.CameraID,
		&i.Kind,
		&i.RangeStart,
		&i.RangeEnd,
		&i.StartedAt,
		&i.RangeCursor,
		&i.Percent,
		&i.Upserted,
		&i.Deleted,
	)
	return i, err
}

const updateActiveScanProgress = `-- name: UpdateActiveScanProgress :exec
UPDATE active_scans
SET range_cursor = $2,
    percent = $3,
    upserted = $4,
    deleted = $5
WHERE camera_id = $1
`

type UpdateActiveScanProgressParams struct {
	CameraID    int64
	RangeCursor time.Time
	Percent     float64
	Upserted    int64
	Deleted     int64
}

func (q *Queries) UpdateActiveScanProgress(ctx context.Context, arg UpdateActiveScanProgressParams) error {
	_, err := q.db.Exec(ctx, updateActiveScanProgress, arg.CameraID, arg.RangeCursor, arg.Percent, arg.Upserted, arg.Deleted)
	return err
}

const listActiveScans = `-- name: ListActiveScans :many
SELECT camera_id, kind, range_start, range_end, started_at, range_cursor, percent, upserted, deleted
FROM active_scans
ORDER BY started_at ASC
`

func (q *Queries) ListActiveScans(ctx context.Context) ([]ActiveScan, error) {
	rows, err := q.db.Query(ctx, listActiveScans)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ActiveScan
	for rows.Next() {
		var i ActiveScan
		if err := rows.Scan(
			&i.CameraID,
			&i.Kind,
			&i.RangeStart,
			&i.RangeEnd,
			&i.StartedAt,
			&i.RangeCursor,
			&i.Percent,
			&i.Upserted,
			&i.Deleted,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteActiveScan = `-- name: DeleteActiveScan :exec
DELETE FROM active_scans
WHERE camera_id = $1
`

func (q *Queries) DeleteActiveScan(ctx context.Context, cameraID int64) error {
	_, err := q.db.Exec(ctx, deleteActiveScan, cameraID)
	return err
}

const deleteAllActiveScans = `-- name: DeleteAllActiveScans :execrows
DELETE FROM active_scans
`

func (q *Queries) DeleteAllActiveScans(ctx context.Context) (int64, error) {
	result, err := q.db.Exec(ctx, deleteAllActiveScans)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const completedScanColumns = `id, camera_id, kind, range_start, range_end, started_at, range_cursor, percent, upserted, deleted, duration_ms, success, error, can_retry, retry_pending`

func scanCompletedScan(row pgx.Row) (CompletedScan, error) {
	var i CompletedScan
	err := row.Scan(
		&i.ID,
		&i.CameraID,
		&i.Kind,
		&i.RangeStart,
		&i.RangeEnd,
		&i.StartedAt,
		&i.RangeCursor,
		&i.Percent,
		&i.Upserted,
		&i.Deleted,
		&i.DurationMs,
		&i.Success,
		&i.Error,
		&i.CanRetry,
		&i.RetryPending,
	)
	return i, err
}

const insertCompletedScan = `-- name: InsertCompletedScan :one
INSERT INTO completed_scans (
  camera_id,
  kind,
  range_start,
  range_end,
  started_at,
  range_cursor,
  percent,
  upserted,
  deleted,
  duration_ms,
  success,
  error,
  can_retry
)
SELECT camera_id,
       kind,
       range_start,
       range_end,
       started_at,
       range_cursor,
       percent,
       upserted,
       deleted,
       $2,
       $3,
       $4,
       $5
FROM active_scans
WHERE camera_id = $1
RETURNING ` + completedScanColumns + `
`

type InsertCompletedScanParams struct {
	CameraID   int64
	DurationMs int64
	Success    bool
	Error      *string
	CanRetry   bool
}

// InsertCompletedScan copies the camera's active scan into history.
func (q *Queries) InsertCompletedScan(ctx context.Context, arg InsertCompletedScanParams) (CompletedScan, error) {
	row := q.db.QueryRow(ctx, insertCompletedScan, arg.CameraID, arg.DurationMs, arg.Success, arg.Error, arg.CanRetry)
	return scanCompletedScan(row)
}

const getCompletedScan = `-- name: GetCompletedScan :one
SELECT ` + completedScanColumns + `
FROM completed_scans
WHERE id = $1
`

func (q *Queries) GetCompletedScan(ctx context.Context, id int64) (CompletedScan, error) {
	return scanCompletedScan(q.db.QueryRow(ctx, getCompletedScan, id))
}

const listCompletedScans = `-- name: ListCompletedScans :many
SELECT ` + completedScanColumns + `
FROM completed_scans
WHERE ($1::bigint IS NULL OR camera_id = $1::bigint)
  AND ($2::timestamptz IS NULL OR (started_at, id) < ($2::timestamptz, $3::bigint))
ORDER BY started_at DESC, id DESC
LIMIT $4
`

type ListCompletedScansParams struct {
	CameraID   *int64
	BeforeTime *time.Time
	BeforeID   int64
	Limit      int32
}

func (q *Queries) ListCompletedScans(ctx context.Context, arg ListCompletedScansParams) ([]CompletedScan, error) {
	rows, err := q.db.Query(ctx, listCompletedScans, arg.CameraID, arg.BeforeTime, arg.BeforeID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CompletedScan
	for rows.Next() {
		i, err := scanCompletedScan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const selectRetryPendingScan = `-- name: SelectRetryPendingScan :one
SELECT ` + completedScanColumns + `
FROM completed_scans c
WHERE c.retry_pending
  AND NOT EXISTS (
    SELECT 1 FROM active_scans a WHERE a.camera_id = c.camera_id
  )
ORDER BY c.id ASC
LIMIT 1
FOR UPDATE OF c SKIP LOCKED
`

func (q *Queries) SelectRetryPendingScan(ctx context.Context) (CompletedScan, error) {
	return scanCompletedScan(q.db.QueryRow(ctx, selectRetryPendingScan))
}

const resetCompletedScanRetry = `-- name: ResetCompletedScanRetry :exec
UPDATE completed_scans
SET retry_pending = false,
    can_retry = false
WHERE id = $1
`

func (q *Queries) ResetCompletedScanRetry(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, resetCompletedScanRetry, id)
	return err
}

const setCompletedScanRetryPending = `-- name: SetCompletedScanRetryPending :execrows
UPDATE completed_scans
SET retry_pending = true
WHERE id = $1
  AND can_retry
`

// SetCompletedScanRetryPending returns 0 when the scan is missing or not
// retryable.
func (q *Queries) SetCompletedScanRetryPending(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.Exec(ctx, setCompletedScanRetryPending, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
