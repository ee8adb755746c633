package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"ipcmanview/core-go/internal/scan"
	"ipcmanview/core-go/internal/sqlcgen"
)

type pendingScanView struct {
	ID         int64      `json:"id"`
	CameraID   int64      `json:"camera_id"`
	Kind       string     `json:"kind"`
	RangeStart *time.Time `json:"range_start,omitempty"`
	RangeEnd   *time.Time `json:"range_end,omitempty"`
}

type activeScanView struct {
	CameraID    int64     `json:"camera_id"`
	Kind        string    `json:"kind"`
	RangeStart  time.Time `json:"range_start"`
	RangeEnd    time.Time `json:"range_end"`
	StartedAt   time.Time `json:"started_at"`
	RangeCursor time.Time `json:"range_cursor"`
	Percent     float64   `json:"percent"`
	Upserted    int64     `json:"upserted"`
	Deleted     int64     `json:"deleted"`
}

type completedScanView struct {
	ID int64 `json:"id"`
	activeScanView
	DurationMs   int64   `json:"duration_ms"`
	Success      bool    `json:"success"`
	Error        *string `json:"error,omitempty"`
	CanRetry     bool    `json:"can_retry"`
	RetryPending bool    `json:"retry_pending"`
}

type completedScanPage struct {
	Scans  []completedScanView `json:"scans"`
	Before string              `json:"before,omitempty"`
}

type scanRequest struct {
	Kind  string     `json:"kind"`
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

func toActiveScan(a sqlcgen.ActiveScan) activeScanView {
	return activeScanView{
		CameraID:    a.CameraID,
		Kind:        a.Kind,
		RangeStart:  a.RangeStart,
		RangeEnd:    a.RangeEnd,
		StartedAt:   a.StartedAt,
		RangeCursor: a.RangeCursor,
		Percent:     a.Percent,
		Upserted:    a.Upserted,
		Deleted:     a.Deleted,
	}
}

func toCompletedScan(c sqlcgen.CompletedScan) completedScanView {
	return completedScanView{
		ID: c.ID,
		activeScanView: toActiveScan(sqlcgen.ActiveScan{
			CameraID:    c.CameraID,
			Kind:        c.Kind,
			RangeStart:  c.RangeStart,
			RangeEnd:    c.RangeEnd,
			StartedAt:   c.StartedAt,
			RangeCursor: c.RangeCursor,
			Percent:     c.Percent,
			Upserted:    c.Upserted,
			Deleted:     c.Deleted,
		}),
		DurationMs:   c.DurationMs,
		Success:      c.Success,
		Error:        c.Error,
		CanRetry:     c.CanRetry,
		RetryPending: c.RetryPending,
	}
}

// parseScanRequest validates the kind and, for manual scans, the range.
func parseScanRequest(req scanRequest) (scan.Kind, *scan.Range, error) {
	kind, err := scan.ParseKind(req.Kind)
	if err != nil {
		return "", nil, err
	}
	if kind != scan.KindManual {
		if req.Start != nil || req.End != nil {
			return "", nil, errors.New("start and end only apply to manual scans")
		}
		return kind, nil, nil
	}
	if req.Start == nil || req.End == nil {
		return "", nil, errors.New("manual scans need start and end")
	}
	if !req.End.After(*req.Start) {
		return "", nil, errors.New("end must be after start")
	}
	return kind, &scan.Range{Start: *req.Start, End: *req.End}, nil
}

func (h *Handler) handleListScans(w http.ResponseWriter, r *http.Request) {
	if !h.ensureScans(w) {
		return
	}

	ctx := r.Context()
	pending, err := h.scans.ListPendingScans(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("list pending scans failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list pending scans", nil)
		return
	}
	active, err := h.scans.ListActiveScans(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("list active scans failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list active scans", nil)
		return
	}

	resp := struct {
		Pending []pendingScanView `json:"pending"`
		Active  []activeScanView  `json:"active"`
	}{
		Pending: make([]pendingScanView, 0, len(pending)),
		Active:  make([]activeScanView, 0, len(active)),
	}
	for _, p := range pending {
		resp.Pending = append(resp.Pending, pendingScanView{
			ID:         p.ID,
			CameraID:   p.CameraID,
			Kind:       p.Kind,
			RangeStart: p.RangeStart,
			RangeEnd:   p.RangeEnd,
		})
	}
	for _, a := range active {
		resp.Active = append(resp.Active, toActiveScan(a))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleQueueCameraScan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req scanRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	kind, rng, err := parseScanRequest(req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return
	}
	if !h.ensureCameras(w) || !h.ensureScans(w) {
		return
	}

	ctx := r.Context()
	if _, err := h.cameras.GetCamera(ctx, id); err != nil {
		h.writeCameraLookupError(w, id, err, "get camera failed")
		return
	}
	if err := h.scanner.Queue(ctx, id, kind, rng); err != nil {
		h.log.Error().Err(err).Int64("camera_id", id).Msg("queue scan failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to queue scan", nil)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "kind": kind})
}

func (h *Handler) handleQueueAllScans(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	kind, _, err := parseScanRequest(req)
	if err == nil && kind == scan.KindManual {
		err = errors.New("manual scans are queued per camera")
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return
	}
	if !h.ensureScans(w) {
		return
	}

	if err := h.scanner.QueueAll(r.Context(), kind); err != nil {
		h.log.Error().Err(err).Str("kind", string(kind)).Msg("queue scans failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to queue scans", nil)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "kind": kind})
}

func (h *Handler) handleListCompletedScans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var arg sqlcgen.ListCompletedScansParams

	if v := q.Get("camera_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "camera_id must be an integer", nil)
			return
		}
		arg.CameraID = &id
	}
	if v := q.Get("before"); v != "" {
		k, err := parseKeyset(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
			return
		}
		arg.BeforeTime, arg.BeforeID = &k.Time, k.ID
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return
	}
	arg.Limit = int32(limit + 1)

	if !h.ensureScans(w) {
		return
	}

	rows, err := h.scans.ListCompletedScans(r.Context(), arg)
	if err != nil {
		h.log.Error().Err(err).Msg("list completed scans failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list completed scans", nil)
		return
	}

	page := completedScanPage{Scans: make([]completedScanView, 0, min(len(rows), limit))}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		page.Before = keyset{ID: last.ID, Time: last.StartedAt}.String()
	}
	for _, c := range rows {
		page.Scans = append(page.Scans, toCompletedScan(c))
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleGetCompletedScan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok || !h.ensureScans(w) {
		return
	}

	row, err := h.scans.GetCompletedScan(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			h.writeError(w, http.StatusNotFound, "not_found", "scan not found", map[string]any{"id": id})
			return
		}
		h.log.Error().Err(err).Int64("scan_id", id).Msg("get completed scan failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch scan", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, toCompletedScan(row))
}

func (h *Handler) handleRetryScan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok || !h.ensureScans(w) {
		return
	}

	if err := h.scanner.Retry(r.Context(), id); err != nil {
		if errors.Is(err, scan.ErrNotRetryable) {
			h.writeError(w, http.StatusConflict, "not_retryable", "scan cannot be retried", map[string]any{"id": id})
			return
		}
		h.log.Error().Err(err).Int64("scan_id", id).Msg("retry scan failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to retry scan", nil)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "id": id})
}
