package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"ipcmanview/core-go/internal/scan"
	"ipcmanview/core-go/internal/sqlcgen"
)

const (
	defaultFileLimit = 25
	minFileLimit     = 10
	maxFileLimit     = 100
)

var fileKinds = []string{"video", "picture"}

type fileView struct {
	ID        int64     `json:"id"`
	CameraID  int64     `json:"camera_id"`
	FilePath  string    `json:"file_path"`
	Kind      string    `json:"kind"`
	Size      int64     `json:"size"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	UpdatedAt time.Time `json:"updated_at"`
	Events    []string  `json:"events"`
}

type filePage struct {
	Files  []fileView `json:"files"`
	Before string     `json:"before,omitempty"`
	After  string     `json:"after,omitempty"`
}

func toFile(f sqlcgen.CameraFile) fileView {
	events := f.Events
	if events == nil {
		events = []string{}
	}
	return fileView{
		ID:        f.ID,
		CameraID:  f.CameraID,
		FilePath:  f.FilePath,
		Kind:      f.Kind,
		Size:      f.Size,
		StartTime: f.StartTime,
		EndTime:   f.EndTime,
		UpdatedAt: f.UpdatedAt,
		Events:    events,
	}
}

// keyset is an opaque page position: "{id}_{unix_millis}".
type keyset struct {
	ID   int64
	Time time.Time
}

func (k keyset) String() string {
	return fmt.Sprintf("%d_%d", k.ID, k.Time.UnixMilli())
}

func parseKeyset(s string) (keyset, error) {
	idPart, msPart, ok := strings.Cut(s, "_")
	if !ok {
		return keyset{}, errors.New("cursor must look like {id}_{millis}")
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return keyset{}, fmt.Errorf("cursor id: %w", err)
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return keyset{}, fmt.Errorf("cursor time: %w", err)
	}
	return keyset{ID: id, Time: time.UnixMilli(ms).UTC()}, nil
}

func fileKeyset(f sqlcgen.CameraFile) keyset {
	return keyset{ID: f.ID, Time: f.StartTime}
}

// multiValue collects a repeated or comma separated query parameter.
func multiValue(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseTimeParam(q url.Values, key string) (*time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%s must be RFC3339", key)
	}
	return &t, nil
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return defaultFileLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	return min(max(n, minFileLimit), maxFileLimit), nil
}

// parseFileListing turns query parameters into list params. It reports
// whether the listing pages toward newer files.
func parseFileListing(q url.Values) (sqlcgen.ListCameraFilesParams, bool, error) {
	var arg sqlcgen.ListCameraFilesParams

	for _, raw := range multiValue(q, "camera_id") {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return arg, false, fmt.Errorf("camera_id %q is not an integer", raw)
		}
		arg.CameraIDs = append(arg.CameraIDs, id)
	}
	for _, kind := range multiValue(q, "kind") {
		if !slices.Contains(fileKinds, kind) {
			return arg, false, fmt.Errorf("kind %q is not one of %v", kind, fileKinds)
		}
		arg.Kinds = append(arg.Kinds, kind)
	}

	var err error
	if arg.Start, err = parseTimeParam(q, "start"); err != nil {
		return arg, false, err
	}
	if arg.End, err = parseTimeParam(q, "end"); err != nil {
		return arg, false, err
	}

	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		return arg, false, err
	}
	arg.Limit = int32(limit)

	before, after := q.Get("before"), q.Get("after")
	if before != "" && after != "" {
		return arg, false, errors.New("before and after are mutually exclusive")
	}
	cursor := before
	if after != "" {
		cursor = after
	}
	if cursor != "" {
		k, err := parseKeyset(cursor)
		if err != nil {
			return arg, false, err
		}
		arg.CursorTime, arg.CursorID = &k.Time, k.ID
	}
	return arg, after != "", nil
}

func (h *Handler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	arg, forward, err := parseFileListing(r.URL.Query())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return
	}
	if !h.ensureFiles(w) {
		return
	}

	ctx := r.Context()
	if arg.CursorTime == nil && h.scanner != nil && h.cursorScans.Allow() {
		if err := h.scanner.QueueAll(ctx, scan.KindCursor); err != nil {
			h.log.Warn().Err(err).Msg("queue cursor scans failed")
		}
	}

	limit := int(arg.Limit)
	arg.Limit++

	var rows []sqlcgen.CameraFile
	if forward {
		rows, err = h.files.ListCameraFilesAfter(ctx, arg)
	} else {
		rows, err = h.files.ListCameraFilesBefore(ctx, arg)
	}
	if err != nil {
		h.log.Error().Err(err).Msg("list files failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list files", nil)
		return
	}

	more := len(rows) > limit
	if more {
		rows = rows[:limit]
	}
	if forward {
		slices.Reverse(rows)
	}

	page := filePage{Files: make([]fileView, 0, len(rows))}
	for _, f := range rows {
		page.Files = append(page.Files, toFile(f))
	}
	if len(rows) > 0 {
		// Paging forward always leaves the cursor row behind as older.
		hasNewer := (forward && more) || (!forward && arg.CursorTime != nil)
		if forward || more {
			page.Before = fileKeyset(rows[len(rows)-1]).String()
		}
		if hasNewer {
			page.After = fileKeyset(rows[0]).String()
		}
	}

	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok || !h.ensureFiles(w) {
		return
	}

	row, err := h.files.GetCameraFile(r.Context(), id)
	if err != nil {
		h.writeFileLookupError(w, id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toFile(row))
}

func (h *Handler) handleFileAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok || !h.ensureFiles(w) || !h.ensureDevices(w) {
		return
	}

	ctx := r.Context()
	row, err := h.files.GetCameraFile(ctx, id)
	if err != nil {
		h.writeFileLookupError(w, id, err)
		return
	}

	access, err := h.devices.FileAccess(ctx, row.CameraID, row.FilePath)
	if err != nil {
		h.writeDeviceError(w, row.CameraID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"url":    access.URL,
		"cookie": access.Cookie,
	})
}

func (h *Handler) writeFileLookupError(w http.ResponseWriter, id int64, err error) {
	if errors.Is(err, pgx.ErrNoRows) {
		h.writeError(w, http.StatusNotFound, "not_found", "file not found", map[string]any{"id": id})
		return
	}
	h.log.Error().Err(err).Int64("file_id", id).Msg("get file failed")
	h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch file", nil)
}
