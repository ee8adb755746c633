package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"ipcmanview/core-go/internal/camera"
	"ipcmanview/core-go/internal/dahuarpc"
	"ipcmanview/core-go/internal/db"
	"ipcmanview/core-go/internal/metrics"
	"ipcmanview/core-go/internal/scan"
	"ipcmanview/core-go/internal/sqlcgen"
)

// cursorScanInterval throttles the cursor scans a fresh file listing queues.
const cursorScanInterval = 5 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

type cameraQueries interface {
	ListCameras(ctx context.Context) ([]sqlcgen.Camera, error)
	GetCamera(ctx context.Context, id int64) (sqlcgen.Camera, error)
	CreateCamera(ctx context.Context, arg sqlcgen.CreateCameraParams) (sqlcgen.Camera, error)
	UpdateCamera(ctx context.Context, arg sqlcgen.UpdateCameraParams) (sqlcgen.Camera, error)
	DeleteCamera(ctx context.Context, id int64) (int64, error)
	GetCameraDetail(ctx context.Context, cameraID int64) (sqlcgen.CameraDetail, error)
	GetCameraSoftware(ctx context.Context, cameraID int64) (sqlcgen.CameraSoftware, error)
	UpsertCameraDetail(ctx context.Context, arg sqlcgen.CameraDetail) error
	UpsertCameraSoftware(ctx context.Context, arg sqlcgen.CameraSoftware) error
}

type fileQueries interface {
	GetCameraFile(ctx context.Context, id int64) (sqlcgen.CameraFile, error)
	ListCameraFilesBefore(ctx context.Context, arg sqlcgen.ListCameraFilesParams) ([]sqlcgen.CameraFile, error)
	ListCameraFilesAfter(ctx context.Context, arg sqlcgen.ListCameraFilesParams) ([]sqlcgen.CameraFile, error)
}

type scanQueries interface {
	ListPendingScans(ctx context.Context) ([]sqlcgen.PendingScan, error)
	ListActiveScans(ctx context.Context) ([]sqlcgen.ActiveScan, error)
	GetCompletedScan(ctx context.Context, id int64) (sqlcgen.CompletedScan, error)
	ListCompletedScans(ctx context.Context, arg sqlcgen.ListCompletedScansParams) ([]sqlcgen.CompletedScan, error)
}

// devices is the slice of *camera.Registry the API drives.
type devices interface {
	Refresh(ctx context.Context, id int64) error
	RefreshDetail(ctx context.Context, id int64, store camera.DetailStore) error
	Licenses(ctx context.Context, id int64) ([]dahuarpc.LicenseInfo, error)
	FileAccess(ctx context.Context, id int64, path string) (camera.FileAccess, error)
	State(ctx context.Context, id int64) (dahuarpc.State, error)
}

// scanner is the slice of *scan.Scheduler the API drives.
type scanner interface {
	Queue(ctx context.Context, cameraID int64, kind scan.Kind, r *scan.Range) error
	QueueAll(ctx context.Context, kind scan.Kind) error
	Retry(ctx context.Context, completedID int64) error
}

type Handler struct {
	log     zerolog.Logger
	pool    pinger
	metrics *metrics.Metrics

	cameras cameraQueries
	files   fileQueries
	scans   scanQueries
	devices devices
	scanner scanner

	cursorScans *rate.Limiter
}

func NewHandler(log zerolog.Logger, pool *db.Pool, registry *camera.Registry, scheduler *scan.Scheduler, m *metrics.Metrics) *Handler {
	h := &Handler{
		log:         log,
		metrics:     m,
		cursorScans: rate.NewLimiter(rate.Every(cursorScanInterval), 1),
	}
	if pool != nil {
		h.pool = pool
		h.cameras = pool
		h.files = pool
		h.scans = pool
	}
	if registry != nil {
		h.devices = registry
	}
	if scheduler != nil {
		h.scanner = scheduler
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/cameras", func(r chi.Router) {
				r.Get("/", h.handleListCameras)
				r.Post("/", h.handleCreateCamera)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.handleGetCamera)
					r.Put("/", h.handleUpdateCamera)
					r.Delete("/", h.handleDeleteCamera)
					r.Post("/refresh", h.handleRefreshCamera)
					r.Get("/licenses", h.handleCameraLicenses)
					r.Post("/scans", h.handleQueueCameraScan)
				})
			})

			r.Route("/files", func(r chi.Router) {
				r.Get("/", h.handleListFiles)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.handleGetFile)
					r.Get("/access", h.handleFileAccess)
				})
			})

			r.Route("/scans", func(r chi.Router) {
				r.Get("/", h.handleListScans)
				r.Post("/", h.handleQueueAllScans)
				r.Get("/completed", h.handleListCompletedScans)
				r.Route("/completed/{id}", func(r chi.Router) {
					r.Get("/", h.handleGetCompletedScan)
					r.Post("/retry", h.handleRetryScan)
				})
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		duration := time.Since(start)
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), duration)

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

// pathID parses the {id} URL parameter and writes a 400 when it is not a
// positive integer.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "id must be a positive integer", map[string]any{"id": raw})
		return 0, false
	}
	return id, true
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.pool == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return
	}

	if err := h.pool.Ping(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (h *Handler) ensureCameras(w http.ResponseWriter) bool {
	if h.cameras == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return false
	}
	return true
}

func (h *Handler) ensureFiles(w http.ResponseWriter) bool {
	if h.files == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return false
	}
	return true
}

func (h *Handler) ensureScans(w http.ResponseWriter) bool {
	if h.scans == nil || h.scanner == nil {
		h.writeError(w, http.StatusServiceUnavailable, "scanner_unavailable", "scan scheduler not running", nil)
		return false
	}
	return true
}

func (h *Handler) ensureDevices(w http.ResponseWriter) bool {
	if h.devices == nil {
		h.writeError(w, http.StatusServiceUnavailable, "registry_unavailable", "camera registry not running", nil)
		return false
	}
	return true
}

// writeDeviceError maps registry and device errors onto responses.
func (h *Handler) writeDeviceError(w http.ResponseWriter, id int64, err error) {
	var loginErr dahuarpc.LoginError
	switch {
	case errors.Is(err, camera.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "camera not found", map[string]any{"id": id})
	case errors.As(err, &loginErr):
		h.writeError(w, http.StatusBadGateway, "login_failed", "camera rejected login", map[string]any{"id": id, "reason": loginErr.Error()})
	case dahuarpc.IsTransport(err):
		h.writeError(w, http.StatusBadGateway, "camera_unreachable", "camera did not answer", map[string]any{"id": id})
	case errors.Is(err, camera.ErrRegistryClosed), errors.Is(err, camera.ErrActorClosed):
		h.writeError(w, http.StatusServiceUnavailable, "registry_unavailable", "camera registry not running", nil)
	default:
		h.log.Error().Err(err).Int64("camera_id", id).Msg("camera request failed")
		h.writeError(w, http.StatusBadGateway, "camera_error", "camera request failed", map[string]any{"id": id})
	}
}
