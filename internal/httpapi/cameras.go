package httpapi

import (
	"errors"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"ipcmanview/core-go/internal/dahuarpc"
	"ipcmanview/core-go/internal/scan"
	"ipcmanview/core-go/internal/sqlcgen"
)

type cameraView struct {
	ID          int64     `json:"id"`
	IP          string    `json:"ip"`
	Username    string    `json:"username"`
	ScanCursor  time.Time `json:"scan_cursor"`
	RefreshedAt time.Time `json:"refreshed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

type cameraDetailView struct {
	cameraView
	State    string        `json:"state,omitempty"`
	Detail   *detailView   `json:"detail,omitempty"`
	Software *softwareView `json:"software,omitempty"`
}

type detailView struct {
	SN              string `json:"sn"`
	DeviceClass     string `json:"device_class"`
	DeviceType      string `json:"device_type"`
	HardwareVersion string `json:"hardware_version"`
	MarketArea      string `json:"market_area"`
	ProcessInfo     string `json:"process_info"`
	Vendor          string `json:"vendor"`
}

type softwareView struct {
	Build                   string `json:"build"`
	BuildDate               string `json:"build_date"`
	SecurityBaseLineVersion string `json:"security_base_line_version"`
	Version                 string `json:"version"`
	WebVersion              string `json:"web_version"`
}

type cameraCreate struct {
	IP       string `json:"ip"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type cameraUpdate struct {
	IP       *string `json:"ip,omitempty"`
	Username *string `json:"username,omitempty"`
	Password *string `json:"password,omitempty"`
}

func toCamera(c sqlcgen.Camera) cameraView {
	return cameraView{
		ID:          c.ID,
		IP:          c.IP,
		Username:    c.Username,
		ScanCursor:  c.ScanCursor,
		RefreshedAt: c.RefreshedAt,
		CreatedAt:   c.CreatedAt,
	}
}

// validHost accepts an IP address or a host name, with an optional port.
func validHost(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "/ ") {
		return false
	}
	if _, err := netip.ParseAddr(s); err == nil {
		return true
	}
	if _, err := netip.ParseAddrPort(s); err == nil {
		return true
	}
	host := s
	if i := strings.LastIndex(s, ":"); i >= 0 {
		host = s[:i]
	}
	return host != "" && !strings.Contains(host, ":")
}

func (h *Handler) handleListCameras(w http.ResponseWriter, r *http.Request) {
	if !h.ensureCameras(w) {
		return
	}

	rows, err := h.cameras.ListCameras(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list cameras failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list cameras", nil)
		return
	}

	resp := make([]cameraView, 0, len(rows))
	for _, c := range rows {
		resp = append(resp, toCamera(c))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateCamera(w http.ResponseWriter, r *http.Request) {
	var req cameraCreate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if !validHost(req.IP) {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "ip must be an address or host name", map[string]any{"ip": req.IP})
		return
	}
	if req.Username == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "username is required", nil)
		return
	}

	if !h.ensureCameras(w) {
		return
	}

	ctx := r.Context()
	row, err := h.cameras.CreateCamera(ctx, sqlcgen.CreateCameraParams{
		IP:       strings.TrimSpace(req.IP),
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("create camera failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to create camera", nil)
		return
	}

	log := h.log.With().Int64("camera_id", row.ID).Logger()
	if h.devices != nil {
		if err := h.devices.Refresh(ctx, row.ID); err != nil {
			log.Error().Err(err).Msg("registry refresh failed")
		} else if err := h.devices.RefreshDetail(ctx, row.ID, h.cameras); err != nil {
			log.Warn().Err(err).Msg("camera detail refresh failed")
		}
	}
	if h.scanner != nil {
		if err := h.scanner.Queue(ctx, row.ID, scan.KindFull, nil); err != nil {
			log.Error().Err(err).Msg("queue full scan failed")
		}
	}

	h.writeJSON(w, http.StatusCreated, toCamera(row))
}

func (h *Handler) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok || !h.ensureCameras(w) {
		return
	}

	ctx := r.Context()
	row, err := h.cameras.GetCamera(ctx, id)
	if err != nil {
		h.writeCameraLookupError(w, id, err, "get camera failed")
		return
	}

	resp := cameraDetailView{cameraView: toCamera(row)}
	if d, err := h.cameras.GetCameraDetail(ctx, id); err == nil {
		resp.Detail = &detailView{
			SN:              d.SN,
			DeviceClass:     d.DeviceClass,
			DeviceType:      d.DeviceType,
			HardwareVersion: d.HardwareVersion,
			MarketArea:      d.MarketArea,
			ProcessInfo:     d.ProcessInfo,
			Vendor:          d.Vendor,
		}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		h.log.Warn().Err(err).Int64("camera_id", id).Msg("get camera detail failed")
	}
	if s, err := h.cameras.GetCameraSoftware(ctx, id); err == nil {
		resp.Software = &softwareView{
			Build:                   s.Build,
			BuildDate:               s.BuildDate,
			SecurityBaseLineVersion: s.SecurityBaseLineVersion,
			Version:                 s.Version,
			WebVersion:              s.WebVersion,
		}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		h.log.Warn().Err(err).Int64("camera_id", id).Msg("get camera software failed")
	}
	if h.devices != nil {
		if state, err := h.devices.State(ctx, id); err == nil {
			resp.State = state.String()
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUpdateCamera(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req cameraUpdate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if req.IP != nil && !validHost(*req.IP) {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "ip must be an address or host name", map[string]any{"ip": *req.IP})
		return
	}
	if req.Username != nil && *req.Username == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "username must not be empty", nil)
		return
	}

	if !h.ensureCameras(w) {
		return
	}

	ctx := r.Context()
	row, err := h.cameras.UpdateCamera(ctx, sqlcgen.UpdateCameraParams{
		ID:       id,
		IP:       req.IP,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.writeCameraLookupError(w, id, err, "update camera failed")
		return
	}

	if h.devices != nil {
		if err := h.devices.Refresh(ctx, id); err != nil {
			h.log.Error().Err(err).Int64("camera_id", id).Msg("registry refresh failed")
		}
	}

	h.writeJSON(w, http.StatusOK, toCamera(row))
}

func (h *Handler) handleDeleteCamera(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok || !h.ensureCameras(w) {
		return
	}

	ctx := r.Context()
	n, err := h.cameras.DeleteCamera(ctx, id)
	if err != nil {
		h.log.Error().Err(err).Int64("camera_id", id).Msg("delete camera failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to delete camera", nil)
		return
	}
	if n == 0 {
		h.writeError(w, http.StatusNotFound, "not_found", "camera not found", map[string]any{"id": id})
		return
	}

	if h.devices != nil {
		if err := h.devices.Refresh(ctx, id); err != nil {
			h.log.Error().Err(err).Int64("camera_id", id).Msg("registry refresh failed")
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefreshCamera(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok || !h.ensureCameras(w) || !h.ensureDevices(w) {
		return
	}

	if err := h.devices.RefreshDetail(r.Context(), id, h.cameras); err != nil {
		h.writeDeviceError(w, id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"refreshed": true})
}

type licenseView struct {
	AbroadInfo    string `json:"abroad_info"`
	AllType       bool   `json:"all_type"`
	DigitChannel  int    `json:"digit_channel"`
	EffectiveDays int    `json:"effective_days"`
	EffectiveTime int64  `json:"effective_time"`
	LicenseID     int64  `json:"license_id"`
	ProductType   string `json:"product_type"`
	Status        int    `json:"status"`
	Username      string `json:"username"`
}

func toLicense(l dahuarpc.LicenseInfo) licenseView {
	return licenseView{
		AbroadInfo:    l.AbroadInfo,
		AllType:       l.AllType,
		DigitChannel:  l.DigitChannel,
		EffectiveDays: l.EffectiveDays,
		EffectiveTime: l.EffectiveTime,
		LicenseID:     l.LicenseID,
		ProductType:   l.ProductType,
		Status:        l.Status,
		Username:      l.Username,
	}
}

func (h *Handler) handleCameraLicenses(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok || !h.ensureDevices(w) {
		return
	}

	licenses, err := h.devices.Licenses(r.Context(), id)
	if err != nil {
		h.writeDeviceError(w, id, err)
		return
	}

	resp := make([]licenseView, 0, len(licenses))
	for _, l := range licenses {
		resp = append(resp, toLicense(l))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeCameraLookupError(w http.ResponseWriter, id int64, err error, msg string) {
	if errors.Is(err, pgx.ErrNoRows) {
		h.writeError(w, http.StatusNotFound, "not_found", "camera not found", map[string]any{"id": id})
		return
	}
	h.log.Error().Err(err).Int64("camera_id", id).Msg(msg)
	h.writeError(w, http.StatusInternalServerError, "db_error", msg, nil)
}
