package camera

import (
	"context"
	"fmt"

	"ipcmanview/core-go/internal/dahuarpc"
	"ipcmanview/core-go/internal/sqlcgen"
)

// DetailStore persists what FetchDetail reads. *sqlcgen.Queries satisfies it.
type DetailStore interface {
	UpsertCameraDetail(ctx context.Context, arg sqlcgen.CameraDetail) error
	UpsertCameraSoftware(ctx context.Context, arg sqlcgen.CameraSoftware) error
}

// optional turns a device error answer into an empty value; cameras that do
// not implement a getter are common.
func optional[T any](v T, err error) (T, error) {
	if dahuarpc.IsResponse(err) {
		var zero T
		return zero, nil
	}
	return v, err
}

// FetchDetail reads the magicBox getters and software version.
func FetchDetail(ctx context.Context, src RPCSource, id int64) (sqlcgen.CameraDetail, sqlcgen.CameraSoftware, error) {
	detail := sqlcgen.CameraDetail{CameraID: id}
	getters := []struct {
		name string
		dst  *string
		get  func(context.Context, dahuarpc.RequestBuilder) (string, error)
	}{
		{"sn", &detail.SN, dahuarpc.GetSerialNo},
		{"device_class", &detail.DeviceClass, dahuarpc.GetDeviceClass},
		{"device_type", &detail.DeviceType, dahuarpc.GetDeviceType},
		{"hardware_version", &detail.HardwareVersion, dahuarpc.GetHardwareVersion},
		{"market_area", &detail.MarketArea, dahuarpc.GetMarketArea},
		{"process_info", &detail.ProcessInfo, dahuarpc.GetProcessInfo},
		{"vendor", &detail.Vendor, dahuarpc.GetVendor},
	}
	for _, g := range getters {
		rpc, err := src.RPC(ctx)
		if err != nil {
			return sqlcgen.CameraDetail{}, sqlcgen.CameraSoftware{}, err
		}
		v, err := optional(g.get(ctx, rpc))
		if err != nil {
			return sqlcgen.CameraDetail{}, sqlcgen.CameraSoftware{}, fmt.Errorf("%s: %w", g.name, err)
		}
		*g.dst = v
	}

	rpc, err := src.RPC(ctx)
	if err != nil {
		return sqlcgen.CameraDetail{}, sqlcgen.CameraSoftware{}, err
	}
	sw, err := optional(dahuarpc.GetSoftwareVersion(ctx, rpc))
	if err != nil {
		return sqlcgen.CameraDetail{}, sqlcgen.CameraSoftware{}, fmt.Errorf("software version: %w", err)
	}

	return detail, sqlcgen.CameraSoftware{
		CameraID:                id,
		Build:                   sw.Build,
		BuildDate:               sw.BuildDate,
		SecurityBaseLineVersion: sw.SecurityBaseLineVersion,
		Version:                 sw.Version,
		WebVersion:              sw.WebVersion,
	}, nil
}

// RefreshDetail fetches a registered camera's detail and stores it.
func (r *Registry) RefreshDetail(ctx context.Context, id int64, store DetailStore) error {
	a, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	detail, sw, err := FetchDetail(ctx, a, id)
	if err != nil {
		return err
	}
	if err := store.UpsertCameraDetail(ctx, detail); err != nil {
		return fmt.Errorf("store camera detail: %w", err)
	}
	if err := store.UpsertCameraSoftware(ctx, sw); err != nil {
		return fmt.Errorf("store camera software: %w", err)
	}
	return nil
}

// Licenses reads the license list of a registered camera.
func (r *Registry) Licenses(ctx context.Context, id int64) ([]dahuarpc.LicenseInfo, error) {
	a, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rpc, err := a.RPC(ctx)
	if err != nil {
		return nil, err
	}
	return optional(dahuarpc.GetLicenseInfo(ctx, rpc))
}
