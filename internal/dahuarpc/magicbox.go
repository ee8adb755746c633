package dahuarpc

import "context"

func getString[T any](ctx context.Context, rpc RequestBuilder, method string, pick func(T) string) (string, error) {
	res, err := rpc.Method(method).Send(ctx)
	if err != nil {
		return "", err
	}
	var p T
	if err := res.Decode(&p); err != nil {
		return "", err
	}
	return pick(p), nil
}

func GetSerialNo(ctx context.Context, rpc RequestBuilder) (string, error) {
	return getString(ctx, rpc, "magicBox.getSerialNo", func(p struct {
		SN string `json:"sn"`
	}) string {
		return p.SN
	})
}

type typeParams struct {
	Type string `json:"type"`
}

func GetDeviceType(ctx context.Context, rpc RequestBuilder) (string, error) {
	return getString(ctx, rpc, "magicBox.getDeviceType", func(p typeParams) string { return p.Type })
}

func GetDeviceClass(ctx context.Context, rpc RequestBuilder) (string, error) {
	return getString(ctx, rpc, "magicBox.getDeviceClass", func(p typeParams) string { return p.Type })
}

func GetProcessInfo(ctx context.Context, rpc RequestBuilder) (string, error) {
	return getString(ctx, rpc, "magicBox.getProcessInfo", func(p struct {
		Info string `json:"info"`
	}) string {
		return p.Info
	})
}

func GetHardwareVersion(ctx context.Context, rpc RequestBuilder) (string, error) {
	return getString(ctx, rpc, "magicBox.getHardwareVersion", func(p struct {
		Version string `json:"version"`
	}) string {
		return p.Version
	})
}

func GetVendor(ctx context.Context, rpc RequestBuilder) (string, error) {
	return getString(ctx, rpc, "magicBox.getVendor", func(p struct {
		Vendor string `json:"Vendor"`
	}) string {
		return p.Vendor
	})
}

func GetMarketArea(ctx context.Context, rpc RequestBuilder) (string, error) {
	return getString(ctx, rpc, "magicBox.getMarketArea", func(p struct {
		AbroadInfo string `json:"AbroadInfo"`
	}) string {
		return p.AbroadInfo
	})
}

type SoftwareVersion struct {
	Build                   string `json:"Build"`
	BuildDate               string `json:"BuildDate"`
	SecurityBaseLineVersion string `json:"SecurityBaseLineVersion"`
	Version                 string `json:"Version"`
	WebVersion              string `json:"WebVersion"`
}

func GetSoftwareVersion(ctx context.Context, rpc RequestBuilder) (SoftwareVersion, error) {
	res, err := rpc.Method("magicBox.getSoftwareVersion").Send(ctx)
	if err != nil {
		return SoftwareVersion{}, err
	}
	var p struct {
		Version SoftwareVersion `json:"version"`
	}
	err = res.Decode(&p)
	return p.Version, err
}
