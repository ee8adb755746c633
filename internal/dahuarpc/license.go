package dahuarpc

import "context"

type LicenseInfo struct {
	AbroadInfo    string `json:"AbroadInfo"`
	AllType       bool   `json:"AllType"`
	DigitChannel  int    `json:"DigitChannel"`
	EffectiveDays int    `json:"EffectiveDays"`
	EffectiveTime int64  `json:"EffectiveTime"`
	LicenseID     int64  `json:"LicenseID"`
	ProductType   string `json:"ProductType"`
	Status        int    `json:"Status"`
	Username      string `json:"Username"`
}

func GetLicenseInfo(ctx context.Context, rpc RequestBuilder) ([]LicenseInfo, error) {
	res, err := rpc.Method("License.getLicenseInfo").Send(ctx)
	if err != nil {
		return nil, err
	}
	var p []struct {
		Info LicenseInfo `json:"Info"`
	}
	if err := res.Decode(&p); err != nil {
		return nil, err
	}
	out := make([]LicenseInfo, 0, len(p))
	for _, item := range p {
		out = append(out, item.Info)
	}
	return out, nil
}
