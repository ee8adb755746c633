package dahuarpc

import (
	"context"
)

const clientType = "Web3.0"

type loginParams struct {
	UserName      string `json:"userName"`
	Password      string `json:"password"`
	LoginType     string `json:"loginType"`
	ClientType    string `json:"clientType"`
	AuthorityType string `json:"authorityType,omitempty"`
}

// firstLogin asks the device for a session id and challenge. The reply is
// expected to carry an error field, so it is returned unconverted.
func firstLogin(ctx context.Context, rpc RequestBuilder, username string) (AuthParam, Response, error) {
	res, err := rpc.
		Method("global.login").
		Params(loginParams{
			UserName:   username,
			Password:   "",
			LoginType:  "Direct",
			ClientType: clientType,
		}).
		SendRaw(ctx)
	if err != nil {
		return AuthParam{}, res, err
	}

	var param AuthParam
	if err := res.Decode(&param); err != nil {
		return AuthParam{}, res, err
	}
	return param, res, nil
}

func secondLogin(ctx context.Context, rpc RequestBuilder, username, password, loginType, authorityType string) error {
	_, err := rpc.
		Method("global.login").
		Params(loginParams{
			UserName:      username,
			Password:      password,
			LoginType:     loginType,
			ClientType:    clientType,
			AuthorityType: authorityType,
		}).
		Send(ctx)
	return err
}

func logout(ctx context.Context, rpc RequestBuilder) error {
	_, err := rpc.Method("global.logout").Send(ctx)
	return err
}

func keepAlive(ctx context.Context, rpc RequestBuilder) (int, error) {
	res, err := rpc.
		Method("global.keepAlive").
		Params(map[string]any{
			"timeout": 300,
			"active":  true,
		}).
		Send(ctx)
	if err != nil {
		return 0, err
	}

	var p struct {
		Timeout int `json:"timeout"`
	}
	if err := res.Decode(&p); err != nil {
		return 0, err
	}
	return p.Timeout, nil
}

// CurrentTime is the device wall clock as reported by global.getCurrentTime.
type CurrentTime struct {
	Time string `json:"time"`
}

func GetCurrentTime(ctx context.Context, rpc RequestBuilder) (CurrentTime, error) {
	res, err := rpc.Method("global.getCurrentTime").Send(ctx)
	if err != nil {
		return CurrentTime{}, err
	}
	var out CurrentTime
	err = res.Decode(&out)
	return out, err
}
