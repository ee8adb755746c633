package dahuarpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeDevice struct {
	mu      sync.Mutex
	calls   []Request
	paths   []string
	handler func(path string, req Request) map[string]any
}

func (d *fakeDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.mu.Lock()
	d.calls = append(d.calls, req)
	d.paths = append(d.paths, r.URL.Path)
	d.mu.Unlock()

	res := d.handler(r.URL.Path, req)
	if res == nil {
		// Hang up without a body to look like a broken device.
		hj, ok := w.(http.Hijacker)
		if ok {
			conn, _, _ := hj.Hijack()
			_ = conn.Close()
		}
		return
	}
	res["id"] = req.ID
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

func (d *fakeDevice) methods() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.calls))
	for _, c := range d.calls {
		out = append(out, c.Method)
	}
	return out
}

func (d *fakeDevice) last() Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[len(d.calls)-1]
}

// standardDevice answers the login handshake with a Default challenge and
// accepts any second login.
func standardDevice(firstCode int, onSecond func(req Request) map[string]any) *fakeDevice {
	return &fakeDevice{handler: func(path string, req Request) map[string]any {
		switch req.Method {
		case "global.login":
			params, _ := req.Params.(map[string]any)
			if params["password"] == "" {
				return map[string]any{
					"result":  false,
					"session": 123456,
					"error":   map[string]any{"code": firstCode, "message": ""},
					"params": map[string]any{
						"encryption": "Default",
						"random":     "1172275829",
						"realm":      "Login to a0c50bcd05b2f03d067e530d9bf069af",
					},
				}
			}
			if onSecond != nil {
				return onSecond(req)
			}
			return map[string]any{"result": true, "session": 123456, "params": nil}
		case "global.keepAlive":
			return map[string]any{"result": true, "session": "123456", "params": map[string]any{"timeout": 300}}
		case "global.logout":
			return map[string]any{"result": true, "session": "123456"}
		default:
			return map[string]any{"result": true, "session": "123456", "params": map[string]any{}}
		}
	}}
}

func newTestClient(t *testing.T, dev *fakeDevice, now func() time.Time) *Client {
	t.Helper()
	srv := httptest.NewServer(dev)
	t.Cleanup(srv.Close)
	ip := strings.TrimPrefix(srv.URL, "http://")
	return NewClient(srv.Client(), ip, "admin", "123", WithClock(now))
}

func TestClient_Login_DefaultChallenge(t *testing.T) {
	dev := standardDevice(401, nil)
	c := newTestClient(t, dev, time.Now)

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if c.State() != StateLoggedIn || c.Session() != "123456" {
		t.Fatalf("unexpected state %s session %q", c.State(), c.Session())
	}

	second := dev.last()
	params := second.Params.(map[string]any)
	if params["password"] != "2E9AD6D2DB08E0882F376A622BC76B9A" {
		t.Fatalf("unexpected digest: %v", params["password"])
	}
	if params["loginType"] != "Direct" || params["authorityType"] != "Default" || params["clientType"] != "Web3.0" {
		t.Fatalf("unexpected second login params: %v", params)
	}
	if second.Session != "123456" {
		t.Fatalf("expected second login to carry session, got %q", second.Session)
	}
	if dev.paths[0] != "/RPC2_Login" || dev.paths[1] != "/RPC2_Login" {
		t.Fatalf("unexpected endpoints: %v", dev.paths)
	}
}

func TestClient_Login_WatchNet(t *testing.T) {
	dev := &fakeDevice{handler: func(path string, req Request) map[string]any {
		params, _ := req.Params.(map[string]any)
		if params["password"] == "" {
			return map[string]any{
				"result":  false,
				"session": "abc",
				"error":   map[string]any{"code": 268632079, "message": ""},
				"params":  map[string]any{"encryption": "WatchNet"},
			}
		}
		return map[string]any{"result": true, "session": "abc"}
	}}
	c := newTestClient(t, dev, time.Now)

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	params := dev.last().Params.(map[string]any)
	if params["loginType"] != "WatchNet" || params["password"] != "123" {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestClient_Login_BadCredentialsBlocks(t *testing.T) {
	dev := standardDevice(401, func(req Request) map[string]any {
		return map[string]any{
			"result":  false,
			"session": 123456,
			"error":   map[string]any{"code": 268632085, "message": ""},
		}
	})
	c := newTestClient(t, dev, time.Now)

	err := c.Login(context.Background())
	if !errors.Is(err, LoginErrorUserOrPasswordNotValid) {
		t.Fatalf("expected UserOrPasswordNotValid, got %v", err)
	}
	if c.State() != StateBlocked || c.Session() != "" {
		t.Fatalf("expected blocked with no session, got %s %q", c.State(), c.Session())
	}
	reason, ok := c.Blocked()
	if !ok || reason != LoginErrorUserOrPasswordNotValid {
		t.Fatalf("unexpected blocked reason: %v %v", reason, ok)
	}

	calls := len(dev.methods())
	if err := c.KeepAliveOrLogin(context.Background()); !errors.Is(err, LoginErrorUserOrPasswordNotValid) {
		t.Fatalf("expected blocked error, got %v", err)
	}
	if len(dev.methods()) != calls {
		t.Fatalf("blocked client must not touch the device")
	}
}

func TestClient_Login_MessageClassification(t *testing.T) {
	cases := map[string]LoginError{
		"UserNotValidt":    LoginErrorUserNotValid,
		"PasswordNotValid": LoginErrorPasswordNotValid,
		"InBlackList":      LoginErrorInBlackList,
		"HasBeedUsed":      LoginErrorHasBeenUsed,
		"HasBeenLocked":    LoginErrorHasBeenLocked,
	}
	for msg, want := range cases {
		dev := standardDevice(268632079, func(req Request) map[string]any {
			return map[string]any{
				"result":  false,
				"session": 1,
				"error":   map[string]any{"code": 268632073, "message": msg},
			}
		})
		c := newTestClient(t, dev, time.Now)
		if err := c.Login(context.Background()); !errors.Is(err, want) {
			t.Fatalf("%s: expected %v, got %v", msg, want, err)
		}
	}
}

func TestClient_Login_UnclassifiedFailureIsRetryable(t *testing.T) {
	dev := standardDevice(401, func(req Request) map[string]any {
		return map[string]any{
			"result":  false,
			"session": 1,
			"error":   map[string]any{"code": 1, "message": "busy"},
		}
	})
	c := newTestClient(t, dev, time.Now)

	err := c.Login(context.Background())
	if err == nil || IsLogin(err) {
		t.Fatalf("expected non-login error, got %v", err)
	}
	if c.State() != StateLoggedOut || c.Session() != "" {
		t.Fatalf("expected logged out, got %s %q", c.State(), c.Session())
	}
}

func TestClient_Login_UnexpectedFirstCode(t *testing.T) {
	dev := standardDevice(12345, nil)
	c := newTestClient(t, dev, time.Now)

	err := c.Login(context.Background())
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if c.State() != StateLoggedOut {
		t.Fatalf("expected logged out, got %s", c.State())
	}
	if got := dev.methods(); len(got) != 1 {
		t.Fatalf("expected only the first login, got %v", got)
	}
}

func TestClient_KeepAliveGate(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	dev := standardDevice(401, nil)
	c := newTestClient(t, dev, clock)

	if err := c.KeepAliveOrLogin(context.Background()); err != nil {
		t.Fatalf("first KeepAliveOrLogin: %v", err)
	}
	calls := len(dev.methods())

	now = now.Add(59 * time.Second)
	if err := c.KeepAliveOrLogin(context.Background()); err != nil {
		t.Fatalf("gated KeepAliveOrLogin: %v", err)
	}
	if len(dev.methods()) != calls {
		t.Fatalf("expected no network call within the keep-alive window")
	}

	now = now.Add(2 * time.Second)
	if err := c.KeepAliveOrLogin(context.Background()); err != nil {
		t.Fatalf("KeepAliveOrLogin: %v", err)
	}
	last := dev.last()
	if last.Method != "global.keepAlive" || last.Session != "123456" {
		t.Fatalf("expected keep-alive with session, got %+v", last)
	}
}

func TestClient_KeepAliveFailureRelogs(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dev := standardDevice(401, nil)
	base := dev.handler
	dev.handler = func(path string, req Request) map[string]any {
		if req.Method == "global.keepAlive" {
			return map[string]any{
				"result":  false,
				"session": "123456",
				"error":   map[string]any{"code": 287637505, "message": "Invalid session"},
			}
		}
		return base(path, req)
	}
	c := newTestClient(t, dev, func() time.Time { return now })

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	now = now.Add(time.Hour)
	if err := c.KeepAliveOrLogin(context.Background()); err != nil {
		t.Fatalf("KeepAliveOrLogin: %v", err)
	}

	got := dev.methods()
	want := []string{"global.login", "global.login", "global.keepAlive", "global.login", "global.login"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected call sequence: %v", got)
	}
	if c.State() != StateLoggedIn {
		t.Fatalf("expected logged in, got %s", c.State())
	}
}

func TestClient_KeepAliveReloginLeavesOtherDevicesConnected(t *testing.T) {
	dev := standardDevice(401, nil)
	base := dev.handler
	dev.handler = func(path string, req Request) map[string]any {
		if req.Method == "global.keepAlive" {
			return map[string]any{
				"result":  false,
				"session": "123456",
				"error":   map[string]any{"code": 287637505, "message": "Invalid session"},
			}
		}
		return base(path, req)
	}

	var mu sync.Mutex
	opened := 0
	srv := httptest.NewUnstartedServer(dev)
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			mu.Lock()
			opened++
			mu.Unlock()
		}
	}
	srv.Start()
	t.Cleanup(srv.Close)
	ip := strings.TrimPrefix(srv.URL, "http://")
	connections := func() int {
		mu.Lock()
		defer mu.Unlock()
		return opened
	}

	shared := srv.Client()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewClient(shared, ip, "admin", "123", WithClock(func() time.Time { return now }))
	b := NewClient(shared, ip, "admin", "123")
	ctx := context.Background()

	if err := a.Login(ctx); err != nil {
		t.Fatalf("login a: %v", err)
	}
	if err := b.Login(ctx); err != nil {
		t.Fatalf("login b: %v", err)
	}
	if n := connections(); n != 2 {
		t.Fatalf("expected one connection per device, got %d", n)
	}

	now = now.Add(time.Hour)
	if err := a.KeepAliveOrLogin(ctx); err != nil {
		t.Fatalf("KeepAliveOrLogin: %v", err)
	}
	if n := connections(); n != 3 {
		t.Fatalf("expected the relogin to open a fresh connection, got %d", n)
	}

	if _, err := GetSerialNo(ctx, b.RPC()); err != nil {
		t.Fatalf("GetSerialNo: %v", err)
	}
	if n := connections(); n != 3 {
		t.Fatalf("expected the other device to keep its connection, got %d", n)
	}
}

func TestClient_KeepAliveTransportErrorKeepsState(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dev := standardDevice(401, nil)
	base := dev.handler
	dev.handler = func(path string, req Request) map[string]any {
		if req.Method == "global.keepAlive" {
			return nil
		}
		return base(path, req)
	}
	c := newTestClient(t, dev, func() time.Time { return now })

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	now = now.Add(time.Hour)
	err := c.KeepAliveOrLogin(context.Background())
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if c.State() != StateLoggedIn || c.Session() != "123456" {
		t.Fatalf("transport failure must not touch the session, got %s %q", c.State(), c.Session())
	}
}

func TestClient_RPCWithoutSessionFailsLocally(t *testing.T) {
	dev := standardDevice(401, nil)
	c := newTestClient(t, dev, time.Now)

	_, err := c.RPC().Method("magicBox.getSerialNo").Send(context.Background())
	var sessErr *SessionError
	if !errors.As(err, &sessErr) {
		t.Fatalf("expected session error, got %v", err)
	}
	if len(dev.methods()) != 0 {
		t.Fatalf("no request should reach the device")
	}
}

func TestClient_CloseBlocks(t *testing.T) {
	dev := standardDevice(401, nil)
	c := newTestClient(t, dev, time.Now)

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	c.Close(context.Background())

	if got := dev.last().Method; got != "global.logout" {
		t.Fatalf("expected logout on close, got %s", got)
	}
	if err := c.Login(context.Background()); !errors.Is(err, LoginErrorClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestClient_CookieAndFileURL(t *testing.T) {
	dev := standardDevice(401, nil)
	c := newTestClient(t, dev, time.Now)
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if got := c.Cookie(); got != "WebClientSessionID=123456; DWebClientSessionID=123456; DhWebClientSessionID=123456" {
		t.Fatalf("unexpected cookie: %s", got)
	}
	if got := c.FileURL("/mnt/sd/a.jpg"); got != "http://"+c.IP()+"/RPC_Loadfile/mnt/sd/a.jpg" {
		t.Fatalf("unexpected url: %s", got)
	}
}
