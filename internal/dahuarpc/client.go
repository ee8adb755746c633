package dahuarpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// KeepAliveTimeout is how long a successful keep-alive (or login) is trusted
// before the next call re-checks the session.
const KeepAliveTimeout = 60 * time.Second

const watchNet = "WatchNet"

// State is the session state of a Client.
type State int

const (
	StateLoggedOut State = iota
	StateLoggedIn
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateLoggedIn:
		return "logged_in"
	case StateBlocked:
		return "blocked"
	default:
		return "logged_out"
	}
}

// Client owns one device session. It is not safe for concurrent use; all
// access goes through a single owner goroutine.
type Client struct {
	http     *http.Client
	ip       string
	username string
	password string

	lastID        int
	session       string
	state         State
	lastKeepAlive time.Time
	blocked       LoginError

	now     func() time.Time
	observe func(method string, err error)
}

type Option func(*Client)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithObserver is called after every call the client sends.
func WithObserver(fn func(method string, err error)) Option {
	return func(c *Client) { c.observe = fn }
}

func NewClient(httpClient *http.Client, ip, username, password string, opts ...Option) *Client {
	c := &Client{
		http:     deviceHTTPClient(httpClient),
		ip:       ip,
		username: username,
		password: password,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) State() State { return c.state }

func (c *Client) Session() string { return c.session }

func (c *Client) IP() string { return c.ip }

// Blocked returns the reason the client refuses to log in, if any.
func (c *Client) Blocked() (LoginError, bool) {
	if c.state != StateBlocked {
		return 0, false
	}
	return c.blocked, true
}

func (c *Client) nextID() int {
	c.lastID++
	return c.lastID
}

func (c *Client) builder(endpoint string) RequestBuilder {
	b := NewRequestBuilder(c.http, fmt.Sprintf("http://%s/%s", c.ip, endpoint), c.nextID(), c.session)
	b.observe = c.observe
	return b
}

// RPC returns a builder for a session-bearing call. It does not check the
// session; callers run KeepAliveOrLogin first.
func (c *Client) RPC() RequestBuilder {
	return c.builder("RPC2").RequireSession()
}

func (c *Client) rpcLogin() RequestBuilder {
	return c.builder("RPC2_Login")
}

// Cookie formats the session the way the device web UI sends it.
func (c *Client) Cookie() string {
	return fmt.Sprintf("WebClientSessionID=%[1]s; DWebClientSessionID=%[1]s; DhWebClientSessionID=%[1]s", c.session)
}

// FileURL is where a device file can be downloaded with Cookie.
func (c *Client) FileURL(filePath string) string {
	return fmt.Sprintf("http://%s/RPC_Loadfile%s", c.ip, filePath)
}

func (c *Client) resetConnection() {
	c.lastID = 0
	c.session = ""
}

func (c *Client) setLoggedOut() {
	c.resetConnection()
	c.state = StateLoggedOut
	c.lastKeepAlive = time.Time{}
}

// Login runs the challenge-response procedure. A blocked client fails
// immediately with its blocking reason.
func (c *Client) Login(ctx context.Context) error {
	switch c.state {
	case StateBlocked:
		return c.blocked
	case StateLoggedIn:
		_ = logout(ctx, c.RPC())
		c.setLoggedOut()
	}

	if err := c.loginProcedure(ctx); err != nil {
		c.resetConnection()

		var loginErr LoginError
		if errors.As(err, &loginErr) {
			c.state = StateBlocked
			c.blocked = loginErr
		} else {
			c.state = StateLoggedOut
		}
		return err
	}

	c.state = StateLoggedIn
	c.lastKeepAlive = c.now()
	return nil
}

func (c *Client) loginProcedure(ctx context.Context) error {
	param, res, err := firstLogin(ctx, c.rpcLogin(), c.username)
	if err != nil {
		return err
	}
	c.session = res.Session

	// The first login must be refused with a challenge; anything else means
	// the device does not speak this login flow.
	if res.Error == nil {
		return &ProtocolError{Msg: "no error field in first login"}
	}
	switch res.Error.Code {
	case codeLoginChallenge, codeUnauthorized:
	default:
		return &ProtocolError{Msg: "unexpected first login error", Err: fromResponseError(res.Error)}
	}
	if c.session == "" {
		return &ProtocolError{Msg: "no session in first login"}
	}

	loginType := "Direct"
	if param.Encryption == watchNet {
		loginType = watchNet
	}

	password := Auth(c.username, c.password, param)
	if err := secondLogin(ctx, c.rpcLogin(), c.username, password, loginType, param.Encryption); err != nil {
		if loginErr, ok := classifyLoginError(err); ok {
			return loginErr
		}
		return err
	}
	return nil
}

// Logout ends the session if there is one. Errors from the device are
// ignored.
func (c *Client) Logout(ctx context.Context) {
	if c.state != StateLoggedIn {
		return
	}
	_ = logout(ctx, c.RPC())
	c.setLoggedOut()
}

// Close logs out and blocks the client for good.
func (c *Client) Close(ctx context.Context) {
	c.Logout(ctx)
	c.resetConnection()
	c.state = StateBlocked
	c.blocked = LoginErrorClosed
}

// KeepAliveOrLogin makes sure the session is usable.
//
// Within KeepAliveTimeout of the last success no call is made. A transport
// failure on keep-alive is returned as is. Any other failure is taken as an
// invalid session and answered with exactly one fresh login.
func (c *Client) KeepAliveOrLogin(ctx context.Context) error {
	if c.state != StateLoggedIn {
		return c.Login(ctx)
	}
	if c.now().Sub(c.lastKeepAlive) < KeepAliveTimeout {
		return nil
	}

	_, err := keepAlive(ctx, c.RPC())
	if err == nil {
		c.lastKeepAlive = c.now()
		return nil
	}
	if IsTransport(err) {
		return err
	}

	c.setLoggedOut()
	// Some firmware resets the connection when a login follows a keep-alive
	// on the same socket. The transport is private to this device.
	if c.http != nil {
		c.http.CloseIdleConnections()
	}
	return c.Login(ctx)
}
