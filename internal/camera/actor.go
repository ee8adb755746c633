package camera

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ipcmanview/core-go/internal/dahuarpc"
	"ipcmanview/core-go/internal/metrics"
)

// ErrActorClosed is returned by an actor whose loop has stopped.
var ErrActorClosed = errors.New("camera actor closed")

// closeTimeout bounds the logout sent when an actor is closed, and how long
// Close waits for it.
const closeTimeout = 5 * time.Second

// Camera is the connection information an actor is built from.
type Camera struct {
	ID       int64
	IP       string
	Username string
	Password string
}

// FileAccess is what an external HTTP client needs to download a device file.
type FileAccess struct {
	URL    string
	Cookie string
}

type message struct {
	ctx  context.Context
	fn   func(ctx context.Context, c *dahuarpc.Client)
	done chan error
}

// Actor serializes all session work for one camera on a single goroutine.
// Handles are shared by pointer; every method is safe for concurrent use.
type Actor struct {
	id      int64
	log     zerolog.Logger
	metrics *metrics.Metrics

	inbox     chan message
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func NewActor(log zerolog.Logger, httpClient *http.Client, cam Camera, m *metrics.Metrics) *Actor {
	a := &Actor{
		id:      cam.ID,
		log:     log.With().Int64("camera_id", cam.ID).Logger(),
		metrics: m,
		inbox:   make(chan message),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	client := dahuarpc.NewClient(httpClient, cam.IP, cam.Username, cam.Password,
		dahuarpc.WithObserver(m.ObserveRPC),
	)
	go a.run(client)
	return a
}

func (a *Actor) ID() int64 { return a.id }

func (a *Actor) run(client *dahuarpc.Client) {
	defer close(a.done)
	defer a.shutdown(client)
	for {
		select {
		case <-a.closing:
			return
		case msg := <-a.inbox:
			if a.isClosing() {
				msg.done <- ErrActorClosed
				return
			}
			if err := msg.ctx.Err(); err != nil {
				msg.done <- err
				continue
			}
			msg.fn(msg.ctx, client)
			msg.done <- nil
		}
	}
}

func (a *Actor) isClosing() bool {
	select {
	case <-a.closing:
		return true
	default:
		return false
	}
}

// shutdown logs the session out once the loop has stopped taking messages.
func (a *Actor) shutdown(client *dahuarpc.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	client.Close(ctx)
	a.log.Debug().Msg("camera actor closed")
}

// do runs fn on the actor goroutine and waits for it. Results must only be
// read by the caller after do returns nil.
func (a *Actor) do(ctx context.Context, fn func(ctx context.Context, c *dahuarpc.Client)) error {
	msg := message{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case a.inbox <- msg:
	case <-a.closing:
		return ErrActorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-msg.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor) ready(ctx context.Context, c *dahuarpc.Client) error {
	before := c.State()
	session := c.Session()

	err := c.KeepAliveOrLogin(ctx)
	if before == dahuarpc.StateBlocked {
		return err
	}

	switch {
	case err == nil:
		if before != dahuarpc.StateLoggedIn || c.Session() != session {
			a.metrics.IncLogin("ok")
			a.log.Debug().Msg("camera logged in")
		}
	case dahuarpc.IsLogin(err):
		a.metrics.IncLogin("blocked")
		a.log.Warn().Err(err).Msg("camera login blocked")
	case before != dahuarpc.StateLoggedIn || !dahuarpc.IsTransport(err):
		a.metrics.IncLogin("error")
		a.log.Warn().Err(err).Msg("camera login failed")
	}
	return err
}

// RPC returns a request builder bound to a checked session.
func (a *Actor) RPC(ctx context.Context) (dahuarpc.RequestBuilder, error) {
	var (
		rpc dahuarpc.RequestBuilder
		err error
	)
	if doErr := a.do(ctx, func(ctx context.Context, c *dahuarpc.Client) {
		if err = a.ready(ctx, c); err == nil {
			rpc = c.RPC()
		}
	}); doErr != nil {
		return dahuarpc.RequestBuilder{}, doErr
	}
	return rpc, err
}

// FileAccess returns a download URL and session cookie for path.
func (a *Actor) FileAccess(ctx context.Context, path string) (FileAccess, error) {
	var (
		access FileAccess
		err    error
	)
	if doErr := a.do(ctx, func(ctx context.Context, c *dahuarpc.Client) {
		if err = a.ready(ctx, c); err == nil {
			access = FileAccess{URL: c.FileURL(path), Cookie: c.Cookie()}
		}
	}); doErr != nil {
		return FileAccess{}, doErr
	}
	return access, err
}

// State reports the session state without touching the device.
func (a *Actor) State(ctx context.Context) (dahuarpc.State, error) {
	var state dahuarpc.State
	err := a.do(ctx, func(_ context.Context, c *dahuarpc.Client) {
		state = c.State()
	})
	return state, err
}

// Close stops the actor. Calls already queued or made afterwards fail with
// ErrActorClosed; a call in progress finishes first, then the session is
// logged out. Close waits for that until ctx ends or closeTimeout passes,
// but the actor stops either way. Closing twice is a no-op.
func (a *Actor) Close(ctx context.Context) {
	a.closeOnce.Do(func() { close(a.closing) })

	ctx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	select {
	case <-a.done:
	case <-ctx.Done():
		a.log.Warn().Err(ctx.Err()).Msg("camera close still pending")
	}
}
