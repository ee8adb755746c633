package camera

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ipcmanview/core-go/internal/dahuarpc"
	"ipcmanview/core-go/internal/metrics"
	"ipcmanview/core-go/internal/sqlcgen"
)

var (
	ErrNotFound       = errors.New("camera not found")
	ErrRegistryClosed = errors.New("camera registry closed")
)

// Store is the camera lookup the registry needs. *sqlcgen.Queries satisfies
// it; a missing camera is reported as pgx.ErrNoRows.
type Store interface {
	GetCamera(ctx context.Context, id int64) (sqlcgen.Camera, error)
	ListCameras(ctx context.Context) ([]sqlcgen.Camera, error)
}

type registryOp struct {
	ctx  context.Context
	fn   func(ctx context.Context) (stop bool)
	done chan struct{}
}

// Registry owns one Actor per camera. The actor map is only touched by the
// registry goroutine.
type Registry struct {
	log     zerolog.Logger
	store   Store
	http    *http.Client
	metrics *metrics.Metrics

	actors map[int64]*Actor
	ops    chan registryOp
	done   chan struct{}
}

func NewRegistry(log zerolog.Logger, store Store, httpClient *http.Client, m *metrics.Metrics) *Registry {
	r := &Registry{
		log:     log.With().Str("component", "camera_registry").Logger(),
		store:   store,
		http:    httpClient,
		metrics: m,
		actors:  make(map[int64]*Actor),
		ops:     make(chan registryOp),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Registry) run() {
	defer close(r.done)
	for op := range r.ops {
		stop := op.fn(op.ctx)
		close(op.done)
		if stop {
			return
		}
	}
}

func (r *Registry) do(ctx context.Context, fn func(ctx context.Context) (stop bool)) error {
	op := registryOp{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case r.ops <- op:
	case <-r.done:
		return ErrRegistryClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-op.done
	return nil
}

func (r *Registry) start(cam sqlcgen.Camera) *Actor {
	a := NewActor(r.log, r.http, Camera{
		ID:       cam.ID,
		IP:       cam.IP,
		Username: cam.Username,
		Password: cam.Password,
	}, r.metrics)
	r.actors[cam.ID] = a
	return a
}

func (r *Registry) stop(ctx context.Context, id int64) {
	if a, ok := r.actors[id]; ok {
		a.Close(ctx)
		delete(r.actors, id)
	}
}

// Get returns the actor for a camera.
func (r *Registry) Get(ctx context.Context, id int64) (*Actor, error) {
	var a *Actor
	if err := r.do(ctx, func(context.Context) bool {
		a = r.actors[id]
		return false
	}); err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	return a, nil
}

// List returns every actor ordered by camera id.
func (r *Registry) List(ctx context.Context) ([]*Actor, error) {
	var out []*Actor
	err := r.do(ctx, func(context.Context) bool {
		out = make([]*Actor, 0, len(r.actors))
		for _, a := range r.actors {
			out = append(out, a)
		}
		return false
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, err
}

// Refresh re-reads a camera from the store and replaces its actor. A camera
// that no longer exists has its actor closed and removed.
func (r *Registry) Refresh(ctx context.Context, id int64) error {
	var err error
	if doErr := r.do(ctx, func(ctx context.Context) bool {
		cam, getErr := r.store.GetCamera(ctx, id)
		switch {
		case errors.Is(getErr, pgx.ErrNoRows):
			r.stop(ctx, id)
			r.log.Info().Int64("camera_id", id).Msg("camera removed from registry")
		case getErr != nil:
			err = fmt.Errorf("get camera %d: %w", id, getErr)
		default:
			r.stop(ctx, id)
			r.start(cam)
			r.log.Info().Int64("camera_id", id).Str("ip", cam.IP).Msg("camera refreshed")
		}
		return false
	}); doErr != nil {
		return doErr
	}
	return err
}

// Load starts an actor for every stored camera and drops actors for cameras
// that are gone.
func (r *Registry) Load(ctx context.Context) error {
	var err error
	if doErr := r.do(ctx, func(ctx context.Context) bool {
		cams, listErr := r.store.ListCameras(ctx)
		if listErr != nil {
			err = fmt.Errorf("list cameras: %w", listErr)
			return false
		}
		seen := make(map[int64]struct{}, len(cams))
		for _, cam := range cams {
			seen[cam.ID] = struct{}{}
			r.stop(ctx, cam.ID)
			r.start(cam)
		}
		for id := range r.actors {
			if _, ok := seen[id]; !ok {
				r.stop(ctx, id)
			}
		}
		r.log.Info().Int("cameras", len(cams)).Msg("camera registry loaded")
		return false
	}); doErr != nil {
		return doErr
	}
	return err
}

// Shutdown closes every actor concurrently and stops the registry. Calling it
// again is a no-op.
func (r *Registry) Shutdown(ctx context.Context) {
	err := r.do(context.WithoutCancel(ctx), func(ctx context.Context) bool {
		var g errgroup.Group
		for _, a := range r.actors {
			g.Go(func() error {
				a.Close(ctx)
				return nil
			})
		}
		_ = g.Wait()
		clear(r.actors)
		return true
	})
	if err == nil {
		r.log.Info().Msg("camera registry shut down")
	}
}

// State reports the session state of a registered camera.
func (r *Registry) State(ctx context.Context, id int64) (dahuarpc.State, error) {
	a, err := r.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return a.State(ctx)
}
