package camera

import (
	"context"
	"iter"
	"time"

	"ipcmanview/core-go/internal/dahuarpc"
)

// FindPageSize is how many files each findNextFile call asks for.
const FindPageSize = 64

const cleanupTimeout = 5 * time.Second

// RPCSource hands out request builders bound to a checked session. *Actor
// satisfies it.
type RPCSource interface {
	RPC(ctx context.Context) (dahuarpc.RequestBuilder, error)
}

// FileStream enumerates device files through a mediaFileFind handle. It is
// finite and cannot be restarted. Check Err once Next reports false.
type FileStream struct {
	src    RPCSource
	object int64
	open   bool
	done   bool
	err    error
}

// OpenFileStream allocates a finder on the device and starts the search.
// Failures are captured in the stream.
func OpenFileStream(ctx context.Context, src RPCSource, cond dahuarpc.Condition) *FileStream {
	s := &FileStream{src: src}

	rpc, err := src.RPC(ctx)
	if err != nil {
		s.fail(ctx, err)
		return s
	}
	object, err := dahuarpc.CreateFileFinder(ctx, rpc)
	if err != nil {
		s.fail(ctx, err)
		return s
	}
	s.object = object
	s.open = true

	rpc, err = src.RPC(ctx)
	if err != nil {
		s.fail(ctx, err)
		return s
	}
	found, err := dahuarpc.FindFile(ctx, rpc, object, cond)
	switch {
	case dahuarpc.IsNoData(err):
		s.finish(ctx)
	case err != nil:
		s.fail(ctx, err)
	case !found:
		s.finish(ctx)
	}
	return s
}

// Next returns the next page of files. It reports false once the device has
// no more files or an error occurred.
func (s *FileStream) Next(ctx context.Context) ([]dahuarpc.FindNextFileInfo, bool) {
	if s.done {
		return nil, false
	}

	rpc, err := s.src.RPC(ctx)
	if err != nil {
		s.fail(ctx, err)
		return nil, false
	}
	page, err := dahuarpc.FindNextFiles(ctx, rpc, s.object, FindPageSize)
	if dahuarpc.IsNoData(err) {
		s.finish(ctx)
		return nil, false
	}
	if err != nil {
		s.fail(ctx, err)
		return nil, false
	}

	if page.Found < FindPageSize {
		s.finish(ctx)
	}
	if len(page.Infos) == 0 {
		s.finish(ctx)
		return nil, false
	}
	return page.Infos, true
}

// All yields pages until the stream ends.
func (s *FileStream) All(ctx context.Context) iter.Seq[[]dahuarpc.FindNextFileInfo] {
	return func(yield func([]dahuarpc.FindNextFileInfo) bool) {
		for {
			infos, ok := s.Next(ctx)
			if !ok || !yield(infos) {
				return
			}
		}
	}
}

// Err is the first error the stream hit, if any.
func (s *FileStream) Err() error { return s.err }

func (s *FileStream) fail(ctx context.Context, err error) {
	if s.err == nil {
		s.err = err
	}
	s.finish(ctx)
}

func (s *FileStream) finish(ctx context.Context) {
	s.done = true
	s.Close(ctx)
}

// Close releases the device handle. close and destroy are both attempted and
// their errors ignored. Safe to call more than once.
func (s *FileStream) Close(ctx context.Context) {
	s.done = true
	if !s.open {
		return
	}
	s.open = false

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if rpc, err := s.src.RPC(ctx); err == nil {
		_, _ = dahuarpc.CloseFileFinder(ctx, rpc, s.object)
	}
	if rpc, err := s.src.RPC(ctx); err == nil {
		_, _ = dahuarpc.DestroyFileFinder(ctx, rpc, s.object)
	}
}

// ScanFiles runs one enumeration to the end, handing every page to fn. An
// error from fn stops the enumeration and is returned.
func ScanFiles(ctx context.Context, src RPCSource, cond dahuarpc.Condition, fn func([]dahuarpc.FindNextFileInfo) error) error {
	s := OpenFileStream(ctx, src, cond)
	defer s.Close(ctx)

	for infos := range s.All(ctx) {
		if err := fn(infos); err != nil {
			return err
		}
	}
	return s.Err()
}

// FindFiles enumerates files on a registered camera.
func (r *Registry) FindFiles(ctx context.Context, id int64, cond dahuarpc.Condition, fn func([]dahuarpc.FindNextFileInfo) error) error {
	a, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return ScanFiles(ctx, a, cond, fn)
}

// FileAccess returns the download URL and cookie for a file on a registered
// camera.
func (r *Registry) FileAccess(ctx context.Context, id int64, path string) (FileAccess, error) {
	a, err := r.Get(ctx, id)
	if err != nil {
		return FileAccess{}, err
	}
	return a.FileAccess(ctx, path)
}
