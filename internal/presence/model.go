package presence

import (
	"context"
	"errors"
	"sync"
)

// Detection is a single face found in a frame.
type Detection struct {
	Score float64
	X, Y  int
	W, H  int
}

// Model runs single-face detection. A nil Detection with nil error means no face.
type Model interface {
	DetectSingleFace(ctx context.Context, f Frame) (*Detection, error)
}

type LoadFunc func(ctx context.Context) (Model, error)

type CacheState int

const (
	Uninitialized CacheState = iota
	Loading
	Ready
	Failed
)

func (s CacheState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "uninitialized"
	}
}

var ErrModelLoad = errors.New("face model failed to load")

// ModelCache holds a lazily loaded model shared by every detector in the process.
// It is loaded at most once and is never torn down while the process runs;
// Release only drops the reference count.
type ModelCache struct {
	mu    sync.Mutex
	state CacheState
	model Model
	err   error
	done  chan struct{}
	refs  int
}

var shared = &ModelCache{}

// SharedModels returns the process-wide cache.
func SharedModels() *ModelCache { return shared }

// Acquire returns the cached model, loading it with load on first use.
// Concurrent callers during a load wait for the same result.
func (c *ModelCache) Acquire(ctx context.Context, load LoadFunc) (Model, error) {
	c.mu.Lock()
	switch c.state {
	case Ready:
		c.refs++
		m := c.model
		c.mu.Unlock()
		return m, nil
	case Failed:
		err := c.err
		c.mu.Unlock()
		return nil, err
	case Loading:
		done := c.done
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return c.Acquire(ctx, load)
	}

	c.state = Loading
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	// Detached from the first caller: every waiter shares this result.
	m, err := load(context.WithoutCancel(ctx))

	c.mu.Lock()
	if err != nil {
		c.state = Failed
		c.err = errors.Join(ErrModelLoad, err)
	} else {
		c.state = Ready
		c.model = m
		c.refs++
	}
	resErr := c.err
	close(done)
	c.mu.Unlock()

	if err != nil {
		return nil, resErr
	}
	return m, nil
}

func (c *ModelCache) Release() {
	c.mu.Lock()
	if c.refs > 0 {
		c.refs--
	}
	c.mu.Unlock()
}

func (c *ModelCache) State() CacheState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *ModelCache) Refs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs
}

// Reset returns the cache to Uninitialized. Tests only; production never tears the model down.
func (c *ModelCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Uninitialized
	c.model = nil
	c.err = nil
	c.done = nil
	c.refs = 0
}
