package ops

import "context"

// Throttle serializes reads from shared instrument storage. Acquire blocks
// until path may be read and returns the function that gives the slot back.
type Throttle interface {
	Acquire(ctx context.Context, path string) (release func(), err error)
}

// NoThrottle never blocks.
type NoThrottle struct{}

func (NoThrottle) Acquire(ctx context.Context, path string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func() {}, nil
}

// SemaphoreThrottle allows at most a fixed number of concurrent readers.
type SemaphoreThrottle struct {
	slots chan struct{}
}

func NewSemaphoreThrottle(n int) *SemaphoreThrottle {
	if n < 1 {
		n = 1
	}
	return &SemaphoreThrottle{slots: make(chan struct{}, n)}
}

func (st *SemaphoreThrottle) Acquire(ctx context.Context, path string) (func(), error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case st.slots <- struct{}{}:
		return func() { <-st.slots }, nil
	}
}
