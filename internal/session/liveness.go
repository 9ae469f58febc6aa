package session

import (
	"context"
	"sync/atomic"
)

// Liveness reports whether the caller that started an asynchronous operation
// still wants its result. Check Alive before applying a late result.
type Liveness struct {
	ended atomic.Bool
}

// NewLiveness returns a Liveness that ends when ctx is done.
func NewLiveness(ctx context.Context) *Liveness {
	l := &Liveness{}
	context.AfterFunc(ctx, l.End)
	return l
}

func (l *Liveness) Alive() bool {
	return !l.ended.Load()
}

func (l *Liveness) End() {
	l.ended.Store(true)
}
