package feed

import (
	"context"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Chan is an in-process feed. It backs tests and replays of recorded detections.
type Chan struct {
	items chan item
	once  sync.Once
	done  chan struct{}
}

type item struct {
	d   facematch.Detection
	err error
}

// NewChan creates a feed buffering up to size detections.
func NewChan(size int) *Chan {
	return &Chan{items: make(chan item, size), done: make(chan struct{})}
}

// Send queues a detection. It blocks while the buffer is full and returns
// false if the feed was closed.
func (c *Chan) Send(d facematch.Detection) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.items <- item{d: d}:
		return true
	case <-c.done:
		return false
	}
}

// Fail makes the next read return err wrapped as a feed failure.
func (c *Chan) Fail(err error) bool {
	select {
	case c.items <- item{err: failure("injected", err)}:
		return true
	case <-c.done:
		return false
	}
}

// Next implements Feed.
func (c *Chan) Next(ctx context.Context) (facematch.Detection, error) {
	select {
	case <-ctx.Done():
		return facematch.Detection{}, ctx.Err()
	case <-c.done:
		return facematch.Detection{}, failure("read", errClosed)
	case it := <-c.items:
		return it.d, it.err
	}
}

// Close implements Feed.
func (c *Chan) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
