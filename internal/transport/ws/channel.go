package ws

import (
	"context"
	"sync"

	"github.com/HyphaGroup/agentrelay/internal/transport"
)

// channel carries the frames of one generation on the shared socket
type channel struct {
	t *Transport

	// awaitingStart drops leftover frames of an abandoned generation until
	// this one's stream_start; guarded by Transport.mu
	awaitingStart bool

	mu     sync.Mutex
	frames chan []byte
	ended  bool

	doneOnce sync.Once
	done     chan struct{}
}

var _ transport.Channel = (*channel)(nil)

func newChannel(t *Transport) *channel {
	return &channel{
		t:      t,
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

func (c *channel) Frames() <-chan []byte {
	return c.frames
}

// StreamID is empty: the socket protocol has no server stream identifier
func (c *channel) StreamID() string {
	return ""
}

// Cancel is local-only on this transport. The dispatcher has no cancel
// message, so the generation keeps running server-side and its remaining
// frames are dropped once the channel is closed.
func (c *channel) Cancel(ctx context.Context) error {
	return nil
}

func (c *channel) Close() error {
	c.t.detach(c)
	c.end()
	return nil
}

// deliver blocks until the consumer takes the frame or the channel ends
func (c *channel) deliver(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	select {
	case c.frames <- frame:
	case <-c.done:
	}
}

// end closes Frames. Safe to call more than once and concurrently with deliver.
func (c *channel) end() {
	c.doneOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ended {
		c.ended = true
		close(c.frames)
	}
}
