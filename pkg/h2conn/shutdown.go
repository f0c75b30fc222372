package h2conn

import (
	"github.com/nexthttp/h2engine/pkg/errors"
	"github.com/nexthttp/h2engine/pkg/h2frame"
)

// Shutdown sends GOAWAY with code and stops accepting new streams, but
// leaves the socket open for in-flight streams to finish (SPEC_FULL §4.4).
// The reader loop keeps running until the peer closes the socket or Close
// is called.
func (c *Connection) Shutdown(code h2frame.ErrCode) error {
	c.mu.Lock()
	if c.goAwaySent {
		c.mu.Unlock()
		return nil
	}
	c.goAwaySent = true
	lastGood := c.lastGoodStream
	c.mu.Unlock()

	c.wmu.Lock()
	err := c.framer.WriteGoAway(lastGood, code, nil)
	c.wmu.Unlock()
	return err
}

// Close tears the connection down immediately: every active stream is
// reset with the given code and the socket is closed, waking the reader
// loop with an error it treats as a normal exit.
func (c *Connection) Close(code h2frame.ErrCode) error {
	var err error
	c.closeOnce.Do(func() {
		c.streams.CloseAll(uint32(code), errors.NewConnectionShutdownError(c.netConn.RemoteAddr().String(), uint32(code)))
		err = c.netConn.Close()
	})
	return err
}

// Done returns a channel closed once the reader loop has exited.
func (c *Connection) Done() <-chan struct{} {
	return c.doneCh
}

// IsClosed reports whether the connection has torn down.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// GoAwayReceived reports whether the peer has sent GOAWAY, and if so, the
// last stream id it guarantees processing for.
func (c *Connection) GoAwayReceived() (received bool, lastGoodStreamID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goAwayRecv, c.lastGoodStream
}

// CanOpenStream reports whether this connection may still accept a new
// client-initiated stream: no GOAWAY sent or received, and the connection
// hasn't closed.
func (c *Connection) CanOpenStream() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && !c.goAwaySent && !c.goAwayRecv
}
