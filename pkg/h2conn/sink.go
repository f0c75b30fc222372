package h2conn

import (
	"math"
	"time"

	"github.com/nexthttp/h2engine/pkg/h2frame"
	"github.com/nexthttp/h2engine/pkg/h2stream"
	"github.com/nexthttp/h2engine/pkg/hpack"
)

// OpenStream allocates a new client-initiated stream on this connection and
// arms its read/write watchdog, if cfg.StreamTimeout is set.
func (c *Connection) OpenStream() (*h2stream.Stream, error) {
	s, err := c.streams.CreateStream()
	if err != nil {
		return nil, err
	}
	if c.cfg.StreamTimeout > 0 {
		h2stream.NewWatchdog(s, c.cfg.StreamTimeout, c).Arm()
	}
	return s, nil
}

// WriteRequestHeaders encodes and sends a HEADERS frame, serializing HPACK
// encoding and the frame write together under wmu so two concurrent
// requests on the same connection never interleave dynamic-table updates
// with the bytes that reference them.
func (c *Connection) WriteRequestHeaders(streamID uint32, pseudo, fields []hpack.HeaderField, endStream bool) error {
	c.wmu.Lock()
	block := c.encodeHeaders(pseudo, fields)
	err := c.framer.WriteHeaders(streamID, endStream, block, nil)
	c.wmu.Unlock()
	if err == nil {
		c.touch()
	}
	return err
}

// SendData implements h2stream.FrameSink. It splits p into frames bounded
// by the peer's SETTINGS_MAX_FRAME_SIZE and the connection-level send
// window, blocking while the connection window is exhausted (a per-stream
// window block is already handled by the caller before SendData runs).
func (c *Connection) SendData(streamID uint32, p []byte, endStream bool) (int, error) {
	if len(p) == 0 {
		if endStream {
			c.wmu.Lock()
			err := c.framer.WriteData(streamID, true, nil)
			c.wmu.Unlock()
			if err == nil {
				c.touch()
			}
			return 0, err
		}
		return 0, nil
	}

	written := 0
	for written < len(p) {
		c.mu.Lock()
		for c.connSendWindow <= 0 && !c.closed {
			c.sendCond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return written, errConnectionClosed
		}
		n := len(p) - written
		if int64(n) > c.connSendWindow {
			n = int(c.connSendWindow)
		}
		maxFrame := int(c.peerMaxFrame)
		if maxFrame == 0 {
			maxFrame = h2frame.MinMaxFrameSize
		}
		if n > maxFrame {
			n = maxFrame
		}
		c.connSendWindow -= int64(n)
		c.mu.Unlock()

		chunk := p[written : written+n]
		last := endStream && written+n == len(p)
		c.wmu.Lock()
		err := c.framer.WriteData(streamID, last, chunk)
		c.wmu.Unlock()
		if err != nil {
			return written, err
		}
		written += n
		c.touch()
	}
	return written, nil
}

// SendTrailers implements h2stream.FrameSink: a final HEADERS frame with
// END_STREAM carrying trailers.
func (c *Connection) SendTrailers(streamID uint32, trailers []hpack.HeaderField) error {
	c.wmu.Lock()
	block := c.encodeHeaders(nil, trailers)
	err := c.framer.WriteHeaders(streamID, true, block, nil)
	c.wmu.Unlock()
	if err == nil {
		c.touch()
	}
	return err
}

// SendWindowUpdate implements h2stream.FrameSink.
func (c *Connection) SendWindowUpdate(streamID uint32, increment uint32) error {
	c.wmu.Lock()
	err := c.framer.WriteWindowUpdate(streamID, increment)
	c.wmu.Unlock()
	return err
}

// SendReset implements h2stream.FrameSink.
func (c *Connection) SendReset(streamID uint32, code uint32) error {
	c.wmu.Lock()
	err := c.framer.WriteRSTStream(streamID, h2frame.ErrCode(code))
	c.wmu.Unlock()
	return err
}

// SendDegradedPing implements h2stream.DegradedPinger: a stream watchdog
// firing schedules one of these to probe whether the whole connection, not
// just the one stream, has gone bad.
func (c *Connection) SendDegradedPing() {
	var data [8]byte
	// A nanosecond-derived payload lets a future PING ACK be correlated
	// back to this probe if the caller wants round-trip timing; the low
	// bits are enough entropy to distinguish concurrent probes.
	now := time.Now().UnixNano()
	for i := 0; i < 8; i++ {
		data[i] = byte(now >> (8 * i))
	}
	c.wmu.Lock()
	_ = c.framer.WritePing(false, data)
	c.wmu.Unlock()
}

// creditConnWindow applies an inbound connection-level WINDOW_UPDATE,
// waking any SendData blocked on exhaustion.
func (c *Connection) creditConnWindow(increment uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.connSendWindow + int64(increment)
	if next > math.MaxInt32 {
		return errWindowOverflow
	}
	c.connSendWindow = next
	c.sendCond.Broadcast()
	return nil
}
