package h2conn

import (
	"io"

	"github.com/nexthttp/h2engine/pkg/errors"
	"github.com/nexthttp/h2engine/pkg/h2frame"
)

// readLoop is the connection's single reader task (SPEC_FULL §4.4): it
// decodes one frame at a time and dispatches by type until the socket
// errors or the connection is closed locally. Grounded in the teacher's
// client.go readResponse switch, generalized from "read until this one
// stream finishes" to "read for the life of the connection, routing each
// frame to whichever stream it names."
func (c *Connection) readLoop() {
	var cause error
	defer func() {
		c.teardown(cause)
	}()

	for {
		frame, err := c.framer.ReadFrame()
		if err != nil {
			if err == io.EOF {
				cause = errConnectionClosed
			} else {
				cause = errors.NewIOError("reading frame", err)
			}
			return
		}
		c.touch()

		if err := c.dispatch(frame); err != nil {
			cause = err
			return
		}
	}
}

func (c *Connection) dispatch(frame h2frame.Frame) error {
	switch f := frame.(type) {
	case *h2frame.DataFrame:
		return c.handleData(f)
	case *h2frame.HeadersFrame:
		return c.handleHeaders(f)
	case *h2frame.RSTStreamFrame:
		if s, ok := c.streams.GetStream(f.Header.StreamID); ok {
			s.RecordReset(uint32(f.ErrCode))
		}
		return nil
	case *h2frame.SettingsFrame:
		return c.handleSettings(f)
	case *h2frame.PushPromiseFrame:
		return c.handlePushPromise(f)
	case *h2frame.PingFrame:
		if !f.IsAck() {
			c.wmu.Lock()
			err := c.framer.WritePing(true, f.Data)
			c.wmu.Unlock()
			return err
		}
		return nil
	case *h2frame.GoAwayFrame:
		c.mu.Lock()
		c.goAwayRecv = true
		c.lastGoodStream = f.LastStreamID
		c.mu.Unlock()
		c.streams.RefuseStreamsAbove(f.LastStreamID)
		if c.listener != nil {
			c.listener.OnGoAway(f.LastStreamID, f.ErrCode)
		}
		return nil
	case *h2frame.WindowUpdateFrame:
		return c.handleWindowUpdate(f)
	case *h2frame.PriorityFrame, *h2frame.UnknownFrame:
		return nil // PRIORITY parsed but not acted on; unknown types are skipped per RFC 7540 §4.1
	default:
		return nil
	}
}

func (c *Connection) handleData(f *h2frame.DataFrame) error {
	s, ok := c.streams.GetStream(f.Header.StreamID)
	if !ok {
		c.wmu.Lock()
		err := c.framer.WriteRSTStream(f.Header.StreamID, h2frame.ErrCodeStreamClosed)
		c.wmu.Unlock()
		return err
	}
	endStream := f.Header.Flags.Has(h2frame.FlagEndStream)
	if err := s.DeliverData(f.Data, endStream); err != nil {
		return nil // flow-control violation on one stream doesn't tear down the connection; the stream already recorded the error
	}
	if len(f.Data) > 0 {
		c.mu.Lock()
		c.connRecvWindow -= int64(len(f.Data))
		needsCredit := c.connRecvWindow < int64(c.cfg.InitialWindowSize)/2
		c.mu.Unlock()
		if needsCredit {
			c.wmu.Lock()
			c.connRecvWindow += int64(c.cfg.InitialWindowSize)
			err := c.framer.WriteWindowUpdate(0, c.cfg.InitialWindowSize)
			c.wmu.Unlock()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Connection) handleHeaders(f *h2frame.HeadersFrame) error {
	s, ok := c.streams.GetStream(f.Header.StreamID)
	if !ok {
		c.wmu.Lock()
		err := c.framer.WriteRSTStream(f.Header.StreamID, h2frame.ErrCodeStreamClosed)
		c.wmu.Unlock()
		return err
	}
	fields, err := c.decoder.DecodeFull(f.Fragment)
	if err != nil {
		return errors.NewProtocolError("decoding response headers", err)
	}
	s.DeliverHeaders(fields, f.StreamEnded())
	return nil
}

func (c *Connection) handleSettings(f *h2frame.SettingsFrame) error {
	if f.IsAck() {
		return nil
	}
	c.applyPeerSettings(f.Settings)
	c.wmu.Lock()
	err := c.framer.WriteSettingsAck()
	c.wmu.Unlock()
	return err
}

func (c *Connection) handleWindowUpdate(f *h2frame.WindowUpdateFrame) error {
	if f.Header.StreamID == 0 {
		return c.creditConnWindow(f.Increment)
	}
	if s, ok := c.streams.GetStream(f.Header.StreamID); ok {
		return s.ApplyWindowUpdate(f.Increment)
	}
	return nil
}

func (c *Connection) handlePushPromise(f *h2frame.PushPromiseFrame) error {
	fields, err := c.decoder.DecodeFull(f.Fragment)
	if err != nil {
		return errors.NewProtocolError("decoding push promise headers", err)
	}
	accept := c.listener != nil && c.listener.OnPushPromise(f.PromiseID, fields)
	if !accept {
		c.wmu.Lock()
		err := c.framer.WriteRSTStream(f.PromiseID, h2frame.ErrCodeRefusedStream)
		c.wmu.Unlock()
		return err
	}
	_, err = c.streams.AdoptPeerStream(f.PromiseID)
	return err
}

// teardown runs once when the reader loop exits: it resets every live
// stream with the terminal cause and notifies the listener.
func (c *Connection) teardown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.sendCond.Broadcast()
	c.streams.CloseAll(uint32(h2frame.ErrCodeInternal), cause)
	close(c.doneCh)
	if c.listener != nil {
		c.listener.OnClosed(cause)
	}
	c.log.Warnf("h2conn: connection closed: %v", cause)
}
