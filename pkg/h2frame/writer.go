package h2frame

import (
	"encoding/binary"
)

func (fr *Framer) writeRaw(typ Type, flags Flags, streamID uint32, payload []byte) error {
	fr.wmu.Lock()
	defer fr.wmu.Unlock()
	return fr.writeRawLocked(typ, flags, streamID, payload)
}

// writeRawLocked assumes fr.wmu is already held; used internally so a
// HEADERS+CONTINUATION burst is written atomically under one lock
// acquisition (SPEC_FULL §4.4: "spills into CONTINUATION frames atomically
// under the writer lock").
func (fr *Framer) writeRawLocked(typ Type, flags Flags, streamID uint32, payload []byte) error {
	var hdr [HeaderLen]byte
	writeHeader(hdr[:], uint32(len(payload)), typ, flags, streamID)
	if _, err := fr.w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := fr.w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// WritePreface writes the 24-byte client connection preface.
func (fr *Framer) WritePreface() error {
	fr.wmu.Lock()
	defer fr.wmu.Unlock()
	_, err := fr.w.Write(Preface)
	return err
}

// WriteData writes a single DATA frame. Splitting across the negotiated
// send window/max-frame-size is the stream engine's responsibility (C3);
// this call always emits exactly one frame.
func (fr *Framer) WriteData(streamID uint32, endStream bool, data []byte) error {
	var flags Flags
	if endStream {
		flags |= FlagEndStream
	}
	return fr.writeRaw(TypeData, flags, streamID, data)
}

// WriteHeaders writes a HEADERS frame, splitting the header block into
// CONTINUATION frames if it exceeds MaxWriteFrameSize. The whole burst is
// written under a single writer-lock acquisition.
func (fr *Framer) WriteHeaders(streamID uint32, endStream bool, headerBlock []byte, priority *PriorityParam) error {
	fr.wmu.Lock()
	defer fr.wmu.Unlock()

	max := fr.MaxWriteFrameSize
	if max == 0 {
		max = MinMaxFrameSize
	}

	payload := headerBlock
	extra := 0
	if priority != nil {
		extra = 5
	}
	first := payload
	rest := []byte(nil)
	if uint32(len(first))+uint32(extra) > max {
		n := int(max) - extra
		if n < 0 {
			n = 0
		}
		first, rest = payload[:n], payload[n:]
	}

	flags := Flags(0)
	if endStream {
		flags |= FlagEndStream
	}
	if len(rest) == 0 {
		flags |= FlagEndHeaders
	}

	var buf []byte
	if priority != nil {
		flags |= FlagPriority
		buf = make([]byte, 5+len(first))
		dep := priority.StreamDep & streamIDMask
		if priority.Exclusive {
			dep |= 0x80000000
		}
		binary.BigEndian.PutUint32(buf[:4], dep)
		buf[4] = priority.Weight
		copy(buf[5:], first)
	} else {
		buf = first
	}

	if err := fr.writeRawLocked(TypeHeaders, flags, streamID, buf); err != nil {
		return err
	}

	for len(rest) > 0 {
		n := uint32(len(rest))
		if n > max {
			n = max
		}
		chunk := rest[:n]
		rest = rest[n:]
		cflags := Flags(0)
		if len(rest) == 0 {
			cflags |= FlagEndHeaders
		}
		if err := fr.writeRawLocked(TypeContinuation, cflags, streamID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// WritePriority writes a PRIORITY frame.
func (fr *Framer) WritePriority(streamID uint32, p PriorityParam) error {
	buf := make([]byte, 5)
	dep := p.StreamDep & streamIDMask
	if p.Exclusive {
		dep |= 0x80000000
	}
	binary.BigEndian.PutUint32(buf[:4], dep)
	buf[4] = p.Weight
	return fr.writeRaw(TypePriority, 0, streamID, buf)
}

// WriteRSTStream writes an RST_STREAM frame.
func (fr *Framer) WriteRSTStream(streamID uint32, code ErrCode) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(code))
	return fr.writeRaw(TypeRSTStream, 0, streamID, buf)
}

// WriteSettings writes a non-ACK SETTINGS frame listing the given values.
func (fr *Framer) WriteSettings(settings map[SettingID]uint32) error {
	buf := make([]byte, 0, 6*len(settings))
	for id, val := range settings {
		var entry [6]byte
		binary.BigEndian.PutUint16(entry[:2], uint16(id))
		binary.BigEndian.PutUint32(entry[2:], val)
		buf = append(buf, entry[:]...)
	}
	return fr.writeRaw(TypeSettings, 0, 0, buf)
}

// WriteSettingsAck writes an empty-payload SETTINGS frame with ACK set.
func (fr *Framer) WriteSettingsAck() error {
	return fr.writeRaw(TypeSettings, FlagAck, 0, nil)
}

// WritePing writes a PING frame, optionally as an ACK.
func (fr *Framer) WritePing(ack bool, data [8]byte) error {
	var flags Flags
	if ack {
		flags = FlagAck
	}
	return fr.writeRaw(TypePing, flags, 0, data[:])
}

// WriteGoAway writes a GOAWAY frame.
func (fr *Framer) WriteGoAway(lastStreamID uint32, code ErrCode, debugData []byte) error {
	buf := make([]byte, 8+len(debugData))
	binary.BigEndian.PutUint32(buf[:4], lastStreamID&streamIDMask)
	binary.BigEndian.PutUint32(buf[4:8], uint32(code))
	copy(buf[8:], debugData)
	return fr.writeRaw(TypeGoAway, 0, 0, buf)
}

// WriteWindowUpdate writes a WINDOW_UPDATE frame on the given stream (0
// for connection-level).
func (fr *Framer) WriteWindowUpdate(streamID uint32, increment uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, increment&streamIDMask)
	return fr.writeRaw(TypeWindowUpdate, 0, streamID, buf)
}
