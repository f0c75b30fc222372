package h2frame

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// Framer reads and writes HTTP/2 frames over a byte socket. All writes are
// serialized by wmu, matching the connection engine's writer→connection
// lock ordering (SPEC_FULL §5): callers acquire the connection lock first,
// then call into the Framer, which takes its own writer lock for the
// duration of one frame (or one HEADERS+CONTINUATION burst).
type Framer struct {
	r io.Reader
	w io.Writer

	wmu sync.Mutex

	// MaxReadFrameSize bounds frames this Framer will accept; defaults to
	// the RFC 7540 minimum (16384) until a larger SETTINGS_MAX_FRAME_SIZE
	// is negotiated locally.
	MaxReadFrameSize uint32
	// MaxWriteFrameSize bounds what this Framer will emit in one frame
	// before spilling a HEADERS block into CONTINUATION frames; set from
	// the peer's negotiated SETTINGS_MAX_FRAME_SIZE.
	MaxWriteFrameSize uint32

	headerBuf [HeaderLen]byte
}

// NewFramer constructs a Framer with RFC 7540 default frame size limits.
func NewFramer(r io.Reader, w io.Writer) *Framer {
	return &Framer{
		r:                 r,
		w:                 w,
		MaxReadFrameSize:  MinMaxFrameSize,
		MaxWriteFrameSize: MinMaxFrameSize,
	}
}

// ReadFrame reads and decodes exactly one logical frame. HEADERS and
// PUSH_PROMISE frames missing END_HEADERS are transparently joined with
// any following CONTINUATION frames (RFC 7540 §6.10): the codec forbids
// interleaving, so a CONTINUATION for a different stream id is a
// PROTOCOL_ERROR.
func (fr *Framer) ReadFrame() (Frame, error) {
	hdr, payload, err := fr.readRaw()
	if err != nil {
		return nil, err
	}

	switch hdr.Type {
	case TypeData:
		return fr.parseData(hdr, payload)
	case TypeHeaders:
		return fr.parseHeaders(hdr, payload)
	case TypePriority:
		return fr.parsePriority(hdr, payload)
	case TypeRSTStream:
		return fr.parseRSTStream(hdr, payload)
	case TypeSettings:
		return fr.parseSettings(hdr, payload)
	case TypePushPromise:
		return fr.parsePushPromise(hdr, payload)
	case TypePing:
		return fr.parsePing(hdr, payload)
	case TypeGoAway:
		return fr.parseGoAway(hdr, payload)
	case TypeWindowUpdate:
		return fr.parseWindowUpdate(hdr, payload)
	case TypeContinuation:
		return nil, fmt.Errorf("h2frame: unexpected standalone CONTINUATION on stream %d", hdr.StreamID)
	default:
		return &UnknownFrame{Header: hdr, Payload: payload}, nil
	}
}

func (fr *Framer) readRaw() (Header, []byte, error) {
	if _, err := io.ReadFull(fr.r, fr.headerBuf[:]); err != nil {
		return Header{}, nil, err
	}
	hdr := parseHeader(fr.headerBuf[:])
	if fr.MaxReadFrameSize != 0 && hdr.Length > fr.MaxReadFrameSize {
		return Header{}, nil, fmt.Errorf("h2frame: frame length %d exceeds max %d", hdr.Length, fr.MaxReadFrameSize)
	}
	payload := make([]byte, hdr.Length)
	if hdr.Length > 0 {
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return Header{}, nil, err
		}
	}
	return hdr, payload, nil
}

func (fr *Framer) parseData(hdr Header, payload []byte) (*DataFrame, error) {
	if hdr.StreamID == 0 {
		return nil, fmt.Errorf("h2frame: DATA on stream 0")
	}
	data := payload
	if hdr.Flags.Has(FlagPadded) {
		if len(payload) < 1 {
			return nil, fmt.Errorf("h2frame: DATA too short for PADDED flag")
		}
		padLen := payload[0]
		var err error
		data, err = stripPadding(payload[1:], padLen)
		if err != nil {
			return nil, err
		}
	}
	return &DataFrame{Header: hdr, Data: data}, nil
}

func (fr *Framer) parseHeaders(hdr Header, payload []byte) (*HeadersFrame, error) {
	if hdr.StreamID == 0 {
		return nil, fmt.Errorf("h2frame: HEADERS on stream 0")
	}
	body := payload
	var padLen uint8
	if hdr.Flags.Has(FlagPadded) {
		if len(body) < 1 {
			return nil, fmt.Errorf("h2frame: HEADERS too short for PADDED flag")
		}
		padLen = body[0]
		body = body[1:]
	}
	var pri *PriorityParam
	if hdr.Flags.Has(FlagPriority) {
		if len(body) < 5 {
			return nil, fmt.Errorf("h2frame: HEADERS too short for PRIORITY flag")
		}
		raw := binary.BigEndian.Uint32(body[:4])
		pri = &PriorityParam{
			StreamDep: raw & streamIDMask,
			Exclusive: raw&0x80000000 != 0,
			Weight:    body[4],
		}
		body = body[5:]
	}
	if padLen > 0 {
		var err error
		body, err = stripPadding(body, padLen)
		if err != nil {
			return nil, err
		}
	}
	f := &HeadersFrame{Header: hdr, Priority: pri, Fragment: append([]byte(nil), body...)}

	for !f.HeadersEnded() {
		chdr, cpayload, err := fr.readRaw()
		if err != nil {
			return nil, err
		}
		if chdr.Type != TypeContinuation {
			return nil, fmt.Errorf("h2frame: expected CONTINUATION on stream %d, got %s", hdr.StreamID, chdr.Type)
		}
		if chdr.StreamID != hdr.StreamID {
			return nil, fmt.Errorf("h2frame: CONTINUATION stream id %d does not match HEADERS stream %d", chdr.StreamID, hdr.StreamID)
		}
		f.Fragment = append(f.Fragment, cpayload...)
		if chdr.Flags.Has(FlagEndHeaders) {
			f.Header.Flags |= FlagEndHeaders
		}
	}
	return f, nil
}

func (fr *Framer) parsePriority(hdr Header, payload []byte) (*PriorityFrame, error) {
	if len(payload) != 5 {
		return nil, fmt.Errorf("h2frame: PRIORITY frame must be 5 bytes, got %d", len(payload))
	}
	raw := binary.BigEndian.Uint32(payload[:4])
	return &PriorityFrame{
		Header: hdr,
		Priority: PriorityParam{
			StreamDep: raw & streamIDMask,
			Exclusive: raw&0x80000000 != 0,
			Weight:    payload[4],
		},
	}, nil
}

func (fr *Framer) parseRSTStream(hdr Header, payload []byte) (*RSTStreamFrame, error) {
	if len(payload) != 4 {
		return nil, fmt.Errorf("h2frame: RST_STREAM frame must be 4 bytes, got %d", len(payload))
	}
	return &RSTStreamFrame{Header: hdr, ErrCode: ErrCode(binary.BigEndian.Uint32(payload))}, nil
}

func (fr *Framer) parseSettings(hdr Header, payload []byte) (*SettingsFrame, error) {
	if hdr.Flags.Has(FlagAck) {
		if len(payload) != 0 {
			return nil, fmt.Errorf("h2frame: SETTINGS ACK must be empty")
		}
		return &SettingsFrame{Header: hdr}, nil
	}
	if len(payload)%6 != 0 {
		return nil, fmt.Errorf("h2frame: SETTINGS length %d not a multiple of 6", len(payload))
	}
	settings := make(map[SettingID]uint32, len(payload)/6)
	for i := 0; i+6 <= len(payload); i += 6 {
		id := SettingID(binary.BigEndian.Uint16(payload[i : i+2]))
		val := binary.BigEndian.Uint32(payload[i+2 : i+6])
		settings[id] = val
	}
	return &SettingsFrame{Header: hdr, Settings: settings}, nil
}

func (fr *Framer) parsePushPromise(hdr Header, payload []byte) (*PushPromiseFrame, error) {
	body := payload
	var padLen uint8
	if hdr.Flags.Has(FlagPadded) {
		if len(body) < 1 {
			return nil, fmt.Errorf("h2frame: PUSH_PROMISE too short for PADDED flag")
		}
		padLen = body[0]
		body = body[1:]
	}
	if len(body) < 4 {
		return nil, fmt.Errorf("h2frame: PUSH_PROMISE too short for promised stream id")
	}
	promiseID := binary.BigEndian.Uint32(body[:4]) & streamIDMask
	body = body[4:]
	if padLen > 0 {
		var err error
		body, err = stripPadding(body, padLen)
		if err != nil {
			return nil, err
		}
	}
	f := &PushPromiseFrame{Header: hdr, PromiseID: promiseID, Fragment: append([]byte(nil), body...)}
	for !f.HeadersEnded() {
		chdr, cpayload, err := fr.readRaw()
		if err != nil {
			return nil, err
		}
		if chdr.Type != TypeContinuation || chdr.StreamID != hdr.StreamID {
			return nil, fmt.Errorf("h2frame: expected CONTINUATION on stream %d", hdr.StreamID)
		}
		f.Fragment = append(f.Fragment, cpayload...)
		if chdr.Flags.Has(FlagEndHeaders) {
			f.Header.Flags |= FlagEndHeaders
		}
	}
	return f, nil
}

func (fr *Framer) parsePing(hdr Header, payload []byte) (*PingFrame, error) {
	if len(payload) != 8 {
		return nil, fmt.Errorf("h2frame: PING frame must be 8 bytes, got %d", len(payload))
	}
	f := &PingFrame{Header: hdr}
	copy(f.Data[:], payload)
	return f, nil
}

func (fr *Framer) parseGoAway(hdr Header, payload []byte) (*GoAwayFrame, error) {
	if len(payload) < 8 {
		return nil, fmt.Errorf("h2frame: GOAWAY frame too short: %d bytes", len(payload))
	}
	return &GoAwayFrame{
		Header:       hdr,
		LastStreamID: binary.BigEndian.Uint32(payload[:4]) & streamIDMask,
		ErrCode:      ErrCode(binary.BigEndian.Uint32(payload[4:8])),
		DebugData:    append([]byte(nil), payload[8:]...),
	}, nil
}

func (fr *Framer) parseWindowUpdate(hdr Header, payload []byte) (*WindowUpdateFrame, error) {
	if len(payload) != 4 {
		return nil, fmt.Errorf("h2frame: WINDOW_UPDATE frame must be 4 bytes, got %d", len(payload))
	}
	return &WindowUpdateFrame{Header: hdr, Increment: binary.BigEndian.Uint32(payload) & streamIDMask}, nil
}
