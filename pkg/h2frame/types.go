package h2frame

// DataFrame carries request/response body bytes (RFC 7540 §6.1).
type DataFrame struct {
	Header Header
	Data   []byte
}

func (f *DataFrame) Head() Header { return f.Header }

// PriorityParam is the 5-byte priority specification shared by HEADERS and
// PRIORITY frames.
type PriorityParam struct {
	StreamDep uint32
	Exclusive bool
	Weight    uint8 // encoded value + 1 is the actual weight, 1-256
}

// HeadersFrame carries a (possibly continuation-joined) HPACK header block
// fragment (RFC 7540 §6.2). END_HEADERS continuation joining is performed
// transparently by Framer.ReadFrame; a HeadersFrame returned to the caller
// always has the complete block.
type HeadersFrame struct {
	Header   Header
	Priority *PriorityParam
	Fragment []byte
}

func (f *HeadersFrame) Head() Header       { return f.Header }
func (f *HeadersFrame) StreamEnded() bool  { return f.Header.Flags.Has(FlagEndStream) }
func (f *HeadersFrame) HeadersEnded() bool { return f.Header.Flags.Has(FlagEndHeaders) }

// PriorityFrame (RFC 7540 §6.3).
type PriorityFrame struct {
	Header   Header
	Priority PriorityParam
}

func (f *PriorityFrame) Head() Header { return f.Header }

// RSTStreamFrame (RFC 7540 §6.4).
type RSTStreamFrame struct {
	Header  Header
	ErrCode ErrCode
}

func (f *RSTStreamFrame) Head() Header { return f.Header }

// SettingsFrame (RFC 7540 §6.5). An ACK frame has no settings.
type SettingsFrame struct {
	Header   Header
	Settings map[SettingID]uint32
}

func (f *SettingsFrame) Head() Header { return f.Header }
func (f *SettingsFrame) IsAck() bool  { return f.Header.Flags.Has(FlagAck) }

// PushPromiseFrame (RFC 7540 §6.6).
type PushPromiseFrame struct {
	Header    Header
	PromiseID uint32
	Fragment  []byte
}

func (f *PushPromiseFrame) Head() Header       { return f.Header }
func (f *PushPromiseFrame) HeadersEnded() bool { return f.Header.Flags.Has(FlagEndHeaders) }

// PingFrame (RFC 7540 §6.7).
type PingFrame struct {
	Header Header
	Data   [8]byte
}

func (f *PingFrame) Head() Header { return f.Header }
func (f *PingFrame) IsAck() bool  { return f.Header.Flags.Has(FlagAck) }

// GoAwayFrame (RFC 7540 §6.8).
type GoAwayFrame struct {
	Header       Header
	LastStreamID uint32
	ErrCode      ErrCode
	DebugData    []byte
}

func (f *GoAwayFrame) Head() Header { return f.Header }

// WindowUpdateFrame (RFC 7540 §6.9).
type WindowUpdateFrame struct {
	Header    Header
	Increment uint32
}

func (f *WindowUpdateFrame) Head() Header { return f.Header }

// UnknownFrame is surfaced for any frame type not in the ten defined by
// RFC 7540; per §4.1, unknown types MUST be skipped by the receiver, but
// the raw bytes are still handed up in case a caller wants to log them.
type UnknownFrame struct {
	Header  Header
	Payload []byte
}

func (f *UnknownFrame) Head() Header { return f.Header }
