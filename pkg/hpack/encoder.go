package hpack

import "strings"

// Encoder emits HPACK header blocks, maintaining its own view of the
// dynamic table. One Encoder is owned per connection (C4), matching the
// teacher's per-connection hpack.Encoder in pkg/http2/types.go.
type Encoder struct {
	table *dynamicTable
	buf   []byte
}

// NewEncoder returns an Encoder with the given initial dynamic table size
// (SETTINGS_HEADER_TABLE_SIZE, default 4096 per pkg/constants).
func NewEncoder(maxTableSize uint32) *Encoder {
	return &Encoder{table: newDynamicTable(maxTableSize)}
}

// SetMaxDynamicTableSize applies a locally-decided table size change,
// queuing a dynamic-table-size-update instruction on the next WriteField.
func (e *Encoder) SetMaxDynamicTableSize(v uint32) {
	e.table.setMaxSize(v)
	e.buf = appendInt(e.buf, 0x20, 5, uint64(v))
}

// WriteField encodes one header field, appending to the encoder's internal
// buffer. Call Bytes to retrieve (and optionally reset) the buffer once a
// full header block has been written.
func (e *Encoder) WriteField(f HeaderField) {
	name := strings.ToLower(f.Name)

	if idx, ok := staticFieldIndex[HeaderField{Name: name, Value: f.Value}]; ok && !f.Sensitive {
		e.buf = appendInt(e.buf, 0x80, 7, uint64(idx))
		return
	}
	if idx, ok := e.table.lookupByNameValue(name, f.Value); ok && !f.Sensitive {
		e.buf = appendInt(e.buf, 0x80, 7, uint64(staticTableSize+idx+1))
		return
	}

	nameIdx, nameIndexed := staticNameIndex[name]
	if !nameIndexed {
		if idx, ok := e.table.lookupByName(name); ok {
			nameIdx, nameIndexed = staticTableSize+idx+1, true
		}
	}

	switch {
	case f.Sensitive:
		e.writeLiteral(0x10, 4, nameIdx, nameIndexed, name, f.Value)
	case f.Name == ":authority" || isIndexableHeader(name):
		e.writeLiteral(0x40, 6, nameIdx, nameIndexed, name, f.Value)
		e.table.add(HeaderField{Name: name, Value: f.Value})
	default:
		e.writeLiteral(0x00, 4, nameIdx, nameIndexed, name, f.Value)
	}
}

// isIndexableHeader excludes headers that churn the dynamic table for no
// benefit (cookie/authorization carry unique values per request and would
// just evict useful shared entries); everything else gets incremental
// indexing so repeat requests on the same connection shrink quickly.
// Pseudo-headers other than :authority are never indexed here either
// (SPEC_FULL §4.2): :path and :status carry a near-unique value per
// request/response and :authority is special-cased by the caller instead.
func isIndexableHeader(name string) bool {
	if strings.HasPrefix(name, ":") {
		return false
	}
	switch name {
	case "authorization", "cookie", "set-cookie":
		return false
	default:
		return true
	}
}

func (e *Encoder) writeLiteral(firstByte byte, prefixBits uint8, nameIdx int, nameIndexed bool, name, value string) {
	if nameIndexed {
		e.buf = appendInt(e.buf, firstByte, prefixBits, uint64(nameIdx))
	} else {
		e.buf = append(e.buf, firstByte)
		e.buf = e.appendString(name)
	}
	e.buf = e.appendString(value)
}

// appendString appends a header string literal, preferring Huffman coding
// when it is strictly smaller (RFC 7541 §5.2).
func (e *Encoder) appendString(s string) []byte {
	huff := huffmanEncodedLen(s)
	if huff < len(s) {
		dst := appendInt(e.buf, 0x80, 7, uint64(huff))
		return append(dst, huffmanEncode(s)...)
	}
	dst := appendInt(e.buf, 0x00, 7, uint64(len(s)))
	return append(dst, s...)
}

// Bytes returns the accumulated header block and clears the internal buffer.
func (e *Encoder) Bytes() []byte {
	b := e.buf
	e.buf = nil
	return b
}
