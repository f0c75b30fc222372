package hpack

import "unicode"

// Decoder parses HPACK header blocks emitted by Encoder, maintaining the
// peer-visible dynamic table. One Decoder is owned per connection.
type Decoder struct {
	table *dynamicTable
	max   uint32 // the locally-negotiated ceiling a size-update instruction may not exceed
}

// NewDecoder returns a Decoder with the given initial and maximum dynamic
// table size.
func NewDecoder(maxTableSize uint32) *Decoder {
	return &Decoder{table: newDynamicTable(maxTableSize), max: maxTableSize}
}

// SetMaxTableSize updates the ceiling a peer's dynamic-table-size-update
// instruction may request, used when local SETTINGS change.
func (d *Decoder) SetMaxTableSize(v uint32) {
	d.max = v
	if d.table.max > v {
		d.table.setMaxSize(v)
	}
}

// DecodeFull parses a complete header block (already joined across any
// CONTINUATION frames by the framing layer, §4.1) into an ordered field
// list.
func (d *Decoder) DecodeFull(data []byte) ([]HeaderField, error) {
	var fields []HeaderField
	for len(data) > 0 {
		b := data[0]
		var (
			f   HeaderField
			n   int
			err error
		)
		switch {
		case b&0x80 != 0: // indexed header field
			f, n, err = d.decodeIndexed(data)
		case b&0xc0 == 0x40: // literal with incremental indexing
			f, n, err = d.decodeLiteral(data, 0x40, 6, true)
		case b&0xe0 == 0x20: // dynamic table size update
			n, err = d.decodeSizeUpdate(data)
			data = data[n:]
			if err != nil {
				return nil, err
			}
			continue
		case b&0xf0 == 0x00: // literal without indexing
			f, n, err = d.decodeLiteral(data, 0x00, 4, false)
		case b&0xf0 == 0x10: // literal never indexed
			f, n, err = d.decodeLiteral(data, 0x10, 4, false)
			f.Sensitive = true
		default:
			f, n, err = d.decodeLiteral(data, 0x00, 4, false)
		}
		if err != nil {
			return nil, err
		}
		if !isLowerASCII(f.Name) {
			return nil, errNonLowercaseName
		}
		fields = append(fields, f)
		data = data[n:]
	}
	return fields, nil
}

func (d *Decoder) decodeIndexed(data []byte) (HeaderField, int, error) {
	idx, n, err := readInt(data, 7)
	if err != nil {
		return HeaderField{}, 0, err
	}
	f, err := d.resolveIndex(int(idx))
	return f, n, err
}

func (d *Decoder) resolveIndex(idx int) (HeaderField, error) {
	if idx >= 1 && idx <= staticTableSize {
		return staticTable[idx-1], nil
	}
	if f, ok := d.table.at(idx - staticTableSize - 1); ok {
		return f, nil
	}
	return HeaderField{}, errIndexOutOfRange
}

func (d *Decoder) decodeLiteral(data []byte, firstByteMask byte, prefixBits uint8, index bool) (HeaderField, int, error) {
	idx, n, err := readInt(data, prefixBits)
	if err != nil {
		return HeaderField{}, 0, err
	}
	data = data[n:]
	total := n

	var name string
	if idx == 0 {
		s, consumed, err := decodeString(data)
		if err != nil {
			return HeaderField{}, 0, err
		}
		name = s
		data = data[consumed:]
		total += consumed
	} else {
		f, err := d.resolveIndex(int(idx))
		if err != nil {
			return HeaderField{}, 0, err
		}
		name = f.Name
	}

	value, consumed, err := decodeString(data)
	if err != nil {
		return HeaderField{}, 0, err
	}
	total += consumed

	f := HeaderField{Name: name, Value: value}
	if index {
		d.table.add(f)
	}
	return f, total, nil
}

func (d *Decoder) decodeSizeUpdate(data []byte) (int, error) {
	v, n, err := readInt(data, 5)
	if err != nil {
		return 0, err
	}
	if uint32(v) > d.max {
		return 0, errTableSizeTooLarge
	}
	d.table.setMaxSize(uint32(v))
	return n, nil
}

// decodeString reads one RFC 7541 §5.2 string literal (Huffman flag in the
// high bit of the length prefix).
func decodeString(data []byte) (string, int, error) {
	if len(data) == 0 {
		return "", 0, errTruncatedInput
	}
	huff := data[0]&0x80 != 0
	l, n, err := readInt(data, 7)
	if err != nil {
		return "", 0, err
	}
	total := n + int(l)
	if total > len(data) {
		return "", 0, errTruncatedInput
	}
	raw := data[n:total]
	if huff {
		s, err := huffmanDecode(raw)
		if err != nil {
			return "", 0, err
		}
		return s, total, nil
	}
	return string(raw), total, nil
}

func isLowerASCII(s string) bool {
	for _, r := range s {
		if r == ':' {
			continue
		}
		if r > unicode.MaxASCII {
			return false
		}
		if unicode.IsUpper(r) {
			return false
		}
	}
	return true
}
