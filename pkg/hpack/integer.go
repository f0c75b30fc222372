package hpack

// appendInt appends the RFC 7541 §5.1 prefix-encoded integer n to dst,
// using the low prefixBits of the first byte (the caller has already set
// any leading instruction bits into firstByte's high bits).
func appendInt(dst []byte, firstByte byte, prefixBits uint8, n uint64) []byte {
	max := uint64(1<<prefixBits) - 1
	if n < max {
		return append(dst, firstByte|byte(n))
	}
	dst = append(dst, firstByte|byte(max))
	n -= max
	for n >= 128 {
		dst = append(dst, byte(n%128+128))
		n /= 128
	}
	return append(dst, byte(n))
}

// readInt decodes a prefix-encoded integer starting at data[0], whose low
// prefixBits bits hold the prefix value. Returns the integer and the
// number of bytes consumed.
func readInt(data []byte, prefixBits uint8) (uint64, int, error) {
	if len(data) == 0 {
		return 0, 0, errTruncatedInput
	}
	max := uint64(1<<prefixBits) - 1
	n := uint64(data[0]) & max
	if n < max {
		return n, 1, nil
	}
	var m uint64
	for i := 1; ; i++ {
		if i >= len(data) {
			return 0, 0, errTruncatedInput
		}
		b := data[i]
		n += uint64(b&0x7f) << m
		if n > 1<<32 {
			return 0, 0, errIntegerOverflow
		}
		m += 7
		if b&0x80 == 0 {
			return n, i + 1, nil
		}
	}
}
