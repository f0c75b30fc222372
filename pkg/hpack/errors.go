package hpack

import "errors"

var (
	errInvalidHuffmanCode  = errors.New("hpack: invalid huffman code")
	errIndexOutOfRange     = errors.New("hpack: header field index out of range")
	errTableSizeTooLarge   = errors.New("hpack: dynamic table size update exceeds negotiated maximum")
	errIntegerOverflow     = errors.New("hpack: integer literal overflows 32 bits")
	errTruncatedInput      = errors.New("hpack: truncated header block")
	errNonLowercaseName    = errors.New("hpack: header field name must be lowercase ASCII")
)
