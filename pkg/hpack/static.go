// Package hpack implements RFC 7541 HPACK header compression from scratch:
// the 61-entry static table, a dynamic table with FIFO eviction bounded by
// a negotiated byte budget, the five instruction forms, integer prefix
// encoding, and Huffman string coding.
//
// No example in the retrieval pack implements HPACK or Huffman coding, so
// this package is grounded in RFC 7541 text directly rather than pack
// precedent (see DESIGN.md). The encoder/decoder calling convention
// (Encoder.WriteField, Decoder accumulating emitted fields) mirrors the
// teacher's use of golang.org/x/net/http2/hpack in pkg/http2/converter.go.
package hpack

// HeaderField is one (name, value) pair, optionally marked sensitive so it
// is always encoded as a never-indexed literal (RFC 7541 §6.2.3).
type HeaderField struct {
	Name      string
	Value     string
	Sensitive bool
}

// Size is the entry's contribution to a table's byte budget: 32 + len(name)
// + len(value), per RFC 7541 §4.1.
func (f HeaderField) Size() uint32 {
	return uint32(32 + len(f.Name) + len(f.Value))
}

// staticTable is the fixed 61-entry table of RFC 7541 Appendix A. Index 1
// is entry 0 here; callers add 1 when converting to wire index.
var staticTable = [61]HeaderField{
	{Name: ":authority"},
	{Name: ":method", Value: "GET"},
	{Name: ":method", Value: "POST"},
	{Name: ":path", Value: "/"},
	{Name: ":path", Value: "/index.html"},
	{Name: ":scheme", Value: "http"},
	{Name: ":scheme", Value: "https"},
	{Name: ":status", Value: "200"},
	{Name: ":status", Value: "204"},
	{Name: ":status", Value: "206"},
	{Name: ":status", Value: "304"},
	{Name: ":status", Value: "400"},
	{Name: ":status", Value: "404"},
	{Name: ":status", Value: "500"},
	{Name: "accept-charset"},
	{Name: "accept-encoding", Value: "gzip, deflate"},
	{Name: "accept-language"},
	{Name: "accept-ranges"},
	{Name: "accept"},
	{Name: "access-control-allow-origin"},
	{Name: "age"},
	{Name: "allow"},
	{Name: "authorization"},
	{Name: "cache-control"},
	{Name: "content-disposition"},
	{Name: "content-encoding"},
	{Name: "content-language"},
	{Name: "content-length"},
	{Name: "content-location"},
	{Name: "content-range"},
	{Name: "content-type"},
	{Name: "cookie"},
	{Name: "date"},
	{Name: "etag"},
	{Name: "expect"},
	{Name: "expires"},
	{Name: "from"},
	{Name: "host"},
	{Name: "if-match"},
	{Name: "if-modified-since"},
	{Name: "if-none-match"},
	{Name: "if-range"},
	{Name: "if-unmodified-since"},
	{Name: "last-modified"},
	{Name: "link"},
	{Name: "location"},
	{Name: "max-forwards"},
	{Name: "proxy-authenticate"},
	{Name: "proxy-authorization"},
	{Name: "range"},
	{Name: "referer"},
	{Name: "refresh"},
	{Name: "retry-after"},
	{Name: "server"},
	{Name: "set-cookie"},
	{Name: "strict-transport-security"},
	{Name: "transfer-encoding"},
	{Name: "user-agent"},
	{Name: "vary"},
	{Name: "via"},
	{Name: "www-authenticate"},
}

// staticNameIndex maps a lowercase header name to the first static table
// entry with that name (1-based wire index), used by the encoder to probe
// "by name only" before falling back to a literal.
var staticNameIndex = func() map[string]int {
	m := make(map[string]int, len(staticTable))
	for i, f := range staticTable {
		if _, ok := m[f.Name]; !ok {
			m[f.Name] = i + 1
		}
	}
	return m
}()

// staticFieldIndex maps an exact (name, value) pair to its 1-based wire index.
var staticFieldIndex = func() map[HeaderField]int {
	m := make(map[HeaderField]int, len(staticTable))
	for i, f := range staticTable {
		m[f] = i + 1
	}
	return m
}()

const staticTableSize = len(staticTable)
