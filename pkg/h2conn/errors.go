package h2conn

import "errors"

var (
	errConnectionClosed = errors.New("h2conn: connection closed")
	errWindowOverflow    = errors.New("h2conn: connection send window overflow")
)
