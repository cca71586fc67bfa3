// Package syncproto compares two merkle trees held by two peers, one round of
// digests at a time, and narrows a file difference down to single bytes.
package syncproto

import "errors"

var (
	// ErrIO wraps every failure of the byte source or the transport.
	ErrIO = errors.New("io error")
	// ErrProtocol marks a peer that broke the lock-step exchange: wrong tag,
	// wrong count, undecodable frame or an explicit abort.
	ErrProtocol = errors.New("protocol error")
)
