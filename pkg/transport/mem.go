package transport

import "net"

// Pipe returns two connected in-memory streams. Writes block until the other
// side reads, so each side must receive while it sends.
func Pipe() (*Stream, *Stream) {
	a, b := net.Pipe()
	return NewStream(a), NewStream(b)
}
