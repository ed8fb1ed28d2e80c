package protocol

import (
	"time"
)

// Channel is an unreliable datagram path to a single peer. Datagrams may be
// dropped, duplicated, reordered or damaged in transit.
type Channel interface {
	// Send transmits one datagram. An error is an I/O failure, not a loss.
	Send(b []byte) error
	// Receive waits for one datagram. A positive timeout bounds the wait and
	// expiry is reported as ErrTimeout; zero blocks until a datagram arrives.
	Receive(timeout time.Duration) ([]byte, error)
}
