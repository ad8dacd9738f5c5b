package device

import "errors"

// Ack is the response the controller sends once it has accepted a line.
const Ack = "ok"

// ErrReadTimeout reports that no response line arrived within the link's
// read timeout. The caller owns the retry policy.
var ErrReadTimeout = errors.New("read timed out")

// Link is a line-oriented connection to the motion controller. Exactly one
// goroutine may use a Link at a time.
type Link interface {
	WriteLine(line string) error
	ReadLine() (string, error)
	Close() error
}
