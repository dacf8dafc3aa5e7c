package hal

import (
	"fmt"
	"time"
)

// Transport defines the set of methods the protocol layer needs to exchange
// AT commands and unsolicited event lines with the radio module.
type Transport interface {
	// SendCommand writes one command line and waits for the terminal status.
	// The returned string is the value line of a query, empty when the module
	// answered with a bare status.
	SendCommand(cmd string) (string, error)
	// WriteLine writes one raw line without waiting for a response. Used for
	// commands whose only output is the boot splash.
	WriteLine(line string) error
	// NextEvent dequeues one unsolicited line, waiting at most the given
	// duration. The second return value is false when no line arrived in time.
	NextEvent(wait time.Duration) (string, bool)
	// Busy reports whether a command exchange is currently outstanding.
	Busy() bool
}

// Resetter is implemented by handlers that control a hardware reset line.
type Resetter interface {
	HardReset() error
}

// ResponseError is returned by SendCommand when the module answers a command
// with an error status instead of OK.
type ResponseError struct {
	Status string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("module returned status %s", e.Status)
}
