package rak3172

import "github.com/pkg/errors"

// Error kinds returned by the driver. Failures are wrapped with call context
// on the way up and stay matchable with errors.Is.
var (
	// ErrInvalidArgument reports malformed or out-of-range caller input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidState reports an operation that is illegal for the current
	// join mode or device mode.
	ErrInvalidState = errors.New("invalid state")
	// ErrNotConnected reports a LoRaWAN operation attempted while unjoined.
	ErrNotConnected = errors.New("not joined to a network")
	// ErrTimeout reports a wait loop that exceeded the caller deadline.
	ErrTimeout = errors.New("timeout")
	// ErrInvalidResponse reports an unparseable or explicitly failing module
	// response.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrFail reports an operation the current configuration does not
	// support, for example a sub-band request on a band without sub-bands.
	ErrFail = errors.New("operation not supported")
)
