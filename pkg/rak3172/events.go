package rak3172

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Unsolicited line grammar of the module firmware. The markers and field
// offsets are protocol constants validated against firmware output, not
// derived values.
const (
	eventPrefix = "+EVT:"

	joinedMarker     = "JOINED"
	joinFailedMarker = "JOIN FAILED"

	confirmedOKMarker     = "SEND CONFIRMED OK"
	confirmedFailedMarker = "SEND CONFIRMED FAILED"

	rxMarker      = "RX"
	unicastMarker = "UNICAST"

	p2pRxMarker          = "RXP2P"
	receiveTimeoutMarker = "RECEIVE TIMEOUT"

	splashLoRaWAN = "LoRaWAN."
	splashP2P     = "LoRa P2P."

	// Field offsets inside a metadata line: the RSSI value follows ", RSSI "
	// after the first comma, the SNR value ", SNR " after the last one.
	rssiFieldOffset = 7
	snrFieldOffset  = 6
)

// parseSignalMeta extracts the RSSI and SNR values from a metadata line such
// as "+EVT:RXP2P, RSSI -30, SNR 9".
func parseSignalMeta(line string) (int, int, error) {
	first := strings.Index(line, ",")
	last := strings.LastIndex(line, ",")
	if first < 0 || last == first || first+rssiFieldOffset > last || last+snrFieldOffset > len(line) {
		return 0, 0, errors.Wrapf(ErrInvalidResponse, "malformed metadata line %q", line)
	}
	rssi, err := strconv.Atoi(strings.TrimSpace(line[first+rssiFieldOffset : last]))
	if err != nil {
		return 0, 0, errors.Wrapf(ErrInvalidResponse, "malformed RSSI field in %q", line)
	}
	snr, err := strconv.Atoi(strings.TrimSpace(line[last+snrFieldOffset:]))
	if err != nil {
		return 0, 0, errors.Wrapf(ErrInvalidResponse, "malformed SNR field in %q", line)
	}
	return rssi, snr, nil
}

// parseDownlink splits a unicast data line such as
// "+EVT:RX_1:UNICAST:2:48656c6c6f" into logical port and payload bytes.
func parseDownlink(line string) (uint8, []byte, error) {
	last := strings.LastIndex(line, ":")
	if last < 0 || last == len(line)-1 {
		return 0, nil, errors.Wrapf(ErrInvalidResponse, "malformed data line %q", line)
	}
	payload, err := hex.DecodeString(line[last+1:])
	if err != nil {
		return 0, nil, errors.Wrapf(ErrInvalidResponse, "malformed payload in %q", line)
	}
	head := line[:last]
	port, err := strconv.ParseUint(head[strings.LastIndex(head, ":")+1:], 10, 8)
	if err != nil {
		return 0, nil, errors.Wrapf(ErrInvalidResponse, "malformed port in %q", line)
	}
	return uint8(port), payload, nil
}

// parseP2PPayload decodes the payload line that follows a RXP2P metadata
// line, "+EVT:" prefix followed by the hex payload.
func parseP2PPayload(line string) ([]byte, error) {
	payload, err := hex.DecodeString(strings.TrimPrefix(line, eventPrefix))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidResponse, "malformed payload line %q", line)
	}
	return payload, nil
}
