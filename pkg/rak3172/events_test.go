package rak3172

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSignalMeta(t *testing.T) {
	tests := []struct {
		name string
		line string
		rssi int
		snr  int
	}{
		{"lorawan downlink", "+EVT:RX_1, RSSI -70, SNR 8", -70, 8},
		{"p2p frame", "+EVT:RXP2P, RSSI -30, SNR 9", -30, 9},
		{"negative snr", "+EVT:RX_2, RSSI -121, SNR -4", -121, -4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rssi, snr, err := parseSignalMeta(tc.line)
			require.NoError(t, err)
			require.Equal(t, tc.rssi, rssi)
			require.Equal(t, tc.snr, snr)
		})
	}
}

func TestParseSignalMetaMalformed(t *testing.T) {
	lines := []string{
		"+EVT:RX_1",
		"+EVT:RX_1, RSSI -70",
		"+EVT:RX_1, RSSI abc, SNR 8",
		"+EVT:RX_1, RSSI -70, SNR low",
		"",
	}
	for _, line := range lines {
		_, _, err := parseSignalMeta(line)
		require.ErrorIs(t, err, ErrInvalidResponse, "line %q", line)
	}
}

func TestParseDownlink(t *testing.T) {
	port, payload, err := parseDownlink("+EVT:RX_1:UNICAST:2:48656c6c6f")
	require.NoError(t, err)
	require.Equal(t, uint8(2), port)
	require.Equal(t, []byte("Hello"), payload)
}

func TestParseDownlinkUppercaseHex(t *testing.T) {
	port, payload, err := parseDownlink("+EVT:RX_1:UNICAST:120:0A0B0C")
	require.NoError(t, err)
	require.Equal(t, uint8(120), port)
	require.Equal(t, []byte{0x0a, 0x0b, 0x0c}, payload)
}

func TestParseDownlinkMalformed(t *testing.T) {
	lines := []string{
		"+EVT:RX_1:UNICAST:2:",
		"+EVT:RX_1:UNICAST:2:zz",
		"+EVT:RX_1:UNICAST:abc:0a",
		"no separators",
	}
	for _, line := range lines {
		_, _, err := parseDownlink(line)
		require.ErrorIs(t, err, ErrInvalidResponse, "line %q", line)
	}
}

func TestParseP2PPayload(t *testing.T) {
	payload, err := parseP2PPayload("+EVT:48656c6c6f")
	require.NoError(t, err)
	require.Equal(t, []byte("Hello"), payload)
}

func TestParseP2PPayloadMalformed(t *testing.T) {
	_, err := parseP2PPayload("+EVT:not-hex")
	require.ErrorIs(t, err, ErrInvalidResponse)
}
