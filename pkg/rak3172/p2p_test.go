package rak3172

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validP2PConfig() P2PConfig {
	return P2PConfig{
		Frequency: 868000000,
		Spreading: PSF_7,
		Bandwidth: BW_125,
		CodeRate:  CR_0,
		Preamble:  8,
		Power:     14,
	}
}

func TestP2PConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*P2PConfig)
	}{
		{"frequency low", func(cfg *P2PConfig) { cfg.Frequency = 100000000 }},
		{"frequency high", func(cfg *P2PConfig) { cfg.Frequency = 970000000 }},
		{"spreading low", func(cfg *P2PConfig) { cfg.Spreading = 5 }},
		{"spreading high", func(cfg *P2PConfig) { cfg.Spreading = 13 }},
		{"bandwidth", func(cfg *P2PConfig) { cfg.Bandwidth = 200 }},
		{"code rate", func(cfg *P2PConfig) { cfg.CodeRate = 4 }},
		{"preamble", func(cfg *P2PConfig) { cfg.Preamble = 1 }},
		{"power low", func(cfg *P2PConfig) { cfg.Power = 4 }},
		{"power high", func(cfg *P2PConfig) { cfg.Power = 23 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validP2PConfig()
			tc.mutate(&cfg)
			require.ErrorIs(t, cfg.validate(), ErrInvalidArgument)
		})
	}
	require.NoError(t, validP2PConfig().validate())
}

func TestInitP2PProgramsRadio(t *testing.T) {
	dev, conn := newTestDevice(t)
	conn.reply("AT+NWM=?", "0")
	conn.reply("AT+ENCRY=?", "0")

	require.NoError(t, dev.InitP2P(validP2PConfig()))
	require.Equal(t, []string{
		"AT+NWM=?",
		"AT+ENCRY=?",
		"AT+P2P=868000000:7:125:0:8:14",
	}, conn.sent())
	require.False(t, dev.encryption)
}

func TestInitP2PRefreshesEncryptionFlag(t *testing.T) {
	dev, conn := newTestDevice(t)
	conn.reply("AT+NWM=?", "0")
	conn.reply("AT+ENCRY=?", "1")

	require.NoError(t, dev.InitP2P(validP2PConfig()))
	require.True(t, dev.encryption)
}

func TestInitP2PRejectsBadConfig(t *testing.T) {
	dev, conn := newTestDevice(t)
	cfg := validP2PConfig()
	cfg.Power = 30

	require.ErrorIs(t, dev.InitP2P(cfg), ErrInvalidArgument)
	require.Empty(t, conn.sent())
}

func TestGetP2PConfigParsesFields(t *testing.T) {
	dev, conn := newTestDevice(t)
	conn.reply("AT+P2P=?", "868000000:7:125:0:8:22")

	cfg, err := dev.GetP2PConfig()
	require.NoError(t, err)
	require.Equal(t, P2PConfig{
		Frequency: 868000000,
		Spreading: PSF_7,
		Bandwidth: BW_125,
		CodeRate:  CR_0,
		Preamble:  8,
		Power:     22,
	}, cfg)
}

func TestGetP2PConfigRejectsMalformedValue(t *testing.T) {
	dev, conn := newTestDevice(t)
	conn.reply("AT+P2P=?", "868000000:7:125:0:8")
	_, err := dev.GetP2PConfig()
	require.ErrorIs(t, err, ErrInvalidResponse)

	conn.reply("AT+P2P=?", "868000000:5:125:0:8:22")
	_, err = dev.GetP2PConfig()
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestP2PParameterSetters(t *testing.T) {
	dev, conn := newTestDevice(t)

	require.NoError(t, dev.SetP2PFrequency(869525000))
	require.NoError(t, dev.SetSpreadingFactor(PSF_9))
	require.NoError(t, dev.SetBandwidth(BW_250))
	require.NoError(t, dev.SetCodeRate(CR_1))
	require.NoError(t, dev.SetPreamble(12))
	require.NoError(t, dev.SetP2PPower(17))
	require.Equal(t, []string{
		"AT+PFREQ=869525000",
		"AT+PSF=9",
		"AT+PBW=250",
		"AT+PCR=1",
		"AT+PPL=12",
		"AT+PTP=17",
	}, conn.sent())
}

func TestP2PParameterValidation(t *testing.T) {
	dev, conn := newTestDevice(t)

	require.ErrorIs(t, dev.SetP2PFrequency(1000), ErrInvalidArgument)
	require.ErrorIs(t, dev.SetSpreadingFactor(13), ErrInvalidArgument)
	require.ErrorIs(t, dev.SetBandwidth(100), ErrInvalidArgument)
	require.ErrorIs(t, dev.SetCodeRate(9), ErrInvalidArgument)
	require.ErrorIs(t, dev.SetPreamble(0), ErrInvalidArgument)
	require.ErrorIs(t, dev.SetP2PPower(42), ErrInvalidArgument)
	require.Empty(t, conn.sent())
}

func TestP2PParameterGetters(t *testing.T) {
	dev, conn := newTestDevice(t)
	conn.reply("AT+PFREQ=?", "868100000")
	conn.reply("AT+PSF=?", "12")
	conn.reply("AT+PBW=?", "500")
	conn.reply("AT+PCR=?", "3")
	conn.reply("AT+PPL=?", "16")
	conn.reply("AT+PTP=?", "5")

	freq, err := dev.GetP2PFrequency()
	require.NoError(t, err)
	require.Equal(t, uint32(868100000), freq)

	sf, err := dev.GetSpreadingFactor()
	require.NoError(t, err)
	require.Equal(t, PSF_12, sf)

	bw, err := dev.GetBandwidth()
	require.NoError(t, err)
	require.Equal(t, BW_500, bw)

	cr, err := dev.GetCodeRate()
	require.NoError(t, err)
	require.Equal(t, CR_3, cr)

	preamble, err := dev.GetPreamble()
	require.NoError(t, err)
	require.Equal(t, uint16(16), preamble)

	power, err := dev.GetP2PPower()
	require.NoError(t, err)
	require.Equal(t, 5, power)
}

func TestP2PGettersRejectUnknownValues(t *testing.T) {
	dev, conn := newTestDevice(t)
	conn.reply("AT+PSF=?", "4")
	conn.reply("AT+PBW=?", "300")
	conn.reply("AT+PCR=?", "7")

	_, err := dev.GetSpreadingFactor()
	require.ErrorIs(t, err, ErrInvalidResponse)

	_, err = dev.GetBandwidth()
	require.ErrorIs(t, err, ErrInvalidResponse)

	_, err = dev.GetCodeRate()
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestTransmitP2PEmptyPayloadShortCircuits(t *testing.T) {
	dev, conn := newTestDevice(t)

	require.NoError(t, dev.TransmitP2P(nil))
	require.Empty(t, conn.sent())
}

func TestTransmitP2PSendsLowercaseHex(t *testing.T) {
	dev, conn := newTestDevice(t)

	require.NoError(t, dev.TransmitP2P([]byte{0xab, 0x01, 0xff}))
	require.Equal(t, []string{"AT+PSEND=ab01ff"}, conn.sent())
}

func TestReceiveP2PWindowValidation(t *testing.T) {
	dev, conn := newTestDevice(t)

	_, err := dev.ReceiveP2P(REC_STOP)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = dev.ReceiveP2P(REC_SINGLE)
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Empty(t, conn.sent())
}

func TestReceiveP2PAssemblesMessage(t *testing.T) {
	dev, conn := newTestDevice(t)
	conn.pushEvent("+EVT:RXP2P, RSSI -30, SNR 9")
	conn.pushEvent("+EVT:48656c6c6f")

	msg, err := dev.ReceiveP2P(2000)
	require.NoError(t, err)
	require.Equal(t, []string{"AT+PRECV=2000"}, conn.sent())
	require.Equal(t, -30, msg.RSSI)
	require.Equal(t, 9, msg.SNR)
	require.Equal(t, []byte("Hello"), msg.Payload)
}

func TestReceiveP2PWindowExpiry(t *testing.T) {
	dev, conn := newTestDevice(t)
	conn.pushEvent("+EVT:RECEIVE TIMEOUT")

	_, err := dev.ReceiveP2P(100)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestReceiveP2PLostExpiryEvent(t *testing.T) {
	dev, _ := newTestDevice(t)
	dev.now = fakeClock(600 * time.Millisecond)

	_, err := dev.ReceiveP2P(100)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestListenP2PValidation(t *testing.T) {
	dev, conn := newTestDevice(t)

	err := dev.ListenP2P(REC_REPEAT, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	err = dev.ListenP2P(REC_STOP, func(*Message) {})
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Empty(t, conn.sent())
}

func TestListenP2PRepeatDeliversMessages(t *testing.T) {
	dev, conn := newTestDevice(t)
	received := make(chan *Message, 4)

	require.NoError(t, dev.ListenP2P(REC_REPEAT, func(msg *Message) {
		received <- msg
	}))
	require.True(t, dev.IsListening())
	require.ErrorIs(t, dev.ListenP2P(REC_REPEAT, func(*Message) {}), ErrInvalidState)

	conn.pushEvent("+EVT:RXP2P, RSSI -30, SNR 9")
	conn.pushEvent("+EVT:01")
	conn.pushEvent("+EVT:RXP2P, RSSI -31, SNR 8")
	conn.pushEvent("+EVT:02")

	first := <-received
	require.Equal(t, []byte{0x01}, first.Payload)
	require.Equal(t, -30, first.RSSI)

	second := <-received
	require.Equal(t, []byte{0x02}, second.Payload)
	require.Equal(t, -31, second.RSSI)

	require.NoError(t, dev.StopListenP2P())
	require.False(t, dev.IsListening())
	require.Equal(t, []string{"AT+PRECV=65534", "AT+PRECV=0"}, conn.sent())
}

func TestListenP2PSingleWindowStopsAfterMessage(t *testing.T) {
	dev, conn := newTestDevice(t)
	received := make(chan *Message, 1)

	require.NoError(t, dev.ListenP2P(REC_SINGLE, func(msg *Message) {
		received <- msg
	}))
	conn.pushEvent("+EVT:RXP2P, RSSI -40, SNR 7")
	conn.pushEvent("+EVT:aa")

	msg := <-received
	require.Equal(t, []byte{0xaa}, msg.Payload)
	require.Eventually(t, func() bool { return !dev.IsListening() },
		time.Second, 5*time.Millisecond)
}

func TestListenP2PStopsOnWindowExpiry(t *testing.T) {
	dev, conn := newTestDevice(t)

	require.NoError(t, dev.ListenP2P(500, func(*Message) {}))
	conn.pushEvent("+EVT:RECEIVE TIMEOUT")

	require.Eventually(t, func() bool { return !dev.IsListening() },
		time.Second, 5*time.Millisecond)
}

func TestStopListenP2PIdleIsNoop(t *testing.T) {
	dev, conn := newTestDevice(t)

	require.NoError(t, dev.StopListenP2P())
	require.Empty(t, conn.sent())
}

func TestEnableEncryptionProgramsKey(t *testing.T) {
	dev, conn := newTestDevice(t)

	require.NoError(t, dev.EnableEncryption([]byte{0x01, 0x02, 0x03, 0x04, 0xaa, 0xbb, 0xcc, 0xdd}))
	require.Equal(t, []string{"AT+ENCRY=1", "AT+ENCKEY=01020304aabbccdd"}, conn.sent())
	require.True(t, dev.encryption)
}

func TestEnableEncryptionValidatesKeyLength(t *testing.T) {
	dev, conn := newTestDevice(t)

	err := dev.EnableEncryption([]byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Empty(t, conn.sent())
}

func TestDisableEncryptionClearsFlag(t *testing.T) {
	dev, conn := newTestDevice(t)
	dev.encryption = true

	require.NoError(t, dev.DisableEncryption())
	require.Equal(t, []string{"AT+ENCRY=0"}, conn.sent())
	require.False(t, dev.encryption)
}

func TestEncryptionEnabledRefreshesFlag(t *testing.T) {
	dev, conn := newTestDevice(t)
	conn.reply("AT+ENCRY=?", "1")

	enabled, err := dev.EncryptionEnabled()
	require.NoError(t, err)
	require.True(t, enabled)
	require.True(t, dev.encryption)
}
