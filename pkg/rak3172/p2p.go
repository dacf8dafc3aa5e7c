package rak3172

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// P2P spreading factors.
type SpreadingFactor int

const (
	PSF_6 SpreadingFactor = iota + 6
	PSF_7
	PSF_8
	PSF_9
	PSF_10
	PSF_11
	PSF_12
)

// P2P bandwidths in kHz, wire values as transmitted.
type Bandwidth int

const (
	BW_125 Bandwidth = 125
	BW_250 Bandwidth = 250
	BW_500 Bandwidth = 500
)

// P2P coding rates.
type CodeRate int

const (
	CR_0 CodeRate = iota
	CR_1
	CR_2
	CR_3
)

// Receive window values with a special meaning to the firmware, in
// milliseconds.
const (
	// REC_STOP closes an open receive window.
	REC_STOP uint16 = 0
	// REC_REPEAT keeps the window open until it is closed explicitly.
	REC_REPEAT uint16 = 65534
	// REC_SINGLE waits for exactly one message without a timeout.
	REC_SINGLE uint16 = 65535
)

const (
	p2pFreqMin = 150000000
	p2pFreqMax = 960000000
	p2pPwrMin  = 5
	p2pPwrMax  = 22

	// slack on top of a receive window before the driver gives up waiting
	// for the window-expired event
	receiveWindowGrace = 2 * time.Second
)

// ListenCallback receives every message picked up while a background listen
// window is open.
type ListenCallback func(*Message)

// P2PConfig is the combined radio setup programmed with one AT+P2P command.
type P2PConfig struct {
	Frequency uint32 // Hz
	Spreading SpreadingFactor
	Bandwidth Bandwidth
	CodeRate  CodeRate
	Preamble  uint16
	Power     int // dBm
}

func (cfg P2PConfig) validate() error {
	if cfg.Frequency < p2pFreqMin || cfg.Frequency > p2pFreqMax {
		return errors.Wrapf(ErrInvalidArgument, "frequency %d out of range", cfg.Frequency)
	}
	if cfg.Spreading < PSF_6 || cfg.Spreading > PSF_12 {
		return errors.Wrapf(ErrInvalidArgument, "spreading factor %d out of range", cfg.Spreading)
	}
	if cfg.Bandwidth != BW_125 && cfg.Bandwidth != BW_250 && cfg.Bandwidth != BW_500 {
		return errors.Wrapf(ErrInvalidArgument, "unknown bandwidth %d", cfg.Bandwidth)
	}
	if cfg.CodeRate < CR_0 || cfg.CodeRate > CR_3 {
		return errors.Wrapf(ErrInvalidArgument, "code rate %d out of range", cfg.CodeRate)
	}
	if cfg.Preamble < 2 {
		return errors.Wrapf(ErrInvalidArgument, "preamble %d too short", cfg.Preamble)
	}
	if cfg.Power < p2pPwrMin || cfg.Power > p2pPwrMax {
		return errors.Wrapf(ErrInvalidArgument, "power %d out of range", cfg.Power)
	}
	return nil
}

// InitP2P switches the module into P2P mode and programs the combined radio
// configuration.
func (obj *Device) InitP2P(cfg P2PConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	log.Info("initializing module in P2P mode")
	if err := obj.SetMode(MODE_P2P); err != nil {
		return err
	}
	// pick up the persisted encryption state of the rebooted module
	if _, err := obj.EncryptionEnabled(); err != nil {
		return err
	}
	return obj.writeP2PConfig(cfg)
}

func (obj *Device) writeP2PConfig(cfg P2PConfig) error {
	_, err := obj.command(fmt.Sprintf("AT+P2P=%d:%d:%d:%d:%d:%d",
		cfg.Frequency, cfg.Spreading, cfg.Bandwidth, cfg.CodeRate, cfg.Preamble, cfg.Power))
	return err
}

// GetP2PConfig reads the combined radio configuration back.
func (obj *Device) GetP2PConfig() (P2PConfig, error) {
	var cfg P2PConfig
	value, err := obj.command("AT+P2P=?")
	if err != nil {
		return cfg, err
	}
	fields := strings.Split(strings.TrimSpace(value), ":")
	if len(fields) != 6 {
		return cfg, errors.Wrapf(ErrInvalidResponse, "malformed P2P configuration %q", value)
	}
	numbers := make([]int, len(fields))
	for i, field := range fields {
		numbers[i], err = parseIntToken(field)
		if err != nil {
			return cfg, err
		}
	}
	cfg = P2PConfig{
		Frequency: uint32(numbers[0]),
		Spreading: SpreadingFactor(numbers[1]),
		Bandwidth: Bandwidth(numbers[2]),
		CodeRate:  CodeRate(numbers[3]),
		Preamble:  uint16(numbers[4]),
		Power:     numbers[5],
	}
	if err := cfg.validate(); err != nil {
		return P2PConfig{}, errors.Wrapf(ErrInvalidResponse, "module reported configuration %q", value)
	}
	return cfg, nil
}

// SetP2PFrequency programs the carrier frequency in Hz.
func (obj *Device) SetP2PFrequency(hz uint32) error {
	if hz < p2pFreqMin || hz > p2pFreqMax {
		return errors.Wrapf(ErrInvalidArgument, "frequency %d out of range", hz)
	}
	_, err := obj.command(fmt.Sprintf("AT+PFREQ=%d", hz))
	return err
}

// GetP2PFrequency queries the carrier frequency in Hz.
func (obj *Device) GetP2PFrequency() (uint32, error) {
	value, err := obj.command("AT+PFREQ=?")
	if err != nil {
		return 0, err
	}
	v, err := parseIntToken(value)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// SetSpreadingFactor programs the P2P spreading factor.
func (obj *Device) SetSpreadingFactor(sf SpreadingFactor) error {
	if sf < PSF_6 || sf > PSF_12 {
		return errors.Wrapf(ErrInvalidArgument, "spreading factor %d out of range", sf)
	}
	_, err := obj.command(fmt.Sprintf("AT+PSF=%d", sf))
	return err
}

// GetSpreadingFactor queries the P2P spreading factor.
func (obj *Device) GetSpreadingFactor() (SpreadingFactor, error) {
	value, err := obj.command("AT+PSF=?")
	if err != nil {
		return 0, err
	}
	v, err := parseIntToken(value)
	if err != nil {
		return 0, err
	}
	sf := SpreadingFactor(v)
	if sf < PSF_6 || sf > PSF_12 {
		return 0, errors.Wrapf(ErrInvalidResponse, "unknown spreading factor %d", v)
	}
	return sf, nil
}

// SetBandwidth programs the P2P bandwidth.
func (obj *Device) SetBandwidth(bw Bandwidth) error {
	if bw != BW_125 && bw != BW_250 && bw != BW_500 {
		return errors.Wrapf(ErrInvalidArgument, "unknown bandwidth %d", bw)
	}
	_, err := obj.command(fmt.Sprintf("AT+PBW=%d", bw))
	return err
}

// GetBandwidth queries the P2P bandwidth.
func (obj *Device) GetBandwidth() (Bandwidth, error) {
	value, err := obj.command("AT+PBW=?")
	if err != nil {
		return 0, err
	}
	v, err := parseIntToken(value)
	if err != nil {
		return 0, err
	}
	bw := Bandwidth(v)
	if bw != BW_125 && bw != BW_250 && bw != BW_500 {
		return 0, errors.Wrapf(ErrInvalidResponse, "unknown bandwidth %d", v)
	}
	return bw, nil
}

// SetCodeRate programs the P2P coding rate.
func (obj *Device) SetCodeRate(cr CodeRate) error {
	if cr < CR_0 || cr > CR_3 {
		return errors.Wrapf(ErrInvalidArgument, "code rate %d out of range", cr)
	}
	_, err := obj.command(fmt.Sprintf("AT+PCR=%d", cr))
	return err
}

// GetCodeRate queries the P2P coding rate.
func (obj *Device) GetCodeRate() (CodeRate, error) {
	value, err := obj.command("AT+PCR=?")
	if err != nil {
		return 0, err
	}
	v, err := parseIntToken(value)
	if err != nil {
		return 0, err
	}
	cr := CodeRate(v)
	if cr < CR_0 || cr > CR_3 {
		return 0, errors.Wrapf(ErrInvalidResponse, "unknown code rate %d", v)
	}
	return cr, nil
}

// SetPreamble programs the P2P preamble length.
func (obj *Device) SetPreamble(length uint16) error {
	if length < 2 {
		return errors.Wrapf(ErrInvalidArgument, "preamble %d too short", length)
	}
	_, err := obj.command(fmt.Sprintf("AT+PPL=%d", length))
	return err
}

// GetPreamble queries the P2P preamble length.
func (obj *Device) GetPreamble() (uint16, error) {
	value, err := obj.command("AT+PPL=?")
	if err != nil {
		return 0, err
	}
	v, err := parseIntToken(value)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// SetP2PPower programs the P2P transmit power in dBm.
func (obj *Device) SetP2PPower(dbm int) error {
	if dbm < p2pPwrMin || dbm > p2pPwrMax {
		return errors.Wrapf(ErrInvalidArgument, "power %d out of range", dbm)
	}
	_, err := obj.command(fmt.Sprintf("AT+PTP=%d", dbm))
	return err
}

// GetP2PPower queries the P2P transmit power in dBm.
func (obj *Device) GetP2PPower() (int, error) {
	value, err := obj.command("AT+PTP=?")
	if err != nil {
		return 0, err
	}
	return parseIntToken(value)
}

// TransmitP2P broadcasts one payload with the programmed radio settings. A
// zero-length payload succeeds without touching the radio.
func (obj *Device) TransmitP2P(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := obj.command("AT+PSEND=" + hexPayload(payload))
	return err
}

// ReceiveP2P opens a receive window of the given length in milliseconds and
// waits for one message. The window must be positive, REC_SINGLE is
// reserved for ListenP2P. REC_REPEAT blocks until the first message and
// leaves the window open, any other expired window returns ErrTimeout.
func (obj *Device) ReceiveP2P(window uint16) (*Message, error) {
	if window == REC_STOP {
		return nil, errors.Wrap(ErrInvalidArgument, "receive window must be positive")
	}
	if window > REC_REPEAT {
		return nil, errors.Wrap(ErrInvalidArgument, "receive window out of range")
	}
	if _, err := obj.command(fmt.Sprintf("AT+PRECV=%d", window)); err != nil {
		return nil, err
	}
	msg := &Message{}
	awaitingPayload := false
	// the module closes the window itself, the deadline only guards
	// against a lost window-expired event
	var windowSpan time.Duration
	if window != REC_REPEAT {
		windowSpan = time.Duration(window)*time.Millisecond + receiveWindowGrace
	}
	deadline, bounded := obj.deadlineFor(windowSpan)
	for {
		if obj.expired(deadline, bounded) {
			return nil, errors.Wrap(ErrTimeout, "receive window expired silently")
		}
		line, ok := obj.conn.NextEvent(obj.pollQuantum)
		if ok {
			log.WithField("event", line).Debug("P2P receive event")
			if awaitingPayload {
				payload, err := parseP2PPayload(line)
				if err != nil {
					return nil, err
				}
				msg.Payload = payload
				return msg, nil
			}
			switch {
			case strings.Contains(line, p2pRxMarker):
				if rssi, snr, err := parseSignalMeta(line); err != nil {
					log.WithError(err).Warn("skipping malformed metadata line")
				} else {
					msg.RSSI = rssi
					msg.SNR = snr
				}
				awaitingPayload = true
			case strings.Contains(line, receiveTimeoutMarker):
				return nil, errors.Wrap(ErrTimeout, "receive window expired")
			}
		}
		time.Sleep(obj.yieldDelay)
	}
}

// ListenP2P opens a receive window and dispatches every picked up message to
// the callback from a background goroutine. REC_REPEAT listens until
// StopListenP2P, any other window closes after one message or its expiry.
// No other event feed consumer may run while listening.
func (obj *Device) ListenP2P(window uint16, cb ListenCallback) error {
	if cb == nil {
		return errors.Wrap(ErrInvalidArgument, "listen needs a callback")
	}
	if window == REC_STOP {
		return errors.Wrap(ErrInvalidArgument, "listen window must be positive")
	}
	obj.muListen.Lock()
	if obj.listening {
		obj.muListen.Unlock()
		return errors.Wrap(ErrInvalidState, "already listening")
	}
	obj.listening = true
	obj.stopCh = make(chan struct{})
	stop := obj.stopCh
	obj.muListen.Unlock()

	if _, err := obj.command(fmt.Sprintf("AT+PRECV=%d", window)); err != nil {
		obj.setListening(false)
		return err
	}
	go obj.listenLoop(window, cb, stop)
	return nil
}

func (obj *Device) listenLoop(window uint16, cb ListenCallback, stop <-chan struct{}) {
	var pending *Message
	for {
		select {
		case <-stop:
			return
		default:
		}
		line, ok := obj.conn.NextEvent(obj.pollQuantum)
		if !ok {
			continue
		}
		log.WithField("event", line).Debug("P2P listen event")
		if pending != nil {
			payload, err := parseP2PPayload(line)
			if err != nil {
				log.WithError(err).Warn("dropping malformed payload line")
			} else {
				pending.Payload = payload
				cb(pending)
			}
			pending = nil
			if window != REC_REPEAT {
				obj.setListening(false)
				return
			}
			continue
		}
		switch {
		case strings.Contains(line, p2pRxMarker):
			pending = &Message{}
			if rssi, snr, err := parseSignalMeta(line); err != nil {
				log.WithError(err).Warn("skipping malformed metadata line")
			} else {
				pending.RSSI = rssi
				pending.SNR = snr
			}
		case strings.Contains(line, receiveTimeoutMarker):
			obj.setListening(false)
			return
		}
	}
}

// StopListenP2P closes the receive window and stops the background
// listener. Stopping an idle device is a no-op.
func (obj *Device) StopListenP2P() error {
	obj.muListen.Lock()
	if !obj.listening {
		obj.muListen.Unlock()
		return nil
	}
	obj.listening = false
	close(obj.stopCh)
	obj.muListen.Unlock()
	_, err := obj.command(fmt.Sprintf("AT+PRECV=%d", REC_STOP))
	return err
}

// IsListening reports whether a background listen window is open.
func (obj *Device) IsListening() bool {
	obj.muListen.Lock()
	defer obj.muListen.Unlock()
	return obj.listening
}

func (obj *Device) setListening(listening bool) {
	obj.muListen.Lock()
	obj.listening = listening
	obj.muListen.Unlock()
}

// EnableEncryption switches on P2P payload encryption and programs the
// symmetric key. Re-enabling simply reprograms the key.
func (obj *Device) EnableEncryption(key []byte) error {
	if len(key) != 8 {
		return errors.Wrap(ErrInvalidArgument, "encryption key needs 8 bytes")
	}
	if _, err := obj.command("AT+ENCRY=1"); err != nil {
		return err
	}
	obj.encryption = true
	_, err := obj.command("AT+ENCKEY=" + hexPayload(key))
	return err
}

// DisableEncryption switches P2P payload encryption off.
func (obj *Device) DisableEncryption() error {
	if _, err := obj.command("AT+ENCRY=0"); err != nil {
		return err
	}
	obj.encryption = false
	return nil
}

// EncryptionEnabled queries the encryption state and refreshes the cached
// flag.
func (obj *Device) EncryptionEnabled() (bool, error) {
	value, err := obj.command("AT+ENCRY=?")
	if err != nil {
		return false, err
	}
	enabled, err := parseBoolToken(value)
	if err != nil {
		return false, err
	}
	obj.encryption = enabled
	return enabled, nil
}
