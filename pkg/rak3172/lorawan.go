package rak3172

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LoRaWANConfig collects everything InitLoRaWAN programs into the module.
// Exactly one key set has to be filled, matching the join mode.
type LoRaWANConfig struct {
	Band     Band
	SubBand  SubBand
	Class    Class
	JoinMode JoinMode
	ADR      bool
	Retries  int
	TxPower  int // requested dBm, translated per band

	// OTAA key set
	DevEUI []byte
	AppEUI []byte
	AppKey []byte

	// ABP key set
	AppSKey []byte
	NwkSKey []byte
	DevAddr []byte
}

// InitLoRaWAN switches the module into LoRaWAN mode and programs the full
// configuration, ending with the key set of the selected join mode.
func (obj *Device) InitLoRaWAN(cfg LoRaWANConfig) error {
	log.Info("initializing module in LoRaWAN mode")
	if err := obj.SetMode(MODE_LORAWAN); err != nil {
		return err
	}
	// stop a join procedure a previous session may have left running
	if err := obj.StopJoin(); err != nil {
		return err
	}
	if _, err := obj.IsJoined(); err != nil {
		return err
	}
	if err := obj.SetClass(cfg.Class); err != nil {
		return err
	}
	if err := obj.SetADR(cfg.ADR); err != nil {
		return err
	}
	if err := obj.SetBand(cfg.Band); err != nil {
		return err
	}
	if cfg.SubBand != SUB_BAND_NONE {
		if err := obj.SetSubBand(cfg.SubBand); err != nil {
			return err
		}
	}
	if err := obj.SetRetries(cfg.Retries); err != nil {
		return err
	}
	if err := obj.SetTxPower(cfg.TxPower); err != nil {
		return err
	}
	if err := obj.SetJoinMode(cfg.JoinMode); err != nil {
		return err
	}
	if cfg.JoinMode == JOIN_MODE_OTAA {
		log.Info("using OTAA activation")
		return obj.SetOTAAKeys(cfg.DevEUI, cfg.AppEUI, cfg.AppKey)
	}
	log.Info("using ABP activation")
	return obj.SetABPKeys(cfg.AppSKey, cfg.NwkSKey, cfg.DevAddr)
}

// SetOTAAKeys programs the OTAA key set. Legal only while the join mode is
// OTAA.
func (obj *Device) SetOTAAKeys(devEUI []byte, appEUI []byte, appKey []byte) error {
	if len(devEUI) != 8 || len(appEUI) != 8 || len(appKey) != 16 {
		return errors.Wrap(ErrInvalidArgument, "OTAA keys need 8, 8 and 16 bytes")
	}
	if obj.joinMode != JOIN_MODE_OTAA {
		return errors.Wrap(ErrInvalidState, "join mode is not OTAA")
	}
	if _, err := obj.command("AT+DEVEUI=" + hexKey(devEUI)); err != nil {
		return err
	}
	if _, err := obj.command("AT+APPEUI=" + hexKey(appEUI)); err != nil {
		return err
	}
	_, err := obj.command("AT+APPKEY=" + hexKey(appKey))
	return err
}

// SetABPKeys programs the ABP session key set. Legal only while the join
// mode is ABP.
func (obj *Device) SetABPKeys(appSKey []byte, nwkSKey []byte, devAddr []byte) error {
	if len(appSKey) != 16 || len(nwkSKey) != 16 || len(devAddr) != 4 {
		return errors.Wrap(ErrInvalidArgument, "ABP keys need 16, 16 and 4 bytes")
	}
	if obj.joinMode != JOIN_MODE_ABP {
		return errors.Wrap(ErrInvalidState, "join mode is not ABP")
	}
	if _, err := obj.command("AT+APPSKEY=" + hexKey(appSKey)); err != nil {
		return err
	}
	if _, err := obj.command("AT+NWKSKEY=" + hexKey(nwkSKey)); err != nil {
		return err
	}
	_, err := obj.command("AT+DEVADDR=" + hexKey(devAddr))
	return err
}

// StartJoin starts the join procedure and waits for the join event. A zero
// timeout waits forever. Joining an already joined device is a no-op; on
// timeout the procedure is stopped and the device stays unjoined.
func (obj *Device) StartJoin(timeout time.Duration, attempts uint8, autoJoin bool, interval time.Duration) error {
	if attempts == 0 {
		return errors.Wrap(ErrInvalidArgument, "join needs at least one attempt")
	}
	if obj.joined {
		return nil
	}
	auto := 0
	if autoJoin {
		auto = 1
	}
	cmd := fmt.Sprintf("AT+JOIN=1:%d:%d:%d", auto, int(interval/time.Second), attempts)
	if _, err := obj.command(cmd); err != nil {
		return err
	}
	deadline, bounded := obj.deadlineFor(timeout)
	for {
		if obj.expired(deadline, bounded) {
			log.Warn("join timeout, stopping join procedure")
			if err := obj.StopJoin(); err != nil {
				log.WithError(err).Warn("failed to stop join procedure")
			}
			return errors.Wrap(ErrTimeout, "no join confirmation received")
		}
		line, ok := obj.conn.NextEvent(obj.pollQuantum)
		if ok && strings.HasPrefix(line, eventPrefix) {
			switch {
			case strings.Contains(line, joinFailedMarker):
				log.WithField("event", line).Info("join attempt failed")
			case strings.Contains(line, joinedMarker):
				obj.joined = true
				log.Info("network joined")
				return nil
			}
		}
		time.Sleep(obj.yieldDelay)
	}
}

// StopJoin aborts a running join procedure.
func (obj *Device) StopJoin() error {
	_, err := obj.command("AT+JOIN=0:0:7:0")
	return err
}

// IsJoined queries the authoritative join state and stores it in the device
// record. Exactly the literal token "1" counts as joined.
func (obj *Device) IsJoined() (bool, error) {
	obj.joined = false
	value, err := obj.command("AT+NJS=?")
	if err != nil {
		return false, err
	}
	obj.joined = value == "1"
	return obj.joined, nil
}

// Transmit sends one uplink on the given port. A confirmed send waits on the
// event feed for the network acknowledgement, bounded by the timeout (zero
// waits forever). A zero-length payload succeeds without touching the radio.
func (obj *Device) Transmit(port uint8, payload []byte, confirmed bool, timeout time.Duration) error {
	if port == 0 {
		return errors.Wrap(ErrInvalidArgument, "port 0 is reserved")
	}
	if !obj.joined {
		return errors.Wrap(ErrNotConnected, "transmit needs a joined network")
	}
	if len(payload) == 0 {
		return nil
	}
	if err := obj.SetConfirmMode(confirmed); err != nil {
		return err
	}
	if _, err := obj.command(fmt.Sprintf("AT+SEND=%d:%s", port, hexPayload(payload))); err != nil {
		return err
	}
	if !confirmed {
		return nil
	}
	deadline, bounded := obj.deadlineFor(timeout)
	for {
		if obj.expired(deadline, bounded) {
			return errors.Wrap(ErrTimeout, "no transmission confirmation received")
		}
		line, ok := obj.conn.NextEvent(obj.pollQuantum)
		if ok {
			log.WithField("event", line).Debug("transmission event")
			if strings.Contains(line, confirmedFailedMarker) {
				obj.confirmErr = true
				return errors.Wrap(ErrInvalidResponse, "transmission not confirmed")
			}
			if strings.Contains(line, confirmedOKMarker) {
				obj.confirmErr = false
				return nil
			}
		}
		time.Sleep(obj.yieldDelay)
	}
}

// Receive waits for one downlink. The timeout bounds the whole wait and must
// be above one second. Metadata lines fill the RSSI and SNR fields of the
// returned message, the unicast data line completes it.
func (obj *Device) Receive(timeout time.Duration) (*Message, error) {
	if timeout <= time.Second {
		return nil, errors.Wrap(ErrInvalidArgument, "receive timeout must be above one second")
	}
	if !obj.joined {
		return nil, errors.Wrap(ErrNotConnected, "receive needs a joined network")
	}
	msg := &Message{}
	deadline := obj.now().Add(timeout)
	for {
		if obj.now().After(deadline) {
			return nil, errors.Wrap(ErrTimeout, "no downlink received")
		}
		line, ok := obj.conn.NextEvent(obj.pollQuantum)
		if ok {
			log.WithField("event", line).Debug("receive event")
			if strings.Contains(line, unicastMarker) {
				port, payload, err := parseDownlink(line)
				if err != nil {
					return nil, err
				}
				msg.Port = port
				msg.Payload = payload
				return msg, nil
			}
			if strings.Contains(line, rxMarker) {
				rssi, snr, err := parseSignalMeta(line)
				if err != nil {
					log.WithError(err).Warn("skipping malformed metadata line")
				} else {
					msg.RSSI = rssi
					msg.SNR = snr
				}
			}
		}
		time.Sleep(obj.yieldDelay)
	}
}

// NetworkID reports the identifier of the joined network.
func (obj *Device) NetworkID() (string, error) {
	if !obj.joined {
		return "", errors.Wrap(ErrNotConnected, "network id needs a joined network")
	}
	return obj.command("AT+NETID=?")
}
