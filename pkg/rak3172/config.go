package rak3172

import (
	"encoding/hex"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Operating modes, wire values as the firmware numbers them.
type Mode int

const (
	MODE_P2P     Mode = 0
	MODE_LORAWAN Mode = 1
)

// LoRaWAN activation procedures.
type JoinMode int

const (
	JOIN_MODE_ABP  JoinMode = 0
	JOIN_MODE_OTAA JoinMode = 1
)

// Frequency bands.
type Band int

const (
	BAND_EU433 Band = iota
	BAND_CN470
	BAND_RU864
	BAND_IN865
	BAND_EU868
	BAND_US915
	BAND_AU915
	BAND_KR920
	BAND_AS923
)

// Sub-band channel selectors. SUB_BAND_1 is the first selectable sub band,
// SUB_BAND_10 through SUB_BAND_12 exist on CN470 only.
type SubBand int

const (
	SUB_BAND_NONE SubBand = iota
	SUB_BAND_ALL
	SUB_BAND_1
	SUB_BAND_2
	SUB_BAND_3
	SUB_BAND_4
	SUB_BAND_5
	SUB_BAND_6
	SUB_BAND_7
	SUB_BAND_8
	SUB_BAND_9
	SUB_BAND_10
	SUB_BAND_11
	SUB_BAND_12
)

// LoRaWAN data rates.
type DataRate int

const (
	DR_0 DataRate = iota
	DR_1
	DR_2
	DR_3
	DR_4
	DR_5
	DR_6
	DR_7
)

// LoRaWAN device classes.
type Class string

const (
	CLASS_A Class = "A"
	CLASS_B Class = "B"
	CLASS_C Class = "C"
)

// Baud rates the module UART accepts.
var supportedBauds = map[int]bool{
	4800:   true,
	9600:   true,
	19200:  true,
	38400:  true,
	57600:  true,
	115200: true,
}

// txPowerIndex maps a requested dBm value to the band specific power index
// 0..10, non-increasing in the requested power. The second return is false
// when the band has no power table.
func txPowerIndex(band Band, dbm int) (int, bool) {
	switch band {
	case BAND_EU868:
		// EU868 is limited to +16 dBm EIRP.
		const eirp = 16
		switch {
		case dbm >= eirp:
			return 0, true
		case dbm < eirp-14:
			return 10, true
		default:
			return (eirp - dbm) / 2, true
		}
	case BAND_US915:
		// US915 is limited to +30 dBm conducted power.
		const maxPwr = 30
		switch {
		case dbm >= maxPwr:
			return 0, true
		case dbm < 10:
			return 10, true
		default:
			return (maxPwr - dbm) / 2, true
		}
	}
	return 0, false
}

// subBandCapable reports whether the band supports sub band selection.
func subBandCapable(band Band) bool {
	return band == BAND_US915 || band == BAND_AU915 || band == BAND_CN470
}

// subBandMask encodes a selectable sub band into its channel mask. The first
// sub band maps to bit zero.
func subBandMask(sb SubBand) uint16 {
	return 1 << (int(sb) - 2)
}

// subBandFromMask is the exact inverse of subBandMask. Mask zero selects all
// channels; anything but a single representable bit is not decodable.
func subBandFromMask(mask uint16) (SubBand, error) {
	if mask == 0 {
		return SUB_BAND_ALL, nil
	}
	if mask&(mask-1) != 0 {
		return SUB_BAND_NONE, errors.Wrapf(ErrInvalidResponse, "mask %04X selects more than one sub band", mask)
	}
	sb := SUB_BAND_1 + SubBand(bits.TrailingZeros16(mask))
	if sb > SUB_BAND_12 {
		return SUB_BAND_NONE, errors.Wrapf(ErrInvalidResponse, "mask %04X is outside the sub band range", mask)
	}
	return sb, nil
}

// hexKey renders key material as uppercase hex, two digits per byte, most
// significant byte first.
func hexKey(key []byte) string {
	return strings.ToUpper(hex.EncodeToString(key))
}

// hexPayload renders payload bytes and the P2P key as lowercase hex.
func hexPayload(payload []byte) string {
	return hex.EncodeToString(payload)
}

func parseIntToken(token string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(token))
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidResponse, "not a numeric token %q", token)
	}
	return v, nil
}

func parseBoolToken(token string) (bool, error) {
	switch strings.TrimSpace(token) {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, errors.Wrapf(ErrInvalidResponse, "not a boolean token %q", token)
}

func boolValue(enable bool) string {
	if enable {
		return "1"
	}
	return "0"
}

// SetBand selects the regional frequency plan.
func (obj *Device) SetBand(band Band) error {
	if band < BAND_EU433 || band > BAND_AS923 {
		return errors.Wrapf(ErrInvalidArgument, "unknown band %d", band)
	}
	_, err := obj.command(fmt.Sprintf("AT+BAND=%d", band))
	return err
}

// GetBand queries the active frequency plan.
func (obj *Device) GetBand() (Band, error) {
	value, err := obj.command("AT+BAND=?")
	if err != nil {
		return 0, err
	}
	v, err := parseIntToken(value)
	if err != nil {
		return 0, err
	}
	if v < int(BAND_EU433) || v > int(BAND_AS923) {
		return 0, errors.Wrapf(ErrInvalidResponse, "unknown band %d", v)
	}
	return Band(v), nil
}

// SetSubBand programs the channel mask for the given sub band. SUB_BAND_NONE
// is a no-op; bands without sub bands reject every other value.
func (obj *Device) SetSubBand(sb SubBand) error {
	if sb == SUB_BAND_NONE {
		return nil
	}
	if sb < SUB_BAND_NONE || sb > SUB_BAND_12 {
		return errors.Wrapf(ErrInvalidArgument, "unknown sub band %d", sb)
	}
	band, err := obj.GetBand()
	if err != nil {
		return err
	}
	if !subBandCapable(band) {
		return errors.Wrapf(ErrFail, "band %d has no sub bands", band)
	}
	if sb > SUB_BAND_9 && band != BAND_CN470 {
		return errors.Wrapf(ErrInvalidArgument, "sub band %d is CN470 only", sb)
	}
	if sb == SUB_BAND_ALL {
		_, err = obj.command("AT+MASK=0000")
		return err
	}
	_, err = obj.command(fmt.Sprintf("AT+MASK=%04X", subBandMask(sb)))
	return err
}

// GetSubBand reads the channel mask back. Bands without sub bands report
// SUB_BAND_NONE without asking the module.
func (obj *Device) GetSubBand() (SubBand, error) {
	band, err := obj.GetBand()
	if err != nil {
		return SUB_BAND_NONE, err
	}
	if !subBandCapable(band) {
		return SUB_BAND_NONE, nil
	}
	value, err := obj.command("AT+MASK=?")
	if err != nil {
		return SUB_BAND_NONE, err
	}
	mask, err := strconv.ParseUint(strings.TrimSpace(value), 16, 16)
	if err != nil {
		return SUB_BAND_NONE, errors.Wrapf(ErrInvalidResponse, "malformed channel mask %q", value)
	}
	return subBandFromMask(uint16(mask))
}

// SetTxPower programs the power index matching the requested dBm value for
// the active band. Bands without a power table fall back to index 0 with a
// warning.
func (obj *Device) SetTxPower(dbm int) error {
	band, err := obj.GetBand()
	if err != nil {
		return err
	}
	index, supported := txPowerIndex(band, dbm)
	if !supported {
		log.WithFields(log.Fields{
			"band": band,
			"dbm":  dbm,
		}).Warn("no TX power table for the active band, using index 0")
	}
	_, err = obj.command(fmt.Sprintf("AT+TXP=%d", index))
	return err
}

// SetDataRate programs the LoRaWAN data rate.
func (obj *Device) SetDataRate(dr DataRate) error {
	if dr < DR_0 || dr > DR_7 {
		return errors.Wrapf(ErrInvalidArgument, "unknown data rate %d", dr)
	}
	_, err := obj.command(fmt.Sprintf("AT+DR=%d", dr))
	return err
}

// GetDataRate queries the active data rate.
func (obj *Device) GetDataRate() (DataRate, error) {
	value, err := obj.command("AT+DR=?")
	if err != nil {
		return 0, err
	}
	v, err := parseIntToken(value)
	if err != nil {
		return 0, err
	}
	if v < int(DR_0) || v > int(DR_7) {
		return 0, errors.Wrapf(ErrInvalidResponse, "unknown data rate %d", v)
	}
	return DataRate(v), nil
}

// SetADR toggles adaptive data rate.
func (obj *Device) SetADR(enable bool) error {
	_, err := obj.command("AT+ADR=" + boolValue(enable))
	return err
}

// GetADR queries the adaptive data rate state.
func (obj *Device) GetADR() (bool, error) {
	value, err := obj.command("AT+ADR=?")
	if err != nil {
		return false, err
	}
	return parseBoolToken(value)
}

// SetClass selects the LoRaWAN device class.
func (obj *Device) SetClass(class Class) error {
	switch class {
	case CLASS_A, CLASS_B, CLASS_C:
	default:
		return errors.Wrapf(ErrInvalidArgument, "unknown class %q", string(class))
	}
	_, err := obj.command(fmt.Sprintf("AT+CLASS=%s", class))
	return err
}

// GetClass queries the LoRaWAN device class.
func (obj *Device) GetClass() (Class, error) {
	value, err := obj.command("AT+CLASS=?")
	if err != nil {
		return "", err
	}
	class := Class(strings.TrimSpace(value))
	switch class {
	case CLASS_A, CLASS_B, CLASS_C:
		return class, nil
	}
	return "", errors.Wrapf(ErrInvalidResponse, "unknown class %q", value)
}

// SetConfirmMode toggles confirmed uplinks.
func (obj *Device) SetConfirmMode(enable bool) error {
	_, err := obj.command("AT+CFM=" + boolValue(enable))
	return err
}

// GetConfirmMode queries the confirmed uplink state.
func (obj *Device) GetConfirmMode() (bool, error) {
	value, err := obj.command("AT+CFM=?")
	if err != nil {
		return false, err
	}
	return parseBoolToken(value)
}

// SetRetries programs the confirmed-uplink retry count 0..7. A non-zero
// count also switches the module to confirmed mode.
func (obj *Device) SetRetries(retries int) error {
	if retries < 0 || retries > 7 {
		return errors.Wrapf(ErrInvalidArgument, "retry count %d out of range", retries)
	}
	if err := obj.SetConfirmMode(retries > 0); err != nil {
		return err
	}
	_, err := obj.command(fmt.Sprintf("AT+RETY=%d", retries))
	return err
}

// GetRetries queries the confirmed-uplink retry count.
func (obj *Device) GetRetries() (int, error) {
	value, err := obj.command("AT+RETY=?")
	if err != nil {
		return 0, err
	}
	return parseIntToken(value)
}

// SetPublicNetworkMode toggles the public network sync word.
func (obj *Device) SetPublicNetworkMode(enable bool) error {
	_, err := obj.command("AT+PNM=" + boolValue(enable))
	return err
}

// GetPublicNetworkMode queries the public network sync word state.
func (obj *Device) GetPublicNetworkMode() (bool, error) {
	value, err := obj.command("AT+PNM=?")
	if err != nil {
		return false, err
	}
	return parseBoolToken(value)
}

// SetJoinMode selects OTAA or ABP activation. The selection gates which key
// set may be programmed afterwards.
func (obj *Device) SetJoinMode(mode JoinMode) error {
	if mode != JOIN_MODE_ABP && mode != JOIN_MODE_OTAA {
		return errors.Wrapf(ErrInvalidArgument, "unknown join mode %d", mode)
	}
	if _, err := obj.command(fmt.Sprintf("AT+NJM=%d", mode)); err != nil {
		return err
	}
	obj.joinMode = mode
	return nil
}

// GetJoinMode queries the activation procedure and refreshes the cached
// value.
func (obj *Device) GetJoinMode() (JoinMode, error) {
	value, err := obj.command("AT+NJM=?")
	if err != nil {
		return 0, err
	}
	v, err := parseIntToken(value)
	if err != nil {
		return 0, err
	}
	mode := JoinMode(v)
	if mode != JOIN_MODE_ABP && mode != JOIN_MODE_OTAA {
		return 0, errors.Wrapf(ErrInvalidResponse, "unknown join mode %d", v)
	}
	obj.joinMode = mode
	return mode, nil
}

// SetRX1Delay programs the delay before the first receive window in seconds.
func (obj *Device) SetRX1Delay(seconds int) error {
	if seconds < 0 || seconds > 255 {
		return errors.Wrapf(ErrInvalidArgument, "RX1 delay %d out of range", seconds)
	}
	_, err := obj.command(fmt.Sprintf("AT+RX1DL=%d", seconds))
	return err
}

// GetRX1Delay queries the first receive window delay in seconds.
func (obj *Device) GetRX1Delay() (int, error) {
	value, err := obj.command("AT+RX1DL=?")
	if err != nil {
		return 0, err
	}
	return parseIntToken(value)
}

// SetRX2Delay programs the delay before the second receive window in
// seconds.
func (obj *Device) SetRX2Delay(seconds int) error {
	if seconds < 0 || seconds > 255 {
		return errors.Wrapf(ErrInvalidArgument, "RX2 delay %d out of range", seconds)
	}
	_, err := obj.command(fmt.Sprintf("AT+RX2DL=%d", seconds))
	return err
}

// GetRX2Delay queries the second receive window delay in seconds.
func (obj *Device) GetRX2Delay() (int, error) {
	value, err := obj.command("AT+RX2DL=?")
	if err != nil {
		return 0, err
	}
	return parseIntToken(value)
}

// GetSNR queries the signal to noise ratio of the last received packet.
func (obj *Device) GetSNR() (int, error) {
	value, err := obj.command("AT+SNR=?")
	if err != nil {
		return 0, err
	}
	return parseIntToken(value)
}

// GetRSSI queries the signal strength of the last received packet.
func (obj *Device) GetRSSI() (int, error) {
	value, err := obj.command("AT+RSSI=?")
	if err != nil {
		return 0, err
	}
	return parseIntToken(value)
}

// GetDutyTime reports the remaining duty cycle wait. Only the duty cycle
// limited bands EU868, RU864 and EU433 support the query.
func (obj *Device) GetDutyTime() (time.Duration, error) {
	band, err := obj.GetBand()
	if err != nil {
		return 0, err
	}
	if band != BAND_EU868 && band != BAND_RU864 && band != BAND_EU433 {
		return 0, errors.Wrapf(ErrInvalidArgument, "band %d has no duty cycle limit", band)
	}
	value, err := obj.command("AT+DUTYTIME=?")
	if err != nil {
		return 0, err
	}
	v, err := parseIntToken(value)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Second, nil
}

// SetBaud reprograms the module UART speed. The serial port has to be
// reopened with the new rate afterwards.
func (obj *Device) SetBaud(baud int) error {
	if !supportedBauds[baud] {
		return errors.Wrapf(ErrInvalidArgument, "unsupported baud rate %d", baud)
	}
	_, err := obj.command(fmt.Sprintf("AT+BAUD=%d", baud))
	return err
}

// GetBaud queries the module UART speed.
func (obj *Device) GetBaud() (int, error) {
	value, err := obj.command("AT+BAUD=?")
	if err != nil {
		return 0, err
	}
	return parseIntToken(value)
}
