//go:build !pico
// +build !pico

package rak3172

import (
	"encoding/hex"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const defaultBaud = 115200

// Profile is a YAML description of one module hookup and its radio
// parameters. Exactly the parameter set matching the intended operating
// mode has to be present.
type Profile struct {
	Serial  SerialProfile   `yaml:"serial"`
	Reset   *ResetProfile   `yaml:"reset"`
	LoRaWAN *LoRaWANProfile `yaml:"lorawan"`
	P2P     *P2PProfile     `yaml:"p2p"`
}

// SerialProfile names the serial port the module is wired to.
type SerialProfile struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// ResetProfile names the GPIO line wired to the module reset pin.
type ResetProfile struct {
	Chip     string `yaml:"chip"`
	Pin      int    `yaml:"pin"`
	Inverted bool   `yaml:"inverted"`
}

// LoRaWANProfile carries the LoRaWAN parameter set with bands and classes as
// names and key material as hex strings.
type LoRaWANProfile struct {
	Band     string `yaml:"band"`
	SubBand  string `yaml:"sub_band"`
	Class    string `yaml:"class"`
	JoinMode string `yaml:"join_mode"`
	ADR      bool   `yaml:"adr"`
	Retries  int    `yaml:"retries"`
	TxPower  int    `yaml:"tx_power"`
	DevEUI   string `yaml:"dev_eui"`
	AppEUI   string `yaml:"app_eui"`
	AppKey   string `yaml:"app_key"`
	AppSKey  string `yaml:"app_s_key"`
	NwkSKey  string `yaml:"nwk_s_key"`
	DevAddr  string `yaml:"dev_addr"`
}

// P2PProfile carries the P2P radio parameter set.
type P2PProfile struct {
	Frequency     uint32 `yaml:"frequency"`
	Spreading     int    `yaml:"spreading_factor"`
	Bandwidth     int    `yaml:"bandwidth"`
	CodeRate      int    `yaml:"code_rate"`
	Preamble      uint16 `yaml:"preamble"`
	Power         int    `yaml:"power"`
	EncryptionKey string `yaml:"encryption_key"`
}

// LoadProfile reads and decodes a device profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read profile file")
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, errors.Wrap(err, "unmarshal profile")
	}
	if profile.Serial.Port == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "profile names no serial port")
	}
	if profile.Serial.Baud == 0 {
		profile.Serial.Baud = defaultBaud
	}
	return &profile, nil
}

var bandNames = map[string]Band{
	"eu433": BAND_EU433,
	"cn470": BAND_CN470,
	"ru864": BAND_RU864,
	"in865": BAND_IN865,
	"eu868": BAND_EU868,
	"us915": BAND_US915,
	"au915": BAND_AU915,
	"kr920": BAND_KR920,
	"as923": BAND_AS923,
}

func bandFromName(name string) (Band, error) {
	band, ok := bandNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, errors.Wrapf(ErrInvalidArgument, "unknown band %q", name)
	}
	return band, nil
}

func subBandFromName(name string) (SubBand, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "", "none":
		return SUB_BAND_NONE, nil
	case "all":
		return SUB_BAND_ALL, nil
	}
	n, err := strconv.Atoi(name)
	if err != nil || n < 1 || n > 12 {
		return 0, errors.Wrapf(ErrInvalidArgument, "unknown sub band %q", name)
	}
	return SUB_BAND_1 + SubBand(n-1), nil
}

func classFromName(name string) (Class, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "A":
		return CLASS_A, nil
	case "B":
		return CLASS_B, nil
	case "C":
		return CLASS_C, nil
	}
	return "", errors.Wrapf(ErrInvalidArgument, "unknown class %q", name)
}

func joinModeFromName(name string) (JoinMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "otaa":
		return JOIN_MODE_OTAA, nil
	case "abp":
		return JOIN_MODE_ABP, nil
	}
	return 0, errors.Wrapf(ErrInvalidArgument, "unknown join mode %q", name)
}

func decodeKey(field, value string, wantLen int) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s is not a hex string", field)
	}
	if len(key) != wantLen {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s needs %d bytes", field, wantLen)
	}
	return key, nil
}

// LoRaWANConfig converts the named profile values into the typed
// configuration consumed by InitLoRaWAN.
func (obj *Profile) LoRaWANConfig() (LoRaWANConfig, error) {
	var cfg LoRaWANConfig
	if obj.LoRaWAN == nil {
		return cfg, errors.Wrap(ErrInvalidArgument, "profile has no lorawan section")
	}
	p := obj.LoRaWAN
	var err error
	if cfg.Band, err = bandFromName(p.Band); err != nil {
		return cfg, err
	}
	if cfg.SubBand, err = subBandFromName(p.SubBand); err != nil {
		return cfg, err
	}
	if cfg.Class, err = classFromName(p.Class); err != nil {
		return cfg, err
	}
	if cfg.JoinMode, err = joinModeFromName(p.JoinMode); err != nil {
		return cfg, err
	}
	cfg.ADR = p.ADR
	cfg.Retries = p.Retries
	cfg.TxPower = p.TxPower
	if cfg.DevEUI, err = decodeKey("dev_eui", p.DevEUI, 8); err != nil {
		return cfg, err
	}
	if cfg.AppEUI, err = decodeKey("app_eui", p.AppEUI, 8); err != nil {
		return cfg, err
	}
	if cfg.AppKey, err = decodeKey("app_key", p.AppKey, 16); err != nil {
		return cfg, err
	}
	if cfg.AppSKey, err = decodeKey("app_s_key", p.AppSKey, 16); err != nil {
		return cfg, err
	}
	if cfg.NwkSKey, err = decodeKey("nwk_s_key", p.NwkSKey, 16); err != nil {
		return cfg, err
	}
	if cfg.DevAddr, err = decodeKey("dev_addr", p.DevAddr, 4); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// P2PConfig converts the profile values into the typed configuration
// consumed by InitP2P.
func (obj *Profile) P2PConfig() (P2PConfig, error) {
	var cfg P2PConfig
	if obj.P2P == nil {
		return cfg, errors.Wrap(ErrInvalidArgument, "profile has no p2p section")
	}
	p := obj.P2P
	cfg = P2PConfig{
		Frequency: p.Frequency,
		Spreading: SpreadingFactor(p.Spreading),
		Bandwidth: Bandwidth(p.Bandwidth),
		CodeRate:  CodeRate(p.CodeRate),
		Preamble:  p.Preamble,
		Power:     p.Power,
	}
	if err := cfg.validate(); err != nil {
		return P2PConfig{}, err
	}
	return cfg, nil
}

// P2PEncryptionKey decodes the optional P2P encryption key, nil when the
// profile sets none.
func (obj *Profile) P2PEncryptionKey() ([]byte, error) {
	if obj.P2P == nil {
		return nil, nil
	}
	return decodeKey("encryption_key", obj.P2P.EncryptionKey, 8)
}
