package rak3172

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mbalug7/go-rak-lora/pkg/hal"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	defaultPollQuantum = 50 * time.Millisecond
	defaultYield       = 20 * time.Millisecond
	splashWindow       = 10 * time.Second
)

// Message is one received radio payload with its signal metadata. Port is
// meaningful in LoRaWAN mode only.
type Message struct {
	Payload []byte
	RSSI    int
	SNR     int
	Port    uint8
}

// Device is one managed radio module behind a transport. Operations must be
// serialized by the owning goroutine; the transport enforces one command in
// flight but the Device does not lock multi-command sequences against each
// other. The background P2P listener is the only concurrent consumer the
// Device itself creates.
type Device struct {
	conn hal.Transport

	mode       Mode
	joinMode   JoinMode
	joined     bool
	confirmErr bool
	encryption bool

	muListen  sync.Mutex
	listening bool
	stopCh    chan struct{}

	info *Info

	// wait-loop tuning, swapped out in tests for determinism
	pollQuantum time.Duration
	yieldDelay  time.Duration
	now         func() time.Time
}

// NewDevice wraps an open transport. No commands are sent; follow up with
// InitLoRaWAN, InitP2P or the individual operations.
func NewDevice(conn hal.Transport) *Device {
	return &Device{
		conn:        conn,
		pollQuantum: defaultPollQuantum,
		yieldDelay:  defaultYield,
		now:         time.Now,
	}
}

// command sends one command line and folds module error statuses into
// ErrInvalidResponse. Transport failures pass through wrapped.
func (obj *Device) command(cmd string) (string, error) {
	value, err := obj.conn.SendCommand(cmd)
	if err != nil {
		var respErr *hal.ResponseError
		if errors.As(err, &respErr) {
			return value, errors.Wrapf(ErrInvalidResponse, "%s rejected with %s", cmd, respErr.Status)
		}
		return value, errors.Wrapf(err, "%s failed", cmd)
	}
	return value, nil
}

// deadlineFor converts a caller timeout into an absolute deadline. A zero or
// negative timeout means no deadline.
func (obj *Device) deadlineFor(timeout time.Duration) (time.Time, bool) {
	if timeout <= 0 {
		return time.Time{}, false
	}
	return obj.now().Add(timeout), true
}

func (obj *Device) expired(deadline time.Time, bounded bool) bool {
	return bounded && obj.now().After(deadline)
}

// Busy reports whether a command exchange is outstanding or a P2P listen
// window is open.
func (obj *Device) Busy() bool {
	return obj.IsListening() || obj.conn.Busy()
}

// Joined reports the cached join flag without asking the module. It is
// authoritative only right after IsJoined, a successful join or a reset.
func (obj *Device) Joined() bool {
	return obj.joined
}

// ConfirmError reports whether the last confirmed uplink failed.
func (obj *Device) ConfirmError() bool {
	return obj.confirmErr
}

// GetMode queries the operating mode and refreshes the cached value.
func (obj *Device) GetMode() (Mode, error) {
	value, err := obj.command("AT+NWM=?")
	if err != nil {
		return 0, err
	}
	v, err := parseIntToken(value)
	if err != nil {
		return 0, err
	}
	mode := Mode(v)
	if mode != MODE_P2P && mode != MODE_LORAWAN {
		return 0, errors.Wrapf(ErrInvalidResponse, "unknown mode %d", v)
	}
	obj.mode = mode
	return mode, nil
}

// SetMode switches between LoRaWAN and P2P operation. A mode change reboots
// the module, so the current mode is queried first and an unchanged mode is
// a no-op. After a change the boot splash is consumed before returning and
// the join state is cleared.
func (obj *Device) SetMode(mode Mode) error {
	if mode != MODE_P2P && mode != MODE_LORAWAN {
		return errors.Wrapf(ErrInvalidArgument, "unknown mode %d", mode)
	}
	current, err := obj.GetMode()
	if err != nil {
		return err
	}
	if current == mode {
		return nil
	}
	if err := obj.conn.WriteLine(fmt.Sprintf("AT+NWM=%d", mode)); err != nil {
		return errors.Wrap(err, "failed to request mode switch")
	}
	obj.joined = false
	if err := obj.waitSplash(splashWindow); err != nil {
		return err
	}
	if obj.mode != mode {
		return errors.Wrapf(ErrInvalidResponse, "module rebooted into mode %d", obj.mode)
	}
	log.WithField("mode", mode).Info("operating mode changed")
	return nil
}

// SoftReset restarts the module firmware and waits for the boot splash. The
// stored configuration survives, the join state does not.
func (obj *Device) SoftReset(timeout time.Duration) error {
	if err := obj.conn.WriteLine("ATZ"); err != nil {
		return errors.Wrap(err, "failed to request reset")
	}
	obj.joined = false
	return obj.waitSplash(timeout)
}

// HardReset pulses the reset line when the transport provides one and waits
// for the boot splash.
func (obj *Device) HardReset(timeout time.Duration) error {
	rst, ok := obj.conn.(hal.Resetter)
	if !ok {
		return errors.Wrap(ErrFail, "transport has no reset line")
	}
	if err := rst.HardReset(); err != nil {
		return err
	}
	obj.joined = false
	return obj.waitSplash(timeout)
}

// Sleep puts the module into sleep mode for the given period.
func (obj *Device) Sleep(period time.Duration) error {
	if period <= 0 {
		return errors.Wrap(ErrInvalidArgument, "sleep period must be positive")
	}
	_, err := obj.command(fmt.Sprintf("AT+SLEEP=%d", period.Milliseconds()))
	return err
}

// waitSplash drains the event feed until the boot splash ends with one of
// the mode markers and records which mode the module came up in.
func (obj *Device) waitSplash(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = splashWindow
	}
	deadline := obj.now().Add(timeout)
	for {
		line, ok := obj.conn.NextEvent(obj.pollQuantum)
		if ok {
			log.WithField("line", line).Debug("boot splash line")
			if strings.HasSuffix(line, splashLoRaWAN) {
				obj.mode = MODE_LORAWAN
				return nil
			}
			if strings.HasSuffix(line, splashP2P) {
				obj.mode = MODE_P2P
				return nil
			}
			continue
		}
		if obj.now().After(deadline) {
			return errors.Wrap(ErrTimeout, "no boot splash received")
		}
		time.Sleep(obj.yieldDelay)
	}
}
