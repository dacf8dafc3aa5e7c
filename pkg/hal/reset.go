//go:build !pico
// +build !pico

package hal

import (
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/gpiod"
)

const resetHoldTime = 100 * time.Millisecond

// resetLine drives the module reset pin through a GPIO character device.
// The pin is active low on the reference carrier boards; inverted flips
// the polarity for boards that buffer the line.
type resetLine struct {
	chip     *gpiod.Chip
	line     *gpiod.Line
	inverted bool
}

func newResetLine(gpioChip string, pin int, inverted bool) (*resetLine, error) {
	chip, err := gpiod.NewChip(gpioChip, gpiod.WithConsumer("go-rak-lora"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open gpio chip")
	}
	rst := &resetLine{chip: chip, inverted: inverted}
	rst.line, err = chip.RequestLine(pin, gpiod.AsOutput(rst.level(false)))
	if err != nil {
		chip.Close()
		return nil, errors.Wrap(err, "failed to request reset line")
	}
	return rst, nil
}

// level maps the logical asserted state to the wire level.
func (obj *resetLine) level(asserted bool) int {
	if asserted != obj.inverted {
		return 0
	}
	return 1
}

// pulse asserts reset for the hold time and releases it again.
func (obj *resetLine) pulse() error {
	if err := obj.line.SetValue(obj.level(true)); err != nil {
		return errors.Wrap(err, "failed to assert reset line")
	}
	time.Sleep(resetHoldTime)
	if err := obj.line.SetValue(obj.level(false)); err != nil {
		return errors.Wrap(err, "failed to release reset line")
	}
	return nil
}

func (obj *resetLine) close() error {
	if err := obj.line.Close(); err != nil {
		return errors.Wrap(err, "failed to close reset line")
	}
	if err := obj.chip.Close(); err != nil {
		return errors.Wrap(err, "failed to close gpio chip")
	}
	return nil
}
