//go:build pico
// +build pico

package pico

import (
	"fmt"
	"machine"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbalug7/go-rak-lora/pkg/hal"
)

const (
	statusOK          = "OK"
	statusErrorPrefix = "AT_"
	eventPrefix       = "+EVT:"
	eventQueueSize    = 16
	commandWindow     = 2 * time.Second
	pollDelay         = 5 * time.Millisecond
)

// UARTHandler is the transport variant for TinyGo targets. It polls the UART
// ring buffer instead of blocking on a stream and keeps a single pending
// command slot since only one exchange can be outstanding anyway.
type UARTHandler struct {
	serialStream *machine.UART
	events       chan string
	muPending    sync.Mutex
	pending      chan string
	muBusy       sync.Mutex // write and command exchange must be locked until the previous one is done
	busy         int32
	cmdWindow    time.Duration
}

func NewUARTHandler(uart *machine.UART, txPin machine.Pin, rxPin machine.Pin, baudRate uint32) (*UARTHandler, error) {
	handler := &UARTHandler{
		serialStream: uart,
		events:       make(chan string, eventQueueSize),
		cmdWindow:    commandWindow,
	}
	err := uart.Configure(machine.UARTConfig{
		BaudRate: baudRate,
		TX:       txPin,
		RX:       rxPin,
	})
	if err != nil {
		return nil, err
	}
	// module prints a splash on power up, give it time and drop the leftovers
	time.Sleep(200 * time.Millisecond)
	uart.Buffer.Clear()
	go handler.readLoop()
	return handler, nil
}

func (obj *UARTHandler) Busy() bool {
	return atomic.LoadInt32(&obj.busy) == 1
}

// SendCommand transmits one command and collects at most one value line and
// the terminal status, same contract as the host serial handler.
func (obj *UARTHandler) SendCommand(cmd string) (string, error) {
	obj.muBusy.Lock()
	defer obj.muBusy.Unlock()
	atomic.StoreInt32(&obj.busy, 1)
	defer atomic.StoreInt32(&obj.busy, 0)

	pending := make(chan string, 8)
	obj.muPending.Lock()
	obj.pending = pending
	obj.muPending.Unlock()
	defer func() {
		obj.muPending.Lock()
		obj.pending = nil
		obj.muPending.Unlock()
	}()

	if err := obj.writeLine(cmd); err != nil {
		return "", err
	}

	var value string
	deadline := time.After(obj.cmdWindow)
	for {
		select {
		case line := <-pending:
			switch {
			case line == statusOK:
				return value, nil
			case strings.HasPrefix(line, statusErrorPrefix):
				return value, &hal.ResponseError{Status: line}
			default:
				if value == "" {
					value = stripEcho(cmd, line)
				}
			}
		case <-deadline:
			return value, fmt.Errorf("no status received for %s, timeout occurred", cmd)
		}
	}
}

func (obj *UARTHandler) WriteLine(line string) error {
	obj.muBusy.Lock()
	defer obj.muBusy.Unlock()
	return obj.writeLine(line)
}

func (obj *UARTHandler) writeLine(line string) error {
	if _, err := obj.serialStream.Write([]byte(line + "\r\n")); err != nil {
		return fmt.Errorf("failed to send data, err: %w", err)
	}
	return nil
}

// NextEvent dequeues one unsolicited line with a bounded wait.
func (obj *UARTHandler) NextEvent(wait time.Duration) (string, bool) {
	select {
	case line := <-obj.events:
		return line, true
	case <-time.After(wait):
		return "", false
	}
}

func (obj *UARTHandler) readLoop() {
	var line []byte
	for {
		for obj.serialStream.Buffered() > 0 {
			b, err := obj.serialStream.ReadByte()
			if err != nil {
				continue
			}
			if b != '\n' {
				line = append(line, b)
				continue
			}
			text := strings.TrimRight(string(line), "\r")
			line = line[:0]
			if text != "" {
				obj.dispatchLine(text)
			}
		}
		time.Sleep(pollDelay)
	}
}

func (obj *UARTHandler) dispatchLine(line string) {
	if !strings.HasPrefix(line, eventPrefix) {
		obj.muPending.Lock()
		if obj.pending != nil {
			select {
			case obj.pending <- line:
			default:
			}
			obj.muPending.Unlock()
			return
		}
		obj.muPending.Unlock()
	}
	select {
	case obj.events <- line:
	default:
	}
}

func stripEcho(cmd string, line string) string {
	if !strings.HasSuffix(cmd, "=?") {
		return line
	}
	echo := strings.TrimSuffix(cmd, "=?") + "="
	if strings.HasPrefix(line, echo) {
		return strings.TrimPrefix(line, echo)
	}
	return line
}
