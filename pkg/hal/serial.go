//go:build !pico
// +build !pico

package hal

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mazen160/go-random"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

const (
	statusOK             = "OK"
	statusErrorPrefix    = "AT_"
	eventPrefix          = "+EVT:"
	defaultEventQueue    = 32
	defaultCommandWindow = 2 * time.Second
)

type cmdWaiter struct {
	lines chan string
}

// SerialHandler owns the serial port and turns its byte stream into the
// command/response and event-feed contracts. A background goroutine reads
// CR/LF terminated lines and routes them either to the waiter registered by
// an in-flight command or to the bounded event queue.
type SerialHandler struct {
	tty          string
	serialStream io.ReadWriteCloser
	reset        *resetLine
	events       chan string
	muWaiters    sync.Mutex            // waiter map protection mutex
	waiters      map[string]*cmdWaiter // holds the line channel of the in-flight command
	muBusy       sync.Mutex            // only one command exchange may be outstanding
	busy         int32
	cmdWindow    time.Duration
}

// NewSerialHandler opens the serial port and starts the reader goroutine.
func NewSerialHandler(ttyName string, baudRate int) (*SerialHandler, error) {
	return newSerialHandler(ttyName, baudRate, nil)
}

// NewSerialHandlerWithReset additionally claims a GPIO line wired to the
// module reset pin. The line is treated as active low unless resetInverted
// is set.
func NewSerialHandlerWithReset(ttyName string, baudRate int, gpioChip string, resetPin int, resetInverted bool) (*SerialHandler, error) {
	rst, err := newResetLine(gpioChip, resetPin, resetInverted)
	if err != nil {
		return nil, err
	}
	return newSerialHandler(ttyName, baudRate, rst)
}

func newSerialHandler(ttyName string, baudRate int, rst *resetLine) (*SerialHandler, error) {
	handler := &SerialHandler{
		tty:       ttyName,
		reset:     rst,
		events:    make(chan string, defaultEventQueue),
		waiters:   make(map[string]*cmdWaiter),
		cmdWindow: defaultCommandWindow,
	}
	config := &serial.Config{
		Name: ttyName,
		Baud: baudRate,
		Size: 8,
	}
	port, err := serial.OpenPort(config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open serial port")
	}
	handler.serialStream = port
	go handler.readLoop()
	return handler, nil
}

// Close releases the reset line and the serial port. Closing the port also
// stops the reader goroutine.
func (obj *SerialHandler) Close() error {
	if obj.reset != nil {
		if err := obj.reset.close(); err != nil {
			return err
		}
	}
	if err := obj.serialStream.Close(); err != nil {
		return errors.Wrap(err, "failed to close serial stream")
	}
	return nil
}

// HardReset pulses the module reset line and is only available when the
// handler was created with one.
func (obj *SerialHandler) HardReset() error {
	if obj.reset == nil {
		return errors.New("no reset line configured")
	}
	return obj.reset.pulse()
}

func (obj *SerialHandler) Busy() bool {
	return atomic.LoadInt32(&obj.busy) == 1
}

// SendCommand transmits one command and collects its response: at most one
// value line followed by a terminal status. OK resolves to nil, an AT_ status
// to a ResponseError, and a missing status within the command window to an
// error.
func (obj *SerialHandler) SendCommand(cmd string) (string, error) {
	obj.muBusy.Lock()
	defer obj.muBusy.Unlock()
	atomic.StoreInt32(&obj.busy, 1)
	defer atomic.StoreInt32(&obj.busy, 0)

	id, err := random.String(16)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate waiter id")
	}
	waiter := &cmdWaiter{lines: make(chan string, 8)}
	obj.muWaiters.Lock()
	obj.waiters[id] = waiter
	obj.muWaiters.Unlock()
	defer func() {
		obj.muWaiters.Lock()
		delete(obj.waiters, id)
		obj.muWaiters.Unlock()
	}()

	log.WithField("cmd", cmd).Debug("transmit command")
	if err := obj.writeLine(cmd); err != nil {
		return "", err
	}

	var value string
	deadline := time.After(obj.cmdWindow)
	for {
		select {
		case line := <-waiter.lines:
			switch {
			case line == statusOK:
				return value, nil
			case strings.HasPrefix(line, statusErrorPrefix):
				return value, &ResponseError{Status: line}
			default:
				if value == "" {
					value = stripEcho(cmd, line)
				}
			}
		case <-deadline:
			return value, errors.Errorf("no status received for %s, timeout occurred", cmd)
		}
	}
}

// WriteLine transmits one raw line. No response is collected; anything the
// module prints afterwards ends up in the event queue.
func (obj *SerialHandler) WriteLine(line string) error {
	obj.muBusy.Lock()
	defer obj.muBusy.Unlock()
	log.WithField("line", line).Debug("transmit raw line")
	return obj.writeLine(line)
}

func (obj *SerialHandler) writeLine(line string) error {
	if _, err := obj.serialStream.Write([]byte(line + "\r\n")); err != nil {
		return errors.Wrap(err, "failed to write to serial port")
	}
	return nil
}

// NextEvent dequeues one unsolicited line with a bounded wait.
func (obj *SerialHandler) NextEvent(wait time.Duration) (string, bool) {
	select {
	case line := <-obj.events:
		return line, true
	case <-time.After(wait):
		return "", false
	}
}

func (obj *SerialHandler) readLoop() {
	scanner := bufio.NewScanner(obj.serialStream)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		log.WithField("line", line).Debug("serial line received")
		obj.dispatchLine(line)
	}
	if err := scanner.Err(); err != nil {
		log.WithError(err).Debug("serial reader stopped")
	}
}

// dispatchLine routes a received line. Event lines always go to the event
// queue. Other lines belong to the in-flight command when there is one;
// without a command in flight they are unsolicited too (boot splash, stray
// output) and go to the event queue as well.
func (obj *SerialHandler) dispatchLine(line string) {
	if !strings.HasPrefix(line, eventPrefix) {
		obj.muWaiters.Lock()
		if len(obj.waiters) > 0 {
			for _, waiter := range obj.waiters {
				select {
				case waiter.lines <- line:
				default:
				}
			}
			obj.muWaiters.Unlock()
			return
		}
		obj.muWaiters.Unlock()
	}
	select {
	case obj.events <- line:
	default:
		log.WithField("line", line).Warn("event queue full, dropping line")
	}
}

// stripEcho removes the echoed command prefix some firmware revisions put in
// front of a query value, so AT+BAND=? yields "4" whether the module answered
// "4" or "AT+BAND=4".
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
