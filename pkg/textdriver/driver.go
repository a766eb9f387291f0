// Package textdriver implements the line-oriented text protocol spoken by
// Marlin-family firmware: ok/T:/Resend:/start line parsing and baud
// auto-switch connection probing. Grounded on
// _examples/original_source/src/drivers/MarlinDriver.cpp.
package textdriver

import (
	"fmt"
	"strings"
	"time"

	"github.com/doodle3d/print3d/pkg/driver"
	"github.com/doodle3d/print3d/pkg/gcode"
	"github.com/doodle3d/print3d/pkg/serialport"
)

// Tuning constants, from MarlinDriver.cpp.
const (
	updateInterval           = 200 * time.Millisecond
	maxCheckAttempts         = 2
	checkTemperatureIdle     = 1500 * time.Millisecond
	checkTemperaturePrinting = 5000 * time.Millisecond
	probeTimeout             = 200 * time.Millisecond
)

var baudCandidates = [2]int{115200, 250000}

// Driver is a Marlin-style text-line printer driver.
type Driver struct {
	*driver.Base

	devicePath string
	port       *serialport.Port

	baudIdx       int
	checkConn     bool
	checkAttempts int
	lastProbe     time.Time

	checkTemperatureInterval time.Duration
	lastTemperatureCheck     time.Time
}

// New constructs a Driver bound to devicePath, not yet opened.
func New(devicePath string) (driver.Driver, error) {
	return &Driver{
		Base:                     driver.NewBase(),
		devicePath:               devicePath,
		checkTemperatureInterval: checkTemperatureIdle,
	}, nil
}

// Open opens the serial port at the first candidate baud and begins
// connection probing.
func (d *Driver) Open() error {
	port, err := serialport.Open(d.devicePath, baudCandidates[0])
	if err != nil {
		d.SetState(driver.Disconnected)
		return err
	}
	d.port = port
	d.baudIdx = 0
	d.checkConn = true
	d.checkAttempts = 0
	d.lastProbe = time.Time{}
	d.SetState(driver.Connecting)
	return nil
}

// Close closes the serial port.
func (d *Driver) Close() error {
	d.SetState(driver.Disconnected)
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

// IsConnected reports whether the driver is past the Connecting probe.
func (d *Driver) IsConnected() bool {
	return d.State().Online()
}

// Update drains available serial input, drives connection probing or
// steady-state temperature polling, and returns the next requested delay.
func (d *Driver) Update() time.Duration {
	if d.port == nil || d.State() == driver.Disconnected || d.State() == driver.Unknown {
		return driver.NoDelay
	}

	if _, err := d.port.ReadAvailable(0); err == serialport.ErrClosed {
		d.Close()
		return driver.NoDelay
	}
	for {
		line, ok := d.port.ExtractLine()
		if !ok {
			break
		}
		d.handleLine(line)
	}

	now := time.Now()
	if d.checkConn {
		if now.Sub(d.lastProbe) >= updateInterval {
			d.probe(now)
		}
	} else {
		if now.Sub(d.lastTemperatureCheck) >= d.checkTemperatureInterval {
			d.sendCode("M105")
			d.lastTemperatureCheck = now
		}
	}

	if d.State() == driver.Printing || d.State() == driver.Stopping {
		return 20 * time.Millisecond
	}
	return updateInterval
}

func (d *Driver) probe(now time.Time) {
	d.sendCode("M105")
	d.lastProbe = now
	d.checkAttempts++
	if d.checkAttempts >= maxCheckAttempts {
		d.switchBaud()
		d.checkAttempts = 0
	}
}

func (d *Driver) switchBaud() {
	d.baudIdx = nextBaudIndex(d.baudIdx)
	if err := d.port.SetBaud(baudCandidates[d.baudIdx]); err != nil {
		return
	}
	d.port.FlushRead()
}

// nextBaudIndex computes the next candidate baud index, split out of
// switchBaud so the S7 cycling rule is testable without a live port.
func nextBaudIndex(idx int) int {
	return (idx + 1) % len(baudCandidates)
}

func (d *Driver) handleLine(line string) {
	switch {
	case strings.HasPrefix(line, "ok T:"):
		d.parseTemperatures(line[3:])
		d.SetHeating(false)
		d.afterTemperatureResponse()
	case strings.HasPrefix(line, "T:"):
		d.parseTemperatures(line)
		d.SetHeating(true)
		d.afterTemperatureResponse()
	case strings.HasPrefix(line, "ok"):
		if d.State() == driver.Printing || d.State() == driver.Stopping {
			d.GCode.EraseLine(1)
			d.printNextLine()
		}
	case strings.Contains(line, "Resend:"):
		d.GCode.SetCurrentLine(d.GCode.CurrentLine() - 1)
		d.printNextLine()
	case strings.Contains(line, "start"):
		// noted, no control action per spec §4.5.
	}
}

func (d *Driver) afterTemperatureResponse() {
	if d.checkConn {
		d.checkConn = false
		d.checkAttempts = 0
		d.SetState(driver.Idle)
	}
	if d.State() == driver.Printing || d.State() == driver.Stopping {
		d.checkTemperatureInterval = checkTemperaturePrinting
	} else {
		d.checkTemperatureInterval = checkTemperatureIdle
	}
}

func (d *Driver) parseTemperatures(line string) {
	pos := 0
	if idx := strings.Index(line[pos:], "T:"); idx != -1 {
		idx += pos
		v, n := scanNumber(line, idx+2)
		d.SetTemperature(int16(v))
		pos = idx + 2 + n
		if idx2 := strings.IndexByte(line[pos:], '/'); idx2 != -1 {
			idx2 += pos
			v2, n2 := scanNumber(line, idx2+1)
			d.SetTargetTemperature(int16(v2))
			pos = idx2 + 1 + n2
		}
	}
	if idx := strings.Index(line[pos:], "B:"); idx != -1 {
		idx += pos
		v, n := scanNumber(line, idx+2)
		d.SetBedTemperature(int16(v))
		pos = idx + 2 + n
		if idx2 := strings.IndexByte(line[pos:], '/'); idx2 != -1 {
			idx2 += pos
			v2, n2 := scanNumber(line, idx2+1)
			d.SetTargetBedTemperature(int16(v2))
		}
	}
}

func scanNumber(s string, start int) (float64, int) {
	if start < 0 || start > len(s) {
		return 0, 0
	}
	end := start
	for end < len(s) {
		c := s[end]
		if c == '.' || c == '-' || (c >= '0' && c <= '9') {
			end++
			continue
		}
		break
	}
	if end == start {
		return 0, 0
	}
	var v float64
	fmt.Sscanf(s[start:end], "%g", &v)
	return v, end - start
}

func (d *Driver) printNextLine() {
	line, n := d.GCode.GetNextLine(1)
	if n == 0 {
		d.ResetPrint()
		return
	}
	code := strings.TrimSuffix(line, "\n")
	d.sendCode(code)
	d.GCode.SetCurrentLine(d.GCode.CurrentLine() + 1)
}

// SendLine implements driver.SendLine.
func (d *Driver) SendLine(code string) error {
	return d.sendCode(code)
}

func (d *Driver) sendCode(code string) error {
	d.ExtractGCodeInfo(code)
	if d.port == nil {
		return fmt.Errorf("textdriver: not open")
	}
	_, err := d.port.Write([]byte(code + "\n"))
	return err
}

// StartPrint transitions into the requested state and, unlike the binary
// driver, immediately sends the first line (the text protocol has no
// printer-side queue to prime).
func (d *Driver) StartPrint(state driver.State) error {
	if err := d.Base.BeginPrint(state); err != nil {
		return err
	}
	d.printNextLine()
	return nil
}

// StopPrint resets the job, queues the end-gcode, and enters Stopping.
func (d *Driver) StopPrint(endCode string) error {
	d.Base.ResetPrint()
	if r := d.Base.SetGCode(endCode, nil); r != gcode.ResultOk {
		return fmt.Errorf("textdriver: stop_print set_gcode failed: %s", r)
	}
	return d.StartPrint(driver.Stopping)
}

// Heatup sends M104 S<target> to the printer.
func (d *Driver) Heatup(targetC int16) {
	d.sendCode(d.HeatupCode(targetC))
}
