// Package binarydriver implements the s3g/Makerbot-style binary packet
// protocol: 0xD5 framing, iButton CRC-8, send-with-ACK and retry, printer
// buffer-space accounting, and tool-temperature queries. Grounded on
// _examples/original_source/src/drivers/MakerbotDriver.cpp.
package binarydriver

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/doodle3d/print3d/pkg/driver"
	"github.com/doodle3d/print3d/pkg/gcode"
	"github.com/doodle3d/print3d/pkg/serialport"
	"github.com/doodle3d/print3d/pkg/translate"
)

// Tuning constants, from MakerbotDriver.cpp.
const (
	queueMinSize      = 10
	queueFillSize     = 30
	gcodeCvtLines     = 25
	printerBufferSize = 512
	packetTimeout     = 250 * time.Millisecond
	maxRetries        = 5
	tickInterval      = time.Second / 30
	statusEvery       = 30 // ticks

	defaultBaud = 115200
)

// Opcodes, spec §4.6.
const (
	opGetVersion     = 0
	opGetBufferSpace = 2
	opToolQuery      = 10
	opResetBuffer    = 3
	opAbort          = 7

	toolQueryHotend       = 2
	toolQueryBed          = 30
	toolQueryHotendTarget = 32
	toolQueryBedTarget    = 33
)

// ErrCrcMismatch is returned by parseResponse when the reply's CRC does
// not match; per spec this is NOT retried.
var ErrCrcMismatch = errors.New("binarydriver: crc mismatch")

var errUnexpectedByte = errors.New("binarydriver: unexpected framing byte")

var replyNames = map[byte]string{
	0x80: "Generic",
	0x81: "Success",
	0x82: "BufferOverflow",
	0x83: "CrcMismatch",
	0x84: "QueryTooBig",
	0x85: "Unsupported",
	0x87: "DownstreamTimeout",
	0x88: "ToolLockTimeout",
	0x89: "Cancel",
	0x8A: "BuildingFromSd",
	0x8B: "Overheat",
	0x8C: "PacketTimeout",
}

func replyName(code byte) string {
	if n, ok := replyNames[code]; ok {
		return n
	}
	return fmt.Sprintf("0x%02x", code)
}

// Driver is an s3g/Makerbot-style binary-packet printer driver.
type Driver struct {
	*driver.Base

	devicePath string
	port       *serialport.Port
	translator translate.Translator

	// SendResetOnFullStop controls whether fullStop actually transmits
	// reset-buffer/abort opcodes, per spec §9's open question. Defaults to
	// true (unlike the reference, which only logs).
	SendResetOnFullStop bool

	queue           [][]byte
	bufferSpace     uint32
	firmwareVersion uint16
	validResponse   bool
	tick            int
}

// New constructs a Driver bound to devicePath with a PassthroughTranslator,
// not yet opened.
func New(devicePath string) (driver.Driver, error) {
	return &Driver{
		Base:                driver.NewBase(gcode.WithKeepMacroComments()),
		devicePath:          devicePath,
		translator:          translate.NewPassthroughTranslator(),
		SendResetOnFullStop: true,
		bufferSpace:         printerBufferSize,
	}, nil
}

// Open opens the serial port and enters Connecting; the first successful
// tool query transitions to Idle (handleReply).
func (d *Driver) Open() error {
	port, err := serialport.Open(d.devicePath, defaultBaud)
	if err != nil {
		d.SetState(driver.Disconnected)
		return err
	}
	d.port = port
	d.validResponse = false
	d.tick = 0
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

// Update advances the translation queue, drains it against printer buffer
// space, and runs periodic status polling. Returns the requested delay
// until the next call (~30 Hz cadence).
func (d *Driver) Update() time.Duration {
	if d.port == nil || d.State() == driver.Disconnected || d.State() == driver.Unknown {
		return driver.NoDelay
	}

	if d.State() == driver.Printing || d.State() == driver.Stopping {
		if len(d.queue) < queueMinSize {
			d.fillQueue()
		}
		d.processQueue()
	}

	d.tick++
	if d.tick >= statusEvery {
		d.tick = 0
		if !d.validResponse {
			d.getVersion()
		}
		d.updateTemperatures()
		d.getBufferSpace()
	}

	return tickInterval
}

func (d *Driver) fillQueue() {
	for len(d.queue) < queueFillSize {
		text, n := d.GCode.GetNextLine(gcodeCvtLines)
		if n == 0 {
			return
		}
		lines := splitLines(text)
		consumed, payloads := d.translator.Translate(lines)
		if consumed == 0 {
			return
		}
		d.GCode.EraseLine(consumed)
		d.GCode.SetCurrentLine(d.GCode.CurrentLine() + consumed)
		d.queue = append(d.queue, payloads...)
		if consumed < len(lines) {
			return
		}
	}
}

func (d *Driver) processQueue() {
	if len(d.queue) == 0 {
		d.getBufferSpace()
		if d.bufferSpace >= printerBufferSize {
			d.SetState(driver.Idle)
		}
		return
	}

	d.getBufferSpace()
	if d.bufferSpace <= 480 {
		return
	}
	for len(d.queue) > 0 {
		next := d.queue[0]
		if uint32(len(next))+5 > d.bufferSpace {
			break
		}
		reply, err := d.sendPacket(next)
		if err != nil {
			log.Printf("binarydriver: send failed, dropping packet: %v", err)
		} else {
			d.handleReply(next[0], 0, reply)
		}
		d.queue = d.queue[1:]
		if uint32(len(next)) > d.bufferSpace {
			d.bufferSpace = 0
		} else {
			d.bufferSpace -= uint32(len(next))
		}
	}
}

func splitLines(text string) []string {
	parts := strings.SplitAfter(text, "\n")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// SetGCode delegates to the common buffer logic then performs fullStop,
// mirroring MakerbotDriver::setGCode.
func (d *Driver) SetGCode(text string, meta *gcode.Meta) gcode.SetResult {
	r := d.Base.SetGCode(text, meta)
	d.fullStop()
	return r
}

// ClearGCode delegates to the common buffer logic then performs fullStop,
// mirroring MakerbotDriver::clearGCode.
func (d *Driver) ClearGCode() {
	d.Base.ClearGCode()
	d.fullStop()
}

// fullStop clears the pending queue and translator state, and (unlike the
// reference implementation, which only logs) actually transmits
// reset-buffer/abort by default; see spec §9 and SPEC_FULL.md §10.
func (d *Driver) fullStop() {
	d.queue = nil
	d.translator.Reset()
	if !d.SendResetOnFullStop || !d.IsConnected() {
		return
	}
	if reply, err := d.sendPacket([]byte{opResetBuffer}); err == nil {
		d.handleReply(opResetBuffer, 0, reply)
	}
	if reply, err := d.sendPacket([]byte{opAbort}); err == nil {
		d.handleReply(opAbort, 0, reply)
	}
}

// StartPrint enters the requested state; unlike the text driver, the queue
// (not an immediate send) drives progress.
func (d *Driver) StartPrint(state driver.State) error {
	return d.Base.BeginPrint(state)
}

// StopPrint resets the job, queues the end-gcode, and enters Stopping.
func (d *Driver) StopPrint(endCode string) error {
	d.Base.ResetPrint()
	if r := d.SetGCode(endCode, nil); r != gcode.ResultOk {
		return fmt.Errorf("binarydriver: stop_print set_gcode failed: %s", r)
	}
	return d.StartPrint(driver.Stopping)
}

// Heatup translates a single M104 line and sends it immediately (not via
// the print queue), mirroring AbstractDriver::heatup's direct sendCode.
func (d *Driver) Heatup(targetC int16) {
	code := d.HeatupCode(targetC)
	_, payloads := d.translator.Translate([]string{code})
	for _, p := range payloads {
		if reply, err := d.sendPacket(p); err == nil {
			d.handleReply(p[0], 0, reply)
		}
	}
}

func (d *Driver) getVersion() {
	reply, err := d.sendPacket([]byte{opGetVersion})
	if err != nil {
		return
	}
	d.handleReply(opGetVersion, 0, reply)
}

func (d *Driver) getBufferSpace() {
	reply, err := d.sendPacket([]byte{opGetBufferSpace})
	if err != nil {
		return
	}
	d.handleReply(opGetBufferSpace, 0, reply)
}

func (d *Driver) updateTemperatures() {
	for _, sub := range []byte{toolQueryHotend, toolQueryBed, toolQueryHotendTarget, toolQueryBedTarget} {
		reply, err := d.sendPacket([]byte{opToolQuery, 0, sub})
		if err != nil {
			continue
		}
		d.handleReply(opToolQuery, sub, reply)
	}
}

func (d *Driver) handleReply(opcode byte, toolSubcmd byte, reply []byte) {
	if len(reply) == 0 {
		return
	}
	code := reply[0]
	if code != 0x81 {
		log.Printf("binarydriver: reply %s for opcode %d", replyName(code), opcode)
		return
	}
	d.validResponse = true

	switch opcode {
	case opGetVersion:
		if len(reply) >= 3 {
			d.firmwareVersion = binary.LittleEndian.Uint16(reply[1:3])
		}
	case opGetBufferSpace:
		if len(reply) >= 5 {
			d.bufferSpace = binary.LittleEndian.Uint32(reply[1:5])
		}
	case opToolQuery:
		if len(reply) >= 3 {
			temp := int16(binary.LittleEndian.Uint16(reply[1:3]))
			switch toolSubcmd {
			case toolQueryHotend:
				d.SetTemperature(temp)
			case toolQueryBed:
				d.SetBedTemperature(temp)
			case toolQueryHotendTarget:
				d.SetTargetTemperature(temp)
			case toolQueryBedTarget:
				d.SetTargetBedTemperature(temp)
			}
			if d.State() == driver.Connecting {
				d.SetState(driver.Idle)
			}
		}
	}
}

// sendPacket frames payload, writes it, and waits for an ACK, retrying up
// to maxRetries times. A CRC mismatch on the reply is never retried (the
// request was likely executed).
func (d *Driver) sendPacket(payload []byte) ([]byte, error) {
	frame := buildFrame(payload)
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if _, err := d.port.Write(frame); err != nil {
			lastErr = err
			continue
		}
		reply, err := d.parseResponse(packetTimeout)
		if err == nil {
			return reply, nil
		}
		if errors.Is(err, ErrCrcMismatch) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func buildFrame(payload []byte) []byte {
	frame := make([]byte, 0, 3+len(payload))
	frame = append(frame, 0xD5, byte(len(payload)))
	frame = append(frame, payload...)
	frame = append(frame, computeCRC(payload))
	return frame
}

func (d *Driver) parseResponse(timeout time.Duration) ([]byte, error) {
	b0, err := d.port.ReadExactByte(timeout)
	if err != nil {
		return nil, err
	}
	if b0 != 0xD5 {
		return nil, errUnexpectedByte
	}
	time.Sleep(5 * time.Millisecond)
	lenByte, err := d.port.ReadExactByte(timeout)
	if err != nil {
		return nil, err
	}
	payload, err := d.port.ReadExactBytes(int(lenByte), timeout)
	if err != nil {
		return nil, err
	}
	crcByte, err := d.port.ReadExactByte(timeout)
	if err != nil {
		return nil, err
	}
	if computeCRC(payload) != crcByte {
		return nil, ErrCrcMismatch
	}
	return payload, nil
}
