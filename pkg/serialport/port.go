// Package serialport wraps a character-device serial connection with the
// contract spec §4.3 requires: arbitrary baud, a DTR reset pulse, a
// line-extraction buffer for the text driver, and exact-byte-count reads for
// the binary driver. Grounded on
// _examples/original_source/src/drivers/Serial.cpp, built on top of
// go.bug.st/serial (the teacher's own declared direct dependency).
package serialport

import (
	"bytes"
	"errors"
	"io"
	"time"

	"go.bug.st/serial"
)

// ErrClosed is returned by reads once the peer has gone away (remote
// close, ENXIO, EBADF in the original's terms). Write returns the
// underlying port's error unchanged.
var ErrClosed = errors.New("serialport: closed")

// pollQuantum bounds how long a single underlying Read call blocks; reads
// loop in pollQuantum increments up to the caller's requested timeout, the
// same shape as Serial::readBytesDirect's poll()-then-retry loop.
const pollQuantum = 20 * time.Millisecond

// Port is an open serial connection to the printer.
type Port struct {
	path string
	baud int
	port serial.Port

	readBuf bytes.Buffer // accumulated bytes not yet consumed by extractLine
}

// Open opens path at baud, configures 8N1, and issues a DTR reset pulse.
func Open(path string, baud int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	sp, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	if err := sp.SetReadTimeout(pollQuantum); err != nil {
		sp.Close()
		return nil, err
	}

	p := &Port{path: path, baud: baud, port: sp}
	if err := p.pulseDTR(); err != nil {
		sp.Close()
		return nil, err
	}
	return p, nil
}

func (p *Port) pulseDTR() error {
	if err := p.port.SetDTR(true); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return p.port.SetDTR(false)
}

// SetBaud reconfigures the line speed and re-issues the DTR reset pulse,
// mirroring the original's setSpeed-on-baud-switch behavior (used by the
// text driver's baud auto-switch, spec §4.5).
func (p *Port) SetBaud(baud int) error {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	if err := p.port.SetMode(mode); err != nil {
		return err
	}
	p.baud = baud
	return p.pulseDTR()
}

// Baud returns the currently configured baud rate.
func (p *Port) Baud() int { return p.baud }

// Close closes the underlying device.
func (p *Port) Close() error {
	return p.port.Close()
}

// Write sends bytes to the printer.
func (p *Port) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// ReadAvailable reads whatever bytes are currently available, polling in
// pollQuantum increments up to timeout when nothing is immediately ready.
// It returns (nil, ErrClosed) once the peer has gone away.
func (p *Port) ReadAvailable(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 4096)
	for {
		n, err := p.port.Read(buf)
		if err != nil {
			if isClosedErr(err) {
				return nil, ErrClosed
			}
			return nil, err
		}
		if n > 0 {
			p.readBuf.Write(buf[:n])
			return buf[:n], nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
	}
}

// ReadExactByte blocks (bounded by timeout) for exactly one byte.
func (p *Port) ReadExactByte(timeout time.Duration) (byte, error) {
	b, err := p.ReadExactBytes(1, timeout)
	if err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, errTimeout
	}
	return b[0], nil
}

// errTimeout signals that the requested byte count did not arrive before
// the deadline.
var errTimeout = errors.New("serialport: read timeout")

// ReadExactBytes blocks (bounded by timeout) until exactly n bytes have
// been read, draining any bytes already queued in the internal buffer
// first.
func (p *Port) ReadExactBytes(n int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	out := make([]byte, 0, n)

	if p.readBuf.Len() > 0 {
		take := p.readBuf.Len()
		if take > n {
			take = n
		}
		chunk := make([]byte, take)
		p.readBuf.Read(chunk)
		out = append(out, chunk...)
	}

	buf := make([]byte, 4096)
	for len(out) < n {
		if time.Now().After(deadline) {
			return out, errTimeout
		}
		rn, err := p.port.Read(buf)
		if err != nil {
			if isClosedErr(err) {
				return out, ErrClosed
			}
			return out, err
		}
		if rn == 0 {
			continue
		}
		need := n - len(out)
		if rn <= need {
			out = append(out, buf[:rn]...)
		} else {
			out = append(out, buf[:need]...)
			p.readBuf.Write(buf[need:rn])
		}
	}
	return out, nil
}

// ExtractLine returns the next \n-terminated line (with the trailing \r
// stripped, if present) accumulated from prior ReadAvailable calls, or ok
// == false if no complete line is buffered yet.
func (p *Port) ExtractLine() (line string, ok bool) {
	b := p.readBuf.Bytes()
	idx := bytes.IndexByte(b, '\n')
	if idx == -1 {
		return "", false
	}
	raw := make([]byte, idx)
	copy(raw, b[:idx])
	p.readBuf.Next(idx + 1)
	if len(raw) > 0 && raw[len(raw)-1] == '\r' {
		raw = raw[:len(raw)-1]
	}
	return string(raw), true
}

// FlushRead discards any buffered unread bytes, both the internal
// line-reassembly buffer and whatever the OS driver is holding.
func (p *Port) FlushRead() error {
	p.readBuf.Reset()
	return p.port.ResetInputBuffer()
}

func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	if err == io.EOF {
		return true
	}
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortClosed, serial.InvalidSerialPort, serial.PortNotFound:
			return true
		}
	}
	return false
}
