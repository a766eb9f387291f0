package driver

import (
	"strconv"
	"strings"
	"time"

	"github.com/doodle3d/print3d/pkg/gcode"
)

// NoDelay is returned by Update when the driver has no periodic work
// pending and only wants to be woken by I/O (spec §4.4: "negative means
// only when I/O happens").
const NoDelay time.Duration = -1

// Driver is the common contract every firmware back-end implements,
// spec §4.4.
type Driver interface {
	Open() error
	Close() error
	IsConnected() bool

	// Update performs one tick of periodic work and returns the delay
	// before the next call is needed (NoDelay if none).
	Update() time.Duration

	SetGCode(text string, meta *gcode.Meta) gcode.SetResult
	AppendGCode(text string, meta *gcode.Meta) gcode.SetResult
	ClearGCode()

	StartPrint(state State) error
	StopPrint(endCode string) error
	Heatup(targetC int16)

	State() State
	StateName() string

	Temperature() int16
	TargetTemperature() int16
	BedTemperature() int16
	TargetBedTemperature() int16
	Heating() bool

	CurrentLine() int
	BufferedLines() int
	TotalLines() int
	BufferSize() int
	MaxBufferSize() int
}

// SendLine is implemented by protocol back-ends that can push a single
// already-dequeued G-code line to the printer (implemented by textdriver).
type SendLine interface {
	SendLine(code string) error
}

// Base implements the lifecycle behaviors common to every driver variant:
// buffer ownership, state transitions, and temperature-target extraction.
// Concrete drivers embed Base and supply protocol-specific Update/SendLine
// behavior. Grounded on AbstractDriver.cpp.
type Base struct {
	GCode *gcode.Buffer

	state State

	temperature       int16
	targetTemperature int16
	bedTemperature    int16
	targetBedTarget   int16
	heating           bool
}

// NewBase constructs a Base with a fresh G-code buffer, starting in
// Disconnected state (spec §3: "Initial is Disconnected").
func NewBase(opts ...gcode.Option) *Base {
	return &Base{
		GCode: gcode.New(opts...),
		state: Disconnected,
	}
}

func (b *Base) State() State         { return b.state }
func (b *Base) StateName() string    { return b.state.String() }
func (b *Base) SetState(s State)     { b.state = s }
func (b *Base) IsOnline() bool       { return b.state.Online() }

func (b *Base) Temperature() int16          { return b.temperature }
func (b *Base) TargetTemperature() int16    { return b.targetTemperature }
func (b *Base) BedTemperature() int16       { return b.bedTemperature }
func (b *Base) TargetBedTemperature() int16 { return b.targetBedTarget }
func (b *Base) Heating() bool               { return b.heating }

func (b *Base) SetTemperature(v int16)          { b.temperature = v }
func (b *Base) SetTargetTemperature(v int16)    { b.targetTemperature = v }
func (b *Base) SetBedTemperature(v int16)       { b.bedTemperature = v }
func (b *Base) SetTargetBedTemperature(v int16) { b.targetBedTarget = v }
func (b *Base) SetHeating(v bool)               { b.heating = v }

func (b *Base) CurrentLine() int     { return b.GCode.CurrentLine() }
func (b *Base) BufferedLines() int   { return b.GCode.BufferedLines() }
func (b *Base) TotalLines() int      { return b.GCode.TotalLines() }
func (b *Base) BufferSize() int      { return b.GCode.BufferSize() }
func (b *Base) MaxBufferSize() int   { return b.GCode.MaxBufferSize() }

// SetGCode delegates to the buffer and extracts temperature targets; on
// success, transitions Idle -> Buffering.
func (b *Base) SetGCode(text string, meta *gcode.Meta) gcode.SetResult {
	r := b.GCode.Set(text, meta)
	if r == gcode.ResultOk {
		b.extractGCodeInfo(text)
		if b.state == Idle {
			b.state = Buffering
		}
	}
	return r
}

// AppendGCode delegates to the buffer and extracts temperature targets; on
// success, transitions Idle -> Buffering.
func (b *Base) AppendGCode(text string, meta *gcode.Meta) gcode.SetResult {
	r := b.GCode.Append(text, meta)
	if r == gcode.ResultOk {
		b.extractGCodeInfo(text)
		if b.state == Idle {
			b.state = Buffering
		}
	}
	return r
}

// ClearGCode clears the buffer and, if mid-job, returns to Idle.
func (b *Base) ClearGCode() {
	b.GCode.Clear()
	switch b.state {
	case Buffering, Printing, Stopping:
		b.state = Idle
	}
}

// ResetPrint returns to Idle and rewinds currentLine to 0. Rejects (no-op)
// when the driver is not online.
func (b *Base) ResetPrint() {
	if !b.IsOnline() {
		return
	}
	b.state = Idle
	b.GCode.SetCurrentLine(0)
}

// BeginPrint implements the shared half of StartPrint: rejects when
// offline, resets unless already mid-job, then sets state.
func (b *Base) BeginPrint(target State) error {
	if !b.IsOnline() {
		return errNotOnline
	}
	if b.state != Printing && b.state != Stopping {
		b.ResetPrint()
	}
	b.state = target
	return nil
}

// HeatupCode returns the M104 S<temp> code; the caller (a concrete driver)
// is responsible for actually transmitting it.
func (b *Base) HeatupCode(targetC int16) string {
	return "M104 S" + strconv.Itoa(int(targetC))
}

// ExtractGCodeInfo scans for the last M109/M190 occurrence and updates the
// corresponding target temperature, mirroring
// AbstractDriver::extractGCodeInfo (uses rfind, so only the last
// occurrence in the given text wins). Exported so protocol back-ends can
// re-scan an individual line at send time, not just at append time.
func (b *Base) ExtractGCodeInfo(text string) {
	b.extractGCodeInfo(text)
}

func (b *Base) extractGCodeInfo(text string) {
	if idx := strings.LastIndex(text, "M109"); idx != -1 {
		if v, ok := findNumber(text, idx+4); ok {
			b.targetTemperature = int16(v)
		}
	}
	if idx := strings.LastIndex(text, "M190"); idx != -1 {
		if v, ok := findNumber(text, idx+4); ok {
			b.targetBedTarget = int16(v)
		}
	}
}

// findNumber scans forward from startPos for the value that follows an
// "S" parameter letter, stopping at the next '\n' or, failing that, the
// next ' '. Grounded on AbstractDriver::findNumber.
func findNumber(code string, startPos int) (float64, bool) {
	if startPos < 0 || startPos > len(code) {
		return 0, false
	}
	rest := code[startPos:]
	sIdx := strings.IndexByte(rest, 'S')
	if sIdx == -1 {
		return 0, false
	}
	numStart := sIdx + 1
	end := len(rest)
	if nl := strings.IndexByte(rest[numStart:], '\n'); nl != -1 {
		end = numStart + nl
	} else if sp := strings.IndexByte(rest[numStart:], ' '); sp != -1 {
		end = numStart + sp
	}
	numStr := strings.TrimSpace(rest[numStart:end])
	v, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var errNotOnline = &notOnlineError{}

type notOnlineError struct{}

func (*notOnlineError) Error() string { return "driver: not online" }
