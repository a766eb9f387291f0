package textdriver

import (
	"testing"
	"time"

	"github.com/doodle3d/print3d/pkg/driver"
)

func newTestDriver() *Driver {
	return &Driver{
		Base:                     driver.NewBase(),
		checkTemperatureInterval: checkTemperatureIdle,
	}
}

func TestHandleLineTemperatureWithOkPrefix(t *testing.T) {
	d := newTestDriver()
	d.checkConn = true
	d.SetState(driver.Connecting)

	d.handleLine("ok T:200 /210 B:60 /65")

	if got := d.Temperature(); got != 200 {
		t.Fatalf("Temperature() = %d, want 200", got)
	}
	if got := d.TargetTemperature(); got != 210 {
		t.Fatalf("TargetTemperature() = %d, want 210", got)
	}
	if got := d.BedTemperature(); got != 60 {
		t.Fatalf("BedTemperature() = %d, want 60", got)
	}
	if got := d.TargetBedTemperature(); got != 65 {
		t.Fatalf("TargetBedTemperature() = %d, want 65", got)
	}
	if d.Heating() {
		t.Fatal("Heating() = true, want false for an \"ok T:\" line")
	}
	if d.checkConn {
		t.Fatal("checkConn still true after the first temperature response")
	}
	if d.State() != driver.Idle {
		t.Fatalf("State() = %v, want Idle after connection probe succeeds", d.State())
	}
}

func TestHandleLineTemperatureWithoutOkPrefix(t *testing.T) {
	d := newTestDriver()
	d.SetState(driver.Idle)

	d.handleLine("T:205")

	if got := d.Temperature(); got != 205 {
		t.Fatalf("Temperature() = %d, want 205", got)
	}
	if !d.Heating() {
		t.Fatal("Heating() = false, want true for a bare \"T:\" line")
	}
}

func TestAfterTemperatureResponseSwitchesIntervalWhilePrinting(t *testing.T) {
	d := newTestDriver()
	d.SetState(driver.Printing)

	d.afterTemperatureResponse()

	if d.checkTemperatureInterval != checkTemperaturePrinting {
		t.Fatalf("checkTemperatureInterval = %v, want %v while printing", d.checkTemperatureInterval, checkTemperaturePrinting)
	}
}

func TestAfterTemperatureResponseSwitchesIntervalWhileIdle(t *testing.T) {
	d := newTestDriver()
	d.SetState(driver.Idle)
	d.checkTemperatureInterval = checkTemperaturePrinting

	d.afterTemperatureResponse()

	if d.checkTemperatureInterval != checkTemperatureIdle {
		t.Fatalf("checkTemperatureInterval = %v, want %v once idle", d.checkTemperatureInterval, checkTemperatureIdle)
	}
}

func TestHandleLineOkAdvancesPrintedLine(t *testing.T) {
	d := newTestDriver()
	d.GCode.Set("G1 X1\nG1 X2\n", nil)
	d.SetState(driver.Printing)

	d.handleLine("ok")

	if got := d.GCode.CurrentLine(); got != 1 {
		t.Fatalf("CurrentLine() = %d, want 1 after one \"ok\"", got)
	}
	if got := d.GCode.BufferedLines(); got != 1 {
		t.Fatalf("BufferedLines() = %d, want 1 after erasing the sent line", got)
	}
}

func TestHandleLineOkIgnoredWhenNotPrinting(t *testing.T) {
	d := newTestDriver()
	d.GCode.Set("G1 X1\n", nil)
	d.SetState(driver.Idle)

	d.handleLine("ok")

	if got := d.GCode.BufferedLines(); got != 1 {
		t.Fatalf("BufferedLines() = %d, want 1 (unchanged) while idle", got)
	}
}

func TestHandleLineResendResendsSameLine(t *testing.T) {
	d := newTestDriver()
	d.GCode.Set("G1 X1\nG1 X2\nG1 X3\n", nil)
	d.GCode.SetCurrentLine(2)
	d.SetState(driver.Printing)

	d.handleLine("Resend: 2")

	// printNextLine re-increments currentLine after the rewind, so a resend
	// nets out to the same counter value: the unacknowledged line at the
	// buffer's front (never erased, since no "ok" arrived for it) gets
	// resent and counted again.
	if got := d.GCode.CurrentLine(); got != 2 {
		t.Fatalf("CurrentLine() = %d, want 2 (rewound then re-counted by the resend)", got)
	}
	if got := d.GCode.BufferedLines(); got != 3 {
		t.Fatalf("BufferedLines() = %d, want 3 (resend does not erase)", got)
	}
}

func TestHandleLineStartIsNoop(t *testing.T) {
	d := newTestDriver()
	d.SetState(driver.Idle)

	d.handleLine("start")

	if d.State() != driver.Idle {
		t.Fatalf("State() = %v, want unchanged Idle for a \"start\" line", d.State())
	}
}

func TestParseTemperaturesHotendOnly(t *testing.T) {
	d := newTestDriver()
	d.parseTemperatures("T:180 /200")

	if got := d.Temperature(); got != 180 {
		t.Fatalf("Temperature() = %d, want 180", got)
	}
	if got := d.TargetTemperature(); got != 200 {
		t.Fatalf("TargetTemperature() = %d, want 200", got)
	}
	if got := d.BedTemperature(); got != 0 {
		t.Fatalf("BedTemperature() = %d, want 0 (absent from the line)", got)
	}
}

func TestScanNumber(t *testing.T) {
	cases := []struct {
		s     string
		start int
		want  float64
		n     int
	}{
		{"200 /210 B:60", 0, 200, 3},
		{"-5.5rest", 0, -5.5, 4},
		{"no digits here", 0, 0, 0},
	}
	for _, c := range cases {
		v, n := scanNumber(c.s, c.start)
		if v != c.want || n != c.n {
			t.Fatalf("scanNumber(%q, %d) = (%v, %d), want (%v, %d)", c.s, c.start, v, n, c.want, c.n)
		}
	}
}

func TestProbeCyclesCheckAttemptsBeforeSwitching(t *testing.T) {
	d := newTestDriver()
	d.checkConn = true

	// maxCheckAttempts - 1 probes must not yet trigger a baud switch.
	for i := 0; i < maxCheckAttempts-1; i++ {
		d.probe(time.Now())
	}
	if d.checkAttempts != maxCheckAttempts-1 {
		t.Fatalf("checkAttempts = %d, want %d before the switch threshold", d.checkAttempts, maxCheckAttempts-1)
	}
	if d.baudIdx != 0 {
		t.Fatalf("baudIdx = %d, want 0 before the switch threshold", d.baudIdx)
	}
}

func TestNextBaudIndexCycles(t *testing.T) {
	idx := 0
	for i := 0; i < len(baudCandidates); i++ {
		idx = nextBaudIndex(idx)
	}
	if idx != 0 {
		t.Fatalf("nextBaudIndex cycled through all candidates and landed on %d, want 0", idx)
	}
	if got := nextBaudIndex(0); got != 1%len(baudCandidates) {
		t.Fatalf("nextBaudIndex(0) = %d, want %d", got, 1%len(baudCandidates))
	}
}

func TestSendCodeWithoutPortReturnsError(t *testing.T) {
	d := newTestDriver()
	if err := d.sendCode("M105"); err == nil {
		t.Fatal("sendCode with a nil port should return an error, not panic or succeed")
	}
}
