package driver

import (
	"testing"

	"github.com/doodle3d/print3d/pkg/gcode"
)

func TestBaseInitialStateIsDisconnected(t *testing.T) {
	b := NewBase()
	if b.State() != Disconnected {
		t.Fatalf("initial state = %v, want Disconnected", b.State())
	}
}

func TestBaseSetGCodeTransitionsIdleToBuffering(t *testing.T) {
	b := NewBase()
	b.SetState(Idle)

	if r := b.SetGCode("G1 X1\n", nil); r != gcode.ResultOk {
		t.Fatalf("SetGCode result = %v, want Ok", r)
	}
	if b.State() != Buffering {
		t.Fatalf("state after SetGCode = %v, want Buffering", b.State())
	}
}

func TestBaseSetGCodeDoesNotTransitionWhenNotIdle(t *testing.T) {
	b := NewBase()
	b.SetState(Printing)

	b.SetGCode("G1 X1\n", nil)
	if b.State() != Printing {
		t.Fatalf("state after SetGCode = %v, want unchanged Printing", b.State())
	}
}

func TestBaseClearGCodeReturnsToIdleMidJob(t *testing.T) {
	cases := []State{Buffering, Printing, Stopping}
	for _, s := range cases {
		b := NewBase()
		b.SetState(s)
		b.ClearGCode()
		if b.State() != Idle {
			t.Fatalf("ClearGCode from %v left state %v, want Idle", s, b.State())
		}
	}
}

func TestBaseClearGCodeNoopWhenNotMidJob(t *testing.T) {
	b := NewBase()
	b.SetState(Connecting)
	b.ClearGCode()
	if b.State() != Connecting {
		t.Fatalf("ClearGCode changed state to %v, want unchanged Connecting", b.State())
	}
}

func TestBaseResetPrintRejectsWhenOffline(t *testing.T) {
	b := NewBase()
	b.SetState(Disconnected)
	b.GCode.Set("G1 X1\nG1 X2\n", nil)
	b.GCode.SetCurrentLine(1)

	b.ResetPrint()
	if b.GCode.CurrentLine() != 1 {
		t.Fatalf("ResetPrint while offline changed CurrentLine to %d, want unchanged 1", b.GCode.CurrentLine())
	}
}

func TestBaseResetPrintRewindsWhenOnline(t *testing.T) {
	b := NewBase()
	b.SetState(Idle)
	b.GCode.Set("G1 X1\nG1 X2\n", nil)
	b.GCode.SetCurrentLine(1)

	b.ResetPrint()
	if b.State() != Idle {
		t.Fatalf("state after ResetPrint = %v, want Idle", b.State())
	}
	if b.GCode.CurrentLine() != 0 {
		t.Fatalf("CurrentLine after ResetPrint = %d, want 0", b.GCode.CurrentLine())
	}
}

func TestBaseBeginPrintRejectsWhenOffline(t *testing.T) {
	b := NewBase()
	b.SetState(Connecting)

	if err := b.BeginPrint(Printing); err == nil {
		t.Fatal("BeginPrint while offline should return an error")
	}
}

func TestBaseBeginPrintFromIdleResetsAndTransitions(t *testing.T) {
	b := NewBase()
	b.SetState(Idle)
	b.GCode.Set("G1 X1\nG1 X2\n", nil)
	b.GCode.SetCurrentLine(1)

	if err := b.BeginPrint(Printing); err != nil {
		t.Fatalf("BeginPrint: %v", err)
	}
	if b.State() != Printing {
		t.Fatalf("state = %v, want Printing", b.State())
	}
	if b.GCode.CurrentLine() != 0 {
		t.Fatalf("BeginPrint from Idle should reset CurrentLine, got %d", b.GCode.CurrentLine())
	}
}

func TestBaseBeginPrintFromPrintingDoesNotReset(t *testing.T) {
	b := NewBase()
	b.SetState(Printing)
	b.GCode.Set("G1 X1\nG1 X2\n", nil)
	b.GCode.SetCurrentLine(1)

	if err := b.BeginPrint(Stopping); err != nil {
		t.Fatalf("BeginPrint: %v", err)
	}
	if b.GCode.CurrentLine() != 1 {
		t.Fatalf("BeginPrint from Printing should not reset CurrentLine, got %d", b.GCode.CurrentLine())
	}
}

func TestExtractGCodeInfoUsesLastOccurrence(t *testing.T) {
	b := NewBase()
	b.ExtractGCodeInfo("M109 S100\nM109 S200\n")
	if got := b.TargetTemperature(); got != 200 {
		t.Fatalf("TargetTemperature() = %d, want 200 (last M109 wins)", got)
	}
}

func TestExtractGCodeInfoBedTarget(t *testing.T) {
	b := NewBase()
	b.ExtractGCodeInfo("M190 S60\n")
	if got := b.TargetBedTemperature(); got != 60 {
		t.Fatalf("TargetBedTemperature() = %d, want 60", got)
	}
}

func TestHeatupCodeFormatsTemperature(t *testing.T) {
	b := NewBase()
	if got := b.HeatupCode(205); got != "M104 S205" {
		t.Fatalf("HeatupCode(205) = %q, want %q", got, "M104 S205")
	}
}

func TestRegistryCreateUnsupportedFirmware(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create("nonexistent", "/dev/null"); err == nil {
		t.Fatal("Create with an unregistered firmware name should fail")
	}
}

func TestRegistryRegisterAndFamily(t *testing.T) {
	r := NewRegistry()
	r.Register("marlin_generic", FamilyText, func(path string) (Driver, error) { return nil, nil })
	r.Register("makerbot_generic", FamilyBinary, func(path string) (Driver, error) { return nil, nil })

	fam, ok := r.Family("marlin_generic")
	if !ok || fam != FamilyText {
		t.Fatalf("Family(marlin_generic) = (%v, %v), want (FamilyText, true)", fam, ok)
	}
	fam, ok = r.Family("makerbot_generic")
	if !ok || fam != FamilyBinary {
		t.Fatalf("Family(makerbot_generic) = (%v, %v), want (FamilyBinary, true)", fam, ok)
	}
	if _, ok := r.Family("unregistered"); ok {
		t.Fatal("Family for an unregistered name should report ok=false")
	}
}

func TestRegistryNamesListsEveryRegisteredFirmware(t *testing.T) {
	r := NewRegistry()
	for _, n := range TextFirmwareNames {
		r.Register(n, FamilyText, func(path string) (Driver, error) { return nil, nil })
	}
	for _, n := range BinaryFirmwareNames {
		r.Register(n, FamilyBinary, func(path string) (Driver, error) { return nil, nil })
	}

	names := r.Names()
	if len(names) != len(TextFirmwareNames)+len(BinaryFirmwareNames) {
		t.Fatalf("Names() returned %d entries, want %d", len(names), len(TextFirmwareNames)+len(BinaryFirmwareNames))
	}
}

func TestTextFirmwareNamesHasNoDuplicates(t *testing.T) {
	seen := make(map[string]bool, len(TextFirmwareNames))
	for _, n := range TextFirmwareNames {
		if seen[n] {
			t.Fatalf("duplicate firmware name %q in TextFirmwareNames", n)
		}
		seen[n] = true
	}
}
