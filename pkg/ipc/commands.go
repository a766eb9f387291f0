package ipc

import "fmt"

// Code is an IPC command or reply code. Requests are < 0x200, replies >= 0x200.
type Code uint16

// Request codes, see original_source/src/ipc_shared.c IPC_COMMANDS and
// spec §6.2.
const (
	CmdTest             Code = 0x01
	CmdGetTemperature   Code = 0x11
	CmdGcodeClear       Code = 0x12
	CmdGcodeAppend      Code = 0x13
	CmdGcodeAppendFile  Code = 0x14
	CmdGcodeStartPrint  Code = 0x15
	CmdGcodeStopPrint   Code = 0x16
	CmdHeatup           Code = 0x17
	CmdGetProgress      Code = 0x18
	CmdGetState         Code = 0x19
)

// Reply codes.
const (
	ReplyOk              Code = 0x201
	ReplyError           Code = 0x202
	ReplyNotImplemented  Code = 0x203
	ReplyGcodeAddFailed  Code = 0x204
	ReplyRetryLater      Code = 0x205
	ReplyTrxCancelled    Code = 0x206
)

// TemperatureSelector selects which cached temperature getTemperature reports.
type TemperatureSelector uint16

const (
	SelectHotend       TemperatureSelector = 0
	SelectHotendTarget TemperatureSelector = 1
	SelectBed          TemperatureSelector = 2
	SelectBedTarget    TemperatureSelector = 3
	SelectHeatingFlag  TemperatureSelector = 4
)

// Transaction flag bits carried on gcodeAppend (spec §4.8).
const (
	FlagFirstChunk uint16 = 1 << 0
	FlagLastChunk  uint16 = 1 << 1
)

var commandNames = map[Code]string{
	CmdTest:            "test",
	CmdGetTemperature:  "getTemperature",
	CmdGcodeClear:      "gcodeClear",
	CmdGcodeAppend:     "gcodeAppend",
	CmdGcodeAppendFile: "gcodeAppendFile",
	CmdGcodeStartPrint: "gcodeStartPrint",
	CmdGcodeStopPrint:  "gcodeStopPrint",
	CmdHeatup:          "heatup",
	CmdGetProgress:     "getProgress",
	CmdGetState:        "getState",
	ReplyOk:             "Ok",
	ReplyError:          "Error",
	ReplyNotImplemented: "NotImplemented",
	ReplyGcodeAddFailed: "GcodeAddFailed",
	ReplyRetryLater:     "RetryLater",
	ReplyTrxCancelled:   "TrxCancelled",
}

// Name returns the symbolic command/reply name, or a hex fallback.
func (c Code) Name() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("0x%04x", uint16(c))
}

// IsReply reports whether a code is in the reply range.
func (c Code) IsReply() bool { return c >= 0x200 }

// Stringify renders a frame in the compact, human-readable form used for
// command tracing, mirroring ipc_stringify_cmd in original_source.
func Stringify(f *Frame) string {
	s := f.Code.Name()
	for i, a := range f.Args {
		if i == 0 {
			s += ": "
		} else {
			s += ", "
		}
		if len(a) <= 8 {
			s += fmt.Sprintf("%q", a)
		} else {
			s += fmt.Sprintf("<%d bytes>", len(a))
		}
	}
	return s
}
