package server

import (
	"os"

	"github.com/doodle3d/print3d/pkg/driver"
	"github.com/doodle3d/print3d/pkg/gcode"
	"github.com/doodle3d/print3d/pkg/ipc"
)

// dispatch routes one decoded frame to its handler, mirroring
// CommandHandler::runCommand's table lookup.
func (s *Server) dispatch(c *Client, f *ipc.Frame) {
	switch f.Code {
	case ipc.CmdTest:
		s.handleTest(c, f)
	case ipc.CmdGetTemperature:
		s.handleGetTemperature(c, f)
	case ipc.CmdGcodeClear:
		s.handleGcodeClear(c, f)
	case ipc.CmdGcodeAppend:
		s.handleGcodeAppend(c, f)
	case ipc.CmdGcodeAppendFile:
		s.handleGcodeAppendFile(c, f)
	case ipc.CmdGcodeStartPrint:
		s.handleGcodeStartPrint(c, f)
	case ipc.CmdGcodeStopPrint:
		s.handleGcodeStopPrint(c, f)
	case ipc.CmdHeatup:
		s.handleHeatup(c, f)
	case ipc.CmdGetProgress:
		s.handleGetProgress(c, f)
	case ipc.CmdGetState:
		s.handleGetState(c, f)
	default:
		s.reply(c, ipc.NewFrame(ipc.ReplyNotImplemented))
	}
}

func (s *Server) handleTest(c *Client, f *ipc.Frame) {
	msg := "pong"
	if f.ArgCount() >= 1 {
		if v, err := f.StringAt(0); err == nil {
			msg = v
		}
	}
	s.reply(c, ipc.NewFrame(ipc.ReplyOk).AddString(msg))
}

func (s *Server) handleGetTemperature(c *Client, f *ipc.Frame) {
	if f.ArgCount() < 1 {
		s.reply(c, ipc.NewFrame(ipc.ReplyError).AddString("missing temperature selector"))
		return
	}
	sel, err := f.Uint16At(0)
	if err != nil {
		s.reply(c, ipc.NewFrame(ipc.ReplyError).AddString("malformed temperature selector"))
		return
	}

	var v int16
	switch ipc.TemperatureSelector(sel) {
	case ipc.SelectHotend:
		v = s.Driver.Temperature()
	case ipc.SelectHotendTarget:
		v = s.Driver.TargetTemperature()
	case ipc.SelectBed:
		v = s.Driver.BedTemperature()
	case ipc.SelectBedTarget:
		v = s.Driver.TargetBedTemperature()
	case ipc.SelectHeatingFlag:
		if s.Driver.Heating() {
			v = 1
		}
	default:
		s.reply(c, ipc.NewFrame(ipc.ReplyError).AddString("unknown temperature parameter value"))
		return
	}
	s.reply(c, ipc.NewFrame(ipc.ReplyOk).AddInt16(v))
}

func (s *Server) handleGcodeClear(c *Client, f *ipc.Frame) {
	s.cancelAllTransactions(c)
	s.Driver.ClearGCode()
	s.reply(c, ipc.NewFrame(ipc.ReplyOk))
}

func (s *Server) handleGcodeAppend(c *Client, f *ipc.Frame) {
	if f.ArgCount() < 1 {
		s.reply(c, ipc.NewFrame(ipc.ReplyError).AddString("gcodeAppend requires a payload argument"))
		return
	}

	if c.Transaction.Cancelled {
		c.Transaction.Buffer = nil
		c.Transaction.Active = false
		c.Transaction.Cancelled = false
		s.reply(c, ipc.NewFrame(ipc.ReplyTrxCancelled))
		return
	}

	flags := ipc.FlagFirstChunk | ipc.FlagLastChunk
	if f.ArgCount() >= 2 {
		if v, err := f.Uint16At(1); err == nil {
			flags = v
		}
	}

	var meta gcode.Meta
	if f.ArgCount() >= 3 {
		if v, err := f.Int32At(2); err == nil {
			meta.SeqNumber = &v
		}
	}
	if f.ArgCount() >= 4 {
		if v, err := f.Int32At(3); err == nil {
			meta.SeqTotal = &v
		}
	}
	if f.ArgCount() >= 5 {
		if v, err := f.StringAt(4); err == nil {
			meta.Source = &v
		}
	}

	if flags&ipc.FlagFirstChunk != 0 {
		c.Transaction.Buffer = nil
		c.Transaction.Active = true
	}

	payload, _ := f.BytesAt(0)
	c.Transaction.Buffer = append(c.Transaction.Buffer, payload...)

	if flags&ipc.FlagLastChunk != 0 {
		text := string(c.Transaction.Buffer)
		c.Transaction.Buffer = nil
		c.Transaction.Active = false

		result := s.Driver.AppendGCode(text, &meta)
		if result != gcode.ResultOk {
			s.reply(c, ipc.NewFrame(ipc.ReplyGcodeAddFailed).AddString(result.String()))
			return
		}
	}
	s.reply(c, ipc.NewFrame(ipc.ReplyOk))
}

func (s *Server) handleGcodeAppendFile(c *Client, f *ipc.Frame) {
	if c.Transaction.Active {
		s.reply(c, ipc.NewFrame(ipc.ReplyRetryLater))
		return
	}
	if f.ArgCount() < 1 {
		s.reply(c, ipc.NewFrame(ipc.ReplyError).AddString("gcodeAppendFile requires a path argument"))
		return
	}
	path, err := f.StringAt(0)
	if err != nil {
		s.reply(c, ipc.NewFrame(ipc.ReplyError).AddString("malformed path argument"))
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.reply(c, ipc.NewFrame(ipc.ReplyError).AddString(err.Error()))
		return
	}
	result := s.Driver.AppendGCode(string(data), nil)
	if result != gcode.ResultOk {
		s.reply(c, ipc.NewFrame(ipc.ReplyGcodeAddFailed).AddString(result.String()))
		return
	}
	s.reply(c, ipc.NewFrame(ipc.ReplyOk))
}

func (s *Server) handleGcodeStartPrint(c *Client, f *ipc.Frame) {
	if err := s.Driver.StartPrint(driver.Printing); err != nil {
		s.reply(c, ipc.NewFrame(ipc.ReplyError).AddString(err.Error()))
		return
	}
	s.reply(c, ipc.NewFrame(ipc.ReplyOk))
}

func (s *Server) handleGcodeStopPrint(c *Client, f *ipc.Frame) {
	s.cancelAllTransactions(c)

	endCode := ""
	if f.ArgCount() >= 1 {
		if v, err := f.StringAt(0); err == nil {
			endCode = v
		}
	}
	if err := s.Driver.StopPrint(endCode); err != nil {
		s.reply(c, ipc.NewFrame(ipc.ReplyError).AddString(err.Error()))
		return
	}
	s.reply(c, ipc.NewFrame(ipc.ReplyOk))
}

func (s *Server) handleHeatup(c *Client, f *ipc.Frame) {
	if f.ArgCount() < 1 {
		s.reply(c, ipc.NewFrame(ipc.ReplyError).AddString("heatup requires a target temperature"))
		return
	}
	target, err := f.Int16At(0)
	if err != nil {
		s.reply(c, ipc.NewFrame(ipc.ReplyError).AddString("malformed target temperature"))
		return
	}
	s.Driver.Heatup(target)
	s.reply(c, ipc.NewFrame(ipc.ReplyOk))
}

func (s *Server) handleGetProgress(c *Client, f *ipc.Frame) {
	s.reply(c, ipc.NewFrame(ipc.ReplyOk).
		AddInt32(int32(s.Driver.CurrentLine())).
		AddInt32(int32(s.Driver.BufferedLines())).
		AddInt32(int32(s.Driver.TotalLines())).
		AddInt32(int32(s.Driver.BufferSize())).
		AddInt32(int32(s.Driver.MaxBufferSize())))
}

func (s *Server) handleGetState(c *Client, f *ipc.Frame) {
	s.reply(c, ipc.NewFrame(ipc.ReplyOk).AddString(s.Driver.StateName()))
}
