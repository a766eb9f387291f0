package ipc

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []*Frame{
		NewFrame(CmdTest),
		NewFrame(CmdTest).AddString("hello"),
		NewFrame(CmdGetTemperature).AddUint16(uint16(SelectBed)),
		NewFrame(CmdGcodeAppend).AddArg([]byte("G1 X10\n")).AddUint16(FlagFirstChunk | FlagLastChunk).AddInt32(0).AddInt32(3).AddString("job-1"),
		NewFrame(ReplyOk),
		NewFrame(ReplyGcodeAddFailed).AddString("seq_num_mismatch"),
	}

	for _, f := range cases {
		encoded := Encode(f)
		n, err := IsComplete(encoded)
		if err != nil {
			t.Fatalf("IsComplete: %v", err)
		}
		if n != len(encoded) {
			t.Fatalf("IsComplete returned %d, want %d", n, len(encoded))
		}
		decoded, n2, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if n2 != n {
			t.Fatalf("Decode consumed %d, want %d", n2, n)
		}
		if decoded.Code != f.Code {
			t.Fatalf("code mismatch: got %v want %v", decoded.Code, f.Code)
		}
		if len(decoded.Args) != len(f.Args) {
			t.Fatalf("arg count mismatch: got %d want %d", len(decoded.Args), len(f.Args))
		}
		for i := range f.Args {
			if !bytes.Equal(decoded.Args[i], f.Args[i]) {
				t.Fatalf("arg %d mismatch: got %v want %v", i, decoded.Args[i], f.Args[i])
			}
		}
	}
}

func TestIsCompletePartial(t *testing.T) {
	f := NewFrame(CmdGcodeAppend).AddArg([]byte("G1 X10\n"))
	encoded := Encode(f)

	for cut := 0; cut < len(encoded); cut++ {
		n, err := IsComplete(encoded[:cut])
		if err != nil {
			t.Fatalf("unexpected error at cut %d: %v", cut, err)
		}
		if n != 0 {
			t.Fatalf("cut %d: expected incomplete, got length %d", cut, n)
		}
	}

	n, err := IsComplete(encoded)
	if err != nil || n != len(encoded) {
		t.Fatalf("full buffer should be complete: n=%d err=%v", n, err)
	}
}

func TestIsCompleteMultipleFrames(t *testing.T) {
	a := Encode(NewFrame(CmdGcodeClear))
	b := Encode(NewFrame(CmdGetState))
	buf := append(append([]byte{}, a...), b...)

	n, err := IsComplete(buf)
	if err != nil {
		t.Fatalf("IsComplete: %v", err)
	}
	if n != len(a) {
		t.Fatalf("expected to find only the first frame (%d bytes), got %d", len(a), n)
	}

	rest := RemoveFirst(buf, n)
	if !bytes.Equal(rest, b) {
		t.Fatalf("RemoveFirst left %v, want %v", rest, b)
	}
}

func TestIsCompleteRejectsOversizedArgLen(t *testing.T) {
	buf := make([]byte, headerSize+argLenSize)
	buf[2] = 0 // argCount = 1
	buf[3] = 1
	binary.BigEndian.PutUint32(buf[headerSize:], 0xFFFFFFFF)

	n, err := IsComplete(buf)
	if err != ErrMalformedFrame {
		t.Fatalf("expected ErrMalformedFrame for a huge argLen, got n=%d err=%v", n, err)
	}
}

func TestIsCompleteAcceptsArgLenAtBound(t *testing.T) {
	f := NewFrame(CmdGcodeAppend).AddArg(bytes.Repeat([]byte{'x'}, maxArgLen))
	encoded := Encode(f)

	n, err := IsComplete(encoded)
	if err != nil {
		t.Fatalf("IsComplete: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("got %d, want %d", n, len(encoded))
	}
}

func TestStringify(t *testing.T) {
	f := NewFrame(CmdTest).AddString("hi")
	s := Stringify(f)
	if s == "" {
		t.Fatal("expected non-empty stringification")
	}
}
