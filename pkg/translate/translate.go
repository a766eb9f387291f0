// Package translate specifies the opaque G-code-to-binary-opcode
// collaborator the binary driver relies on (spec §1/§4.6: "firmware-specific
// G-code->binary translation" is an external collaborator; only its
// contract is owned by this repository). PassthroughTranslator is a
// reference implementation covering the opcode families
// original_source/src/drivers/MakerbotDriver.cpp actually drives, not a
// full gpx-equivalent motion planner.
package translate

import (
	"encoding/binary"
	"log"
	"strconv"
	"strings"
)

// Opcodes used by the binary driver, spec §4.6.
const (
	OpGetVersion       = 0
	OpGetBufferSpace   = 2
	OpToolQuery        = 10
	OpFindAxesMinimums = 131
	OpToolAction       = 136
	OpSetTemperature   = 140 // extruder target, mirrors gpx M104 binding
	OpSetPlatformTemp  = 142 // bed target, mirrors gpx M140/M190 binding
	OpDisplayMessage   = 149
	OpSetBuildPercent  = 150
	OpQueueSong        = 151
	OpStartBuild       = 153
	OpEndBuild         = 154
	OpQueueExtPoint    = 155
)

// Translator converts a batch of G-code lines into binary-driver payloads
// (each payload's first byte is the opcode; little-endian integers
// throughout, per spec §4.6).
type Translator interface {
	// Translate converts as many leading entries of lines as it can turn into
	// payloads in one call and returns the consumed line count plus the
	// payloads produced. Consuming fewer lines than len(src) is legal; the
	// caller re-invokes with the remainder.
	Translate(lines []string) (consumed int, payloads [][]byte)

	// Reset clears any internal translator state (position tracking,
	// pending multi-line macros), called on fullStop.
	Reset()
}

// PassthroughTranslator recognizes the common motion/temperature G-code
// verbs and emits minimal, structurally valid opcodes for them. It does not
// attempt real motion planning (no step/feedrate conversion) — that is
// explicitly out of scope; it exists to exercise the binary driver's queue
// and wire format end to end.
type PassthroughTranslator struct{}

// NewPassthroughTranslator constructs a stateless PassthroughTranslator.
func NewPassthroughTranslator() *PassthroughTranslator {
	return &PassthroughTranslator{}
}

func (t *PassthroughTranslator) Reset() {}

func (t *PassthroughTranslator) Translate(lines []string) (int, [][]byte) {
	var payloads [][]byte
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		verb := firstToken(line)
		switch {
		case verb == "G28":
			payloads = append(payloads, []byte{OpFindAxesMinimums})
		case verb == "G0" || verb == "G1" || verb == "G92":
			payloads = append(payloads, queueExtPointPayload())
		case verb == "M104" || verb == "M109":
			payloads = append(payloads, temperaturePayload(OpSetTemperature, line))
		case verb == "M140" || verb == "M190":
			payloads = append(payloads, temperaturePayload(OpSetPlatformTemp, line))
		default:
			log.Printf("translate: no-op for unrecognized verb %q", verb)
		}
	}
	return len(lines), payloads
}

func firstToken(line string) string {
	if idx := strings.IndexByte(line, ' '); idx != -1 {
		return line[:idx]
	}
	return line
}

func queueExtPointPayload() []byte {
	// Opcode + 5 axes (int32 each, zeroed: this stub does not track
	// machine position) + feedrate (uint32), matching the s3g "queue
	// extended point" frame shape without real kinematics.
	p := make([]byte, 1+5*4+4)
	p[0] = OpQueueExtPoint
	return p
}

func temperaturePayload(op byte, line string) []byte {
	target := parseS(line)
	p := make([]byte, 1+2)
	p[0] = op
	binary.LittleEndian.PutUint16(p[1:], uint16(target))
	return p
}

func parseS(line string) int {
	idx := strings.IndexByte(line, 'S')
	if idx == -1 {
		return 0
	}
	rest := line[idx+1:]
	end := 0
	for end < len(rest) && (rest[end] == '.' || rest[end] == '-' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	v, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0
	}
	return v
}
