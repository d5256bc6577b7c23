package proxy

import (
	"fmt"
	"io"
)

// encodeBinaryFrame writes a single unmasked Binary frame carrying
// payload. Outbound Binary frames are naturally bounded to
// dataChunkSize bytes by the caller (relayUpstreamToClient reads at
// most that many bytes per Read), so no length check is needed here —
// unlike encodeControlFrame, which guards its own bound because a Pong
// echoes a client-supplied Ping payload whose size is not bounded on
// decode.
func encodeBinaryFrame(w io.Writer, payload []byte) error {
	if err := encodeFrameHeader(w, OpcodeBinary, len(payload)); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// encodeControlFrame writes a single unmasked Pong or Close frame.
// Ping is never started by the proxy (it never originates pings) and
// Data is never pushed through this path — enforced here by only
// accepting the two opcodes that are valid.
func encodeControlFrame(w io.Writer, opcode Opcode, payload []byte) error {
	if opcode != OpcodePong && opcode != OpcodeClose {
		return fmt.Errorf("encodeControlFrame: opcode %s is never proxy-originated", opcode)
	}
	if len(payload) > maxControlPayload {
		return fmt.Errorf("encodeControlFrame: payload of %d bytes exceeds %d-byte limit", len(payload), maxControlPayload)
	}

	if err := encodeFrameHeader(w, opcode, len(payload)); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}
