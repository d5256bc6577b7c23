package proxy

import (
	"encoding/binary"
	"fmt"
	"io"
)

// dataChunkSize bounds how much of a Data frame's payload is unmasked
// and forwarded to the upstream writer per internal Read/Write pair. It
// matches the encoder side's own 4096-byte staging buffer, keeping both
// directions symmetric.
const dataChunkSize = 4096

// Frame is the decoded result of a control frame (Close, Ping, or
// Pong). Data frames (Binary, Text, or a Continuation of either) never
// produce a Frame value: by the time decodeFrame returns for one, its
// payload has already been streamed to the upstream writer, so there is
// nothing left for the caller to consume.
type Frame struct {
	Opcode Opcode
	Code   uint16 // Close only.
	Reason []byte // Close only.
	Data   []byte // Ping/Pong only.
}

// decodeFrame reads one complete WebSocket frame from r. If the frame
// carries application data, its payload is unmasked and written to
// upstream as it is read, and decodeFrame returns (nil, nil). If the
// frame is a control frame, its payload is fully buffered and returned
// as a *Frame.
//
// Continuation frames are treated as data: this proxy does not
// reassemble fragmented messages.
func decodeFrame(r io.Reader, upstream io.Writer) (*Frame, error) {
	h, err := decodeFrameHeader(r)
	if err != nil {
		return nil, err
	}

	if h.opcode.IsData() {
		if err := streamDataPayload(r, upstream, h); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if !h.opcode.IsControl() {
		return nil, invalidInput("unknown opcode %d", h.opcode)
	}

	payload, err := readControlPayload(r, h)
	if err != nil {
		return nil, err
	}

	switch h.opcode {
	case OpcodeClose:
		var code uint16
		var reason []byte
		if len(payload) >= 2 {
			code = binary.BigEndian.Uint16(payload[:2])
			reason = payload[2:]
		}
		return &Frame{Opcode: OpcodeClose, Code: code, Reason: reason}, nil
	case OpcodePing:
		return &Frame{Opcode: OpcodePing, Data: payload}, nil
	case OpcodePong:
		return &Frame{Opcode: OpcodePong, Data: payload}, nil
	default:
		return nil, invalidInput("unknown control opcode %d", h.opcode)
	}
}

// streamDataPayload copies a data frame's payload from r to upstream in
// dataChunkSize-bounded chunks, unmasking each chunk in place before
// writing it. An EOF before the declared payload length is fully
// consumed is a protocol error.
func streamDataPayload(r io.Reader, upstream io.Writer, h frameHeader) error {
	var buf [dataChunkSize]byte
	maskOffset := 0

	remaining := h.payloadLen
	for remaining > 0 {
		chunk := buf[:]
		if uint64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}

		n, err := io.ReadFull(r, chunk)
		if err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				return fmt.Errorf("%w: unexpected EOS mid data frame payload", io.ErrUnexpectedEOF)
			}
			return err
		}

		if h.mask != nil {
			maskOffset = maskBytes(chunk[:n], *h.mask, maskOffset)
		}

		if _, err := upstream.Write(chunk[:n]); err != nil {
			return err
		}

		remaining -= uint64(n)
	}

	return nil
}

// readControlPayload fully buffers a control frame's payload (Close,
// Ping, Pong are always small enough in practice to read in one shot;
// this proxy does not enforce RFC 6455's 125-byte control-frame limit
// on decode).
func readControlPayload(r io.Reader, h frameHeader) ([]byte, error) {
	if h.payloadLen == 0 {
		return nil, nil
	}

	buf := make([]byte, h.payloadLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, fmt.Errorf("%w: unexpected EOS mid control frame payload", io.ErrUnexpectedEOF)
		}
		return nil, err
	}

	if h.mask != nil {
		maskBytes(buf, *h.mask, 0)
	}

	return buf, nil
}
