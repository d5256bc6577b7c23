package proxy

import (
	"bytes"
	"testing"
)

func TestEncodeBinaryFrameRoundTrip(t *testing.T) {
	payload := []byte("hello upstream")

	var buf bytes.Buffer
	if err := encodeBinaryFrame(&buf, payload); err != nil {
		t.Fatalf("encodeBinaryFrame: %v", err)
	}

	h, err := decodeFrameHeader(&buf)
	if err != nil {
		t.Fatalf("decodeFrameHeader: %v", err)
	}
	if h.opcode != OpcodeBinary || !h.fin || h.mask != nil {
		t.Fatalf("unexpected header: %+v", h)
	}
	if h.payloadLen != uint64(len(payload)) {
		t.Fatalf("payloadLen = %d, want %d", h.payloadLen, len(payload))
	}
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Fatalf("payload = %q, want %q", buf.Bytes(), payload)
	}
}

func TestEncodeControlFrameRejectsWrongOpcodes(t *testing.T) {
	var buf bytes.Buffer
	for _, op := range []Opcode{OpcodePing, OpcodeBinary, OpcodeText, OpcodeContinuation} {
		if err := encodeControlFrame(&buf, op, nil); err == nil {
			t.Fatalf("expected encodeControlFrame to reject opcode %v", op)
		}
	}
}

func TestEncodeControlFrameEnforcesSizeCap(t *testing.T) {
	var buf bytes.Buffer
	oversized := make([]byte, maxControlPayload+1)
	if err := encodeControlFrame(&buf, OpcodePong, oversized); err == nil {
		t.Fatalf("expected encodeControlFrame to reject an oversized payload")
	}
}

func TestEncodeControlFramePongRoundTrip(t *testing.T) {
	payload := []byte("ping-data")

	var buf bytes.Buffer
	if err := encodeControlFrame(&buf, OpcodePong, payload); err != nil {
		t.Fatalf("encodeControlFrame: %v", err)
	}

	h, err := decodeFrameHeader(&buf)
	if err != nil {
		t.Fatalf("decodeFrameHeader: %v", err)
	}
	if h.opcode != OpcodePong {
		t.Fatalf("opcode = %v, want pong", h.opcode)
	}
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Fatalf("payload = %q, want %q", buf.Bytes(), payload)
	}
}

func TestEncodeControlFrameCloseEmptyReason(t *testing.T) {
	var buf bytes.Buffer
	if err := encodeControlFrame(&buf, OpcodeClose, closePayload(CloseNormal, nil)); err != nil {
		t.Fatalf("encodeControlFrame: %v", err)
	}

	h, err := decodeFrameHeader(&buf)
	if err != nil {
		t.Fatalf("decodeFrameHeader: %v", err)
	}
	if h.payloadLen != 2 {
		t.Fatalf("payloadLen = %d, want 2", h.payloadLen)
	}
}
