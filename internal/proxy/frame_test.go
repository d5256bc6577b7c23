package proxy

import (
	"bytes"
	"io"
	"testing"
)

func TestEncodeFrameHeaderLengthEncoding(t *testing.T) {
	tests := []struct {
		name       string
		payloadLen int
		wantBytes  int // total header size, including the 2 fixed bytes.
	}{
		{"empty", 0, 2},
		{"small", 125, 2},
		{"boundary16-lo", 126, 4},
		{"boundary16-hi", 65535, 4},
		{"boundary64-lo", 65536, 10},
		{"large", 1 << 20, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := encodeFrameHeader(&buf, OpcodeBinary, tt.payloadLen); err != nil {
				t.Fatalf("encodeFrameHeader: %v", err)
			}
			if buf.Len() != tt.wantBytes {
				t.Fatalf("header length = %d, want %d", buf.Len(), tt.wantBytes)
			}

			h, err := decodeFrameHeader(&buf)
			if err != nil {
				t.Fatalf("decodeFrameHeader: %v", err)
			}
			if h.payloadLen != uint64(tt.payloadLen) {
				t.Fatalf("round-tripped payloadLen = %d, want %d", h.payloadLen, tt.payloadLen)
			}
			if !h.fin {
				t.Fatalf("expected FIN bit set")
			}
			if h.opcode != OpcodeBinary {
				t.Fatalf("opcode = %v, want binary", h.opcode)
			}
			if h.mask != nil {
				t.Fatalf("outbound frames must never be masked")
			}
		})
	}
}

func TestDecodeFrameHeaderMaskedClientFrame(t *testing.T) {
	// Hand-built masked Text frame header: FIN=1, opcode=Text, MASK=1,
	// len=5, mask key 0x11223344.
	raw := []byte{0x81, 0x85, 0x11, 0x22, 0x33, 0x44}
	h, err := decodeFrameHeader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decodeFrameHeader: %v", err)
	}
	if !h.fin || h.opcode != OpcodeText || h.payloadLen != 5 {
		t.Fatalf("unexpected header: %+v", h)
	}
	if h.mask == nil || *h.mask != [4]byte{0x11, 0x22, 0x33, 0x44} {
		t.Fatalf("unexpected mask: %v", h.mask)
	}
}

func TestDecodeFrameHeaderIgnoresReservedBits(t *testing.T) {
	// RSV1-3 all set alongside FIN; this proxy must not reject it.
	raw := []byte{0xF1, 0x80, 0, 0, 0, 0}
	h, err := decodeFrameHeader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decodeFrameHeader rejected reserved bits: %v", err)
	}
	if h.opcode != OpcodeText {
		t.Fatalf("opcode = %v, want text", h.opcode)
	}
}

func TestMaskBytesIsInvolution(t *testing.T) {
	key := [4]byte{0xDE, 0xAD, 0xBE, 0xEF}
	original := []byte("the quick brown fox jumps over the lazy dog")

	masked := append([]byte(nil), original...)
	offset := maskBytes(masked, key, 0)
	if bytes.Equal(masked, original) {
		t.Fatalf("masking did not change the payload")
	}

	unmasked := append([]byte(nil), masked...)
	maskBytes(unmasked, key, 0)
	if !bytes.Equal(unmasked, original) {
		t.Fatalf("unmasking with the same key did not recover the original payload")
	}
	_ = offset
}

func TestMaskBytesOffsetContinuesRotation(t *testing.T) {
	key := [4]byte{1, 2, 3, 4}
	original := []byte("0123456789")

	// Mask in two chunks, carrying the offset across the split, and
	// confirm it matches masking the whole buffer at once.
	split := 3
	chunked := append([]byte(nil), original...)
	off := maskBytes(chunked[:split], key, 0)
	maskBytes(chunked[split:], key, off)

	whole := append([]byte(nil), original...)
	maskBytes(whole, key, 0)

	if !bytes.Equal(chunked, whole) {
		t.Fatalf("chunked masking = %x, want %x", chunked, whole)
	}
}

func TestDecodeFrameHeaderTruncated(t *testing.T) {
	_, err := decodeFrameHeader(bytes.NewReader([]byte{0x81}))
	if err == nil {
		t.Fatalf("expected an error reading a truncated header")
	}
	if err != io.ErrUnexpectedEOF && err != io.EOF {
		t.Fatalf("expected an EOF-flavored error, got %v", err)
	}
}
