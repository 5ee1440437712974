package bitpack

import (
	"encoding/binary"
	"errors"
	"testing"

	"example.com/psrconv/internal/data"
)

func testHeader(nchan, npol, nbits int) data.Header {
	h := data.Header{NChan: nchan, NPol: npol, NBits: nbits}
	h, _ = data.Validate(h)
	return h
}

func TestStride(t *testing.T) {
	tests := []struct {
		nchan, npol, nbits int
		want               int
	}{
		{8, 1, 8, 8},
		{8, 1, 1, 1},
		{10, 1, 1, 2},
		{3, 1, 2, 1},
		{5, 1, 4, 3},
		{4, 2, 16, 16},
		{2, 4, 32, 32},
	}
	for _, tc := range tests {
		h := testHeader(tc.nchan, tc.npol, tc.nbits)
		if got := Stride(h); got != tc.want {
			t.Fatalf("Stride(nchan=%d npol=%d nbits=%d) = %d, want %d",
				tc.nchan, tc.npol, tc.nbits, got, tc.want)
		}
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	tests := []struct {
		name               string
		nchan, npol, nbits int
		nsamp              int
	}{
		{name: "8 bit", nchan: 16, npol: 1, nbits: 8, nsamp: 5},
		{name: "16 bit dual pol", nchan: 8, npol: 2, nbits: 16, nsamp: 3},
		{name: "32 bit", nchan: 4, npol: 1, nbits: 32, nsamp: 2},
		{name: "4 bit", nchan: 6, npol: 1, nbits: 4, nsamp: 4},
		{name: "2 bit", nchan: 7, npol: 1, nbits: 2, nsamp: 3},
		{name: "1 bit", nchan: 11, npol: 1, nbits: 1, nsamp: 2},
		{name: "1 bit stokes", nchan: 3, npol: 4, nbits: 1, nsamp: 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := testHeader(tc.nchan, tc.npol, tc.nbits)
			b := data.NewIntBlock(tc.nsamp, tc.nchan, tc.npol)
			max := uint32(1)<<tc.nbits - 1
			for i := range b.Ints {
				b.Ints[i] = uint32(i*7+3) & max
			}

			packed, err := Pack(b, h, binary.LittleEndian)
			if err != nil {
				t.Fatalf("Pack: %v", err)
			}
			if len(packed) != tc.nsamp*Stride(h) {
				t.Fatalf("packed %d bytes, want %d", len(packed), tc.nsamp*Stride(h))
			}
			got, err := Unpack(packed, h, binary.LittleEndian)
			if err != nil {
				t.Fatalf("Unpack: %v", err)
			}
			if got.NSamp != tc.nsamp {
				t.Fatalf("NSamp = %d, want %d", got.NSamp, tc.nsamp)
			}
			for i := range b.Ints {
				if got.Ints[i] != b.Ints[i] {
					t.Fatalf("value %d: got %d, want %d", i, got.Ints[i], b.Ints[i])
				}
			}
		})
	}
}

func TestPackSubByteLayout(t *testing.T) {
	// Two channels at 4 bits pack MSB-first: first channel in the high
	// nibble.
	h := testHeader(2, 1, 4)
	b := data.NewIntBlock(1, 2, 1)
	b.Ints[0] = 0xA
	b.Ints[1] = 0x3
	packed, err := Pack(b, h, binary.LittleEndian)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if len(packed) != 1 || packed[0] != 0xA3 {
		t.Fatalf("packed = %#x, want [0xA3]", packed)
	}
}

func TestPackPartialBytePadding(t *testing.T) {
	// Three channels at 2 bits leave the low two bits of the byte zero.
	h := testHeader(3, 1, 2)
	b := data.NewIntBlock(1, 3, 1)
	b.Ints[0], b.Ints[1], b.Ints[2] = 3, 1, 2
	packed, err := Pack(b, h, binary.LittleEndian)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	// 11 01 10 00
	if len(packed) != 1 || packed[0] != 0xD8 {
		t.Fatalf("packed = %#x, want [0xD8]", packed)
	}
}

func TestUnpackTruncated(t *testing.T) {
	h := testHeader(8, 1, 8)
	buf := make([]byte, 8*3+5)
	if _, err := Unpack(buf, h, binary.LittleEndian); !errors.Is(err, ErrTruncated) {
		t.Fatalf("Unpack error = %v, want ErrTruncated", err)
	}
}

func TestFloatRoundTrip(t *testing.T) {
	h := data.Header{NChan: 4, NPol: 1, NBits: 32, Float: true}
	h, err := data.Validate(h)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	b := data.NewFloatBlock(2, 4, 1)
	for i := range b.Floats {
		b.Floats[i] = float32(i) * 1.5
	}
	packed, err := Pack(b, h, binary.LittleEndian)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, err := Unpack(packed, h, binary.LittleEndian)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	for i := range b.Floats {
		if got.Floats[i] != b.Floats[i] {
			t.Fatalf("value %d: got %v, want %v", i, got.Floats[i], b.Floats[i])
		}
	}
}

func TestKindMismatch(t *testing.T) {
	h := testHeader(4, 1, 8)
	fb := data.NewFloatBlock(1, 4, 1)
	if _, err := Pack(fb, h, binary.LittleEndian); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("Pack error = %v, want ErrKindMismatch", err)
	}
}

func TestTruncateMasksLowBits(t *testing.T) {
	b := data.NewIntBlock(1, 4, 1)
	b.Ints[0], b.Ints[1], b.Ints[2], b.Ints[3] = 0xFF, 0x12, 0x03, 0x80
	Truncate(b, 2)
	want := []uint32{0x3, 0x2, 0x3, 0x0}
	for i := range want {
		if b.Ints[i] != want[i] {
			t.Fatalf("value %d: got %d, want %d", i, b.Ints[i], want[i])
		}
	}
}

func TestBigEndianWidths(t *testing.T) {
	h := testHeader(2, 1, 16)
	b := data.NewIntBlock(1, 2, 1)
	b.Ints[0], b.Ints[1] = 0x0102, 0xFFEE
	packed, err := Pack(b, h, binary.BigEndian)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	want := []byte{0x01, 0x02, 0xFF, 0xEE}
	for i := range want {
		if packed[i] != want[i] {
			t.Fatalf("byte %d: got %#x, want %#x", i, packed[i], want[i])
		}
	}
}
