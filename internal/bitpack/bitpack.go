// Package bitpack converts between canonical sample blocks and the packed
// byte layout used on disk and on transports. Sub-byte depths pack values
// MSB-first, channel-major within a time step; every time step starts on a
// byte boundary and a partial final byte is zero padded. Integer samples are
// unsigned and zero-extended; no scaling is ever applied, so packing and
// unpacking are byte-for-byte inverses for in-range values.
package bitpack

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"example.com/psrconv/internal/data"
)

var (
	ErrTruncated    = errors.New("packed buffer truncated: length is not a multiple of the sample stride")
	ErrKindMismatch = errors.New("block value kind does not match header")
)

// Stride returns the number of packed bytes occupied by one time step.
func Stride(h data.Header) int {
	bits := h.NChan * h.NPol * h.NBits
	return (bits + 7) / 8
}

// Pack serializes a block at the header's bit depth. Values wider than the
// target depth keep their low-order bits, which is the documented
// requantization contract.
func Pack(b *data.Block, h data.Header, order binary.ByteOrder) ([]byte, error) {
	if h.Float {
		if b.Floats == nil {
			return nil, fmt.Errorf("%w: float header, integer block", ErrKindMismatch)
		}
		return packFloat(b.Floats, order), nil
	}
	if b.Ints == nil {
		return nil, fmt.Errorf("%w: integer header, float block", ErrKindMismatch)
	}
	vps := h.ValuesPerSample()
	stride := Stride(h)
	out := make([]byte, b.NSamp*stride)

	switch h.NBits {
	case 8:
		for i, v := range b.Ints {
			out[i] = byte(v)
		}
	case 16:
		for i, v := range b.Ints {
			order.PutUint16(out[2*i:], uint16(v))
		}
	case 32:
		for i, v := range b.Ints {
			order.PutUint32(out[4*i:], v)
		}
	case 1, 2, 4:
		mask := uint32(1)<<h.NBits - 1
		for t := 0; t < b.NSamp; t++ {
			row := out[t*stride : (t+1)*stride]
			vals := b.Ints[t*vps : (t+1)*vps]
			var acc byte
			fill := 0
			n := 0
			for _, v := range vals {
				acc = acc<<h.NBits | byte(v&mask)
				fill += h.NBits
				if fill == 8 {
					row[n] = acc
					n++
					acc, fill = 0, 0
				}
			}
			if fill > 0 {
				row[n] = acc << (8 - fill)
			}
		}
	default:
		return nil, fmt.Errorf("%w: nbits=%d", data.ErrUnsupportedBitDepth, h.NBits)
	}
	return out, nil
}

func packFloat(vals []float32, order binary.ByteOrder) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		order.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// Unpack is the inverse of Pack. The buffer must contain a whole number of
// time steps; anything else is reported as ErrTruncated rather than a
// silently short block.
func Unpack(buf []byte, h data.Header, order binary.ByteOrder) (*data.Block, error) {
	stride := Stride(h)
	if stride == 0 {
		return nil, fmt.Errorf("%w: nchan=%d", data.ErrInvalidChannelCount, h.NChan)
	}
	if len(buf)%stride != 0 {
		return nil, fmt.Errorf("%w: %d bytes, stride %d", ErrTruncated, len(buf), stride)
	}
	nsamp := len(buf) / stride

	if h.Float {
		b := data.NewFloatBlock(nsamp, h.NChan, h.NPol)
		for i := range b.Floats {
			b.Floats[i] = math.Float32frombits(order.Uint32(buf[4*i:]))
		}
		return b, nil
	}

	b := data.NewIntBlock(nsamp, h.NChan, h.NPol)
	vps := h.ValuesPerSample()
	switch h.NBits {
	case 8:
		for i := range b.Ints {
			b.Ints[i] = uint32(buf[i])
		}
	case 16:
		for i := range b.Ints {
			b.Ints[i] = uint32(order.Uint16(buf[2*i:]))
		}
	case 32:
		for i := range b.Ints {
			b.Ints[i] = order.Uint32(buf[4*i:])
		}
	case 1, 2, 4:
		mask := byte(1)<<h.NBits - 1
		per := 8 / h.NBits
		for t := 0; t < nsamp; t++ {
			row := buf[t*stride : (t+1)*stride]
			vals := b.Ints[t*vps : (t+1)*vps]
			for i := range vals {
				byteIdx := i / per
				shift := 8 - h.NBits*(i%per+1)
				vals[i] = uint32(row[byteIdx] >> shift & mask)
			}
		}
	default:
		return nil, fmt.Errorf("%w: nbits=%d", data.ErrUnsupportedBitDepth, h.NBits)
	}
	return b, nil
}

// Truncate masks every integer value down to nbits, keeping the low-order
// bits. It is a no-op when nbits is 32 or the block holds floats.
func Truncate(b *data.Block, nbits int) {
	if b.Ints == nil || nbits >= 32 {
		return
	}
	mask := uint32(1)<<nbits - 1
	for i, v := range b.Ints {
		b.Ints[i] = v & mask
	}
}
