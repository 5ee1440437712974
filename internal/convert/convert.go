// Package convert moves sample blocks from any format reader to any format
// writer through the canonical in-memory model. The engine never interprets
// samples beyond the documented requantization rule, so the output byte
// stream depends only on the input data and the requested depth, never on
// the block size used to move it.
package convert

import (
	"errors"
	"fmt"
	"io"

	"example.com/psrconv/internal/bitpack"
	"example.com/psrconv/internal/common"
	"example.com/psrconv/internal/data"
)

var (
	ErrFloatRequantize = errors.New("cannot change bit depth of floating point samples")
	ErrKindChange      = errors.New("cannot convert between integer and floating point samples")
)

// DefaultBlockSamples is the number of time steps moved per iteration when
// the caller does not choose one.
const DefaultBlockSamples = 4096

// Source is a streaming reader of canonical sample blocks.
type Source interface {
	Header() data.Header
	// NextBlock returns up to maxSamples time steps and io.EOF at the end
	// of the stream.
	NextBlock(maxSamples int) (*data.Block, error)
	Close() error
}

// Sink is a streaming writer of canonical sample blocks.
type Sink interface {
	Header() data.Header
	WriteBlock(b *data.Block) error
	Close() error
}

// Options tune a conversion. The zero value is usable.
type Options struct {
	// BlockSamples is the number of time steps moved per iteration.
	BlockSamples int
	// Metrics, when non-nil, receives per-block progress counts.
	Metrics *common.Metrics
}

// Result summarizes a finished conversion.
type Result struct {
	Samples  int64
	Blocks   int64
	BytesIn  int64
	BytesOut int64
}

// OutputHeader derives the writer header for a conversion: the source header
// with the bit depth replaced by nbits (0 keeps the source depth). Depth
// changes are only defined for integer samples.
func OutputHeader(src data.Header, nbits int) (data.Header, error) {
	out := src
	if nbits == 0 || nbits == src.NBits {
		return data.Validate(out)
	}
	if src.Float {
		return out, fmt.Errorf("%w: source is 32-bit float", ErrFloatRequantize)
	}
	if nbits == 32 && !src.Float {
		// 32-bit integer output stays integer; Float is only ever set by a
		// reader that saw IEEE samples.
		out.NBits = 32
		return data.Validate(out)
	}
	out.NBits = nbits
	return data.Validate(out)
}

// Run streams every sample from src to sink. When the sink's depth is
// narrower than the source's, each value keeps its low-order bits; values
// are never scaled. Run does not close either end.
func Run(src Source, sink Sink, opts Options) (Result, error) {
	var res Result

	sh := src.Header()
	oh := sink.Header()
	if sh.Float != oh.Float {
		return res, fmt.Errorf("%w: source float=%v, sink float=%v", ErrKindChange, sh.Float, oh.Float)
	}

	blockSamples := opts.BlockSamples
	if blockSamples <= 0 {
		blockSamples = DefaultBlockSamples
	}
	inStride := int64(bitpack.Stride(sh))
	outStride := int64(bitpack.Stride(oh))
	requantize := !oh.Float && oh.NBits < sh.NBits

	if opts.Metrics != nil {
		opts.Metrics.Start()
		if sh.NSamples > 0 {
			opts.Metrics.SetTotalSamples(sh.NSamples)
		}
		defer opts.Metrics.Stop()
	}

	for {
		b, err := src.NextBlock(blockSamples)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			return res, fmt.Errorf("read: %w", err)
		}
		if requantize {
			bitpack.Truncate(b, oh.NBits)
		}
		if err := sink.WriteBlock(b); err != nil {
			return res, fmt.Errorf("write: %w", err)
		}
		n := int64(b.NSamp)
		res.Samples += n
		res.Blocks++
		res.BytesIn += n * inStride
		res.BytesOut += n * outStride
		if opts.Metrics != nil {
			opts.Metrics.AddBlock(b.NSamp, n*inStride, n*outStride)
		}
	}
}
