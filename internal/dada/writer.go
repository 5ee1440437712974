package dada

import (
	"encoding/binary"
	"fmt"
	"io"

	"example.com/psrconv/internal/bitpack"
	"example.com/psrconv/internal/data"
)

// Writer packs sample blocks and slices the packed stream into the sink's
// fixed block capacity. Incoming block sizes and the sink capacity are
// independent: a residual buffer splits large writes and coalesces small
// ones, so the sink only ever sees full blocks until Close.
type Writer struct {
	sink   BlockSink
	hdr    data.Header
	pend   []byte
	closed bool
}

// OpenWrite validates hdr, emits the header block and returns a writer ready
// for WriteBlock calls.
func OpenWrite(sink BlockSink, hdr data.Header) (*Writer, error) {
	hdr, err := data.Validate(hdr)
	if err != nil {
		return nil, err
	}
	if sink.BlockSize() <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadBlockSize, sink.BlockSize())
	}
	raw, err := formatHeader(hdr, bitpack.Stride(hdr))
	if err != nil {
		return nil, err
	}
	if err := sink.WriteHeaderBlock(raw); err != nil {
		return nil, fmt.Errorf("transport header: %w", err)
	}
	return &Writer{sink: sink, hdr: hdr, pend: make([]byte, 0, sink.BlockSize())}, nil
}

// Header returns the header the writer was opened with.
func (wr *Writer) Header() data.Header { return wr.hdr }

// WriteBlock packs one block of samples onto the transport.
func (wr *Writer) WriteBlock(b *data.Block) error {
	if wr.closed {
		return io.ErrClosedPipe
	}
	buf, err := bitpack.Pack(b, wr.hdr, binary.LittleEndian)
	if err != nil {
		return err
	}
	return wr.push(buf)
}

func (wr *Writer) push(buf []byte) error {
	size := wr.sink.BlockSize()
	for len(buf) > 0 {
		room := size - len(wr.pend)
		n := len(buf)
		if n > room {
			n = room
		}
		wr.pend = append(wr.pend, buf[:n]...)
		buf = buf[n:]
		if len(wr.pend) == size {
			if err := wr.sink.WriteBlock(wr.pend); err != nil {
				return fmt.Errorf("transport block: %w", err)
			}
			wr.pend = wr.pend[:0]
		}
	}
	return nil
}

// Close flushes the residual as a final short block and closes the sink.
// Closing twice is a no-op.
func (wr *Writer) Close() error {
	if wr.closed {
		return nil
	}
	wr.closed = true
	if len(wr.pend) > 0 {
		if err := wr.sink.WriteBlock(wr.pend); err != nil {
			wr.sink.Close()
			return fmt.Errorf("transport block: %w", err)
		}
		wr.pend = wr.pend[:0]
	}
	return wr.sink.Close()
}
