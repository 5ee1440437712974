// Package dada writes observations onto a PSRDADA-style block transport: a
// single 4096-byte ASCII header block followed by fixed-capacity data blocks
// of packed samples. Blocks are filled completely except possibly the last,
// so a consumer can map the stream straight into a ring buffer. Read support
// is deliberately absent; converted data flows one way onto the ring.
package dada

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"example.com/psrconv/internal/data"
)

// HeaderSize is the fixed size of the ASCII header block.
const HeaderSize = 4096

var (
	ErrHeaderOverflow = errors.New("dada header exceeds the fixed header block size")
	ErrBadBlockSize   = errors.New("dada block size must be positive")
	ErrSinkClosed     = errors.New("dada sink is closed")
)

// BlockSink is the destination for header and data blocks. Implementations
// decide what a block physically is: a file segment, a shared-memory ring
// slot, a network frame.
type BlockSink interface {
	// BlockSize returns the fixed capacity of one data block in bytes.
	BlockSize() int
	// WriteHeaderBlock delivers the HeaderSize-byte header block once,
	// before any data block.
	WriteHeaderBlock(p []byte) error
	// WriteBlock delivers one data block. Every block is exactly
	// BlockSize bytes except the final one, which may be shorter.
	WriteBlock(p []byte) error
	Close() error
}

// formatHeader renders the canonical header in the DADA keyword layout and
// pads it to HeaderSize with NULs.
func formatHeader(hdr data.Header, resolution int) ([]byte, error) {
	ndim := 1
	if hdr.NPol > 1 {
		ndim = hdr.NPol
	}

	var sb strings.Builder
	put := func(key, val string) {
		fmt.Fprintf(&sb, "%-12s %s\n", key, val)
	}
	put("HDR_VERSION", "1.0")
	put("HDR_SIZE", fmt.Sprintf("%d", HeaderSize))
	put("INSTRUMENT", instrumentName(hdr))
	put("TELESCOPE", telescopeName(hdr))
	put("SOURCE", hdr.SourceName)

	sign, d, m, s := data.Sexagesimal(hdr.RAToHours())
	put("RA", formatHMS(sign, d, m, s))
	sign, d, m, s = data.Sexagesimal(hdr.DecDeg)
	put("DEC", formatHMS(sign, d, m, s))

	put("FREQ", fmt.Sprintf("%.8f", hdr.CenterFreqMHz()))
	put("BW", fmt.Sprintf("%.8f", hdr.BandwidthMHz()))
	put("NCHAN", fmt.Sprintf("%d", hdr.NChan))
	put("NPOL", fmt.Sprintf("%d", hdr.NPol))
	put("NBIT", fmt.Sprintf("%d", hdr.NBits))
	put("NDIM", fmt.Sprintf("%d", ndim))
	// DADA convention: sampling interval in microseconds.
	put("TSAMP", fmt.Sprintf("%.8f", hdr.TsampSec*1e6))
	put("MJD_START", fmt.Sprintf("%.12f", hdr.TstartMJD))
	put("OBS_OFFSET", "0")
	put("RESOLUTION", fmt.Sprintf("%d", resolution))
	put("ORDER", "TFP")

	// Provenance keywords ride along in sorted order for determinism.
	extras := make([]string, 0, len(hdr.Extra))
	for k := range hdr.Extra {
		extras = append(extras, k)
	}
	sort.Strings(extras)
	for _, k := range extras {
		put(strings.ToUpper(k), hdr.Extra[k])
	}

	if sb.Len() > HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderOverflow, sb.Len())
	}
	out := make([]byte, HeaderSize)
	copy(out, sb.String())
	return out, nil
}

func formatHMS(sign int, d, m int, s float64) string {
	p := ""
	if sign < 0 {
		p = "-"
	}
	return fmt.Sprintf("%s%02d:%02d:%07.4f", p, d, m, s)
}

func instrumentName(hdr data.Header) string {
	if v, ok := hdr.Extra["backend"]; ok && v != "" {
		return v
	}
	return "UNKNOWN"
}

func telescopeName(hdr data.Header) string {
	if v, ok := hdr.Extra["telescope"]; ok && v != "" {
		return v
	}
	return fmt.Sprintf("ID%d", hdr.TelescopeID)
}

// MemorySink collects blocks in memory. It is the sink of choice in tests
// and for staging a stream before hand-off.
type MemorySink struct {
	blockSize int
	header    []byte
	blocks    [][]byte
	closed    bool
}

// NewMemorySink returns a sink whose data blocks hold blockSize bytes.
func NewMemorySink(blockSize int) (*MemorySink, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadBlockSize, blockSize)
	}
	return &MemorySink{blockSize: blockSize}, nil
}

func (s *MemorySink) BlockSize() int { return s.blockSize }

func (s *MemorySink) WriteHeaderBlock(p []byte) error {
	if s.closed {
		return ErrSinkClosed
	}
	s.header = append([]byte(nil), p...)
	return nil
}

func (s *MemorySink) WriteBlock(p []byte) error {
	if s.closed {
		return ErrSinkClosed
	}
	s.blocks = append(s.blocks, append([]byte(nil), p...))
	return nil
}

func (s *MemorySink) Close() error {
	s.closed = true
	return nil
}

// HeaderBlock returns the delivered header block.
func (s *MemorySink) HeaderBlock() []byte { return s.header }

// Blocks returns the delivered data blocks in order.
func (s *MemorySink) Blocks() [][]byte { return s.blocks }

// FileSink appends the header block and all data blocks to a single file,
// the layout PSRDADA's file writer produces.
type FileSink struct {
	f         *os.File
	blockSize int
	closed    bool
}

// NewFileSink creates path and writes blocks of blockSize bytes to it.
func NewFileSink(path string, blockSize int) (*FileSink, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadBlockSize, blockSize)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f, blockSize: blockSize}, nil
}

func (s *FileSink) BlockSize() int { return s.blockSize }

func (s *FileSink) WriteHeaderBlock(p []byte) error {
	if s.closed {
		return ErrSinkClosed
	}
	_, err := s.f.Write(p)
	return err
}

func (s *FileSink) WriteBlock(p []byte) error {
	if s.closed {
		return ErrSinkClosed
	}
	_, err := s.f.Write(p)
	return err
}

func (s *FileSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}
