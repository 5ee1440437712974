package sigproc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	"example.com/psrconv/internal/bitpack"
	"example.com/psrconv/internal/data"
)

// Reader streams sample blocks out of a filterbank byte stream. It is
// created by OpenRead with the header already parsed, so every reader is
// immediately ready for NextBlock calls.
type Reader struct {
	src    io.Reader
	r      *bufio.Reader
	hdr    data.Header
	stride int
	closed bool
}

// OpenRead parses the sigproc header from r and returns a streaming reader
// positioned at the first sample.
func OpenRead(r io.Reader) (*Reader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	hdr, err := parseHeader(br)
	if err != nil {
		return nil, err
	}
	hdr, err = data.Validate(hdr)
	if err != nil {
		return nil, err
	}
	return &Reader{src: r, r: br, hdr: hdr, stride: bitpack.Stride(hdr)}, nil
}

// Header returns the canonical header parsed from the stream.
func (rd *Reader) Header() data.Header { return rd.hdr }

// NextBlock reads up to maxSamples time steps and unpacks them. It returns
// io.EOF once the stream is exhausted; a stream ending inside a time step is
// reported as bitpack.ErrTruncated.
func (rd *Reader) NextBlock(maxSamples int) (*data.Block, error) {
	if rd.closed {
		return nil, io.EOF
	}
	if maxSamples <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", maxSamples)
	}
	buf := make([]byte, maxSamples*rd.stride)
	n, err := io.ReadFull(rd.r, buf)
	if n == 0 {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	if n%rd.stride != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", bitpack.ErrTruncated, n%rd.stride)
	}
	return bitpack.Unpack(buf[:n], rd.hdr, binary.LittleEndian)
}

// Close releases the underlying stream. Closing twice is a no-op.
func (rd *Reader) Close() error {
	if rd.closed {
		return nil
	}
	rd.closed = true
	if c, ok := rd.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func parseHeader(r *bufio.Reader) (data.Header, error) {
	var hdr data.Header
	start, err := readString(r)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return hdr, fmt.Errorf("%w: stream too short", ErrNotFilterbank)
		}
		return hdr, err
	}
	if start != headerStart {
		return hdr, fmt.Errorf("%w: leading keyword %q", ErrNotFilterbank, start)
	}

	hdr.Extra = make(map[string]string)
	dataType := dataTypeFilterbank
	for {
		name, err := readString(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return hdr, fmt.Errorf("%w: header end marker missing", ErrNotFilterbank)
			}
			return hdr, err
		}
		if name == headerEnd {
			break
		}
		kind, ok := keywordKinds[name]
		if !ok {
			// Untyped format: an unknown keyword cannot be skipped.
			return hdr, fmt.Errorf("%w: %q", ErrUnknownKeyword, name)
		}
		switch kind {
		case kindInt:
			v, err := readInt(r)
			if err != nil {
				return hdr, err
			}
			switch name {
			case "machine_id":
				hdr.MachineID = v
			case "telescope_id":
				hdr.TelescopeID = v
			case "nbits":
				hdr.NBits = v
			case "nchans":
				hdr.NChan = v
			case "nifs":
				hdr.NPol = v
			case "nsamples":
				hdr.NSamples = int64(v)
			case "data_type":
				dataType = v
			default:
				hdr.Extra[name] = strconv.Itoa(v)
			}
		case kindDouble:
			v, err := readDouble(r)
			if err != nil {
				return hdr, err
			}
			switch name {
			case "tsamp":
				hdr.TsampSec = v
			case "tstart":
				hdr.TstartMJD = v
			case "fch1":
				hdr.Fch1MHz = v
			case "foff":
				hdr.FoffMHz = v
			case "src_raj":
				sign, d, m, s := splitSigprocAngle(v)
				hdr.RADeg = data.FromSexagesimal(sign, d, m, s) * 15
			case "src_dej":
				sign, d, m, s := splitSigprocAngle(v)
				hdr.DecDeg = data.FromSexagesimal(sign, d, m, s)
			default:
				hdr.Extra[name] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		case kindString:
			v, err := readString(r)
			if err != nil {
				return hdr, err
			}
			if name == "source_name" {
				hdr.SourceName = v
			} else {
				hdr.Extra[name] = v
			}
		case kindByte:
			b, err := r.ReadByte()
			if err != nil {
				return hdr, err
			}
			hdr.Extra[name] = strconv.Itoa(int(b))
		}
	}

	if dataType != dataTypeFilterbank {
		return hdr, fmt.Errorf("%w: data_type=%d", ErrNotFilterbank, dataType)
	}
	hdr.Float = hdr.NBits == 32
	return hdr, nil
}
