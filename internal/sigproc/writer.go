package sigproc

import (
	"bufio"
	"encoding/binary"
	"io"
	"strconv"

	"example.com/psrconv/internal/bitpack"
	"example.com/psrconv/internal/data"
)

// Writer streams sample blocks into a filterbank byte stream. The header is
// written once by OpenWrite; blocks may then be appended indefinitely — the
// format needs no advance knowledge of the total sample count.
type Writer struct {
	dst    io.Writer
	w      *bufio.Writer
	hdr    data.Header
	closed bool
}

// OpenWrite validates hdr, serializes it in the sigproc keyword encoding and
// returns a writer ready for WriteBlock calls.
func OpenWrite(w io.Writer, hdr data.Header) (*Writer, error) {
	hdr, err := data.Validate(hdr)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(w, 64*1024)
	if err := writeHeader(bw, hdr); err != nil {
		return nil, err
	}
	return &Writer{dst: w, w: bw, hdr: hdr}, nil
}

// Header returns the header the writer was opened with.
func (wr *Writer) Header() data.Header { return wr.hdr }

// WriteBlock packs and appends one block of samples.
func (wr *Writer) WriteBlock(b *data.Block) error {
	if wr.closed {
		return io.ErrClosedPipe
	}
	buf, err := bitpack.Pack(b, wr.hdr, binary.LittleEndian)
	if err != nil {
		return err
	}
	_, err = wr.w.Write(buf)
	return err
}

// Close flushes buffered samples and releases the underlying stream.
// Closing twice is a no-op.
func (wr *Writer) Close() error {
	if wr.closed {
		return nil
	}
	wr.closed = true
	if err := wr.w.Flush(); err != nil {
		return err
	}
	if c, ok := wr.dst.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func writeHeader(w io.Writer, hdr data.Header) error {
	if err := writeString(w, headerStart); err != nil {
		return err
	}
	if hdr.SourceName != "" {
		if err := writeKeywordString(w, "source_name", hdr.SourceName); err != nil {
			return err
		}
	}
	if raw, ok := hdr.Extra["rawdatafile"]; ok {
		if err := writeKeywordString(w, "rawdatafile", raw); err != nil {
			return err
		}
	}
	if err := writeKeywordInt(w, "machine_id", hdr.MachineID); err != nil {
		return err
	}
	if err := writeKeywordInt(w, "telescope_id", hdr.TelescopeID); err != nil {
		return err
	}
	if err := writeKeywordInt(w, "data_type", dataTypeFilterbank); err != nil {
		return err
	}

	sign, d, m, s := data.Sexagesimal(hdr.RADeg / 15)
	if err := writeKeywordDouble(w, "src_raj", sigprocAngle(sign, d, m, s)); err != nil {
		return err
	}
	sign, d, m, s = data.Sexagesimal(hdr.DecDeg)
	if err := writeKeywordDouble(w, "src_dej", sigprocAngle(sign, d, m, s)); err != nil {
		return err
	}

	for _, kw := range []string{"az_start", "za_start", "refdm", "period"} {
		raw, ok := hdr.Extra[kw]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		if err := writeKeywordDouble(w, kw, v); err != nil {
			return err
		}
	}
	for _, kw := range []string{"barycentric", "pulsarcentric", "nbeams", "ibeam"} {
		raw, ok := hdr.Extra[kw]
		if !ok {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		if err := writeKeywordInt(w, kw, v); err != nil {
			return err
		}
	}

	if err := writeKeywordDouble(w, "fch1", hdr.Fch1MHz); err != nil {
		return err
	}
	if err := writeKeywordDouble(w, "foff", hdr.FoffMHz); err != nil {
		return err
	}
	if err := writeKeywordInt(w, "nchans", hdr.NChan); err != nil {
		return err
	}
	if err := writeKeywordInt(w, "nbits", hdr.NBits); err != nil {
		return err
	}
	if err := writeKeywordDouble(w, "tstart", hdr.TstartMJD); err != nil {
		return err
	}
	if err := writeKeywordDouble(w, "tsamp", hdr.TsampSec); err != nil {
		return err
	}
	if err := writeKeywordInt(w, "nifs", hdr.NPol); err != nil {
		return err
	}
	return writeString(w, headerEnd)
}
