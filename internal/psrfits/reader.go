package psrfits

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"example.com/psrconv/internal/bitpack"
	"example.com/psrconv/internal/data"
)

// telescopeIDs maps PSRFITS TELESCOP names onto the sigproc telescope
// numbering so converted headers stay meaningful to downstream tooling.
var telescopeIDs = map[string]int{
	"FAKE":     0,
	"ARECIBO":  1,
	"OOTY":     2,
	"NANCAY":   3,
	"PARKES":   4,
	"JODRELL":  5,
	"GBT":      6,
	"GMRT":     7,
	"EFFELSBERG": 8,
	"SRT":      10,
	"LOFAR":    11,
	"VLA":      12,
	"CHIME":    20,
	"FAST":     21,
	"MEERKAT":  64,
}

// acceptedPolTypes are the polarization orderings the canonical sample
// layout can express. Cross-term products would need a layout of their own.
var acceptedPolTypes = map[string]bool{
	"":      true,
	"AA+BB": true,
	"INTEN": true,
	"AABB":  true,
	"IQUV":  true,
	"STOKE": true,
}

// Reader streams sample blocks out of a PSRFITS container. Rows are read
// strictly in order; a residual buffer carries the unconsumed tail of the
// current row across NextBlock calls so callers never observe row
// boundaries.
type Reader struct {
	src io.Reader
	hdr data.Header

	rowBytes   int
	rowsTotal  int
	rowsRead   int
	nsblk      int
	dataOffset int
	dataBytes  int
	rowBuf     []byte

	// leftover holds unpacked samples from the current row that earlier
	// NextBlock calls did not consume; leftOff indexes the first unserved
	// sample.
	leftover *data.Block
	leftOff  int

	closed bool
}

// OpenRead parses the primary header and the SUBINT table description from
// r, which is consumed strictly sequentially. The returned reader is
// positioned at the first subintegration row.
func OpenRead(r io.Reader) (*Reader, error) {
	primary, err := readHeaderUnit(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty stream", ErrNotFITS)
		}
		return nil, err
	}
	if !primary.logical("SIMPLE") {
		return nil, fmt.Errorf("%w: SIMPLE card missing or false", ErrNotFITS)
	}
	size, err := primary.dataSize()
	if err != nil {
		return nil, err
	}
	if err := skip(r, padded(size)); err != nil {
		return nil, err
	}

	// Walk extensions until the SUBINT table turns up.
	var table *headerUnit
	for {
		unit, err := readHeaderUnit(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrNoSubintTable
			}
			return nil, err
		}
		ext, _ := unit.str("EXTNAME")
		xt, _ := unit.str("XTENSION")
		if strings.EqualFold(ext, "SUBINT") {
			if !strings.EqualFold(xt, "BINTABLE") {
				return nil, fmt.Errorf("%w: SUBINT extension is %q", ErrUnsupportedLayout, xt)
			}
			table = unit
			break
		}
		size, err := unit.dataSize()
		if err != nil {
			return nil, err
		}
		if err := skip(r, padded(size)); err != nil {
			return nil, err
		}
	}

	rd := &Reader{src: r}
	if err := rd.configure(primary, table); err != nil {
		return nil, err
	}
	return rd, nil
}

func (rd *Reader) configure(primary, table *headerUnit) error {
	var hdr data.Header
	hdr.Extra = make(map[string]string)

	if name, ok := primary.str("SRC_NAME"); ok {
		hdr.SourceName = name
	}
	if tel, ok := primary.str("TELESCOP"); ok {
		hdr.Extra["telescope"] = tel
		if id, ok := telescopeIDs[strings.ToUpper(strings.TrimSpace(tel))]; ok {
			hdr.TelescopeID = id
		} else {
			hdr.TelescopeID = -1
		}
	}
	if backend, ok := primary.str("BACKEND"); ok {
		hdr.Extra["backend"] = backend
	}
	if ra, ok := primary.str("RA"); ok {
		deg, err := parseHMS(ra)
		if err != nil {
			return err
		}
		hdr.RADeg = deg * 15
	}
	if dec, ok := primary.str("DEC"); ok {
		deg, err := parseHMS(dec)
		if err != nil {
			return err
		}
		hdr.DecDeg = deg
	}

	imjd, err := primary.int64Value("STT_IMJD")
	if err != nil {
		return err
	}
	smjd, err := primary.floatValue("STT_SMJD")
	if err != nil {
		return err
	}
	offs := 0.0
	if v, err := primary.floatValue("STT_OFFS"); err == nil {
		offs = v
	}
	hdr.TstartMJD = data.MJDJoin(imjd, smjd+offs)

	obsfreq, err := primary.floatValue("OBSFREQ")
	if err != nil {
		return err
	}
	obsbw, err := primary.floatValue("OBSBW")
	if err != nil {
		return err
	}

	nchan, err := table.intValue("NCHAN")
	if err != nil {
		return err
	}
	npol, err := table.intValue("NPOL")
	if err != nil {
		return err
	}
	nbits, err := table.intValue("NBITS")
	if err != nil {
		return err
	}
	tbin, err := table.floatValue("TBIN")
	if err != nil {
		return err
	}
	nsblk, err := table.intValue("NSBLK")
	if err != nil {
		return err
	}
	if nsblk <= 0 {
		return fmt.Errorf("%w: NSBLK=%d", ErrUnsupportedLayout, nsblk)
	}
	if polType, ok := table.str("POL_TYPE"); ok {
		if !acceptedPolTypes[strings.ToUpper(strings.TrimSpace(polType))] {
			return fmt.Errorf("%w: POL_TYPE %q", ErrUnsupportedLayout, polType)
		}
		hdr.Extra["pol_type"] = polType
	}

	hdr.NChan = nchan
	hdr.NPol = npol
	hdr.NBits = nbits
	hdr.TsampSec = tbin
	if nchan > 0 {
		foff := obsbw / float64(nchan)
		hdr.FoffMHz = foff
		hdr.Fch1MHz = obsfreq - foff*float64(nchan-1)/2
	}

	rowBytes, err := table.intValue("NAXIS1")
	if err != nil {
		return err
	}
	rowsTotal, err := table.intValue("NAXIS2")
	if err != nil {
		return err
	}
	cols, err := parseColumns(table)
	if err != nil {
		return err
	}
	var dataCol *column
	for i := range cols {
		if strings.EqualFold(cols[i].name, "DATA") {
			dataCol = &cols[i]
			break
		}
	}
	if dataCol == nil {
		return fmt.Errorf("%w: SUBINT table has no DATA column", ErrUnsupportedLayout)
	}

	switch dataCol.typ {
	case 'B':
		if nbits != 1 && nbits != 2 && nbits != 4 && nbits != 8 {
			return fmt.Errorf("%w: byte column with NBITS=%d", ErrUnsupportedLayout, nbits)
		}
	case 'X':
		if nbits != 1 {
			return fmt.Errorf("%w: bit column with NBITS=%d", ErrUnsupportedLayout, nbits)
		}
	case 'I':
		if nbits != 16 {
			return fmt.Errorf("%w: 16-bit column with NBITS=%d", ErrUnsupportedLayout, nbits)
		}
	case 'E':
		if nbits != 32 {
			return fmt.Errorf("%w: float column with NBITS=%d", ErrUnsupportedLayout, nbits)
		}
		hdr.Float = true
	default:
		return fmt.Errorf("%w: DATA column TFORM type %q", ErrUnsupportedLayout, string(dataCol.typ))
	}

	hdr, err = data.Validate(hdr)
	if err != nil {
		return err
	}

	stride := bitpack.Stride(hdr)
	wantBytes := nsblk * stride
	if dataCol.size < wantBytes {
		return fmt.Errorf("%w: DATA column holds %d bytes per row, need %d for NSBLK=%d",
			ErrUnsupportedLayout, dataCol.size, wantBytes, nsblk)
	}
	// NAXIS2 counts rows even when the recording was cut mid-row, so this is
	// the declared count; fillRow serves whatever samples the trailing row
	// actually holds.
	hdr.NSamples = int64(rowsTotal) * int64(nsblk)

	rd.hdr = hdr
	rd.rowBytes = rowBytes
	rd.rowsTotal = rowsTotal
	rd.nsblk = nsblk
	rd.dataOffset = dataCol.offset
	rd.dataBytes = wantBytes
	rd.rowBuf = make([]byte, rowBytes)
	return nil
}

// Header returns the canonical header reconstructed from the container.
func (rd *Reader) Header() data.Header { return rd.hdr }

// NextBlock returns up to maxSamples time steps, stitching subintegration
// rows together as needed. A short trailing row yields exactly the whole
// samples it contains. io.EOF signals a clean end of the table.
func (rd *Reader) NextBlock(maxSamples int) (*data.Block, error) {
	if rd.closed {
		return nil, io.EOF
	}
	if maxSamples <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", maxSamples)
	}

	var out *data.Block
	got := 0
	for got < maxSamples {
		if rd.leftover == nil || rd.leftOff >= rd.leftover.NSamp {
			more, err := rd.fillRow()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, err
			}
			if !more {
				break
			}
		}
		take := rd.leftover.NSamp - rd.leftOff
		if take > maxSamples-got {
			take = maxSamples - got
		}
		piece := rd.leftover.Slice(rd.leftOff, rd.leftOff+take)
		rd.leftOff += take
		got += take
		if out == nil && got == maxSamples {
			// Whole request satisfied from one row: hand the slice over
			// without copying.
			return piece, nil
		}
		if out == nil {
			out = &data.Block{NChan: rd.hdr.NChan, NPol: rd.hdr.NPol}
			if piece.Ints != nil {
				out.Ints = make([]uint32, 0, maxSamples*rd.hdr.ValuesPerSample())
			} else {
				out.Floats = make([]float32, 0, maxSamples*rd.hdr.ValuesPerSample())
			}
		}
		out.Append(piece)
	}
	if got == 0 {
		return nil, io.EOF
	}
	return out, nil
}

// fillRow reads and unpacks the next subintegration row into the leftover
// buffer. It reports false at the end of the table, and tolerates a final
// row truncated on a whole-sample boundary.
func (rd *Reader) fillRow() (bool, error) {
	if rd.rowsRead >= rd.rowsTotal {
		return false, nil
	}
	n, err := io.ReadFull(rd.src, rd.rowBuf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false, err
	}
	rd.rowsRead++
	payload := rd.rowBuf[:n]
	if n < rd.rowBytes {
		// Short trailing row: keep only the complete samples present.
		rd.rowsRead = rd.rowsTotal
		if n <= rd.dataOffset {
			return false, nil
		}
		avail := n - rd.dataOffset
		if avail > rd.dataBytes {
			avail = rd.dataBytes
		}
		stride := bitpack.Stride(rd.hdr)
		avail -= avail % stride
		if avail == 0 {
			return false, nil
		}
		payload = rd.rowBuf[rd.dataOffset : rd.dataOffset+avail]
	} else {
		payload = rd.rowBuf[rd.dataOffset : rd.dataOffset+rd.dataBytes]
	}

	block, err := bitpack.Unpack(payload, rd.hdr, binary.BigEndian)
	if err != nil {
		return false, err
	}
	rd.leftover = block
	rd.leftOff = 0
	return true, nil
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

// parseHMS converts a colon-separated sexagesimal string ("12:34:56.78" or
// "-01:02:03.4") into fractional units of its leading component.
func parseHMS(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	parts := strings.Split(s, ":")
	sign := 1
	if strings.HasPrefix(parts[0], "-") {
		sign = -1
		parts[0] = parts[0][1:]
	}
	var d, m int
	var sec float64
	var err error
	if d, err = strconv.Atoi(strings.TrimSpace(parts[0])); err != nil {
		return 0, fmt.Errorf("%w: coordinate %q", ErrNotFITS, s)
	}
	if len(parts) > 1 {
		if m, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
			return 0, fmt.Errorf("%w: coordinate %q", ErrNotFITS, s)
		}
	}
	if len(parts) > 2 {
		if sec, err = strconv.ParseFloat(strings.TrimSpace(parts[2]), 64); err != nil {
			return 0, fmt.Errorf("%w: coordinate %q", ErrNotFITS, s)
		}
	}
	return data.FromSexagesimal(sign, d, m, sec), nil
}
