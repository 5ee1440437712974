package synth

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"example.com/psrconv/internal/bitpack"
	"example.com/psrconv/internal/data"
)

const fitsRecord = 2880

// cardWriter accumulates 80-byte FITS header cards and pads the unit.
type cardWriter struct {
	buf bytes.Buffer
}

func (cw *cardWriter) card(key, value, comment string) {
	line := fmt.Sprintf("%-8s= %20s", key, value)
	if comment != "" {
		line += " / " + comment
	}
	if len(line) > 80 {
		line = line[:80]
	}
	cw.buf.WriteString(fmt.Sprintf("%-80s", line))
}

func (cw *cardWriter) str(key, value string) {
	cw.card(key, fmt.Sprintf("'%-8s'", value), "")
}

func (cw *cardWriter) logical(key string, v bool) {
	s := "F"
	if v {
		s = "T"
	}
	cw.card(key, s, "")
}

func (cw *cardWriter) intCard(key string, v int64) {
	cw.card(key, fmt.Sprintf("%d", v), "")
}

func (cw *cardWriter) floatCard(key string, v float64) {
	cw.card(key, fmt.Sprintf("%.12G", v), "")
}

func (cw *cardWriter) end() []byte {
	cw.buf.WriteString(fmt.Sprintf("%-80s", "END"))
	for cw.buf.Len()%fitsRecord != 0 {
		cw.buf.WriteByte(' ')
	}
	return cw.buf.Bytes()
}

// BuildPSRFITS renders the observation as a search-mode PSRFITS container
// with nsblk samples per subintegration row. A sample count that does not
// divide evenly produces a short trailing row, the shape real files have.
func BuildPSRFITS(p Params, nsblk int) ([]byte, error) {
	hdr := Header(p)
	block := Block(p)
	if nsblk <= 0 {
		nsblk = p.NSamples
	}

	stride := bitpack.Stride(hdr)
	nrows := (p.NSamples + nsblk - 1) / nsblk
	dataBytes := nsblk * stride
	// Row layout: TSUBINT (1D), OFFS_SUB (1D), DATA.
	rowBytes := 16 + dataBytes

	var out bytes.Buffer
	out.Write(primaryHeader(hdr))
	out.Write(subintHeader(hdr, nsblk, nrows, rowBytes, dataBytes))

	for r := 0; r < nrows; r++ {
		from := r * nsblk
		to := from + nsblk
		if to > p.NSamples {
			to = p.NSamples
		}
		packed, err := bitpack.Pack(block.Slice(from, to), hdr, binary.BigEndian)
		if err != nil {
			return nil, err
		}

		var scratch [8]byte
		tsub := float64(to-from) * hdr.TsampSec
		binary.BigEndian.PutUint64(scratch[:], math.Float64bits(tsub))
		out.Write(scratch[:])
		offs := (float64(from) + float64(to-from)/2) * hdr.TsampSec
		binary.BigEndian.PutUint64(scratch[:], math.Float64bits(offs))
		out.Write(scratch[:])

		out.Write(packed)
	}
	// The trailing row is left short on a whole-sample boundary; the record
	// padding below is what a truncated recording lacks, so skip it there
	// only when the final row came out full.
	if p.NSamples%nsblk == 0 {
		for out.Len()%fitsRecord != 0 {
			out.WriteByte(0)
		}
	}
	return out.Bytes(), nil
}

func primaryHeader(hdr data.Header) []byte {
	var cw cardWriter
	cw.logical("SIMPLE", true)
	cw.intCard("BITPIX", 8)
	cw.intCard("NAXIS", 0)
	cw.str("TELESCOP", "PARKES")
	cw.str("BACKEND", "SYNTH")
	cw.str("SRC_NAME", hdr.SourceName)

	sign, d, m, s := data.Sexagesimal(hdr.RAToHours())
	cw.str("RA", fmt.Sprintf("%02d:%02d:%07.4f", d, m, s))
	sign, d, m, s = data.Sexagesimal(hdr.DecDeg)
	pre := ""
	if sign < 0 {
		pre = "-"
	}
	cw.str("DEC", fmt.Sprintf("%s%02d:%02d:%07.4f", pre, d, m, s))

	cw.floatCard("OBSFREQ", hdr.CenterFreqMHz())
	cw.floatCard("OBSBW", hdr.BandwidthMHz())
	cw.intCard("OBSNCHAN", int64(hdr.NChan))

	days, sec := data.MJDSplit(hdr.TstartMJD)
	cw.intCard("STT_IMJD", days)
	cw.floatCard("STT_SMJD", math.Floor(sec))
	cw.floatCard("STT_OFFS", sec-math.Floor(sec))
	return cw.end()
}

func subintHeader(hdr data.Header, nsblk, nrows, rowBytes, dataBytes int) []byte {
	var cw cardWriter
	cw.str("XTENSION", "BINTABLE")
	cw.intCard("BITPIX", 8)
	cw.intCard("NAXIS", 2)
	cw.intCard("NAXIS1", int64(rowBytes))
	cw.intCard("NAXIS2", int64(nrows))
	cw.intCard("PCOUNT", 0)
	cw.intCard("GCOUNT", 1)
	cw.intCard("TFIELDS", 3)
	cw.str("EXTNAME", "SUBINT")

	cw.str("TTYPE1", "TSUBINT")
	cw.str("TFORM1", "1D")
	cw.str("TTYPE2", "OFFS_SUB")
	cw.str("TFORM2", "1D")
	cw.str("TTYPE3", "DATA")
	switch {
	case hdr.Float:
		cw.str("TFORM3", fmt.Sprintf("%dE", dataBytes/4))
	case hdr.NBits == 16:
		cw.str("TFORM3", fmt.Sprintf("%dI", dataBytes/2))
	default:
		cw.str("TFORM3", fmt.Sprintf("%dB", dataBytes))
	}

	cw.intCard("NBITS", int64(hdr.NBits))
	cw.intCard("NCHAN", int64(hdr.NChan))
	cw.intCard("NPOL", int64(hdr.NPol))
	cw.floatCard("TBIN", hdr.TsampSec)
	cw.intCard("NSBLK", int64(nsblk))
	cw.str("POL_TYPE", polType(hdr.NPol))
	return cw.end()
}

func polType(npol int) string {
	switch npol {
	case 2:
		return "AABB"
	case 4:
		return "IQUV"
	default:
		return "INTEN"
	}
}
