// Package sigproc reads and writes sigproc filterbank streams: a binary
// keyword header bracketed by HEADER_START/HEADER_END markers followed by a
// raw packed-sample stream. The keyword encoding (int32 length-prefixed
// strings, little-endian numerics) matches the sigproc convention
// byte-for-byte for interoperability with existing pulsar tooling.
//
// The header carries no type tags, so the width of a value is known only
// through the keyword table below. A keyword outside the table is a hard
// ErrUnknownKeyword: its value cannot be read or even skipped without losing
// the offset of the sample stream. Keywords the table knows but the canonical
// header does not model are carried through in Header.Extra.
package sigproc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	headerStart = "HEADER_START"
	headerEnd   = "HEADER_END"

	// Sanity cap on keyword string lengths; real sigproc keywords are short.
	maxKeywordLen = 128

	dataTypeFilterbank = 1
)

var (
	ErrNotFilterbank  = errors.New("stream does not begin with a sigproc header")
	ErrUnknownKeyword = errors.New("unknown sigproc header keyword")
)

type keywordKind int

const (
	kindInt keywordKind = iota
	kindDouble
	kindString
	kindByte
)

// keywordKinds drives both parsing and skipping. Sigproc headers carry no
// type tags, so a keyword outside this table cannot even be skipped.
var keywordKinds = map[string]keywordKind{
	"machine_id":    kindInt,
	"telescope_id":  kindInt,
	"data_type":     kindInt,
	"barycentric":   kindInt,
	"pulsarcentric": kindInt,
	"nbits":         kindInt,
	"nchans":        kindInt,
	"nifs":          kindInt,
	"nbeams":        kindInt,
	"ibeam":         kindInt,
	"nsamples":      kindInt,
	"tsamp":         kindDouble,
	"tstart":        kindDouble,
	"fch1":          kindDouble,
	"foff":          kindDouble,
	"az_start":      kindDouble,
	"za_start":      kindDouble,
	"src_raj":       kindDouble,
	"src_dej":       kindDouble,
	"refdm":         kindDouble,
	"period":        kindDouble,
	"source_name":   kindString,
	"rawdatafile":   kindString,
	"signed":        kindByte,
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readInt(r io.Reader) (int, error) {
	v, err := readUint32(r)
	return int(int32(v)), err
}

func readDouble(r io.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if n == 0 || n > maxKeywordLen {
		return "", fmt.Errorf("%w: string length %d", ErrNotFilterbank, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return "", err
	}
	return string(buf), nil
}

func writeInt(w io.Writer, v int) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(int32(v)))
	_, err := w.Write(buf[:])
	return err
}

func writeDouble(w io.Writer, v float64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	_, err := w.Write(buf[:])
	return err
}

func writeString(w io.Writer, s string) error {
	if err := writeInt(w, len(s)); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeKeywordInt(w io.Writer, name string, v int) error {
	if err := writeString(w, name); err != nil {
		return err
	}
	return writeInt(w, v)
}

func writeKeywordDouble(w io.Writer, name string, v float64) error {
	if err := writeString(w, name); err != nil {
		return err
	}
	return writeDouble(w, v)
}

func writeKeywordString(w io.Writer, name, v string) error {
	if err := writeString(w, name); err != nil {
		return err
	}
	return writeString(w, v)
}

// sigprocAngle packs a sexagesimal angle into sigproc's ddmmss.s double
// encoding (12h34m56.7s becomes 123456.7).
func sigprocAngle(sign int, d, m int, s float64) float64 {
	v := float64(d)*1e4 + float64(m)*1e2 + s
	if sign < 0 {
		v = -v
	}
	return v
}

// splitSigprocAngle is the inverse of sigprocAngle.
func splitSigprocAngle(v float64) (sign int, d, m int, s float64) {
	sign = 1
	if v < 0 {
		sign = -1
		v = -v
	}
	d = int(v / 1e4)
	v -= float64(d) * 1e4
	m = int(v / 1e2)
	s = v - float64(m)*1e2
	return sign, d, m, s
}
