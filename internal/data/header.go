package data

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnsupportedBitDepth      = errors.New("unsupported bit depth")
	ErrInvalidChannelCount      = errors.New("channel count must be positive")
	ErrInvalidPolarizationCount = errors.New("polarization count must be 1, 2 or 4")
)

// SupportedBitDepths lists the on-wire sample widths the codec can pack and
// unpack, in bits.
var SupportedBitDepths = []int{1, 2, 4, 8, 16, 32}

// Header is the canonical, format-agnostic description of a time-series
// observation. Every reader fills one in, every writer serializes from one.
// After Validate it is treated as immutable for the life of a conversion.
type Header struct {
	SourceName  string
	TelescopeID int
	MachineID   int

	// J2000 source coordinates in degrees.
	RADeg  float64
	DecDeg float64

	// Fch1MHz is the center frequency of the first channel; FoffMHz is the
	// signed channel bandwidth (negative when the band is stored in
	// descending frequency order, the common sigproc convention).
	Fch1MHz float64
	FoffMHz float64

	NChan int
	NPol  int
	NBits int

	// Float marks 32-bit IEEE floating point samples. Integer samples are
	// unsigned and zero-extended to the canonical width.
	Float bool

	TsampSec  float64
	TstartMJD float64

	// NSamples is the sample count the container metadata declares, 0 for
	// open-ended streams. A truncated container can deliver fewer samples
	// than declared; readers report what the stream actually holds and the
	// stream.length check flags the gap.
	NSamples int64

	// Extra holds recognized but non-canonical header keywords carried
	// through for provenance. It never affects canonical fields.
	Extra map[string]string
}

// CenterFreqMHz returns the frequency at the midpoint of the band.
func (h Header) CenterFreqMHz() float64 {
	return h.Fch1MHz + h.FoffMHz*float64(h.NChan-1)/2
}

// BandwidthMHz returns the signed total bandwidth.
func (h Header) BandwidthMHz() float64 {
	return h.FoffMHz * float64(h.NChan)
}

// ValuesPerSample returns the number of canonical values in one time step.
func (h Header) ValuesPerSample() int {
	return h.NChan * h.NPol
}

// Validate checks the header invariants and returns a normalized copy.
// Validation is idempotent: validating an already valid header returns an
// equal header.
func Validate(h Header) (Header, error) {
	if h.NChan <= 0 {
		return h, fmt.Errorf("%w: nchan=%d", ErrInvalidChannelCount, h.NChan)
	}
	supported := false
	for _, b := range SupportedBitDepths {
		if h.NBits == b {
			supported = true
			break
		}
	}
	if !supported {
		return h, fmt.Errorf("%w: nbits=%d", ErrUnsupportedBitDepth, h.NBits)
	}
	if h.Float && h.NBits != 32 {
		return h, fmt.Errorf("%w: floating point requires nbits=32, got %d", ErrUnsupportedBitDepth, h.NBits)
	}
	switch h.NPol {
	case 0:
		h.NPol = 1
	case 1, 2, 4:
	default:
		return h, fmt.Errorf("%w: npol=%d", ErrInvalidPolarizationCount, h.NPol)
	}
	return h, nil
}

// Field is one canonical header entry. CanonicalFields keeps a stable order
// so writers and reports render deterministically.
type Field struct {
	Name  string
	Value any
}

// CanonicalFields returns the ordered canonical view of the header.
func (h Header) CanonicalFields() []Field {
	return []Field{
		{"source_name", h.SourceName},
		{"telescope_id", h.TelescopeID},
		{"machine_id", h.MachineID},
		{"ra_deg", h.RADeg},
		{"dec_deg", h.DecDeg},
		{"fch1_mhz", h.Fch1MHz},
		{"foff_mhz", h.FoffMHz},
		{"center_freq_mhz", h.CenterFreqMHz()},
		{"bandwidth_mhz", h.BandwidthMHz()},
		{"nchan", h.NChan},
		{"npol", h.NPol},
		{"nbits", h.NBits},
		{"float", h.Float},
		{"tsamp_sec", h.TsampSec},
		{"tstart_mjd", h.TstartMJD},
		{"nsamples", h.NSamples},
	}
}

// RAToHours converts the right ascension to fractional hours.
func (h Header) RAToHours() float64 { return h.RADeg / 15 }

// Sexagesimal splits an angle in degrees (or hours, if the caller divides by
// 15 first) into sign, whole degrees, minutes and fractional seconds.
func Sexagesimal(angle float64) (sign int, d, m int, s float64) {
	sign = 1
	if angle < 0 {
		sign = -1
		angle = -angle
	}
	d = int(angle)
	rem := (angle - float64(d)) * 60
	m = int(rem)
	s = (rem - float64(m)) * 60
	// Guard against 59.9999... rolling over during formatting.
	if s >= 60-1e-9 {
		s = 0
		m++
	}
	if m >= 60 {
		m = 0
		d++
	}
	return sign, d, m, s
}

// FromSexagesimal rebuilds a fractional angle from its components.
func FromSexagesimal(sign int, d, m int, s float64) float64 {
	v := float64(d) + float64(m)/60 + s/3600
	if sign < 0 {
		v = -v
	}
	return v
}

// MJDSplit separates a modified Julian date into whole days and seconds of
// day, the representation PSRFITS uses for start times.
func MJDSplit(mjd float64) (days int64, sec float64) {
	days = int64(math.Floor(mjd))
	sec = (mjd - float64(days)) * 86400
	return days, sec
}

// MJDJoin is the inverse of MJDSplit.
func MJDJoin(days int64, sec float64) float64 {
	return float64(days) + sec/86400
}
