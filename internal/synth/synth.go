// Package synth builds small deterministic observations for tests, examples
// and the check subcommand's self-test. The same seeded generator backs
// both container flavors, so a filterbank file and a PSRFITS file built from
// the same parameters hold identical samples.
package synth

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"

	"example.com/psrconv/internal/data"
	"example.com/psrconv/internal/sigproc"
)

const (
	// File names exposed for generator consumers.
	FilterbankFileName = "sample.fil"
	PSRFITSFileName    = "sample.sf"
)

// Params describe the synthetic observation. Zero fields fall back to the
// defaults of DefaultParams.
type Params struct {
	NChan    int
	NPol     int
	NBits    int
	NSamples int
	Seed     int64

	// PulseAt injects a boxcar pulse at the given time step across the
	// whole band; negative disables it.
	PulseAt    int
	PulseWidth int
}

// DefaultParams returns the parameters of the canonical sample observation.
func DefaultParams() Params {
	return Params{
		NChan:      64,
		NPol:       1,
		NBits:      8,
		NSamples:   256,
		Seed:       42,
		PulseAt:    128,
		PulseWidth: 4,
	}
}

// Header returns the canonical header of the synthetic observation.
func Header(p Params) data.Header {
	hdr := data.Header{
		SourceName:  "SYNTH_PSR",
		TelescopeID: 4,
		MachineID:   0,
		RADeg:       83.6331,
		DecDeg:      22.0145,
		Fch1MHz:     1500.0,
		FoffMHz:     -1.0,
		NChan:       p.NChan,
		NPol:        p.NPol,
		NBits:       p.NBits,
		Float:       p.NBits == 32,
		TsampSec:    64e-6,
		TstartMJD:   58849.5,
		NSamples:    int64(p.NSamples),
	}
	hdr, _ = data.Validate(hdr)
	return hdr
}

// Block generates the full deterministic sample block: gaussian-ish noise
// around mid-scale with a bandpass slope, plus the injected pulse.
func Block(p Params) *data.Block {
	hdr := Header(p)
	rng := rand.New(rand.NewSource(p.Seed))
	vps := hdr.ValuesPerSample()

	if hdr.Float {
		b := data.NewFloatBlock(p.NSamples, hdr.NChan, hdr.NPol)
		for t := 0; t < p.NSamples; t++ {
			for i := 0; i < vps; i++ {
				c := i % hdr.NChan
				v := 50 + 10*float32(rng.NormFloat64()) + float32(c)/8
				if inPulse(p, t) {
					v += 40
				}
				b.Floats[t*vps+i] = v
			}
		}
		return b
	}

	maxVal := uint32(1)<<hdr.NBits - 1
	mid := float64(maxVal) / 2
	spread := float64(maxVal) / 8
	b := data.NewIntBlock(p.NSamples, hdr.NChan, hdr.NPol)
	for t := 0; t < p.NSamples; t++ {
		for i := 0; i < vps; i++ {
			c := i % hdr.NChan
			v := mid + spread*rng.NormFloat64() + float64(c)*spread/float64(hdr.NChan)
			if inPulse(p, t) {
				v += 3 * spread
			}
			b.Ints[t*vps+i] = clamp(v, maxVal)
		}
	}
	return b
}

func inPulse(p Params, t int) bool {
	return p.PulseAt >= 0 && t >= p.PulseAt && t < p.PulseAt+p.PulseWidth
}

func clamp(v float64, max uint32) uint32 {
	if v < 0 {
		return 0
	}
	if v > float64(max) {
		return max
	}
	return uint32(v)
}

// BuildFilterbank renders the observation as a sigproc filterbank stream.
func BuildFilterbank(p Params) ([]byte, error) {
	var buf bytes.Buffer
	wr, err := sigproc.OpenWrite(&buf, Header(p))
	if err != nil {
		return nil, err
	}
	if err := wr.WriteBlock(Block(p)); err != nil {
		return nil, err
	}
	if err := wr.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFiles materializes the generated assets under dir.
func WriteFiles(dir string) error {
	p := DefaultParams()
	fil, err := BuildFilterbank(p)
	if err != nil {
		return err
	}
	sf, err := BuildPSRFITS(p, p.NSamples/4)
	if err != nil {
		return err
	}
	if err := writeFileIfChanged(filepath.Join(dir, FilterbankFileName), fil); err != nil {
		return err
	}
	return writeFileIfChanged(filepath.Join(dir, PSRFITSFileName), sf)
}

func writeFileIfChanged(path string, data []byte) error {
	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, data) {
		return nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
