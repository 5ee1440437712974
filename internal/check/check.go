// Package check runs data-quality diagnostics over an observation: header
// sanity, frequency axis coherence, declared-versus-streamed sample counts
// and per-channel bandpass statistics. Findings are plain records that
// serialize to NDJSON for machine consumption and roll up into a pass/fail
// summary.
package check

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"gonum.org/v1/gonum/stat"

	"example.com/psrconv/internal/data"
)

type Severity string

const (
	ERROR Severity = "ERROR"
	WARN  Severity = "WARN"
	INFO  Severity = "INFO"
)

type Diagnostic struct {
	Ts       time.Time `json:"ts"`
	File     string    `json:"file"`
	CheckId  string    `json:"checkId"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Channel  int       `json:"channel,omitempty"`
}

type Report struct {
	Summary struct {
		Total    int  `json:"total"`
		Errors   int  `json:"errors"`
		Warnings int  `json:"warnings"`
		Pass     bool `json:"pass"`
	} `json:"summary"`
	Bandpass []ChannelStat `json:"bandpass,omitempty"`
	Findings []Diagnostic  `json:"findings,omitempty"`
}

// ChannelStat is the accumulated statistics of one frequency channel,
// summed over polarizations.
type ChannelStat struct {
	Channel int     `json:"channel"`
	FreqMHz float64 `json:"freqMhz"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Source is the streaming input a check run consumes; any format reader
// satisfies it.
type Source interface {
	Header() data.Header
	NextBlock(maxSamples int) (*data.Block, error)
	Close() error
}

// Options tune a check run. The zero value applies the defaults below.
type Options struct {
	// BlockSamples is the number of time steps examined per iteration.
	BlockSamples int
	// ClipFractionWarn flags a channel when this fraction of its integer
	// values sits at full scale.
	ClipFractionWarn float64
	// RippleWarn flags the band when the relative spread of channel means
	// exceeds this ratio.
	RippleWarn float64
}

func (o *Options) applyDefaults() {
	if o.BlockSamples <= 0 {
		o.BlockSamples = 4096
	}
	if o.ClipFractionWarn <= 0 {
		o.ClipFractionWarn = 0.05
	}
	if o.RippleWarn <= 0 {
		o.RippleWarn = 0.5
	}
}

// Run streams the whole observation through the diagnostic set. The source
// is not closed.
func Run(src Source, file string, opts Options) (*Report, error) {
	opts.applyDefaults()
	hdr := src.Header()

	rep := &Report{}
	add := func(id string, sev Severity, channel int, format string, args ...any) {
		rep.Findings = append(rep.Findings, Diagnostic{
			Ts: time.Now(), File: file, CheckId: id,
			Severity: sev, Channel: channel,
			Message: fmt.Sprintf(format, args...),
		})
	}

	checkHeader(hdr, add)

	acc := newAccumulator(hdr)
	var streamed int64
	for {
		b, err := src.NextBlock(opts.BlockSamples)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			add("stream.read", ERROR, 0, "read failed after %d samples: %v", streamed, err)
			break
		}
		acc.add(b)
		streamed += int64(b.NSamp)
	}

	if hdr.NSamples > 0 && streamed != hdr.NSamples {
		add("stream.length", WARN, 0,
			"header declares %d samples, stream held %d", hdr.NSamples, streamed)
	} else {
		add("stream.length", INFO, 0, "streamed %d samples", streamed)
	}

	if streamed > 0 {
		rep.Bandpass = acc.channelStats(hdr)
		checkBandpass(hdr, rep.Bandpass, acc, streamed, opts, add)
	}

	for _, d := range rep.Findings {
		switch d.Severity {
		case ERROR:
			rep.Summary.Errors++
		case WARN:
			rep.Summary.Warnings++
		}
	}
	rep.Summary.Total = len(rep.Findings)
	rep.Summary.Pass = rep.Summary.Errors == 0
	return rep, nil
}

type addFunc func(id string, sev Severity, channel int, format string, args ...any)

func checkHeader(hdr data.Header, add addFunc) {
	if _, err := data.Validate(hdr); err != nil {
		add("header.valid", ERROR, 0, "header invalid: %v", err)
	} else {
		add("header.valid", INFO, 0, "nchan=%d npol=%d nbits=%d", hdr.NChan, hdr.NPol, hdr.NBits)
	}
	if hdr.FoffMHz == 0 {
		add("freq.axis", ERROR, 0, "channel bandwidth is zero")
	} else if hdr.Fch1MHz <= 0 {
		add("freq.axis", WARN, 0, "first channel frequency %.3f MHz is not positive", hdr.Fch1MHz)
	} else {
		add("freq.axis", INFO, 0, "band %.3f..%.3f MHz",
			hdr.Fch1MHz, hdr.Fch1MHz+hdr.FoffMHz*float64(hdr.NChan-1))
	}
	if hdr.TsampSec <= 0 {
		add("time.tsamp", ERROR, 0, "sampling interval %g s is not positive", hdr.TsampSec)
	}
	if hdr.TstartMJD < 40000 || hdr.TstartMJD > 80000 {
		add("time.tstart", WARN, 0, "start MJD %.6f is outside the plausible range", hdr.TstartMJD)
	}
}

func checkBandpass(hdr data.Header, stats []ChannelStat, acc *accumulator, streamed int64, opts Options, add addFunc) {
	means := make([]float64, len(stats))
	dead := 0
	for i, cs := range stats {
		means[i] = cs.Mean
		if cs.Max == 0 {
			dead++
			add("bandpass.dead", WARN, cs.Channel, "channel %d is all zeros", cs.Channel)
		}
	}
	if dead == 0 {
		add("bandpass.dead", INFO, 0, "no dead channels")
	}

	if !hdr.Float {
		full := float64(uint64(1)<<hdr.NBits - 1)
		perChan := float64(streamed) * float64(hdr.NPol)
		for c, n := range acc.clipped {
			frac := float64(n) / perChan
			if frac > opts.ClipFractionWarn {
				add("bandpass.clipped", WARN, c,
					"channel %d has %.1f%% of values at full scale %g", c, frac*100, full)
			}
		}
	}

	mean := stat.Mean(means, nil)
	sd := stat.StdDev(means, nil)
	if mean != 0 && sd/mean > opts.RippleWarn {
		add("bandpass.ripple", WARN, 0,
			"channel mean spread %.3f exceeds %.2f of band mean %.3f", sd, opts.RippleWarn, mean)
	} else {
		add("bandpass.ripple", INFO, 0, "band mean %.3f, spread %.3f", mean, sd)
	}
}

// WriteNDJSON emits one finding per line.
func (r *Report) WriteNDJSON(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, d := range r.Findings {
		b, err := json.Marshal(d)
		if err != nil {
			return err
		}
		bw.Write(b)
		bw.WriteString("\n")
	}
	return bw.Flush()
}
