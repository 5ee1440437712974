package check

import (
	"math"

	"example.com/psrconv/internal/data"
)

// accumulator folds per-channel running sums so a run never needs more than
// one block in memory. Polarizations of a channel are pooled.
type accumulator struct {
	nchan   int
	npol    int
	fullVal float64

	count   []int64
	sum     []float64
	sumSq   []float64
	min     []float64
	max     []float64
	clipped []int64
}

func newAccumulator(hdr data.Header) *accumulator {
	a := &accumulator{
		nchan:   hdr.NChan,
		npol:    hdr.NPol,
		count:   make([]int64, hdr.NChan),
		sum:     make([]float64, hdr.NChan),
		sumSq:   make([]float64, hdr.NChan),
		min:     make([]float64, hdr.NChan),
		max:     make([]float64, hdr.NChan),
		clipped: make([]int64, hdr.NChan),
	}
	if !hdr.Float {
		a.fullVal = float64(uint64(1)<<hdr.NBits - 1)
	}
	for i := range a.min {
		a.min[i] = math.Inf(1)
		a.max[i] = math.Inf(-1)
	}
	return a
}

func (a *accumulator) add(b *data.Block) {
	vps := b.ValuesPerSample()
	for t := 0; t < b.NSamp; t++ {
		base := t * vps
		for i := 0; i < vps; i++ {
			c := i % a.nchan
			var v float64
			if b.Floats != nil {
				v = float64(b.Floats[base+i])
			} else {
				v = float64(b.Ints[base+i])
				if a.fullVal > 0 && v == a.fullVal {
					a.clipped[c]++
				}
			}
			a.count[c]++
			a.sum[c] += v
			a.sumSq[c] += v * v
			if v < a.min[c] {
				a.min[c] = v
			}
			if v > a.max[c] {
				a.max[c] = v
			}
		}
	}
}

func (a *accumulator) channelStats(hdr data.Header) []ChannelStat {
	out := make([]ChannelStat, a.nchan)
	for c := 0; c < a.nchan; c++ {
		cs := ChannelStat{
			Channel: c,
			FreqMHz: hdr.Fch1MHz + hdr.FoffMHz*float64(c),
		}
		if n := float64(a.count[c]); n > 0 {
			cs.Mean = a.sum[c] / n
			variance := a.sumSq[c]/n - cs.Mean*cs.Mean
			if variance > 0 {
				cs.StdDev = math.Sqrt(variance)
			}
			cs.Min = a.min[c]
			cs.Max = a.max[c]
		}
		out[c] = cs
	}
	return out
}
