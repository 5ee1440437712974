package data

import (
	"errors"
	"math"
	"testing"
)

func TestValidate(t *testing.T) {
	base := Header{NChan: 64, NPol: 1, NBits: 8, TsampSec: 64e-6}
	tests := []struct {
		name    string
		mutate  func(h *Header)
		wantErr error
	}{
		{name: "valid", mutate: func(h *Header) {}},
		{name: "zero npol normalized", mutate: func(h *Header) { h.NPol = 0 }},
		{name: "dual pol", mutate: func(h *Header) { h.NPol = 2 }},
		{name: "full stokes", mutate: func(h *Header) { h.NPol = 4 }},
		{name: "three pols", mutate: func(h *Header) { h.NPol = 3 }, wantErr: ErrInvalidPolarizationCount},
		{name: "no channels", mutate: func(h *Header) { h.NChan = 0 }, wantErr: ErrInvalidChannelCount},
		{name: "negative channels", mutate: func(h *Header) { h.NChan = -4 }, wantErr: ErrInvalidChannelCount},
		{name: "odd bit depth", mutate: func(h *Header) { h.NBits = 3 }, wantErr: ErrUnsupportedBitDepth},
		{name: "64 bit", mutate: func(h *Header) { h.NBits = 64 }, wantErr: ErrUnsupportedBitDepth},
		{name: "float at 32", mutate: func(h *Header) { h.Float = true; h.NBits = 32 }},
		{name: "float at 8", mutate: func(h *Header) { h.Float = true }, wantErr: ErrUnsupportedBitDepth},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := base
			tc.mutate(&h)
			got, err := Validate(h)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Validate error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if got.NPol == 0 {
				t.Fatalf("NPol not normalized")
			}
			again, err := Validate(got)
			if err != nil {
				t.Fatalf("Validate twice: %v", err)
			}
			if again.NPol != got.NPol || again.NChan != got.NChan {
				t.Fatalf("validation not idempotent: %+v vs %+v", again, got)
			}
		})
	}
}

func TestFrequencyDerivations(t *testing.T) {
	h := Header{NChan: 4, NPol: 1, NBits: 8, Fch1MHz: 1500, FoffMHz: -1}
	if got := h.CenterFreqMHz(); got != 1498.5 {
		t.Fatalf("CenterFreqMHz = %v, want 1498.5", got)
	}
	if got := h.BandwidthMHz(); got != -4 {
		t.Fatalf("BandwidthMHz = %v, want -4", got)
	}
	if got := h.ValuesPerSample(); got != 4 {
		t.Fatalf("ValuesPerSample = %d, want 4", got)
	}
}

func TestSexagesimalRoundTrip(t *testing.T) {
	tests := []float64{0, 12.5, -45.25, 83.6331, -0.5, 359.9999}
	for _, angle := range tests {
		sign, d, m, s := Sexagesimal(angle)
		got := FromSexagesimal(sign, d, m, s)
		if math.Abs(got-angle) > 1e-9 {
			t.Fatalf("round trip %v -> %v", angle, got)
		}
	}
}

func TestSexagesimalRollover(t *testing.T) {
	// 29.99999999999 degrees has seconds arbitrarily close to 60.
	sign, d, m, s := Sexagesimal(30 - 1e-12)
	if sign != 1 || d != 30 || m != 0 || s != 0 {
		t.Fatalf("rollover: got sign=%d d=%d m=%d s=%v", sign, d, m, s)
	}
}

func TestMJDSplitJoin(t *testing.T) {
	mjd := 58849.52430555
	days, sec := MJDSplit(mjd)
	if days != 58849 {
		t.Fatalf("days = %d", days)
	}
	if got := MJDJoin(days, sec); math.Abs(got-mjd) > 1e-9 {
		t.Fatalf("join = %v, want %v", got, mjd)
	}
}

func TestCanonicalFieldsOrder(t *testing.T) {
	h := Header{NChan: 8, NPol: 1, NBits: 8}
	fields := h.CanonicalFields()
	if len(fields) == 0 || fields[0].Name != "source_name" {
		t.Fatalf("unexpected leading field: %+v", fields)
	}
	seen := make(map[string]bool)
	for _, f := range fields {
		if seen[f.Name] {
			t.Fatalf("duplicate field %s", f.Name)
		}
		seen[f.Name] = true
	}
}
