package convert

import (
	"bytes"
	"errors"
	"testing"

	"example.com/psrconv/internal/data"
	"example.com/psrconv/internal/sigproc"
	"example.com/psrconv/internal/synth"
)

func convertFilterbank(t *testing.T, p synth.Params, nbits, blockSamples int) []byte {
	t.Helper()
	fil, err := synth.BuildFilterbank(p)
	if err != nil {
		t.Fatalf("BuildFilterbank: %v", err)
	}
	src, err := sigproc.OpenRead(bytes.NewReader(fil))
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer src.Close()

	oh, err := OutputHeader(src.Header(), nbits)
	if err != nil {
		t.Fatalf("OutputHeader: %v", err)
	}
	var out bytes.Buffer
	sink, err := sigproc.OpenWrite(&out, oh)
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	res, err := Run(src, sink, Options{BlockSamples: blockSamples})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("sink Close: %v", err)
	}
	if res.Samples != int64(p.NSamples) {
		t.Fatalf("converted %d samples, want %d", res.Samples, p.NSamples)
	}
	return out.Bytes()
}

func TestRequantizeKeepsLowBits(t *testing.T) {
	p := synth.DefaultParams()
	out := convertFilterbank(t, p, 2, 0)

	rd, err := sigproc.OpenRead(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("OpenRead output: %v", err)
	}
	defer rd.Close()
	if got := rd.Header().NBits; got != 2 {
		t.Fatalf("output nbits = %d, want 2", got)
	}

	want := synth.Block(p)
	b, err := rd.NextBlock(p.NSamples)
	if err != nil {
		t.Fatalf("NextBlock: %v", err)
	}
	for i := range want.Ints {
		if b.Ints[i] != want.Ints[i]&0x3 {
			t.Fatalf("value %d: got %d, want %d", i, b.Ints[i], want.Ints[i]&0x3)
		}
	}
}

func TestOutputIndependentOfBlockSize(t *testing.T) {
	p := synth.DefaultParams()
	small := convertFilterbank(t, p, 4, 1)
	large := convertFilterbank(t, p, 4, 10000)
	if !bytes.Equal(small, large) {
		t.Fatalf("output depends on block size: %d vs %d bytes", len(small), len(large))
	}
}

func TestIdentityConversionKeepsSamples(t *testing.T) {
	p := synth.DefaultParams()
	out := convertFilterbank(t, p, 0, 97)

	rd, err := sigproc.OpenRead(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("OpenRead output: %v", err)
	}
	defer rd.Close()
	want := synth.Block(p)
	b, err := rd.NextBlock(p.NSamples)
	if err != nil {
		t.Fatalf("NextBlock: %v", err)
	}
	if b.NSamp != p.NSamples {
		t.Fatalf("NSamp = %d, want %d", b.NSamp, p.NSamples)
	}
	for i := range want.Ints {
		if b.Ints[i] != want.Ints[i] {
			t.Fatalf("value %d: got %d, want %d", i, b.Ints[i], want.Ints[i])
		}
	}
}

func TestOutputHeader(t *testing.T) {
	intHdr, _ := data.Validate(data.Header{NChan: 8, NPol: 1, NBits: 8})
	floatHdr, _ := data.Validate(data.Header{NChan: 8, NPol: 1, NBits: 32, Float: true})

	tests := []struct {
		name    string
		src     data.Header
		nbits   int
		want    int
		wantErr error
	}{
		{name: "keep depth", src: intHdr, nbits: 0, want: 8},
		{name: "same depth", src: intHdr, nbits: 8, want: 8},
		{name: "narrow", src: intHdr, nbits: 2, want: 2},
		{name: "widen", src: intHdr, nbits: 16, want: 16},
		{name: "int to 32", src: intHdr, nbits: 32, want: 32},
		{name: "float kept", src: floatHdr, nbits: 0, want: 32},
		{name: "float requantize", src: floatHdr, nbits: 8, wantErr: ErrFloatRequantize},
		{name: "bad depth", src: intHdr, nbits: 7, wantErr: data.ErrUnsupportedBitDepth},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := OutputHeader(tc.src, tc.nbits)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("OutputHeader error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("OutputHeader: %v", err)
			}
			if got.NBits != tc.want {
				t.Fatalf("NBits = %d, want %d", got.NBits, tc.want)
			}
			if got.Float != tc.src.Float {
				t.Fatalf("Float flipped: %v", got.Float)
			}
		})
	}
}

func TestKindChangeRejected(t *testing.T) {
	p := synth.DefaultParams()
	fil, err := synth.BuildFilterbank(p)
	if err != nil {
		t.Fatalf("BuildFilterbank: %v", err)
	}
	src, err := sigproc.OpenRead(bytes.NewReader(fil))
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer src.Close()

	floatHdr, _ := data.Validate(data.Header{
		NChan: src.Header().NChan, NPol: 1, NBits: 32, Float: true,
	})
	var out bytes.Buffer
	sink, err := sigproc.OpenWrite(&out, floatHdr)
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	defer sink.Close()
	if _, err := Run(src, sink, Options{}); !errors.Is(err, ErrKindChange) {
		t.Fatalf("Run error = %v, want ErrKindChange", err)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name, path string
		want       Format
		wantErr    bool
	}{
		{name: "filterbank", want: Filterbank},
		{name: "fil", want: Filterbank},
		{name: "sigproc", want: Filterbank},
		{name: "psrfits", want: PSRFITS},
		{name: "fits", want: PSRFITS},
		{name: "sf", want: PSRFITS},
		{name: "dada", want: DADA},
		{name: "", path: "obs.fil", want: Filterbank},
		{name: "", path: "obs.sf", want: PSRFITS},
		{name: "", path: "obs.fits", want: PSRFITS},
		{name: "", path: "obs.rf", want: PSRFITS},
		{name: "", path: "obs.dada", want: DADA},
		{name: "", path: "obs.fil.zst", want: Filterbank},
		{name: "", path: "obs.sf.zst", want: PSRFITS},
		{name: "", path: "obs.dat", wantErr: true},
		{name: "hdf5", wantErr: true},
		{name: "", path: "obs", wantErr: true},
	}
	for _, tc := range tests {
		got, err := DetectFormat(tc.name, tc.path)
		if tc.wantErr {
			if !errors.Is(err, ErrUnknownFormat) {
				t.Fatalf("DetectFormat(%q, %q) error = %v, want ErrUnknownFormat", tc.name, tc.path, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("DetectFormat(%q, %q): %v", tc.name, tc.path, err)
		}
		if got != tc.want {
			t.Fatalf("DetectFormat(%q, %q) = %q, want %q", tc.name, tc.path, got, tc.want)
		}
	}
}

func TestFormatSupportMatrix(t *testing.T) {
	if _, err := OpenSource(nil, DADA); !errors.Is(err, ErrNoReader) {
		t.Fatalf("OpenSource(dada) error = %v, want ErrNoReader", err)
	}
	hdr, _ := data.Validate(data.Header{NChan: 8, NPol: 1, NBits: 8})
	if _, err := OpenSink("unused", hdr, PSRFITS, 0); !errors.Is(err, ErrNoWriter) {
		t.Fatalf("OpenSink(psrfits) error = %v, want ErrNoWriter", err)
	}
}
