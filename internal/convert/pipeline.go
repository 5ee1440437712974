package convert

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"example.com/psrconv/internal/dada"
	"example.com/psrconv/internal/data"
	"example.com/psrconv/internal/psrfits"
	"example.com/psrconv/internal/sigproc"
	"example.com/psrconv/internal/source"
)

// Format names one of the supported container flavors.
type Format string

const (
	Filterbank Format = "filterbank"
	PSRFITS    Format = "psrfits"
	DADA       Format = "dada"
)

var (
	ErrUnknownFormat = errors.New("cannot determine container format")
	ErrNoWriter      = errors.New("format has no write support")
	ErrNoReader      = errors.New("format has no read support")
)

// DetectFormat resolves a format from an explicit name or, when name is
// empty, from the path's extension.
func DetectFormat(name, path string) (Format, error) {
	switch strings.ToLower(name) {
	case "filterbank", "fil", "sigproc":
		return Filterbank, nil
	case "psrfits", "fits", "sf":
		return PSRFITS, nil
	case "dada":
		return DADA, nil
	case "":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	ext := strings.ToLower(filepath.Ext(strings.TrimSuffix(path, ".zst")))
	switch ext {
	case ".fil":
		return Filterbank, nil
	case ".sf", ".fits", ".rf":
		return PSRFITS, nil
	case ".dada":
		return DADA, nil
	}
	return "", fmt.Errorf("%w: extension %q", ErrUnknownFormat, ext)
}

// OpenSource wraps an input stream in the format's reader. The reader owns
// rc and closes it with Close.
func OpenSource(rc io.ReadCloser, format Format) (Source, error) {
	switch format {
	case Filterbank:
		return sigproc.OpenRead(rc)
	case PSRFITS:
		return psrfits.OpenRead(rc)
	case DADA:
		return nil, fmt.Errorf("%w: dada is write-only", ErrNoReader)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// OpenSink creates the output file and wraps it in the format's writer.
func OpenSink(path string, hdr data.Header, format Format, dadaBlockBytes int) (Sink, error) {
	switch format {
	case Filterbank:
		wc, err := source.Create(path)
		if err != nil {
			return nil, err
		}
		wr, err := sigproc.OpenWrite(wc, hdr)
		if err != nil {
			wc.Close()
			return nil, err
		}
		return wr, nil
	case DADA:
		if dadaBlockBytes <= 0 {
			dadaBlockBytes = 4 << 20
		}
		sink, err := dada.NewFileSink(path, dadaBlockBytes)
		if err != nil {
			return nil, err
		}
		wr, err := dada.OpenWrite(sink, hdr)
		if err != nil {
			sink.Close()
			return nil, err
		}
		return wr, nil
	case PSRFITS:
		return nil, fmt.Errorf("%w: psrfits is read-only", ErrNoWriter)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}
