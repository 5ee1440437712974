// Package psrfits reads PSRFITS search-mode containers: a FITS primary
// header followed by a SUBINT binary table whose rows each hold many time
// samples. The reader streams rows sequentially and restitches them into
// caller-sized blocks, so consumers never see subintegration boundaries.
// Write support is deliberately absent.
package psrfits

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	recordSize = 2880
	cardSize   = 80
)

var (
	ErrNotFITS           = errors.New("stream is not a FITS container")
	ErrNoSubintTable     = errors.New("no SUBINT binary table in container")
	ErrUnsupportedLayout = errors.New("unsupported SUBINT data layout")
)

// headerUnit is one parsed FITS header: the card keywords of a single HDU.
type headerUnit struct {
	cards map[string]string
}

// readHeaderUnit consumes whole 2880-byte records until the END card.
func readHeaderUnit(r io.Reader) (*headerUnit, error) {
	unit := &headerUnit{cards: make(map[string]string)}
	rec := make([]byte, recordSize)
	for {
		if _, err := io.ReadFull(r, rec); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: header record truncated", ErrNotFITS)
			}
			return nil, err
		}
		for off := 0; off < recordSize; off += cardSize {
			card := rec[off : off+cardSize]
			key := strings.TrimRight(string(card[:8]), " ")
			if key == "END" {
				return unit, nil
			}
			if key == "" || key == "COMMENT" || key == "HISTORY" {
				continue
			}
			if card[8] != '=' {
				continue
			}
			unit.cards[key] = strings.TrimSpace(string(card[9:]))
		}
	}
}

// str returns a FITS string value with quotes and trailing blanks removed.
func (u *headerUnit) str(key string) (string, bool) {
	raw, ok := u.cards[key]
	if !ok {
		return "", false
	}
	if i := strings.IndexByte(raw, '/'); i >= 0 && !strings.HasPrefix(raw, "'") {
		raw = strings.TrimSpace(raw[:i])
	}
	if strings.HasPrefix(raw, "'") {
		end := strings.LastIndexByte(raw[1:], '\'')
		if end < 0 {
			return "", false
		}
		return strings.TrimRight(raw[1:1+end], " "), true
	}
	return raw, true
}

func (u *headerUnit) numeric(key string) (string, bool) {
	raw, ok := u.cards[key]
	if !ok {
		return "", false
	}
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw), true
}

func (u *headerUnit) int64Value(key string) (int64, error) {
	raw, ok := u.numeric(key)
	if !ok {
		return 0, fmt.Errorf("%w: missing %s card", ErrNotFITS, key)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrNotFITS, key, raw)
	}
	return v, nil
}

func (u *headerUnit) intValue(key string) (int, error) {
	v, err := u.int64Value(key)
	return int(v), err
}

func (u *headerUnit) floatValue(key string) (float64, error) {
	raw, ok := u.numeric(key)
	if !ok {
		return 0, fmt.Errorf("%w: missing %s card", ErrNotFITS, key)
	}
	// FITS allows FORTRAN-style exponents.
	raw = strings.ReplaceAll(strings.ReplaceAll(raw, "D", "E"), "d", "e")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrNotFITS, key, raw)
	}
	return v, nil
}

func (u *headerUnit) logical(key string) bool {
	raw, ok := u.numeric(key)
	return ok && raw == "T"
}

// dataSize returns the byte length of the HDU's data area, without padding.
func (u *headerUnit) dataSize() (int64, error) {
	bitpix, err := u.int64Value("BITPIX")
	if err != nil {
		return 0, err
	}
	naxis, err := u.int64Value("NAXIS")
	if err != nil {
		return 0, err
	}
	if naxis == 0 {
		return 0, nil
	}
	size := int64(1)
	for i := int64(1); i <= naxis; i++ {
		n, err := u.int64Value("NAXIS" + strconv.FormatInt(i, 10))
		if err != nil {
			return 0, err
		}
		size *= n
	}
	if bitpix < 0 {
		bitpix = -bitpix
	}
	size *= bitpix / 8
	if pcount, err := u.int64Value("PCOUNT"); err == nil {
		size += pcount
	}
	return size, nil
}

func padded(n int64) int64 {
	if rem := n % recordSize; rem != 0 {
		return n + recordSize - rem
	}
	return n
}

// skip discards n bytes from r.
func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, r, n)
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// column describes one SUBINT table field derived from its TFORM descriptor.
type column struct {
	name   string
	typ    byte
	repeat int
	offset int
	size   int
}

// parseColumns walks TTYPEn/TFORMn cards and computes per-row byte offsets.
func parseColumns(u *headerUnit) ([]column, error) {
	tfields, err := u.intValue("TFIELDS")
	if err != nil {
		return nil, err
	}
	cols := make([]column, 0, tfields)
	offset := 0
	for i := 1; i <= tfields; i++ {
		name, _ := u.str("TTYPE" + strconv.Itoa(i))
		form, ok := u.str("TFORM" + strconv.Itoa(i))
		if !ok {
			return nil, fmt.Errorf("%w: missing TFORM%d", ErrNotFITS, i)
		}
		col, err := parseTFORM(name, form)
		if err != nil {
			return nil, err
		}
		col.offset = offset
		offset += col.size
		cols = append(cols, col)
	}
	return cols, nil
}

func parseTFORM(name, form string) (column, error) {
	form = strings.TrimSpace(form)
	if form == "" {
		return column{}, fmt.Errorf("%w: empty TFORM for %s", ErrNotFITS, name)
	}
	i := 0
	for i < len(form) && form[i] >= '0' && form[i] <= '9' {
		i++
	}
	repeat := 1
	if i > 0 {
		r, err := strconv.Atoi(form[:i])
		if err != nil {
			return column{}, fmt.Errorf("%w: TFORM %q", ErrNotFITS, form)
		}
		repeat = r
	}
	if i == len(form) {
		return column{}, fmt.Errorf("%w: TFORM %q has no type code", ErrNotFITS, form)
	}
	typ := form[i]
	var size int
	switch typ {
	case 'L', 'A', 'B':
		size = repeat
	case 'X':
		size = (repeat + 7) / 8
	case 'I':
		size = 2 * repeat
	case 'J', 'E':
		size = 4 * repeat
	case 'K', 'D':
		size = 8 * repeat
	default:
		return column{}, fmt.Errorf("%w: TFORM type %q in column %s", ErrUnsupportedLayout, string(typ), name)
	}
	return column{name: name, typ: typ, repeat: repeat, size: size}, nil
}
