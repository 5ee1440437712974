// Package manifest records what a conversion produced: every output file
// with its size, SHA-256 digest and detected kind, so a delivery can be
// verified end to end.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"time"

	"example.com/psrconv/internal/common"
	"example.com/psrconv/internal/data"
)

type Item struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sha256 string `json:"sha256"`
	Kind   string `json:"kind"`
}

type Manifest struct {
	CreatedAt time.Time     `json:"createdAt"`
	ShaAlgo   string        `json:"shaAlgo"`
	Source    string        `json:"source,omitempty"`
	Header    []HeaderField `json:"header,omitempty"`
	Items     []Item        `json:"items"`
}

// HeaderField mirrors one canonical header entry for provenance.
type HeaderField struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Build hashes every output path into a manifest. The header, when
// non-zero, is embedded in canonical field order.
func Build(source string, hdr data.Header, paths []string) (Manifest, error) {
	m := Manifest{CreatedAt: time.Now().UTC(), ShaAlgo: "sha256", Source: source}
	if hdr.NChan > 0 {
		for _, f := range hdr.CanonicalFields() {
			m.Header = append(m.Header, HeaderField{Name: f.Name, Value: f.Value})
		}
	}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	for _, p := range sorted {
		hexSum, sz, err := common.Sha256OfFile(p)
		if err != nil {
			return m, err
		}
		m.Items = append(m.Items, Item{Path: p, Size: sz, Sha256: hexSum, Kind: kindOf(p)})
	}
	return m, nil
}

func kindOf(path string) string {
	p := strings.TrimSuffix(path, ".zst")
	switch {
	case hasExt(p, ".fil"):
		return "filterbank"
	case hasExt(p, ".sf", ".fits", ".rf"):
		return "psrfits"
	case hasExt(p, ".dada"):
		return "dada"
	case hasExt(p, ".json"):
		return "json"
	case hasExt(p, ".ndjson"):
		return "ndjson"
	case hasExt(p, ".pdf"):
		return "pdf"
	default:
		return "other"
	}
}

func hasExt(path string, exts ...string) bool {
	for _, e := range exts {
		if strings.HasSuffix(path, e) {
			return true
		}
	}
	return false
}

// Digest returns the SHA-256 of the manifest's canonical JSON rendering.
// It is what the report's QR code encodes.
func Digest(m Manifest) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func Save(m Manifest, out string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, append(b, '\n'), 0o644)
}

func Load(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}
