// Package report renders the quality-control document for a conversion:
// canonical header, diagnostic findings, bandpass summary and the manifest
// digest, as JSON for machines and PDF for deliveries.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"example.com/psrconv/internal/check"
	"example.com/psrconv/internal/data"
)

type Document struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Tool        string    `json:"tool"`
	Input       string    `json:"input"`
	Outputs     []string  `json:"outputs,omitempty"`

	Header []HeaderEntry `json:"header"`

	Check *check.Report `json:"check,omitempty"`

	// ManifestDigest is the SHA-256 of the delivery manifest; the PDF
	// embeds it as a QR code.
	ManifestDigest string `json:"manifestDigest,omitempty"`
}

type HeaderEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Build assembles the document from a finished conversion.
func Build(input string, outputs []string, hdr data.Header, rep *check.Report, manifestDigest string) Document {
	doc := Document{
		GeneratedAt:    time.Now().UTC(),
		Tool:           "psrconv",
		Input:          input,
		Outputs:        outputs,
		Check:          rep,
		ManifestDigest: manifestDigest,
	}
	for _, f := range hdr.CanonicalFields() {
		doc.Header = append(doc.Header, HeaderEntry{Name: f.Name, Value: formatValue(f.Value)})
	}
	return doc
}

func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return fmt.Sprintf("%.6f", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func SaveJSON(doc Document, out string) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, append(b, '\n'), 0o644)
}

func LoadJSON(path string) (Document, error) {
	var doc Document
	b, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	err = json.Unmarshal(b, &doc)
	return doc, err
}
