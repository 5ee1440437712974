package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/psrconv/internal/check"
)

// SavePDF renders the quality-control document into a PDF file.
func SavePDF(doc Document, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Conversion Report", false)
	pdf.SetAuthor(doc.Tool, false)
	pdf.SetCreator(doc.Tool, false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "Conversion Report")
	addInputSection(pdf, doc)
	addHeaderSection(pdf, doc.Header)
	if doc.Check != nil {
		addSummarySection(pdf, doc.Check)
		addBandpassSection(pdf, doc.Check.Bandpass)
		addFindingsSection(pdf, doc.Check.Findings)
	}
	addDigestSection(pdf, doc.ManifestDigest)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addInputSection(pdf *gofpdf.Fpdf, doc Document) {
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5, "Generated "+doc.GeneratedAt.Format(time.RFC3339), "", "L", false)
	pdf.MultiCell(0, 5, "Input: "+doc.Input, "", "L", false)
	for _, o := range doc.Outputs {
		pdf.MultiCell(0, 5, "Output: "+o, "", "L", false)
	}
	pdf.Ln(4)
}

func addHeaderSection(pdf *gofpdf.Fpdf, entries []HeaderEntry) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Header")
	pdf.Ln(9)

	widths := []float64{55, 120}
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(widths[0], 7, "Field", "1", 0, "L", true, 0, "")
	pdf.CellFormat(widths[1], 7, "Value", "1", 1, "L", true, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	for _, e := range entries {
		renderTableRow(pdf, widths, []string{e.Name, e.Value}, 5)
	}
	pdf.Ln(4)
}

func addSummarySection(pdf *gofpdf.Fpdf, rep *check.Report) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: "Total Findings", value: strconv.Itoa(rep.Summary.Total)},
		{label: "Errors", value: strconv.Itoa(rep.Summary.Errors)},
		{label: "Warnings", value: strconv.Itoa(rep.Summary.Warnings)},
		{label: "Overall", value: passLabel(rep.Summary.Pass)},
	}
	for _, item := range items {
		pdf.CellFormat(50, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, item.value, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func addBandpassSection(pdf *gofpdf.Fpdf, stats []check.ChannelStat) {
	if len(stats) == 0 {
		return
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Bandpass")
	pdf.Ln(9)

	headers := []string{"Channel", "Freq (MHz)", "Mean", "StdDev", "Min", "Max"}
	widths := []float64{22, 34, 30, 30, 27, 27}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	// Long bands are decimated so the table stays one or two pages.
	step := 1
	if len(stats) > 64 {
		step = len(stats) / 64
	}
	for i := 0; i < len(stats); i += step {
		cs := stats[i]
		renderTableRow(pdf, widths, []string{
			strconv.Itoa(cs.Channel),
			fmt.Sprintf("%.3f", cs.FreqMHz),
			fmt.Sprintf("%.3f", cs.Mean),
			fmt.Sprintf("%.3f", cs.StdDev),
			fmt.Sprintf("%.1f", cs.Min),
			fmt.Sprintf("%.1f", cs.Max),
		}, 5)
	}
	pdf.Ln(4)
}

func addFindingsSection(pdf *gofpdf.Fpdf, findings []check.Diagnostic) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Findings")
	pdf.Ln(9)

	if len(findings) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No findings recorded.", "", "L", false)
		return
	}

	for i, d := range findings {
		pdf.SetFont("Helvetica", "B", 10)
		header := fmt.Sprintf("%d. %s (%s)", i+1, d.CheckId, severityLabel(d.Severity))
		pdf.MultiCell(0, 5, header, "", "L", false)

		if msg := strings.TrimSpace(d.Message); msg != "" {
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, msg, "", "L", false)
		}

		meta := findingMetadata(d)
		if meta != "" {
			pdf.SetFont("Helvetica", "", 9)
			pdf.MultiCell(0, 4, meta, "", "L", false)
		}
		pdf.Ln(2)
	}
	pdf.Ln(2)
}

func addDigestSection(pdf *gofpdf.Fpdf, digest string) {
	if strings.TrimSpace(digest) == "" {
		return
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Manifest Digest")
	pdf.Ln(9)

	pdf.SetFont("Courier", "", 9)
	pdf.MultiCell(0, 5, digest, "", "L", false)
	pdf.Ln(2)

	png, err := ManifestDigestQR(digest, 256)
	if err != nil {
		return
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("manifest-qr", opts, bytes.NewReader(png))
	pdf.ImageOptions("manifest-qr", pdf.GetX(), pdf.GetY(), 40, 40, false, opts, 0, "")
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		cellText := strings.Join(lines, "\n")
		pdf.MultiCell(widths[i], lineHeight, cellText, "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func passLabel(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}

func severityLabel(sev check.Severity) string {
	if s := strings.TrimSpace(string(sev)); s != "" {
		return s
	}
	return "UNKNOWN"
}

func findingMetadata(d check.Diagnostic) string {
	parts := make([]string, 0, 3)
	if !d.Ts.IsZero() {
		parts = append(parts, d.Ts.Format(time.RFC3339))
	}
	if d.File != "" {
		parts = append(parts, d.File)
	}
	if d.Channel != 0 {
		parts = append(parts, fmt.Sprintf("Channel %d", d.Channel))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " - ")
}
