package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"example.com/psrconv/internal/check"
	"example.com/psrconv/internal/convert"
	"example.com/psrconv/internal/data"
	"example.com/psrconv/internal/manifest"
	"example.com/psrconv/internal/report"
	"example.com/psrconv/internal/source"
)

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Input        string `json:"input"`
		InputFormat  string `json:"inputFormat"`
		OutputFormat string `json:"outputFormat"`
		NBits        int    `json:"nbits"`
		BlockSamples int    `json:"blockSamples"`
		Compress     bool   `json:"compress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input required", http.StatusBadRequest)
		return
	}
	inputPath, err := s.resolvePath(req.Input)
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	inFormat, err := convert.DetectFormat(req.InputFormat, inputPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("input format: %v", err), http.StatusBadRequest)
		return
	}
	outFormat, err := convert.DetectFormat(req.OutputFormat, "")
	if err != nil {
		http.Error(w, fmt.Sprintf("output format: %v", err), http.StatusBadRequest)
		return
	}

	release := s.acquire()
	defer release()

	rc, err := source.Open(inputPath, s.s3)
	if err != nil {
		http.Error(w, fmt.Sprintf("open input: %v", err), http.StatusBadRequest)
		return
	}
	src, err := convert.OpenSource(rc, inFormat)
	if err != nil {
		rc.Close()
		http.Error(w, fmt.Sprintf("read input: %v", err), http.StatusBadRequest)
		return
	}
	defer src.Close()

	hdr, err := convert.OutputHeader(src.Header(), req.NBits)
	if err != nil {
		http.Error(w, fmt.Sprintf("output header: %v", err), http.StatusBadRequest)
		return
	}

	outName := outputName(inputPath, outFormat, req.Compress)
	outPath, err := s.tempPath("convert-*-" + outName)
	if err != nil {
		http.Error(w, fmt.Sprintf("output temp: %v", err), http.StatusInternalServerError)
		return
	}
	sink, err := convert.OpenSink(outPath, hdr, outFormat, s.blockBytes)
	if err != nil {
		http.Error(w, fmt.Sprintf("open output: %v", err), http.StatusBadRequest)
		return
	}

	res, err := convert.Run(src, sink, convert.Options{BlockSamples: req.BlockSamples})
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outPath)
		http.Error(w, fmt.Sprintf("convert: %v", err), http.StatusInternalServerError)
		return
	}

	art, err := s.addArtifact(outPath, outName, "", "conversion")
	if err != nil {
		http.Error(w, fmt.Sprintf("register output: %v", err), http.StatusInternalServerError)
		return
	}
	resp := struct {
		Samples  int64       `json:"samples"`
		Blocks   int64       `json:"blocks"`
		BytesIn  int64       `json:"bytesIn"`
		BytesOut int64       `json:"bytesOut"`
		Header   []headerKV  `json:"header"`
		Artifact ArtifactRef `json:"artifact"`
	}{
		Samples:  res.Samples,
		Blocks:   res.Blocks,
		BytesIn:  res.BytesIn,
		BytesOut: res.BytesOut,
		Header:   headerFields(hdr),
		Artifact: toRef(art),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Input       string `json:"input"`
		InputFormat string `json:"inputFormat"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	inputPath, err := s.resolvePath(req.Input)
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	format, err := convert.DetectFormat(req.InputFormat, inputPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("input format: %v", err), http.StatusBadRequest)
		return
	}
	rc, err := source.Open(inputPath, s.s3)
	if err != nil {
		http.Error(w, fmt.Sprintf("open input: %v", err), http.StatusBadRequest)
		return
	}
	src, err := convert.OpenSource(rc, format)
	if err != nil {
		rc.Close()
		http.Error(w, fmt.Sprintf("read input: %v", err), http.StatusBadRequest)
		return
	}
	defer src.Close()
	resp := struct {
		Format string     `json:"format"`
		Header []headerKV `json:"header"`
	}{Format: string(format), Header: headerFields(src.Header())}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stream := r.URL.Query().Get("stream") == "true"
	var req struct {
		Input       string `json:"input"`
		InputFormat string `json:"inputFormat"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	inputPath, err := s.resolvePath(req.Input)
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	format, err := convert.DetectFormat(req.InputFormat, inputPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("input format: %v", err), http.StatusBadRequest)
		return
	}

	release := s.acquire()
	defer release()

	rc, err := source.Open(inputPath, s.s3)
	if err != nil {
		http.Error(w, fmt.Sprintf("open input: %v", err), http.StatusBadRequest)
		return
	}
	src, err := convert.OpenSource(rc, format)
	if err != nil {
		rc.Close()
		http.Error(w, fmt.Sprintf("read input: %v", err), http.StatusBadRequest)
		return
	}
	defer src.Close()

	rep, err := check.Run(src, inputPath, check.Options{})
	if err != nil {
		http.Error(w, fmt.Sprintf("check: %v", err), http.StatusInternalServerError)
		return
	}

	diagPath, err := s.tempPath("diagnostics-*.ndjson")
	if err != nil {
		http.Error(w, fmt.Sprintf("diagnostics temp: %v", err), http.StatusInternalServerError)
		return
	}
	df, err := os.Create(diagPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("diagnostics create: %v", err), http.StatusInternalServerError)
		return
	}
	werr := rep.WriteNDJSON(df)
	df.Close()
	if werr != nil {
		http.Error(w, fmt.Sprintf("write diagnostics: %v", werr), http.StatusInternalServerError)
		return
	}

	doc := report.Build(inputPath, nil, src.Header(), rep, "")
	jsonPath, err := s.tempPath("report-*.json")
	if err != nil {
		http.Error(w, fmt.Sprintf("report temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := report.SaveJSON(doc, jsonPath); err != nil {
		http.Error(w, fmt.Sprintf("write report: %v", err), http.StatusInternalServerError)
		return
	}
	pdfPath, err := s.tempPath("report-*.pdf")
	if err != nil {
		http.Error(w, fmt.Sprintf("report pdf temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := report.SavePDF(doc, pdfPath); err != nil {
		http.Error(w, fmt.Sprintf("write report pdf: %v", err), http.StatusInternalServerError)
		return
	}

	diagArt, err := s.addArtifact(diagPath, "diagnostics.ndjson", "application/x-ndjson", "diagnostics")
	if err != nil {
		http.Error(w, fmt.Sprintf("register diagnostics: %v", err), http.StatusInternalServerError)
		return
	}
	jsonArt, err := s.addArtifact(jsonPath, "report.json", "application/json", "report")
	if err != nil {
		http.Error(w, fmt.Sprintf("register report: %v", err), http.StatusInternalServerError)
		return
	}
	pdfArt, err := s.addArtifact(pdfPath, "report.pdf", "application/pdf", "report")
	if err != nil {
		http.Error(w, fmt.Sprintf("register report pdf: %v", err), http.StatusInternalServerError)
		return
	}

	if stream {
		ds := newDiagStream(w)
		for _, d := range rep.Findings {
			if err := ds.emit(d); err != nil {
				return
			}
		}
		_ = ds.emit(map[string]any{
			"type":    "summary",
			"summary": rep.Summary,
			"artifacts": []ArtifactRef{
				toRef(diagArt), toRef(jsonArt), toRef(pdfArt),
			},
		})
		return
	}

	resp := struct {
		Report    *check.Report `json:"report"`
		Artifacts []ArtifactRef `json:"artifacts"`
	}{
		Report:    rep,
		Artifacts: []ArtifactRef{toRef(diagArt), toRef(jsonArt), toRef(pdfArt)},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Inputs  []string `json:"inputs"`
		Source  string   `json:"source"`
		ShaAlgo string   `json:"shaAlgo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "inputs required", http.StatusBadRequest)
		return
	}
	if req.ShaAlgo != "" && !strings.EqualFold(req.ShaAlgo, "sha256") {
		http.Error(w, "only sha256 supported", http.StatusBadRequest)
		return
	}
	var paths []string
	for _, in := range req.Inputs {
		resolved, err := s.resolvePath(in)
		if err != nil {
			http.Error(w, fmt.Sprintf("resolve %s: %v", in, err), http.StatusBadRequest)
			return
		}
		paths = append(paths, resolved)
	}
	m, err := manifest.Build(req.Source, data.Header{}, paths)
	if err != nil {
		http.Error(w, fmt.Sprintf("build manifest: %v", err), http.StatusInternalServerError)
		return
	}
	outPath, err := s.tempPath("manifest-*.json")
	if err != nil {
		http.Error(w, fmt.Sprintf("manifest temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := manifest.Save(m, outPath); err != nil {
		http.Error(w, fmt.Sprintf("write manifest: %v", err), http.StatusInternalServerError)
		return
	}
	art, err := s.addArtifact(outPath, "manifest.json", "application/json", "manifest")
	if err != nil {
		http.Error(w, fmt.Sprintf("register manifest: %v", err), http.StatusInternalServerError)
		return
	}
	resp := struct {
		Manifest manifest.Manifest `json:"manifest"`
		Artifact ArtifactRef       `json:"artifact"`
	}{Manifest: m, Artifact: toRef(art)}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	type formatInfo struct {
		Name  string `json:"name"`
		Read  bool   `json:"read"`
		Write bool   `json:"write"`
	}
	writeJSON(w, http.StatusOK, []formatInfo{
		{Name: string(convert.Filterbank), Read: true, Write: true},
		{Name: string(convert.PSRFITS), Read: true, Write: false},
		{Name: string(convert.DADA), Read: false, Write: true},
	})
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.listArtifacts())
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if id == "" {
		s.handleArtifacts(w, r)
		return
	}
	art, ok := s.getArtifact(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, fmt.Sprintf("stat artifact: %v", err), http.StatusInternalServerError)
		return
	}
	if art.ContentType != "" {
		w.Header().Set("Content-Type", art.ContentType)
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	disposition := fmt.Sprintf("attachment; filename=\"%s\"", art.Name)
	w.Header().Set("Content-Disposition", disposition)
	io.Copy(w, f)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// diagStream emits check findings as NDJSON records, flushing after each one
// so a client watching a long check sees findings as they are produced.
type diagStream struct {
	enc     *json.Encoder
	flusher http.Flusher
}

func newDiagStream(w http.ResponseWriter) *diagStream {
	w.Header().Set("Content-Type", "application/x-ndjson")
	ds := &diagStream{enc: json.NewEncoder(w)}
	if f, ok := w.(http.Flusher); ok {
		ds.flusher = f
	}
	return ds
}

func (ds *diagStream) emit(v any) error {
	if err := ds.enc.Encode(v); err != nil {
		return err
	}
	if ds.flusher != nil {
		ds.flusher.Flush()
	}
	return nil
}

type headerKV struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

func headerFields(hdr data.Header) []headerKV {
	fields := hdr.CanonicalFields()
	out := make([]headerKV, len(fields))
	for i, f := range fields {
		out[i] = headerKV{Name: f.Name, Value: f.Value}
	}
	return out
}

func outputName(inputPath string, format convert.Format, compress bool) string {
	base := filepath.Base(strings.TrimSuffix(inputPath, ".zst"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	var ext string
	switch format {
	case convert.Filterbank:
		ext = ".fil"
	case convert.DADA:
		ext = ".dada"
	default:
		ext = ".out"
	}
	name := base + ext
	if compress && format == convert.Filterbank {
		name += ".zst"
	}
	return name
}
