package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"example.com/psrconv/internal/check"
	"example.com/psrconv/internal/synth"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	s, err := NewServer(Options{StorageDir: t.TempDir(), Concurrency: 1})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, NewRouter(s)
}

func uploadRaw(t *testing.T, router http.Handler, name string, raw []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(raw); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func uploadFilterbank(t *testing.T, router http.Handler) string {
	t.Helper()
	fil, err := synth.BuildFilterbank(synth.DefaultParams())
	if err != nil {
		t.Fatalf("BuildFilterbank: %v", err)
	}
	rec := uploadRaw(t, router, "sample.fil", fil)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Files []ArtifactRef `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("upload response: %v", err)
	}
	if len(resp.Files) != 1 || resp.Files[0].ID == "" {
		t.Fatalf("upload response: %+v", resp)
	}
	return resp.Files[0].ID
}

func postJSON(t *testing.T, router http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	_, router := newTestServer(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("body %q", rec.Body.String())
	}
}

func TestFormatsMatrix(t *testing.T) {
	_, router := newTestServer(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/formats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var formats []struct {
		Name  string `json:"name"`
		Read  bool   `json:"read"`
		Write bool   `json:"write"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &formats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	byName := make(map[string][2]bool)
	for _, f := range formats {
		byName[f.Name] = [2]bool{f.Read, f.Write}
	}
	if byName["filterbank"] != [2]bool{true, true} {
		t.Fatalf("filterbank support %v", byName["filterbank"])
	}
	if byName["psrfits"] != [2]bool{true, false} {
		t.Fatalf("psrfits support %v", byName["psrfits"])
	}
	if byName["dada"] != [2]bool{false, true} {
		t.Fatalf("dada support %v", byName["dada"])
	}
}

func TestUploadSniffsContainers(t *testing.T) {
	_, router := newTestServer(t)
	fits, err := synth.BuildPSRFITS(synth.DefaultParams(), 64)
	if err != nil {
		t.Fatalf("BuildPSRFITS: %v", err)
	}
	tests := []struct {
		name string
		file string
		raw  []byte
	}{
		{name: "psrfits", file: "obs.sf", raw: fits},
		{name: "zstd", file: "obs.fil.zst", raw: append(append([]byte{}, zstdMagic...), 0x01, 0x02)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := uploadRaw(t, router, tc.file, tc.raw)
			if rec.Code != http.StatusOK {
				t.Fatalf("upload status %d: %s", rec.Code, rec.Body.String())
			}
			var resp struct {
				Files []ArtifactRef `json:"files"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("upload response: %v", err)
			}
			if len(resp.Files) != 1 || resp.Files[0].Kind != "observation" {
				t.Fatalf("files: %+v", resp.Files)
			}
		})
	}
}

func TestUploadRejectsUnrecognizedData(t *testing.T) {
	_, router := newTestServer(t)
	tests := []struct {
		name string
		file string
		raw  []byte
	}{
		{name: "text", file: "notes.txt", raw: []byte("observing log, not data")},
		{name: "empty", file: "empty.fil", raw: nil},
		{name: "cut magic", file: "cut.fil", raw: []byte{0x0c, 0, 0, 0, 'H', 'E'}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := uploadRaw(t, router, tc.file, tc.raw)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("upload status %d: %s", rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), "observation") {
				t.Fatalf("body %q", rec.Body.String())
			}
		})
	}
}

func TestUploadConvertDownload(t *testing.T) {
	_, router := newTestServer(t)
	id := uploadFilterbank(t, router)

	rec := postJSON(t, router, "/convert", map[string]any{
		"input":        id,
		"outputFormat": "dada",
		"nbits":        4,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("convert status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Samples  int64       `json:"samples"`
		Artifact ArtifactRef `json:"artifact"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("convert response: %v", err)
	}
	if resp.Samples != 256 {
		t.Fatalf("samples = %d, want 256", resp.Samples)
	}
	if resp.Artifact.ID == "" || !strings.HasSuffix(resp.Artifact.Name, ".dada") {
		t.Fatalf("artifact: %+v", resp.Artifact)
	}

	dl := httptest.NewRecorder()
	router.ServeHTTP(dl, httptest.NewRequest(http.MethodGet, "/artifacts/"+resp.Artifact.ID, nil))
	if dl.Code != http.StatusOK {
		t.Fatalf("download status %d", dl.Code)
	}
	// Header block plus at least one data block.
	if dl.Body.Len() <= 4096 {
		t.Fatalf("downloaded %d bytes, want more than the header block", dl.Body.Len())
	}
	if cd := dl.Header().Get("Content-Disposition"); !strings.Contains(cd, resp.Artifact.Name) {
		t.Fatalf("Content-Disposition %q", cd)
	}
}

func TestInspect(t *testing.T) {
	_, router := newTestServer(t)
	id := uploadFilterbank(t, router)

	rec := postJSON(t, router, "/inspect", map[string]any{"input": id})
	if rec.Code != http.StatusOK {
		t.Fatalf("inspect status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Format string `json:"format"`
		Header []struct {
			Name  string `json:"name"`
			Value any    `json:"value"`
		} `json:"header"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Format != "filterbank" {
		t.Fatalf("format = %q", resp.Format)
	}
	values := make(map[string]any)
	for _, f := range resp.Header {
		values[f.Name] = f.Value
	}
	if values["source_name"] != "SYNTH_PSR" {
		t.Fatalf("source_name = %v", values["source_name"])
	}
}

func TestCheckProducesArtifacts(t *testing.T) {
	_, router := newTestServer(t)
	id := uploadFilterbank(t, router)

	rec := postJSON(t, router, "/check", map[string]any{"input": id})
	if rec.Code != http.StatusOK {
		t.Fatalf("check status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Report    *check.Report `json:"report"`
		Artifacts []ArtifactRef `json:"artifacts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Report == nil || !resp.Report.Summary.Pass {
		t.Fatalf("report: %+v", resp.Report)
	}
	if len(resp.Artifacts) != 3 {
		t.Fatalf("got %d artifacts, want diagnostics, json and pdf", len(resp.Artifacts))
	}
	kinds := make(map[string]bool)
	for _, a := range resp.Artifacts {
		kinds[a.Name] = true
	}
	for _, want := range []string{"diagnostics.ndjson", "report.json", "report.pdf"} {
		if !kinds[want] {
			t.Fatalf("missing artifact %s in %+v", want, resp.Artifacts)
		}
	}
}

func TestCheckStreamsNDJSON(t *testing.T) {
	_, router := newTestServer(t)
	id := uploadFilterbank(t, router)

	rec := postJSON(t, router, "/check?stream=true", map[string]any{"input": id})
	if rec.Code != http.StatusOK {
		t.Fatalf("check status %d: %s", rec.Code, rec.Body.String())
	}
	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	if len(lines) < 2 {
		t.Fatalf("only %d NDJSON lines", len(lines))
	}
	var last map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("summary line: %v", err)
	}
	if last["type"] != "summary" {
		t.Fatalf("last line type = %v", last["type"])
	}
}

func TestManifestFromArtifact(t *testing.T) {
	_, router := newTestServer(t)
	id := uploadFilterbank(t, router)

	rec := postJSON(t, router, "/manifest", map[string]any{
		"inputs": []string{id},
		"source": "sample.fil",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("manifest status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Manifest struct {
			ShaAlgo string `json:"shaAlgo"`
			Items   []struct {
				Sha256 string `json:"sha256"`
				Size   int64  `json:"size"`
			} `json:"items"`
		} `json:"manifest"`
		Artifact ArtifactRef `json:"artifact"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Manifest.ShaAlgo != "sha256" || len(resp.Manifest.Items) != 1 {
		t.Fatalf("manifest: %+v", resp.Manifest)
	}
	if len(resp.Manifest.Items[0].Sha256) != 64 || resp.Manifest.Items[0].Size == 0 {
		t.Fatalf("item: %+v", resp.Manifest.Items[0])
	}
}

func TestConvertRejectsBadRequests(t *testing.T) {
	_, router := newTestServer(t)
	id := uploadFilterbank(t, router)

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{name: "missing input", payload: map[string]any{"outputFormat": "dada"}},
		{name: "unknown output", payload: map[string]any{"input": id, "outputFormat": "hdf5"}},
		{name: "psrfits output", payload: map[string]any{"input": id, "outputFormat": "psrfits"}},
		{name: "unresolvable input", payload: map[string]any{"input": "no-such-artifact", "outputFormat": "dada"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, router, "/convert", tc.payload)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, router := newTestServer(t)
	for _, path := range []string{"/convert", "/inspect", "/check", "/manifest", "/upload"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("GET %s status %d", path, rec.Code)
		}
	}
}
