package server

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"example.com/psrconv/internal/convert"
)

// ErrNotObservation rejects uploads that do not start like any container the
// converter can open.
var ErrNotObservation = errors.New("not a recognized observation container")

// Leading bytes of the accepted containers. A zstd stream is stored as
// uploaded; the wrapped container is identified when the artifact is first
// opened.
var (
	fitsMagic = []byte("SIMPLE  =")
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
)

// sniffLen covers the longest magic: the int32 length prefix plus
// HEADER_START of a filterbank stream.
const sniffLen = 16

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, fmt.Sprintf("parse multipart: %v", err), http.StatusBadRequest)
		return
	}
	if r.MultipartForm == nil {
		http.Error(w, "no files provided", http.StatusBadRequest)
		return
	}
	var refs []ArtifactRef
	for _, files := range r.MultipartForm.File {
		for _, fh := range files {
			ref, err := s.storeObservation(fh)
			if err != nil {
				http.Error(w, fmt.Sprintf("store %s: %v", fh.Filename, err), http.StatusBadRequest)
				return
			}
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		http.Error(w, "no files uploaded", http.StatusBadRequest)
		return
	}
	resp := struct {
		Files []ArtifactRef `json:"files"`
	}{Files: refs}
	writeJSON(w, http.StatusOK, resp)
}

// storeObservation copies one uploaded observation into the workspace. The
// leading bytes are sniffed first so only containers the converter can open
// end up registered as artifacts.
func (s *Server) storeObservation(fh *multipart.FileHeader) (ArtifactRef, error) {
	if fh == nil {
		return ArtifactRef{}, fmt.Errorf("nil file header")
	}
	src, err := fh.Open()
	if err != nil {
		return ArtifactRef{}, err
	}
	defer src.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return ArtifactRef{}, err
	}
	head = head[:n]
	format, err := sniffContainer(head)
	if err != nil {
		return ArtifactRef{}, err
	}

	dest, err := os.CreateTemp(s.uploadsDir, observationPattern(fh.Filename, format))
	if err != nil {
		return ArtifactRef{}, err
	}
	if _, err := dest.Write(head); err == nil {
		_, err = io.Copy(dest, src)
	}
	if err != nil {
		dest.Close()
		os.Remove(dest.Name())
		return ArtifactRef{}, err
	}
	if err := dest.Close(); err != nil {
		os.Remove(dest.Name())
		return ArtifactRef{}, err
	}
	art, err := s.addArtifact(dest.Name(), fh.Filename, guessContentType(fh.Filename), "observation")
	if err != nil {
		os.Remove(dest.Name())
		return ArtifactRef{}, err
	}
	return toRef(art), nil
}

// sniffContainer identifies the container from its first bytes. The empty
// format marks a zstd stream whose content is resolved on first open.
func sniffContainer(head []byte) (convert.Format, error) {
	switch {
	case len(head) >= sniffLen && binary.LittleEndian.Uint32(head) == 12 &&
		bytes.Equal(head[4:16], []byte("HEADER_START")):
		return convert.Filterbank, nil
	case bytes.HasPrefix(head, fitsMagic):
		return convert.PSRFITS, nil
	case bytes.HasPrefix(head, zstdMagic):
		return "", nil
	}
	return "", ErrNotObservation
}

// observationPattern keeps the upload's extensions on the stored temp file,
// falling back to the sniffed container, so extension-based format detection
// keeps working when the artifact is used as a conversion input. The whole
// suffix is kept so a .fil.zst upload stays a .fil.zst file.
func observationPattern(name string, format convert.Format) string {
	var ext string
	base := filepath.Base(name)
	if i := strings.Index(base, "."); i >= 0 {
		ext = base[i:]
	}
	if ext == "" {
		switch format {
		case convert.Filterbank:
			ext = ".fil"
		case convert.PSRFITS:
			ext = ".fits"
		}
	}
	return "observation-*" + ext
}
