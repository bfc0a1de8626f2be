// Package rangeserver implements the Range Byte Server (§4.E): RFC 7233
// partial-content delivery for catalog-registered files, with path
// containment checks so no request can ever read outside a library root.
// Grounded on the teacher's internal/stream/direct.go range-parsing logic,
// generalized behind a file_id → catalog lookup instead of a raw path.
package rangeserver

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rustfin/rustfin/internal/catalog"
	"github.com/rustfin/rustfin/internal/coreerr"
)

// contentTypeByExt is the fixed extension → MIME map from §4.E step 3.
var contentTypeByExt = map[string]string{
	".mp4": "video/mp4", ".m4v": "video/mp4",
	".mkv":  "video/x-matroska",
	".ts":   "video/mp2t", ".m2ts": "video/mp2t", ".mts": "video/mp2t",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".ogv":  "video/ogg",
	".mpeg": "video/mpeg",
}

// AccessChecker authorizes a request for a library's files. The caller
// supplies it; rangeserver has no opinion on how auth tokens are verified,
// only that every request is checked before the file is opened.
type AccessChecker interface {
	// CanAccessLibrary reports whether the authenticated caller may read
	// files belonging to libraryID.
	CanAccessLibrary(libraryID uuid.UUID) bool
}

// Server resolves file_ids against the catalog and streams their bytes.
type Server struct {
	store *catalog.Store
}

func New(store *catalog.Store) *Server {
	return &Server{store: store}
}

// Serve implements the serve(file_id, range_header, auth) contract as an
// http.Handler-shaped method: fileID comes from the request path, range
// from the Range header, and access from the caller-supplied checker.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, fileID uuid.UUID, access AccessChecker) error {
	mf, err := s.store.GetFile(fileID)
	if err != nil {
		return err
	}

	if access == nil || !access.CanAccessLibrary(mf.LibraryID) {
		return coreerr.Forbidden("not authorized to access this library")
	}

	// Path containment: resolve symlinks on both sides and require the
	// resolved file to sit under one of the library's resolved roots. No
	// URL path segment is ever concatenated into this path — the only
	// input used to build it is the catalog's stored, canonical path.
	lib, err := s.store.GetLibrary(mf.LibraryID)
	if err != nil {
		return err
	}
	realPath, err := filepath.EvalSymlinks(mf.Path)
	if err != nil {
		return coreerr.NotFound("file not found on disk")
	}
	if !containedInAnyRoot(realPath, lib.Paths) {
		return coreerr.Forbidden("file is not within an accessible library root")
	}

	file, err := os.Open(realPath)
	if err != nil {
		return coreerr.NotFound("file not found on disk")
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return coreerr.Internal(fmt.Errorf("stat file: %w", err))
	}
	size := stat.Size()

	contentType := contentTypeByExt[strings.ToLower(filepath.Ext(realPath))]
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)
		_, err := io.Copy(w, file)
		return err
	}

	start, end, ok := parseRange(rangeHeader, size)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return coreerr.Internal(fmt.Errorf("seek file: %w", err))
	}

	length := end - start + 1
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusPartialContent)
	_, err = io.CopyN(w, file, length)
	return err
}

// parseRange handles the three forms in §4.E step 4: "start-end", "start-"
// and "-suffix". ok is false for anything malformed or unsatisfiable
// (start >= size).
func parseRange(header string, size int64) (start, end int64, ok bool) {
	header = strings.TrimPrefix(header, "bytes=")
	if strings.Contains(header, ",") {
		// Multi-range requests aren't part of the contract; refuse rather
		// than silently serving only the first range.
		return 0, 0, false
	}
	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	if parts[0] == "" {
		// Suffix form: "-N" means the last N bytes.
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true
	}

	s, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || s < 0 {
		return 0, 0, false
	}
	if s >= size {
		return 0, 0, false
	}

	if parts[1] == "" {
		return s, size - 1, true
	}
	e, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || e < s {
		return 0, 0, false
	}
	if e >= size {
		e = size - 1
	}
	return s, e, true
}

// containedInAnyRoot reports whether path is equal to or a descendant of
// one of roots, after resolving symlinks on each root.
func containedInAnyRoot(path string, roots []string) bool {
	for _, root := range roots {
		realRoot, err := filepath.EvalSymlinks(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(realRoot, path)
		if err != nil {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return true
	}
	return false
}
