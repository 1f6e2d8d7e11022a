// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/abdliliaai/visiony-guard-sub000/internal/log"
)

// hlsFileServer serves the transcode output directory read-only for
// stream playback, with checks against path traversal and directory
// listing.
func (s *Server) hlsFileServer() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.WithComponent("api")

		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		path := r.URL.Path
		if isPathTraversal(path) {
			logger.Warn().
				Str("event", "hls.denied").
				Str("path", path).
				Str("reason", "path_escape").
				Msg("detected traversal sequence")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if path == "" || strings.HasSuffix(path, "/") {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		absRoot, err := filepath.Abs(s.cfg.HLSRoot)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		fullPath := filepath.Join(absRoot, filepath.FromSlash(path))

		// Containment check after cleaning; protects against encoded
		// traversal that survived the string scan.
		relPath, err := filepath.Rel(absRoot, fullPath)
		if err != nil || strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
			logger.Warn().
				Str("event", "hls.denied").
				Str("path", path).
				Str("reason", "path_escape").
				Msg("path escapes HLS root")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		info, err := os.Stat(fullPath)
		if err != nil {
			if os.IsNotExist(err) {
				http.Error(w, "Not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if info.IsDir() {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		switch {
		case strings.HasSuffix(fullPath, ".m3u8"):
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			w.Header().Set("Cache-Control", "no-cache")
		case strings.HasSuffix(fullPath, ".ts"):
			w.Header().Set("Content-Type", "video/mp2t")
		}

		http.ServeFile(w, r, fullPath)
	})
}

// isPathTraversal detects traversal sequences including URL-encoded
// variants and NUL bytes.
func isPathTraversal(path string) bool {
	lower := strings.ToLower(path)
	if strings.Contains(lower, "..") || strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "..%2f") {
		return true
	}
	if strings.Contains(path, "\x00") || strings.Contains(lower, "%00") {
		return true
	}
	return false
}
