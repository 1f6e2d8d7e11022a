// SPDX-License-Identifier: MIT
package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdliliaai/visiony-guard-sub000/internal/health"
)

func newHLSServer(t *testing.T) (http.Handler, string) {
	t.Helper()
	root := t.TempDir()
	reg := newFakeRegistry()
	hm := health.NewManager("test", reg)
	return New(Config{HLSRoot: root}, reg, hm).Handler(), root
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHLS_ServesPlaylistAndSegments(t *testing.T) {
	h, root := newHLSServer(t)

	dir := filepath.Join(root, "cam-1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.m3u8"), []byte("#EXTM3U\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seg0.ts"), []byte{0x47}, 0o644))

	rec := get(h, "/hls/cam-1/index.m3u8")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	rec = get(h, "/hls/cam-1/seg0.ts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
}

func TestHLS_RejectsTraversal(t *testing.T) {
	h, _ := newHLSServer(t)

	paths := []string{
		"/hls/../etc/passwd",
		"/hls/cam-1/..%2f..%2fetc/passwd",
		"/hls/%2e%2e/secret",
		"/hls/cam-1/%00index.m3u8",
	}
	for _, p := range paths {
		rec := get(h, p)
		assert.Contains(t, []int{http.StatusForbidden, http.StatusNotFound}, rec.Code, p)
		assert.NotEqual(t, http.StatusOK, rec.Code, p)
	}
}

func TestHLS_NoDirectoryListing(t *testing.T) {
	h, root := newHLSServer(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cam-1"), 0o755))

	rec := get(h, "/hls/cam-1/")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHLS_MethodNotAllowed(t *testing.T) {
	h, _ := newHLSServer(t)
	req := httptest.NewRequest(http.MethodPost, "/hls/cam-1/index.m3u8", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHLS_MissingFile(t *testing.T) {
	h, _ := newHLSServer(t)
	rec := get(h, "/hls/cam-9/index.m3u8")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIsPathTraversal(t *testing.T) {
	assert.True(t, isPathTraversal("../x"))
	assert.True(t, isPathTraversal("a/../b"))
	assert.True(t, isPathTraversal("%2E%2E/x"))
	assert.True(t, isPathTraversal("a\x00b"))
	assert.True(t, isPathTraversal("a%00b"))
	assert.False(t, isPathTraversal("cam-1/index.m3u8"))
	assert.False(t, isPathTraversal("cam-1/seg0.ts"))
}
