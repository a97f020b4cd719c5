package httprange

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixtureFile(t *testing.T, size int) string {
	t.Helper()

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}

	path := filepath.Join(t.TempDir(), "fixture.mp4")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		size    int64
		want    *ByteRange
		wantErr error
	}{
		{name: "no header", header: "", size: 1000, want: nil},
		{name: "both bounds", header: "bytes=0-99", size: 1000, want: &ByteRange{Start: 0, End: 99}},
		{name: "open end", header: "bytes=500-", size: 1000, want: &ByteRange{Start: 500, End: 999}},
		{name: "open start", header: "bytes=-199", size: 1000, want: &ByteRange{Start: 0, End: 199}},
		{name: "end clamped", header: "bytes=900-2000", size: 1000, want: &ByteRange{Start: 900, End: 999}},
		{name: "start at size", header: "bytes=1000-1000", size: 1000, wantErr: ErrRangeNotSatisfiable},
		{name: "inverted", header: "bytes=500-100", size: 1000, wantErr: ErrRangeNotSatisfiable},
		{name: "wrong unit", header: "items=0-10", size: 1000, wantErr: ErrInvalidRange},
		{name: "garbage", header: "bytes=abc-def", size: 1000, wantErr: ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.header, tt.size)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func serve(t *testing.T, path, rangeHeader string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rec := httptest.NewRecorder()
	ServeFile(rec, req, path)
	return rec
}

func TestServeFileFullContent(t *testing.T) {
	path := writeFixtureFile(t, 1000)
	want, err := os.ReadFile(path)
	require.NoError(t, err)

	rec := serve(t, path, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "1000", rec.Header().Get("Content-Length"))
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.Equal(want, rec.Body.Bytes()))
}

func TestServeFilePrefixRange(t *testing.T) {
	path := writeFixtureFile(t, 1000)
	want, err := os.ReadFile(path)
	require.NoError(t, err)

	rec := serve(t, path, "bytes=0-99")

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-99/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "100", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.True(t, bytes.Equal(want[:100], rec.Body.Bytes()))
}

func TestServeFileClampedRange(t *testing.T) {
	path := writeFixtureFile(t, 1000)
	want, err := os.ReadFile(path)
	require.NoError(t, err)

	rec := serve(t, path, "bytes=900-2000")

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 900-999/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "100", rec.Header().Get("Content-Length"))
	assert.True(t, bytes.Equal(want[900:], rec.Body.Bytes()))
}

func TestServeFileRangeNotSatisfiable(t *testing.T) {
	path := writeFixtureFile(t, 1000)

	rec := serve(t, path, "bytes=1000-1000")

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */1000", rec.Header().Get("Content-Range"))
	assert.Zero(t, rec.Body.Len())
}

func TestServeFileSuffixRange(t *testing.T) {
	path := writeFixtureFile(t, 1000)
	want, err := os.ReadFile(path)
	require.NoError(t, err)

	// A missing start bound defaults to 0, so "bytes=-100" covers [0, 100].
	rec := serve(t, path, "bytes=-100")

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-100/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "101", rec.Header().Get("Content-Length"))
	assert.True(t, bytes.Equal(want[:101], rec.Body.Bytes()))
}

func TestServeFileMissing(t *testing.T) {
	rec := serve(t, filepath.Join(t.TempDir(), "nope.mp4"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeFileHeadRequest(t *testing.T) {
	path := writeFixtureFile(t, 1000)

	req := httptest.NewRequest(http.MethodHead, "/stream", nil)
	rec := httptest.NewRecorder()
	ServeFile(rec, req, path)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1000", rec.Header().Get("Content-Length"))
	assert.Zero(t, rec.Body.Len())
}

func TestContentTypeForPath(t *testing.T) {
	assert.Equal(t, "video/mp4", ContentTypeForPath("a/b/c.mp4"))
	assert.Equal(t, "video/mp2t", ContentTypeForPath("segment_003.ts"))
	assert.Equal(t, "application/vnd.apple.mpegurl", ContentTypeForPath("playlist.m3u8"))
	assert.Equal(t, "image/jpeg", ContentTypeForPath("thumb.JPG"))
	assert.Equal(t, "application/octet-stream", ContentTypeForPath("noext"))
}
