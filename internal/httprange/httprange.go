// Package httprange serves files honoring HTTP byte-range requests. It is
// the single path through which whole videos, time chunks, and HLS segments
// reach clients.
package httprange

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrRangeNotSatisfiable is returned when the parsed range starts at or past
// the end of the file, or is inverted.
var ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")

// ErrInvalidRange is returned for a Range header that is present but not of
// the form "bytes=<start>-<end>".
var ErrInvalidRange = errors.New("invalid range header")

// copyBufferSize bounds how much of a file is held in memory at once while
// streaming a response.
const copyBufferSize = 64 * 1024

// ByteRange is an inclusive byte interval within a file of known size.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes covered by the range.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ParseRange parses a Range header against a file of the given size.
// An empty header yields (nil, nil), meaning "serve the whole file".
// Satisfiable ranges are clamped so End never exceeds size-1.
func ParseRange(header string, size int64) (*ByteRange, error) {
	if header == "" {
		return nil, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, ErrInvalidRange
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, ErrInvalidRange
	}

	r := ByteRange{Start: 0, End: size - 1}

	if startStr != "" {
		start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
		if err != nil || start < 0 {
			return nil, ErrInvalidRange
		}
		r.Start = start
	}

	if endStr != "" {
		end, err := strconv.ParseInt(strings.TrimSpace(endStr), 10, 64)
		if err != nil || end < 0 {
			return nil, ErrInvalidRange
		}
		r.End = end
	}

	if r.End > size-1 {
		r.End = size - 1
	}

	if r.Start > r.End || r.Start >= size {
		return nil, ErrRangeNotSatisfiable
	}

	return &r, nil
}

// ServeFile serves the file at path, honoring the request's Range header.
// It writes the complete response including error statuses; the returned
// error is for logging only. A missing file yields 404.
func ServeFile(w http.ResponseWriter, req *http.Request, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return err
		}
		http.Error(w, "failed to open file", http.StatusInternalServerError)
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		if err == nil {
			err = fmt.Errorf("%s is a directory", path)
		}
		return err
	}
	size := info.Size()

	br, err := ParseRange(req.Header.Get("Range"), size)
	if err != nil {
		// Treat a malformed header the same as an out-of-bounds one: the
		// client asked for something we cannot serve, and no partial I/O
		// has happened yet.
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return err
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", ContentTypeForPath(path))

	if br == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if req.Method == http.MethodHead {
			return nil
		}
		return copyRange(req, w, f, size)
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", br.Start, br.End, size))
	w.Header().Set("Content-Length", strconv.FormatInt(br.Length(), 10))
	w.WriteHeader(http.StatusPartialContent)
	if req.Method == http.MethodHead {
		return nil
	}

	if _, err := f.Seek(br.Start, io.SeekStart); err != nil {
		return err
	}
	return copyRange(req, w, f, br.Length())
}

// copyRange forwards up to n bytes from r to w in bounded chunks, stopping
// early if the source runs short or the client goes away.
func copyRange(req *http.Request, w io.Writer, r io.Reader, n int64) error {
	buf := make([]byte, copyBufferSize)
	remaining := n

	for remaining > 0 {
		select {
		case <-req.Context().Done():
			return req.Context().Err()
		default:
		}

		chunk := int64(len(buf))
		if remaining < chunk {
			chunk = remaining
		}

		read, err := r.Read(buf[:chunk])
		if read > 0 {
			if _, werr := w.Write(buf[:read]); werr != nil {
				return werr
			}
			remaining -= int64(read)
		}
		if err == io.EOF {
			// Source shorter than expected; we already sent what exists.
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ContentTypeForPath picks a content type from the file extension. Content
// sniffing is deliberately avoided so seeking into the middle of a video
// never changes the reported type.
func ContentTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	case ".ts":
		return "video/mp2t"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
