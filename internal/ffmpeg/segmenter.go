package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
)

// thumbnailScale is the ffmpeg scale filter for preview thumbnails.
const thumbnailScale = "160:90"

// EncodeError wraps a failed ffmpeg invocation with the tail of its output.
type EncodeError struct {
	Output string
	Err    error
}

func (e *EncodeError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("ffmpeg: %v: %s", e.Err, e.Output)
	}
	return fmt.Sprintf("ffmpeg: %v", e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// SegmentOptions tunes the encoder for cut segments.
type SegmentOptions struct {
	Preset string
	CRF    int
}

// SegmentWriter drives ffmpeg to cut segments, extract frames, render
// thumbnails and produce HLS renditions. Every call runs under the
// configured encode timeout.
type SegmentWriter struct {
	bin     string
	timeout time.Duration
	opts    SegmentOptions
	runner  Runner
	log     hclog.Logger
}

// NewSegmentWriter creates a SegmentWriter for the given ffmpeg binary.
func NewSegmentWriter(bin string, timeout time.Duration, opts SegmentOptions, runner Runner, log hclog.Logger) *SegmentWriter {
	if opts.Preset == "" {
		opts.Preset = "fast"
	}
	if opts.CRF == 0 {
		opts.CRF = 23
	}
	return &SegmentWriter{bin: bin, timeout: timeout, opts: opts, runner: runner, log: log}
}

// WriteSegment re-encodes the interval [start, start+duration) of src into
// dst. The output is verified to exist and be non-empty; on failure any
// partial file is removed.
func (w *SegmentWriter) WriteSegment(ctx context.Context, src, dst string, start, duration float64) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	args := []string{
		"-y",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(duration),
		"-i", src,
		"-c:v", "libx264",
		"-preset", w.opts.Preset,
		"-crf", strconv.Itoa(w.opts.CRF),
		"-c:a", "aac",
		"-avoid_negative_ts", "make_zero",
		dst,
	}

	output, err := w.runner.Run(ctx, w.bin, args...)
	if err != nil {
		os.Remove(dst)
		w.log.Error("segment encode failed", "src", src, "start", start, "error", err)
		return &EncodeError{Output: outputTail(output, 5), Err: err}
	}

	return verifyOutput(dst)
}

// WriteFrame extracts the single frame at offset seconds into src and
// returns it as JPEG bytes.
func (w *SegmentWriter) WriteFrame(ctx context.Context, src string, offset float64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	tmp, err := os.CreateTemp("", "frame-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("create frame temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	args := []string{
		"-y",
		"-ss", formatSeconds(offset),
		"-i", src,
		"-frames:v", "1",
		"-q:v", "2",
		tmpPath,
	}

	output, err := w.runner.Run(ctx, w.bin, args...)
	if err != nil {
		w.log.Error("frame extract failed", "src", src, "offset", offset, "error", err)
		return nil, &EncodeError{Output: outputTail(output, 5), Err: err}
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("read extracted frame: %w", err)
	}
	if len(data) == 0 {
		return nil, &EncodeError{Err: fmt.Errorf("empty frame at offset %s", formatSeconds(offset))}
	}
	return data, nil
}

// WriteThumbnail renders a small preview frame at offset seconds into dst.
func (w *SegmentWriter) WriteThumbnail(ctx context.Context, src, dst string, offset float64) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	args := []string{
		"-y",
		"-ss", formatSeconds(offset),
		"-i", src,
		"-frames:v", "1",
		"-vf", "scale=" + thumbnailScale,
		"-q:v", "5",
		dst,
	}

	output, err := w.runner.Run(ctx, w.bin, args...)
	if err != nil {
		os.Remove(dst)
		return &EncodeError{Output: outputTail(output, 5), Err: err}
	}
	return verifyOutput(dst)
}

// WriteRendition transcodes src into a segmented HLS rendition under dir,
// scaled to the given height with the given video bitrate. It writes
// playlist.m3u8 plus segment_%03d.ts files and verifies the playlist.
func (w *SegmentWriter) WriteRendition(ctx context.Context, src, dir string, height, bitrate, segmentSeconds int) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create rendition dir: %w", err)
	}

	playlist := filepath.Join(dir, "playlist.m3u8")
	args := []string{
		"-y",
		"-i", src,
		"-vf", fmt.Sprintf("scale=-2:%d", height),
		"-c:v", "libx264",
		"-preset", w.opts.Preset,
		"-b:v", strconv.Itoa(bitrate),
		"-c:a", "aac",
		"-f", "segment",
		"-segment_time", strconv.Itoa(segmentSeconds),
		"-segment_list", playlist,
		"-segment_list_type", "m3u8",
		filepath.Join(dir, "segment_%03d.ts"),
	}

	output, err := w.runner.Run(ctx, w.bin, args...)
	if err != nil {
		w.log.Error("rendition encode failed", "src", src, "height", height, "error", err)
		return &EncodeError{Output: outputTail(output, 5), Err: err}
	}

	return verifyOutput(playlist)
}

// verifyOutput rejects missing or zero-byte encoder output; ffmpeg can exit
// zero and still write nothing useful when the input seek lands past EOF.
func verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &EncodeError{Err: fmt.Errorf("output missing: %w", err)}
	}
	if info.Size() == 0 {
		os.Remove(path)
		return &EncodeError{Err: fmt.Errorf("output empty: %s", path)}
	}
	return nil
}

// formatSeconds renders a time offset the way ffmpeg expects, without
// exponent notation for large values.
func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
