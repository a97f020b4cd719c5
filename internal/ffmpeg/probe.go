package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ErrNoVideoStream is returned when the probed file contains no video stream.
var ErrNoVideoStream = errors.New("no video stream found")

// ErrInvalidDuration is returned when the probed duration is missing or
// non-positive.
var ErrInvalidDuration = errors.New("invalid media duration")

// ProbeError wraps a failed ffprobe invocation with the tail of its output.
type ProbeError struct {
	Path   string
	Output string
	Err    error
}

func (e *ProbeError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("probe %s: %v: %s", e.Path, e.Err, e.Output)
	}
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// MediaInfo is the subset of stream metadata the pipelines need.
type MediaInfo struct {
	DurationSeconds float64
	FrameRate       float64
	Width           int
	Height          int
}

// Prober extracts media metadata via ffprobe.
type Prober struct {
	bin     string
	timeout time.Duration
	runner  Runner
	log     hclog.Logger
}

// NewProber creates a Prober that invokes the given ffprobe binary with a
// per-call timeout.
func NewProber(bin string, timeout time.Duration, runner Runner, log hclog.Logger) *Prober {
	return &Prober{bin: bin, timeout: timeout, runner: runner, log: log}
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width,omitempty"`
		Height     int    `json:"height,omitempty"`
		RFrameRate string `json:"r_frame_rate,omitempty"`
		Duration   string `json:"duration,omitempty"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects the file at path and returns its duration, frame rate and
// pixel dimensions. Files without a video stream or with a non-positive
// duration are rejected.
func (p *Prober) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	output, err := p.runner.Run(ctx, p.bin, args...)
	if err != nil {
		p.log.Error("ffprobe failed", "path", path, "error", err)
		return nil, &ProbeError{Path: path, Output: outputTail(output, 5), Err: err}
	}

	var data ffprobeOutput
	if err := json.Unmarshal(output, &data); err != nil {
		return nil, &ProbeError{Path: path, Err: fmt.Errorf("parse ffprobe output: %w", err)}
	}

	info := &MediaInfo{}

	if data.Format.Duration != "" {
		if d, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil {
			info.DurationSeconds = d
		}
	}

	videoFound := false
	for _, stream := range data.Streams {
		if stream.CodecType != "video" || videoFound {
			continue
		}
		videoFound = true
		info.Width = stream.Width
		info.Height = stream.Height
		info.FrameRate = parseFrameRate(stream.RFrameRate)

		// Some containers only carry duration on the stream.
		if info.DurationSeconds == 0 && stream.Duration != "" {
			if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
				info.DurationSeconds = d
			}
		}
	}

	if !videoFound {
		return nil, &ProbeError{Path: path, Err: ErrNoVideoStream}
	}
	if info.DurationSeconds <= 0 {
		return nil, &ProbeError{Path: path, Err: ErrInvalidDuration}
	}

	p.log.Debug("probed media",
		"path", path,
		"duration", info.DurationSeconds,
		"resolution", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"fps", info.FrameRate)

	return info, nil
}

// parseFrameRate converts ffprobe's rational "num/den" form to a float.
// Returns 0 for missing or degenerate values.
func parseFrameRate(raw string) float64 {
	if raw == "" {
		return 0
	}
	num, den, ok := strings.Cut(raw, "/")
	if !ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
		return 0
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
