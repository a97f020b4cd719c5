package playbackmodule

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/chunkstream/internal/config"
	"github.com/mantonx/chunkstream/internal/database"
	"github.com/mantonx/chunkstream/internal/events"
	"github.com/mantonx/chunkstream/internal/ffmpeg"
	"github.com/mantonx/chunkstream/internal/jobs"
)

// prober and renditionWriter are the transcoder surface the generator
// needs; tests install fakes.
type prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

type renditionWriter interface {
	WriteRendition(ctx context.Context, src, dir string, height, bitrate, segmentSeconds int) error
	WriteThumbnail(ctx context.Context, src, dst string, offset float64) error
}

// GenerationError reports a failed adaptive bitrate run.
type GenerationError struct {
	VideoID string
	Cause   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("hls generation for video %s: %v", e.VideoID, e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// Generator produces the per-video HLS tree: one directory per quality
// rung, timeline thumbnails, and a master playlist written only once every
// referenced rung is verified on disk.
type Generator struct {
	prober    prober
	writer    renditionWriter
	registry  *jobs.Registry
	bus       events.EventBus
	log       hclog.Logger
	videosDir string
	hlsDir    string
	hls       config.HLSConfig
}

// NewGenerator assembles an adaptive bitrate pipeline.
func NewGenerator(p prober, w renditionWriter, registry *jobs.Registry, bus events.EventBus, log hclog.Logger, videosDir, hlsDir string, hls config.HLSConfig) *Generator {
	return &Generator{
		prober:    p,
		writer:    w,
		registry:  registry,
		bus:       bus,
		log:       log,
		videosDir: videosDir,
		hlsDir:    hlsDir,
		hls:       hls,
	}
}

// VideoDir returns the root of a video's HLS tree.
func (g *Generator) VideoDir(videoID string) string {
	return filepath.Join(g.hlsDir, videoID)
}

// MasterPath returns the master playlist path. Its existence is the
// "generation complete" marker.
func (g *Generator) MasterPath(videoID string) string {
	return filepath.Join(g.VideoDir(videoID), "master.m3u8")
}

// EnsureGenerated serves the idempotent path: an existing master playlist
// short-circuits, otherwise a full generation runs.
func (g *Generator) EnsureGenerated(ctx context.Context, video *database.Video) error {
	if _, err := os.Stat(g.MasterPath(video.ID)); err == nil {
		return nil
	}
	return g.Generate(ctx, video)
}

// Generate runs the full pipeline, regenerating in place if output already
// exists. A concurrent job for the same video fails fast with
// jobs.ErrAlreadyRunning.
func (g *Generator) Generate(ctx context.Context, video *database.Video) error {
	job, err := g.registry.Begin(video.ID, jobs.KindGeneration)
	if err != nil {
		return err
	}
	defer g.registry.Finish(job)

	if err := g.registry.Acquire(ctx); err != nil {
		return &GenerationError{VideoID: video.ID, Cause: err}
	}
	defer g.registry.Release()

	g.bus.Publish(events.Event{Type: events.EventGenerationStarted, VideoID: video.ID})

	variants, err := g.generate(ctx, video)
	if err != nil {
		g.bus.Publish(events.Event{
			Type:    events.EventGenerationFailed,
			VideoID: video.ID,
			Data:    map[string]interface{}{"error": err.Error()},
		})
		return err
	}

	names := make([]string, len(variants))
	for i, v := range variants {
		names[i] = v.Name
	}
	g.bus.Publish(events.Event{
		Type:    events.EventGenerationCompleted,
		VideoID: video.ID,
		Data:    map[string]interface{}{"qualities": names},
	})
	return nil
}

func (g *Generator) generate(ctx context.Context, video *database.Video) ([]Variant, error) {
	src := filepath.Join(g.videosDir, video.Filename)

	info, err := g.prober.Probe(ctx, src)
	if err != nil {
		return nil, &GenerationError{VideoID: video.ID, Cause: err}
	}

	root := g.VideoDir(video.ID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &GenerationError{VideoID: video.ID, Cause: err}
	}

	ladder := g.ladderFor(info.Height)

	var variants []Variant
	for _, q := range ladder {
		dir := filepath.Join(root, q.Name)

		if err := g.writer.WriteRendition(ctx, src, dir, q.Height, q.Bitrate, g.hls.SegmentDuration); err != nil {
			// One broken rung must not take down the rest of the ladder.
			g.log.Error("rendition failed, skipping rung",
				"video_id", video.ID, "quality", q.Name, "error", err)
			os.RemoveAll(dir)
			continue
		}

		variants = append(variants, Variant{
			Name:      q.Name,
			URI:       q.Name + "/playlist.m3u8",
			Bandwidth: q.Bitrate,
			Width:     variantWidth(info.Width, info.Height, q.Height),
			Height:    q.Height,
		})
		g.bus.Publish(events.Event{
			Type:    events.EventRenditionReady,
			VideoID: video.ID,
			Data:    map[string]interface{}{"quality": q.Name},
		})
	}

	if len(variants) == 0 {
		return nil, &GenerationError{VideoID: video.ID, Cause: fmt.Errorf("no rendition succeeded")}
	}

	g.writeThumbnails(ctx, video.ID, src, info.DurationSeconds)

	if err := g.writeMaster(video.ID, variants); err != nil {
		return nil, &GenerationError{VideoID: video.ID, Cause: err}
	}

	g.log.Info("hls generation complete",
		"video_id", video.ID, "qualities", len(variants))
	return variants, nil
}

// ladderFor filters the configured rungs to those at or below the source
// height. A source below the smallest rung gets a single rung at native
// height, named for that height, so low-resolution videos still stream.
func (g *Generator) ladderFor(sourceHeight int) []config.Quality {
	var ladder []config.Quality
	for _, q := range g.hls.Qualities {
		if sourceHeight <= 0 || q.Height <= sourceHeight {
			ladder = append(ladder, q)
		}
	}
	if len(ladder) > 0 {
		return ladder
	}

	lowest := g.hls.Qualities[0]
	for _, q := range g.hls.Qualities[1:] {
		if q.Height < lowest.Height {
			lowest = q
		}
	}
	lowest.Name = fmt.Sprintf("%dp", sourceHeight)
	lowest.Height = sourceHeight
	return []config.Quality{lowest}
}

// writeMaster writes the master playlist atomically. Until the rename lands
// no reader can mistake a partial tree for a finished one.
func (g *Generator) writeMaster(videoID string, variants []Variant) error {
	master := g.MasterPath(videoID)
	tmp := master + ".tmp"

	if err := os.WriteFile(tmp, []byte(RenderMaster(variants)), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, master); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// writeThumbnails samples the timeline at the configured interval. Failures
// are logged and skipped; playback never depends on thumbnails.
func (g *Generator) writeThumbnails(ctx context.Context, videoID, src string, duration float64) {
	dir := filepath.Join(g.VideoDir(videoID), "thumbnails")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		g.log.Warn("failed to create thumbnails dir", "video_id", videoID, "error", err)
		return
	}

	count := int(math.Ceil(duration / g.hls.ThumbnailInterval))
	if count < 1 {
		count = 1
	}

	for i := 0; i < count; i++ {
		offset := float64(i) * g.hls.ThumbnailInterval
		dst := filepath.Join(dir, fmt.Sprintf("thumb_%03d.jpg", i))
		if err := g.writer.WriteThumbnail(ctx, src, dst, offset); err != nil {
			g.log.Warn("thumbnail failed, skipping",
				"video_id", videoID, "offset", offset, "error", err)
		}
	}
}

// Clean removes the whole per-video HLS tree. A missing tree is fine.
func (g *Generator) Clean(videoID string) error {
	if err := os.RemoveAll(g.VideoDir(videoID)); err != nil {
		return &GenerationError{VideoID: videoID, Cause: err}
	}
	g.bus.Publish(events.Event{Type: events.EventStreamCleaned, VideoID: videoID})
	return nil
}
