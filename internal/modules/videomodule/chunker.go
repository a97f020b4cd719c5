package videomodule

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/mantonx/chunkstream/internal/database"
	"github.com/mantonx/chunkstream/internal/events"
	"github.com/mantonx/chunkstream/internal/ffmpeg"
	"github.com/mantonx/chunkstream/internal/jobs"
)

// prober and segmentWriter are the transcoder surface the pipeline needs;
// tests install fakes.
type prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

type segmentWriter interface {
	WriteSegment(ctx context.Context, src, dst string, start, duration float64) error
	WriteFrame(ctx context.Context, src string, offset float64) ([]byte, error)
}

// ChunkingError reports which chunk broke the pipeline. Index is -1 when
// the failure happened before any cutting (probe, setup).
type ChunkingError struct {
	VideoID string
	Index   int
	Cause   error
}

func (e *ChunkingError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("chunking video %s: %v", e.VideoID, e.Cause)
	}
	return fmt.Sprintf("chunking video %s: chunk %d: %v", e.VideoID, e.Index, e.Cause)
}

func (e *ChunkingError) Unwrap() error { return e.Cause }

// Chunker cuts uploaded videos into fixed-duration chunks and commits the
// batch atomically. One run per video at a time, enforced by the job
// registry.
type Chunker struct {
	db        *gorm.DB
	prober    prober
	writer    segmentWriter
	registry  *jobs.Registry
	bus       events.EventBus
	log       hclog.Logger
	videosDir string
	chunksDir string
	duration  float64
	workers   int
}

// NewChunker assembles a time-chunking pipeline.
func NewChunker(db *gorm.DB, p prober, w segmentWriter, registry *jobs.Registry, bus events.EventBus, log hclog.Logger, videosDir, chunksDir string, chunkDuration float64, workers int) *Chunker {
	if workers < 1 {
		workers = 1
	}
	return &Chunker{
		db:        db,
		prober:    p,
		writer:    w,
		registry:  registry,
		bus:       bus,
		log:       log,
		videosDir: videosDir,
		chunksDir: chunksDir,
		duration:  chunkDuration,
		workers:   workers,
	}
}

// ChunkVideo runs the pipeline synchronously. A concurrent run for the same
// video fails fast with jobs.ErrAlreadyRunning.
func (c *Chunker) ChunkVideo(ctx context.Context, video *database.Video) ([]database.VideoChunk, error) {
	job, err := c.registry.Begin(video.ID, jobs.KindChunking)
	if err != nil {
		return nil, err
	}
	defer c.registry.Finish(job)

	return c.run(ctx, video)
}

// ChunkVideoAsync claims the video's job slot synchronously so callers can
// report conflicts, then runs the pipeline in the background.
func (c *Chunker) ChunkVideoAsync(video *database.Video) error {
	job, err := c.registry.Begin(video.ID, jobs.KindChunking)
	if err != nil {
		return err
	}

	go func() {
		defer c.registry.Finish(job)
		if _, err := c.run(context.Background(), video); err != nil {
			c.log.Error("background chunking failed", "video_id", video.ID, "error", err)
		}
	}()
	return nil
}

func (c *Chunker) run(ctx context.Context, video *database.Video) ([]database.VideoChunk, error) {
	if err := c.registry.Acquire(ctx); err != nil {
		return nil, &ChunkingError{VideoID: video.ID, Index: -1, Cause: err}
	}
	defer c.registry.Release()

	c.bus.Publish(events.Event{Type: events.EventChunkingStarted, VideoID: video.ID})

	chunks, err := c.cutAndCommit(ctx, video)
	if err != nil {
		c.bus.Publish(events.Event{
			Type:    events.EventChunkingFailed,
			VideoID: video.ID,
			Data:    map[string]interface{}{"error": err.Error()},
		})
		return nil, err
	}

	c.bus.Publish(events.Event{
		Type:    events.EventChunkingCompleted,
		VideoID: video.ID,
		Data:    map[string]interface{}{"chunk_count": len(chunks)},
	})
	return chunks, nil
}

func (c *Chunker) cutAndCommit(ctx context.Context, video *database.Video) ([]database.VideoChunk, error) {
	src := filepath.Join(c.videosDir, video.Filename)

	info, err := c.prober.Probe(ctx, src)
	if err != nil {
		return nil, &ChunkingError{VideoID: video.ID, Index: -1, Cause: err}
	}

	if err := os.MkdirAll(c.chunksDir, 0o755); err != nil {
		return nil, &ChunkingError{VideoID: video.ID, Index: -1, Cause: err}
	}

	total := roundTime(info.DurationSeconds)
	count := int(math.Ceil(total / c.duration))
	if count < 1 {
		count = 1
	}

	// Filenames carry a batch id so a re-chunk never writes over the
	// previous active set's files: a failed run can only remove its own
	// batch, and readers holding old files open are undisturbed.
	batchID := uuid.New().String()[:8]

	c.log.Info("chunking video",
		"video_id", video.ID,
		"duration", total,
		"chunk_duration", c.duration,
		"chunk_count", count,
		"workers", c.workers)

	staged := make([]*database.VideoChunk, count)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i := 0; i < count; i++ {
		i := i
		g.Go(func() error {
			start := roundTime(float64(i) * c.duration)
			end := roundTime(math.Min(float64(i+1)*c.duration, total))

			filename := fmt.Sprintf("%s_%s_chunk_%03d.mp4", video.ID, batchID, i)
			dst := filepath.Join(c.chunksDir, filename)

			if err := c.writer.WriteSegment(gctx, src, dst, start, end-start); err != nil {
				return &ChunkingError{VideoID: video.ID, Index: i, Cause: err}
			}

			stat, err := os.Stat(dst)
			if err != nil {
				return &ChunkingError{VideoID: video.ID, Index: i, Cause: err}
			}

			chunk := &database.VideoChunk{
				ID:         uuid.New().String(),
				VideoID:    video.ID,
				ChunkIndex: i,
				Filename:   filename,
				StartTime:  start,
				EndTime:    end,
				Duration:   roundTime(end - start),
				SizeBytes:  stat.Size(),
				IsActive:   true,
			}
			if info.FrameRate > 0 {
				fps := info.FrameRate
				chunk.FPS = &fps
			}
			if info.Width > 0 && info.Height > 0 {
				w, h := info.Width, info.Height
				chunk.Width = &w
				chunk.Height = &h
			}

			mu.Lock()
			staged[i] = chunk
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.removeStaged(staged)
		return nil, err
	}

	chunks := make([]database.VideoChunk, count)
	for i, chunk := range staged {
		chunks[i] = *chunk
	}

	// All files exist; swap the active set in one transaction so readers
	// never see a partial batch.
	err = c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&database.VideoChunk{}).
			Where("video_id = ? AND is_active = ?", video.ID, true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		if err := tx.Create(&chunks).Error; err != nil {
			return err
		}
		return tx.Model(&database.Video{}).
			Where("id = ?", video.ID).
			Update("duration", total).Error
	})
	if err != nil {
		c.removeStaged(staged)
		return nil, &ChunkingError{VideoID: video.ID, Index: -1, Cause: err}
	}

	return chunks, nil
}

// removeStaged deletes any chunk files written before a failed run; the
// previous active set stays untouched.
func (c *Chunker) removeStaged(staged []*database.VideoChunk) {
	for _, chunk := range staged {
		if chunk == nil {
			continue
		}
		path := filepath.Join(c.chunksDir, chunk.Filename)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.log.Warn("failed to remove staged chunk", "path", path, "error", err)
		}
	}
}

// roundTime normalizes a second offset to millisecond precision so
// boundary comparisons are stable across the probe/store/query path.
func roundTime(v float64) float64 {
	return math.Round(v*1000) / 1000
}
