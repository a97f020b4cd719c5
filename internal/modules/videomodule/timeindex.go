package videomodule

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/chunkstream/internal/database"
)

// ErrChunkNotFound is returned when no active chunk covers the requested
// timestamp.
var ErrChunkNotFound = errors.New("no chunk covers timestamp")

// ErrFrameNotAvailable is returned when the covering chunk exists but a
// frame cannot be produced from it.
var ErrFrameNotAvailable = errors.New("frame not available")

// TimeIndex resolves timestamps to active chunks and serves frame previews
// from chunk files.
type TimeIndex struct {
	db        *gorm.DB
	writer    segmentWriter
	log       hclog.Logger
	chunksDir string
}

// NewTimeIndex creates a TimeIndex over the chunk store.
func NewTimeIndex(db *gorm.DB, w segmentWriter, log hclog.Logger, chunksDir string) *TimeIndex {
	return &TimeIndex{db: db, writer: w, log: log, chunksDir: chunksDir}
}

// LookupChunk returns the active chunk covering timestamp t. Chunk
// intervals are closed, so t equal to the video's total duration resolves
// to the last chunk; anything beyond it misses. On a shared boundary both
// neighbours match and the earlier chunk wins.
func (idx *TimeIndex) LookupChunk(videoID string, t float64) (*database.VideoChunk, error) {
	if t < 0 {
		return nil, fmt.Errorf("%w: negative timestamp %v", ErrChunkNotFound, t)
	}
	t = roundTime(t)

	var chunk database.VideoChunk
	err := idx.db.
		Where("video_id = ? AND is_active = ? AND start_time <= ? AND end_time >= ?",
			videoID, true, t, t).
		Order("chunk_index ASC").
		First(&chunk).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChunkNotFound
		}
		return nil, fmt.Errorf("lookup chunk: %w", err)
	}
	return &chunk, nil
}

// FramePreview extracts a JPEG frame for timestamp t. The frame is cut from
// the covering chunk file at the chunk-relative offset, so only one small
// file is touched regardless of source length.
func (idx *TimeIndex) FramePreview(ctx context.Context, videoID string, t float64) ([]byte, error) {
	chunk, err := idx.LookupChunk(videoID, t)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(idx.chunksDir, chunk.Filename)
	if _, err := os.Stat(path); err != nil {
		// Row exists but the file is gone; metadata has drifted from disk.
		idx.log.Warn("chunk file missing for frame preview",
			"video_id", videoID, "chunk_index", chunk.ChunkIndex, "path", path)
		return nil, fmt.Errorf("%w: chunk file missing", ErrFrameNotAvailable)
	}

	offset := roundTime(roundTime(t) - chunk.StartTime)
	data, err := idx.writer.WriteFrame(ctx, path, offset)
	if err != nil {
		idx.log.Error("frame extraction failed",
			"video_id", videoID, "chunk_index", chunk.ChunkIndex, "offset", offset, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrFrameNotAvailable, err)
	}
	return data, nil
}
