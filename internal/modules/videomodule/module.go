// Package videomodule owns source videos and their fixed-duration time
// chunks: upload, ingest, the chunking pipeline, the time index and the
// range-aware playback endpoints.
package videomodule

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/chunkstream/internal/config"
	"github.com/mantonx/chunkstream/internal/database"
	"github.com/mantonx/chunkstream/internal/events"
	"github.com/mantonx/chunkstream/internal/ffmpeg"
	"github.com/mantonx/chunkstream/internal/jobs"
	"github.com/mantonx/chunkstream/internal/logger"
	"github.com/mantonx/chunkstream/internal/modules/modulemanager"
)

// Module is the video feature module.
type Module struct {
	db        *gorm.DB
	log       hclog.Logger
	chunker   *Chunker
	timeIndex *TimeIndex
	ingest    *IngestWatcher
	videosDir string
	chunksDir string
}

func init() {
	modulemanager.Register(&Module{})
}

func (m *Module) ID() string   { return "system.videos" }
func (m *Module) Name() string { return "Video Management" }

// Migrate creates the video and chunk tables.
func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&database.Video{}, &database.VideoChunk{})
}

// Init wires the transcoder, pipeline and time index from configuration.
func (m *Module) Init() error {
	cfg := config.Get()
	m.db = database.GetDB()
	m.log = logger.Named("videomodule")
	m.videosDir = cfg.VideosDir()
	m.chunksDir = cfg.ChunksDir()

	runner := ffmpeg.NewCommandRunner()
	prober := ffmpeg.NewProber(cfg.FFmpeg.FFprobePath, cfg.FFmpeg.ProbeTimeout, runner, m.log.Named("probe"))
	writer := ffmpeg.NewSegmentWriter(cfg.FFmpeg.FFmpegPath, cfg.FFmpeg.EncodeTimeout,
		ffmpeg.SegmentOptions{Preset: cfg.FFmpeg.Preset, CRF: cfg.FFmpeg.CRF},
		runner, m.log.Named("segment"))

	m.chunker = NewChunker(m.db, prober, writer, jobs.GetRegistry(), events.GetGlobalEventBus(),
		m.log.Named("chunker"), m.videosDir, m.chunksDir,
		cfg.Media.ChunkDuration, cfg.Media.ChunkWorkers)
	m.timeIndex = NewTimeIndex(m.db, writer, m.log.Named("timeindex"), m.chunksDir)

	if cfg.Media.WatchIncoming {
		m.ingest = NewIngestWatcher(m.db, m.chunker, m.log.Named("ingest"),
			cfg.Media.IncomingDir, m.videosDir, cfg.Media.IngestSettle)
		if err := m.ingest.Start(); err != nil {
			return err
		}
	}

	m.log.Info("video module initialized",
		"chunk_duration", cfg.Media.ChunkDuration,
		"chunk_workers", cfg.Media.ChunkWorkers,
		"watch_incoming", cfg.Media.WatchIncoming)
	return nil
}

// Shutdown stops the ingest watcher. In-flight chunk jobs finish on their
// own; their files and rows are consistent either way.
func (m *Module) Shutdown(ctx context.Context) error {
	if m.ingest != nil {
		m.ingest.Stop()
	}
	return nil
}

// RegisterRoutes mounts the video endpoints.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/videos")
	{
		api.POST("", m.uploadVideo)
		api.GET("", m.listVideos)
		api.GET("/:id", m.getVideo)
		api.GET("/:id/stream", m.streamVideo)
		api.GET("/:id/chunks", m.listChunks)
		api.GET("/:id/chunks/:index", m.streamChunk)
		api.POST("/:id/chunk", m.chunkVideo)
		api.GET("/:id/chunk-at", m.chunkAt)
		api.GET("/:id/frame", m.framePreview)
	}
}
