// Package playbackmodule owns adaptive bitrate delivery: HLS generation,
// master/rung playlists, segment serving and scrub-bar thumbnails.
package playbackmodule

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

// Module is the playback feature module.
type Module struct {
	db         *gorm.DB
	log        hclog.Logger
	generator  *Generator
	enableWebP bool
}

func init() {
	modulemanager.Register(&Module{})
}

func (m *Module) ID() string   { return "system.playback" }
func (m *Module) Name() string { return "Adaptive Playback" }

// Migrate is a no-op; playback reads the video table owned by the video
// module.
func (m *Module) Migrate(db *gorm.DB) error { return nil }

// Init wires the generator from configuration.
func (m *Module) Init() error {
	cfg := config.Get()
	m.db = database.GetDB()
	m.log = logger.Named("playbackmodule")
	m.enableWebP = cfg.HLS.EnableWebP

	runner := ffmpeg.NewCommandRunner()
	prober := ffmpeg.NewProber(cfg.FFmpeg.FFprobePath, cfg.FFmpeg.ProbeTimeout, runner, m.log.Named("probe"))
	writer := ffmpeg.NewSegmentWriter(cfg.FFmpeg.FFmpegPath, cfg.FFmpeg.EncodeTimeout,
		ffmpeg.SegmentOptions{Preset: cfg.FFmpeg.Preset, CRF: cfg.FFmpeg.CRF},
		runner, m.log.Named("rendition"))

	m.generator = NewGenerator(prober, writer, jobs.GetRegistry(), events.GetGlobalEventBus(),
		m.log.Named("generator"), cfg.VideosDir(), cfg.HLSDir(), cfg.HLS)

	m.log.Info("playback module initialized",
		"qualities", len(cfg.HLS.Qualities),
		"segment_duration", cfg.HLS.SegmentDuration)
	return nil
}

func (m *Module) Shutdown(ctx context.Context) error { return nil }

// RegisterRoutes mounts the HLS endpoints. Assets share one wildcard route;
// the handler dispatches on the path below the video id.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/hls")
	{
		api.POST("/:id/generate", m.generateStream)
		api.DELETE("/:id", m.cleanStream)
		api.GET("/:id/*asset", m.serveAsset)
	}
}
