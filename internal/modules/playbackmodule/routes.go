package playbackmodule

import (
	"errors"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mantonx/chunkstream/internal/database"
	"github.com/mantonx/chunkstream/internal/httprange"
	"github.com/mantonx/chunkstream/internal/jobs"
)

// assetNamePattern constrains every path element below the video id so the
// wildcard route can never escape the video's HLS tree.
var assetNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// generateStream starts an explicit regeneration.
func (m *Module) generateStream(c *gin.Context) {
	video, ok := m.loadVideo(c)
	if !ok {
		return
	}

	if err := m.generator.Generate(c.Request.Context(), video); err != nil {
		if errors.Is(err, jobs.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "generation in progress"})
			return
		}
		correlationID := uuid.New().String()
		m.log.Error("hls generation failed",
			"video_id", video.ID, "correlation_id", correlationID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":          "hls generation failed",
			"correlation_id": correlationID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"video_id": video.ID,
		"status":   "generated",
	})
}

// cleanStream removes the video's HLS tree. Idempotent.
func (m *Module) cleanStream(c *gin.Context) {
	videoID := c.Param("id")
	if !assetNamePattern.MatchString(videoID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return
	}

	if err := m.generator.Clean(videoID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"video_id": videoID, "status": "cleaned"})
}

// serveAsset dispatches the wildcard below /api/hls/:id to the master
// playlist, a rung playlist, a segment, or a thumbnail.
func (m *Module) serveAsset(c *gin.Context) {
	parts, ok := splitAssetPath(c.Param("asset"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset path"})
		return
	}

	switch {
	case len(parts) == 1 && parts[0] == "master.m3u8":
		m.serveMaster(c)
	case len(parts) == 2 && parts[0] == "thumbnails":
		m.serveThumbnail(c, parts[1])
	case len(parts) == 2:
		m.serveRenditionFile(c, parts[0], parts[1])
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
	}
}

// serveMaster serves the master playlist, generating the stream first if it
// does not exist yet.
func (m *Module) serveMaster(c *gin.Context) {
	video, ok := m.loadVideo(c)
	if !ok {
		return
	}

	if err := m.generator.EnsureGenerated(c.Request.Context(), video); err != nil {
		if errors.Is(err, jobs.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "generation in progress"})
			return
		}
		correlationID := uuid.New().String()
		m.log.Error("hls generation failed",
			"video_id", video.ID, "correlation_id", correlationID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":          "hls generation failed",
			"correlation_id": correlationID,
		})
		return
	}

	httprange.ServeFile(c.Writer, c.Request, m.generator.MasterPath(video.ID))
}

// serveRenditionFile serves a rung playlist or segment with range support.
func (m *Module) serveRenditionFile(c *gin.Context, quality, name string) {
	videoID := c.Param("id")
	path := filepath.Join(m.generator.VideoDir(videoID), quality, name)
	httprange.ServeFile(c.Writer, c.Request, path)
}

// serveThumbnail serves one scrub-bar thumbnail, re-encoded to WebP when
// requested and enabled.
func (m *Module) serveThumbnail(c *gin.Context, name string) {
	videoID := c.Param("id")
	path := filepath.Join(m.generator.VideoDir(videoID), "thumbnails", name)

	asWebP := m.enableWebP && c.Query("format") == "webp"
	data, contentType, err := thumbnailBytes(path, asWebP)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "thumbnail not found"})
		return
	}
	c.Data(http.StatusOK, contentType, data)
}

// splitAssetPath validates and splits the wildcard path. Every element must
// match the safe-name pattern, which rules out traversal.
func splitAssetPath(asset string) ([]string, bool) {
	trimmed := strings.Trim(asset, "/")
	if trimmed == "" {
		return nil, false
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) > 2 {
		return nil, false
	}
	for _, p := range parts {
		if !assetNamePattern.MatchString(p) {
			return nil, false
		}
	}
	return parts, true
}

func (m *Module) loadVideo(c *gin.Context) (*database.Video, bool) {
	var video database.Video
	if err := m.db.First(&video, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return nil, false
	}
	return &video, true
}
