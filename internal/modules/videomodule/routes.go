package videomodule

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mantonx/chunkstream/internal/database"
	"github.com/mantonx/chunkstream/internal/httprange"
	"github.com/mantonx/chunkstream/internal/jobs"
)

// uploadVideo receives a multipart upload, stores the file under the videos
// dir and kicks off background chunking.
func (m *Module) uploadVideo(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !videoExtensions[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported video format"})
		return
	}

	id := uuid.New().String()
	filename := id + ext
	dst := filepath.Join(m.videosDir, filename)

	if err := os.MkdirAll(m.videosDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
		return
	}
	if err := c.SaveUploadedFile(file, dst); err != nil {
		m.log.Error("failed to save upload", "filename", file.Filename, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
		return
	}

	title := c.PostForm("title")
	if title == "" {
		title = strings.TrimSuffix(file.Filename, ext)
	}

	video := database.Video{
		ID:           id,
		Title:        title,
		Description:  c.PostForm("description"),
		Filename:     filename,
		OriginalName: file.Filename,
		MimeType:     mimeTypeForExt(ext),
		SizeBytes:    file.Size,
	}
	if err := m.db.Create(&video).Error; err != nil {
		os.Remove(dst)
		m.log.Error("failed to create video record", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create video"})
		return
	}

	if err := m.chunker.ChunkVideoAsync(&video); err != nil {
		m.log.Error("failed to start chunking", "video_id", video.ID, "error", err)
	}

	c.JSON(http.StatusCreated, video)
}

func (m *Module) listVideos(c *gin.Context) {
	var videos []database.Video
	if err := m.db.Order("created_at DESC").Find(&videos).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list videos"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": videos, "count": len(videos)})
}

func (m *Module) getVideo(c *gin.Context) {
	video, ok := m.loadVideo(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, video)
}

// streamVideo serves the whole source file with range support.
func (m *Module) streamVideo(c *gin.Context) {
	video, ok := m.loadVideo(c)
	if !ok {
		return
	}
	path := filepath.Join(m.videosDir, video.Filename)
	if err := httprange.ServeFile(c.Writer, c.Request, path); err != nil {
		m.log.Debug("stream ended with error", "video_id", video.ID, "error", err)
	}
}

// listChunks returns the active chunk set in playback order.
func (m *Module) listChunks(c *gin.Context) {
	video, ok := m.loadVideo(c)
	if !ok {
		return
	}

	var chunks []database.VideoChunk
	err := m.db.
		Where("video_id = ? AND is_active = ?", video.ID, true).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list chunks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"video_id": video.ID,
		"chunks":   chunks,
		"count":    len(chunks),
	})
}

// streamChunk serves one chunk file by index with range support.
func (m *Module) streamChunk(c *gin.Context) {
	video, ok := m.loadVideo(c)
	if !ok {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chunk index"})
		return
	}

	var chunk database.VideoChunk
	err = m.db.
		Where("video_id = ? AND chunk_index = ? AND is_active = ?", video.ID, index, true).
		First(&chunk).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "chunk not found"})
		return
	}

	path := filepath.Join(m.chunksDir, chunk.Filename)
	if err := httprange.ServeFile(c.Writer, c.Request, path); err != nil {
		m.log.Debug("chunk stream ended with error",
			"video_id", video.ID, "chunk_index", index, "error", err)
	}
}

// chunkVideo starts an explicit (re)chunk run in the background.
func (m *Module) chunkVideo(c *gin.Context) {
	video, ok := m.loadVideo(c)
	if !ok {
		return
	}

	if err := m.chunker.ChunkVideoAsync(video); err != nil {
		if errors.Is(err, jobs.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "job already running for video"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start chunking"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"video_id": video.ID,
		"status":   "chunking",
	})
}

// chunkAt resolves a timestamp to its covering chunk.
func (m *Module) chunkAt(c *gin.Context) {
	video, ok := m.loadVideo(c)
	if !ok {
		return
	}

	t, ok := parseTimestamp(c)
	if !ok {
		return
	}

	chunk, err := m.timeIndex.LookupChunk(video.ID, t)
	if err != nil {
		if errors.Is(err, ErrChunkNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no chunk covers timestamp"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up chunk"})
		return
	}

	c.JSON(http.StatusOK, chunk)
}

// framePreview extracts a single JPEG frame at the requested timestamp.
// Encoder failures are collapsed to a generic category with a correlation
// id; the stderr detail stays in the logs.
func (m *Module) framePreview(c *gin.Context) {
	video, ok := m.loadVideo(c)
	if !ok {
		return
	}

	t, ok := parseTimestamp(c)
	if !ok {
		return
	}

	data, err := m.timeIndex.FramePreview(c.Request.Context(), video.ID, t)
	if err != nil {
		if errors.Is(err, ErrChunkNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no chunk covers timestamp"})
			return
		}
		correlationID := uuid.New().String()
		m.log.Error("frame preview failed",
			"video_id", video.ID, "t", t, "correlation_id", correlationID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":          "frame extraction failed",
			"correlation_id": correlationID,
		})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

// loadVideo resolves the :id path parameter, writing the error response on
// failure.
func (m *Module) loadVideo(c *gin.Context) (*database.Video, bool) {
	var video database.Video
	if err := m.db.First(&video, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return nil, false
	}
	return &video, true
}

// parseTimestamp reads the required ?t= query parameter, writing the error
// response on failure.
func parseTimestamp(c *gin.Context) (float64, bool) {
	raw := c.Query("t")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing t parameter"})
		return 0, false
	}
	t, err := strconv.ParseFloat(raw, 64)
	if err != nil || t < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid t parameter"})
		return 0, false
	}
	return t, true
}
