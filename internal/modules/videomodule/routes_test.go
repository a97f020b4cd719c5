package videomodule

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mantonx/chunkstream/internal/database"
	"github.com/mantonx/chunkstream/internal/events"
	"github.com/mantonx/chunkstream/internal/ffmpeg"
	"github.com/mantonx/chunkstream/internal/jobs"
)

type testEnv struct {
	db       *gorm.DB
	router   *gin.Engine
	registry *jobs.Registry
	writer   *fakeWriter
	dir      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)
	dir := t.TempDir()
	videosDir := filepath.Join(dir, "videos")
	chunksDir := filepath.Join(dir, "chunks")
	require.NoError(t, os.MkdirAll(videosDir, 0o755))
	require.NoError(t, os.MkdirAll(chunksDir, 0o755))

	registry := jobs.NewRegistry(4)
	writer := &fakeWriter{frame: []byte{0xFF, 0xD8, 0xFF}}
	prober := &fakeProber{info: &ffmpeg.MediaInfo{DurationSeconds: 290, Width: 1280, Height: 720}}
	log := hclog.NewNullLogger()

	m := &Module{
		db:  db,
		log: log,
		chunker: NewChunker(db, prober, writer, registry, events.NewEventBus(),
			log, videosDir, chunksDir, 120, 2),
		timeIndex: NewTimeIndex(db, writer, log, chunksDir),
		videosDir: videosDir,
		chunksDir: chunksDir,
	}

	router := gin.New()
	m.RegisterRoutes(router)

	return &testEnv{db: db, router: router, registry: registry, writer: writer, dir: dir}
}

func (env *testEnv) request(t *testing.T, method, url string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, url, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestChunkAtEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedVideo(t, env.db, "vid-1")
	seedChunks(t, env.db, "vid-1", [][2]float64{{0, 120}, {120, 240}})

	rec := env.request(t, http.MethodGet, "/api/videos/vid-1/chunk-at?t=130", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var chunk database.VideoChunk
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chunk))
	assert.Equal(t, 1, chunk.ChunkIndex)
	assert.Equal(t, 120.0, chunk.StartTime)

	rec = env.request(t, http.MethodGet, "/api/videos/vid-1/chunk-at?t=999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/videos/vid-1/chunk-at", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/videos/nope/chunk-at?t=0", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChunkEndpointConflict(t *testing.T) {
	env := newTestEnv(t)
	seedVideo(t, env.db, "vid-1")

	held, err := env.registry.Begin("vid-1", jobs.KindChunking)
	require.NoError(t, err)
	defer env.registry.Finish(held)

	rec := env.request(t, http.MethodPost, "/api/videos/vid-1/chunk", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFrameEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedVideo(t, env.db, "vid-1")
	seedChunks(t, env.db, "vid-1", [][2]float64{{0, 120}})
	require.NoError(t, os.WriteFile(
		filepath.Join(env.dir, "chunks", "vid-1_chunk_000.mp4"), []byte("mp4"), 0o644))

	rec := env.request(t, http.MethodGet, "/api/videos/vid-1/frame?t=42.5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, rec.Body.Bytes())
}

func TestFrameEndpointCollapsesEncoderError(t *testing.T) {
	env := newTestEnv(t)
	seedVideo(t, env.db, "vid-1")
	seedChunks(t, env.db, "vid-1", [][2]float64{{0, 120}})
	require.NoError(t, os.WriteFile(
		filepath.Join(env.dir, "chunks", "vid-1_chunk_000.mp4"), []byte("mp4"), 0o644))
	env.writer.frameErr = &ffmpeg.EncodeError{Output: "ffmpeg stderr detail"}

	rec := env.request(t, http.MethodGet, "/api/videos/vid-1/frame?t=10", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["correlation_id"])
	assert.NotContains(t, body["error"], "stderr detail")
}

func TestListChunksEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedVideo(t, env.db, "vid-1")
	seedChunks(t, env.db, "vid-1", [][2]float64{{0, 120}, {120, 240}, {240, 290}})

	rec := env.request(t, http.MethodGet, "/api/videos/vid-1/chunks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Chunks []database.VideoChunk `json:"chunks"`
		Count  int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Count)
	assert.Equal(t, 0, body.Chunks[0].ChunkIndex)
	assert.Equal(t, 2, body.Chunks[2].ChunkIndex)
}

func TestStreamChunkHonorsRange(t *testing.T) {
	env := newTestEnv(t)
	seedVideo(t, env.db, "vid-1")
	seedChunks(t, env.db, "vid-1", [][2]float64{{0, 120}})

	content := make([]byte, 500)
	for i := range content {
		content[i] = byte(i % 256)
	}
	require.NoError(t, os.WriteFile(
		filepath.Join(env.dir, "chunks", "vid-1_chunk_000.mp4"), content, 0o644))

	rec := env.request(t, http.MethodGet, "/api/videos/vid-1/chunks/0",
		map[string]string{"Range": "bytes=100-199"})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 100-199/500", rec.Header().Get("Content-Range"))
	assert.Equal(t, content[100:200], rec.Body.Bytes())

	rec = env.request(t, http.MethodGet, "/api/videos/vid-1/chunks/9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/videos/vid-1/chunks/notanumber", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChunkEndpointAccepted(t *testing.T) {
	env := newTestEnv(t)
	video := seedVideo(t, env.db, "vid-1")
	require.NoError(t, os.WriteFile(
		filepath.Join(env.dir, "videos", video.Filename), []byte("src"), 0o644))

	rec := env.request(t, http.MethodPost, "/api/videos/vid-1/chunk", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Wait for the background run to release the job slot.
	require.Eventually(t, func() bool {
		return env.registry.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
