package playbackmodule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/chunkstream/internal/config"
	"github.com/mantonx/chunkstream/internal/database"
	"github.com/mantonx/chunkstream/internal/events"
	"github.com/mantonx/chunkstream/internal/ffmpeg"
	"github.com/mantonx/chunkstream/internal/jobs"
)

type fakeProber struct {
	mu    sync.Mutex
	calls int
	info  *ffmpeg.MediaInfo
	err   error
}

func (f *fakeProber) Probe(_ context.Context, _ string) (*ffmpeg.MediaInfo, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.info, f.err
}

// fakeRenditionWriter materializes playlists and thumbnails like the real
// encoder would, failing the configured rung heights.
type fakeRenditionWriter struct {
	mu          sync.Mutex
	failHeights map[int]bool
	thumbErr    error
	thumbCalls  int
}

func (f *fakeRenditionWriter) WriteRendition(_ context.Context, _, dir string, height, _, _ int) error {
	if f.failHeights[height] {
		return &ffmpeg.EncodeError{Err: fmt.Errorf("rung %d failed", height)}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "playlist.m3u8"), []byte("#EXTM3U\n"), 0o644)
}

func (f *fakeRenditionWriter) WriteThumbnail(_ context.Context, _, dst string, _ float64) error {
	f.mu.Lock()
	f.thumbCalls++
	f.mu.Unlock()
	if f.thumbErr != nil {
		return f.thumbErr
	}
	return os.WriteFile(dst, []byte("jpg"), 0o644)
}

func testHLSConfig() config.HLSConfig {
	return config.HLSConfig{
		SegmentDuration:   10,
		ThumbnailInterval: 10,
		Qualities: []config.Quality{
			{Name: "360p", Height: 360, Bitrate: 500_000},
			{Name: "720p", Height: 720, Bitrate: 1_500_000},
			{Name: "1080p", Height: 1080, Bitrate: 3_000_000},
		},
	}
}

func newTestGenerator(t *testing.T, p prober, w renditionWriter) *Generator {
	t.Helper()
	dir := t.TempDir()
	return NewGenerator(p, w, jobs.NewRegistry(4), events.NewEventBus(),
		hclog.NewNullLogger(), filepath.Join(dir, "videos"), filepath.Join(dir, "hls"),
		testHLSConfig())
}

func testVideo(id string) *database.Video {
	return &database.Video{ID: id, Filename: id + ".mp4"}
}

func TestGenerateNeverUpscales(t *testing.T) {
	p := &fakeProber{info: &ffmpeg.MediaInfo{DurationSeconds: 25, Width: 1280, Height: 720}}
	g := newTestGenerator(t, p, &fakeRenditionWriter{})

	require.NoError(t, g.Generate(context.Background(), testVideo("vid-1")))

	master, err := os.ReadFile(g.MasterPath("vid-1"))
	require.NoError(t, err)
	assert.Contains(t, string(master), "360p/playlist.m3u8")
	assert.Contains(t, string(master), "720p/playlist.m3u8")
	assert.NotContains(t, string(master), "1080p")

	_, err = os.Stat(filepath.Join(g.VideoDir("vid-1"), "1080p"))
	assert.True(t, os.IsNotExist(err))
}

func TestGenerateSkipsFailedRung(t *testing.T) {
	p := &fakeProber{info: &ffmpeg.MediaInfo{DurationSeconds: 25, Width: 1920, Height: 1080}}
	w := &fakeRenditionWriter{failHeights: map[int]bool{720: true}}
	g := newTestGenerator(t, p, w)

	require.NoError(t, g.Generate(context.Background(), testVideo("vid-1")))

	master, err := os.ReadFile(g.MasterPath("vid-1"))
	require.NoError(t, err)
	assert.Contains(t, string(master), "360p/playlist.m3u8")
	assert.Contains(t, string(master), "1080p/playlist.m3u8")
	assert.NotContains(t, string(master), "720p/playlist.m3u8")

	// The failed rung's directory is cleaned out.
	_, err = os.Stat(filepath.Join(g.VideoDir("vid-1"), "720p"))
	assert.True(t, os.IsNotExist(err))
}

func TestGenerateAllRungsFail(t *testing.T) {
	p := &fakeProber{info: &ffmpeg.MediaInfo{DurationSeconds: 25, Width: 1920, Height: 1080}}
	w := &fakeRenditionWriter{failHeights: map[int]bool{360: true, 720: true, 1080: true}}
	g := newTestGenerator(t, p, w)

	err := g.Generate(context.Background(), testVideo("vid-1"))
	require.Error(t, err)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)

	// No master playlist for a fully failed run.
	_, statErr := os.Stat(g.MasterPath("vid-1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestGenerateLowResolutionSource(t *testing.T) {
	p := &fakeProber{info: &ffmpeg.MediaInfo{DurationSeconds: 25, Width: 426, Height: 240}}
	g := newTestGenerator(t, p, &fakeRenditionWriter{})

	require.NoError(t, g.Generate(context.Background(), testVideo("vid-1")))

	master, err := os.ReadFile(g.MasterPath("vid-1"))
	require.NoError(t, err)

	// The fallback rung is named for its native height.
	assert.Contains(t, string(master), "240p/playlist.m3u8")
	assert.Contains(t, string(master), "RESOLUTION=426x240")
	assert.NotContains(t, string(master), "360p")

	_, err = os.Stat(filepath.Join(g.VideoDir("vid-1"), "240p", "playlist.m3u8"))
	assert.NoError(t, err)
}

func TestGenerateThumbnailsBestEffort(t *testing.T) {
	p := &fakeProber{info: &ffmpeg.MediaInfo{DurationSeconds: 95, Width: 1280, Height: 720}}
	w := &fakeRenditionWriter{thumbErr: fmt.Errorf("sample failed")}
	g := newTestGenerator(t, p, w)

	require.NoError(t, g.Generate(context.Background(), testVideo("vid-1")))

	// ceil(95/10) samples attempted despite every one failing.
	assert.Equal(t, 10, w.thumbCalls)

	_, err := os.Stat(g.MasterPath("vid-1"))
	assert.NoError(t, err)
}

func TestEnsureGeneratedIsIdempotent(t *testing.T) {
	p := &fakeProber{info: &ffmpeg.MediaInfo{DurationSeconds: 25, Width: 1280, Height: 720}}
	g := newTestGenerator(t, p, &fakeRenditionWriter{})
	video := testVideo("vid-1")

	require.NoError(t, g.EnsureGenerated(context.Background(), video))
	require.NoError(t, g.EnsureGenerated(context.Background(), video))

	// Second call served the existing master without re-probing.
	assert.Equal(t, 1, p.calls)
}

func TestGenerateSingleFlight(t *testing.T) {
	registry := jobs.NewRegistry(4)
	p := &fakeProber{info: &ffmpeg.MediaInfo{DurationSeconds: 25, Width: 1280, Height: 720}}
	dir := t.TempDir()
	g := NewGenerator(p, &fakeRenditionWriter{}, registry, events.NewEventBus(),
		hclog.NewNullLogger(), filepath.Join(dir, "videos"), filepath.Join(dir, "hls"),
		testHLSConfig())

	held, err := registry.Begin("vid-1", jobs.KindGeneration)
	require.NoError(t, err)
	defer registry.Finish(held)

	err = g.Generate(context.Background(), testVideo("vid-1"))
	assert.ErrorIs(t, err, jobs.ErrAlreadyRunning)
}

func TestCleanRemovesTree(t *testing.T) {
	p := &fakeProber{info: &ffmpeg.MediaInfo{DurationSeconds: 25, Width: 1280, Height: 720}}
	g := newTestGenerator(t, p, &fakeRenditionWriter{})
	video := testVideo("vid-1")

	require.NoError(t, g.Generate(context.Background(), video))
	require.NoError(t, g.Clean(video.ID))

	_, err := os.Stat(g.VideoDir(video.ID))
	assert.True(t, os.IsNotExist(err))

	// Cleaning an absent tree is fine.
	assert.NoError(t, g.Clean(video.ID))
}

func TestSplitAssetPath(t *testing.T) {
	parts, ok := splitAssetPath("/master.m3u8")
	require.True(t, ok)
	assert.Equal(t, []string{"master.m3u8"}, parts)

	parts, ok = splitAssetPath("/720p/segment_003.ts")
	require.True(t, ok)
	assert.Equal(t, []string{"720p", "segment_003.ts"}, parts)

	_, ok = splitAssetPath("/../etc/passwd")
	assert.False(t, ok)

	_, ok = splitAssetPath("/720p/../../secret")
	assert.False(t, ok)

	_, ok = splitAssetPath("/")
	assert.False(t, ok)

	_, ok = splitAssetPath("/a/b/c")
	assert.False(t, ok)
}
