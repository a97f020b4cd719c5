package playbackmodule

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMasterAscendingBandwidth(t *testing.T) {
	variants := []Variant{
		{Name: "1080p", URI: "1080p/playlist.m3u8", Bandwidth: 3_000_000, Width: 1920, Height: 1080},
		{Name: "360p", URI: "360p/playlist.m3u8", Bandwidth: 500_000, Width: 640, Height: 360},
		{Name: "720p", URI: "720p/playlist.m3u8", Bandwidth: 1_500_000, Width: 1280, Height: 720},
	}

	out := RenderMaster(variants)
	lines := strings.Split(strings.TrimSpace(out), "\n")

	require.Len(t, lines, 8)
	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, "#EXT-X-VERSION:3", lines[1])
	assert.Equal(t, "#EXT-X-STREAM-INF:BANDWIDTH=500000,RESOLUTION=640x360", lines[2])
	assert.Equal(t, "360p/playlist.m3u8", lines[3])
	assert.Equal(t, "#EXT-X-STREAM-INF:BANDWIDTH=1500000,RESOLUTION=1280x720", lines[4])
	assert.Equal(t, "720p/playlist.m3u8", lines[5])
	assert.Equal(t, "#EXT-X-STREAM-INF:BANDWIDTH=3000000,RESOLUTION=1920x1080", lines[6])
	assert.Equal(t, "1080p/playlist.m3u8", lines[7])
}

func TestRenderMasterSingleVariant(t *testing.T) {
	out := RenderMaster([]Variant{
		{Name: "360p", URI: "360p/playlist.m3u8", Bandwidth: 500_000, Width: 640, Height: 360},
	})
	assert.Contains(t, out, "BANDWIDTH=500000")
	assert.NotContains(t, out, "720p")
}

func TestVariantWidthKeepsAspect(t *testing.T) {
	// 16:9 source.
	assert.Equal(t, 640, variantWidth(1920, 1080, 360))
	assert.Equal(t, 1280, variantWidth(1920, 1080, 720))

	// 4:3 source rounds to even.
	assert.Equal(t, 480, variantWidth(640, 480, 360))
	assert.Equal(t, 962, variantWidth(641, 480, 720))

	// Unknown source dimensions fall back to 16:9.
	assert.Equal(t, 640, variantWidth(0, 0, 360))
}
