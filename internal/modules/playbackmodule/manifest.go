package playbackmodule

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Variant is one rung referenced by the master playlist.
type Variant struct {
	Name      string
	URI       string
	Bandwidth int
	Width     int
	Height    int
}

// RenderMaster renders the master playlist. Variants are listed in
// ascending bandwidth order so players start on the cheapest rung.
func RenderMaster(variants []Variant) string {
	sorted := make([]Variant, len(variants))
	copy(sorted, variants)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Bandwidth < sorted[j].Bandwidth
	})

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, v := range sorted {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n", v.Bandwidth, v.Width, v.Height)
		b.WriteString(v.URI)
		b.WriteByte('\n')
	}
	return b.String()
}

// variantWidth derives a rung's width from the source aspect ratio, rounded
// to the nearest even pixel as required by the encoder.
func variantWidth(sourceWidth, sourceHeight, rungHeight int) int {
	if sourceWidth <= 0 || sourceHeight <= 0 {
		return rungHeight * 16 / 9
	}
	w := float64(sourceWidth) * float64(rungHeight) / float64(sourceHeight)
	even := int(math.Round(w/2)) * 2
	if even < 2 {
		even = 2
	}
	return even
}
