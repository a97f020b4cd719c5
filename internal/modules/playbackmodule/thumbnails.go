package playbackmodule

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"os"

	"github.com/chai2010/webp"
)

// webpQuality balances scrub-bar thumbnail size against fidelity.
const webpQuality = 80

// thumbnailBytes loads a stored JPEG thumbnail, optionally re-encoding it
// as WebP for clients that ask.
func thumbnailBytes(path string, asWebP bool) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	if !asWebP {
		return data, "image/jpeg", nil
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode thumbnail: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: webpQuality}); err != nil {
		return nil, "", fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), "image/webp", nil
}
