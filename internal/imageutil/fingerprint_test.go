package imageutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestFingerprint_SameArtworkDifferentEncode(t *testing.T) {
	art := solid(64, 64, color.NRGBA{R: 200, G: 40, B: 40, A: 255})

	a := Fingerprint(encodePNG(t, art))
	b := Fingerprint(encodeJPEG(t, art))
	if a == "" || b == "" {
		t.Fatal("fingerprints should be readable")
	}
	if a != b {
		t.Fatalf("re-encode changed fingerprint: %q vs %q", a, b)
	}

	// Different CDN size of the same artwork.
	c := Fingerprint(encodePNG(t, solid(128, 128, color.NRGBA{R: 200, G: 40, B: 40, A: 255})))
	if a != c {
		t.Fatalf("resize changed fingerprint: %q vs %q", a, c)
	}
}

func TestFingerprint_DistinctArtwork(t *testing.T) {
	a := Fingerprint(encodePNG(t, solid(32, 32, color.NRGBA{R: 250, G: 250, B: 250, A: 255})))
	b := Fingerprint(encodePNG(t, solid(32, 32, color.NRGBA{R: 10, G: 10, B: 10, A: 255})))
	if a == b {
		t.Fatal("distinct artwork produced equal fingerprints")
	}
}

func TestFingerprint_Unreadable(t *testing.T) {
	if got := Fingerprint([]byte("not an image")); got != "" {
		t.Fatalf("unreadable image should fingerprint to empty, got %q", got)
	}
	if got := Fingerprint(nil); got != "" {
		t.Fatalf("nil data should fingerprint to empty, got %q", got)
	}
}
