package imageutil

import (
	"bytes"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	fingerprintGrid = 8
	// Each channel is quantized to 16 levels, one hex digit per channel.
	quantShift = 12 // 16-bit channel -> top 4 bits
)

// Fingerprint computes a coarse visual signature of an encoded image: the
// image is down-sampled to an 8x8 grid and each RGB channel quantized to 16
// levels. Two re-encodes of the same artwork (different compression, format
// or CDN size) produce the same signature, which exact byte hashing would
// not.
//
// It returns "" when the data cannot be decoded; callers must treat "" as
// "unique, do not dedup", never as equal to another unreadable image.
func Fingerprint(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	small := imaging.Resize(img, fingerprintGrid, fingerprintGrid, imaging.Box)

	var sb strings.Builder
	sb.Grow(fingerprintGrid * fingerprintGrid * 3)
	for y := 0; y < fingerprintGrid; y++ {
		for x := 0; x < fingerprintGrid; x++ {
			r, g, b, _ := small.At(x, y).RGBA()
			sb.WriteByte(hexDigit(uint8(r >> quantShift)))
			sb.WriteByte(hexDigit(uint8(g >> quantShift)))
			sb.WriteByte(hexDigit(uint8(b >> quantShift)))
		}
	}
	return sb.String()
}

func hexDigit(v uint8) byte {
	const digits = "0123456789abcdef"
	return digits[v&0x0f]
}
