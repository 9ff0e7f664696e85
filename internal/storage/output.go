package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jo-hoe/shopglot/internal/common"
)

var extByMime = map[string]string{
	common.MimeImagePNG:  ".png",
	common.MimeImageJPEG: ".jpg",
	common.MimeImageJPG:  ".jpg",
	common.MimeImageWebP: ".webp",
	common.MimeImageGIF:  ".gif",
}

// OutputWriter stores translated images on disk for jobs whose destination
// is a local download rather than the catalog.
type OutputWriter struct {
	baseDir string
}

// NewOutputWriter creates a writer that stores to baseDir/outputs.
func NewOutputWriter(baseDir string) *OutputWriter {
	return &OutputWriter{baseDir: filepath.Join(baseDir, common.OutputsDirName)}
}

// Write stores data under a name derived from the product handle and
// returns the written path.
func (w *OutputWriter) Write(handle string, data []byte, mime string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no image data")
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure outputs dir: %w", err)
	}

	name := sanitizeHandle(handle)
	if name == "" {
		name = "image"
	}
	filename := fmt.Sprintf("%s-%s%s", name, randomHex(4), pickExtension(mime))
	path := filepath.Join(w.baseDir, filename)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	return path, nil
}

func sanitizeHandle(handle string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(handle)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('-')
		}
	}
	return strings.Trim(sb.String(), "-")
}

func pickExtension(mime string) string {
	if ext, ok := extByMime[strings.ToLower(strings.TrimSpace(mime))]; ok {
		return ext
	}
	return ".png"
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
