package vision

import "context"

// Client defines the vision/generation capability used by the pipeline.
type Client interface {
	// DetectText reports whether the image contains visible words, text,
	// labels or titles.
	DetectText(ctx context.Context, image []byte, mime string) (bool, error)
	// TranslateImage returns a re-rendered copy of the image with all
	// visible text translated and everything else preserved
	// photorealistically.
	TranslateImage(ctx context.Context, image []byte, mime string) ([]byte, error)
}

// Generator produces a new image from a text prompt. Optional capability,
// separate from Client because the pipeline itself never generates; only
// the direct endpoint does.
type Generator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// Balance is a snapshot of the provider's prepaid credit.
type Balance struct {
	TotalGranted   float64 `json:"totalGranted"`
	TotalUsed      float64 `json:"totalUsed"`
	TotalAvailable float64 `json:"totalAvailable"`
}

// BalanceProvider reports remaining provider credit. Optional capability;
// not every provider exposes a billing surface.
type BalanceProvider interface {
	Balance(ctx context.Context) (Balance, error)
}
