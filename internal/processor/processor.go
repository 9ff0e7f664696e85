package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jo-hoe/shopglot/internal/catalog"
	"github.com/jo-hoe/shopglot/internal/vision"
)

// StepProcessor performs the detect → translate → publish → reassociate →
// cleanup sequence for one image as a single operation. The caller either
// gets a terminal result or retries the whole operation; there is no
// partial outcome surfaced.
type StepProcessor struct {
	Log     *slog.Logger
	Vision  vision.Client
	Catalog catalog.Client

	// ReassociatePause is the settle pause before variant reassociation;
	// ReassociateRetryPause the longer pause before the single retry per
	// variant (platform eventual-consistency tolerance).
	ReassociatePause      time.Duration
	ReassociateRetryPause time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// Outcome is the terminal result kind of one operation.
type Outcome string

const (
	OutcomeSkipped    Outcome = "skipped"
	OutcomeTranslated Outcome = "translated"
)

// Request describes one image to process.
type Request struct {
	ProductID  int64
	ImageID    int64 // original image to replace; 0 when none
	ImageData  []byte
	MimeType   string
	VariantIDs []int64
}

// Result is the terminal outcome of one operation.
type Result struct {
	Outcome     Outcome
	NewImageID  int64
	NewImageSrc string
}

func New(log *slog.Logger, v vision.Client, c catalog.Client, reassocPause, reassocRetryPause time.Duration) *StepProcessor {
	return &StepProcessor{
		Log:                   log,
		Vision:                v,
		Catalog:               c,
		ReassociatePause:      reassocPause,
		ReassociateRetryPause: reassocRetryPause,
		sleep:                 sleepCtx,
	}
}

// Process runs the full operation against the catalog destination.
func (p *StepProcessor) Process(ctx context.Context, req Request) (Result, error) {
	if len(req.ImageData) == 0 {
		return Result{}, fmt.Errorf("image data is required")
	}
	if req.ProductID == 0 {
		return Result{}, fmt.Errorf("product id is required")
	}

	translated, skipped, err := p.Translate(ctx, req.ImageData, req.MimeType)
	if err != nil {
		return Result{}, err
	}
	if skipped {
		return Result{Outcome: OutcomeSkipped}, nil
	}

	// Publish. Variant images keep their position; gallery images take the
	// primary slot.
	isVariantImage := len(req.VariantIDs) > 0
	img, err := p.Catalog.UploadImage(ctx, req.ProductID, translated, !isVariantImage)
	if err != nil {
		return Result{}, fmt.Errorf("publish translated image: %w", err)
	}

	if isVariantImage {
		p.reassociate(ctx, req.VariantIDs, img.ID)
	}

	// Cleanup: an orphaned original is an acceptable degraded outcome, not
	// a pipeline failure.
	if req.ImageID != 0 {
		if err := p.Catalog.DeleteImage(ctx, req.ProductID, req.ImageID); err != nil {
			p.Log.Warn("delete original image failed", "product_id", req.ProductID, "image_id", req.ImageID, "err", err)
		}
	}

	return Result{Outcome: OutcomeTranslated, NewImageID: img.ID, NewImageSrc: img.Src}, nil
}

// Translate runs the detect and translate steps only (no catalog side
// effects). It returns skipped=true when detection explicitly answered
// that the image carries no text.
//
// Fail-open policy: when the detection call itself errors, text is assumed
// present and translation proceeds. The cost of an unnecessary translation
// is preferred over silently leaving foreign text live. This is a business
// rule, not generic error handling; do not "fix" it into fail-closed.
func (p *StepProcessor) Translate(ctx context.Context, image []byte, mime string) ([]byte, bool, error) {
	hasText, err := p.Vision.DetectText(ctx, image, mime)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		p.Log.Warn("text detection failed, assuming text present", "err", err)
		hasText = true
	}
	if !hasText {
		return nil, true, nil
	}

	translated, err := p.Vision.TranslateImage(ctx, image, mime)
	if err != nil {
		return nil, false, fmt.Errorf("translate image: %w", err)
	}
	if len(translated) == 0 {
		return nil, false, fmt.Errorf("translate image: empty result")
	}
	return translated, false, nil
}

// reassociate repoints each variant to the new image. A single retry with a
// longer pause is attempted per variant; a second failure is logged but not
// fatal to the operation.
func (p *StepProcessor) reassociate(ctx context.Context, variantIDs []int64, imageID int64) {
	if err := p.sleep(ctx, p.ReassociatePause); err != nil {
		return
	}
	for _, variantID := range variantIDs {
		if err := p.Catalog.ReassociateVariant(ctx, variantID, imageID); err == nil {
			continue
		}
		if err := p.sleep(ctx, p.ReassociateRetryPause); err != nil {
			return
		}
		if err := p.Catalog.ReassociateVariant(ctx, variantID, imageID); err != nil {
			p.Log.Warn("variant reassociation failed after retry", "variant_id", variantID, "image_id", imageID, "err", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
