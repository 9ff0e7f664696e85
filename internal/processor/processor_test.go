package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jo-hoe/shopglot/internal/catalog"
)

type visionFake struct {
	hasText    bool
	detectErr  error
	translated []byte
	transErr   error

	detectCalls    int
	translateCalls int
}

func (v *visionFake) DetectText(ctx context.Context, image []byte, mime string) (bool, error) {
	v.detectCalls++
	return v.hasText, v.detectErr
}

func (v *visionFake) TranslateImage(ctx context.Context, image []byte, mime string) ([]byte, error) {
	v.translateCalls++
	if v.transErr != nil {
		return nil, v.transErr
	}
	return v.translated, nil
}

type catalogFake struct {
	uploaded      catalog.Image
	uploadErr     error
	uploadCalls   int
	forcedPrimary []bool

	reassocErrs  []error // popped per call
	reassocCalls []int64

	deleteErr   error
	deleteCalls []int64
}

func (c *catalogFake) ListProducts(ctx context.Context, limit int) ([]catalog.Product, error) {
	return nil, nil
}

func (c *catalogFake) UploadImage(ctx context.Context, productID int64, data []byte, forcePrimary bool) (catalog.Image, error) {
	c.uploadCalls++
	c.forcedPrimary = append(c.forcedPrimary, forcePrimary)
	if c.uploadErr != nil {
		return catalog.Image{}, c.uploadErr
	}
	return c.uploaded, nil
}

func (c *catalogFake) ReassociateVariant(ctx context.Context, variantID, imageID int64) error {
	c.reassocCalls = append(c.reassocCalls, variantID)
	if len(c.reassocErrs) > 0 {
		err := c.reassocErrs[0]
		c.reassocErrs = c.reassocErrs[1:]
		return err
	}
	return nil
}

func (c *catalogFake) DeleteImage(ctx context.Context, productID, imageID int64) error {
	c.deleteCalls = append(c.deleteCalls, imageID)
	return c.deleteErr
}

func (c *catalogFake) UpdateDescription(ctx context.Context, productID int64, bodyHTML string) error {
	return nil
}

func newTestProcessor(v *visionFake, c *catalogFake) *StepProcessor {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New(log, v, c, time.Millisecond, time.Millisecond)
	p.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p
}

func TestProcess_SkippedWhenNoText(t *testing.T) {
	v := &visionFake{hasText: false}
	c := &catalogFake{}
	p := newTestProcessor(v, c)

	res, err := p.Process(context.Background(), Request{ProductID: 1, ImageData: []byte("img")})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Outcome != OutcomeSkipped {
		t.Fatalf("outcome = %q, want skipped", res.Outcome)
	}
	if v.translateCalls != 0 || c.uploadCalls != 0 {
		t.Fatal("no further steps should run after an explicit NO")
	}
}

func TestProcess_FailOpenOnDetectionError(t *testing.T) {
	v := &visionFake{detectErr: errors.New("detect down"), translated: []byte("out")}
	c := &catalogFake{uploaded: catalog.Image{ID: 101, Src: "https://cdn/new.png"}}
	p := newTestProcessor(v, c)

	res, err := p.Process(context.Background(), Request{ProductID: 1, ImageData: []byte("img")})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Outcome != OutcomeTranslated {
		t.Fatalf("outcome = %q, want translated (fail open)", res.Outcome)
	}
	if v.translateCalls != 1 {
		t.Fatal("translation must still be attempted when detection errors")
	}
}

func TestProcess_FullOperation(t *testing.T) {
	v := &visionFake{hasText: true, translated: []byte("out")}
	c := &catalogFake{uploaded: catalog.Image{ID: 101, Src: "https://cdn/new.png"}}
	p := newTestProcessor(v, c)

	res, err := p.Process(context.Background(), Request{
		ProductID:  1,
		ImageID:    11,
		ImageData:  []byte("img"),
		MimeType:   "image/jpeg",
		VariantIDs: []int64{7, 8},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.NewImageID != 101 || res.NewImageSrc != "https://cdn/new.png" {
		t.Fatalf("result mismatch: %+v", res)
	}
	// Variant image: upload must not force the primary position.
	if len(c.forcedPrimary) != 1 || c.forcedPrimary[0] {
		t.Fatalf("variant image upload forced primary: %v", c.forcedPrimary)
	}
	if len(c.reassocCalls) != 2 {
		t.Fatalf("reassociate calls = %v", c.reassocCalls)
	}
	if len(c.deleteCalls) != 1 || c.deleteCalls[0] != 11 {
		t.Fatalf("delete calls = %v", c.deleteCalls)
	}
}

func TestProcess_GalleryImageForcesPrimary(t *testing.T) {
	v := &visionFake{hasText: true, translated: []byte("out")}
	c := &catalogFake{uploaded: catalog.Image{ID: 101}}
	p := newTestProcessor(v, c)

	if _, err := p.Process(context.Background(), Request{ProductID: 1, ImageData: []byte("img")}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(c.forcedPrimary) != 1 || !c.forcedPrimary[0] {
		t.Fatalf("gallery image upload should force primary: %v", c.forcedPrimary)
	}
}

func TestProcess_ReassociateRetriesOnceThenLogs(t *testing.T) {
	v := &visionFake{hasText: true, translated: []byte("out")}
	c := &catalogFake{
		uploaded:    catalog.Image{ID: 101},
		reassocErrs: []error{errors.New("eventual"), errors.New("still failing")},
	}
	p := newTestProcessor(v, c)

	res, err := p.Process(context.Background(), Request{
		ProductID: 1, ImageData: []byte("img"), VariantIDs: []int64{7},
	})
	if err != nil {
		t.Fatalf("reassociation failure must not fail the operation: %v", err)
	}
	if res.Outcome != OutcomeTranslated {
		t.Fatalf("outcome = %q", res.Outcome)
	}
	if len(c.reassocCalls) != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", len(c.reassocCalls))
	}
}

func TestProcess_CleanupFailureNonFatal(t *testing.T) {
	v := &visionFake{hasText: true, translated: []byte("out")}
	c := &catalogFake{uploaded: catalog.Image{ID: 101}, deleteErr: errors.New("locked")}
	p := newTestProcessor(v, c)

	res, err := p.Process(context.Background(), Request{ProductID: 1, ImageID: 11, ImageData: []byte("img")})
	if err != nil {
		t.Fatalf("cleanup failure must not fail the operation: %v", err)
	}
	if res.Outcome != OutcomeTranslated {
		t.Fatalf("outcome = %q", res.Outcome)
	}
}

func TestProcess_TranslateFailureIsFatal(t *testing.T) {
	v := &visionFake{hasText: true, transErr: errors.New("rejected")}
	c := &catalogFake{}
	p := newTestProcessor(v, c)

	if _, err := p.Process(context.Background(), Request{ProductID: 1, ImageData: []byte("img")}); err == nil {
		t.Fatal("translate rejection must fail the operation")
	}
	if c.uploadCalls != 0 {
		t.Fatal("no publish after a failed translation")
	}
}
