package executor

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jo-hoe/shopglot/internal/imageutil"
	"github.com/jo-hoe/shopglot/internal/jobs"
)

// reImgSrc extracts image references from description markup.
var reImgSrc = regexp.MustCompile(`<img[^>]+src=["']([^"']+)["']`)

// scanDescription translates images embedded in a product's description
// markup once its gallery items are done. Description images are additive:
// they are published without variant reassociation or original deletion,
// and the markup is rewritten to reference the new URL. Images whose
// normalized reference was already handled as a gallery item are skipped.
//
// Failures here are logged per image and never change the gallery item's
// status; the gallery outcome is already terminal at this point.
func (e *Executor) scanDescription(ctx context.Context, log *slog.Logger, job *jobs.Job, item *jobs.JobItem) {
	handled := handledReferences(job, item.ProductID)
	srcs := descriptionImageSources(item.DescriptionHTML)
	if len(srcs) == 0 {
		return
	}

	html := item.DescriptionHTML
	rewrote := false

	for _, src := range srcs {
		norm := imageutil.Normalize(src)
		if handled[norm] {
			continue
		}
		handled[norm] = true

		data, mime, err := e.Fetcher.Fetch(ctx, src)
		if err != nil {
			log.Warn("description image load failed", "src", src, "err", err)
			continue
		}
		translated, skipped, err := e.translateWithRetry(ctx, data, mime)
		if err != nil {
			log.Warn("description image translation failed", "src", src, "err", err)
			continue
		}
		if skipped {
			continue
		}
		img, err := e.Catalog.UploadImage(ctx, item.ProductID, translated, false)
		if err != nil {
			log.Warn("description image publish failed", "src", src, "err", err)
			continue
		}
		e.recordCost(log)
		if img.Src != "" {
			html = strings.ReplaceAll(html, src, img.Src)
			rewrote = true
		}
	}

	if !rewrote {
		return
	}
	if err := e.Catalog.UpdateDescription(ctx, item.ProductID, html); err != nil {
		log.Warn("description update failed", "err", err)
		return
	}
	log.Info("description images rewritten", "product_id", item.ProductID)
}

// handledReferences collects the normalized references of every gallery
// item of the product in this job, so an image appearing both in the
// gallery and inline in the description is not translated twice.
func handledReferences(job *jobs.Job, productID int64) map[string]bool {
	handled := make(map[string]bool)
	for i := range job.Items {
		if job.Items[i].ProductID == productID {
			handled[imageutil.Normalize(job.Items[i].ImageSrc)] = true
		}
	}
	return handled
}

func descriptionImageSources(html string) []string {
	matches := reImgSrc.FindAllStringSubmatch(html, -1)
	seen := make(map[string]bool, len(matches))
	srcs := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			srcs = append(srcs, m[1])
		}
	}
	return srcs
}
