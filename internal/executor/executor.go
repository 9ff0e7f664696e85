package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jo-hoe/shopglot/internal/catalog"
	"github.com/jo-hoe/shopglot/internal/common"
	"github.com/jo-hoe/shopglot/internal/imageutil"
	"github.com/jo-hoe/shopglot/internal/jobs"
	"github.com/jo-hoe/shopglot/internal/manifest"
	"github.com/jo-hoe/shopglot/internal/metrics"
	"github.com/jo-hoe/shopglot/internal/processor"
	"github.com/jo-hoe/shopglot/internal/remote"
	"github.com/jo-hoe/shopglot/internal/stats"
	"github.com/jo-hoe/shopglot/internal/storage"
)

// ErrAlreadyRunning is returned when a second run is started while one is
// active. There is exactly one execution context at a time.
var ErrAlreadyRunning = errors.New("a job is already running")

// Executor walks a job's pending items in strict manifest order, drives
// each through the atomic step operation, deduplicates visually identical
// images and persists progress after every transition.
type Executor struct {
	Log     *slog.Logger
	Store   jobs.Store
	Steps   *processor.StepProcessor
	Fetcher storage.Fetcher
	Catalog catalog.Client        // nil for download-only deployments
	Output  *storage.OutputWriter // destination for download jobs
	Stats   *stats.Tracker

	ItemDelay     time.Duration
	RetryAttempts int
	RetryPause    time.Duration
	ImageCost     float64

	running atomic.Bool
	sleep   func(ctx context.Context, d time.Duration) error
}

// Summary aggregates the terminal outcomes of one pass.
type Summary struct {
	Done    int `json:"done"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// fpEntry is one slot of the per-product fingerprint map. The map is
// ephemeral: it is rebuilt on every run, including on resume, so a dedup
// opportunity spanning an interruption is lost but output is never wrong.
type fpEntry struct {
	originalImageID int64
	resultImageID   int64
	hasResult       bool
}

type fpKey struct {
	productID int64
	signature string
}

func New(log *slog.Logger, store jobs.Store, steps *processor.StepProcessor, fetcher storage.Fetcher,
	cat catalog.Client, output *storage.OutputWriter, tracker *stats.Tracker) *Executor {
	return &Executor{
		Log:           log,
		Store:         store,
		Steps:         steps,
		Fetcher:       fetcher,
		Catalog:       cat,
		Output:        output,
		Stats:         tracker,
		ItemDelay:     time.Second,
		RetryAttempts: common.DefaultRetryAttempts,
		RetryPause:    2 * time.Second,
		sleep:         sleepCtx,
	}
}

// Running reports whether a run is in flight.
func (e *Executor) Running() bool {
	return e.running.Load()
}

// Run processes the job until no pending items remain. Item failures never
// abort the run; the summary carries the aggregate counts. The job slot is
// cleared only when every item ended done or skipped, so failed outcomes
// stay visible to the operator.
func (e *Executor) Run(ctx context.Context, job *jobs.Job) (Summary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Summary{}, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	if job.Destination == jobs.DestinationCatalog && e.Catalog == nil {
		return Summary{}, errors.New("catalog destination requires a configured catalog client")
	}

	log := e.Log.With("job_id", job.ID)
	metrics.JobRuns.Inc()

	fingerprints := make(map[fpKey]*fpEntry)

	for {
		if err := ctx.Err(); err != nil {
			// Coarse cancellation: stop the loop, leave the job stored.
			// The resume controller handles recovery on next startup.
			return e.summarize(job), err
		}

		idx := nextPending(job)
		if idx < 0 {
			break
		}
		item := &job.Items[idx]
		itemLog := log.With("product_id", item.ProductID, "image", item.ImageSrc)

		if err := item.Transition(jobs.StatusProcessing); err != nil {
			return e.summarize(job), err
		}
		e.persist(itemLog, job)

		e.processItem(ctx, itemLog, job, item, fingerprints)
		e.persist(itemLog, job)
		metrics.ItemsProcessed.WithLabelValues(string(item.Status)).Inc()

		// Description scanning runs once a product's gallery items are
		// finished; the manifest carries the markup on the last item.
		if item.DescriptionHTML != "" && job.Destination == jobs.DestinationCatalog {
			e.scanDescription(ctx, itemLog, job, item)
		}

		// Inter-item delay to respect destination rate limits; none after
		// the final item.
		if nextPending(job) >= 0 {
			if err := e.sleep(ctx, e.ItemDelay); err != nil {
				return e.summarize(job), err
			}
		}
	}

	summary := e.summarize(job)
	log.Info("job pass finished", "done", summary.Done, "skipped", summary.Skipped, "failed", summary.Failed)

	if summary.Failed == 0 {
		if err := e.Store.Clear(); err != nil {
			log.Warn("clear job slot failed", "err", err)
		}
	}
	return summary, nil
}

// DeleteDuplicates removes manifest-time duplicate images from the
// destination before a job starts. Failures are logged; a leftover
// duplicate only wastes a later skip, it does not corrupt the run.
func (e *Executor) DeleteDuplicates(ctx context.Context, dups []manifest.Duplicate) {
	if e.Catalog == nil {
		return
	}
	for _, d := range dups {
		if err := e.Catalog.DeleteImage(ctx, d.ProductID, d.ImageID); err != nil {
			e.Log.Warn("delete duplicate image failed", "product_id", d.ProductID, "image_id", d.ImageID, "err", err)
		}
	}
}

func (e *Executor) processItem(ctx context.Context, log *slog.Logger, job *jobs.Job, item *jobs.JobItem, fingerprints map[fpKey]*fpEntry) {
	data, mime, err := e.Fetcher.Fetch(ctx, item.ImageSrc)
	if err != nil {
		log.Error("image load failed", "err", err)
		e.markFailed(log, item, fmt.Sprintf("load image: %v", err))
		return
	}

	// Visual-level dedup: a later duplicate of an already-translated image
	// reuses that result without a paid call.
	sig := imageutil.Fingerprint(data)
	key := fpKey{productID: item.ProductID, signature: sig}
	if sig != "" {
		if prior, ok := fingerprints[key]; ok && prior.hasResult {
			e.applyFingerprintHit(ctx, log, job, item, prior)
			return
		}
		if _, ok := fingerprints[key]; !ok {
			fingerprints[key] = &fpEntry{originalImageID: item.ImageID}
		}
	}

	if job.Destination == jobs.DestinationDownload {
		e.processDownloadItem(ctx, log, item, data, mime, fingerprints[key])
		return
	}

	res, err := e.invokeWithRetry(ctx, processor.Request{
		ProductID:  item.ProductID,
		ImageID:    item.ImageID,
		ImageData:  data,
		MimeType:   mime,
		VariantIDs: item.VariantIDs,
	})
	if err != nil {
		log.Error("item failed", "err", err)
		e.markFailed(log, item, err.Error())
		return
	}

	switch res.Outcome {
	case processor.OutcomeSkipped:
		e.transition(log, item, jobs.StatusSkipped)
	case processor.OutcomeTranslated:
		e.transition(log, item, jobs.StatusDone)
		item.ResultImageID = res.NewImageID
		if sig != "" {
			fingerprints[key].resultImageID = res.NewImageID
			fingerprints[key].hasResult = true
		}
		e.recordCost(log)
	default:
		e.markFailed(log, item, fmt.Sprintf("unknown outcome %q", res.Outcome))
	}
}

// applyFingerprintHit handles a visually identical duplicate of an earlier
// translated item: its variants are repointed at the earlier result, the
// duplicate's original is removed, and no paid call is made.
func (e *Executor) applyFingerprintHit(ctx context.Context, log *slog.Logger, job *jobs.Job, item *jobs.JobItem, prior *fpEntry) {
	log.Info("fingerprint duplicate, reusing earlier result",
		"original_image_id", prior.originalImageID, "result_image_id", prior.resultImageID)
	if job.Destination == jobs.DestinationCatalog {
		for _, variantID := range item.VariantIDs {
			if err := e.Catalog.ReassociateVariant(ctx, variantID, prior.resultImageID); err != nil {
				log.Warn("reassociate variant to shared result failed", "variant_id", variantID, "err", err)
			}
		}
		if item.ImageID != 0 {
			if err := e.Catalog.DeleteImage(ctx, item.ProductID, item.ImageID); err != nil {
				log.Warn("delete duplicate original failed", "image_id", item.ImageID, "err", err)
			}
		}
	}
	item.ResultImageID = prior.resultImageID
	e.transition(log, item, jobs.StatusSkipped)
}

// processDownloadItem is the local equivalent of the atomic step operation
// for non-catalog destinations: detect and translate, then write the
// result to disk. A successful translation marks the fingerprint entry as
// having a result so a visual duplicate later in the run is skipped
// instead of being translated and billed again.
func (e *Executor) processDownloadItem(ctx context.Context, log *slog.Logger, item *jobs.JobItem, data []byte, mime string, entry *fpEntry) {
	translated, skipped, err := e.translateWithRetry(ctx, data, mime)
	if err != nil {
		log.Error("item failed", "err", err)
		e.markFailed(log, item, err.Error())
		return
	}
	if skipped {
		e.transition(log, item, jobs.StatusSkipped)
		return
	}
	// Translated output is always rendered as PNG.
	path, err := e.Output.Write(item.ProductHandle, translated, common.MimeImagePNG)
	if err != nil {
		log.Error("write output failed", "err", err)
		e.markFailed(log, item, fmt.Sprintf("write output: %v", err))
		return
	}
	log.Info("translated image written", "path", path)
	e.transition(log, item, jobs.StatusDone)
	if entry != nil {
		entry.hasResult = true
	}
	e.recordCost(log)
}

// invokeWithRetry wraps the whole atomic operation in a bounded retry
// triggered only by transport-level failure. A well-formed rejection is
// surfaced immediately.
func (e *Executor) invokeWithRetry(ctx context.Context, req processor.Request) (processor.Result, error) {
	var res processor.Result
	var err error
	for attempt := 1; attempt <= e.RetryAttempts; attempt++ {
		res, err = e.Steps.Process(ctx, req)
		if err == nil || !remote.IsTransport(err) {
			return res, err
		}
		e.Log.Warn("atomic step transport failure", "attempt", attempt, "err", err)
		if attempt < e.RetryAttempts {
			if serr := e.sleep(ctx, e.RetryPause); serr != nil {
				return processor.Result{}, serr
			}
		}
	}
	return res, err
}

func (e *Executor) translateWithRetry(ctx context.Context, data []byte, mime string) ([]byte, bool, error) {
	var translated []byte
	var skipped bool
	var err error
	for attempt := 1; attempt <= e.RetryAttempts; attempt++ {
		translated, skipped, err = e.Steps.Translate(ctx, data, mime)
		if err == nil || !remote.IsTransport(err) {
			return translated, skipped, err
		}
		e.Log.Warn("translate transport failure", "attempt", attempt, "err", err)
		if attempt < e.RetryAttempts {
			if serr := e.sleep(ctx, e.RetryPause); serr != nil {
				return nil, false, serr
			}
		}
	}
	return translated, skipped, err
}

func (e *Executor) recordCost(log *slog.Logger) {
	metrics.PaidOperations.Inc()
	if e.Stats == nil {
		return
	}
	if err := e.Stats.Add(e.ImageCost); err != nil {
		log.Warn("record cost failed", "err", err)
	}
}

func (e *Executor) transition(log *slog.Logger, item *jobs.JobItem, to jobs.Status) {
	if err := item.Transition(to); err != nil {
		log.Error("illegal item transition", "err", err)
	}
}

func (e *Executor) markFailed(log *slog.Logger, item *jobs.JobItem, msg string) {
	if err := item.MarkFailed(msg); err != nil {
		log.Error("illegal item transition", "err", err)
	}
}

// persist saves the job after a transition. A persistence failure degrades
// resumability, not the correctness of the in-memory run, so it is logged
// and tolerated.
func (e *Executor) persist(log *slog.Logger, job *jobs.Job) {
	if err := e.Store.Save(job); err != nil {
		log.Warn("persist job failed", "err", err)
	}
}

func (e *Executor) summarize(job *jobs.Job) Summary {
	var s Summary
	for i := range job.Items {
		switch job.Items[i].Status {
		case jobs.StatusDone:
			s.Done++
		case jobs.StatusSkipped:
			s.Skipped++
		case jobs.StatusFailed:
			s.Failed++
		}
	}
	return s
}

func nextPending(job *jobs.Job) int {
	for i := range job.Items {
		if job.Items[i].Status == jobs.StatusPending {
			return i
		}
	}
	return -1
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
