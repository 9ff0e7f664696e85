package resume

import (
	"fmt"
	"log/slog"

	"github.com/jo-hoe/shopglot/internal/jobs"
)

// Controller inspects the job store at startup and prepares an interrupted
// job for re-execution. It never talks to external services: recovery is
// purely a matter of demoting interrupted items and handing the job back
// to the executor.
type Controller struct {
	Log   *slog.Logger
	Store jobs.Store
}

func New(log *slog.Logger, store jobs.Store) *Controller {
	return &Controller{Log: log, Store: store}
}

// Inspect loads any stored job. A job whose items all ended done or
// skipped is cleared silently and nil is returned; a job with remaining
// work or failed items is returned for the operator's resume/discard
// decision.
func (c *Controller) Inspect() (*jobs.Job, error) {
	job, err := c.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("load stored job: %w", err)
	}
	if job == nil {
		return nil, nil
	}
	if job.PendingCount() == 0 && job.FailedCount() == 0 {
		c.Log.Info("stored job has no remaining work, clearing", "job_id", job.ID)
		if err := c.Store.Clear(); err != nil {
			return nil, fmt.Errorf("clear finished job: %w", err)
		}
		return nil, nil
	}
	c.Log.Info("incomplete job found", "job_id", job.ID,
		"pending", job.PendingCount(), "failed", job.FailedCount())
	return job, nil
}

// Resume prepares the job for re-execution: an item left processing was
// interrupted mid-flight with unknown external side effects and a failed
// item is being retried on the operator's request, so both are demoted to
// pending. The demoted job is re-saved before control passes back to the
// executor.
func (c *Controller) Resume(job *jobs.Job) error {
	demoted := 0
	for i := range job.Items {
		switch job.Items[i].Status {
		case jobs.StatusProcessing:
			if err := job.Items[i].ResetInterrupted(); err != nil {
				return err
			}
			demoted++
		case jobs.StatusFailed:
			if err := job.Items[i].ResetFailed(); err != nil {
				return err
			}
			demoted++
		}
	}
	if demoted > 0 {
		c.Log.Info("items demoted to pending", "job_id", job.ID, "count", demoted)
	}
	if err := c.Store.Save(job); err != nil {
		return fmt.Errorf("save resumed job: %w", err)
	}
	return nil
}

// Discard clears the stored job without compensating actions: images
// already published by a partially completed item remain at the
// destination.
func (c *Controller) Discard() error {
	if err := c.Store.Clear(); err != nil {
		return fmt.Errorf("discard stored job: %w", err)
	}
	c.Log.Info("stored job discarded")
	return nil
}
