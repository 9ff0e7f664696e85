package jobs

import "fmt"

// Status is the lifecycle status of a single JobItem.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// allowedTransitions is the closed set of legal item transitions. The only
// ways back to pending are ResetInterrupted (resume path, for items whose
// external side effects are unknown) and ResetFailed (operator retry).
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
	},
	StatusProcessing: {
		StatusDone:    true,
		StatusSkipped: true,
		StatusFailed:  true,
		StatusPending: true, // resume path only
	},
	StatusDone:    {},
	StatusSkipped: {},
	StatusFailed: {
		StatusPending: true, // operator retry path only
	},
}

// IsTerminal reports whether s is a terminal status.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusSkipped || s == StatusFailed
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// DestinationKind selects where translated images are published.
type DestinationKind string

const (
	DestinationCatalog  DestinationKind = "catalog"
	DestinationDownload DestinationKind = "download"
)

// Job is one durable bulk localization run over a product selection.
type Job struct {
	ID          string          `json:"id"`
	Destination DestinationKind `json:"destination"`
	Items       []JobItem       `json:"items"`
}

// JobItem is one image's work record within a job.
type JobItem struct {
	ProductID     int64   `json:"productId"`
	ProductTitle  string  `json:"productTitle"`
	ProductHandle string  `json:"productHandle"`
	ImageID       int64   `json:"imageId,omitempty"` // 0 for non-catalog destinations
	ImageSrc      string  `json:"imageSrc"`
	VariantIDs    []int64 `json:"variantIds,omitempty"`
	// DescriptionHTML is carried only on the last item of a product and
	// triggers description-image scanning once that product's gallery is
	// finished.
	DescriptionHTML string `json:"descriptionHtml,omitempty"`

	Status        Status `json:"status"`
	ResultImageID int64  `json:"resultImageId,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Transition moves the item to the given status, rejecting illegal moves.
func (it *JobItem) Transition(to Status) error {
	if !CanTransition(it.Status, to) {
		return fmt.Errorf("invalid item transition %q -> %q (product_id=%d image=%s)",
			it.Status, to, it.ProductID, it.ImageSrc)
	}
	it.Status = to
	return nil
}

// MarkFailed moves the item to failed and records the failure message.
func (it *JobItem) MarkFailed(msg string) error {
	if err := it.Transition(StatusFailed); err != nil {
		return err
	}
	it.Error = msg
	return nil
}

// ResetInterrupted demotes a processing item back to pending. Used by the
// resume path: the item was interrupted mid-flight and its external side
// effects are unknown, so retrying is safer than assuming completion.
func (it *JobItem) ResetInterrupted() error {
	if it.Status != StatusProcessing {
		return fmt.Errorf("reset of non-processing item (status=%q)", it.Status)
	}
	it.Status = StatusPending
	it.Error = ""
	return nil
}

// ResetFailed demotes a failed item back to pending for an operator-driven
// retry pass, dropping the recorded failure message.
func (it *JobItem) ResetFailed() error {
	if it.Status != StatusFailed {
		return fmt.Errorf("retry of non-failed item (status=%q)", it.Status)
	}
	it.Status = StatusPending
	it.Error = ""
	return nil
}

// PendingCount returns the number of items still to be processed, counting
// interrupted processing items as pending.
func (j *Job) PendingCount() int {
	n := 0
	for i := range j.Items {
		if j.Items[i].Status == StatusPending || j.Items[i].Status == StatusProcessing {
			n++
		}
	}
	return n
}

// FailedCount returns the number of failed items.
func (j *Job) FailedCount() int {
	n := 0
	for i := range j.Items {
		if j.Items[i].Status == StatusFailed {
			n++
		}
	}
	return n
}

// Completed reports whether every item has reached a terminal status.
func (j *Job) Completed() bool {
	for i := range j.Items {
		if !j.Items[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Store defines single-slot durable persistence for the active job. Save
// overwrites the slot wholesale; Load returns nil when no job is stored.
type Store interface {
	Save(job *Job) error
	Load() (*Job, error)
	Clear() error
	Close() error
}
