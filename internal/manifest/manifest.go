package manifest

import (
	"github.com/google/uuid"

	"github.com/jo-hoe/shopglot/internal/catalog"
	"github.com/jo-hoe/shopglot/internal/imageutil"
	"github.com/jo-hoe/shopglot/internal/jobs"
)

// Duplicate identifies a catalog image discarded during manifest
// construction because another image of the same product normalizes to the
// same asset. Duplicates are deleted from the destination before the job
// starts; their variant links have already been folded onto the surviving
// representative.
type Duplicate struct {
	ProductID int64
	ImageID   int64
}

// Build expands a product selection into a new job: one item per distinct
// (product, normalized image reference), in selection order, plus the
// product's description HTML carried on its last item. The returned
// duplicates are URL-level collisions to remove from the destination
// proactively.
func Build(products []catalog.Product, dest jobs.DestinationKind) (*jobs.Job, []Duplicate) {
	job := &jobs.Job{
		ID:          uuid.New().String(),
		Destination: dest,
	}
	var duplicates []Duplicate

	for _, p := range products {
		firstItem := len(job.Items)
		byKey := make(map[string]int) // normalized ref -> index into job.Items

		for _, img := range p.Images {
			key := imageutil.Normalize(img.Src)
			if idx, seen := byKey[key]; seen && key != "" {
				// Fold the duplicate's variant fan-out onto the
				// representative and schedule the duplicate's deletion.
				rep := &job.Items[idx]
				rep.VariantIDs = unionIDs(rep.VariantIDs, img.VariantIDs)
				if dest == jobs.DestinationCatalog && img.ID != 0 {
					duplicates = append(duplicates, Duplicate{ProductID: p.ID, ImageID: img.ID})
				}
				continue
			}
			byKey[key] = len(job.Items)
			job.Items = append(job.Items, jobs.JobItem{
				ProductID:     p.ID,
				ProductTitle:  p.Title,
				ProductHandle: p.Handle,
				ImageID:       img.ID,
				ImageSrc:      img.Src,
				VariantIDs:    append([]int64(nil), img.VariantIDs...),
				Status:        jobs.StatusPending,
			})
		}

		if len(job.Items) > firstItem && p.BodyHTML != "" {
			job.Items[len(job.Items)-1].DescriptionHTML = p.BodyHTML
		}
	}
	return job, duplicates
}

func unionIDs(a, b []int64) []int64 {
	seen := make(map[int64]bool, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, id := range a {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
