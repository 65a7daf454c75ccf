package enroll

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// defaultBatchWorkers mirrors routes/enroll.py's fixed 5-thread batch
// pool sizing.
const defaultBatchWorkers = 5

// BatchItem is one dataset entry to enroll.
type BatchItem struct {
	SubjectID string
	EyeSide   string
	Image     []byte
	DeviceID  string
}

// BatchResult is one item's outcome, streamed back in completion order.
type BatchResult struct {
	SubjectID           string
	EyeSide             string
	IdentityID          uuid.UUID
	TemplateID          uuid.UUID
	IsDuplicate         bool
	DuplicateIdentityID *uuid.UUID
	Error               string
}

// BatchSummary totals a finished batch run.
type BatchSummary struct {
	Total      int
	Enrolled   int
	Duplicates int
	Errors     int
}

// BatchEnroll enrolls every item under a dataset-scoped deterministic
// identity ID (uuid5 of the dataset namespace and the subject ID, so
// re-running the same dataset always derives the same identity IDs),
// fanning work across workers goroutines (default 5, matching the
// original's fixed thread pool) and streaming results back on the
// returned channel in completion order rather than submission order.
//
// The channel closes once every item has been processed; the
// bulk_enrolled change event (if any item enrolled and a bus is wired)
// is published right after it closes. Call the returned func after
// draining the channel to get the final summary.
func (o *Orchestrator) BatchEnroll(ctx context.Context, dataset string, items []BatchItem, workers int) (<-chan BatchResult, func() BatchSummary) {
	if workers <= 0 {
		workers = defaultBatchWorkers
	}
	namespace := uuid.NewSHA1(uuid.NameSpaceURL, []byte("eyed:bulk:"+dataset))

	work := make(chan BatchItem)
	out := make(chan BatchResult)

	var mu sync.Mutex
	summary := BatchSummary{Total: len(items)}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for item := range work {
				identityID := uuid.NewSHA1(namespace, []byte(item.SubjectID))
				identityName := dataset + ":" + item.SubjectID

				res := o.EnrollOne(ctx, Request{
					IdentityID:   identityID,
					IdentityName: identityName,
					EyeSide:      item.EyeSide,
					Image:        item.Image,
					DeviceID:     item.DeviceID,
				})

				br := BatchResult{
					SubjectID:           item.SubjectID,
					EyeSide:             item.EyeSide,
					IdentityID:          identityID,
					TemplateID:          res.TemplateID,
					IsDuplicate:         res.IsDuplicate,
					DuplicateIdentityID: res.DuplicateIdentityID,
					Error:               res.Error,
				}

				mu.Lock()
				switch {
				case res.Error != "":
					summary.Errors++
				case res.IsDuplicate:
					summary.Duplicates++
				default:
					summary.Enrolled++
				}
				mu.Unlock()

				select {
				case out <- br:
				case <-ctx.Done():
				}
			}
		}()
	}

	go func() {
		for _, item := range items {
			select {
			case work <- item:
			case <-ctx.Done():
			}
		}
		close(work)
		wg.Wait()
		close(out)

		mu.Lock()
		enrolled := summary.Enrolled
		mu.Unlock()
		if enrolled > 0 && o.Bus != nil {
			if err := o.Bus.PublishBulkEnrolled(enrolled); err != nil {
				o.Log.WithError(err).Warn("failed to publish bulk_enrolled event")
			}
		}
	}()

	finalize := func() BatchSummary {
		mu.Lock()
		defer mu.Unlock()
		return summary
	}
	return out, finalize
}
