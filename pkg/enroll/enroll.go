// Package enroll implements the single and batch enrollment
// orchestrators: dedup-check, feature extraction, gallery insertion,
// durable persistence and change-bus notification, grounded on
// original_source/core.py (run_enroll_sync/run_enroll_async) and
// routes/enroll.py's batch worker shape.
package enroll

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/buildbarn/eyed-registry/pkg/bus"
	"github.com/buildbarn/eyed-registry/pkg/gallery"
	"github.com/buildbarn/eyed-registry/pkg/pipeline"
)

// Persister durably records a freshly-enrolled template. Implementations
// typically hand off to pkg/queue's enrollment drain writer rather than
// blocking the caller on pkg/store directly.
type Persister interface {
	PersistEnrollment(ctx context.Context, templateID, identityID uuid.UUID, identityName, eyeSide, deviceID string, qualityScore float64, template gallery.Template) error
}

// Request is a single-identity enrollment request.
type Request struct {
	IdentityID   uuid.UUID
	IdentityName string
	EyeSide      string
	Image        []byte
	DeviceID     string
	QualityScore float64
}

// Result is the outcome of one enrollment attempt.
type Result struct {
	IdentityID            uuid.UUID
	TemplateID            uuid.UUID
	IsDuplicate           bool
	DuplicateIdentityID   *uuid.UUID
	DuplicateIdentityName string
	Error                 string
}

// Orchestrator wires the pipeline pool, gallery, durable store and
// change bus together into the enroll operation.
type Orchestrator struct {
	Pool           *pipeline.Pool
	Gallery        *gallery.Gallery
	Persister      Persister      // nil disables durable persistence
	Bus            *bus.ChangeBus // nil disables change notification
	DedupThreshold float64
	Log            *logrus.Entry
}

// EnrollOne runs extract -> dedup -> enroll -> persist -> publish for a
// single identity/image pair. It never returns an error directly;
// failures are reported in Result.Error so batch callers can keep
// streaming results for the rest of the work list.
func (o *Orchestrator) EnrollOne(ctx context.Context, req Request) Result {
	result := Result{IdentityID: req.IdentityID}

	extractor, err := o.Pool.Acquire(ctx)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer o.Pool.Release(extractor)

	template, err := extractor.Extract(req.Image, req.EyeSide)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	dupID, err := o.Gallery.CheckDuplicate(ctx, *template, o.DedupThreshold)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if dupID != nil {
		name, _ := o.Gallery.IdentityName(*dupID)
		result.IsDuplicate = true
		result.DuplicateIdentityID = dupID
		result.DuplicateIdentityName = name
		return result
	}

	templateID := o.Gallery.Enroll(req.IdentityID, req.IdentityName, req.EyeSide, *template)
	result.TemplateID = templateID

	if o.Persister == nil {
		return result
	}

	if err := o.Persister.PersistEnrollment(ctx, templateID, req.IdentityID, req.IdentityName, req.EyeSide, req.DeviceID, req.QualityScore, *template); err != nil {
		o.Log.WithError(err).WithField("template_id", templateID).Error("failed to persist enrollment")
		result.Error = err.Error()
		return result
	}
	if o.Bus != nil {
		if err := o.Bus.PublishEnrolled(templateID, req.IdentityID); err != nil {
			o.Log.WithError(err).Warn("failed to publish enrolled event")
		}
	}

	return result
}
