package enroll

import (
	"context"
	"encoding/base64"

	"github.com/google/uuid"

	"github.com/buildbarn/eyed-registry/pkg/codec"
	"github.com/buildbarn/eyed-registry/pkg/errs"
	"github.com/buildbarn/eyed-registry/pkg/gallery"
	"github.com/buildbarn/eyed-registry/pkg/he"
	"github.com/buildbarn/eyed-registry/pkg/queue"
	"github.com/buildbarn/eyed-registry/pkg/store"
)

// EnrollmentQueue is the subset of *queue.EnrollmentQueue StorePersister
// depends on, narrowed to an interface so tests can supply a fake.
type EnrollmentQueue interface {
	Push(ctx context.Context, rec queue.EnrollmentRecord) error
}

// TemplateStore is the subset of *store.Store StorePersister depends on
// for its direct-write fallback path.
type TemplateStore interface {
	EnsureIdentity(ctx context.Context, identityID uuid.UUID, name string) error
	PersistTemplate(ctx context.Context, t store.NewTemplate) error
}

// StorePersister packs a freshly-enrolled template and durably records
// it, the port of core.py's run_enroll_async persist step: HE-mode
// templates are serialized with pkg/he.Context.PackHEv1 (carrying the
// popcount sidecar computed at extraction time), plaintext templates
// with pkg/codec.Pack. When Queue is set, records are staged there for
// the enrollment drain writer to batch-insert; a nil Queue falls back
// to writing directly through Store, the path taken when no queue is
// configured.
type StorePersister struct {
	Queue EnrollmentQueue // preferred; nil falls back to Store
	Store TemplateStore
	HE    *he.Context // required only when enrolling HE-mode templates
}

// PersistEnrollment implements Persister.
func (p *StorePersister) PersistEnrollment(ctx context.Context, templateID, identityID uuid.UUID, identityName, eyeSide, deviceID string, qualityScore float64, template gallery.Template) error {
	packed, err := p.pack(template)
	if err != nil {
		return err
	}

	if p.Queue != nil {
		return p.Queue.Push(ctx, queue.EnrollmentRecord{
			TemplateID:   templateID,
			IdentityID:   identityID,
			IdentityName: identityName,
			EyeSide:      eyeSide,
			IrisCodesB64: base64.StdEncoding.EncodeToString(packed.iris),
			MaskCodesB64: base64.StdEncoding.EncodeToString(packed.mask),
			Width:        packed.width,
			Height:       packed.height,
			NScales:      packed.nScales,
			QualityScore: qualityScore,
			DeviceID:     deviceID,
			IrisPopcount: packed.irisPopcount,
			MaskPopcount: packed.maskPopcount,
		})
	}

	if err := p.Store.EnsureIdentity(ctx, identityID, identityName); err != nil {
		return err
	}
	return p.Store.PersistTemplate(ctx, store.NewTemplate{
		TemplateID:   templateID,
		IdentityID:   identityID,
		EyeSide:      eyeSide,
		IrisCodes:    packed.iris,
		MaskCodes:    packed.mask,
		Width:        packed.width,
		Height:       packed.height,
		NScales:      packed.nScales,
		QualityScore: qualityScore,
		DeviceID:     deviceID,
		IrisPopcount: intsToInt32s(packed.irisPopcount),
		MaskPopcount: intsToInt32s(packed.maskPopcount),
	})
}

// packedTemplate is the wire-ready form of a gallery.Template,
// independent of which persistence path (queue or direct) consumes it.
type packedTemplate struct {
	iris, mask                 []byte
	width, height, nScales     int
	irisPopcount, maskPopcount []int
}

func (p *StorePersister) pack(template gallery.Template) (packedTemplate, error) {
	switch {
	case template.HE != nil:
		if p.HE == nil {
			return packedTemplate{}, errs.New(errs.KindHEInit, "HE template enrolled but no HE context is configured for persistence")
		}
		irisBytes, err := p.HE.PackHEv1(template.HE.IrisCiphertexts)
		if err != nil {
			return packedTemplate{}, err
		}
		maskBytes, err := p.HE.PackHEv1(template.HE.MaskCiphertexts)
		if err != nil {
			return packedTemplate{}, err
		}
		return packedTemplate{
			iris: irisBytes, mask: maskBytes,
			width: he.IrisCodeWidth, height: he.IrisCodeHeight,
			nScales:      len(template.HE.IrisCiphertexts),
			irisPopcount: template.HE.IrisPopcount,
			maskPopcount: template.HE.MaskPopcount,
		}, nil

	case template.Plain != nil:
		irisBytes, err := codec.Pack(template.Plain.IrisCodes, codec.ModePlain)
		if err != nil {
			return packedTemplate{}, err
		}
		maskBytes, err := codec.Pack(template.Plain.MaskCodes, codec.ModePlain)
		if err != nil {
			return packedTemplate{}, err
		}
		var width, height int
		if len(template.Plain.IrisCodes) > 0 {
			width = template.Plain.IrisCodes[0].Width
			height = template.Plain.IrisCodes[0].Height
		}
		return packedTemplate{
			iris: irisBytes, mask: maskBytes,
			width: width, height: height,
			nScales: len(template.Plain.IrisCodes),
		}, nil

	default:
		return packedTemplate{}, errs.New(errs.KindDecodeError, "enrolled template carries neither plaintext nor HE codes")
	}
}

func intsToInt32s(in []int) []int32 {
	if in == nil {
		return nil
	}
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}
