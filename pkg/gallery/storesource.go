package gallery

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/buildbarn/eyed-registry/pkg/codec"
	"github.com/buildbarn/eyed-registry/pkg/errs"
	"github.com/buildbarn/eyed-registry/pkg/he"
	"github.com/buildbarn/eyed-registry/pkg/store"
)

// StoreLoader is the subset of *store.Store StoreSource depends on,
// narrowed to an interface so tests can supply a fake in place of a
// live Postgres pool.
type StoreLoader interface {
	LoadAllTemplates(ctx context.Context) ([]store.Template, error)
}

// StoreSource is the production Source: it loads every template row
// from the durable store and decodes its iris/mask byte columns back
// into the representation the gallery matches against, the port of
// matcher.py's load_from_db. A row whose codes fail to decode is
// logged and skipped rather than aborting the whole reload, so one
// corrupt row cannot take the gallery offline.
type StoreSource struct {
	Store StoreLoader
	HE    *he.Context // nil when the registry never runs in HE mode
	Log   *logrus.Entry
}

// NewStoreSource constructs a StoreSource.
func NewStoreSource(store StoreLoader, heCtx *he.Context, log *logrus.Entry) *StoreSource {
	return &StoreSource{Store: store, HE: heCtx, Log: log}
}

// LoadEntries implements Source.
func (s *StoreSource) LoadEntries(ctx context.Context) ([]Entry, error) {
	rows, err := s.Store.LoadAllTemplates(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		template, err := s.decode(row)
		if err != nil {
			s.Log.WithError(err).WithField("template_id", row.TemplateID).
				Warn("skipping template that failed to decode during gallery reload")
			continue
		}
		entries = append(entries, Entry{
			TemplateID:   row.TemplateID,
			IdentityID:   row.IdentityID,
			IdentityName: row.IdentityName,
			EyeSide:      row.EyeSide,
			Template:     template,
		})
	}
	return entries, nil
}

func (s *StoreSource) decode(row store.Template) (Template, error) {
	iris, err := codec.Unpack(row.IrisCodes)
	if err != nil {
		return Template{}, err
	}
	mask, err := codec.Unpack(row.MaskCodes)
	if err != nil {
		return Template{}, err
	}

	if iris.HEBlob == nil && mask.HEBlob == nil {
		return Template{Plain: &PlainTemplate{
			IrisCodes: iris.Arrays,
			MaskCodes: mask.Arrays,
		}}, nil
	}

	if s.HE == nil {
		return Template{}, errs.New(errs.KindHEInit, "template is HE-encoded but no HE context is configured")
	}
	irisCts, err := s.HE.UnpackHEv1(iris.HEBlob)
	if err != nil {
		return Template{}, err
	}
	maskCts, err := s.HE.UnpackHEv1(mask.HEBlob)
	if err != nil {
		return Template{}, err
	}
	return Template{HE: &HETemplate{
		IrisCiphertexts: irisCts,
		MaskCiphertexts: maskCts,
		IrisPopcount:    int32sToInts(row.IrisPopcount),
		MaskPopcount:    int32sToInts(row.MaskPopcount),
	}}, nil
}

func int32sToInts(in []int32) []int {
	if in == nil {
		return nil
	}
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}
