package queue

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/buildbarn/eyed-registry/internal/mock"
	"github.com/buildbarn/eyed-registry/pkg/store"
)

func TestEnrollmentDrainWriterPersistsAndDedups(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	identityID := uuid.New()
	records := []EnrollmentRecord{
		{
			TemplateID:   uuid.New(),
			IdentityID:   identityID,
			IdentityName: "carol",
			EyeSide:      "left",
			IrisCodesB64: base64.StdEncoding.EncodeToString([]byte{1, 2}),
			MaskCodesB64: base64.StdEncoding.EncodeToString([]byte{3, 4}),
			Width:        256,
			Height:       16,
			NScales:      5,
		},
		{
			TemplateID:   uuid.New(),
			IdentityID:   identityID,
			IdentityName: "carol",
			EyeSide:      "right",
			IrisCodesB64: base64.StdEncoding.EncodeToString([]byte{5, 6}),
			MaskCodesB64: base64.StdEncoding.EncodeToString([]byte{7, 8}),
			Width:        256,
			Height:       16,
			NScales:      5,
		},
	}

	popper := mock.NewMockEnrollmentPopper(ctrl)
	popCount := 0
	popper.EXPECT().Pop(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, int64) ([]EnrollmentRecord, error) {
			popCount++
			if popCount == 1 {
				return records, nil
			}
			return nil, nil
		},
	).AnyTimes()

	var gotIDs []uuid.UUID
	var gotTemplates []store.NewTemplate
	s := mock.NewMockEnrollmentStore(ctrl)
	s.EXPECT().EnsureIdentities(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, ids []uuid.UUID, _ []string) error {
			gotIDs = ids
			return nil
		},
	).AnyTimes()
	s.EXPECT().PersistTemplates(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, templates []store.NewTemplate) error {
			gotTemplates = templates
			return nil
		},
	).AnyTimes()

	w := NewEnrollmentDrainWriter(popper, s, silentLogger(), 50, time.Hour)
	w.flush(context.Background())

	require.Len(t, gotIDs, 1, "identity rows should be deduplicated")
	require.Len(t, gotTemplates, 2)
}

func TestEnrollmentDrainWriterSkipsMalformedBase64(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	popper := mock.NewMockEnrollmentPopper(ctrl)
	popper.EXPECT().Pop(gomock.Any(), gomock.Any()).Return([]EnrollmentRecord{
		{IdentityID: uuid.New(), IrisCodesB64: "not-valid-base64!!", MaskCodesB64: "also-not-valid!!"},
	}, nil)

	var gotTemplates []store.NewTemplate
	s := mock.NewMockEnrollmentStore(ctrl)
	s.EXPECT().EnsureIdentities(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	s.EXPECT().PersistTemplates(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, templates []store.NewTemplate) error {
			gotTemplates = templates
			return nil
		},
	)

	w := NewEnrollmentDrainWriter(popper, s, silentLogger(), 50, time.Hour)
	w.flush(context.Background())

	require.Len(t, gotTemplates, 0, "malformed base64 record should be skipped")
}
