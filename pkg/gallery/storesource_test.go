package gallery

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"

	"github.com/buildbarn/eyed-registry/pkg/codec"
	"github.com/buildbarn/eyed-registry/pkg/he"
	"github.com/buildbarn/eyed-registry/pkg/store"
)

func silentLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fixedLoader struct {
	rows []store.Template
	err  error
}

func (f fixedLoader) LoadAllTemplates(context.Context) ([]store.Template, error) {
	return f.rows, f.err
}

func packArray(t *testing.T, a *codec.Array3D) []byte {
	t.Helper()
	blob, err := codec.Pack([]*codec.Array3D{a}, codec.ModePlain)
	require.NoError(t, err)
	return blob
}

func TestStoreSourceDecodesPlainTemplates(t *testing.T) {
	iris := codec.NewArray3D(4, 8)
	iris.SetBit(0, 0, 0, true)
	mask := codec.NewArray3D(4, 8)
	mask.SetBit(0, 0, 1, true)

	identityID := uuid.New()
	templateID := uuid.New()
	loader := fixedLoader{rows: []store.Template{{
		TemplateID:   templateID,
		IdentityID:   identityID,
		IdentityName: "alice",
		EyeSide:      "left",
		IrisCodes:    packArray(t, iris),
		MaskCodes:    packArray(t, mask),
	}}}

	src := NewStoreSource(loader, nil, silentLog())
	entries, err := src.LoadEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, templateID, entries[0].TemplateID)
	require.Equal(t, "alice", entries[0].IdentityName)
	require.NotNil(t, entries[0].Template.Plain)
	require.Len(t, entries[0].Template.Plain.IrisCodes, 1)
	require.True(t, entries[0].Template.Plain.IrisCodes[0].GetBit(0, 0, 0))
}

func TestStoreSourceSkipsRowsThatFailToDecode(t *testing.T) {
	good := codec.NewArray3D(2, 4)
	identityID := uuid.New()
	loader := fixedLoader{rows: []store.Template{
		{
			TemplateID:   uuid.New(),
			IdentityID:   identityID,
			IdentityName: "corrupt",
			IrisCodes:    []byte("not a valid blob"),
			MaskCodes:    []byte("also not valid"),
		},
		{
			TemplateID:   uuid.New(),
			IdentityID:   identityID,
			IdentityName: "fine",
			IrisCodes:    packArray(t, good),
			MaskCodes:    packArray(t, good),
		},
	}}

	src := NewStoreSource(loader, nil, silentLog())
	entries, err := src.LoadEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "fine", entries[0].IdentityName)
}

func TestStoreSourcePropagatesStoreError(t *testing.T) {
	src := NewStoreSource(fixedLoader{err: context.DeadlineExceeded}, nil, silentLog())
	_, err := src.LoadEntries(context.Background())
	require.Error(t, err)
}

func TestStoreSourceDecodesHETemplates(t *testing.T) {
	heCtx, err := he.New(he.Config{TestMode: true})
	require.NoError(t, err)

	iris := codec.NewArray3D(he.IrisCodeHeight, he.IrisCodeWidth)
	mask := codec.NewArray3D(he.IrisCodeHeight, he.IrisCodeWidth)
	irisCt, err := heCtx.Encrypt(iris)
	require.NoError(t, err)
	maskCt, err := heCtx.Encrypt(mask)
	require.NoError(t, err)

	irisBlob, err := heCtx.PackHEv1([]*rlwe.Ciphertext{irisCt})
	require.NoError(t, err)
	maskBlob, err := heCtx.PackHEv1([]*rlwe.Ciphertext{maskCt})
	require.NoError(t, err)

	templateID := uuid.New()
	identityID := uuid.New()
	loader := fixedLoader{rows: []store.Template{{
		TemplateID:   templateID,
		IdentityID:   identityID,
		IdentityName: "dave",
		EyeSide:      "right",
		IrisCodes:    irisBlob,
		MaskCodes:    maskBlob,
		IrisPopcount: []int32{1234},
		MaskPopcount: []int32{5678},
	}}}

	src := NewStoreSource(loader, heCtx, silentLog())
	entries, err := src.LoadEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Template.HE)
	require.Len(t, entries[0].Template.HE.IrisCiphertexts, 1)
	require.Equal(t, []int{1234}, entries[0].Template.HE.IrisPopcount)
}

func TestStoreSourceSkipsHETemplateWithoutConfiguredContext(t *testing.T) {
	heCtx, err := he.New(he.Config{TestMode: true})
	require.NoError(t, err)
	iris := codec.NewArray3D(he.IrisCodeHeight, he.IrisCodeWidth)
	irisCt, err := heCtx.Encrypt(iris)
	require.NoError(t, err)
	irisBlob, err := heCtx.PackHEv1([]*rlwe.Ciphertext{irisCt})
	require.NoError(t, err)

	loader := fixedLoader{rows: []store.Template{{
		TemplateID: uuid.New(),
		IdentityID: uuid.New(),
		IrisCodes:  irisBlob,
		MaskCodes:  irisBlob,
	}}}

	src := NewStoreSource(loader, nil, silentLog())
	entries, err := src.LoadEntries(context.Background())
	require.NoError(t, err)
	require.Empty(t, entries)
}
