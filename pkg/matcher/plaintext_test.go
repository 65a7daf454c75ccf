package matcher

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/buildbarn/eyed-registry/pkg/codec"
	"github.com/buildbarn/eyed-registry/pkg/gallery"
)

// onesArray and silentLog are shared with he_test.go.

func fullMask(height, width int) *codec.Array3D {
	mask := codec.NewArray3D(height, width)
	for h := 0; h < height; h++ {
		for w := 0; w < width; w++ {
			mask.SetBit(h, w, 0, true)
			mask.SetBit(h, w, 1, true)
		}
	}
	return mask
}

func plainTemplateFrom(iris *codec.Array3D, mask *codec.Array3D) *gallery.PlainTemplate {
	return &gallery.PlainTemplate{
		IrisCodes: []*codec.Array3D{iris},
		MaskCodes: []*codec.Array3D{mask},
	}
}

func TestPlaintextMatcherIdenticalTemplatesScoreZero(t *testing.T) {
	iris := onesArray(16, 256, 500)
	mask := fullMask(16, 256)

	probe := plainTemplateFrom(iris, mask)
	entryIris := onesArray(16, 256, 500)
	entry := plainTemplateFrom(entryIris, mask)

	m := &Plaintext{RotationShift: 0, NormMean: 0, NormGradient: 0, Log: silentLog()}
	distance, rotation, err := m.scorePair(probe, entry)
	require.NoError(t, err)
	require.InDelta(t, 0.0, distance, 1e-9)
	require.Equal(t, 0, rotation)
}

func TestPlaintextMatcherMatchPicksBestEntry(t *testing.T) {
	iris := onesArray(16, 256, 500)
	mask := fullMask(16, 256)
	probeTemplate := gallery.Template{Plain: plainTemplateFrom(iris, mask)}

	goodIris := onesArray(16, 256, 500)
	good := gallery.Entry{
		TemplateID:   uuid.New(),
		IdentityID:   uuid.New(),
		IdentityName: "match",
		Template:     gallery.Template{Plain: plainTemplateFrom(goodIris, mask)},
	}

	badIris := codec.NewArray3D(16, 256)
	for h := 0; h < 16; h++ {
		for w := 0; w < 256; w++ {
			badIris.SetBit(h, w, 0, !goodIris.GetBit(h, w, 0))
			badIris.SetBit(h, w, 1, !goodIris.GetBit(h, w, 1))
		}
	}
	bad := gallery.Entry{
		TemplateID:   uuid.New(),
		IdentityID:   uuid.New(),
		IdentityName: "nomatch",
		Template:     gallery.Template{Plain: plainTemplateFrom(badIris, mask)},
	}

	m := &Plaintext{RotationShift: 0, NormMean: 0, NormGradient: 0, Log: silentLog()}
	result, err := m.Match(context.Background(), []gallery.Entry{bad, good}, probeTemplate, 0.3)
	require.NoError(t, err)
	require.True(t, result.IsMatch)
	require.Equal(t, "match", result.MatchedIdentityName)
}

func TestPlaintextMatcherRejectsHEProbe(t *testing.T) {
	m := &Plaintext{Log: silentLog()}
	_, err := m.Match(context.Background(), nil, gallery.Template{HE: &gallery.HETemplate{}}, 0.3)
	require.Error(t, err)
}
