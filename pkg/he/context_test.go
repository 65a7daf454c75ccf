package he

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"

	"github.com/buildbarn/eyed-registry/pkg/codec"
)

func testContext(t *testing.T) *Context {
	t.Helper()
	ctx, err := New(Config{TestMode: true})
	require.NoError(t, err)
	require.True(t, ctx.HasSecretKey())
	return ctx
}

func onesArray(height, width, count int) *codec.Array3D {
	a := codec.NewArray3D(height, width)
	set := 0
	for h := 0; h < height && set < count; h++ {
		for w := 0; w < width && set < count; w++ {
			a.SetBit(h, w, 0, true)
			set++
		}
	}
	return a
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ctx := testContext(t)
	arr := onesArray(16, 256, 100)

	ct, err := ctx.Encrypt(arr)
	require.NoError(t, err)

	values, err := ctx.Decrypt(ct)
	require.NoError(t, err)

	want := arrayToSlots(arr)
	for i := range want {
		require.Equal(t, want[i], values[i], "slot %d", i)
	}
}

func TestInnerProductCountsOverlap(t *testing.T) {
	ctx := testContext(t)
	a := onesArray(16, 256, 100)
	b := onesArray(16, 256, 60) // fully overlaps with a's first 60 set bits

	ctA, err := ctx.Encrypt(a)
	require.NoError(t, err)
	ctB, err := ctx.Encrypt(b)
	require.NoError(t, err)

	product, err := ctx.InnerProduct(ctA, ctB)
	require.NoError(t, err)

	scalar, err := ctx.DecryptScalar(product)
	require.NoError(t, err)
	require.Equal(t, uint64(60), scalar)
}

func TestPopcount(t *testing.T) {
	arr := onesArray(16, 256, 321)
	require.Equal(t, 321, Popcount(arr))
}

func TestHEv1PackUnpackRoundTrip(t *testing.T) {
	ctx := testContext(t)
	a := onesArray(16, 256, 10)
	b := onesArray(16, 256, 20)

	ctA, err := ctx.Encrypt(a)
	require.NoError(t, err)
	ctB, err := ctx.Encrypt(b)
	require.NoError(t, err)

	blob, err := ctx.PackHEv1([]*rlwe.Ciphertext{ctA, ctB})
	require.NoError(t, err)
	require.True(t, len(blob) > 0)

	cts, err := ctx.UnpackHEv1(blob)
	require.NoError(t, err)
	require.Len(t, cts, 2)

	valuesA, err := ctx.Decrypt(cts[0])
	require.NoError(t, err)
	require.Equal(t, arrayToSlots(a), valuesA[:len(arrayToSlots(a))])
}
