package codec

import (
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomArray(height, width int, seed int64) *Array3D {
	r := rand.New(rand.NewSource(seed))
	flat := make([]byte, height*width*2)
	for i := range flat {
		if r.Intn(2) == 1 {
			flat[i] = 1
		}
	}
	return FromBytes(height, width, flat)
}

func TestArray3DRoundTrip(t *testing.T) {
	a := randomArray(16, 256, 1)
	flat := a.ToBytes()
	b := FromBytes(16, 256, flat)
	require.Equal(t, a.ToBytes(), b.ToBytes())
}

func TestArray3DRotateColumnsIdentityAtZero(t *testing.T) {
	a := randomArray(4, 8, 2)
	require.Equal(t, a.ToBytes(), a.RotateColumns(0).ToBytes())
}

func TestArray3DRotateColumnsRoundTrip(t *testing.T) {
	a := randomArray(4, 8, 3)
	rotated := a.RotateColumns(3)
	back := rotated.RotateColumns(-3)
	require.Equal(t, a.ToBytes(), back.ToBytes())
}

func TestArray3DPopCountAndXor(t *testing.T) {
	a := NewArray3D(2, 4)
	b := NewArray3D(2, 4)
	a.SetBit(0, 0, 0, true)
	a.SetBit(1, 3, 1, true)
	require.Equal(t, 2, a.PopCount())
	require.Equal(t, 0, b.PopCount())

	x := a.Xor(b)
	require.Equal(t, 2, x.PopCount())

	b.SetBit(0, 0, 0, true)
	x = a.Xor(b)
	require.Equal(t, 1, x.PopCount())

	and := a.And(b)
	require.Equal(t, 1, and.PopCount())
}

func TestNPZRoundTrip(t *testing.T) {
	resetKeyForTests()
	t.Cleanup(resetKeyForTests)
	os.Unsetenv(keyEnvVar)

	arrays := []*Array3D{randomArray(16, 256, 10), randomArray(16, 256, 11)}
	blob, err := Pack(arrays, ModePlain)
	require.NoError(t, err)
	require.True(t, IsNPZBlob(blob))

	result, err := Unpack(blob)
	require.NoError(t, err)
	require.Len(t, result.Arrays, 2)
	for i, a := range arrays {
		require.Equal(t, a.ToBytes(), result.Arrays[i].ToBytes())
	}
}

func TestEnvelopeRoundTripAndTamper(t *testing.T) {
	resetKeyForTests()
	t.Cleanup(resetKeyForTests)
	os.Setenv(keyEnvVar, "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd")

	arrays := []*Array3D{randomArray(16, 256, 20)}
	blob, err := Pack(arrays, ModePlain)
	require.NoError(t, err)
	require.Equal(t, envelopePrefix, string(blob[:5]))

	result, err := Unpack(blob)
	require.NoError(t, err)
	require.Len(t, result.Arrays, 1)
	require.Equal(t, arrays[0].ToBytes(), result.Arrays[0].ToBytes())

	// Two encryptions of the same plaintext must differ (random nonce).
	blob2, err := Pack(arrays, ModePlain)
	require.NoError(t, err)
	require.NotEqual(t, blob, blob2)

	// Tamper a byte in the ciphertext body; decryption must fail with
	// AuthTagFail.
	tampered := append([]byte(nil), blob...)
	tampered[20] ^= 0xFF
	_, err = Unpack(tampered)
	require.Error(t, err)
}

func TestUnpackWithoutKeyFailsOnEnvelope(t *testing.T) {
	resetKeyForTests()
	os.Setenv(keyEnvVar, "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd")
	arrays := []*Array3D{randomArray(4, 8, 30)}
	blob, err := Pack(arrays, ModePlain)
	require.NoError(t, err)

	resetKeyForTests()
	os.Unsetenv(keyEnvVar)
	t.Cleanup(resetKeyForTests)

	_, err = Unpack(blob)
	require.Error(t, err)
}

func TestValidateKeyReportsMalformedKeyWithoutPanicking(t *testing.T) {
	resetKeyForTests()
	os.Setenv(keyEnvVar, "not-valid-hex-or-base64-and-wrong-length")
	t.Cleanup(func() {
		os.Unsetenv(keyEnvVar)
		resetKeyForTests()
	})

	err := ValidateKey()
	require.Error(t, err)

	_, err = Pack([]*Array3D{randomArray(2, 4, 1)}, ModePlain)
	require.Error(t, err)
}

func TestUnrecognizedPrefix(t *testing.T) {
	_, err := Unpack([]byte("not a blob"))
	require.Error(t, err)
}
