// Package he implements the homomorphic-encryption matching primitives:
// BFV parameters, key management, encrypt/
// multiply/inner-product/decrypt, and the HEv1 blob format. It is
// built on github.com/tuneinsight/lattigo/v6, grounded on the BFV/BGV
// usage shown across the pack's tuneinsight-lattigo examples (key
// generation via rlwe.NewKeyGenerator, encryption via
// rlwe.NewEncryptor/Decryptor, evaluation via bfv.Evaluator's Mul,
// Relinearize and InnerSum).
package he

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bfv"

	"github.com/buildbarn/eyed-registry/pkg/codec"
	"github.com/buildbarn/eyed-registry/pkg/errs"
)

// IrisCodeHeight and IrisCodeWidth are the fixed scale shape assumed
// for every HE-mode template: a ciphertext carries no shape metadata
// of its own once the plaintext has been encrypted, so persistence
// and reload fall back to this constant shape rather than the
// per-template Width/Height recorded for plaintext scales.
const (
	IrisCodeHeight = 16
	IrisCodeWidth  = 256
)

// IrisCodeSlots is the number of bits (and thus plaintext slots) in a
// single iris/mask code scale: shape (16, 256, 2) flattened.
const IrisCodeSlots = IrisCodeHeight * IrisCodeWidth * 2

// minRingDimension and minPlaintextModulus are the lower bounds
// needed for correctness: the ring must hold at least one slot per bit
// of a scale, and the plaintext modulus must be large enough that an inner
// product of two IrisCodeSlots-length binary vectors cannot wrap
// around (max possible value is IrisCodeSlots).
const (
	minRingDimension   = 8192
	minPlaintextModulus = IrisCodeSlots + 1 // 8193; 65537 conventionally used
)

// Config configures Context initialization.
type Config struct {
	// KeyDir holds public_key.bin, relin_key.bin and galois_keys.bin
	// for production initialization. Ignored when TestMode is set.
	KeyDir string
	// TestMode generates an ephemeral keypair in-process (including
	// the secret key, enabling local decryption) instead of loading
	// keys from KeyDir.
	TestMode bool
}

// Context holds the BFV scheme parameters and the key material needed
// to encrypt, homomorphically evaluate, and (in test mode) decrypt.
// It is a process-wide singleton by convention: built
// once at startup via Init and passed by reference to the components
// that need it.
type Context struct {
	params bfv.Parameters

	encoder   *bfv.Encoder
	evaluator *bfv.Evaluator
	encryptor *rlwe.Encryptor

	// decryptor and sk are non-nil only in test mode, where the
	// secret key lives in-process so the HE path can be exercised
	// without an out-of-process key holder.
	decryptor *rlwe.Decryptor
	sk        *rlwe.SecretKey
}

var (
	mu      sync.RWMutex
	current *Context
)

// Init builds a Context from cfg and installs it as the process-wide
// singleton, returning it.
func Init(cfg Config) (*Context, error) {
	ctx, err := New(cfg)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	current = ctx
	mu.Unlock()
	return ctx, nil
}

// Current returns the process-wide singleton installed by the last
// successful Init call, or nil if none has run yet.
func Current() *Context {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// ResetForTests clears the process-wide singleton. It is the explicit
// test-only reset hook, used instead of ad hoc global mutation.
func ResetForTests() {
	mu.Lock()
	current = nil
	mu.Unlock()
}

// New builds a standalone Context without touching the singleton.
// Most callers should use Init; New is useful for tests that want
// several independent contexts.
func New(cfg Config) (*Context, error) {
	literal := bfv.ParametersLiteral{
		LogN:             13, // ring dimension 8192
		LogQ:             []int{55, 55, 55},
		LogP:             []int{55},
		PlaintextModulus: 65537,
	}
	params, err := bfv.NewParametersFromLiteral(literal)
	if err != nil {
		return nil, errs.Wrap(errs.KindHEInit, err, "failed to build BFV parameters")
	}
	if params.N() < minRingDimension {
		return nil, errs.New(errs.KindHEInit, "ring dimension below required minimum")
	}
	if params.PlaintextModulus() < minPlaintextModulus {
		return nil, errs.New(errs.KindHEInit, "plaintext modulus too small to hold inner products without wraparound")
	}

	c := &Context{
		params:  params,
		encoder: bfv.NewEncoder(params),
	}

	if cfg.TestMode {
		if err := c.initEphemeral(); err != nil {
			return nil, err
		}
	} else {
		if err := c.initFromKeyDir(cfg.KeyDir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Context) initEphemeral() error {
	kgen := rlwe.NewKeyGenerator(c.params)
	sk := kgen.GenSecretKeyNew()
	pk := kgen.GenPublicKeyNew(sk)
	rlk := kgen.GenRelinearizationKeyNew(sk)

	galEls := c.params.GaloisElementsForInnerSum(1, c.params.N()>>1)
	galKeys := kgen.GenGaloisKeysNew(galEls, sk)
	evk := rlwe.NewMemEvaluationKeySet(rlk, galKeys...)

	c.sk = sk
	c.encryptor = rlwe.NewEncryptor(c.params, pk)
	c.decryptor = rlwe.NewDecryptor(c.params, sk)
	c.evaluator = bfv.NewEvaluator(c.params, evk)
	return nil
}

func (c *Context) initFromKeyDir(dir string) error {
	pk := new(rlwe.PublicKey)
	if err := unmarshalFile(filepath.Join(dir, "public_key.bin"), pk); err != nil {
		return errs.Wrap(errs.KindHEInit, err, "failed to load public key")
	}
	rlk := new(rlwe.RelinearizationKey)
	if err := unmarshalFile(filepath.Join(dir, "relin_key.bin"), rlk); err != nil {
		return errs.Wrap(errs.KindHEInit, err, "failed to load relinearization key")
	}
	galKeys, err := loadGaloisKeys(filepath.Join(dir, "galois_keys.bin"))
	if err != nil {
		return errs.Wrap(errs.KindHEInit, err, "failed to load galois keys")
	}
	if len(galKeys) == 0 {
		return errs.New(errs.KindHEInit, "no galois keys available: cannot sum ciphertext slots")
	}

	evk := rlwe.NewMemEvaluationKeySet(rlk, galKeys...)
	c.encryptor = rlwe.NewEncryptor(c.params, pk)
	c.evaluator = bfv.NewEvaluator(c.params, evk)
	// No secret key in production mode: decryption is always
	// delegated to the out-of-process key holder.
	return nil
}

type unmarshaler interface {
	UnmarshalBinary(data []byte) error
}

func unmarshalFile(path string, dst unmarshaler) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return dst.UnmarshalBinary(data)
}

// loadGaloisKeys reads a length-prefixed concatenation of serialized
// galois keys, mirroring the HEv1 ciphertext framing used on the wire.
func loadGaloisKeys(path string) ([]*rlwe.GaloisKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	blobs, err := splitLengthPrefixed(data)
	if err != nil {
		return nil, err
	}
	keys := make([]*rlwe.GaloisKey, len(blobs))
	for i, b := range blobs {
		gk := new(rlwe.GaloisKey)
		if err := gk.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		keys[i] = gk
	}
	return keys, nil
}

// HasSecretKey reports whether this Context can decrypt locally (test
// mode only; never true in a production, key-dir-initialized Context).
func (c *Context) HasSecretKey() bool {
	return c.sk != nil
}

// Params exposes the BFV parameters, primarily so callers can size
// buffers (e.g. c.Params().N()).
func (c *Context) Params() bfv.Parameters {
	return c.params
}

// encodeBinary flattens a (height, width, 2) binary array into the
// packed plaintext used for one scale.
func (c *Context) encodeBinary(arr *codec.Array3D) (*rlwe.Plaintext, error) {
	values := arrayToSlots(arr)
	pt := bfv.NewPlaintext(c.params, c.params.MaxLevel())
	if err := c.encoder.Encode(values, pt); err != nil {
		return nil, errs.Wrap(errs.KindHEInit, err, "failed to encode plaintext")
	}
	return pt, nil
}

func arrayToSlots(arr *codec.Array3D) []uint64 {
	flat := arr.ToBytes()
	values := make([]uint64, len(flat))
	for i, b := range flat {
		values[i] = uint64(b)
	}
	return values
}

// Encrypt encrypts a single (height, width, 2) binary scale.
func (c *Context) Encrypt(arr *codec.Array3D) (*rlwe.Ciphertext, error) {
	pt, err := c.encodeBinary(arr)
	if err != nil {
		return nil, err
	}
	ct := bfv.NewCiphertext(c.params, 1, c.params.MaxLevel())
	if err := c.encryptor.Encrypt(pt, ct); err != nil {
		return nil, errs.Wrap(errs.KindHEInit, err, "encryption failed")
	}
	return ct, nil
}

// Decrypt decrypts ct back to its plaintext slot values. Only valid in
// test mode, where the Context holds the secret key.
func (c *Context) Decrypt(ct *rlwe.Ciphertext) ([]uint64, error) {
	if c.decryptor == nil {
		return nil, errs.New(errs.KindHEInit, "context has no secret key; decryption must be delegated to the key holder")
	}
	pt := bfv.NewPlaintext(c.params, ct.Level())
	c.decryptor.Decrypt(ct, pt)
	values := make([]uint64, c.params.N())
	if err := c.encoder.Decode(pt, values); err != nil {
		return nil, errs.Wrap(errs.KindHEInit, err, "decode failed")
	}
	return values, nil
}

// DecryptScalar decrypts ct and returns slot 0, the convention used to
// recover a scalar inner product.
func (c *Context) DecryptScalar(ct *rlwe.Ciphertext) (uint64, error) {
	values, err := c.Decrypt(ct)
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

// Multiply computes the element-wise product of two ciphertexts (the
// AND of the underlying binary vectors), relinearizing the result back
// to degree 1.
func (c *Context) Multiply(a, b *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	deg2 := bfv.NewCiphertext(c.params, 2, a.Level())
	if err := c.evaluator.Mul(a, b, deg2); err != nil {
		return nil, errs.Wrap(errs.KindHEInit, err, "homomorphic multiply failed")
	}
	out := bfv.NewCiphertext(c.params, 1, a.Level())
	if err := c.evaluator.Relinearize(deg2, out); err != nil {
		return nil, errs.Wrap(errs.KindHEInit, err, "relinearization failed")
	}
	return out, nil
}

// InnerProduct computes the encrypted inner product of the binary
// vectors underlying a and b: multiply element-wise, then
// rotate-and-sum across all slots. The scalar result is recoverable as
// slot 0 of the decryption.
func (c *Context) InnerProduct(a, b *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	product, err := c.Multiply(a, b)
	if err != nil {
		return nil, err
	}
	out := bfv.NewCiphertext(c.params, 1, product.Level())
	if err := c.evaluator.InnerSum(product, 1, c.params.N()>>1, out); err != nil {
		return nil, errs.Wrap(errs.KindHEInit, err, "inner-sum rotation failed")
	}
	return out, nil
}

// Popcount returns the number of set bits in a plaintext binary array,
// the non-secret sidecar accompanying every HE ciphertext scale.
func Popcount(arr *codec.Array3D) int {
	return arr.PopCount()
}

// Serialize produces the compact byte form of ct used for transport
// and persistence.
func (c *Context) Serialize(ct *rlwe.Ciphertext) ([]byte, error) {
	data, err := ct.MarshalBinary()
	if err != nil {
		return nil, errs.Wrap(errs.KindDecodeError, err, "ciphertext serialization failed")
	}
	return data, nil
}

// Deserialize recovers a ciphertext from its compact byte form.
func (c *Context) Deserialize(data []byte) (*rlwe.Ciphertext, error) {
	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, errs.Wrap(errs.KindDecodeError, err, "ciphertext deserialization failed")
	}
	return ct, nil
}
