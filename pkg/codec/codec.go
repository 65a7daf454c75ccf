// Package codec packs and unpacks ordered sequences of binary
// iris/mask arrays to and from a single self-describing byte string,
// with an optional transparent AES-256-GCM envelope.
package codec

import (
	"bytes"

	"github.com/buildbarn/eyed-registry/pkg/errs"
)

// Mode selects how Pack serializes a template's arrays. ModeHE is
// never produced by this package directly — HEv1 blobs are built by
// pkg/he, which owns the ciphertext representation — but the constant
// is exported so callers can express intent symmetrically with
// ModePlain.
type Mode int

const (
	ModePlain Mode = iota
	ModeHE
)

// HEv1Prefix is the 4-byte magic identifying a serialized HE blob.
// Exported so pkg/he can tag its own blobs and pkg/codec can recognize
// (without decoding) HE blobs nested inside an AES envelope.
const HEv1Prefix = "HEv1"

// Pack serializes codes into a single self-describing byte string.
// Only ModePlain is implemented here; ModeHE templates are serialized
// by pkg/he.Context.PackHEv1.
func Pack(codes []*Array3D, mode Mode) ([]byte, error) {
	if mode != ModePlain {
		return nil, errs.New(errs.KindDecodeError, "codec.Pack only supports ModePlain; HE blobs are built by pkg/he")
	}
	plain, err := packNPZ(codes)
	if err != nil {
		return nil, err
	}
	return envelopeEncrypt(plain)
}

// Result is the outcome of Unpack: exactly one of Arrays or HEBlob is
// populated, depending on which format the blob (after any AES
// envelope has been removed) turned out to be.
type Result struct {
	// Arrays holds the decoded ordered sequence of arrays when the
	// blob was a plain (NPZ-style) archive.
	Arrays []*Array3D
	// HEBlob holds the raw HEv1 bytes (post-decryption, pre-
	// ciphertext-deserialization) when the blob was HE-encoded. The
	// caller passes this to pkg/he.Context.UnpackHEv1.
	HEBlob []byte
}

// Unpack dispatches on the blob's prefix, decrypting an EYED1 envelope
// first if present and re-dispatching on the contents.
func Unpack(blob []byte) (*Result, error) {
	data := blob
	if IsEnvelopeBlob(data) {
		plain, err := envelopeDecrypt(data)
		if err != nil {
			return nil, err
		}
		data = plain
	}

	switch {
	case bytes.HasPrefix(data, []byte(HEv1Prefix)):
		return &Result{HEBlob: data}, nil
	case IsNPZBlob(data):
		arrays, err := unpackNPZ(data)
		if err != nil {
			return nil, err
		}
		return &Result{Arrays: arrays}, nil
	default:
		return nil, errs.New(errs.KindDecodeError, "unrecognized blob prefix")
	}
}
