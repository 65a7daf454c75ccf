package he

import (
	"bytes"
	"encoding/binary"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"

	"github.com/buildbarn/eyed-registry/pkg/codec"
	"github.com/buildbarn/eyed-registry/pkg/errs"
)

// PackHEv1 serializes an ordered sequence of ciphertexts (one per
// scale) into the HEv1 wire format: the 4-byte magic, a uint32 count,
// then each ciphertext as a length-prefixed blob.
func (c *Context) PackHEv1(cts []*rlwe.Ciphertext) ([]byte, error) {
	blobs := make([][]byte, len(cts))
	for i, ct := range cts {
		data, err := c.Serialize(ct)
		if err != nil {
			return nil, err
		}
		blobs[i] = data
	}

	var buf bytes.Buffer
	buf.WriteString(codec.HEv1Prefix)
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(blobs)))
	buf.Write(countBuf[:])
	for _, b := range blobs {
		writeLengthPrefixed(&buf, b)
	}
	return buf.Bytes(), nil
}

// UnpackHEv1 recovers the ordered sequence of ciphertexts from a HEv1
// blob (as produced by PackHEv1, with the leading magic already
// present in data).
func (c *Context) UnpackHEv1(data []byte) ([]*rlwe.Ciphertext, error) {
	if !bytes.HasPrefix(data, []byte(codec.HEv1Prefix)) {
		return nil, errs.New(errs.KindDecodeError, "not a HEv1 blob: missing magic")
	}
	body := data[len(codec.HEv1Prefix):]
	if len(body) < 4 {
		return nil, errs.New(errs.KindDecodeError, "HEv1 blob truncated: missing count")
	}
	count := binary.LittleEndian.Uint32(body[:4])
	blobs, err := splitLengthPrefixed(body[4:])
	if err != nil {
		return nil, err
	}
	if uint32(len(blobs)) != count {
		return nil, errs.New(errs.KindDecodeError, "HEv1 blob truncated: ciphertext count mismatch")
	}

	cts := make([]*rlwe.Ciphertext, len(blobs))
	for i, b := range blobs {
		ct, err := c.Deserialize(b)
		if err != nil {
			return nil, err
		}
		cts[i] = ct
	}
	return cts, nil
}

func writeLengthPrefixed(buf *bytes.Buffer, data []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf.Write(lenBuf[:])
	buf.Write(data)
}

// splitLengthPrefixed parses a run of uint32-length-prefixed blobs
// until data is exhausted. Used by both the HEv1 body and the on-disk
// galois-key file.
func splitLengthPrefixed(data []byte) ([][]byte, error) {
	var blobs [][]byte
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, errs.New(errs.KindDecodeError, "length-prefixed stream truncated: missing length")
		}
		n := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]
		if uint64(len(data)) < uint64(n) {
			return nil, errs.New(errs.KindDecodeError, "length-prefixed stream truncated: short blob")
		}
		blobs = append(blobs, data[:n])
		data = data[n:]
	}
	return blobs, nil
}
