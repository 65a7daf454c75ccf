package codec

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/buildbarn/eyed-registry/pkg/errs"
)

// npzMagic is the standard ZIP local-file-header signature, which a
// compressed array archive begins with.
var npzMagic = []byte{0x50, 0x4B, 0x03, 0x04}

// IsNPZBlob reports whether data begins with the NPZ archive magic.
func IsNPZBlob(data []byte) bool {
	return bytes.HasPrefix(data, npzMagic)
}

func memberName(index int) string {
	// Zero-padded so that lexical sort of member names recovers
	// insertion order for archives with up to 10000 scales, far more
	// than any real template.
	return fmt.Sprintf("arr_%04d.bin", index)
}

// packNPZ serializes an ordered sequence of arrays into a single
// compressed archive, one member per array, named so that sorting
// member names recovers the original order.
func packNPZ(arrays []*Array3D) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, a := range arrays {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   memberName(i),
			Method: zip.Deflate,
		})
		if err != nil {
			return nil, errs.Wrap(errs.KindDecodeError, err, "failed to create archive member")
		}
		var hdr [8]byte
		binary.LittleEndian.PutUint32(hdr[0:4], uint32(a.Height))
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(a.Width))
		if _, err := w.Write(hdr[:]); err != nil {
			return nil, errs.Wrap(errs.KindDecodeError, err, "failed to write archive member header")
		}
		if _, err := w.Write(a.ToBytes()); err != nil {
			return nil, errs.Wrap(errs.KindDecodeError, err, "failed to write archive member body")
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errs.Wrap(errs.KindDecodeError, err, "failed to finalize archive")
	}
	return buf.Bytes(), nil
}

// unpackNPZ decodes a compressed array archive back to the original
// ordered sequence of arrays, recovering order from sorted member
// names.
func unpackNPZ(data []byte) ([]*Array3D, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errs.Wrap(errs.KindDecodeError, err, "failed to open archive")
	}

	names := make([]string, 0, len(zr.File))
	byName := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
		byName[f.Name] = f
	}
	sort.Strings(names)

	arrays := make([]*Array3D, 0, len(names))
	for _, name := range names {
		f := byName[name]
		rc, err := f.Open()
		if err != nil {
			return nil, errs.Wrap(errs.KindDecodeError, err, "failed to open archive member "+name)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, errs.Wrap(errs.KindDecodeError, err, "failed to read archive member "+name)
		}
		if len(body) < 8 {
			return nil, errs.New(errs.KindDecodeError, "archive member "+name+" truncated: missing header")
		}
		height := int(binary.LittleEndian.Uint32(body[0:4]))
		width := int(binary.LittleEndian.Uint32(body[4:8]))
		flat := body[8:]
		if len(flat) != height*width*2 {
			return nil, errs.New(errs.KindDecodeError, "archive member "+name+" truncated: body size mismatch")
		}
		arrays = append(arrays, FromBytes(height, width, flat))
	}
	return arrays, nil
}
