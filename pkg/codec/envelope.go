// Envelope implements the EYED1 AES-256-GCM wrapper applied
// transparently around every packed template blob when an encryption
// key is configured. The standard library's crypto/aes and
// crypto/cipher are used directly here rather than a third-party AEAD
// package: cipher.NewGCM is the idiomatic, constant-time-safe way to
// get an AEAD in Go (see DESIGN.md for the explicit justification).
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/buildbarn/eyed-registry/pkg/errs"
)

const (
	envelopePrefix   = "EYED1"
	envelopeNonceLen = 12
	envelopeKeyLen   = 32
	keyEnvVar        = "EYED_ENCRYPTION_KEY"
)

var (
	keyOnce   sync.Once
	cachedKey []byte
	cachedErr error
)

func loadKey() ([]byte, error) {
	keyOnce.Do(func() {
		raw := strings.TrimSpace(os.Getenv(keyEnvVar))
		if raw == "" {
			return
		}
		if b, err := hex.DecodeString(raw); err == nil && len(b) == envelopeKeyLen {
			cachedKey = b
			return
		}
		if b, err := base64.StdEncoding.DecodeString(raw); err == nil && len(b) == envelopeKeyLen {
			cachedKey = b
			return
		}
		// A key was provided but is the wrong length or malformed: this
		// is reported back to the caller as an ordinary error rather
		// than a panic, so a misconfigured key fails the first pack/
		// unpack call (or an explicit ValidateKey at startup) instead
		// of unwinding the goroutine.
		cachedErr = errs.New(errs.KindDecodeError, keyEnvVar+" must decode to exactly 32 bytes (hex or base64)")
	})
	return cachedKey, cachedErr
}

// ValidateKey reports any configuration error in EYED_ENCRYPTION_KEY
// without needing to pack or unpack a blob first. Intended to be
// called once during startup so a malformed key is caught before the
// first request rather than on first use.
func ValidateKey() error {
	_, err := loadKey()
	return err
}

// resetKeyForTests clears the cached key so tests can exercise both
// presence and absence of EYED_ENCRYPTION_KEY within one process.
func resetKeyForTests() {
	keyOnce = sync.Once{}
	cachedKey = nil
	cachedErr = nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// envelopeEncrypt wraps plaintext in an EYED1 envelope. Returns
// plaintext unchanged if no key is configured.
func envelopeEncrypt(plaintext []byte) ([]byte, error) {
	key, err := loadKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		return plaintext, nil
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, errs.Wrap(errs.KindDecodeError, err, "failed to initialize AES-GCM")
	}
	nonce := make([]byte, envelopeNonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.Wrap(errs.KindDecodeError, err, "failed to generate nonce")
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(envelopePrefix)+len(nonce)+len(sealed))
	out = append(out, []byte(envelopePrefix)...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// envelopeDecrypt opens an EYED1 envelope. data must already be
// confirmed to carry the EYED1 prefix.
func envelopeDecrypt(data []byte) ([]byte, error) {
	key, err := loadKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, errs.New(errs.KindMissingKey, "EYED1 blob found but "+keyEnvVar+" is not set")
	}
	body := data[len(envelopePrefix):]
	if len(body) < envelopeNonceLen {
		return nil, errs.New(errs.KindDecodeError, "EYED1 blob truncated: missing nonce")
	}
	nonce := body[:envelopeNonceLen]
	ciphertext := body[envelopeNonceLen:]
	gcm, err := newGCM(key)
	if err != nil {
		return nil, errs.Wrap(errs.KindDecodeError, err, "failed to initialize AES-GCM")
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindAuthTagFail, err, "AES-GCM authentication failed")
	}
	return plaintext, nil
}

// IsEnvelopeBlob reports whether data begins with the EYED1 prefix.
func IsEnvelopeBlob(data []byte) bool {
	return len(data) >= len(envelopePrefix) && string(data[:len(envelopePrefix)]) == envelopePrefix
}
