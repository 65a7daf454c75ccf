// Package errs defines the sum-typed error kinds used throughout the
// registry. Expected, recoverable conditions are represented as values
// of this kind rather than panics or unwinding, so callers can branch
// on Kind instead of string-matching error messages.
package errs

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind enumerates the recoverable error conditions a caller may need to
// branch on.
type Kind int

const (
	// KindUnknown is the zero value; never produced by New.
	KindUnknown Kind = iota
	// KindDecodeError means a blob's prefix is unrecognized or its
	// archive is truncated/corrupt.
	KindDecodeError
	// KindMissingKey means an EYED1 envelope was found but no
	// encryption key is configured to open it.
	KindMissingKey
	// KindAuthTagFail means AES-GCM authentication failed (tampered
	// ciphertext or tag).
	KindAuthTagFail
	// KindHEInit means the homomorphic-encryption context could not
	// be initialized (insufficient ring dimension, missing evaluation
	// key, ...).
	KindHEInit
	// KindStoreUnavailable means the durable store's connection pool
	// is not initialized or the connection was lost.
	KindStoreUnavailable
	// KindTimeout means a bounded wait (pool acquire, remote decrypt)
	// expired.
	KindTimeout
	// KindDuplicate means an enrollment was blocked by deduplication.
	KindDuplicate
	// KindNotFound means a requested template or identity does not
	// exist.
	KindNotFound
	// KindPipelineInit means a feature-extraction pipeline instance
	// could not be loaded (model file missing, extractor constructor
	// failed, ...).
	KindPipelineInit
)

func (k Kind) String() string {
	switch k {
	case KindDecodeError:
		return "DecodeError"
	case KindMissingKey:
		return "MissingKey"
	case KindAuthTagFail:
		return "AuthTagFail"
	case KindHEInit:
		return "HEInit"
	case KindStoreUnavailable:
		return "StoreUnavailable"
	case KindTimeout:
		return "Timeout"
	case KindDuplicate:
		return "Duplicate"
	case KindNotFound:
		return "NotFound"
	case KindPipelineInit:
		return "PipelineInit"
	default:
		return "Unknown"
	}
}

// code is the gRPC status code each Kind is represented as on the wire,
// so that callers already speaking status.Code(err) (gRPC middleware,
// existing tests) keep working unchanged.
func (k Kind) code() codes.Code {
	switch k {
	case KindDecodeError:
		return codes.InvalidArgument
	case KindMissingKey:
		return codes.FailedPrecondition
	case KindAuthTagFail:
		return codes.Unauthenticated
	case KindHEInit:
		return codes.Internal
	case KindStoreUnavailable:
		return codes.Unavailable
	case KindTimeout:
		return codes.DeadlineExceeded
	case KindDuplicate:
		return codes.AlreadyExists
	case KindNotFound:
		return codes.NotFound
	case KindPipelineInit:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// Error is a recoverable, caller-visible failure with a Kind a caller
// can branch on.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// GRPCStatus lets google.golang.org/grpc/status.FromError recover the
// code associated with e.Kind.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Kind.code(), e.Error())
}

// New creates an *Error of the given kind.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error of the given kind, wrapping cause.
func Wrap(kind Kind, cause error, message string) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether the first *Error found in err's unwrap chain (err
// itself, or the nearest *Error it wraps) has kind. *Errors wrapped by
// that first *Error are not examined.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
