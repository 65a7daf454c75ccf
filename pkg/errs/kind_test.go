package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorMessageIncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindStoreUnavailable, cause, "failed to open store")
	require.Equal(t, "failed to open store: connection refused", err.Error())

	bare := New(KindNotFound, "identity not found")
	require.Equal(t, "identity not found", bare.Error())
}

func TestIsUnwrapsToFindKind(t *testing.T) {
	inner := Wrap(KindAuthTagFail, errors.New("tag mismatch"), "decrypt failed")
	outer := Wrap(KindDecodeError, inner, "envelope parse failed")

	require.True(t, Is(outer, KindDecodeError))
	require.False(t, Is(outer, KindAuthTagFail))
	require.False(t, Is(errors.New("unrelated"), KindTimeout))
}

func TestGRPCStatusMapsKindToCode(t *testing.T) {
	cases := map[Kind]codes.Code{
		KindDecodeError:      codes.InvalidArgument,
		KindMissingKey:       codes.FailedPrecondition,
		KindAuthTagFail:      codes.Unauthenticated,
		KindHEInit:           codes.Internal,
		KindStoreUnavailable: codes.Unavailable,
		KindTimeout:          codes.DeadlineExceeded,
		KindDuplicate:        codes.AlreadyExists,
		KindNotFound:         codes.NotFound,
		KindPipelineInit:     codes.Internal,
	}
	for kind, wantCode := range cases {
		err := New(kind, "boom")
		st, ok := status.FromError(err)
		require.True(t, ok)
		require.Equal(t, wantCode, st.Code(), "kind %s", kind)
	}
}

func TestKindStringUnknownFallback(t *testing.T) {
	require.Equal(t, "Unknown", Kind(999).String())
	require.Equal(t, "Duplicate", KindDuplicate.String())
}
