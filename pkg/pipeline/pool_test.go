package pipeline

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/buildbarn/eyed-registry/pkg/gallery"
)

type fakeExtractor struct{ id int }

func (f *fakeExtractor) Extract(image []byte, eyeSide string) (*gallery.Template, error) {
	return &gallery.Template{}, nil
}

func silentLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestPoolLoadAndAcquireRelease(t *testing.T) {
	p := NewPool(2)
	n := 0
	err := p.Load(func() (Extractor, error) {
		n++
		return &fakeExtractor{id: n}, nil
	}, silentLog())
	require.NoError(t, err)
	require.True(t, p.IsLoaded())
	require.Equal(t, 2, p.Available())

	ctx := context.Background()
	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, p.Available())

	p.Release(a)
	require.Equal(t, 2, p.Available())
}

func TestPoolAcquireTimesOut(t *testing.T) {
	p := NewPool(1)
	require.NoError(t, p.Load(func() (Extractor, error) {
		return &fakeExtractor{}, nil
	}, silentLog()))

	ctx := context.Background()
	held, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer p.Release(held)

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(timeoutCtx)
	require.Error(t, err)
}

func TestThreadBudgetNeverBelowOne(t *testing.T) {
	require.GreaterOrEqual(t, ThreadBudget(1000), 1)
	require.GreaterOrEqual(t, ThreadBudget(0), 1)
}
