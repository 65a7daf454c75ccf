package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// openTestStore skips the test unless EYED_TEST_DATABASE_URL is set,
// since exercising the real query surface requires a live Postgres
// instance with the schema in schema.sql applied.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("EYED_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("EYED_TEST_DATABASE_URL not set; skipping store integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn, 1, 2)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestEnsureAndDeleteIdentity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, s.EnsureIdentity(ctx, id, "alice"))
	require.NoError(t, s.EnsureIdentity(ctx, id, "alice2"))

	identities, err := s.ListIdentities(ctx)
	require.NoError(t, err)
	found := false
	for _, i := range identities {
		if i.IdentityID == id {
			require.Equal(t, "alice2", i.Name)
			found = true
		}
	}
	require.True(t, found)

	deleted, err := s.DeleteIdentity(ctx, id)
	require.NoError(t, err)
	require.True(t, deleted)

	deletedAgain, err := s.DeleteIdentity(ctx, id)
	require.NoError(t, err)
	require.False(t, deletedAgain)
}

func TestPersistAndLoadTemplate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	identityID := uuid.New()
	require.NoError(t, s.EnsureIdentity(ctx, identityID, "bob"))
	t.Cleanup(func() { _, _ = s.DeleteIdentity(context.Background(), identityID) })

	templateID := uuid.New()
	err := s.PersistTemplate(ctx, NewTemplate{
		TemplateID:   templateID,
		IdentityID:   identityID,
		EyeSide:      "left",
		IrisCodes:    []byte{1, 2, 3},
		MaskCodes:    []byte{4, 5, 6},
		Width:        256,
		Height:       16,
		NScales:      5,
		QualityScore: 0.8,
		DeviceID:     "test-device",
		IrisPopcount: []int32{1000, 1010, 990},
		MaskPopcount: []int32{2000, 2001, 1999},
	})
	require.NoError(t, err)

	loaded, err := s.LoadTemplate(ctx, templateID)
	require.NoError(t, err)
	require.Equal(t, "bob", loaded.IdentityName)
	require.Equal(t, "left", loaded.EyeSide)
	require.Equal(t, []byte{1, 2, 3}, loaded.IrisCodes)
	require.Equal(t, []int32{1000, 1010, 990}, loaded.IrisPopcount)

	_, err = s.LoadTemplate(ctx, uuid.New())
	require.Error(t, err)
}

func TestPersistTemplateLeavesPopcountNullForPlaintextTemplates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	identityID := uuid.New()
	require.NoError(t, s.EnsureIdentity(ctx, identityID, "carol"))
	t.Cleanup(func() { _, _ = s.DeleteIdentity(context.Background(), identityID) })

	templateID := uuid.New()
	require.NoError(t, s.PersistTemplate(ctx, NewTemplate{
		TemplateID: templateID,
		IdentityID: identityID,
		EyeSide:    "right",
		IrisCodes:  []byte{9},
		MaskCodes:  []byte{9},
		Width:      256,
		Height:     16,
		NScales:    1,
	}))

	loaded, err := s.LoadTemplate(ctx, templateID)
	require.NoError(t, err)
	require.Nil(t, loaded.IrisPopcount)
	require.Nil(t, loaded.MaskPopcount)
}
