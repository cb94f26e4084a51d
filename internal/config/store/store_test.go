package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veles-ai/veles/internal/config"
	"github.com/veles-ai/veles/internal/config/store"
	"github.com/veles-ai/veles/internal/testutil"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, cleanup := testutil.OpenStore(t)
	t.Cleanup(cleanup)
	return s
}

func TestOpenSeedsDefaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	settings, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, config.DefaultEndpoint, settings[config.KeyEndpoint])
	require.Equal(t, "3", settings[config.KeyMaxRetries])

	profiles, err := s.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	require.True(t, profiles[0].IsDefault)
}

func TestSaveAndLoadSettings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSettings(ctx, map[string]string{
		config.KeyEndpoint: "http://backend:9000",
		config.KeyToken:    "secret",
	}))

	settings, err := s.LoadSettings(ctx, config.KeyEndpoint, config.KeyToken)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		config.KeyEndpoint: "http://backend:9000",
		config.KeyToken:    "secret",
	}, settings)

	// Upsert replaces.
	require.NoError(t, s.SaveSettings(ctx, map[string]string{
		config.KeyEndpoint: "http://backend:9001",
	}))
	value, err := s.GetSetting(ctx, config.KeyEndpoint)
	require.NoError(t, err)
	require.Equal(t, "http://backend:9001", value)
}

func TestGetSettingNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetSetting(context.Background(), "no.such.key")
	require.Error(t, err)
	require.True(t, store.IsNotFound(err))
}

func TestDeleteSetting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSettings(ctx, map[string]string{config.KeyToken: "secret"}))
	require.NoError(t, s.DeleteSetting(ctx, config.KeyToken))

	_, err := s.GetSetting(ctx, config.KeyToken)
	require.True(t, store.IsNotFound(err))

	require.NoError(t, s.DeleteSetting(ctx, config.KeyToken), "deleting an absent key is a no-op")
}

func TestCreateAndListProfiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateProfile(ctx, "staging"))
	require.NoError(t, s.CreateProfile(ctx, "staging"), "re-creating is a no-op")

	profiles, err := s.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	require.Error(t, s.CreateProfile(ctx, ""))
}

func TestSettingsAreProfileScoped(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "config.db")

	a, err := store.Open(store.Options{DBPath: dbPath, ProfileName: "a"})
	require.NoError(t, err)
	defer a.Close()
	b, err := store.Open(store.Options{DBPath: dbPath, ProfileName: "b"})
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, a.SaveSettings(ctx, map[string]string{config.KeyToken: "token-a"}))

	_, err = b.GetSetting(ctx, config.KeyToken)
	require.True(t, store.IsNotFound(err))
}
