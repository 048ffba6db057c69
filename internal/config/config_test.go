package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	t.Parallel()

	require.NoError(t, Validate(DefaultConfig()))
}

func TestLoadWithNoFilesReturnsDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, sources, err := Load(dir, "", DeviceConfig{}, false, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
	require.Empty(t, sources.Global)
	require.Empty(t, sources.Project)
}

func TestLoadProjectConfigOverridesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeJSON(t, filepath.Join(dir, ConfigFileName), `{
		// project override
		"num_keys": 8,
	}`)

	cfg, sources, err := Load(dir, "", DeviceConfig{}, false, nil)
	require.NoError(t, err)
	require.Equal(t, uint16(8), cfg.NumKeys)
	require.Equal(t, uint32(4096), cfg.PageBytes) // untouched default
	require.NotEmpty(t, sources.Project)
}

func TestLoadCLIOverrideWinsOverProjectConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeJSON(t, filepath.Join(dir, ConfigFileName), `{"num_keys": 8}`)

	cfg, _, err := Load(dir, "", DeviceConfig{NumKeys: 32}, true, nil)
	require.NoError(t, err)
	require.Equal(t, uint16(32), cfg.NumKeys)
}

func TestLoadExplicitConfigPathMustExist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, _, err := Load(dir, "missing.json", DeviceConfig{}, false, nil)
	require.ErrorIs(t, err, ErrConfigNotFound)
}

func TestValidateRejectsOversizedKeySpace(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.NumKeys = 2000 // 2000*4 = 8000, not < 4096-4

	err := Validate(cfg)
	require.ErrorIs(t, err, ErrConfigInvalid)
}

func TestValidateRejectsNonTwoPageCount(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.NumPages = 4

	err := Validate(cfg)
	require.ErrorIs(t, err, ErrConfigInvalid)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	cfg := DefaultConfig()
	cfg.NumKeys = 32

	require.NoError(t, Save(path, cfg))

	loaded, sources, err := Load(dir, "", DeviceConfig{}, false, nil)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
	require.NotEmpty(t, sources.Project)
}

func writeJSON(t *testing.T, path, contents string) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
