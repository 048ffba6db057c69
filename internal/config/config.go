// Package config loads a DeviceConfig the way the teacher's own config.go
// loads its ticket config: defaults, overlaid by a global user config, then
// a project config, then CLI overrides, parsed as JSONC via
// github.com/tailscale/hujson so config files can carry comments.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"

	"github.com/azim0ff/nvkv/internal/page"
)

// DeviceConfig describes the flash geometry and key-space cardinality the
// engine is built over (spec.md §3 design parameters).
type DeviceConfig struct {
	ImagePath string `json:"image_path"` //nolint:tagliatelle
	BaseAddr  uint32 `json:"base_addr"`  //nolint:tagliatelle
	PageBytes uint32 `json:"page_bytes"` //nolint:tagliatelle
	NumPages  uint32 `json:"num_pages"`  //nolint:tagliatelle
	NumKeys   uint16 `json:"num_keys"`   //nolint:tagliatelle
}

// ConfigFileName is the default project config file name.
const ConfigFileName = ".nvkv.json"

// DefaultConfig returns the built-in defaults, matching spec.md §8's
// reference parameters.
func DefaultConfig() DeviceConfig {
	return DeviceConfig{
		ImagePath: "nvkv.img",
		BaseAddr:  0,
		PageBytes: 4096,
		NumPages:  2,
		NumKeys:   16,
	}
}

var (
	ErrConfigNotFound = errors.New("config: file not found")
	ErrConfigInvalid  = errors.New("config: invalid config file")
	ErrImagePathEmpty = errors.New("config: image_path cannot be empty")
)

// Sources records which config files were actually loaded, for diagnostics.
type Sources struct {
	Global  string
	Project string
}

// Load builds a DeviceConfig with precedence (lowest to highest):
// defaults -> global ($XDG_CONFIG_HOME/nvkv/config.json) -> project
// (.nvkv.json, or an explicit configPath) -> CLI overrides, mirroring the
// teacher's LoadConfig precedence chain exactly (spec.md §10.3).
func Load(workDir, configPath string, cliOverride DeviceConfig, hasCLIOverride bool, env []string) (DeviceConfig, Sources, error) {
	cfg := DefaultConfig()

	var sources Sources

	globalCfg, globalPath, err := loadGlobal(env)
	if err != nil {
		return DeviceConfig{}, Sources{}, err
	}

	sources.Global = globalPath
	cfg = merge(cfg, globalCfg)

	projectCfg, projectPath, err := loadProject(workDir, configPath)
	if err != nil {
		return DeviceConfig{}, Sources{}, err
	}

	sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	if hasCLIOverride {
		cfg = merge(cfg, cliOverride)
	}

	if err := Validate(cfg); err != nil {
		return DeviceConfig{}, Sources{}, err
	}

	return cfg, sources, nil
}

// globalConfigPath returns $XDG_CONFIG_HOME/nvkv/config.json, falling back
// to ~/.config/nvkv/config.json.
func globalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "nvkv", "config.json")
		}
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nvkv", "config.json")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "nvkv", "config.json")
}

func loadGlobal(env []string) (DeviceConfig, string, error) {
	path := globalConfigPath(env)
	if path == "" {
		return DeviceConfig{}, "", nil
	}

	cfg, loaded, err := loadFile(path, false)
	if err != nil || !loaded {
		return DeviceConfig{}, "", err
	}

	return cfg, path, nil
}

func loadProject(workDir, configPath string) (DeviceConfig, string, error) {
	var path string

	mustExist := configPath != ""

	if mustExist {
		path = configPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}

		if _, err := os.Stat(path); err != nil {
			return DeviceConfig{}, "", fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
		}
	} else {
		path = filepath.Join(workDir, ConfigFileName)
	}

	cfg, loaded, err := loadFile(path, mustExist)
	if err != nil || !loaded {
		return DeviceConfig{}, "", err
	}

	return cfg, path, nil
}

func loadFile(path string, mustExist bool) (DeviceConfig, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return DeviceConfig{}, false, nil
		}

		return DeviceConfig{}, false, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}

	cfg, err := parse(data)
	if err != nil {
		return DeviceConfig{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (DeviceConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return DeviceConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg DeviceConfig
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return DeviceConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

// merge overlays any non-zero field of overlay onto base.
func merge(base, overlay DeviceConfig) DeviceConfig {
	if overlay.ImagePath != "" {
		base.ImagePath = overlay.ImagePath
	}

	if overlay.BaseAddr != 0 {
		base.BaseAddr = overlay.BaseAddr
	}

	if overlay.PageBytes != 0 {
		base.PageBytes = overlay.PageBytes
	}

	if overlay.NumPages != 0 {
		base.NumPages = overlay.NumPages
	}

	if overlay.NumKeys != 0 {
		base.NumKeys = overlay.NumKeys
	}

	return base
}

// Validate enforces spec.md §9's hard precondition
// (NUM_KEYS*ENTRY_BYTES < PAGE_BYTES-HEADER_BYTES) along with the basic
// structural requirements of a usable geometry (spec.md §3, "Recommend
// fixing NUM_PAGES = 2 unless the design parameters are extended").
func Validate(cfg DeviceConfig) error {
	if cfg.ImagePath == "" {
		return ErrImagePathEmpty
	}

	if cfg.PageBytes == 0 || cfg.PageBytes%4 != 0 {
		return fmt.Errorf("%w: page_bytes %d must be a non-zero multiple of 4", ErrConfigInvalid, cfg.PageBytes)
	}

	if cfg.NumPages < 2 {
		return fmt.Errorf("%w: num_pages must be >= 2, got %d", ErrConfigInvalid, cfg.NumPages)
	}

	if cfg.NumPages != 2 {
		// spec.md §9 open question: the protocol generalizes to
		// NUM_PAGES > 2, but recovery's (>=2,.) rule becomes conservative;
		// the reference design recommends fixing NUM_PAGES = 2. nvkv
		// follows that recommendation rather than extending recovery.
		return fmt.Errorf("%w: num_pages %d unsupported, nvkv fixes NUM_PAGES=2 per spec.md §9", ErrConfigInvalid, cfg.NumPages)
	}

	usedBytes := uint32(cfg.NumKeys) * page.EntryBytes
	if usedBytes >= cfg.PageBytes-page.HeaderBytes {
		return fmt.Errorf("%w: num_keys*%d (%d) must be < page_bytes-%d (%d)",
			ErrConfigInvalid, page.EntryBytes, usedBytes, page.HeaderBytes, cfg.PageBytes-page.HeaderBytes)
	}

	return nil
}

// Format returns cfg as formatted JSON, as written by Save.
func Format(cfg DeviceConfig) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("config: formatting: %w", err)
	}

	return string(data), nil
}

// Save writes cfg to path as the project config, the same
// atomic.WriteFile-backed rename-into-place the teacher uses for its own
// ticket/cache files, so a reader never observes a half-written config.
func Save(path string, cfg DeviceConfig) error {
	data, err := Format(cfg)
	if err != nil {
		return err
	}

	if err := atomic.WriteFile(path, strings.NewReader(data+"\n")); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}

	return nil
}
