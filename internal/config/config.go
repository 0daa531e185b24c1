package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directories owned by the tool itself, outside any dataset.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Dataset describes the naming conventions of the managed dataset trees.
type Dataset struct {
	Datatype                  string   `toml:"datatype"`
	RecordingExtension        string   `toml:"recording_extension"`
	NoiseSubject              string   `toml:"noise_subject"`
	NoiseTask                 string   `toml:"noise_task"`
	NoiseSynonyms             []string `toml:"noise_synonyms"`
	RestTask                  string   `toml:"rest_task"`
	RestSynonyms              []string `toml:"rest_synonyms"`
	AllowedAcquisition        string   `toml:"allowed_acquisition"`
	SubDatasets               []string `toml:"sub_datasets"`
	BIDSVersion               string   `toml:"bids_version"`
	BIDSIgnore                []string `toml:"bidsignore"`
	TimestampToleranceMinutes int      `toml:"timestamp_tolerance_minutes"`
}

// Noise configures empty-room association.
type Noise struct {
	MaxGapHours float64 `toml:"max_gap_hours"`
}

// Shift configures the anonymization date shift.
type Shift struct {
	TargetEpoch      string `toml:"target_epoch"`
	LedgerPath       string `toml:"ledger_path"`
	MinPlausibleYear int    `toml:"min_plausible_year"`
}

// Audit configures where merge and rename trace tables are written.
type Audit struct {
	Dir string `toml:"dir"`
}

// Journal configures the run history database.
type Journal struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// RawSource configures raw recording access.
type RawSource struct {
	CacheSize int `toml:"cache_size"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   bool   `toml:"file"`
}

// Config encapsulates all configuration values for megbids.
//
// Configuration sections by subsystem:
//   - Paths: tool state and log directories
//   - Dataset: layout, naming policy and sub-dataset mirrors
//   - Noise: empty-room association window
//   - Shift: anonymization epoch and ledger location
//   - Audit: merge/rename trace tables
//   - Journal: run history database
//   - RawSource: raw recording adapter tuning
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Dataset   Dataset   `toml:"dataset"`
	Noise     Noise     `toml:"noise"`
	Shift     Shift     `toml:"shift"`
	Audit     Audit     `toml:"audit"`
	Journal   Journal   `toml:"journal"`
	RawSource RawSource `toml:"rawsource"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the per-user configuration file location.
func DefaultConfigPath() (string, error) {
	return ExpandPath(defaultConfigPath)
}

// Load reads the configuration at path, or searches the per-user file and
// then ./megbids.toml when path is empty. A missing file yields the defaults.
// It returns the config, the path it settled on and whether that file
// exists. Paths in the result are absolute.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()
	source, exists, err := locate(path)
	if err != nil {
		return nil, "", false, err
	}
	if exists {
		if err := decodeFile(source, &cfg); err != nil {
			return nil, "", false, err
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, source, exists, nil
}

func decodeFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// locate picks the file Load reads. An explicit path is used as given even
// when absent; otherwise the first existing candidate wins and the per-user
// location is reported when none exists.
func locate(path string) (string, bool, error) {
	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return "", false, err
		}
		ok, err := isFile(expanded)
		return expanded, ok, err
	}
	user, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	local, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{user, local} {
		if ok, _ := isFile(candidate); ok {
			return candidate, true, nil
		}
	}
	return user, false, nil
}

func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat config: %w", err)
	}
	return !info.IsDir(), nil
}

// EnsureDirectories creates the tool's state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// TimestampTolerance is the allowed gap between a scan-index timestamp and
// the one embedded in the raw recording.
func (c *Config) TimestampTolerance() time.Duration {
	return time.Duration(c.Dataset.TimestampToleranceMinutes) * time.Minute
}

// NoiseMaxGap bounds the distance between a recording and its empty-room match.
func (c *Config) NoiseMaxGap() time.Duration {
	return time.Duration(c.Noise.MaxGapHours * float64(time.Hour))
}

// ShiftEpoch returns the parsed anonymization target date.
func (c *Config) ShiftEpoch() (time.Time, error) {
	epoch, err := time.Parse(epochLayout, strings.TrimSpace(c.Shift.TargetEpoch))
	if err != nil {
		return time.Time{}, fmt.Errorf("shift.target_epoch: %w", err)
	}
	return epoch, nil
}

// LedgerPath resolves the shift ledger location for a dataset root.
func (c *Config) LedgerPath(root string) string {
	if filepath.IsAbs(c.Shift.LedgerPath) {
		return c.Shift.LedgerPath
	}
	return filepath.Join(root, filepath.FromSlash(c.Shift.LedgerPath))
}

// AuditDir resolves the audit directory for a dataset root.
func (c *Config) AuditDir(root string) string {
	if filepath.IsAbs(c.Audit.Dir) {
		return c.Audit.Dir
	}
	return filepath.Join(root, filepath.FromSlash(c.Audit.Dir))
}

// ExpandPath resolves a leading ~ to the home directory and returns the
// cleaned absolute path. The empty string is returned unchanged.
func ExpandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		p = filepath.Join(home, p[1:])
	}
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", p, err)
	}
	return abs, nil
}

// CreateSample writes the commented sample configuration to path.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
