package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/Moo-Marc/CtfMegBids/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved != filepath.Join(tempHome, ".config", "megbids", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if want := filepath.Join(tempHome, ".local", "share", "megbids"); cfg.Paths.StateDir != want {
		t.Fatalf("state dir = %q, want %q", cfg.Paths.StateDir, want)
	}
	if want := filepath.Join(tempHome, ".local", "share", "megbids", "journal.db"); cfg.Journal.Path != want {
		t.Fatalf("journal path = %q, want %q", cfg.Journal.Path, want)
	}
	if cfg.Dataset.NoiseSubject != "emptyroom" || cfg.Dataset.NoiseTask != "noise" {
		t.Fatalf("unexpected noise defaults: %+v", cfg.Dataset)
	}
	if cfg.TimestampTolerance() != time.Hour {
		t.Fatalf("tolerance = %v", cfg.TimestampTolerance())
	}
	if cfg.NoiseMaxGap() != 24*time.Hour {
		t.Fatalf("noise gap = %v", cfg.NoiseMaxGap())
	}
	epoch, err := cfg.ShiftEpoch()
	if err != nil {
		t.Fatalf("ShiftEpoch: %v", err)
	}
	if !epoch.Equal(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("epoch = %v", epoch)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "megbids.toml")

	type payload struct {
		Dataset struct {
			NoiseSubject string   `toml:"noise_subject"`
			RestSynonyms []string `toml:"rest_synonyms"`
			SubDatasets  []string `toml:"sub_datasets"`
		} `toml:"dataset"`
		Shift struct {
			TargetEpoch string `toml:"target_epoch"`
		} `toml:"shift"`
	}
	custom := payload{}
	custom.Dataset.NoiseSubject = "noiseroom"
	custom.Dataset.RestSynonyms = []string{" RestingState ", "resting", "resting"}
	custom.Dataset.SubDatasets = []string{"/sourcedata/", "derivatives"}
	custom.Shift.TargetEpoch = "1999-06-15"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution %q exists=%v", resolved, exists)
	}
	if cfg.Dataset.NoiseSubject != "noiseroom" {
		t.Fatalf("noise subject = %q", cfg.Dataset.NoiseSubject)
	}
	if got := strings.Join(cfg.Dataset.RestSynonyms, ","); got != "restingstate,resting" {
		t.Fatalf("rest synonyms = %q", got)
	}
	if got := strings.Join(cfg.Dataset.SubDatasets, ","); got != "sourcedata,derivatives" {
		t.Fatalf("sub datasets = %q", got)
	}
	if cfg.Dataset.NoiseTask != "noise" {
		t.Fatalf("unset field lost its default: %q", cfg.Dataset.NoiseTask)
	}
	if cfg.Shift.TargetEpoch != "1999-06-15" {
		t.Fatalf("target epoch = %q", cfg.Shift.TargetEpoch)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "megbids.toml")
	if err := os.WriteFile(configPath, []byte("[dataset]\nnoise_subjekt = \"x\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestEnvOverridesLogLevel(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MEGBIDS_LOG_LEVEL", "DEBUG")
	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
}

func TestLedgerAndAuditPathsResolveAgainstRoot(t *testing.T) {
	cfg := config.Default()
	root := filepath.Join(string(filepath.Separator), "data", "study")
	if got := cfg.LedgerPath(root); got != filepath.Join(root, "sourcedata", "date_shifts.tsv") {
		t.Fatalf("ledger path = %q", got)
	}
	if got := cfg.AuditDir(root); got != filepath.Join(root, "sourcedata", "audit") {
		t.Fatalf("audit dir = %q", got)
	}
	abs := filepath.Join(t.TempDir(), "ledger.tsv")
	cfg.Shift.LedgerPath = abs
	if got := cfg.LedgerPath(root); got != abs {
		t.Fatalf("absolute ledger path rewritten: %q", got)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}

	cfg := config.Default()
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Dataset.AllowedAcquisition != "AUX" {
		t.Fatalf("sample acquisition = %q", cfg.Dataset.AllowedAcquisition)
	}
	if !strings.Contains(cfg.Paths.StateDir, "megbids") {
		t.Fatalf("expected state dir to contain megbids, got %q", cfg.Paths.StateDir)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"noise gap above a day": func(c *config.Config) { c.Noise.MaxGapHours = 25 },
		"bad epoch":             func(c *config.Config) { c.Shift.TargetEpoch = "01/01/2000" },
		"noise subject":         func(c *config.Config) { c.Dataset.NoiseSubject = "empty-room" },
		"sub dataset":           func(c *config.Config) { c.Dataset.SubDatasets = []string{"sub-01"} },
		"log level":             func(c *config.Config) { c.Logging.Level = "loud" },
		"tolerance":             func(c *config.Config) { c.Dataset.TimestampToleranceMinutes = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
