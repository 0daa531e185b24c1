package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDataset()
	c.normalizeShift()
	if err := c.normalizeJournal(); err != nil {
		return err
	}
	if c.RawSource.CacheSize < 0 {
		c.RawSource.CacheSize = 0
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = ExpandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDataset() {
	d := &c.Dataset
	d.Datatype = strings.TrimSpace(d.Datatype)
	if d.Datatype == "" {
		d.Datatype = defaultDatatype
	}
	d.RecordingExtension = strings.TrimSpace(d.RecordingExtension)
	if d.RecordingExtension == "" {
		d.RecordingExtension = defaultRecordingExtension
	}
	if !strings.HasPrefix(d.RecordingExtension, ".") {
		d.RecordingExtension = "." + d.RecordingExtension
	}
	d.NoiseSubject = strings.TrimSpace(d.NoiseSubject)
	if d.NoiseSubject == "" {
		d.NoiseSubject = defaultNoiseSubject
	}
	d.NoiseTask = strings.TrimSpace(d.NoiseTask)
	if d.NoiseTask == "" {
		d.NoiseTask = defaultNoiseTask
	}
	d.RestTask = strings.TrimSpace(d.RestTask)
	if d.RestTask == "" {
		d.RestTask = defaultRestTask
	}
	d.AllowedAcquisition = strings.TrimSpace(d.AllowedAcquisition)
	d.NoiseSynonyms = cleanList(d.NoiseSynonyms, strings.ToLower)
	d.RestSynonyms = cleanList(d.RestSynonyms, strings.ToLower)
	d.SubDatasets = cleanList(d.SubDatasets, func(s string) string {
		return strings.Trim(filepath.ToSlash(s), "/")
	})
	d.BIDSIgnore = cleanList(d.BIDSIgnore, nil)
	if strings.TrimSpace(d.BIDSVersion) == "" {
		d.BIDSVersion = defaultBIDSVersion
	}
	if d.TimestampToleranceMinutes <= 0 {
		d.TimestampToleranceMinutes = defaultTimestampToleranceMinutes
	}
	if c.Noise.MaxGapHours <= 0 {
		c.Noise.MaxGapHours = defaultNoiseMaxGapHours
	}
}

func (c *Config) normalizeShift() {
	c.Shift.TargetEpoch = strings.TrimSpace(c.Shift.TargetEpoch)
	if c.Shift.TargetEpoch == "" {
		c.Shift.TargetEpoch = defaultTargetEpoch
	}
	c.Shift.LedgerPath = strings.TrimSpace(c.Shift.LedgerPath)
	if c.Shift.LedgerPath == "" {
		c.Shift.LedgerPath = defaultLedgerPath
	}
	if strings.TrimSpace(c.Audit.Dir) == "" {
		c.Audit.Dir = defaultAuditDir
	}
}

func (c *Config) normalizeJournal() error {
	var err error
	if strings.TrimSpace(c.Journal.Path) == "" {
		c.Journal.Path = filepath.Join(c.Paths.StateDir, "journal.db")
	}
	if c.Journal.Path, err = ExpandPath(c.Journal.Path); err != nil {
		return fmt.Errorf("journal.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	if value, ok := os.LookupEnv("MEGBIDS_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func cleanList(values []string, transform func(string) string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if transform != nil {
			value = transform(value)
		}
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
