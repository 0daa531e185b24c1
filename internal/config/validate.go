package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDataset(); err != nil {
		return err
	}
	if err := c.validateNoise(); err != nil {
		return err
	}
	if err := c.validateShift(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDataset() error {
	d := c.Dataset
	for key, label := range map[string]string{
		"dataset.noise_subject":       d.NoiseSubject,
		"dataset.noise_task":          d.NoiseTask,
		"dataset.rest_task":           d.RestTask,
		"dataset.allowed_acquisition": d.AllowedAcquisition,
	} {
		if label == "" && key == "dataset.allowed_acquisition" {
			continue
		}
		if !isLabel(label) {
			return fmt.Errorf("%s must be alphanumeric, got %q", key, label)
		}
	}
	if strings.ContainsAny(d.Datatype, `/\`) {
		return errors.New("dataset.datatype must not contain a path separator")
	}
	for _, sub := range d.SubDatasets {
		if strings.HasPrefix(sub, "sub-") || strings.Contains(sub, "..") {
			return fmt.Errorf("dataset.sub_datasets entry %q is not a sibling tree name", sub)
		}
	}
	if d.TimestampToleranceMinutes <= 0 {
		return errors.New("dataset.timestamp_tolerance_minutes must be positive")
	}
	return nil
}

func (c *Config) validateNoise() error {
	if c.Noise.MaxGapHours <= 0 || c.Noise.MaxGapHours > 24 {
		return errors.New("noise.max_gap_hours must be in (0, 24]")
	}
	return nil
}

func (c *Config) validateShift() error {
	if _, err := c.ShiftEpoch(); err != nil {
		return err
	}
	if c.Shift.MinPlausibleYear < 0 {
		return errors.New("shift.min_plausible_year must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func isLabel(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
