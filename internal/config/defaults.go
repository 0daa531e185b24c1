package config

const (
	defaultConfigPath                = "~/.config/megbids/config.toml"
	projectConfigName                = "megbids.toml"
	defaultStateDir                  = "~/.local/share/megbids"
	defaultLogDir                    = "~/.local/share/megbids/logs"
	defaultJournalPath               = "~/.local/share/megbids/journal.db"
	defaultDatatype                  = "meg"
	defaultRecordingExtension        = ".ds"
	defaultNoiseSubject              = "emptyroom"
	defaultNoiseTask                 = "noise"
	defaultRestTask                  = "rest"
	defaultAllowedAcquisition        = "AUX"
	defaultBIDSVersion               = "1.8.0"
	defaultTimestampToleranceMinutes = 60
	defaultNoiseMaxGapHours          = 24
	defaultTargetEpoch               = "2000-01-01"
	defaultLedgerPath                = "sourcedata/date_shifts.tsv"
	defaultMinPlausibleYear          = 1990
	defaultAuditDir                  = "sourcedata/audit"
	defaultRawSourceCacheSize        = 512
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"

	epochLayout = "2006-01-02"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Dataset: Dataset{
			Datatype:                  defaultDatatype,
			RecordingExtension:        defaultRecordingExtension,
			NoiseSubject:              defaultNoiseSubject,
			NoiseTask:                 defaultNoiseTask,
			NoiseSynonyms:             []string{"emptyroom", "empty", "noise"},
			RestTask:                  defaultRestTask,
			RestSynonyms:              []string{"restingstate", "resting", "reststate", "rest"},
			AllowedAcquisition:        defaultAllowedAcquisition,
			SubDatasets:               []string{"sourcedata", "extras"},
			BIDSVersion:               defaultBIDSVersion,
			BIDSIgnore:                []string{"extras/", "**/*.acq.toml", "**/*_scans.tsv.orig"},
			TimestampToleranceMinutes: defaultTimestampToleranceMinutes,
		},
		Noise: Noise{
			MaxGapHours: defaultNoiseMaxGapHours,
		},
		Shift: Shift{
			TargetEpoch:      defaultTargetEpoch,
			LedgerPath:       defaultLedgerPath,
			MinPlausibleYear: defaultMinPlausibleYear,
		},
		Audit: Audit{
			Dir: defaultAuditDir,
		},
		Journal: Journal{
			Enabled: true,
			Path:    defaultJournalPath,
		},
		RawSource: RawSource{
			CacheSize: defaultRawSourceCacheSize,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
