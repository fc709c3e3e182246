package mapserver

import (
	"time"

	goutils "go.viam.com/utils"
)

// Exclusivity selects which submap tasks the worker pool runs one at a time.
type Exclusivity string

const (
	// ExclusivityNonExclusive lets every submap load and process in parallel.
	ExclusivityNonExclusive Exclusivity = "non_exclusive"
	// ExclusivityPerRobot serializes the submaps of each robot.
	ExclusivityPerRobot Exclusivity = "per_robot"
)

// Default configuration values.
const (
	DefaultWorkerPoolSize     = 4
	DefaultBackupInterval     = 300 * time.Second
	DefaultStatusInterval     = 10 * time.Second
	DefaultMergeInterval      = time.Second
	DefaultMergeRetryAttempts = 3
)

// Config configures a Node.
type Config struct {
	WorkerPoolSize int `json:"worker_pool_size"`
	// MergedMapFolder is where backups and parameterless saves write the shared map.
	MergedMapFolder string `json:"merged_map_folder"`
	ResourceFolder  string `json:"resource_folder"`
	// BackupInterval of zero disables periodic backups.
	BackupInterval     time.Duration `json:"backup_interval"`
	StatusInterval     time.Duration `json:"status_interval"`
	MergeInterval      time.Duration `json:"merge_interval"`
	MergeRetryAttempts int           `json:"merge_retry_attempts"`
	SubmapCommands     []string      `json:"submap_commands"`
	GlobalMapCommands  []string      `json:"global_map_commands"`
	SubmapExclusivity  Exclusivity   `json:"submap_exclusivity"`
	CompressSavedMaps  bool          `json:"compress_saved_maps"`
}

// DefaultConfig returns the configuration used for any field left unset.
func DefaultConfig() Config {
	return Config{
		WorkerPoolSize:     DefaultWorkerPoolSize,
		BackupInterval:     DefaultBackupInterval,
		StatusInterval:     DefaultStatusInterval,
		MergeInterval:      DefaultMergeInterval,
		MergeRetryAttempts: DefaultMergeRetryAttempts,
		SubmapExclusivity:  ExclusivityNonExclusive,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.WorkerPoolSize <= 0 {
		return goutils.NewConfigValidationError(path, errWorkerPoolSize)
	}
	if cfg.BackupInterval < 0 {
		return goutils.NewConfigValidationError(path, errNegativeBackupInterval)
	}
	if cfg.BackupInterval > 0 && cfg.MergedMapFolder == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "merged_map_folder")
	}
	if cfg.StatusInterval <= 0 {
		return goutils.NewConfigValidationError(path, errStatusInterval)
	}
	if cfg.MergeInterval <= 0 {
		return goutils.NewConfigValidationError(path, errMergeInterval)
	}
	if cfg.MergeRetryAttempts <= 0 {
		return goutils.NewConfigValidationError(path, errMergeRetryAttempts)
	}
	switch cfg.SubmapExclusivity {
	case "", ExclusivityNonExclusive, ExclusivityPerRobot:
	default:
		return goutils.NewConfigValidationError(path, errUnknownExclusivity(cfg.SubmapExclusivity))
	}
	return nil
}
