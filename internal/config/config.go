// Package config loads the daemon's on-disk document set: path roots and
// timing knobs (Settings), the scene-tag suffix list (SceneTags), title
// aliasing groups (MangaEquivalents), and source precedence (SourcePriority).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Settings aggregates every tunable the core components read at startup.
type Settings struct {
	Paths       PathsConfig       `yaml:"paths"`
	Rename      RenameConfig      `yaml:"rename"`
	Scan        ScanConfig        `yaml:"scan"`
	Runtime     RuntimeConfig     `yaml:"runtime"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Logging     LoggingConfig     `yaml:"logging"`
	// Metadata is reserved for the metadata-enrichment collaborator; no
	// component in this repository reads it.
	Metadata map[string]interface{} `yaml:"metadata,omitempty"`
}

// PathsConfig names the four canonical filesystem roots the daemon manages.
type PathsConfig struct {
	SourcesRoot     string `yaml:"sources_root"`
	OverrideRoot    string `yaml:"override_root"`
	MergedRoot      string `yaml:"merged_root"`
	BranchLinksRoot string `yaml:"branch_links_root"`
}

// RenameConfig controls the chapter-rename queue processor's timing and
// exclusions.
type RenameConfig struct {
	ExcludedSources      []string `yaml:"excluded_sources"`
	DelaySeconds         int64    `yaml:"delay_seconds"`
	RescanSeconds        int64    `yaml:"rescan_seconds"`
	QuietSeconds         int64    `yaml:"quiet_seconds"`
	PollSeconds          int64    `yaml:"poll_seconds"`
	StartupRescanEnabled bool     `yaml:"startup_rescan_enabled"`
	MaxCollisionAttempts int      `yaml:"max_collision_attempts"`
}

// ScanConfig controls the trigger pipeline's polling cadence and the merge
// coalescer's gates.
type ScanConfig struct {
	InotifyPollSeconds          int64 `yaml:"inotify_poll_seconds"`
	MergeIntervalSeconds        int64 `yaml:"merge_interval_seconds"`
	MinIntervalSeconds          int64 `yaml:"min_interval_seconds"`
	RetryDelaySeconds           int64 `yaml:"retry_delay_seconds"`
	MaxConsecutiveMountFailures int   `yaml:"max_consecutive_mount_failures"`
}

// RuntimeConfig names the external binaries the mount command service
// invokes and the options it applies to them.
type RuntimeConfig struct {
	MergerfsBinary        string   `yaml:"mergerfs_binary"`
	FindmntBinary          string   `yaml:"findmnt_binary"`
	FusermountBinary       string   `yaml:"fusermount_binary"`
	MergerfsOptionsBase    string   `yaml:"mergerfs_options_base"`
	HighPriorityWrappers   []string `yaml:"high_priority_wrappers"`
	CommandTimeoutSeconds  int64    `yaml:"command_timeout_seconds"`
	ReadinessTimeoutSeconds int64   `yaml:"readiness_timeout_seconds"`
}

// ShutdownConfig controls the supervisor's stop behavior.
type ShutdownConfig struct {
	StopTimeoutSeconds int64 `yaml:"stop_timeout_seconds"`
	UnmountOnStop      bool  `yaml:"unmount_on_stop"`
}

// DiagnosticsConfig controls the HTTP health/metrics surface.
type DiagnosticsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// SceneTags is the opaque suffix list the equivalence catalog strips from
// a title before computing its normalized key.
type SceneTags struct {
	Tags []string `yaml:"tags"`
}

// MangaEquivalents is the set of canonical-title groups used by the
// equivalence catalog.
type MangaEquivalents struct {
	Groups []EquivalentGroup `yaml:"groups"`
}

// EquivalentGroup names one canonical title and its known aliases.
type EquivalentGroup struct {
	Canonical string   `yaml:"canonical"`
	Aliases   []string `yaml:"aliases"`
}

// SourcePriority is the ordered precedence list the priority service reads;
// rank is the 0-based index into Sources.
type SourcePriority struct {
	Sources []string `yaml:"sources"`
}

// Document file names under a config root directory.
const (
	SettingsFile   = "settings.yaml"
	SceneTagsFile  = "scene_tags.yaml"
	EquivalentsFile = "equivalents.yaml"
	PriorityFile   = "priority.yaml"
)

// NewDefaultSettings returns a Settings with conservative, working
// defaults for every field the core reads.
func NewDefaultSettings() *Settings {
	return &Settings{
		Paths: PathsConfig{
			SourcesRoot:     "/srv/manga/sources",
			OverrideRoot:    "/srv/manga/override",
			MergedRoot:      "/srv/manga/merged",
			BranchLinksRoot: "/var/lib/mangamerged/branches",
		},
		Rename: RenameConfig{
			ExcludedSources:      nil,
			DelaySeconds:         30,
			RescanSeconds:        3600,
			QuietSeconds:         15,
			PollSeconds:          5,
			StartupRescanEnabled: true,
			MaxCollisionAttempts: 50,
		},
		Scan: ScanConfig{
			InotifyPollSeconds:          2,
			MergeIntervalSeconds:        300,
			MinIntervalSeconds:          10,
			RetryDelaySeconds:           30,
			MaxConsecutiveMountFailures: 3,
		},
		Runtime: RuntimeConfig{
			MergerfsBinary:          "mergerfs",
			FindmntBinary:           "findmnt",
			FusermountBinary:        "fusermount3",
			MergerfsOptionsBase:     "cache.files=partial,dropcacheonclose=true",
			HighPriorityWrappers:    nil,
			CommandTimeoutSeconds:   10,
			ReadinessTimeoutSeconds: 5,
		},
		Shutdown: ShutdownConfig{
			StopTimeoutSeconds: 15,
			UnmountOnStop:      false,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled: true,
			Address: "localhost:8080",
		},
		Logging: LoggingConfig{
			Level:  "Normal",
			Format: "text",
			File:   "",
		},
	}
}

// LoadSettings reads settings.yaml from the given config root directory
// over the defaults, so any field the file omits keeps its default (a
// field set explicitly to zero stays zero), then validates the result.
func LoadSettings(root string) (*Settings, error) {
	s := NewDefaultSettings()

	path := filepath.Join(root, SettingsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, s.Validate()
		}
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadSceneTags reads scene_tags.yaml from the config root; a missing file
// yields an empty list, not an error.
func LoadSceneTags(root string) (*SceneTags, error) {
	var st SceneTags
	if err := loadOptionalYAML(filepath.Join(root, SceneTagsFile), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// LoadMangaEquivalents reads equivalents.yaml from the config root; a
// missing file yields an empty group list, not an error.
func LoadMangaEquivalents(root string) (*MangaEquivalents, error) {
	var me MangaEquivalents
	if err := loadOptionalYAML(filepath.Join(root, EquivalentsFile), &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// LoadSourcePriority reads priority.yaml from the config root; a missing
// file yields an empty priority list (every source then ranks equally at
// the default/unranked tier).
func LoadSourcePriority(root string) (*SourcePriority, error) {
	var sp SourcePriority
	if err := loadOptionalYAML(filepath.Join(root, PriorityFile), &sp); err != nil {
		return nil, err
	}
	return &sp, nil
}

func loadOptionalYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// LoadFromEnv overlays a handful of operator-facing environment variables
// onto an already-loaded Settings. Limited by design: full env-driven
// override of every field is an explicit non-goal.
func (s *Settings) LoadFromEnv() {
	if val := os.Getenv("MANGAMERGED_LOG_LEVEL"); val != "" {
		s.Logging.Level = val
	}
	if val := os.Getenv("MANGAMERGED_LOG_FILE"); val != "" {
		s.Logging.File = val
	}
	if val := os.Getenv("MANGAMERGED_DIAGNOSTICS_ADDRESS"); val != "" {
		s.Diagnostics.Address = val
	}
	if val := os.Getenv("MANGAMERGED_SOURCES_ROOT"); val != "" {
		s.Paths.SourcesRoot = val
	}
	if val := os.Getenv("MANGAMERGED_MERGED_ROOT"); val != "" {
		s.Paths.MergedRoot = val
	}
	if val := os.Getenv("MANGAMERGED_DIAGNOSTICS_ENABLED"); val != "" {
		s.Diagnostics.Enabled = strings.EqualFold(val, "true")
	}
}

// SaveToFile writes Settings back out as settings.yaml-shaped YAML,
// creating parent directories as needed. Primarily a test/tooling
// convenience; the daemon itself only reads configuration.
func (s *Settings) SaveToFile(filename string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o750); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}

// Validate rejects settings that would make the daemon impossible to run
// safely. This is intentionally shallow: full schema validation is a
// non-goal of this core.
func (s *Settings) Validate() error {
	if s.Paths.SourcesRoot == "" || !filepath.IsAbs(s.Paths.SourcesRoot) {
		return fmt.Errorf("paths.sources_root must be an absolute path")
	}
	if s.Paths.OverrideRoot == "" || !filepath.IsAbs(s.Paths.OverrideRoot) {
		return fmt.Errorf("paths.override_root must be an absolute path")
	}
	if s.Paths.MergedRoot == "" || !filepath.IsAbs(s.Paths.MergedRoot) {
		return fmt.Errorf("paths.merged_root must be an absolute path")
	}
	if s.Paths.BranchLinksRoot == "" || !filepath.IsAbs(s.Paths.BranchLinksRoot) {
		return fmt.Errorf("paths.branch_links_root must be an absolute path")
	}

	if s.Rename.DelaySeconds < 0 {
		return fmt.Errorf("rename.delay_seconds must be >= 0")
	}
	if s.Rename.RescanSeconds <= 0 {
		return fmt.Errorf("rename.rescan_seconds must be > 0")
	}
	if s.Rename.QuietSeconds < 0 {
		return fmt.Errorf("rename.quiet_seconds must be >= 0")
	}
	if s.Rename.PollSeconds <= 0 {
		return fmt.Errorf("rename.poll_seconds must be > 0")
	}

	if s.Scan.InotifyPollSeconds <= 0 {
		return fmt.Errorf("scan.inotify_poll_seconds must be > 0")
	}
	if s.Scan.MaxConsecutiveMountFailures <= 0 {
		return fmt.Errorf("scan.max_consecutive_mount_failures must be > 0")
	}

	if s.Runtime.MergerfsBinary == "" {
		return fmt.Errorf("runtime.mergerfs_binary must be set")
	}
	if s.Runtime.FindmntBinary == "" {
		return fmt.Errorf("runtime.findmnt_binary must be set")
	}
	if s.Runtime.FusermountBinary == "" {
		return fmt.Errorf("runtime.fusermount_binary must be set")
	}

	validLogLevels := []string{"Trace", "Debug", "Normal", "Warning", "Error"}
	ok := false
	for _, lvl := range validLogLevels {
		if strings.EqualFold(s.Logging.Level, lvl) {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("logging.level %q must be one of: %s", s.Logging.Level, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// RenameDelay returns RenameConfig.DelaySeconds as a time.Duration.
func (r RenameConfig) RenameDelay() time.Duration { return time.Duration(r.DelaySeconds) * time.Second }

// RescanInterval returns RenameConfig.RescanSeconds as a time.Duration.
func (r RenameConfig) RescanInterval() time.Duration {
	return time.Duration(r.RescanSeconds) * time.Second
}

// QuietWindow returns RenameConfig.QuietSeconds as a time.Duration.
func (r RenameConfig) QuietWindow() time.Duration { return time.Duration(r.QuietSeconds) * time.Second }

// PollInterval returns RenameConfig.PollSeconds as a time.Duration: how
// often the trigger pipeline drains the rename queue.
func (r RenameConfig) PollInterval() time.Duration { return time.Duration(r.PollSeconds) * time.Second }

// PollInterval returns ScanConfig.InotifyPollSeconds as a time.Duration.
func (s ScanConfig) PollInterval() time.Duration {
	return time.Duration(s.InotifyPollSeconds) * time.Second
}

// MergeInterval returns ScanConfig.MergeIntervalSeconds as a time.Duration.
func (s ScanConfig) MergeInterval() time.Duration {
	return time.Duration(s.MergeIntervalSeconds) * time.Second
}

// MinInterval returns ScanConfig.MinIntervalSeconds as a time.Duration.
func (s ScanConfig) MinInterval() time.Duration {
	return time.Duration(s.MinIntervalSeconds) * time.Second
}

// RetryDelay returns ScanConfig.RetryDelaySeconds as a time.Duration.
func (s ScanConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelaySeconds) * time.Second
}

// CommandTimeout returns RuntimeConfig.CommandTimeoutSeconds as a
// time.Duration.
func (r RuntimeConfig) CommandTimeout() time.Duration {
	return time.Duration(r.CommandTimeoutSeconds) * time.Second
}

// ReadinessTimeout returns RuntimeConfig.ReadinessTimeoutSeconds as a
// time.Duration.
func (r RuntimeConfig) ReadinessTimeout() time.Duration {
	return time.Duration(r.ReadinessTimeoutSeconds) * time.Second
}

// StopTimeout returns ShutdownConfig.StopTimeoutSeconds as a time.Duration.
func (s ShutdownConfig) StopTimeout() time.Duration {
	return time.Duration(s.StopTimeoutSeconds) * time.Second
}
