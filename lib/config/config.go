// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/sealdrop/lib/pathfilter"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "SEALDROP_CONFIG"

// Directory modes.
const (
	// DirectoryModeFiles encrypts every file on its own and only
	// recurses into directories.
	DirectoryModeFiles = "files"

	// DirectoryModeArchive packs each top-level directory of the input
	// root into one archive and encrypts that.
	DirectoryModeArchive = "archive"
)

// Config is the complete sealdrop configuration.
type Config struct {
	// InputRoot is the watched directory tree.
	InputRoot string `yaml:"input_root"`

	// OutputRoot receives the mirrored artifact tree. Must not overlap
	// InputRoot.
	OutputRoot string `yaml:"output_root"`

	// StagingDir holds intermediate directory archives. Must not be
	// inside InputRoot.
	StagingDir string `yaml:"staging_dir"`

	// DeleteAfterEncrypt removes originals once their artifact exists.
	DeleteAfterEncrypt bool `yaml:"delete_after_encrypt"`

	// BackupRoot, when set, receives a copy of each original before it
	// is deleted.
	BackupRoot string `yaml:"backup_root"`

	// PreservePermissions copies the source's permission bits to the
	// artifact instead of 0600.
	PreservePermissions bool `yaml:"preserve_permissions"`

	Stability   StabilityConfig   `yaml:"stability"`
	Filter      FilterConfig      `yaml:"filter"`
	Encryption  EncryptionConfig  `yaml:"encryption"`
	Directories DirectoriesConfig `yaml:"directories"`
	Limits      LimitsConfig      `yaml:"limits"`
	Retry       RetryConfig       `yaml:"retry"`
	Logging     LoggingConfig     `yaml:"logging"`
	Ledger      LedgerConfig      `yaml:"ledger"`

	// PIDFile, when set, is written at start and removed at shutdown.
	PIDFile string `yaml:"pid_file"`
}

// StabilityConfig configures the stability detector.
type StabilityConfig struct {
	// Window is how long a size must stay unchanged. Default: 3s.
	Window Duration `yaml:"window"`

	// PollInterval is the sampling period. Default: 1s.
	PollInterval Duration `yaml:"poll_interval"`
}

// FilterConfig configures the path filter.
type FilterConfig struct {
	HiddenPrefixes    []string `yaml:"hidden_prefixes"`
	TemporarySuffixes []string `yaml:"temporary_suffixes"`

	// AllowedExtensions, when non-empty, restricts encryption to files
	// with these extensions (".csv", "pdf"; case-insensitive).
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// EncryptionConfig configures recipients and artifact format.
type EncryptionConfig struct {
	// Recipients are age1... or ssh-... public keys.
	Recipients []string `yaml:"recipients"`

	// RecipientsFile lists more recipients, one per line.
	RecipientsFile string `yaml:"recipients_file"`

	Armor          bool   `yaml:"armor"`
	ArtifactSuffix string `yaml:"artifact_suffix"`
}

// DirectoriesConfig selects how directories are handled.
type DirectoriesConfig struct {
	// Mode is "files" or "archive".
	Mode string `yaml:"mode"`

	// Compression applies in archive mode: "zstd", "lz4" or "none".
	Compression string `yaml:"compression"`
}

// LimitsConfig bounds resource use.
type LimitsConfig struct {
	// MaxFileSize skips larger files. Zero disables the limit.
	MaxFileSize int64 `yaml:"max_file_size"`

	// Workers bounds concurrent encryptions.
	Workers int `yaml:"workers"`

	// QueueSize bounds the event queue between the watcher and the
	// coordinator.
	QueueSize int `yaml:"queue_size"`
}

// RetryConfig configures the optional retry decorator.
type RetryConfig struct {
	// Attempts is the number of retries after a failed encryption.
	// Zero disables retrying.
	Attempts int `yaml:"attempts"`

	// Delay before the first retry; doubles per retry.
	Delay Duration `yaml:"delay"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`
}

// LedgerConfig configures the outcome ledger.
type LedgerConfig struct {
	// Path of the ledger file. Empty disables the ledger.
	Path string `yaml:"path"`
}

// Duration is a time.Duration written as a Go duration string ("3s",
// "500ms") in configuration files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"3s\": %w", node.Line, err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Default returns a Config with every optional field at its default.
// InputRoot, OutputRoot and a recipient must still come from the file.
func Default() *Config {
	return &Config{
		StagingDir: filepath.Join(os.TempDir(), "sealdrop"),
		Stability: StabilityConfig{
			Window:       Duration(3 * time.Second),
			PollInterval: Duration(time.Second),
		},
		Filter: FilterConfig{
			HiddenPrefixes:    []string{"."},
			TemporarySuffixes: append([]string(nil), pathfilter.DefaultTemporarySuffixes...),
		},
		Encryption: EncryptionConfig{
			ArtifactSuffix: ".age",
		},
		Directories: DirectoriesConfig{
			Mode:        DirectoryModeFiles,
			Compression: "zstd",
		},
		Limits: LimitsConfig{
			MaxFileSize: 1 << 30,
			Workers:     2,
			QueueSize:   256,
		},
		Retry: RetryConfig{
			Delay: Duration(5 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from the file named by SEALDROP_CONFIG.
// There is no fallback: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your sealdrop.yaml config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over the defaults, expands
// ${VAR} patterns, makes paths absolute and validates the result.
// Files ending in .json or .jsonc are accepted (comments and trailing
// commas allowed); everything else is parsed as YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	cfg.expandVariables()
	if err := cfg.absolutize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// Plain JSON is valid YAML, so after stripping comments the YAML
		// decoder (and the Duration hook) handles both formats.
		data = jsonc.ToJSON(data)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// and recipient fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	for _, field := range []*string{
		&c.InputRoot,
		&c.OutputRoot,
		&c.StagingDir,
		&c.BackupRoot,
		&c.Encryption.RecipientsFile,
		&c.Ledger.Path,
		&c.PIDFile,
	} {
		*field = expandVars(*field, vars)
	}
	for i, recipient := range c.Encryption.Recipients {
		c.Encryption.Recipients[i] = expandVars(recipient, vars)
	}
}

// absolutize makes every configured path absolute and clean, so overlap
// checks compare like with like.
func (c *Config) absolutize() error {
	for _, field := range []*string{
		&c.InputRoot,
		&c.OutputRoot,
		&c.StagingDir,
		&c.BackupRoot,
		&c.Encryption.RecipientsFile,
		&c.Ledger.Path,
		&c.PIDFile,
	} {
		if *field == "" {
			continue
		}
		absolute, err := filepath.Abs(*field)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", *field, err)
		}
		*field = absolute
	}
	return nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.InputRoot == "" {
		errs = append(errs, errors.New("input_root is required"))
	}
	if c.OutputRoot == "" {
		errs = append(errs, errors.New("output_root is required"))
	}
	if c.InputRoot != "" && c.OutputRoot != "" &&
		(within(c.InputRoot, c.OutputRoot) || within(c.OutputRoot, c.InputRoot)) {
		errs = append(errs, fmt.Errorf("input_root %s and output_root %s must not overlap", c.InputRoot, c.OutputRoot))
	}
	for name, path := range map[string]string{
		"staging_dir": c.StagingDir,
		"backup_root": c.BackupRoot,
		"ledger.path": c.Ledger.Path,
	} {
		if path != "" && c.InputRoot != "" && within(c.InputRoot, path) {
			errs = append(errs, fmt.Errorf("%s %s must not be inside input_root", name, path))
		}
	}
	if c.StagingDir == "" && c.Directories.Mode == DirectoryModeArchive {
		errs = append(errs, errors.New("staging_dir is required in archive mode"))
	}

	if len(c.Encryption.Recipients) == 0 && c.Encryption.RecipientsFile == "" {
		errs = append(errs, errors.New("encryption.recipients or encryption.recipients_file is required"))
	}
	if !strings.HasPrefix(c.Encryption.ArtifactSuffix, ".") || len(c.Encryption.ArtifactSuffix) < 2 {
		errs = append(errs, fmt.Errorf("encryption.artifact_suffix %q must start with '.'", c.Encryption.ArtifactSuffix))
	}

	if c.Stability.Window <= 0 {
		errs = append(errs, errors.New("stability.window must be positive"))
	}
	if c.Stability.PollInterval <= 0 {
		errs = append(errs, errors.New("stability.poll_interval must be positive"))
	}

	if !contains([]string{DirectoryModeFiles, DirectoryModeArchive}, c.Directories.Mode) {
		errs = append(errs, fmt.Errorf("directories.mode must be one of: files, archive (got %q)", c.Directories.Mode))
	}
	if !contains([]string{"zstd", "lz4", "none"}, c.Directories.Compression) {
		errs = append(errs, fmt.Errorf("directories.compression must be one of: zstd, lz4, none (got %q)", c.Directories.Compression))
	}

	if c.Limits.MaxFileSize < 0 {
		errs = append(errs, errors.New("limits.max_file_size must not be negative"))
	}
	if c.Limits.Workers <= 0 {
		errs = append(errs, errors.New("limits.workers must be positive"))
	}
	if c.Limits.QueueSize <= 0 {
		errs = append(errs, errors.New("limits.queue_size must be positive"))
	}

	if c.Retry.Attempts < 0 {
		errs = append(errs, errors.New("retry.attempts must not be negative"))
	}
	if c.Retry.Attempts > 0 && c.Retry.Delay <= 0 {
		errs = append(errs, errors.New("retry.delay must be positive when retry.attempts is set"))
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if !contains([]string{"json", "text"}, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: json, text (got %q)", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level must be one of: debug, info, warn, error (got %q)", l.Level)
	}
	return level, nil
}

// ArchiveDirectories reports whether top-level directories are packed
// and encrypted as a unit.
func (c *Config) ArchiveDirectories() bool {
	return c.Directories.Mode == DirectoryModeArchive
}

// within reports whether path is root or lies below it. Both must be
// clean absolute paths.
func within(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
