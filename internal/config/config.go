package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SlotMode selects how the device slot layout is determined.
type SlotMode string

const (
	// SlotModeAuto reads the slot layout from the kernel command line.
	SlotModeAuto SlotMode = "auto"
	// SlotModeAB forces the two-slot (streaming) path.
	SlotModeAB SlotMode = "ab"
	// SlotModeAOnly forces the single-slot (full-image) path.
	SlotModeAOnly SlotMode = "a-only"
)

// Config holds the settings shared by the OTA binaries.
type Config struct {
	// ServerAddress is the gRPC address of the update daemon.
	ServerAddress string `yaml:"server_addr"`
	// StateFile is the path to the JSON file storing the last published status.
	StateFile string `yaml:"state_file"`
	// Timeout is the duration for RPC calls.
	Timeout time.Duration `yaml:"timeout"`
	// LogLevel is the minimum level of log messages (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// LogFile is an optional path for a rotating log file.
	LogFile string `yaml:"log_file,omitempty"`
	// PayloadEntry is the archive entry holding the streaming payload.
	PayloadEntry string `yaml:"payload_entry"`
	// PropertiesEntry is the archive entry holding the payload header properties.
	PropertiesEntry string `yaml:"properties_entry"`
	// SlotMode decides between streaming apply and full-image install.
	SlotMode SlotMode `yaml:"slot_mode"`
	// CmdlinePath is read in auto slot mode to find the active slot suffix.
	CmdlinePath string `yaml:"cmdline_path"`
	// EncryptedRoots lists storage roots whose files are transport-encrypted.
	EncryptedRoots []string `yaml:"encrypted_roots"`
	// Engine configures the streaming update engine client.
	Engine EngineConfig `yaml:"engine"`
	// Recovery configures the full-image installer.
	Recovery RecoveryConfig `yaml:"recovery"`
}

// EngineConfig describes how the streaming update engine is invoked.
type EngineConfig struct {
	// Command is the update engine client executable.
	Command string `yaml:"command"`
	// PerformanceArgs are passed to Command to enable performance mode.
	// Leaving them empty disables the performance mode request.
	PerformanceArgs []string `yaml:"performance_args,omitempty"`
}

// RecoveryConfig describes how the full-image installer is invoked.
type RecoveryConfig struct {
	// CommandFile receives the recovery instructions.
	CommandFile string `yaml:"command_file"`
	// Reboot is the optional command that reboots into recovery after the instructions are written.
	Reboot []string `yaml:"reboot,omitempty"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "ota-settings.yaml"

	// DefaultStateFilename is the default filename for the status JSON.
	DefaultStateFilename = "ota-status.json"

	// DefaultServerAddress is the default address of the update daemon.
	DefaultServerAddress = "127.0.0.1:50061"

	// DefaultTimeout is the default duration for RPC calls.
	DefaultTimeout = 5 * time.Second

	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"

	// DefaultPayloadEntry is the well-known archive path of the A/B payload.
	DefaultPayloadEntry = "payload.bin"

	// DefaultPropertiesEntry is the well-known archive path of the payload properties.
	DefaultPropertiesEntry = "payload_properties.txt"

	// DefaultCmdlinePath is the kernel command line consulted in auto slot mode.
	DefaultCmdlinePath = "/proc/cmdline"

	// DefaultEngineCommand is the platform update engine client.
	DefaultEngineCommand = "update_engine_client"

	// DefaultRecoveryCommandFile is where recovery looks for its instructions.
	DefaultRecoveryCommandFile = "/cache/recovery/command"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errServerSocketRequired is returned when server address is missing.
	errServerSocketRequired = errors.New("server address must be provided")
	// errUnknownSlotMode is returned for slot modes other than auto, ab and a-only.
	errUnknownSlotMode = errors.New("unknown slot mode")
	// errRelativeRoot is returned when an encrypted root is not absolute.
	errRelativeRoot = errors.New("encrypted root must be an absolute path")
)

// Default returns settings populated with defaults only.
func Default() *Config {
	cfg := &Config{
		ServerAddress: DefaultServerAddress,
	}

	// Defaults cannot fail validation.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes Settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.ServerAddress == "" {
		return errServerSocketRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", settings.ServerAddress); err != nil {
		return fmt.Errorf("invalid server socket: %w", err)
	}

	applyDefaults(settings)

	switch settings.SlotMode {
	case SlotModeAuto, SlotModeAB, SlotModeAOnly:
	default:
		return fmt.Errorf("%w: %q", errUnknownSlotMode, settings.SlotMode)
	}

	for _, root := range settings.EncryptedRoots {
		if !filepath.IsAbs(root) {
			return fmt.Errorf("%w: %q", errRelativeRoot, root)
		}
	}

	return nil
}

// applyDefaults fills every optional field left empty.
func applyDefaults(settings *Config) {
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.StateFile == "" {
		settings.StateFile = DefaultStateFilename
	}

	if settings.LogLevel == "" {
		settings.LogLevel = DefaultLogLevel
	}

	if settings.PayloadEntry == "" {
		settings.PayloadEntry = DefaultPayloadEntry
	}

	if settings.PropertiesEntry == "" {
		settings.PropertiesEntry = DefaultPropertiesEntry
	}

	if settings.SlotMode == "" {
		settings.SlotMode = SlotModeAuto
	}

	if settings.CmdlinePath == "" {
		settings.CmdlinePath = DefaultCmdlinePath
	}

	if settings.Engine.Command == "" {
		settings.Engine.Command = DefaultEngineCommand
	}

	if settings.Recovery.CommandFile == "" {
		settings.Recovery.CommandFile = DefaultRecoveryCommandFile
	}
}
