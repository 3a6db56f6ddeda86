// ABOUTME: Configuration loading for the coven-modmail bridge
// ABOUTME: TOML or YAML files with ${VAR} expansion, or MODMAIL_* environment variables when no file exists

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is left empty.
const (
	DefaultChannelPrefix = "ticket-"
	DefaultCloseDelay    = 3 * time.Second
	DefaultCommandPrefix = "!"
	DefaultAckReaction   = "✅"
	DefaultStatusMessage = "DMs for tickets"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// Config is the complete coven-modmail configuration.
type Config struct {
	Matrix   MatrixConfig   `toml:"matrix" yaml:"matrix"`
	Modmail  ModmailConfig  `toml:"modmail" yaml:"modmail"`
	Database DatabaseConfig `toml:"database" yaml:"database"`
	Logging  LoggingConfig  `toml:"logging" yaml:"logging"`
}

// MatrixConfig holds the bot account. Either username+password or
// user_id+access_token must be set.
type MatrixConfig struct {
	Homeserver  string `toml:"homeserver" yaml:"homeserver" validate:"required,url"`
	Username    string `toml:"username" yaml:"username" validate:"required_without=AccessToken"`
	Password    string `toml:"password" yaml:"password" validate:"required_without=AccessToken"`
	UserID      string `toml:"user_id" yaml:"user_id" validate:"required_with=AccessToken"`
	AccessToken string `toml:"access_token" yaml:"access_token"`
	DeviceID    string `toml:"device_id" yaml:"device_id"`
	// RecoveryKey enables end-to-end encryption when set.
	RecoveryKey string `toml:"recovery_key" yaml:"recovery_key"`
}

// ModmailConfig holds the ticket relay settings.
type ModmailConfig struct {
	// SpaceID is the space relay rooms are created under.
	SpaceID string `toml:"space_id" yaml:"space_id" validate:"required,startswith=!"`
	// StaffRoomID is the room whose joined members count as staff.
	StaffRoomID   string `toml:"staff_room_id" yaml:"staff_room_id" validate:"required,startswith=!"`
	ChannelPrefix string `toml:"channel_prefix" yaml:"channel_prefix"`
	CommandPrefix string `toml:"command_prefix" yaml:"command_prefix" validate:"max=3"`
	AckReaction   string `toml:"ack_reaction" yaml:"ack_reaction"`
	DisableAck    bool   `toml:"disable_ack" yaml:"disable_ack"`
	StatusMessage string `toml:"status_message" yaml:"status_message"`

	CloseDelay    time.Duration `toml:"-" yaml:"-"`
	CloseDelayRaw string        `toml:"close_delay" yaml:"close_delay"`
}

// DatabaseConfig locates the ticket ledger. An empty path disables it.
type DatabaseConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" yaml:"format" validate:"oneof=text json"`
}

// Source says where a Config came from.
type Source string

const (
	SourceFile        Source = "file"
	SourceEnvironment Source = "environment"
)

// ConfigPath returns the config file location.
// Priority: COVEN_MODMAIL_CONFIG > XDG_CONFIG_HOME/coven/modmail.toml > ~/.config/coven/modmail.toml
func ConfigPath() string {
	if p := os.Getenv("COVEN_MODMAIL_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "modmail.toml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "coven", "modmail.toml")
}

// DataPath returns the directory for the ledger and crypto store.
// Priority: XDG_DATA_HOME/coven/modmail > ~/.local/share/coven/modmail
func DataPath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "coven", "modmail")
}

// Resolve loads the file at path, falling back to the environment when the
// file does not exist.
func Resolve(path string) (*Config, Source, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg, envErr := FromEnv()
			return cfg, SourceEnvironment, envErr
		}
		return nil, "", fmt.Errorf("checking config file: %w", err)
	}
	cfg, err := Load(path)
	return cfg, SourceFile, err
}

// Load reads a TOML (.toml) or YAML (.yaml, .yml) file. ${VAR} references
// are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (use .toml or .yaml)", ext)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// envConfig is the flat MODMAIL_* view used when no file is present.
type envConfig struct {
	Homeserver    string        `env:"MODMAIL_HOMESERVER"`
	Username      string        `env:"MODMAIL_USERNAME"`
	Password      string        `env:"MODMAIL_PASSWORD"`
	UserID        string        `env:"MODMAIL_USER_ID"`
	AccessToken   string        `env:"MODMAIL_ACCESS_TOKEN"`
	DeviceID      string        `env:"MODMAIL_DEVICE_ID"`
	RecoveryKey   string        `env:"MODMAIL_RECOVERY_KEY"`
	SpaceID       string        `env:"MODMAIL_SPACE_ID"`
	StaffRoomID   string        `env:"MODMAIL_STAFF_ROOM_ID"`
	ChannelPrefix string        `env:"MODMAIL_CHANNEL_PREFIX"`
	CommandPrefix string        `env:"MODMAIL_COMMAND_PREFIX"`
	AckReaction   string        `env:"MODMAIL_ACK_REACTION"`
	DisableAck    bool          `env:"MODMAIL_DISABLE_ACK"`
	StatusMessage string        `env:"MODMAIL_STATUS_MESSAGE"`
	CloseDelay    string        `env:"MODMAIL_CLOSE_DELAY"`
	DatabasePath  string        `env:"MODMAIL_DATABASE_PATH"`
	LogLevel      string        `env:"MODMAIL_LOG_LEVEL"`
	LogFormat     string        `env:"MODMAIL_LOG_FORMAT"`
}

// FromEnv builds a Config from MODMAIL_* environment variables.
func FromEnv() (*Config, error) {
	var e envConfig
	if _, err := env.UnmarshalFromEnviron(&e); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	cfg := Config{
		Matrix: MatrixConfig{
			Homeserver:  e.Homeserver,
			Username:    e.Username,
			Password:    e.Password,
			UserID:      e.UserID,
			AccessToken: e.AccessToken,
			DeviceID:    e.DeviceID,
			RecoveryKey: e.RecoveryKey,
		},
		Modmail: ModmailConfig{
			SpaceID:       e.SpaceID,
			StaffRoomID:   e.StaffRoomID,
			ChannelPrefix: e.ChannelPrefix,
			CommandPrefix: e.CommandPrefix,
			AckReaction:   e.AckReaction,
			DisableAck:    e.DisableAck,
			StatusMessage: e.StatusMessage,
			CloseDelayRaw: e.CloseDelay,
		},
		Database: DatabaseConfig{Path: e.DatabasePath},
		Logging:  LoggingConfig{Level: e.LogLevel, Format: e.LogFormat},
	}
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing MODMAIL_CLOSE_DELAY: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating environment config: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with the variable's value, or the empty
// string when unset.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(re.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	if cfg.Modmail.CloseDelayRaw == "" {
		return nil
	}
	d, err := time.ParseDuration(cfg.Modmail.CloseDelayRaw)
	if err != nil {
		return fmt.Errorf("parsing close_delay %q: %w", cfg.Modmail.CloseDelayRaw, err)
	}
	if d < 0 {
		return fmt.Errorf("close_delay must not be negative, got %s", d)
	}
	cfg.Modmail.CloseDelay = d
	return nil
}

func (c *Config) applyDefaults() {
	if c.Modmail.ChannelPrefix == "" {
		c.Modmail.ChannelPrefix = DefaultChannelPrefix
	}
	// An explicit "0s" means delete immediately; only an absent value
	// takes the default.
	if c.Modmail.CloseDelayRaw == "" {
		c.Modmail.CloseDelay = DefaultCloseDelay
	}
	if c.Modmail.CommandPrefix == "" {
		c.Modmail.CommandPrefix = DefaultCommandPrefix
	}
	if c.Modmail.AckReaction == "" {
		c.Modmail.AckReaction = DefaultAckReaction
	}
	if c.Modmail.StatusMessage == "" {
		c.Modmail.StatusMessage = DefaultStatusMessage
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// AckMarker returns the reaction used to acknowledge relayed messages, or
// the empty string when acknowledgments are off.
func (c *Config) AckMarker() string {
	if c.Modmail.DisableAck {
		return ""
	}
	return c.Modmail.AckReaction
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their file key so errors read "matrix.homeserver".
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("toml"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks required fields and value formats. It reports the first
// failure.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required", "required_without", "required_with":
		return fmt.Errorf("%s is required", field)
	case "url":
		return fmt.Errorf("%s is not a valid URL", field)
	case "startswith":
		return fmt.Errorf("%s must start with %q", field, fe.Param())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Errorf("%s failed %q validation", field, fe.Tag())
	}
}
