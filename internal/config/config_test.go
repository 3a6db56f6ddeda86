// ABOUTME: Tests for configuration loading
// ABOUTME: Covers TOML and YAML files, env expansion, environment-only mode, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const validTOML = `
[matrix]
homeserver = "https://matrix.example.org"
username = "modmail"
password = "${TEST_MODMAIL_PASSWORD}"

[modmail]
space_id = "!support:example.org"
staff_room_id = "!staff:example.org"
close_delay = "5s"

[database]
path = "/var/lib/modmail/ledger.db"

[logging]
level = "debug"
`

func TestLoad_TOML(t *testing.T) {
	t.Setenv("TEST_MODMAIL_PASSWORD", "hunter2")
	path := writeConfig(t, "modmail.toml", validTOML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://matrix.example.org", cfg.Matrix.Homeserver)
	assert.Equal(t, "modmail", cfg.Matrix.Username)
	assert.Equal(t, "hunter2", cfg.Matrix.Password)
	assert.Equal(t, "!support:example.org", cfg.Modmail.SpaceID)
	assert.Equal(t, "!staff:example.org", cfg.Modmail.StaffRoomID)
	assert.Equal(t, 5*time.Second, cfg.Modmail.CloseDelay)
	assert.Equal(t, "/var/lib/modmail/ledger.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Defaults
	assert.Equal(t, DefaultChannelPrefix, cfg.Modmail.ChannelPrefix)
	assert.Equal(t, DefaultCommandPrefix, cfg.Modmail.CommandPrefix)
	assert.Equal(t, DefaultStatusMessage, cfg.Modmail.StatusMessage)
	assert.Equal(t, DefaultLogFormat, cfg.Logging.Format)
	assert.Equal(t, DefaultAckReaction, cfg.AckMarker())
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "modmail.yaml", `
matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@modmail:example.org"
  access_token: "syt_token"
modmail:
  space_id: "!support:example.org"
  staff_room_id: "!staff:example.org"
  channel_prefix: "mm-"
  disable_ack: true
logging:
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "@modmail:example.org", cfg.Matrix.UserID)
	assert.Equal(t, "syt_token", cfg.Matrix.AccessToken)
	assert.Equal(t, "mm-", cfg.Modmail.ChannelPrefix)
	assert.Equal(t, DefaultCloseDelay, cfg.Modmail.CloseDelay)
	assert.Equal(t, "", cfg.AckMarker())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{
			name:    "unsupported extension",
			file:    "modmail.ini",
			content: "x=1",
			wantErr: "unsupported config format",
		},
		{
			name:    "bad toml",
			file:    "modmail.toml",
			content: "[matrix\nhomeserver=",
			wantErr: "parsing config file",
		},
		{
			name:    "bad duration",
			file:    "modmail.toml",
			content: strings.Replace(validTOML, `"5s"`, `"soon"`, 1),
			wantErr: "close_delay",
		},
		{
			name:    "negative duration",
			file:    "modmail.toml",
			content: strings.Replace(validTOML, `"5s"`, `"-1s"`, 1),
			wantErr: "must not be negative",
		},
		{
			name:    "missing space",
			file:    "modmail.toml",
			content: strings.Replace(validTOML, `space_id = "!support:example.org"`, "", 1),
			wantErr: "modmail.space_id is required",
		},
		{
			name:    "staff room not a room id",
			file:    "modmail.toml",
			content: strings.Replace(validTOML, `"!staff:example.org"`, `"#staff:example.org"`, 1),
			wantErr: "modmail.staff_room_id must start with",
		},
		{
			name:    "missing homeserver",
			file:    "modmail.toml",
			content: strings.Replace(validTOML, `homeserver = "https://matrix.example.org"`, "", 1),
			wantErr: "matrix.homeserver is required",
		},
		{
			name:    "bad log level",
			file:    "modmail.toml",
			content: strings.Replace(validTOML, `level = "debug"`, `level = "loud"`, 1),
			wantErr: "logging.level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_MODMAIL_PASSWORD", "pw")
			_, err := Load(writeConfig(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate_Credentials(t *testing.T) {
	base := func() Config {
		c := Config{
			Matrix:  MatrixConfig{Homeserver: "https://m.example.org"},
			Modmail: ModmailConfig{SpaceID: "!s:x", StaffRoomID: "!t:x"},
		}
		c.applyDefaults()
		return c
	}

	t.Run("password login", func(t *testing.T) {
		c := base()
		c.Matrix.Username = "bot"
		c.Matrix.Password = "pw"
		assert.NoError(t, c.Validate())
	})

	t.Run("token login", func(t *testing.T) {
		c := base()
		c.Matrix.AccessToken = "tok"
		c.Matrix.UserID = "@bot:x"
		assert.NoError(t, c.Validate())
	})

	t.Run("token without user id", func(t *testing.T) {
		c := base()
		c.Matrix.AccessToken = "tok"
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "matrix.user_id is required")
	})

	t.Run("no credentials", func(t *testing.T) {
		c := base()
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "matrix.username is required")
	})
}

func TestFromEnv(t *testing.T) {
	t.Setenv("MODMAIL_HOMESERVER", "https://matrix.example.org")
	t.Setenv("MODMAIL_USERNAME", "modmail")
	t.Setenv("MODMAIL_PASSWORD", "pw")
	t.Setenv("MODMAIL_SPACE_ID", "!support:example.org")
	t.Setenv("MODMAIL_STAFF_ROOM_ID", "!staff:example.org")
	t.Setenv("MODMAIL_CLOSE_DELAY", "10s")
	t.Setenv("MODMAIL_DATABASE_PATH", "/tmp/ledger.db")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "modmail", cfg.Matrix.Username)
	assert.Equal(t, "!support:example.org", cfg.Modmail.SpaceID)
	assert.Equal(t, 10*time.Second, cfg.Modmail.CloseDelay)
	assert.Equal(t, "/tmp/ledger.db", cfg.Database.Path)
	assert.Equal(t, DefaultChannelPrefix, cfg.Modmail.ChannelPrefix)
}

func TestResolve(t *testing.T) {
	t.Run("file present", func(t *testing.T) {
		t.Setenv("TEST_MODMAIL_PASSWORD", "pw")
		cfg, src, err := Resolve(writeConfig(t, "modmail.toml", validTOML))
		require.NoError(t, err)
		assert.Equal(t, SourceFile, src)
		assert.Equal(t, "modmail", cfg.Matrix.Username)
	})

	t.Run("falls back to environment", func(t *testing.T) {
		t.Setenv("MODMAIL_HOMESERVER", "https://matrix.example.org")
		t.Setenv("MODMAIL_USER_ID", "@modmail:example.org")
		t.Setenv("MODMAIL_ACCESS_TOKEN", "tok")
		t.Setenv("MODMAIL_SPACE_ID", "!support:example.org")
		t.Setenv("MODMAIL_STAFF_ROOM_ID", "!staff:example.org")

		cfg, src, err := Resolve(filepath.Join(t.TempDir(), "absent.toml"))
		require.NoError(t, err)
		assert.Equal(t, SourceEnvironment, src)
		assert.Equal(t, "tok", cfg.Matrix.AccessToken)
	})
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_EXPAND_A", "alpha")

	assert.Equal(t, "x=alpha", expandEnvVars("x=${TEST_EXPAND_A}"))
	assert.Equal(t, "x=", expandEnvVars("x=${TEST_EXPAND_UNSET_VAR}"))
	assert.Equal(t, "x=$TEST_EXPAND_A", expandEnvVars("x=$TEST_EXPAND_A"))
}

func TestPaths(t *testing.T) {
	t.Setenv("COVEN_MODMAIL_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_DATA_HOME", "/data")

	assert.Equal(t, filepath.Join("/cfg", "coven", "modmail.toml"), ConfigPath())
	assert.Equal(t, filepath.Join("/data", "coven", "modmail"), DataPath())

	t.Setenv("COVEN_MODMAIL_CONFIG", "/etc/modmail.yaml")
	assert.Equal(t, "/etc/modmail.yaml", ConfigPath())
}

func TestLoad_ZeroCloseDelayKept(t *testing.T) {
	t.Setenv("TEST_MODMAIL_PASSWORD", "pw")
	cfg, err := Load(writeConfig(t, "modmail.toml", strings.Replace(validTOML, `"5s"`, `"0s"`, 1)))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Modmail.CloseDelay)
}

func TestFromEnv_CloseDelay(t *testing.T) {
	setEnv := func(t *testing.T, delay string) {
		t.Setenv("MODMAIL_HOMESERVER", "https://matrix.example.org")
		t.Setenv("MODMAIL_USERNAME", "modmail")
		t.Setenv("MODMAIL_PASSWORD", "pw")
		t.Setenv("MODMAIL_SPACE_ID", "!support:example.org")
		t.Setenv("MODMAIL_STAFF_ROOM_ID", "!staff:example.org")
		t.Setenv("MODMAIL_CLOSE_DELAY", delay)
	}

	t.Run("zero", func(t *testing.T) {
		setEnv(t, "0s")
		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), cfg.Modmail.CloseDelay)
	})

	t.Run("unset uses default", func(t *testing.T) {
		setEnv(t, "")
		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, DefaultCloseDelay, cfg.Modmail.CloseDelay)
	})

	t.Run("negative rejected", func(t *testing.T) {
		setEnv(t, "-5s")
		_, err := FromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must not be negative")
	})

	t.Run("garbage rejected", func(t *testing.T) {
		setEnv(t, "later")
		_, err := FromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "MODMAIL_CLOSE_DELAY")
	})
}
