// Package config handles configuration loading for coven-modmail.
//
// # Configuration File
//
// Default location:
//
//  1. Path from the COVEN_MODMAIL_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/modmail.toml
//  3. ~/.config/coven/modmail.toml
//
// The format follows the extension: .toml, or .yaml/.yml. Run
// "coven-modmail init" to write a starter TOML file.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	[matrix]
//	password = "${MODMAIL_PASSWORD}"
//
// Unset variables expand to the empty string.
//
// # Environment-Only Mode
//
// When the config file does not exist, Resolve reads MODMAIL_* variables
// instead (a .env file in the working directory is loaded first by the
// command):
//
//	MODMAIL_HOMESERVER, MODMAIL_USERNAME, MODMAIL_PASSWORD,
//	MODMAIL_USER_ID, MODMAIL_ACCESS_TOKEN, MODMAIL_RECOVERY_KEY,
//	MODMAIL_SPACE_ID, MODMAIL_STAFF_ROOM_ID, MODMAIL_CLOSE_DELAY,
//	MODMAIL_DATABASE_PATH, MODMAIL_LOG_LEVEL, MODMAIL_LOG_FORMAT
//
// # Sections
//
//	[matrix]
//	homeserver = "https://matrix.example.org"
//	username = "modmail"
//	password = "${MODMAIL_PASSWORD}"
//	recovery_key = ""              # set to enable E2EE
//
//	[modmail]
//	space_id = "!abc:example.org"  # relay rooms are created under this space
//	staff_room_id = "!def:example.org"
//	channel_prefix = "ticket-"
//	close_delay = "3s"
//	command_prefix = "!"
//	ack_reaction = "✅"
//
//	[database]
//	path = ""                      # empty disables the ticket ledger
//
//	[logging]
//	level = "info"                 # debug, info, warn, error
//	format = "text"                # text, json
//
// # Validation
//
// Validation uses struct tags checked by go-playground/validator. Errors
// name the file key, e.g. "modmail.space_id is required".
package config
