// ABOUTME: Interactive setup for coven-modmail
// ABOUTME: Prompts for Matrix credentials and rooms, then writes a commented TOML config

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/coven-modmail/internal/config"
)

// initAnswers holds what the setup prompts collected.
type initAnswers struct {
	Homeserver  string
	Username    string
	Password    string
	RecoveryKey string
	SpaceID     string
	StaffRoomID string
	LedgerPath  string
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)
	green := color.New(color.FgGreen)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath := config.ConfigPath()
	reader := bufio.NewReader(os.Stdin)

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	answers := promptInit(reader, os.Stdout)

	// Ensure config directory exists
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file holds a password, keep it private
	if err := os.WriteFile(configPath, []byte(renderConfig(answers)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Invite the bot to the space and the staff room")
	fmt.Println("    2. Run: coven-modmail")
	fmt.Println()

	return nil
}

// promptInit asks each question in turn, applying defaults for empty input.
func promptInit(reader *bufio.Reader, out io.Writer) initAnswers {
	green := color.New(color.FgGreen)
	ask := func(question, def string) string {
		green.Fprint(out, "    ▶ ")
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", question, def)
		} else {
			fmt.Fprintf(out, "%s: ", question)
		}
		line, _ := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			return def
		}
		return line
	}

	return initAnswers{
		Homeserver:  ask("Matrix homeserver URL", "https://matrix.org"),
		Username:    ask("Matrix username", ""),
		Password:    ask("Matrix password", ""),
		RecoveryKey: ask("Matrix recovery key (optional, for E2EE)", ""),
		SpaceID:     ask("Support space room id (e.g. !abc:example.org)", ""),
		StaffRoomID: ask("Staff room id (members are staff)", ""),
		LedgerPath:  ask("Ticket ledger path (empty to disable)", filepath.Join(config.DataPath(), "ledger.db")),
	}
}

// renderConfig produces the TOML file for a. Values are quoted with %q so
// passwords containing quotes stay valid TOML.
func renderConfig(a initAnswers) string {
	var b strings.Builder

	b.WriteString("# coven-modmail configuration\n")
	b.WriteString("# Generated by coven-modmail init\n\n")

	b.WriteString("[matrix]\n")
	fmt.Fprintf(&b, "homeserver = %q\n", a.Homeserver)
	fmt.Fprintf(&b, "username = %q\n", a.Username)
	fmt.Fprintf(&b, "password = %q\n", a.Password)
	if a.RecoveryKey != "" {
		fmt.Fprintf(&b, "recovery_key = %q\n", a.RecoveryKey)
	}

	b.WriteString("\n[modmail]\n")
	b.WriteString("# Relay rooms are created inside this space\n")
	fmt.Fprintf(&b, "space_id = %q\n", a.SpaceID)
	b.WriteString("# Everyone joined to this room is staff\n")
	fmt.Fprintf(&b, "staff_room_id = %q\n", a.StaffRoomID)
	fmt.Fprintf(&b, "channel_prefix = %q\n", config.DefaultChannelPrefix)
	fmt.Fprintf(&b, "command_prefix = %q\n", config.DefaultCommandPrefix)
	b.WriteString("# Delay between !close and the room being torn down\n")
	fmt.Fprintf(&b, "close_delay = %q\n", config.DefaultCloseDelay.String())
	fmt.Fprintf(&b, "ack_reaction = %q\n", config.DefaultAckReaction)
	fmt.Fprintf(&b, "status_message = %q\n", config.DefaultStatusMessage)

	if a.LedgerPath != "" {
		b.WriteString("\n[database]\n")
		fmt.Fprintf(&b, "path = %q\n", a.LedgerPath)
	}

	b.WriteString("\n[logging]\n")
	fmt.Fprintf(&b, "level = %q\n", config.DefaultLogLevel)
	fmt.Fprintf(&b, "format = %q\n", config.DefaultLogFormat)

	return b.String()
}
