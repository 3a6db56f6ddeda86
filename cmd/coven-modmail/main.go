// ABOUTME: Entry point for the coven-modmail ticket bot
// ABOUTME: Relays user DMs into private staff rooms on Matrix and back

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/coven-modmail/internal/config"
	"github.com/2389/coven-modmail/internal/directory"
	"github.com/2389/coven-modmail/internal/matrix"
	"github.com/2389/coven-modmail/internal/modmail"
	"github.com/2389/coven-modmail/internal/scheduler"
	"github.com/2389/coven-modmail/internal/store"
)

const banner = `
                                                         _                 _ _
  ___ _____   _____ _ __        _ __ ___   ___   __| |_ __ ___   __ _(_) |
 / __/ _ \ \ / / _ \ '_ \ _____| '_ ' _ \ / _ \ / _' | '_ ' _ \ / _' | | |
| (_| (_) \ V /  __/ | | |_____| | | | | | (_) | (_| | | | | | | (_| | | |
 \___\___/ \_/ \___|_| |_|     |_| |_| |_|\___/ \__,_|_| |_| |_|\__,_|_|_|
`

// shutdownGrace bounds how long pending channel deletions may run after a
// shutdown signal.
const shutdownGrace = 15 * time.Second

func main() {
	var err error
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			err = runInit()
		case "audit":
			err = runAudit(os.Args[2:])
		case "help", "-h", "--help":
			printUsage()
			return
		default:
			err = fmt.Errorf("unknown command %q (try: init, audit)", os.Args[1])
		}
	} else {
		err = run()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  coven-modmail          run the bot")
	fmt.Println("  coven-modmail init     write a config file interactively")
	fmt.Println("  coven-modmail audit    show the ticket ledger")
}

// loadConfig reads .env (if present) and then the config file or, when
// there is none, MODMAIL_* variables.
func loadConfig() (*config.Config, config.Source, string, error) {
	_ = godotenv.Load()

	configPath := config.ConfigPath()
	cfg, source, err := config.Resolve(configPath)
	if err != nil {
		return nil, source, configPath, fmt.Errorf("loading config from %s: %w", configPath, err)
	}
	return cfg, source, configPath, nil
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	cfg, source, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	dataPath := config.DataPath()
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	if source == config.SourceFile {
		fmt.Printf("Config:     %s\n", configPath)
	} else {
		fmt.Println("Config:     environment (MODMAIL_*)")
	}
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Space:      %s\n", cfg.Modmail.SpaceID)
	green.Print("    ▶ ")
	fmt.Printf("Staff room: %s\n", cfg.Modmail.StaffRoomID)
	if cfg.Database.Path != "" {
		green.Print("    ▶ ")
		fmt.Printf("Ledger:     %s\n", cfg.Database.Path)
	}
	if cfg.Matrix.RecoveryKey != "" {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	fmt.Println()

	// Setup graceful shutdown context first - all operations should respect it
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var audit modmail.AuditSink
	if cfg.Database.Path != "" {
		ledger, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening ticket ledger: %w", err)
		}
		defer ledger.Close()
		audit = ledger
	}

	bridge, err := matrix.NewBridge(matrix.Options{
		Homeserver:    cfg.Matrix.Homeserver,
		Username:      cfg.Matrix.Username,
		Password:      cfg.Matrix.Password,
		UserID:        cfg.Matrix.UserID,
		AccessToken:   cfg.Matrix.AccessToken,
		DeviceID:      cfg.Matrix.DeviceID,
		RecoveryKey:   cfg.Matrix.RecoveryKey,
		CryptoDir:     dataPath,
		SpaceID:       cfg.Modmail.SpaceID,
		StaffRoomID:   cfg.Modmail.StaffRoomID,
		CommandPrefix: cfg.Modmail.CommandPrefix,
		StatusMessage: cfg.Modmail.StatusMessage,
		LogLevel:      cfg.Logging.Level,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	defer bridge.Close()

	if err := bridge.Login(ctx); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	sched := scheduler.New(logger)
	router := modmail.New(modmail.Config{
		SelfID:        bridge.UserID(),
		ParentID:      cfg.Modmail.SpaceID,
		StaffRoleID:   cfg.Modmail.StaffRoomID,
		ChannelPrefix: cfg.Modmail.ChannelPrefix,
		CloseDelay:    cfg.Modmail.CloseDelay,
		AckMarker:     cfg.AckMarker(),
	}, modmail.Deps{
		Platform:  bridge,
		Directory: directory.New(),
		Deferrer:  sched,
		Audit:     audit,
		Logger:    logger,
	})

	logger.Info("starting modmail", "user_id", bridge.UserID())
	runErr := bridge.Run(ctx, router)

	// Channels already scheduled for deletion still get deleted.
	if n := sched.Pending(); n > 0 {
		logger.Info("waiting for scheduled deletions", "pending", n)
	}
	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer drainCancel()
	if err := sched.Wait(drainCtx); err != nil {
		logger.Warn("shutdown before scheduled deletions finished", "pending", sched.Pending(), "error", err)
	}

	logger.Info("stopped", "open_tickets", router.Directory().Len())
	return runErr
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
