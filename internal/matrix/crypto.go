// ABOUTME: Optional end-to-end encryption for the modmail bot account
// ABOUTME: Sets up the mautrix crypto helper with a per-account SQLite store and recovery-key verification

package matrix

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/hkdf"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// cryptoSession owns the crypto helper attached to the client.
type cryptoSession struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// setupCrypto enables E2EE on client. The store lives under dataDir, named
// after the account so several bot accounts can share a data directory, and
// is encrypted with a key derived from the recovery key. A failed
// recovery-key verification is logged, not fatal.
func setupCrypto(ctx context.Context, client *mautrix.Client, recoveryKey, dataDir string, logger *slog.Logger) (*cryptoSession, error) {
	logger = logger.With("component", "crypto")
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating crypto directory: %w", err)
	}

	userID := client.UserID.String()
	dbPath := filepath.Join(dataDir, fmt.Sprintf("modmail-crypto-%s.db", accountSlug(userID)))
	logger.Info("setting up encryption", "db", dbPath)

	if stale, err := deviceChanged(dbPath, client.DeviceID.String()); err != nil {
		logger.Debug("could not read stored device id", "error", err)
	} else if stale {
		logger.Warn("crypto store belongs to another device, resetting it")
		removeStore(dbPath)
	}

	key, err := storeKey(userID, recoveryKey)
	if err != nil {
		return nil, err
	}
	helper, err := openCryptoHelper(ctx, client, key, dbPath)
	if err != nil {
		// A rotated recovery key yields a different pickle key, so the old
		// store cannot be read. Start over once with a fresh store.
		if _, statErr := os.Stat(dbPath); statErr != nil {
			return nil, err
		}
		logger.Warn("crypto store unreadable with the current recovery key, resetting it", "error", err)
		removeStore(dbPath)
		if helper, err = openCryptoHelper(ctx, client, key, dbPath); err != nil {
			return nil, err
		}
	}
	client.Crypto = helper

	if recoveryKey != "" {
		machine := helper.Machine()
		if machine == nil {
			logger.Warn("crypto machine not initialized, skipping recovery key")
		} else if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
			logger.Warn("recovery key verification failed, continuing without cross-signing", "error", err)
		} else {
			logger.Info("device verified with recovery key")
		}
	}

	return &cryptoSession{helper: helper, logger: logger}, nil
}

func openCryptoHelper(ctx context.Context, client *mautrix.Client, key []byte, dbPath string) (*cryptohelper.CryptoHelper, error) {
	helper, err := cryptohelper.NewCryptoHelper(client, key, dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		_ = helper.Close()
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	return helper, nil
}

// removeStore deletes a SQLite store along with its WAL files.
func removeStore(dbPath string) {
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		_ = os.Remove(p)
	}
}

func (s *cryptoSession) Close() error {
	if s == nil || s.helper == nil {
		return nil
	}
	return s.helper.Close()
}

// accountSlug names the crypto store after the account as
// "<localpart>_<server>", e.g. @modmail:example.org -> modmail_example.org.
// Characters outside [A-Za-z0-9._-] are dropped.
func accountSlug(userID string) string {
	local, server, _ := strings.Cut(strings.TrimPrefix(userID, "@"), ":")
	keep := func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return -1
	}
	slug := strings.Map(keep, local)
	if server = strings.Map(keep, server); server != "" {
		slug += "_" + server
	}
	return slug
}

// storeKey derives the 32-byte pickle key for the crypto store. The
// recovery key is the secret and the account is the salt, so a copied store
// is useless without the recovery key and one key cannot open another
// account's store.
func storeKey(userID, recoveryKey string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(recoveryKey), []byte(userID), []byte("coven-modmail crypto store"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving crypto store key: %w", err)
	}
	return key, nil
}

// deviceChanged reports whether an existing crypto store was created for a
// different device than the one now logged in.
func deviceChanged(dbPath, deviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var stored string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored != deviceID, nil
}
