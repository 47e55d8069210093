// Package main provides a CLI tool to migrate a plaintext token file to
// encrypted storage (AES-256-GCM).
//
// The daemon reads both forms, so running this is optional; it exists for
// operators who enable ENCRYPTION_KEY after a token was already saved.
//
// Usage:
//
//	encrypt-token [--dry-run]
//
// Flags:
//
//	--dry-run: Show what would be migrated without making changes
//
// Environment Variables:
//
//	YT_TOKEN_FILE: token file to migrate (default data/youtube_token.json)
//	ENCRYPTION_KEY: Base64-encoded 32-byte encryption key (required)
//
// Example:
//
//	export ENCRYPTION_KEY="$(openssl rand -base64 32)"
//	./encrypt-token --dry-run
//	./encrypt-token
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"github.com/onnwee/livechat-archiver/config"
	"github.com/onnwee/livechat-archiver/crypto"
	"github.com/onnwee/livechat-archiver/oauth"
)

func main() {
	// Parse command-line flags
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	flag.Parse()

	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.EncryptionKey == "" {
		slog.Error("ENCRYPTION_KEY environment variable is required for migration")
		os.Exit(1)
	}

	// Initialize encryptor
	encryptor, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
	if err != nil {
		slog.Error("failed to initialize encryptor", slog.Any("error", err))
		os.Exit(1)
	}

	if err := encryptTokenFile(cfg.TokenFile, encryptor, *dryRun); err != nil {
		slog.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("migration completed successfully")
}

// encryptTokenFile rewrites a plaintext token file in encrypted form. An
// already-encrypted file is verified against the key and left untouched.
func encryptTokenFile(path string, encryptor crypto.Encryptor, dryRun bool) error {
	raw, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}

	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		// Already ciphertext; prove the key can open it before declaring success.
		if _, err := crypto.DecryptString(encryptor, strings.TrimSpace(string(raw))); err != nil {
			return fmt.Errorf("file is already encrypted, but not with this key: %w", err)
		}
		slog.Info("token file already encrypted; nothing to do", slog.String("path", path))
		return nil
	}

	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return fmt.Errorf("parse token file: %w", err)
	}

	if dryRun {
		slog.Info("would encrypt token file (dry-run)",
			slog.String("path", path),
			slog.Bool("refresh_token_present", tok.RefreshToken != ""))
		return nil
	}

	store := &oauth.FileStore{Path: path, Enc: encryptor}
	if err := store.Save(&tok); err != nil {
		return fmt.Errorf("write encrypted token file: %w", err)
	}

	slog.Info("token file encrypted", slog.String("path", path))
	return nil
}
