// Package oauth manages the YouTube credential material: a file-backed token
// store with optional encryption at rest, credential sources for the API
// client, the authorization-code + PKCE flow, and a background refresher that
// keeps the persisted token alive across long sessions.
package oauth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"

	"github.com/onnwee/livechat-archiver/crypto"
)

// FileStore persists a single oauth2.Token as JSON at Path. When Enc is set,
// the JSON body is encrypted with AES-256-GCM and stored base64-encoded.
// Load detects legacy plaintext files by their leading '{' and reads them
// as-is, so enabling encryption later does not strand an existing token.
type FileStore struct {
	Path string
	Enc  crypto.Encryptor
}

// Load reads and decodes the token. A missing file surfaces as-is so callers
// can branch on os.IsNotExist.
func (s *FileStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	body := string(data)
	if !isPlaintextToken(data) {
		if s.Enc == nil {
			return nil, fmt.Errorf("token file %s is encrypted but no encryption key is configured", s.Path)
		}
		body, err = crypto.DecryptString(s.Enc, strings.TrimSpace(body))
		if err != nil {
			return nil, fmt.Errorf("decrypt token file %s: %w", s.Path, err)
		}
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(body), &tok); err != nil {
		return nil, fmt.Errorf("parse token file %s: %w", s.Path, err)
	}
	return &tok, nil
}

// Save writes the token with 0600 permissions, creating parent directories
// as needed. With an encryptor configured the body is encrypted first.
func (s *FileStore) Save(tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	out := data
	if s.Enc != nil {
		encrypted, err := crypto.EncryptString(s.Enc, string(data))
		if err != nil {
			return fmt.Errorf("encrypt token: %w", err)
		}
		out = []byte(encrypted)
	}
	if dir := filepath.Dir(s.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create token dir: %w", err)
		}
	}
	if err := os.WriteFile(s.Path, out, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// isPlaintextToken reports whether data looks like a raw JSON token rather
// than base64 ciphertext.
func isPlaintextToken(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
