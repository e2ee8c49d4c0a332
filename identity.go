package dmengine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip19"
)

// LoadPrivateKey reads a private key from path (nsec-encoded or raw hex)
// if path is non-empty, otherwise falls back to the DMENGINE_PRIVATE_KEY
// environment variable. Grounded in pinpox-nitrous's nostr.go:loadKeys,
// generalized from its config.PrivateKeyFile + NOSTR_PRIVATE_KEY fallback.
func LoadPrivateKey(path string) (string, error) {
	var raw string
	if path != "" {
		p := path
		if strings.HasPrefix(p, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				p = filepath.Join(home, p[2:])
			}
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("read private key file %q: %w", p, err)
		}
		raw = strings.TrimSpace(string(data))
	}
	if raw == "" {
		raw = os.Getenv("DMENGINE_PRIVATE_KEY")
	}
	if raw == "" {
		return "", fmt.Errorf("no private key: pass a file path or set DMENGINE_PRIVATE_KEY")
	}

	if strings.HasPrefix(raw, "nsec") {
		prefix, val, err := nip19.Decode(raw)
		if err != nil {
			return "", fmt.Errorf("decode nsec: %w", err)
		}
		if prefix != "nsec" {
			return "", fmt.Errorf("expected nsec prefix, got %s", prefix)
		}
		sk, ok := val.(string)
		if !ok {
			return "", fmt.Errorf("nsec decoded to unexpected type")
		}
		return sk, nil
	}
	return raw, nil
}

// SavePrivateKey writes a raw hex private key to path with owner-only
// permissions, mirroring denden-core's internal/identity/store.go.
func SavePrivateKey(path, privkeyHex string) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create identity dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(privkeyHex), 0600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return nil
}
