package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// AttachmentAlgorithm names the only AEAD the send/decrypt pipelines
// support today. Per spec §9, unknown algorithms must be rejected by
// name rather than silently mishandled, and the crypto surface is
// structured (one function pair per algorithm) so more can be added
// without touching the pipeline.
const AttachmentAlgorithm = "aes-gcm"

// EncryptedAttachment is the result of encrypting a file for upload:
// ciphertext plus the parameters an imeta tag needs to describe it.
type EncryptedAttachment struct {
	Ciphertext  []byte
	KeyBase64   string
	NonceBase64 string
	SHA256Hex   string
}

// EncryptAttachment generates a random 256-bit key and 12-byte nonce and
// seals plaintext with AES-GCM, computing the ciphertext's SHA-256 for
// the integrity tag.
func EncryptAttachment(plaintext []byte) (*EncryptedAttachment, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate attachment key: %w", err)
	}
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate attachment nonce: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	sum := sha256.Sum256(ciphertext)

	return &EncryptedAttachment{
		Ciphertext:  ciphertext,
		KeyBase64:   base64.StdEncoding.EncodeToString(key),
		NonceBase64: base64.StdEncoding.EncodeToString(nonce),
		SHA256Hex:   hex.EncodeToString(sum[:]),
	}, nil
}

// DecryptAttachment verifies the ciphertext's SHA-256 (when expectedSHA256Hex
// is non-empty) before decrypting with AES-GCM. keyEncoded/nonceEncoded
// accept either hex or base64 — normalized internally since both show up
// across clients.
func DecryptAttachment(ciphertext []byte, algorithm, keyEncoded, nonceEncoded, expectedSHA256Hex string) ([]byte, error) {
	if algorithm != AttachmentAlgorithm {
		return nil, fmt.Errorf("unsupported attachment algorithm %q, only %q is supported", algorithm, AttachmentAlgorithm)
	}

	if expectedSHA256Hex != "" {
		sum := sha256.Sum256(ciphertext)
		if hex.EncodeToString(sum[:]) != expectedSHA256Hex {
			return nil, fmt.Errorf("attachment integrity mismatch")
		}
	}

	key, err := decodeHexOrBase64(keyEncoded)
	if err != nil {
		return nil, fmt.Errorf("decode attachment key: %w", err)
	}
	nonce, err := decodeHexOrBase64(nonceEncoded)
	if err != nil {
		return nil, fmt.Errorf("decode attachment nonce: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt attachment: %w", err)
	}
	return plaintext, nil
}

// NormalizeToBase64 converts an even-length hex string to base64,
// passing already-base64 values through unchanged (spec §4.5's
// file-metadata parse rule). The imeta parser and the cache repair in
// internal/store do not call it; stored keys/nonces keep the encoding
// they arrived in.
func NormalizeToBase64(encoded string) string {
	if decoded, err := hex.DecodeString(encoded); err == nil && len(encoded)%2 == 0 {
		return base64.StdEncoding.EncodeToString(decoded)
	}
	return encoded
}

func decodeHexOrBase64(encoded string) ([]byte, error) {
	if len(encoded)%2 == 0 {
		if decoded, err := hex.DecodeString(encoded); err == nil {
			return decoded, nil
		}
	}
	return base64.StdEncoding.DecodeString(encoded)
}
