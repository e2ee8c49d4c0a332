// Package crypto implements the NIP-04 legacy decrypt path, the NIP-17
// gift-wrap/seal/rumor construction and unwrapping, and AES-GCM
// attachment encryption (C5/C9 of the DM engine).
package crypto

import (
	"context"
	"fmt"
)

// Nip04Signer is the narrow capability this file needs from the engine's
// Signer, kept local so this package never imports the root dmengine
// package.
type Nip04Signer interface {
	NIP04Encrypt(ctx context.Context, peerPubkey, plaintext string) (string, error)
	NIP04Decrypt(ctx context.Context, peerPubkey, ciphertext string) (string, error)
}

// DecryptNIP04 wraps signer.nip04.decrypt with the op-name error context
// the rest of the pipeline expects. Any failure should surface as
// ErrDecryptFailure at the caller (internal/decrypt), not abort the
// batch — this function just returns the error.
func DecryptNIP04(ctx context.Context, signer Nip04Signer, peerPubkey, ciphertext string) (string, error) {
	plaintext, err := signer.NIP04Decrypt(ctx, peerPubkey, ciphertext)
	if err != nil {
		return "", fmt.Errorf("nip04 decrypt: %w", err)
	}
	return plaintext, nil
}

// EncryptNIP04 wraps signer.nip04.encrypt for the send pipeline.
func EncryptNIP04(ctx context.Context, signer Nip04Signer, peerPubkey, plaintext string) (string, error) {
	ciphertext, err := signer.NIP04Encrypt(ctx, peerPubkey, plaintext)
	if err != nil {
		return "", fmt.Errorf("nip04 encrypt: %w", err)
	}
	return ciphertext, nil
}
