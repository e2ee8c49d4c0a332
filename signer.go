package dmengine

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip44"
)

// Signer is the consumed capability described in spec §6: nip04/nip44
// encrypt+decrypt over some private key, and event signing. The engine
// never touches the user's private key itself outside of LocalSigner (the
// only raw keys it handles are the one-shot NIP-17 gift-wrap keys) — every
// other component talks only to this interface, so a remote signer or
// browser-extension-backed implementation drops in unchanged.
type Signer interface {
	PublicKey(ctx context.Context) (string, error)
	NIP04Encrypt(ctx context.Context, peerPubkey, plaintext string) (string, error)
	NIP04Decrypt(ctx context.Context, peerPubkey, ciphertext string) (string, error)
	NIP44Encrypt(ctx context.Context, peerPubkey, plaintext string) (string, error)
	NIP44Decrypt(ctx context.Context, peerPubkey, ciphertext string) (string, error)
	SignEvent(ctx context.Context, evt *nostr.Event) error
}

// LocalSigner is the default Signer backed by a raw private key held in
// process memory. Grounded in denden-core's internal/crypto/nip44.go
// wrapper and girino-tcp-over-nostr's nip44 usage: both wrap go-nostr's
// nip04/nip44 packages directly rather than reimplementing ECDH/AEAD.
type LocalSigner struct {
	privkey string
	pubkey  string
}

// NewLocalSigner derives the public key once so PublicKey never fails
// after construction succeeds.
func NewLocalSigner(privkeyHex string) (*LocalSigner, error) {
	pk, err := nostr.GetPublicKey(privkeyHex)
	if err != nil {
		return nil, newErr(ErrSignerUnavailable, "NewLocalSigner", fmt.Errorf("derive public key: %w", err))
	}
	return &LocalSigner{privkey: privkeyHex, pubkey: pk}, nil
}

func (s *LocalSigner) PublicKey(ctx context.Context) (string, error) {
	return s.pubkey, nil
}

func (s *LocalSigner) NIP04Encrypt(ctx context.Context, peerPubkey, plaintext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peerPubkey, s.privkey)
	if err != nil {
		return "", newErr(ErrSignerUnavailable, "nip04.encrypt", err)
	}
	ciphertext, err := nip04.Encrypt(plaintext, shared)
	if err != nil {
		return "", newErr(ErrSignerUnavailable, "nip04.encrypt", err)
	}
	return ciphertext, nil
}

func (s *LocalSigner) NIP04Decrypt(ctx context.Context, peerPubkey, ciphertext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peerPubkey, s.privkey)
	if err != nil {
		return "", newErr(ErrDecryptFailure, "nip04.decrypt", err)
	}
	plaintext, err := nip04.Decrypt(ciphertext, shared)
	if err != nil {
		return "", newErr(ErrDecryptFailure, "nip04.decrypt", err)
	}
	return plaintext, nil
}

func (s *LocalSigner) NIP44Encrypt(ctx context.Context, peerPubkey, plaintext string) (string, error) {
	key, err := nip44.GenerateConversationKey(peerPubkey, s.privkey)
	if err != nil {
		return "", newErr(ErrSignerUnavailable, "nip44.encrypt", err)
	}
	ciphertext, err := nip44.Encrypt(plaintext, key)
	if err != nil {
		return "", newErr(ErrSignerUnavailable, "nip44.encrypt", err)
	}
	return ciphertext, nil
}

func (s *LocalSigner) NIP44Decrypt(ctx context.Context, peerPubkey, ciphertext string) (string, error) {
	key, err := nip44.GenerateConversationKey(peerPubkey, s.privkey)
	if err != nil {
		return "", newErr(ErrDecryptFailure, "nip44.decrypt", err)
	}
	plaintext, err := nip44.Decrypt(ciphertext, key)
	if err != nil {
		return "", newErr(ErrDecryptFailure, "nip44.decrypt", err)
	}
	return plaintext, nil
}

func (s *LocalSigner) SignEvent(ctx context.Context, evt *nostr.Event) error {
	if err := evt.Sign(s.privkey); err != nil {
		return newErr(ErrSignerUnavailable, "sign_event", err)
	}
	return nil
}

// ephemeralSigner returns a throwaway LocalSigner over a freshly
// generated key. Nothing in the module calls it: the NIP-17 send path
// generates its gift-wrap keys inside internal/crypto.BuildGiftWrap — see
// DESIGN.md's note on ephemeral-key discipline.
func ephemeralSigner() (*LocalSigner, error) {
	sk := nostr.GeneratePrivateKey()
	return NewLocalSigner(sk)
}
