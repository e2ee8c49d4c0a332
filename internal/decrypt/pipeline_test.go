package decrypt

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip44"

	"github.com/pinpox/dmengine/internal/crypto"
)

type testSigner struct{ privkey string }

func (s *testSigner) NIP04Encrypt(ctx context.Context, peer, plaintext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peer, s.privkey)
	if err != nil {
		return "", err
	}
	return nip04.Encrypt(plaintext, shared)
}

func (s *testSigner) NIP04Decrypt(ctx context.Context, peer, ciphertext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peer, s.privkey)
	if err != nil {
		return "", err
	}
	return nip04.Decrypt(ciphertext, shared)
}

func (s *testSigner) NIP44Encrypt(ctx context.Context, peer, plaintext string) (string, error) {
	key, err := nip44.GenerateConversationKey(peer, s.privkey)
	if err != nil {
		return "", err
	}
	return nip44.Encrypt(plaintext, key)
}

func (s *testSigner) NIP44Decrypt(ctx context.Context, peer, ciphertext string) (string, error) {
	key, err := nip44.GenerateConversationKey(peer, s.privkey)
	if err != nil {
		return "", err
	}
	return nip44.Decrypt(ciphertext, key)
}

func (s *testSigner) SignEvent(ctx context.Context, evt *nostr.Event) error {
	return evt.Sign(s.privkey)
}

func TestDecryptEventNIP04Success(t *testing.T) {
	aliceSK := nostr.GeneratePrivateKey()
	alicePK, _ := nostr.GetPublicKey(aliceSK)
	bobSK := nostr.GeneratePrivateKey()
	bobPK, _ := nostr.GetPublicKey(bobSK)

	alice := &testSigner{privkey: aliceSK}
	bob := &testSigner{privkey: bobSK}

	ciphertext, err := alice.NIP04Encrypt(context.Background(), bobPK, "hi bob")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	evt := &nostr.Event{
		ID:        "evt1",
		PubKey:    alicePK,
		Kind:      4,
		Tags:      nostr.Tags{{"p", bobPK}},
		Content:   ciphertext,
		CreatedAt: nostr.Timestamp(1000),
	}

	msg := DecryptEvent(context.Background(), bob, evt, bobPK)
	if msg.Error != "" {
		t.Fatalf("unexpected error: %s", msg.Error)
	}
	if msg.Event.Content != "hi bob" {
		t.Errorf("Content = %q, want %q", msg.Event.Content, "hi bob")
	}
	if msg.SenderPubkey != alicePK {
		t.Errorf("SenderPubkey = %q, want alice's pubkey", msg.SenderPubkey)
	}
}

func TestDecryptEventNIP04Failure(t *testing.T) {
	bobSK := nostr.GeneratePrivateKey()
	bobPK, _ := nostr.GetPublicKey(bobSK)
	bob := &testSigner{privkey: bobSK}

	evt := &nostr.Event{
		ID:      "evt2",
		PubKey:  "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		Kind:    4,
		Tags:    nostr.Tags{{"p", bobPK}},
		Content: "not valid ciphertext",
	}

	msg := DecryptEvent(context.Background(), bob, evt, bobPK)
	if msg.Error != "Unable to decrypt" {
		t.Errorf("Error = %q, want %q", msg.Error, "Unable to decrypt")
	}
	if msg.Event.Content != "not valid ciphertext" {
		t.Errorf("content should remain unchanged ciphertext on failure")
	}
}

func TestDecryptEventNIP17GiftWrap(t *testing.T) {
	aliceSK := nostr.GeneratePrivateKey()
	alicePK, _ := nostr.GetPublicKey(aliceSK)
	bobSK := nostr.GeneratePrivateKey()
	bobPK, _ := nostr.GetPublicKey(bobSK)

	alice := &testSigner{privkey: aliceSK}
	bob := &testSigner{privkey: bobSK}

	rumor := crypto.Rumor{
		Kind:      14,
		CreatedAt: nostr.Timestamp(1_700_000_000),
		Tags:      nostr.Tags{{"p", bobPK}, {"subject", "hello"}},
		Content:   "hi",
		Pubkey:    alicePK,
	}
	wrap, err := crypto.BuildGiftWrap(context.Background(), alice, alicePK, bobPK, rumor, time.Unix(1_700_000_000, 0), rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("BuildGiftWrap: %v", err)
	}

	msg := DecryptEvent(context.Background(), bob, wrap, bobPK)
	if msg.Error != "" {
		t.Fatalf("unexpected error: %s", msg.Error)
	}
	if msg.SenderPubkey != alicePK {
		t.Errorf("SenderPubkey = %q, want alice's real pubkey", msg.SenderPubkey)
	}
	if msg.GiftWrapID != wrap.ID {
		t.Errorf("GiftWrapID = %q, want %q", msg.GiftWrapID, wrap.ID)
	}
	if msg.Event.Content != "hi" {
		t.Errorf("Content = %q, want %q", msg.Event.Content, "hi")
	}
	if msg.Subject != "hello" {
		t.Errorf("Subject = %q, want %q", msg.Subject, "hello")
	}
}
