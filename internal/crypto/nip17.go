package crypto

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip44"
)

// KindSeal and KindGiftWrap are the NIP-17 envelope kinds. KindRumorText
// and KindRumorFile are the two inner rumor kinds C5/C9 deal with.
const (
	KindSeal      = 13
	KindGiftWrap  = 1059
	KindRumorText = 14
	KindRumorFile = 15
)

// FuzzWindow is the maximum backdate NIP-17 allows for gift-wrap
// created_at, per spec §9 ("up to two days").
const FuzzWindow = 2 * 24 * time.Hour

// Nip44Signer is the capability this file needs from the engine's
// Signer: nip44 encrypt/decrypt plus event signing, kept local to avoid
// importing the root package.
type Nip44Signer interface {
	NIP44Encrypt(ctx context.Context, peerPubkey, plaintext string) (string, error)
	NIP44Decrypt(ctx context.Context, peerPubkey, ciphertext string) (string, error)
	SignEvent(ctx context.Context, evt *nostr.Event) error
}

// Rumor is the unsigned inner NIP-17 event (per protocol, rumors are
// never signed — sig is simply never populated).
type Rumor struct {
	Kind      int
	CreatedAt nostr.Timestamp
	Tags      nostr.Tags
	Content   string
	Pubkey    string
}

func (r Rumor) toEvent() nostr.Event {
	return nostr.Event{
		PubKey:    r.Pubkey,
		CreatedAt: r.CreatedAt,
		Kind:      r.Kind,
		Tags:      r.Tags,
		Content:   r.Content,
	}
}

// BuildGiftWrap constructs the seal (authored and signed by self via
// signer) then the outer gift-wrap (signed under a freshly generated,
// discarded-after-use ephemeral key), following alltheseas-bugstr's
// manual wrap/seal/rumor construction rather than go-nostr's nip17/nip59
// convenience helpers — see DESIGN.md for why.
//
// now is injected by the caller (never time.Now() directly) so tests can
// fix the fuzz window deterministically; randSource likewise lets tests
// pin the backdate offset.
func BuildGiftWrap(ctx context.Context, signer Nip44Signer, selfPubkey, recipientPubkey string, rumor Rumor, now time.Time, randSource *rand.Rand) (*nostr.Event, error) {
	rumorEvt := rumor.toEvent()
	rumorJSON, err := json.Marshal(rumorEvt)
	if err != nil {
		return nil, fmt.Errorf("marshal rumor: %w", err)
	}

	sealCiphertext, err := signer.NIP44Encrypt(ctx, recipientPubkey, string(rumorJSON))
	if err != nil {
		return nil, fmt.Errorf("seal encrypt: %w", err)
	}
	seal := &nostr.Event{
		PubKey:    selfPubkey,
		CreatedAt: nostr.Timestamp(now.Unix()),
		Kind:      KindSeal,
		Tags:      nostr.Tags{},
		Content:   sealCiphertext,
	}
	if err := signer.SignEvent(ctx, seal); err != nil {
		return nil, fmt.Errorf("sign seal: %w", err)
	}

	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return nil, fmt.Errorf("marshal seal: %w", err)
	}

	ephemeralSK := nostr.GeneratePrivateKey()
	ephemeralPK, err := nostr.GetPublicKey(ephemeralSK)
	if err != nil {
		return nil, fmt.Errorf("derive ephemeral pubkey: %w", err)
	}
	convKey, err := nip44.GenerateConversationKey(recipientPubkey, ephemeralSK)
	if err != nil {
		return nil, fmt.Errorf("ephemeral conversation key: %w", err)
	}
	wrapCiphertext, err := nip44.Encrypt(string(sealJSON), convKey)
	if err != nil {
		return nil, fmt.Errorf("gift wrap encrypt: %w", err)
	}

	fuzzSeconds := randSource.Int63n(int64(FuzzWindow.Seconds()))
	wrap := &nostr.Event{
		PubKey:    ephemeralPK,
		CreatedAt: nostr.Timestamp(now.Add(-time.Duration(fuzzSeconds) * time.Second).Unix()),
		Kind:      KindGiftWrap,
		Tags:      nostr.Tags{{"p", recipientPubkey}},
		Content:   wrapCiphertext,
	}
	if err := wrap.Sign(ephemeralSK); err != nil {
		return nil, fmt.Errorf("sign gift wrap: %w", err)
	}

	return wrap, nil
}

// UnwrappedRumor is what C5's decryption pipeline needs out of a
// gift-wrap: the inner rumor plus the seal's real-sender pubkey and the
// preserved envelope layers for the debug inspector.
type UnwrappedRumor struct {
	Rumor nostr.Event
	Seal  nostr.Event
	Wrap  nostr.Event
}

// UnwrapGiftWrap decrypts the outer gift-wrap with the recipient's
// signer, validates the seal kind, decrypts the seal, and validates the
// rumor kind. Any failure is returned as-is; the caller (internal/decrypt)
// is responsible for turning it into a Message with an error field
// rather than aborting the batch.
func UnwrapGiftWrap(ctx context.Context, signer Nip44Signer, wrap nostr.Event) (*UnwrappedRumor, error) {
	sealJSON, err := signer.NIP44Decrypt(ctx, wrap.PubKey, wrap.Content)
	if err != nil {
		return nil, fmt.Errorf("decrypt gift wrap: %w", err)
	}
	var seal nostr.Event
	if err := json.Unmarshal([]byte(sealJSON), &seal); err != nil {
		return nil, fmt.Errorf("parse seal: %w", err)
	}
	if seal.Kind != KindSeal {
		return nil, fmt.Errorf("unexpected seal kind %d", seal.Kind)
	}

	rumorJSON, err := signer.NIP44Decrypt(ctx, seal.PubKey, seal.Content)
	if err != nil {
		return nil, fmt.Errorf("decrypt seal: %w", err)
	}
	var rumor nostr.Event
	if err := json.Unmarshal([]byte(rumorJSON), &rumor); err != nil {
		return nil, fmt.Errorf("parse rumor: %w", err)
	}
	if rumor.Kind != KindRumorText && rumor.Kind != KindRumorFile {
		return nil, fmt.Errorf("unexpected rumor kind %d", rumor.Kind)
	}

	return &UnwrappedRumor{Rumor: rumor, Seal: seal, Wrap: wrap}, nil
}
