package subscriber

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"

	"github.com/pinpox/dmengine/internal/model"
)

type fakePool struct {
	events []nostr.Event
}

func (f *fakePool) Subscribe(ctx context.Context, relayURLs []string, filter nostr.Filter) (<-chan nostr.Event, error) {
	ch := make(chan nostr.Event, len(f.events))
	for _, evt := range f.events {
		ch <- evt
	}
	close(ch)
	return ch, nil
}

type fakeSigner struct{ privkey string }

func (s *fakeSigner) NIP04Encrypt(ctx context.Context, peer, plaintext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peer, s.privkey)
	if err != nil {
		return "", err
	}
	return nip04.Encrypt(plaintext, shared)
}
func (s *fakeSigner) NIP04Decrypt(ctx context.Context, peer, ciphertext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peer, s.privkey)
	if err != nil {
		return "", err
	}
	return nip04.Decrypt(ciphertext, shared)
}
func (s *fakeSigner) NIP44Encrypt(ctx context.Context, peer, plaintext string) (string, error) {
	return "", nil
}
func (s *fakeSigner) NIP44Decrypt(ctx context.Context, peer, ciphertext string) (string, error) {
	return "", nil
}
func (s *fakeSigner) SignEvent(ctx context.Context, evt *nostr.Event) error {
	return evt.Sign(s.privkey)
}

func TestRunFoldsArrivingEvents(t *testing.T) {
	aliceSK := nostr.GeneratePrivateKey()
	alicePK, _ := nostr.GetPublicKey(aliceSK)
	bobSK := nostr.GeneratePrivateKey()
	bobPK, _ := nostr.GetPublicKey(bobSK)

	alice := &fakeSigner{privkey: aliceSK}
	bob := &fakeSigner{privkey: bobSK}

	ciphertext, err := alice.NIP04Encrypt(context.Background(), bobPK, "hi")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	evt := nostr.Event{ID: "evt1", PubKey: alicePK, Kind: 4, Tags: nostr.Tags{{"p", bobPK}}, Content: ciphertext}
	pool := &fakePool{events: []nostr.Event{evt}}

	var got []model.Message
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err = Run(ctx, pool, []string{"wss://r1"}, BuildFilters(bobPK, 0), bob, bobPK, func(m model.Message) {
		got = append(got, m)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 3 { // one subscribe() call per of the 3 filters, same fake channel contents each
		t.Fatalf("got %d messages, want 3 (one per filter channel)", len(got))
	}
	if got[0].Event.Content != "hi" {
		t.Errorf("Content = %q, want hi", got[0].Event.Content)
	}
}
