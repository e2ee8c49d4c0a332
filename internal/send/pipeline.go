// Package send constructs and publishes outbound NIP-04 and NIP-17
// messages, including per-recipient gift-wraps and imeta tags for
// attachments that the caller has already encrypted and uploaded (C9 of
// the DM engine). State names the outbound message states; SendNIP04 and
// SendNIP17 run start to finish in one call and do not record or report
// which State a message is in.
package send

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/pinpox/dmengine/internal/crypto"
	"github.com/pinpox/dmengine/internal/imeta"
)

// State is the outbound message state machine of spec §4.9.
type State string

const (
	StateDraft      State = "draft"
	StateComposed   State = "composed"
	StateEncrypted  State = "encrypted"
	StateSigned     State = "signed"
	StatePublishing State = "publishing"
	StatePublished  State = "published"
	StateFailed     State = "failed"
)

// Signer is the union this package needs from the engine's Signer.
type Signer interface {
	crypto.Nip04Signer
	crypto.Nip44Signer
	PublicKey(ctx context.Context) (string, error)
}

// Publisher is the narrow publish capability this package depends on.
type Publisher interface {
	Publish(ctx context.Context, relayURLs []string, event nostr.Event) map[string]error
}

// Attachment is a pre-encrypted file ready to be described in an imeta
// tag and uploaded by the caller's BlobHost before Send is called.
type Attachment struct {
	URL         string
	MimeType    string
	Size        string
	Name        string
	Dim         string
	Algorithm   string
	KeyBase64   string
	NonceBase64 string
	SHA256Hex   string
}

func (a Attachment) toFileMetadata() imeta.FileMetadata {
	return imeta.FileMetadata{
		URL: a.URL, MimeType: a.MimeType, Size: a.Size, Name: a.Name, Dim: a.Dim,
		Algorithm: a.Algorithm, KeyBase64: a.KeyBase64, NonceBase64: a.NonceBase64, Hash: a.SHA256Hex,
	}
}

// NIP04Request is one outbound legacy DM.
type NIP04Request struct {
	Recipient      string
	Plaintext      string
	Attachments    []Attachment
	RecipientRelays []string
	SenderRelays    []string
}

// SendNIP04 implements the NIP-04 send flow of spec §4.9: encrypt,
// tag, sign, publish to the union of sender and recipient relays.
func SendNIP04(ctx context.Context, signer Signer, publisher Publisher, req NIP04Request) (*nostr.Event, error) {
	ciphertext, err := crypto.EncryptNIP04(ctx, signer, req.Recipient, req.Plaintext)
	if err != nil {
		return nil, err
	}

	selfPubkey, err := signer.PublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve self pubkey: %w", err)
	}

	tags := nostr.Tags{{"p", req.Recipient}}
	for _, a := range req.Attachments {
		tags = append(tags, append([]string{"imeta"}, imeta.BuildTag(a.toFileMetadata())...))
	}

	evt := &nostr.Event{
		PubKey:    selfPubkey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      4,
		Tags:      tags,
		Content:   ciphertext,
	}
	if err := signer.SignEvent(ctx, evt); err != nil {
		return nil, fmt.Errorf("sign nip04 event: %w", err)
	}

	relays := unionRelays(req.SenderRelays, req.RecipientRelays)
	results := publisher.Publish(ctx, relays, *evt)
	if allFailed(results) {
		return nil, fmt.Errorf("publish failure: message not delivered to any relay")
	}
	return evt, nil
}

// NIP17Request is one outbound NIP-17 message, possibly to a group.
type NIP17Request struct {
	Recipients      []string // does not need to include self; SendNIP17 always adds a self-addressed gift-wrap
	Plaintext       string
	Subject         string
	Attachments     []Attachment
	RelaysByRecipient map[string][]string // recipient pubkey -> inbox relay URLs
}

// SendNIP17Result carries the stable message id (the self-addressed
// gift-wrap's id, per spec §4.9 step 4) plus per-recipient publish
// outcomes.
type SendNIP17Result struct {
	MessageID    string
	PerRecipient map[string]error
}

// SendNIP17 implements the NIP-17 send flow: one rumor, one seal per
// recipient (all authored by self), one gift-wrap per recipient signed
// under a fresh ephemeral key with a fuzzed timestamp, published only to
// that recipient's inbox relays. The self-addressed gift-wrap lets the
// sender's own client sync its own sent message.
func SendNIP17(ctx context.Context, signer Signer, publisher Publisher, req NIP17Request, randSource *rand.Rand) (*SendNIP17Result, error) {
	selfPubkey, err := signer.PublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve self pubkey: %w", err)
	}

	kind := crypto.KindRumorText
	if len(req.Attachments) > 0 {
		kind = crypto.KindRumorFile
	}

	tags := nostr.Tags{}
	for _, r := range req.Recipients {
		tags = append(tags, []string{"p", r})
	}
	if req.Subject != "" {
		tags = append(tags, []string{"subject", req.Subject})
	}
	for _, a := range req.Attachments {
		tags = append(tags, append([]string{"imeta"}, imeta.BuildTag(a.toFileMetadata())...))
	}

	now := time.Now()
	rumor := crypto.Rumor{
		Kind:      kind,
		CreatedAt: nostr.Timestamp(now.Unix()),
		Tags:      tags,
		Content:   req.Plaintext,
		Pubkey:    selfPubkey,
	}

	allRecipients := append(append([]string{}, req.Recipients...), selfPubkey)
	result := &SendNIP17Result{PerRecipient: make(map[string]error, len(allRecipients))}

	var selfWrapID string
	otherFailures := 0
	otherCount := 0
	for _, recipient := range allRecipients {
		wrap, err := crypto.BuildGiftWrap(ctx, signer, selfPubkey, recipient, rumor, now, randSource)
		if err != nil {
			result.PerRecipient[recipient] = fmt.Errorf("build gift wrap: %w", err)
			if recipient != selfPubkey {
				otherCount++
				otherFailures++
			}
			continue
		}

		relays := req.RelaysByRecipient[recipient]
		pubResults := publisher.Publish(ctx, relays, *wrap)
		if allFailed(pubResults) {
			result.PerRecipient[recipient] = fmt.Errorf("publish failed on all relays for recipient")
			if recipient != selfPubkey {
				otherCount++
				otherFailures++
			}
		} else {
			result.PerRecipient[recipient] = nil
			if recipient != selfPubkey {
				otherCount++
			}
		}

		if recipient == selfPubkey {
			selfWrapID = wrap.ID
		}
	}

	if otherCount > 0 && otherFailures == otherCount {
		return result, fmt.Errorf("not delivered: all recipient gift-wraps failed")
	}

	result.MessageID = selfWrapID
	return result, nil
}

func unionRelays(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, r := range append(append([]string{}, a...), b...) {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func allFailed(results map[string]error) bool {
	if len(results) == 0 {
		return true
	}
	for _, err := range results {
		if err == nil {
			return false
		}
	}
	return true
}
