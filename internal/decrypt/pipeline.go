// Package decrypt dispatches each raw event on its kind and produces a
// Message, unwrapping NIP-04 ciphertext or NIP-17 gift-wrap/seal/rumor
// as needed (C5 of the DM engine). A failure on one event never aborts
// the batch — it becomes a Message carrying Error instead.
package decrypt

import (
	"context"
	"sort"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/pinpox/dmengine/internal/crypto"
	"github.com/pinpox/dmengine/internal/imeta"
	"github.com/pinpox/dmengine/internal/model"
)

const (
	kindNIP04    = 4
	kindGiftWrap = 1059
)

// Signer is the union of nip04 and nip44 capability this pipeline needs.
type Signer interface {
	crypto.Nip04Signer
	crypto.Nip44Signer
}

// DecryptEvent dispatches evt on its kind and returns the resulting
// Message. myPubkey identifies self so the NIP-04 peer can be picked out
// of the p-tag vs author.
func DecryptEvent(ctx context.Context, signer Signer, evt *nostr.Event, myPubkey string) model.Message {
	switch evt.Kind {
	case kindNIP04:
		return decryptNIP04(ctx, signer, evt, myPubkey)
	case kindGiftWrap:
		return decryptNIP17(ctx, signer, evt, myPubkey)
	default:
		return model.Message{
			ID:    evt.ID,
			Event: toRawEvent(evt),
			Error: "unsupported event kind",
		}
	}
}

func decryptNIP04(ctx context.Context, signer Signer, evt *nostr.Event, myPubkey string) model.Message {
	peer := findPTag(evt.Tags)
	if evt.PubKey != myPubkey {
		peer = evt.PubKey
	}

	msg := model.Message{
		ID:             evt.ID,
		Event:          toRawEvent(evt),
		ConversationID: computeConversationID([]string{evt.PubKey, findPTag(evt.Tags)}),
		Protocol:       model.ProtocolNIP04,
		SenderPubkey:   evt.PubKey,
	}

	plaintext, err := crypto.DecryptNIP04(ctx, signer, peer, evt.Content)
	if err != nil {
		msg.Error = "Unable to decrypt"
		return msg
	}
	msg.Event.Content = plaintext
	return msg
}

func decryptNIP17(ctx context.Context, signer Signer, wrap *nostr.Event, myPubkey string) model.Message {
	msg := model.Message{
		ID:            wrap.ID,
		Event:         toRawEvent(wrap),
		Protocol:      model.ProtocolNIP17,
		GiftWrapID:    wrap.ID,
		GiftWrapEvent: rawEventPtr(wrap),
	}

	unwrapped, err := crypto.UnwrapGiftWrap(ctx, signer, *wrap)
	if err != nil {
		msg.Error = "Unable to decrypt"
		return msg
	}

	seal := unwrapped.Seal
	rumor := unwrapped.Rumor

	msg.SenderPubkey = seal.PubKey
	msg.SealEvent = rawEventPtr(&seal)
	msg.Event = toRawEvent(&rumor)

	participants := []string{seal.PubKey}
	for _, tag := range rumor.Tags {
		if len(tag) >= 2 && tag[0] == "p" {
			participants = append(participants, tag[1])
		}
	}
	msg.ConversationID = computeConversationID(participants)

	for _, tag := range rumor.Tags {
		if len(tag) >= 2 && tag[0] == "subject" {
			msg.Subject = tag[1]
			break
		}
	}

	const kindRumorFile = 15
	if rumor.Kind == kindRumorFile {
		fms := imeta.ParseAllTags(rumor.Tags)
		if len(fms) == 0 {
			if fm := imeta.ParseLegacyFlatTags(rumor.Tags); fm != nil {
				fms = []imeta.FileMetadata{*fm}
			}
		}
		msg.FileMetadata = fms
	}

	return msg
}

func findPTag(tags nostr.Tags) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == "p" {
			return tag[1]
		}
	}
	return ""
}

func toRawEvent(evt *nostr.Event) model.RawEvent {
	tags := make([][]string, len(evt.Tags))
	for i, t := range evt.Tags {
		tags[i] = []string(t)
	}
	return model.RawEvent{
		ID:        evt.ID,
		Pubkey:    evt.PubKey,
		CreatedAt: int64(evt.CreatedAt),
		Kind:      evt.Kind,
		Tags:      tags,
		Content:   evt.Content,
		Sig:       evt.Sig,
	}
}

func rawEventPtr(evt *nostr.Event) *model.RawEvent {
	r := toRawEvent(evt)
	return &r
}

// computeConversationID mirrors internal/conversation.ComputeConversationID;
// it is a local copy rather than an import, so the two must be kept in
// step.
func computeConversationID(participants []string) string {
	seen := make(map[string]bool, len(participants))
	var unique []string
	for _, p := range participants {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		unique = append(unique, p)
	}
	sort.Strings(unique)
	return "group:" + strings.Join(unique, ",")
}
