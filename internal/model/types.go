// Package model holds the DM engine's shared data model (spec §3):
// Message, Conversation, and the root MessagingState, plus the smaller
// records (SyncState, RelayHealth) that travel between components.
// Its only internal dependency is internal/imeta, so C5/C6/C7/C8/C9 can
// all import it without cycles.
package model

import "github.com/pinpox/dmengine/internal/imeta"

// Protocol distinguishes which encryption scheme produced a Message.
type Protocol string

const (
	ProtocolNIP04 Protocol = "nip04"
	ProtocolNIP17 Protocol = "nip17"
)

// RawEvent is a minimal, store-agnostic mirror of a Nostr event — kept
// local (rather than embedding *nostr.Event) so model stays a pure value
// package with no go-nostr dependency, and so cache round-trips through
// encoding/json don't depend on go-nostr's own tag types.
type RawEvent struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string      `json:"content"`
	Sig       string      `json:"sig,omitempty"`
}

// Message is the canonical internal form of a decrypted (or
// undecryptable) direct message, per spec §3.
type Message struct {
	ID             string               `json:"id"`
	Event          RawEvent             `json:"event"`
	ConversationID string               `json:"conversationId"`
	Protocol       Protocol             `json:"protocol"`
	SenderPubkey   string               `json:"senderPubkey"`
	Subject        string               `json:"subject,omitempty"`
	Error          string               `json:"error,omitempty"`
	GiftWrapID     string               `json:"giftWrapId,omitempty"`
	SealEvent      *RawEvent            `json:"sealEvent,omitempty"`
	GiftWrapEvent  *RawEvent            `json:"giftWrapEvent,omitempty"`
	FileMetadata   []imeta.FileMetadata `json:"fileMetadata,omitempty"`
}

// LastMessageSummary is the conversation-list preview derived from the
// newest message in a conversation.
type LastMessageSummary struct {
	Snippet         string `json:"snippet,omitempty"`
	Error           string `json:"error,omitempty"`
	HasAttachments  bool   `json:"hasAttachments"`
}

// Conversation is the per-conversation metadata record, keyed by a
// stable id derived from sorted unique participant pubkeys. Subject is
// mutable metadata, never part of identity (spec §9).
type Conversation struct {
	ID                 string              `json:"id"`
	ParticipantPubkeys []string            `json:"participantPubkeys"`
	Subject            string              `json:"subject,omitempty"`
	LastActivity        int64              `json:"lastActivity"`
	LastReadAt           int64              `json:"lastReadAt"`
	HasNip04            bool               `json:"hasNip04"`
	HasNip17            bool               `json:"hasNip17"`
	IsKnown              bool              `json:"isKnown"`
	IsRequest             bool             `json:"isRequest"`
	LastMessage           LastMessageSummary `json:"lastMessage"`
	HasDecryptionErrors    bool             `json:"hasDecryptionErrors"`
}

// SyncState tracks bootstrap/pagination progress.
type SyncState struct {
	LastCacheTime     *int64          `json:"lastCacheTime,omitempty"`
	QueriedRelays     map[string]bool `json:"queriedRelays,omitempty"`
	QueryLimitReached bool            `json:"queryLimitReached"`
}

// RelayHealth is the per-relay outcome tally accumulated across a
// bootstrap or gap-fill run.
type RelayHealth struct {
	LastQuerySucceeded bool   `json:"lastQuerySucceeded"`
	LastQueryError     string `json:"lastQueryError,omitempty"`
	IsBlocked          bool   `json:"isBlocked"`
}

// MessagingState is the single root record persisted per identity.
type MessagingState struct {
	Participants         map[string]ParticipantSnapshot `json:"participants"`
	ConversationMetadata  map[string]Conversation        `json:"conversationMetadata"`
	ConversationMessages  map[string][]Message            `json:"conversationMessages"`
	SyncState             SyncState                      `json:"syncState"`
	RelayInfo             map[string]RelayHealth          `json:"relayInfo"`
}

// ParticipantSnapshot is the persisted shape of a registry.Participant;
// kept here (rather than importing internal/registry) to avoid a
// model<->registry import cycle, since registry doesn't need to know
// about persisted state shape.
type ParticipantSnapshot struct {
	Pubkey        string   `json:"pubkey"`
	DerivedRelays []string `json:"derivedRelays"`
	BlockedRelays []string `json:"blockedRelays"`
	LastFetched   int64    `json:"lastFetched"`
}

// NewEmptyState returns a MessagingState satisfying the "every map
// initialized" invariant the store's load-time validation checks for.
func NewEmptyState() MessagingState {
	return MessagingState{
		Participants:         make(map[string]ParticipantSnapshot),
		ConversationMetadata: make(map[string]Conversation),
		ConversationMessages: make(map[string][]Message),
		SyncState:            SyncState{QueriedRelays: make(map[string]bool)},
		RelayInfo:            make(map[string]RelayHealth),
	}
}
