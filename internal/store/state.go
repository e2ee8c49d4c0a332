package store

import (
	"fmt"

	"github.com/pinpox/dmengine/internal/conversation"
	"github.com/pinpox/dmengine/internal/model"
)

const dmCacheStore = "dm-cache"

func dmCacheKey(pubkey string) string { return "dm-cache:" + pubkey }

// LoadState loads and validates the per-identity MessagingState record.
// A missing record is not an error — it's cold start, and the caller
// gets an empty state. A record present but missing required top-level
// fields is CacheCorrupt: ignored, forcing a cold-start bootstrap, but
// not returned as a fatal error (spec §7).
func (kv *KV) LoadState(pubkey string) (model.MessagingState, error) {
	var raw rawMessagingState
	found, err := kv.GetJSON(dmCacheStore, dmCacheKey(pubkey), &raw)
	if err != nil {
		// Invalid stored shape: cache ignored, cold-start forced.
		return model.NewEmptyState(), nil
	}
	if !found {
		return model.NewEmptyState(), nil
	}
	if !raw.valid() {
		return model.NewEmptyState(), nil
	}
	return migrateAndRepair(raw.toState()), nil
}

// SaveState persists the root record for one identity.
func (kv *KV) SaveState(pubkey string, state model.MessagingState) error {
	if err := kv.PutJSON(dmCacheStore, dmCacheKey(pubkey), state); err != nil {
		return fmt.Errorf("save messaging state for %s: %w", pubkey, err)
	}
	return nil
}

// rawMessagingState lets LoadState detect a record that's missing
// required top-level fields (e.g. an older or hand-edited cache) before
// committing to the typed model.MessagingState shape.
type rawMessagingState struct {
	Participants         map[string]model.ParticipantSnapshot `json:"participants"`
	ConversationMetadata map[string]model.Conversation        `json:"conversationMetadata"`
	ConversationMessages map[string][]model.Message           `json:"conversationMessages"`
	SyncState            *model.SyncState                     `json:"syncState"`
	RelayInfo            map[string]model.RelayHealth          `json:"relayInfo"`
}

func (r rawMessagingState) valid() bool {
	return r.Participants != nil &&
		r.ConversationMetadata != nil &&
		r.ConversationMessages != nil &&
		r.SyncState != nil &&
		r.RelayInfo != nil
}

func (r rawMessagingState) toState() model.MessagingState {
	return model.MessagingState{
		Participants:         r.Participants,
		ConversationMetadata: r.ConversationMetadata,
		ConversationMessages: r.ConversationMessages,
		SyncState:            *r.SyncState,
		RelayInfo:            r.RelayInfo,
	}
}

// MergeState implements spec §4.7's merge order: messages are
// dedup-and-sorted per conversation, metadata folds lastReadAt/isKnown
// monotonically with new winning elsewhere, relay info lets new win, and
// untouched old conversations are carried forward unchanged.
func MergeState(old, incoming model.MessagingState) model.MessagingState {
	merged := model.NewEmptyState()

	convIDs := make(map[string]bool, len(old.ConversationMessages)+len(incoming.ConversationMessages))
	for id := range old.ConversationMessages {
		convIDs[id] = true
	}
	for id := range incoming.ConversationMessages {
		convIDs[id] = true
	}

	for id := range convIDs {
		combined := append(append([]model.Message{}, old.ConversationMessages[id]...), incoming.ConversationMessages[id]...)
		combined = conversation.DedupeMessages(combined)
		conversation.SortMessages(combined)
		merged.ConversationMessages[id] = combined
	}

	metaIDs := make(map[string]bool, len(old.ConversationMetadata)+len(incoming.ConversationMetadata))
	for id := range old.ConversationMetadata {
		metaIDs[id] = true
	}
	for id := range incoming.ConversationMetadata {
		metaIDs[id] = true
	}
	for id := range metaIDs {
		oldConv, hasOld := old.ConversationMetadata[id]
		newConv, hasNew := incoming.ConversationMetadata[id]
		switch {
		case hasOld && hasNew:
			merged.ConversationMetadata[id] = mergeConversation(oldConv, newConv)
		case hasNew:
			merged.ConversationMetadata[id] = newConv
		default:
			merged.ConversationMetadata[id] = oldConv
		}
	}

	merged.Participants = mergeParticipantSnapshots(old.Participants, incoming.Participants)
	merged.RelayInfo = mergeRelayInfo(old.RelayInfo, incoming.RelayInfo)
	merged.SyncState = incoming.SyncState

	return merged
}

func mergeConversation(old, incoming model.Conversation) model.Conversation {
	merged := incoming
	if old.LastReadAt > merged.LastReadAt {
		merged.LastReadAt = old.LastReadAt
	}
	merged.IsKnown = old.IsKnown || incoming.IsKnown
	if merged.IsKnown {
		merged.IsRequest = false
	}
	return merged
}

func mergeParticipantSnapshots(old, incoming map[string]model.ParticipantSnapshot) map[string]model.ParticipantSnapshot {
	out := make(map[string]model.ParticipantSnapshot, len(old)+len(incoming))
	for k, v := range old {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

func mergeRelayInfo(old, incoming map[string]model.RelayHealth) map[string]model.RelayHealth {
	out := make(map[string]model.RelayHealth, len(old)+len(incoming))
	for k, v := range old {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

// AddMessageToState folds one newly arrived message into state without
// rebuilding every conversation (C8's incremental fold). Returns the
// same state value with the affected conversation updated in place;
// idempotent — applying the same message twice is a no-op the second
// time, since DedupeMessages drops the repeat.
func AddMessageToState(state model.MessagingState, msg model.Message, myPubkey string) model.MessagingState {
	existing := state.ConversationMessages[msg.ConversationID]
	combined := conversation.DedupeMessages(append(append([]model.Message{}, existing...), msg))
	if len(combined) == len(existing) {
		return state // duplicate, nothing changed
	}
	conversation.SortMessages(combined)
	state.ConversationMessages[msg.ConversationID] = combined
	conv := conversation.BuildConversation(msg.ConversationID, combined, myPubkey)
	if old, ok := state.ConversationMetadata[msg.ConversationID]; ok {
		conv = mergeConversation(old, conv)
	}
	state.ConversationMetadata[msg.ConversationID] = conv
	return state
}
