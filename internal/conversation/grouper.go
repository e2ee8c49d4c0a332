// Package conversation computes conversation ids, groups messages into
// conversations, and derives per-conversation metadata (C6 of the DM
// engine).
package conversation

import (
	"sort"
	"strings"

	"github.com/pinpox/dmengine/internal/model"
)

// ComputeConversationID returns the stable id for a participant set:
// "group:" + sorted-unique(participants).join(","), independent of
// input order.
func ComputeConversationID(participants []string) string {
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

// ParseConversationID is ComputeConversationID's inverse. It tolerates a
// legacy "group:pks:subject" trailing segment (older caches embedded the
// subject in the id) by stripping everything after the second colon.
func ParseConversationID(id string) []string {
	rest := strings.TrimPrefix(id, "group:")
	if idx := strings.Index(rest, ":"); idx >= 0 {
		rest = rest[:idx]
	}
	if rest == "" {
		return nil
	}
	return strings.Split(rest, ",")
}

// GroupMessagesIntoConversations buckets messages by ConversationID.
func GroupMessagesIntoConversations(messages []model.Message) map[string][]model.Message {
	out := make(map[string][]model.Message)
	for _, m := range messages {
		out[m.ConversationID] = append(out[m.ConversationID], m)
	}
	return out
}

// BuildConversation derives a Conversation record from its bucketed,
// already-sorted-by-created_at messages and the caller's own pubkey.
func BuildConversation(id string, messages []model.Message, myPubkey string) model.Conversation {
	conv := model.Conversation{
		ID:                 id,
		ParticipantPubkeys: ParseConversationID(id),
	}
	if len(messages) == 0 {
		return conv
	}

	conv.Subject = subjectRule(messages)

	for _, m := range messages {
		if m.SenderPubkey == myPubkey {
			conv.IsKnown = true
		}
		if m.Error != "" {
			conv.HasDecryptionErrors = true
		}
		switch m.Protocol {
		case model.ProtocolNIP04:
			conv.HasNip04 = true
		case model.ProtocolNIP17:
			conv.HasNip17 = true
		}
		if m.Event.CreatedAt > conv.LastActivity {
			conv.LastActivity = m.Event.CreatedAt
		}
	}
	conv.IsRequest = !conv.IsKnown

	newest := messages[len(messages)-1]
	conv.LastMessage = model.LastMessageSummary{
		Snippet:        newest.Event.Content,
		Error:          newest.Error,
		HasAttachments: len(newest.FileMetadata) > 0,
	}

	return conv
}

// subjectRule implements spec §4.6: iterate messages newest-first; the
// first non-empty subject wins.
func subjectRule(messages []model.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Subject != "" {
			return messages[i].Subject
		}
	}
	return ""
}

// SortMessages orders messages by created_at ascending, tie-broken by id
// lexicographically, per spec §5's ordering guarantee.
func SortMessages(messages []model.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].Event.CreatedAt != messages[j].Event.CreatedAt {
			return messages[i].Event.CreatedAt < messages[j].Event.CreatedAt
		}
		return messages[i].ID < messages[j].ID
	})
}

// DedupeMessages removes duplicates using the dual-identity predicate:
// two messages collide iff they share Id or both have a non-empty
// GiftWrapID and those are equal.
func DedupeMessages(messages []model.Message) []model.Message {
	seenIDs := make(map[string]bool, len(messages))
	seenWraps := make(map[string]bool, len(messages))
	var out []model.Message
	for _, m := range messages {
		if seenIDs[m.ID] {
			continue
		}
		if m.GiftWrapID != "" && seenWraps[m.GiftWrapID] {
			continue
		}
		seenIDs[m.ID] = true
		if m.GiftWrapID != "" {
			seenWraps[m.GiftWrapID] = true
		}
		out = append(out, m)
	}
	return out
}
