package store

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/pinpox/dmengine/internal/imeta"
	"github.com/pinpox/dmengine/internal/model"
)

// SchemaVersion is the persisted layout version named in spec §6.
const SchemaVersion = 2

// migrateAndRepair best-effort-repairs records loaded from an older
// cache shape: missing SenderPubkey is derived from the event itself,
// and kind-15 file metadata is re-parsed from imeta tags when the
// cached shape predates structured FileMetadata.
func migrateAndRepair(state model.MessagingState) model.MessagingState {
	const kindRumorFile = 15
	for convID, messages := range state.ConversationMessages {
		for i, m := range messages {
			if m.SenderPubkey == "" {
				messages[i].SenderPubkey = repairSenderPubkey(m)
			}
			if m.Event.Kind == kindRumorFile && len(m.FileMetadata) == 0 {
				messages[i].FileMetadata = repairFileMetadata(m)
			}
		}
		state.ConversationMessages[convID] = messages
	}
	return state
}

func repairSenderPubkey(m model.Message) string {
	if m.Protocol == model.ProtocolNIP17 && m.SealEvent != nil {
		return m.SealEvent.Pubkey
	}
	return m.Event.Pubkey
}

func repairFileMetadata(m model.Message) []imeta.FileMetadata {
	fms := imeta.ParseAllTags(m.Event.Tags)
	if len(fms) > 0 {
		return fms
	}
	if fm := imeta.ParseLegacyFlatTags(m.Event.Tags); fm != nil {
		return []imeta.FileMetadata{*fm}
	}
	return nil
}

// SettingsFingerprint hashes the settings that determine the query plan
// (discovery relays + relay mode). A changed fingerprint between
// sessions doesn't invalidate the cached messages — it only forces a
// fresh bootstrap on top of them (spec §9).
func SettingsFingerprint(discoveryRelays []string, relayMode string) string {
	sorted := append([]string(nil), discoveryRelays...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",") + "|" + relayMode))
	return hex.EncodeToString(sum[:])
}
