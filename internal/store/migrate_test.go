package store

import (
	"testing"

	"github.com/pinpox/dmengine/internal/model"
)

func TestMigrateAndRepairSenderPubkey(t *testing.T) {
	state := model.NewEmptyState()
	state.ConversationMessages["group:a,b"] = []model.Message{
		{
			ID:             "wrap1",
			ConversationID: "group:a,b",
			Protocol:       model.ProtocolNIP17,
			SealEvent:      &model.RawEvent{Pubkey: "alice"},
		},
		{
			ID:             "evt2",
			ConversationID: "group:a,b",
			Protocol:       model.ProtocolNIP04,
			Event:          model.RawEvent{Pubkey: "bob"},
		},
	}

	migrated := migrateAndRepair(state)
	msgs := migrated.ConversationMessages["group:a,b"]
	if msgs[0].SenderPubkey != "alice" {
		t.Errorf("nip17 repair: got %q, want alice", msgs[0].SenderPubkey)
	}
	if msgs[1].SenderPubkey != "bob" {
		t.Errorf("nip04 repair: got %q, want bob", msgs[1].SenderPubkey)
	}
}

func TestSettingsFingerprintStableUnderRelayOrder(t *testing.T) {
	a := SettingsFingerprint([]string{"wss://b", "wss://a"}, "hybrid")
	b := SettingsFingerprint([]string{"wss://a", "wss://b"}, "hybrid")
	if a != b {
		t.Errorf("fingerprint should be order-independent: %q vs %q", a, b)
	}

	c := SettingsFingerprint([]string{"wss://a", "wss://b"}, "discovery")
	if a == c {
		t.Errorf("fingerprint should differ when relay mode changes")
	}
}
