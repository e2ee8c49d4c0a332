package conversation

import (
	"reflect"
	"testing"

	"github.com/pinpox/dmengine/internal/model"
)

func TestComputeConversationIDOrderIndependent(t *testing.T) {
	a := ComputeConversationID([]string{"bb", "aa", "cc"})
	b := ComputeConversationID([]string{"cc", "bb", "aa"})
	if a != b {
		t.Fatalf("ComputeConversationID not order-independent: %q vs %q", a, b)
	}
	if a != "group:aa,bb,cc" {
		t.Fatalf("got %q, want group:aa,bb,cc", a)
	}
}

func TestParseConversationIDStripsLegacySubject(t *testing.T) {
	got := ParseConversationID("group:aa,bb:old-subject-here")
	want := []string{"aa", "bb"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSubjectRuleNewestNonEmptyWins(t *testing.T) {
	messages := []model.Message{
		{Subject: "", Event: model.RawEvent{CreatedAt: 1}},
		{Subject: "planning", Event: model.RawEvent{CreatedAt: 2}},
		{Subject: "lunch", Event: model.RawEvent{CreatedAt: 3}},
	}
	conv := BuildConversation("group:a,b,c", messages, "a")
	if conv.Subject != "lunch" {
		t.Errorf("Subject = %q, want %q", conv.Subject, "lunch")
	}
}

func TestBuildConversationIsKnownAndIsRequest(t *testing.T) {
	messages := []model.Message{
		{SenderPubkey: "bob", Event: model.RawEvent{CreatedAt: 1}},
	}
	conv := BuildConversation("group:me,bob", messages, "me")
	if conv.IsKnown {
		t.Errorf("IsKnown = true, want false (receive-only)")
	}
	if !conv.IsRequest {
		t.Errorf("IsRequest = false, want true")
	}

	messages = append(messages, model.Message{SenderPubkey: "me", Event: model.RawEvent{CreatedAt: 2}})
	conv = BuildConversation("group:me,bob", messages, "me")
	if !conv.IsKnown || conv.IsRequest {
		t.Errorf("after self-send: IsKnown=%v IsRequest=%v, want true/false", conv.IsKnown, conv.IsRequest)
	}
}

func TestDedupeMessagesByIDOrGiftWrapID(t *testing.T) {
	messages := []model.Message{
		{ID: "a", GiftWrapID: "wrap1"},
		{ID: "b", GiftWrapID: "wrap1"}, // same gift wrap, different id -> dup
		{ID: "a", GiftWrapID: ""},      // same id -> dup
		{ID: "c", GiftWrapID: "wrap2"},
	}
	got := DedupeMessages(messages)
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2: %+v", len(got), got)
	}
}

func TestSortMessagesTieBreaksOnID(t *testing.T) {
	messages := []model.Message{
		{ID: "z", Event: model.RawEvent{CreatedAt: 5}},
		{ID: "a", Event: model.RawEvent{CreatedAt: 5}},
		{ID: "m", Event: model.RawEvent{CreatedAt: 1}},
	}
	SortMessages(messages)
	want := []string{"m", "a", "z"}
	var got []string
	for _, m := range messages {
		got = append(got, m.ID)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
