package relayset

import (
	"reflect"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		lists     RelayLists
		mode      Mode
		discovery []string
		want      Derived
	}{
		{
			name:      "discovery mode ignores published lists",
			lists:     RelayLists{Outbox: []RawTag{{"r", "wss://outbox.example"}}},
			mode:      ModeDiscovery,
			discovery: []string{"wss://a", "wss://b", "wss://a"},
			want:      Derived{DerivedRelays: []string{"wss://a", "wss://b"}},
		},
		{
			name: "hybrid prefers dm-inbox then appends outbox and discovery",
			lists: RelayLists{
				DMInbox: []RawTag{{"relay", "wss://inbox.example"}},
				Outbox:  []RawTag{{"r", "wss://outbox.example", "read"}},
			},
			mode:      ModeHybrid,
			discovery: []string{"wss://disc.example"},
			want: Derived{
				DerivedRelays: []string{"wss://inbox.example", "wss://outbox.example", "wss://disc.example"},
			},
		},
		{
			name: "strict_outbox falls back to outbox when dm-inbox empty",
			lists: RelayLists{
				Outbox: []RawTag{
					{"r", "wss://write-only.example", "write"},
					{"r", "wss://read.example", "read"},
					{"r", "wss://both.example"},
				},
			},
			mode:      ModeStrictOutbox,
			discovery: []string{"wss://disc.example"},
			want:      Derived{DerivedRelays: []string{"wss://read.example", "wss://both.example"}},
		},
		{
			name:      "strict_outbox with all three lists absent returns empty derived set",
			lists:     RelayLists{},
			mode:      ModeStrictOutbox,
			discovery: []string{"wss://disc.example"},
			want:      Derived{},
		},
		{
			name: "strict_outbox skips outbox when dm-inbox present",
			lists: RelayLists{
				DMInbox: []RawTag{{"relay", "wss://inbox.example"}},
				Outbox:  []RawTag{{"r", "wss://outbox.example"}},
			},
			mode: ModeStrictOutbox,
			want: Derived{DerivedRelays: []string{"wss://inbox.example"}},
		},
		{
			name: "blocked relays are reported, not subtracted",
			lists: RelayLists{
				Outbox:  []RawTag{{"r", "wss://a.example"}},
				Blocked: []RawTag{{"r", " wss://a.example "}, {"r", "wss://b.example"}, {"x", "ignored"}},
			},
			mode: ModeStrictOutbox,
			want: Derived{
				DerivedRelays: []string{"wss://a.example"},
				BlockedRelays: []string{"wss://a.example", "wss://b.example"},
			},
		},
		{
			name: "malformed tags are silently skipped",
			lists: RelayLists{
				Outbox: []RawTag{{"r"}, {"notr", "wss://ignored.example"}, {"r", "wss://kept.example"}},
			},
			mode: ModeStrictOutbox,
			want: Derived{DerivedRelays: []string{"wss://kept.example"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.lists, tt.mode, tt.discovery)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
