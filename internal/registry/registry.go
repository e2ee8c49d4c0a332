// Package registry maps participant pubkeys to their derived relay sets
// and staleness bookkeeping (C2 of the DM engine).
package registry

import (
	"github.com/pinpox/dmengine/internal/relayset"
)

// Participant is the registry's per-pubkey record. Never destroyed
// during a session; only replaced wholesale on refresh.
type Participant struct {
	Pubkey        string
	DerivedRelays []string
	BlockedRelays []string
	LastFetched   int64 // epoch-ms
}

// Registry is a plain map keyed by pubkey. Callers own synchronization;
// the single-writer discipline lives in engine.go, not here.
type Registry map[string]Participant

// BuildParticipant applies C1's resolver and stamps LastFetched.
func BuildParticipant(pubkey string, lists relayset.RelayLists, mode relayset.Mode, discovery []string, now int64) Participant {
	derived := relayset.Resolve(lists, mode, discovery)
	return Participant{
		Pubkey:        pubkey,
		DerivedRelays: derived.DerivedRelays,
		BlockedRelays: derived.BlockedRelays,
		LastFetched:   now,
	}
}

// BuildParticipantsMap bulk-applies BuildParticipant over a pubkey set.
// listsByPubkey entries missing from the map are resolved against an
// empty RelayLists (derived set falls back to discovery-only behavior
// for those modes that allow it).
func BuildParticipantsMap(pubkeys []string, listsByPubkey map[string]relayset.RelayLists, mode relayset.Mode, discovery []string, now int64) map[string]Participant {
	out := make(map[string]Participant, len(pubkeys))
	for _, pk := range pubkeys {
		lists := listsByPubkey[pk]
		out[pk] = BuildParticipant(pk, lists, mode, discovery, now)
	}
	return out
}

// MergeParticipants performs a shallow, whole-record merge: incoming
// wins per key, base entries not present in incoming are kept.
func MergeParticipants(base, incoming map[string]Participant) map[string]Participant {
	merged := make(map[string]Participant, len(base)+len(incoming))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

// GetStaleParticipants returns pubkeys whose LastFetched is older than
// ttlMs relative to now. Early-exit: an empty registry returns nil
// without allocating.
func GetStaleParticipants(reg map[string]Participant, ttlMs int64, now int64) []string {
	if len(reg) == 0 {
		return nil
	}
	var stale []string
	for pk, p := range reg {
		if now-p.LastFetched > ttlMs {
			stale = append(stale, pk)
		}
	}
	return stale
}

// GetNewPubkeys returns the set-difference found \ existing, preserving
// found's order and deduplicating repeats within found itself.
func GetNewPubkeys(found []string, existing map[string]Participant) []string {
	seen := make(map[string]bool, len(found))
	var out []string
	for _, pk := range found {
		if seen[pk] {
			continue
		}
		seen[pk] = true
		if _, ok := existing[pk]; ok {
			continue
		}
		out = append(out, pk)
	}
	return out
}
