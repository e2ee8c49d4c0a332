// Package planner decides what to query where, given the current
// registry and set of already-queried relays (C3 of the DM engine).
// Every function here is pure: no I/O, no clock reads.
package planner

import "github.com/pinpox/dmengine/internal/registry"

// ComputeSinceTimestamp returns the query lower bound for warm start,
// pulled back by fuzzDays to account for NIP-17 gift-wrap backdating.
// Cold start (lastCacheTime == nil) returns nil so the caller fetches
// from epoch.
func ComputeSinceTimestamp(lastCacheTime *int64, fuzzDays int) *int64 {
	if lastCacheTime == nil {
		return nil
	}
	since := *lastCacheTime - int64(fuzzDays)*86400
	return &since
}

// BuildRelayToUsersMap inverts the registry: relay URL -> pubkeys that
// derive it.
func BuildRelayToUsersMap(participants map[string]registry.Participant) map[string][]string {
	out := make(map[string][]string)
	for pk, p := range participants {
		for _, relay := range p.DerivedRelays {
			out[relay] = append(out[relay], pk)
		}
	}
	return out
}

// FilterNewRelayUserCombos returns the relay URLs in relayToUsers that
// are not already present in alreadyQueried.
func FilterNewRelayUserCombos(relayToUsers map[string][]string, alreadyQueried map[string]bool) []string {
	var out []string
	for relay := range relayToUsers {
		if !alreadyQueried[relay] {
			out = append(out, relay)
		}
	}
	return out
}

// ComputeAllQueriedRelays unions the prior cache's queried set with the
// initial and newly discovered relays for this session. mode is part of
// the named operation's signature but the union itself is mode-
// independent; policy differences live in relayset.Resolve instead.
func ComputeAllQueriedRelays(mode string, priorCache, initialRelays, newRelays []string) map[string]bool {
	out := make(map[string]bool)
	for _, r := range priorCache {
		out[r] = true
	}
	for _, r := range initialRelays {
		out[r] = true
	}
	for _, r := range newRelays {
		out[r] = true
	}
	return out
}

// ExtractNewPubkeys returns participants referenced by decrypted
// messages that aren't yet registered, excluding self.
func ExtractNewPubkeys(decryptedParticipants []string, existing map[string]registry.Participant, myPubkey string) []string {
	seen := make(map[string]bool, len(decryptedParticipants))
	var out []string
	for _, pk := range decryptedParticipants {
		if pk == myPubkey || seen[pk] {
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
