// Package query runs the three parallel filter families against a set
// of relays with backward pagination and per-relay health tracking
// (C4 of the DM engine).
package query

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// BatchSize bounds how many events one relay is asked for per pagination
// step, per spec's backpressure rule (<=1000 events per filter per relay
// per batch).
const BatchSize = 500

// MessageRelayTimeout and RelayListTimeout are the per-relay timeouts
// named in spec §5: ~8s for message queries, ~5s for relay-list queries.
const (
	MessageRelayTimeout = 8 * time.Second
	RelayListTimeout    = 5 * time.Second
)

// RelayListMajorityFraction is spec §4.4's early-exit threshold: once
// this fraction of discovery relays have responded (success or error),
// a relay-list query proceeds without waiting for the remaining
// stragglers, which are instead left to finish against their own
// RelayListTimeout and are simply discarded.
const RelayListMajorityFraction = 0.6

// Pool is the narrow query capability this package depends on, so it
// never has to import the root dmengine package (which would cycle
// back through engine.go). RelayPool in the root package satisfies
// this directly.
type Pool interface {
	Query(ctx context.Context, relayURLs []string, filter nostr.Filter) ([]*nostr.Event, error)
}

// Health accumulates across every batch issued against one relay during
// a bootstrap: success is logical-OR, error is most-recent.
type Health struct {
	LastQuerySucceeded bool
	LastQueryError     error
}

// Family is one of the three filter families that must paginate
// independently.
type Family struct {
	Name   string
	Filter nostr.Filter // base filter; Since/Limit are overwritten per batch, Until is kept as given
}

// Result is the executor's output for one bootstrap/gap-fill run.
type Result struct {
	Messages        []*nostr.Event
	LimitReached    bool
	PerRelayHealth  map[string]*Health
}

// Run executes all families against relayURLs, paginating each family
// backwards in time until exhausted or queryLimit is reached globally.
func Run(ctx context.Context, pool Pool, relayURLs []string, families []Family, since *nostr.Timestamp, queryLimit int) Result {
	result := Result{PerRelayHealth: make(map[string]*Health)}
	for _, url := range relayURLs {
		result.PerRelayHealth[url] = &Health{}
	}

	seen := make(map[string]bool)
	currentSince := make(map[string]*nostr.Timestamp, len(families))
	exhausted := make(map[string]bool, len(families))
	collectedTotal := 0

	for name := range groupByName(families) {
		currentSince[name] = since
	}

	for collectedTotal < queryLimit {
		anyActive := false
		for _, fam := range families {
			if exhausted[fam.Name] {
				continue
			}
			anyActive = true

			limit := BatchSize
			if remaining := queryLimit - collectedTotal; remaining < limit {
				limit = remaining
			}
			if limit <= 0 {
				exhausted[fam.Name] = true
				continue
			}

			filter := fam.Filter
			filter.Since = currentSince[fam.Name]
			filter.Limit = limit

			batch, minCreated, n := queryAllRelays(ctx, pool, relayURLs, filter, result.PerRelayHealth)

			newCount := 0
			for _, evt := range batch {
				if seen[evt.ID] {
					continue
				}
				seen[evt.ID] = true
				result.Messages = append(result.Messages, evt)
				newCount++
			}
			collectedTotal += newCount

			if n < limit {
				exhausted[fam.Name] = true
			} else if minCreated != nil {
				next := *minCreated
				currentSince[fam.Name] = &next
			} else {
				exhausted[fam.Name] = true
			}
		}
		if !anyActive {
			break
		}
		if collectedTotal >= queryLimit {
			result.LimitReached = true
			break
		}
	}

	sort.Slice(result.Messages, func(i, j int) bool {
		if result.Messages[i].CreatedAt != result.Messages[j].CreatedAt {
			return result.Messages[i].CreatedAt < result.Messages[j].CreatedAt
		}
		return result.Messages[i].ID < result.Messages[j].ID
	})

	return result
}

// queryAllRelays issues one filter against every relay in parallel,
// returning the merged batch, the minimum created_at seen (for the next
// backward page), and the per-relay maximum event count returned (used
// to decide family exhaustion the same way the teacher's single-relay
// paginate loop does, generalized across relays).
func queryAllRelays(ctx context.Context, pool Pool, relayURLs []string, filter nostr.Filter, health map[string]*Health) ([]*nostr.Event, *nostr.Timestamp, int) {
	type perRelay struct {
		url    string
		events []*nostr.Event
		err    error
	}
	ch := make(chan perRelay, len(relayURLs))
	for _, url := range relayURLs {
		go func(url string) {
			timeout := MessageRelayTimeout
			qctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			events, err := pool.Query(qctx, []string{url}, filter)
			ch <- perRelay{url: url, events: events, err: err}
		}(url)
	}

	var all []*nostr.Event
	maxCount := 0
	for range relayURLs {
		r := <-ch
		h := health[r.url]
		if h == nil {
			h = &Health{}
			health[r.url] = h
		}
		if r.err != nil {
			h.LastQueryError = r.err
		} else {
			h.LastQuerySucceeded = true
			if len(r.events) > maxCount {
				maxCount = len(r.events)
			}
		}
		all = append(all, r.events...)
	}

	var min *nostr.Timestamp
	for _, evt := range all {
		if min == nil || evt.CreatedAt < *min {
			ts := evt.CreatedAt
			min = &ts
		}
	}

	return all, min, maxCount
}

// RelayListResult is the outcome of a majority-early-exit relay-list
// query: Events is the merge of whichever relays answered before the
// early exit, and Responded/Total record how many of relayURLs were
// actually waited on (Responded < Total whenever the threshold fired
// before every relay returned).
type RelayListResult struct {
	Events    []*nostr.Event
	Responded int
	Total     int
}

// FetchRelayLists queries relayURLs in parallel for filter, applying
// RelayListTimeout per relay and spec §4.4's majority early-exit: as
// soon as RelayListMajorityFraction of relayURLs have responded
// (successfully or with an error), the merged events collected so far
// are returned without waiting for the rest. Stragglers keep running
// against their own timeout in the background and are discarded when
// they eventually land on the buffered channel, so none leak.
//
// This mirrors queryAllRelays's per-relay dispatch but intentionally
// does not wait for every relay the way message-query pagination does:
// relay-list kinds (10002/10050/10006) are replaceable-event lookups
// where a single slow or dead discovery relay must never stall
// bootstrap, unlike message history where every relay can hold unique
// events.
func FetchRelayLists(ctx context.Context, pool Pool, relayURLs []string, filter nostr.Filter) (RelayListResult, error) {
	type perRelay struct {
		events []*nostr.Event
		err    error
	}
	ch := make(chan perRelay, len(relayURLs))
	for _, url := range relayURLs {
		go func(url string) {
			qctx, cancel := context.WithTimeout(ctx, RelayListTimeout)
			defer cancel()
			events, err := pool.Query(qctx, []string{url}, filter)
			ch <- perRelay{events: events, err: err}
		}(url)
	}

	threshold := int(math.Ceil(RelayListMajorityFraction * float64(len(relayURLs))))
	if threshold < 1 && len(relayURLs) > 0 {
		threshold = 1
	}

	var all []*nostr.Event
	var lastErr error
	responded := 0
	for responded < len(relayURLs) {
		r := <-ch
		responded++
		if r.err != nil {
			lastErr = r.err
		} else {
			all = append(all, r.events...)
		}
		if responded >= threshold {
			break
		}
	}

	if len(all) == 0 && lastErr != nil {
		return RelayListResult{}, lastErr
	}
	return RelayListResult{Events: all, Responded: responded, Total: len(relayURLs)}, nil
}

func groupByName(families []Family) map[string]Family {
	out := make(map[string]Family, len(families))
	for _, f := range families {
		out[f.Name] = f
	}
	return out
}
