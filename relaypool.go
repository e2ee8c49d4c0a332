package dmengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// RelayPool is the consumed transport capability from spec §6. The engine
// never dials a relay socket itself — it only asks the pool to query,
// publish, or subscribe.
type RelayPool interface {
	Query(ctx context.Context, relayURLs []string, filter nostr.Filter) ([]*nostr.Event, error)
	Publish(ctx context.Context, relayURLs []string, event nostr.Event) map[string]error
	Subscribe(ctx context.Context, relayURLs []string, filter nostr.Filter) (<-chan nostr.Event, error)
}

// GoNostrPool adapts github.com/nbd-wtf/go-nostr's SimplePool to RelayPool,
// generalized from pinpox-nitrous's direct pool.EnsureRelay / SubscribeMany
// / PublishMany / QuerySingle call sites (nostr.go, nostr_dm.go) into the
// narrower query/publish/subscribe contract the engine depends on.
type GoNostrPool struct {
	pool *nostr.SimplePool
}

func NewGoNostrPool(ctx context.Context) *GoNostrPool {
	return &GoNostrPool{pool: nostr.NewSimplePool(ctx)}
}

// Query fans the filter out to every relay in parallel and collects all
// results; SimplePool.SubscribeMany with a closed-after-EOSE semantics is
// not assumed portable across relay implementations, so we use the pool's
// synchronous per-relay query and merge here instead.
func (g *GoNostrPool) Query(ctx context.Context, relayURLs []string, filter nostr.Filter) ([]*nostr.Event, error) {
	type result struct {
		events []*nostr.Event
		err    error
	}
	ch := make(chan result, len(relayURLs))
	for _, url := range relayURLs {
		go func(url string) {
			r, err := g.pool.EnsureRelay(url)
			if err != nil {
				ch <- result{err: fmt.Errorf("%s: %w", url, err)}
				return
			}
			sub, err := r.Subscribe(ctx, nostr.Filters{filter})
			if err != nil {
				ch <- result{err: fmt.Errorf("%s: %w", url, err)}
				return
			}
			defer sub.Unsub()
			var events []*nostr.Event
		collect:
			for {
				select {
				case evt, ok := <-sub.Events:
					if !ok {
						break collect
					}
					events = append(events, evt)
				case <-sub.EndOfStoredEvents:
					break collect
				case <-ctx.Done():
					break collect
				}
			}
			ch <- result{events: events}
		}(url)
	}

	var all []*nostr.Event
	var firstErr error
	for range relayURLs {
		r := <-ch
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
		all = append(all, r.events...)
	}
	if len(all) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return all, nil
}

func (g *GoNostrPool) Publish(ctx context.Context, relayURLs []string, event nostr.Event) map[string]error {
	results := make(map[string]error, len(relayURLs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, url := range relayURLs {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			var pubErr error
			r, err := g.pool.EnsureRelay(url)
			if err != nil {
				pubErr = fmt.Errorf("connect: %w", err)
			} else if err := r.Publish(ctx, event); err != nil {
				pubErr = err
			}
			mu.Lock()
			results[url] = pubErr
			mu.Unlock()
		}(url)
	}
	wg.Wait()
	return results
}

func (g *GoNostrPool) Subscribe(ctx context.Context, relayURLs []string, filter nostr.Filter) (<-chan nostr.Event, error) {
	ch := make(chan nostr.Event)
	go func() {
		defer close(ch)
		for ie := range g.pool.SubscribeMany(ctx, relayURLs, filter) {
			if ie.Event == nil {
				continue
			}
			ch <- *ie.Event
		}
	}()
	return ch, nil
}
