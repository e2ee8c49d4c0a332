// Package subscriber keeps a live subscription after bootstrap and
// incrementally folds each arriving event into state without rebuilding
// (C8 of the DM engine).
package subscriber

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/pinpox/dmengine/internal/decrypt"
	"github.com/pinpox/dmengine/internal/model"
)

// Pool is the narrow subscribe capability this package needs.
type Pool interface {
	Subscribe(ctx context.Context, relayURLs []string, filter nostr.Filter) (<-chan nostr.Event, error)
}

// BuildFilters returns the same three filter families the query
// executor uses, but with since=now, for the live subscription.
func BuildFilters(myPubkey string, since nostr.Timestamp) []nostr.Filter {
	return []nostr.Filter{
		{Kinds: []int{4}, Tags: nostr.TagMap{"p": []string{myPubkey}}, Since: &since},
		{Kinds: []int{4}, Authors: []string{myPubkey}, Since: &since},
		{Kinds: []int{1059}, Tags: nostr.TagMap{"p": []string{myPubkey}}, Since: &since},
	}
}

// Run subscribes on relayURLs with the given filters and invokes onMessage
// for each decrypted Message as it arrives, until ctx is cancelled. The
// caller's onMessage is expected to fold the message into state via
// store.AddMessageToState (kept decoupled here so this package doesn't
// need to import internal/store).
func Run(ctx context.Context, pool Pool, relayURLs []string, filters []nostr.Filter, signer decrypt.Signer, myPubkey string, onMessage func(model.Message)) error {
	chans := make([]<-chan nostr.Event, 0, len(filters))
	for _, filter := range filters {
		ch, err := pool.Subscribe(ctx, relayURLs, filter)
		if err != nil {
			return err
		}
		chans = append(chans, ch)
	}

	merged := mergeChannels(ctx, chans)
	for evt := range merged {
		e := evt
		msg := decrypt.DecryptEvent(ctx, signer, &e, myPubkey)
		onMessage(msg)
	}
	return nil
}

func mergeChannels(ctx context.Context, chans []<-chan nostr.Event) <-chan nostr.Event {
	out := make(chan nostr.Event)
	done := make(chan struct{}, len(chans))
	for _, ch := range chans {
		go func(ch <-chan nostr.Event) {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case evt, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- evt:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}
	go func() {
		for range chans {
			<-done
		}
		close(out)
	}()
	return out
}
