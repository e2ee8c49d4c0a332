// Package dmengine implements an end-to-end encrypted direct-messaging
// engine for Nostr, covering both legacy NIP-04 DMs (kind 4) and
// NIP-17 gift-wrapped DMs (kind 1059 wrapping a sealed kind 13 wrapping a
// kind 14/15 rumor).
//
// The engine never dials a relay socket or touches the user's private key
// itself (it only generates one-shot NIP-17 gift-wrap keys): it talks to
// the rest of the world only through the RelayPool,
// Signer and BlobHost interfaces, so a caller can swap in a remote
// signer, a different relay pool implementation, or a non-Blossom upload
// backend without touching engine internals.
//
// A typical caller constructs a RuntimeConfig, a RelayPool, a Signer and
// a BlobHost, builds an Engine with NewEngine, runs Bootstrap once to
// load cached state and catch up on history, then calls StartRealtime to
// fold live events into the in-memory MessagingState. GetState and
// SubscribeState expose that state to a UI; Send, MarkConversationAsRead
// and LoadEarlierMessages mutate it. See cmd/dmengine-demo for a minimal
// wiring of all of the above.
package dmengine
