package dmengine

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/pinpox/dmengine/internal/blob"
	"github.com/pinpox/dmengine/internal/conversation"
	"github.com/pinpox/dmengine/internal/crypto"
	"github.com/pinpox/dmengine/internal/decrypt"
	"github.com/pinpox/dmengine/internal/model"
	"github.com/pinpox/dmengine/internal/planner"
	"github.com/pinpox/dmengine/internal/query"
	"github.com/pinpox/dmengine/internal/registry"
	"github.com/pinpox/dmengine/internal/relayset"
	"github.com/pinpox/dmengine/internal/send"
	"github.com/pinpox/dmengine/internal/store"
	"github.com/pinpox/dmengine/internal/subscriber"
)

const (
	kindRelayList   = 10002
	kindDMInbox     = 10050
	kindBlockedList = 10006
)

// Engine is the facade named in spec §6's produced interfaces: it owns
// the single-writer MessagingState, runs bootstrap and steady-state sync,
// and is the only thing a UI talks to. Grounded in how pinpox-nitrous's
// model.go centralizes TUI state, but headless: no bubbletea Update loop,
// just a mutex-guarded state value and a listener fan-out.
type Engine struct {
	cfg      RuntimeConfig
	pool     RelayPool
	signer   Signer
	blobHost BlobHost
	kv       *store.KV
	blobs    *blob.Cache

	myPubkey string

	mu        sync.Mutex
	state     model.MessagingState
	registry  map[string]registry.Participant
	listeners []func(model.MessagingState)

	realtimeCancel context.CancelFunc
}

// NewEngine opens the state store rooted at cfg.ResolvedStateDir and
// resolves the caller's own pubkey from signer. It does not perform
// bootstrap — call Bootstrap explicitly so a UI can show progress.
func NewEngine(ctx context.Context, cfg RuntimeConfig, pool RelayPool, signer Signer, blobHost BlobHost) (*Engine, error) {
	myPubkey, err := signer.PublicKey(ctx)
	if err != nil {
		return nil, newErr(ErrSignerUnavailable, "new_engine", fmt.Errorf("resolve own pubkey: %w", err))
	}

	kv, err := store.OpenOrCreate(cfg.ResolvedStateDir())
	if err != nil {
		return nil, newErr(ErrCacheCorrupt, "new_engine", err)
	}

	return &Engine{
		cfg:      cfg,
		pool:     pool,
		signer:   signer,
		blobHost: blobHost,
		kv:       kv,
		blobs:    blob.NewCache(kv, cfg.MediaCacheBytes),
		myPubkey: myPubkey,
		registry: make(map[string]registry.Participant),
	}, nil
}

// Close releases the state store's file handles.
func (e *Engine) Close() error {
	if e.realtimeCancel != nil {
		e.realtimeCancel()
	}
	return e.kv.Close()
}

// GetState returns a snapshot of the current MessagingState.
func (e *Engine) GetState() model.MessagingState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SubscribeState registers listener to be called on every state
// transition and returns an unsubscribe function.
func (e *Engine) SubscribeState(listener func(model.MessagingState)) func() {
	e.mu.Lock()
	idx := len(e.listeners)
	e.listeners = append(e.listeners, listener)
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.listeners[idx] = nil
	}
}

func (e *Engine) notify() {
	e.mu.Lock()
	snapshot := e.state
	listeners := append([]func(model.MessagingState){}, e.listeners...)
	e.mu.Unlock()

	for _, l := range listeners {
		if l != nil {
			l(snapshot)
		}
	}
}

// ConversationRelayUser is one entry of GetConversationRelays' per-relay
// user list.
type ConversationRelayUser struct {
	Pubkey        string
	IsCurrentUser bool
	Source        string // always "derived": relaysForParticipantsLocked doesn't currently track which relayset.Resolve bucket (dm_inbox/outbox/discovery) a URL came from
}

// ConversationRelayInfo is one row of GetConversationRelays' output.
type ConversationRelayInfo struct {
	Relay string
	Users []ConversationRelayUser
}

// GetConversationRelays reports, for each relay currently derived for
// any participant of convID, which participants route through it.
func (e *Engine) GetConversationRelays(convID string) []ConversationRelayInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	participants := conversation.ParseConversationID(convID)
	byRelay := make(map[string][]ConversationRelayUser)
	var order []string
	for _, pk := range participants {
		p, ok := e.registry[pk]
		if !ok {
			continue
		}
		for _, relay := range p.DerivedRelays {
			if _, seen := byRelay[relay]; !seen {
				order = append(order, relay)
			}
			byRelay[relay] = append(byRelay[relay], ConversationRelayUser{
				Pubkey:        pk,
				IsCurrentUser: pk == e.myPubkey,
				Source:        "derived",
			})
		}
	}

	out := make([]ConversationRelayInfo, 0, len(order))
	for _, relay := range order {
		out = append(out, ConversationRelayInfo{Relay: relay, Users: byRelay[relay]})
	}
	return out
}

// MarkConversationAsRead sets LastReadAt to now and persists the change.
func (e *Engine) MarkConversationAsRead(convID string) error {
	e.mu.Lock()
	conv, ok := e.state.ConversationMetadata[convID]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	conv.LastReadAt = time.Now().Unix()
	e.state.ConversationMetadata[convID] = conv
	snapshot := e.state
	e.mu.Unlock()

	e.notify()
	return e.kv.SaveState(e.myPubkey, snapshot)
}

// LoadEarlierMessages gap-fills one conversation's relays further back
// in time than the oldest message currently held, per spec's "load
// older" action (triggered when QueryLimitReached was surfaced).
func (e *Engine) LoadEarlierMessages(ctx context.Context, convID string) error {
	e.mu.Lock()
	participants := conversation.ParseConversationID(convID)
	existing := e.state.ConversationMessages[convID]
	relayURLs := e.relaysForParticipantsLocked(participants)
	e.mu.Unlock()

	if len(existing) == 0 || len(relayURLs) == 0 {
		return nil
	}
	oldest := existing[0].Event.CreatedAt
	until := nostr.Timestamp(oldest)

	families := buildHistoricalFamilies(e.myPubkey)
	for i := range families {
		families[i].Filter.Until = &until
	}

	result := query.Run(ctx, e.pool, relayURLs, families, nil, e.cfg.QueryLimit)
	messages := e.decryptEvents(ctx, result.Messages)

	e.mu.Lock()
	for _, m := range messages {
		e.state = store.AddMessageToState(e.state, m, e.myPubkey)
	}
	snapshot := e.state
	e.mu.Unlock()

	e.notify()
	return e.kv.SaveState(e.myPubkey, snapshot)
}

func (e *Engine) relaysForParticipantsLocked(participants []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, pk := range participants {
		p, ok := e.registry[pk]
		if !ok {
			continue
		}
		for _, r := range p.DerivedRelays {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}

// SendRequest is the payload of spec §6's send(...) operation.
type SendRequest struct {
	ConversationID string
	Plaintext      string
	Protocol       model.Protocol
	Subject        string
	Attachments    []AttachmentInput
}

// AttachmentInput is a plaintext file the caller wants encrypted,
// uploaded via BlobHost, and tagged onto the outgoing message.
type AttachmentInput struct {
	Bytes    []byte
	MimeType string
	Name     string
	Dim      string
}

// Send implements the produced send(...) operation: encrypts and
// uploads any attachments, builds and publishes the message over the
// requested protocol, and folds a local echo into state immediately
// (spec §3's supplemented local-echo behavior) rather than waiting for
// the relay round trip.
func (e *Engine) Send(ctx context.Context, req SendRequest) error {
	participants := conversation.ParseConversationID(req.ConversationID)
	if len(participants) == 0 {
		return newErr(ErrMalformedEvent, "send", fmt.Errorf("empty conversation id %q", req.ConversationID))
	}

	attachments, err := e.prepareAttachments(ctx, req.Attachments)
	if err != nil {
		return err
	}

	var evt *nostr.Event
	switch req.Protocol {
	case model.ProtocolNIP04:
		peer := firstOther(participants, e.myPubkey)
		if peer == "" {
			return newErr(ErrMalformedEvent, "send", fmt.Errorf("nip04 send requires exactly one peer"))
		}
		e.mu.Lock()
		recipientRelays := e.relaysForParticipantsLocked([]string{peer})
		senderRelays := e.relaysForParticipantsLocked([]string{e.myPubkey})
		e.mu.Unlock()

		evt, err = send.SendNIP04(ctx, e.signer, e.pool, send.NIP04Request{
			Recipient:       peer,
			Plaintext:       req.Plaintext,
			Attachments:     attachments,
			RecipientRelays: recipientRelays,
			SenderRelays:    senderRelays,
		})
		if err != nil {
			return newErr(ErrPublishFailure, "send_nip04", err)
		}

	case model.ProtocolNIP17:
		recipients := otherParticipants(participants, e.myPubkey)
		e.mu.Lock()
		relaysByRecipient := make(map[string][]string, len(participants))
		for _, pk := range participants {
			relaysByRecipient[pk] = e.relaysForParticipantsLocked([]string{pk})
		}
		e.mu.Unlock()

		result, sendErr := send.SendNIP17(ctx, e.signer, e.pool, send.NIP17Request{
			Recipients:        recipients,
			Plaintext:         req.Plaintext,
			Subject:           req.Subject,
			Attachments:       attachments,
			RelaysByRecipient: relaysByRecipient,
		}, rand.New(rand.NewSource(time.Now().UnixNano())))
		if sendErr != nil {
			return newErr(ErrPublishFailure, "send_nip17", sendErr)
		}
		evt = &nostr.Event{ID: result.MessageID, PubKey: e.myPubkey, Kind: crypto.KindRumorText,
			CreatedAt: nostr.Timestamp(time.Now().Unix()), Content: req.Plaintext}

	default:
		return newErr(ErrMalformedEvent, "send", fmt.Errorf("unknown protocol %q", req.Protocol))
	}

	echo := model.Message{
		ID:             evt.ID,
		ConversationID: req.ConversationID,
		Protocol:       req.Protocol,
		SenderPubkey:   e.myPubkey,
		Subject:        req.Subject,
		Event: model.RawEvent{
			ID: evt.ID, Pubkey: e.myPubkey, CreatedAt: int64(evt.CreatedAt),
			Kind: evt.Kind, Content: req.Plaintext,
		},
	}

	e.mu.Lock()
	e.state = store.AddMessageToState(e.state, echo, e.myPubkey)
	snapshot := e.state
	e.mu.Unlock()

	e.notify()
	return e.kv.SaveState(e.myPubkey, snapshot)
}

func (e *Engine) prepareAttachments(ctx context.Context, inputs []AttachmentInput) ([]send.Attachment, error) {
	out := make([]send.Attachment, 0, len(inputs))
	for _, in := range inputs {
		encrypted, err := crypto.EncryptAttachment(in.Bytes)
		if err != nil {
			return nil, newErr(ErrUnsupportedAttachmentAlgorithm, "encrypt_attachment", err)
		}

		url, _, err := e.blobHost.Upload(ctx, encrypted.Ciphertext, in.MimeType)
		if err != nil {
			return nil, err
		}

		out = append(out, send.Attachment{
			URL: url, MimeType: in.MimeType, Name: in.Name, Dim: in.Dim,
			Size:        fmt.Sprintf("%d", len(in.Bytes)),
			Algorithm:   crypto.AttachmentAlgorithm,
			KeyBase64:   encrypted.KeyBase64,
			NonceBase64: encrypted.NonceBase64,
			SHA256Hex:   encrypted.SHA256Hex,
		})
	}
	return out, nil
}

func firstOther(participants []string, self string) string {
	for _, p := range participants {
		if p != self {
			return p
		}
	}
	return ""
}

func otherParticipants(participants []string, self string) []string {
	var out []string
	for _, p := range participants {
		if p != self {
			out = append(out, p)
		}
	}
	return out
}

// Bootstrap implements spec §2's bootstrap sequence: load cache, refresh
// stale relay lists, initial fetch, decrypt, discover new participants,
// gap-fill fetch, group into conversations, save.
func (e *Engine) Bootstrap(ctx context.Context) error {
	state, err := e.kv.LoadState(e.myPubkey)
	if err != nil {
		return newErr(ErrCacheCorrupt, "bootstrap", err)
	}

	reg := make(map[string]registry.Participant, len(state.Participants))
	for pk, snap := range state.Participants {
		reg[pk] = registry.Participant{Pubkey: pk, DerivedRelays: snap.DerivedRelays, BlockedRelays: snap.BlockedRelays, LastFetched: snap.LastFetched}
	}

	mode := relayset.Mode(e.cfg.RelayMode)
	now := time.Now().UnixMilli()

	selfLists, err := e.fetchRelayLists(ctx, []string{e.myPubkey}, e.cfg.DiscoveryRelays)
	if err != nil {
		return newErr(ErrRelayUnreachable, "bootstrap_self_relays", err)
	}
	reg[e.myPubkey] = registry.BuildParticipant(e.myPubkey, selfLists[e.myPubkey], mode, e.cfg.DiscoveryRelays, now)

	stalePubkeys := registry.GetStaleParticipants(reg, int64(e.cfg.RelayTTLMs), now)
	if len(stalePubkeys) > 0 {
		refreshed, err := e.fetchRelayLists(ctx, stalePubkeys, e.cfg.DiscoveryRelays)
		if err == nil {
			fresh := registry.BuildParticipantsMap(stalePubkeys, refreshed, mode, e.cfg.DiscoveryRelays, now)
			reg = registry.MergeParticipants(reg, fresh)
		}
	}

	relayToUsers := planner.BuildRelayToUsersMap(reg)
	initialRelays := make([]string, 0, len(relayToUsers))
	for r := range relayToUsers {
		initialRelays = append(initialRelays, r)
	}
	sort.Strings(initialRelays)

	var sinceTS *nostr.Timestamp
	since := planner.ComputeSinceTimestamp(state.SyncState.LastCacheTime, e.cfg.NIP17FuzzDays)
	if since != nil {
		ts := nostr.Timestamp(*since)
		sinceTS = &ts
	}

	families := buildHistoricalFamilies(e.myPubkey)
	initialResult := query.Run(ctx, e.pool, initialRelays, families, sinceTS, e.cfg.QueryLimit)
	messages := e.decryptEvents(ctx, initialResult.Messages)

	participantPubkeys := collectParticipants(messages)
	newPubkeys := planner.ExtractNewPubkeys(participantPubkeys, reg, e.myPubkey)

	var gapFillResult query.Result
	if len(newPubkeys) > 0 {
		newLists, err := e.fetchRelayLists(ctx, newPubkeys, e.cfg.DiscoveryRelays)
		if err == nil {
			newParticipants := registry.BuildParticipantsMap(newPubkeys, newLists, mode, e.cfg.DiscoveryRelays, now)
			reg = registry.MergeParticipants(reg, newParticipants)

			newRelayToUsers := planner.BuildRelayToUsersMap(newParticipants)
			alreadyQueried := make(map[string]bool, len(initialRelays))
			for _, r := range initialRelays {
				alreadyQueried[r] = true
			}
			newRelays := planner.FilterNewRelayUserCombos(newRelayToUsers, alreadyQueried)
			if len(newRelays) > 0 {
				gapFillResult = query.Run(ctx, e.pool, newRelays, families, sinceTS, e.cfg.QueryLimit)
				messages = append(messages, e.decryptEvents(ctx, gapFillResult.Messages)...)
			}
		}
	}

	messages = conversation.DedupeMessages(messages)
	conversation.SortMessages(messages)

	incoming := model.NewEmptyState()
	grouped := conversation.GroupMessagesIntoConversations(messages)
	for convID, msgs := range grouped {
		incoming.ConversationMessages[convID] = msgs
		incoming.ConversationMetadata[convID] = conversation.BuildConversation(convID, msgs, e.myPubkey)
	}
	for pk, p := range reg {
		incoming.Participants[pk] = model.ParticipantSnapshot{Pubkey: pk, DerivedRelays: p.DerivedRelays, BlockedRelays: p.BlockedRelays, LastFetched: p.LastFetched}
	}
	for relay, health := range mergeHealth(initialResult.PerRelayHealth, gapFillResult.PerRelayHealth) {
		incoming.RelayInfo[relay] = health
	}
	lastCache := time.Now().Unix()
	incoming.SyncState = model.SyncState{
		LastCacheTime:     &lastCache,
		QueriedRelays:     planner.ComputeAllQueriedRelays(string(mode), relayListKeys(state.SyncState.QueriedRelays), initialRelays, newPubkeysToRelays(reg, newPubkeys)),
		QueryLimitReached: initialResult.LimitReached || gapFillResult.LimitReached,
	}

	merged := store.MergeState(state, incoming)

	e.mu.Lock()
	e.state = merged
	e.registry = reg
	e.mu.Unlock()

	e.notify()
	return e.kv.SaveState(e.myPubkey, merged)
}

// StartRealtime launches the steady-state subscriber (C8) in a
// background goroutine; each arriving message is folded into state and
// listeners are notified. Call Bootstrap first.
func (e *Engine) StartRealtime(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.realtimeCancel = cancel

	e.mu.Lock()
	relayURLs := e.relaysForParticipantsLocked(registryPubkeys(e.registry))
	e.mu.Unlock()

	filters := subscriber.BuildFilters(e.myPubkey, nostr.Timestamp(time.Now().Unix()))

	go func() {
		_ = subscriber.Run(ctx, e.pool, relayURLs, filters, e.signer, e.myPubkey, func(msg model.Message) {
			e.mu.Lock()
			e.state = store.AddMessageToState(e.state, msg, e.myPubkey)
			snapshot := e.state
			e.mu.Unlock()

			e.notify()
			_ = e.kv.SaveState(e.myPubkey, snapshot)
		})
	}()
}

func registryPubkeys(reg map[string]registry.Participant) []string {
	out := make([]string, 0, len(reg))
	for pk := range reg {
		out = append(out, pk)
	}
	return out
}

func (e *Engine) decryptEvents(ctx context.Context, events []*nostr.Event) []model.Message {
	out := make([]model.Message, 0, len(events))
	for _, evt := range events {
		out = append(out, decrypt.DecryptEvent(ctx, e.signer, evt, e.myPubkey))
	}
	return out
}

func collectParticipants(messages []model.Message) []string {
	var out []string
	for _, m := range messages {
		out = append(out, conversation.ParseConversationID(m.ConversationID)...)
	}
	return out
}

func mergeHealth(a, b map[string]*query.Health) map[string]model.RelayHealth {
	out := make(map[string]model.RelayHealth, len(a)+len(b))
	apply := func(h map[string]*query.Health) {
		for relay, health := range h {
			errText := ""
			if health.LastQueryError != nil {
				errText = health.LastQueryError.Error()
			}
			existing, ok := out[relay]
			out[relay] = model.RelayHealth{
				LastQuerySucceeded: health.LastQuerySucceeded || (ok && existing.LastQuerySucceeded),
				LastQueryError:     errText,
			}
		}
	}
	apply(a)
	apply(b)
	return out
}

func relayListKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func newPubkeysToRelays(reg map[string]registry.Participant, pubkeys []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, pk := range pubkeys {
		p, ok := reg[pk]
		if !ok {
			continue
		}
		for _, r := range p.DerivedRelays {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}

// fetchRelayLists queries the three relay-list kinds (10002, 10050,
// 10006) for pubkeys across relayURLs and picks, per pubkey and kind,
// the single newest event (replaceable-event semantics). Per spec §4.4
// it applies query.RelayListTimeout per relay and returns as soon as
// query.RelayListMajorityFraction of relayURLs have responded, rather
// than waiting for every discovery relay.
func (e *Engine) fetchRelayLists(ctx context.Context, pubkeys []string, relayURLs []string) (map[string]relayset.RelayLists, error) {
	filter := nostr.Filter{Kinds: []int{kindRelayList, kindDMInbox, kindBlockedList}, Authors: pubkeys}
	result, err := query.FetchRelayLists(ctx, e.pool, relayURLs, filter)
	events := result.Events
	if err != nil && len(events) == 0 {
		return nil, err
	}

	newest := make(map[string]*nostr.Event) // key: pubkey+":"+kind
	for _, evt := range events {
		key := fmt.Sprintf("%s:%d", evt.PubKey, evt.Kind)
		if cur, ok := newest[key]; !ok || evt.CreatedAt > cur.CreatedAt {
			newest[key] = evt
		}
	}

	out := make(map[string]relayset.RelayLists, len(pubkeys))
	for _, pk := range pubkeys {
		var lists relayset.RelayLists
		if evt, ok := newest[fmt.Sprintf("%s:%d", pk, kindRelayList)]; ok {
			lists.Outbox = tagsToRawTags(evt.Tags)
		}
		if evt, ok := newest[fmt.Sprintf("%s:%d", pk, kindDMInbox)]; ok {
			lists.DMInbox = tagsToRawTags(evt.Tags)
		}
		if evt, ok := newest[fmt.Sprintf("%s:%d", pk, kindBlockedList)]; ok {
			lists.Blocked = tagsToRawTags(evt.Tags)
		}
		out[pk] = lists
	}
	return out, nil
}

func tagsToRawTags(tags nostr.Tags) []relayset.RawTag {
	out := make([]relayset.RawTag, len(tags))
	for i, t := range tags {
		out[i] = relayset.RawTag(t)
	}
	return out
}

func buildHistoricalFamilies(myPubkey string) []query.Family {
	return []query.Family{
		{Name: "nip04_inbound", Filter: nostr.Filter{Kinds: []int{4}, Tags: nostr.TagMap{"p": []string{myPubkey}}}},
		{Name: "nip04_outbound", Filter: nostr.Filter{Kinds: []int{4}, Authors: []string{myPubkey}}},
		{Name: "nip17_giftwrap", Filter: nostr.Filter{Kinds: []int{1059}, Tags: nostr.TagMap{"p": []string{myPubkey}}}},
	}
}
