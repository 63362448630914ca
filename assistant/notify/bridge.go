package notify

import (
	"sync"

	"log/slog"

	"github.com/m3rciful/paybot/core/logger"
)

// Messenger delivers a formatted notification to a chat. explorerURL is
// empty when no block explorer deep link applies.
type Messenger interface {
	Send(chatID int64, text, explorerURL string) error
}

type subKey struct {
	userID string
	orgID  string
}

type subscription struct {
	channel string
	chatID  int64
}

// channelState refcounts the mappings behind one underlying channel
// subscription. Every subscriber of the same organization shares a channel,
// so the channel is joined once and closed only with its last mapping.
type channelState struct {
	refs      int
	confirmed bool
}

// Bridge relays deposit events from the realtime channel service to chat
// users. The subscription registry is in-memory: it lives for the process
// uptime or until an explicit unsubscribe, independent of session storage.
type Bridge struct {
	client    ChannelClient
	messenger Messenger

	mu       sync.RWMutex
	subs     map[subKey]*subscription
	channels map[string]*channelState
}

// NewBridge constructs a Bridge over the channel client and chat messenger.
func NewBridge(client ChannelClient, messenger Messenger) *Bridge {
	return &Bridge{
		client:    client,
		messenger: messenger,
		subs:      make(map[subKey]*subscription),
		channels:  make(map[string]*channelState),
	}
}

// Subscribe opens the organization's deposit channel for a user, delivering
// events to the given chat. Idempotent by (userID, orgID): an existing
// mapping short-circuits without a second underlying subscribe. Users of
// the same organization share one underlying channel subscription; only the
// first mapping joins the channel. The return value is optimistic;
// confirmation arrives via the channel callbacks, and a failed channel join
// removes every mapping it carried.
func (b *Bridge) Subscribe(userID, orgID string, chatID int64) bool {
	key := subKey{userID: userID, orgID: orgID}
	channel := ChannelName(orgID)

	b.mu.Lock()
	if _, exists := b.subs[key]; exists {
		b.mu.Unlock()
		return true
	}
	b.subs[key] = &subscription{channel: channel, chatID: chatID}
	st := b.channels[channel]
	if st == nil {
		st = &channelState{}
		b.channels[channel] = st
	}
	st.refs++
	first := st.refs == 1
	b.mu.Unlock()

	if first {
		cb := Callbacks{
			OnSuccess: func() { b.confirmChannel(channel) },
			OnError:   func(err error) { b.dropChannel(channel, err) },
			OnDeposit: func(ev DepositEvent) { b.deliver(channel, ev) },
		}
		if err := b.client.Subscribe(channel, cb); err != nil {
			b.dropChannel(channel, err)
			return false
		}
	}

	logger.SVCNotify.Info("subscription requested",
		slog.String("event", "notify.subscribe"),
		slog.String("user_id", userID),
		slog.String("org_id", orgID),
		slog.String("channel", channel),
		slog.Bool("shared", !first),
	)
	return true
}

func (b *Bridge) confirmChannel(channel string) {
	b.mu.Lock()
	st, ok := b.channels[channel]
	if ok {
		st.confirmed = true
	}
	b.mu.Unlock()
	if ok {
		logger.SVCNotify.Info("subscription confirmed",
			slog.String("event", "notify.subscribed"),
			slog.String("channel", channel),
		)
	}
}

// dropChannel removes the channel and every mapping it carried after a
// failed join, so no stale entries remain. The bridge keeps operating for
// every other channel.
func (b *Bridge) dropChannel(channel string, cause error) {
	b.mu.Lock()
	removed := 0
	for key, sub := range b.subs {
		if sub.channel == channel {
			delete(b.subs, key)
			removed++
		}
	}
	delete(b.channels, channel)
	b.mu.Unlock()

	logger.SVCNotify.Error("subscription failed",
		slog.String("event", "notify.error"),
		slog.String("channel", channel),
		slog.Int("mappings", removed),
		slog.String("err", cause.Error()),
	)
}

// deliver fans one deposit event out to every mapping on the channel.
func (b *Bridge) deliver(channel string, ev DepositEvent) {
	type target struct {
		userID string
		chatID int64
	}
	b.mu.RLock()
	var targets []target
	for key, sub := range b.subs {
		if sub.channel == channel {
			targets = append(targets, target{userID: key.userID, chatID: sub.chatID})
		}
	}
	b.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	text, explorerURL := FormatDeposit(ev)
	for _, tgt := range targets {
		if err := b.messenger.Send(tgt.chatID, text, explorerURL); err != nil {
			// Delivery failures are isolated per user; the bridge stays up.
			logger.SVCNotify.Error("delivery failed",
				slog.String("event", "notify.deliver"),
				slog.String("user_id", tgt.userID),
				slog.Int64("chat_id", tgt.chatID),
				slog.String("err", err.Error()),
			)
			continue
		}
		logger.SVCNotify.Debug("deposit delivered",
			slog.String("event", "notify.deliver"),
			slog.String("user_id", tgt.userID),
			slog.String("tx_hash", ev.TxHash),
		)
	}
}

// release decrements the channel refcount and reports whether the caller
// must close the underlying subscription. Callers must hold the write lock.
func (b *Bridge) release(channel string) bool {
	st, ok := b.channels[channel]
	if !ok {
		return false
	}
	st.refs--
	if st.refs > 0 {
		return false
	}
	delete(b.channels, channel)
	return true
}

// Unsubscribe removes one mapping. The underlying channel subscription is
// closed only when no other user of the organization still references it.
// Missing mappings are a no-op.
func (b *Bridge) Unsubscribe(userID, orgID string) {
	key := subKey{userID: userID, orgID: orgID}
	b.mu.Lock()
	sub, ok := b.subs[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, key)
	last := b.release(sub.channel)
	b.mu.Unlock()

	if !last {
		return
	}
	if err := b.client.Unsubscribe(sub.channel); err != nil {
		logger.SVCNotify.Warn("unsubscribe failed",
			slog.String("event", "notify.unsubscribe"),
			slog.String("user_id", userID),
			slog.String("channel", sub.channel),
			slog.String("err", err.Error()),
		)
	}
}

// UnsubscribeAllForUser removes every mapping held by the user, tolerating
// and logging per-channel failures without aborting the rest. Channels
// still referenced by other users stay open.
func (b *Bridge) UnsubscribeAllForUser(userID string) {
	b.mu.Lock()
	removed := 0
	var closing []string
	for key, sub := range b.subs {
		if key.userID != userID {
			continue
		}
		delete(b.subs, key)
		removed++
		if b.release(sub.channel) {
			closing = append(closing, sub.channel)
		}
	}
	b.mu.Unlock()

	for _, channel := range closing {
		if err := b.client.Unsubscribe(channel); err != nil {
			logger.SVCNotify.Warn("unsubscribe failed",
				slog.String("event", "notify.unsubscribe_all"),
				slog.String("user_id", userID),
				slog.String("channel", channel),
				slog.String("err", err.Error()),
			)
		}
	}
	if removed > 0 {
		logger.SVCNotify.Info("user deauthorized",
			slog.String("event", "notify.unsubscribe_all"),
			slog.String("user_id", userID),
			slog.Int("subscriptions", removed),
		)
	}
}

// Subscribed reports whether a confirmed or pending mapping exists.
func (b *Bridge) Subscribed(userID, orgID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[subKey{userID: userID, orgID: orgID}]
	return ok
}

// ChatForChannel resolves a chat behind a channel name. The authorization
// handshake uses it to pick the session whose credential signs the join.
func (b *Bridge) ChatForChannel(channel string) (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.channel == channel {
			return sub.chatID, true
		}
	}
	return 0, false
}
