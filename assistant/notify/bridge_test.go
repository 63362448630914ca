package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel records subscribe calls and exposes the callbacks so tests
// can drive confirmations and events.
type fakeChannel struct {
	subscribes   []string
	unsubscribes []string
	callbacks    map[string]Callbacks
	subscribeErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{callbacks: make(map[string]Callbacks)}
}

func (f *fakeChannel) Subscribe(channel string, cb Callbacks) error {
	f.subscribes = append(f.subscribes, channel)
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.callbacks[channel] = cb
	return nil
}

func (f *fakeChannel) Unsubscribe(channel string) error {
	f.unsubscribes = append(f.unsubscribes, channel)
	delete(f.callbacks, channel)
	return nil
}

type delivery struct {
	chatID      int64
	text        string
	explorerURL string
}

type fakeMessenger struct {
	sent    []delivery
	sendErr error
}

func (f *fakeMessenger) Send(chatID int64, text, explorerURL string) error {
	f.sent = append(f.sent, delivery{chatID: chatID, text: text, explorerURL: explorerURL})
	return f.sendErr
}

func TestBridgeSubscribeIsIdempotent(t *testing.T) {
	ch := newFakeChannel()
	b := NewBridge(ch, &fakeMessenger{})

	assert.True(t, b.Subscribe("user-1", "org-1", 10))
	assert.True(t, b.Subscribe("user-1", "org-1", 10))

	require.Len(t, ch.subscribes, 1, "second subscribe must not hit the channel service")
	assert.Equal(t, "private-org-org-1-deposits", ch.subscribes[0])
	assert.True(t, b.Subscribed("user-1", "org-1"))
}

func TestBridgeDeliversDeposits(t *testing.T) {
	ch := newFakeChannel()
	msgr := &fakeMessenger{}
	b := NewBridge(ch, msgr)

	require.True(t, b.Subscribe("user-1", "org-1", 10))
	cb := ch.callbacks["private-org-org-1-deposits"]
	cb.OnSuccess()

	cb.OnDeposit(DepositEvent{
		Title:     "Deposit received",
		Amount:    25.5,
		Currency:  "USDT",
		Network:   "Ethereum",
		TxHash:    "0xabcdef1234567890",
		Timestamp: time.Now(),
	})

	require.Len(t, msgr.sent, 1)
	assert.Equal(t, int64(10), msgr.sent[0].chatID)
	assert.Contains(t, msgr.sent[0].text, "25.5")
	assert.Contains(t, msgr.sent[0].explorerURL, "0xabcdef1234567890")
}

func TestBridgeSubscribeErrorRemovesMapping(t *testing.T) {
	ch := newFakeChannel()
	ch.subscribeErr = errors.New("dial failed")
	b := NewBridge(ch, &fakeMessenger{})

	assert.False(t, b.Subscribe("user-1", "org-1", 10))
	assert.False(t, b.Subscribed("user-1", "org-1"))

	// The slot is free for a retry.
	ch.subscribeErr = nil
	assert.True(t, b.Subscribe("user-1", "org-1", 10))
	assert.Len(t, ch.subscribes, 2)
}

func TestBridgeAsyncErrorDropsSubscription(t *testing.T) {
	ch := newFakeChannel()
	b := NewBridge(ch, &fakeMessenger{})

	require.True(t, b.Subscribe("user-1", "org-1", 10))
	cb := ch.callbacks["private-org-org-1-deposits"]
	cb.OnError(errors.New("authorization rejected"))

	assert.False(t, b.Subscribed("user-1", "org-1"))
}

func TestBridgeDeliveryFailureIsIsolated(t *testing.T) {
	ch := newFakeChannel()
	msgr := &fakeMessenger{sendErr: errors.New("blocked by user")}
	b := NewBridge(ch, msgr)

	require.True(t, b.Subscribe("user-1", "org-1", 10))
	require.True(t, b.Subscribe("user-2", "org-2", 20))
	cb1 := ch.callbacks["private-org-org-1-deposits"]
	cb2 := ch.callbacks["private-org-org-2-deposits"]

	cb1.OnDeposit(DepositEvent{Amount: 1, Currency: "USDT"})

	// The failed delivery does not tear anything down.
	assert.True(t, b.Subscribed("user-1", "org-1"))

	msgr.sendErr = nil
	cb2.OnDeposit(DepositEvent{Amount: 2, Currency: "USDC"})
	require.Len(t, msgr.sent, 2)
	assert.Equal(t, int64(20), msgr.sent[1].chatID)
}

func TestBridgeUnsubscribeAllForUser(t *testing.T) {
	ch := newFakeChannel()
	b := NewBridge(ch, &fakeMessenger{})

	require.True(t, b.Subscribe("user-1", "org-1", 10))
	require.True(t, b.Subscribe("user-1", "org-2", 10))
	require.True(t, b.Subscribe("user-2", "org-1", 20))

	b.UnsubscribeAllForUser("user-1")

	assert.False(t, b.Subscribed("user-1", "org-1"))
	assert.False(t, b.Subscribed("user-1", "org-2"))
	assert.True(t, b.Subscribed("user-2", "org-1"))
	// org-1's channel is still referenced by user-2, so only org-2's closes.
	assert.Equal(t, []string{"private-org-org-2-deposits"}, ch.unsubscribes)
}

func TestBridgeSharedChannelJoinsOnce(t *testing.T) {
	ch := newFakeChannel()
	msgr := &fakeMessenger{}
	b := NewBridge(ch, msgr)

	require.True(t, b.Subscribe("user-1", "org-1", 10))
	require.True(t, b.Subscribe("user-2", "org-1", 20))
	require.Len(t, ch.subscribes, 1, "one organization means one channel join")

	cb := ch.callbacks["private-org-org-1-deposits"]
	cb.OnSuccess()
	cb.OnDeposit(DepositEvent{Amount: 5, Currency: "USDT"})

	require.Len(t, msgr.sent, 2, "every subscriber of the organization gets the event")
	chats := []int64{msgr.sent[0].chatID, msgr.sent[1].chatID}
	assert.ElementsMatch(t, []int64{10, 20}, chats)
}

func TestBridgeSharedChannelSurvivesPeerUnsubscribe(t *testing.T) {
	ch := newFakeChannel()
	msgr := &fakeMessenger{}
	b := NewBridge(ch, msgr)

	require.True(t, b.Subscribe("user-1", "org-1", 10))
	require.True(t, b.Subscribe("user-2", "org-1", 20))

	b.Unsubscribe("user-1", "org-1")

	assert.Empty(t, ch.unsubscribes, "channel still referenced by user-2")
	assert.False(t, b.Subscribed("user-1", "org-1"))
	assert.True(t, b.Subscribed("user-2", "org-1"))

	cb := ch.callbacks["private-org-org-1-deposits"]
	cb.OnDeposit(DepositEvent{Amount: 7, Currency: "USDC"})
	require.Len(t, msgr.sent, 1)
	assert.Equal(t, int64(20), msgr.sent[0].chatID)

	b.Unsubscribe("user-2", "org-1")
	assert.Equal(t, []string{"private-org-org-1-deposits"}, ch.unsubscribes)
}

func TestBridgeChatForChannel(t *testing.T) {
	ch := newFakeChannel()
	b := NewBridge(ch, &fakeMessenger{})

	require.True(t, b.Subscribe("user-1", "org-1", 10))

	chatID, ok := b.ChatForChannel("private-org-org-1-deposits")
	require.True(t, ok)
	assert.Equal(t, int64(10), chatID)

	_, ok = b.ChatForChannel("private-org-other-deposits")
	assert.False(t, ok)
}
