package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDepositFull(t *testing.T) {
	ts := time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC)
	text, url := FormatDeposit(DepositEvent{
		Title:     "Incoming deposit",
		Amount:    100.25,
		Currency:  "USDT",
		Network:   "Ethereum",
		TxHash:    "0x1234567890abcdef1234567890abcdef",
		Timestamp: ts,
		Note:      "invoice #42",
	})

	assert.Contains(t, text, "💰 Incoming deposit")
	assert.Contains(t, text, "Amount: 100.25 USDT")
	assert.Contains(t, text, "Network: Ethereum")
	assert.Contains(t, text, "Note: invoice #42")
	assert.Contains(t, text, "2026-08-30 14:05 UTC")
	// Long hashes are shortened in the text but whole in the link.
	assert.Contains(t, text, "0x123456…abcdef")
	assert.Equal(t, "https://etherscan.io/tx/0x1234567890abcdef1234567890abcdef", url)
}

func TestFormatDepositFallbacks(t *testing.T) {
	text, url := FormatDeposit(DepositEvent{Amount: 1, Currency: "BTC"})

	assert.Contains(t, text, "💰 Deposit received")
	assert.Contains(t, text, "Network: Unknown Network")
	assert.Contains(t, text, "Received: just now")
	assert.NotContains(t, text, "Tx:")
	assert.Empty(t, url)
}

func TestFormatDepositNoLinkWithoutNetwork(t *testing.T) {
	_, url := FormatDeposit(DepositEvent{
		Amount:   5,
		Currency: "USDT",
		TxHash:   "0xdeadbeef",
	})
	assert.Empty(t, url, "a hash without a network cannot be linked")
}

func TestFormatDepositUnknownNetwork(t *testing.T) {
	text, url := FormatDeposit(DepositEvent{
		Amount:   5,
		Currency: "USDT",
		Network:  "Customnet",
		TxHash:   "0xdeadbeef",
	})
	assert.Contains(t, text, "Network: Customnet")
	assert.Contains(t, text, "Tx: 0xdeadbeef")
	assert.Empty(t, url)
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "private-org-abc123-deposits", ChannelName("abc123"))
}
