package notify

import (
	"fmt"
	"strconv"
	"strings"
)

// explorerBases maps lowercase network names to transaction explorer URLs.
var explorerBases = map[string]string{
	"ethereum": "https://etherscan.io/tx/",
	"polygon":  "https://polygonscan.com/tx/",
	"bitcoin":  "https://mempool.space/tx/",
	"tron":     "https://tronscan.org/#/transaction/",
	"solana":   "https://solscan.io/tx/",
}

const (
	fallbackTitle   = "Deposit received"
	fallbackNetwork = "Unknown Network"
	fallbackTime    = "just now"
)

// FormatDeposit renders a deposit event into the notification text and an
// optional explorer deep link. Missing fields degrade to placeholders; the
// explorer link is suppressed entirely when TxHash or Network is absent.
func FormatDeposit(ev DepositEvent) (text, explorerURL string) {
	title := strings.TrimSpace(ev.Title)
	if title == "" {
		title = fallbackTitle
	}
	network := strings.TrimSpace(ev.Network)
	if network == "" {
		network = fallbackNetwork
	}
	when := fallbackTime
	if !ev.Timestamp.IsZero() {
		when = ev.Timestamp.UTC().Format("2006-01-02 15:04 UTC")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "💰 %s\n\n", title)
	fmt.Fprintf(&sb, "Amount: %s %s\n", formatAmount(ev.Amount), ev.Currency)
	fmt.Fprintf(&sb, "Network: %s\n", network)
	if ev.TxHash != "" {
		fmt.Fprintf(&sb, "Tx: %s\n", shortHash(ev.TxHash))
	}
	if note := strings.TrimSpace(ev.Note); note != "" {
		fmt.Fprintf(&sb, "Note: %s\n", note)
	}
	fmt.Fprintf(&sb, "Received: %s", when)

	if ev.TxHash != "" && ev.Network != "" {
		if base, ok := explorerBases[strings.ToLower(ev.Network)]; ok {
			explorerURL = base + ev.TxHash
		}
	}
	return sb.String(), explorerURL
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func shortHash(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:8] + "…" + hash[len(hash)-6:]
}
