package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/m3rciful/paybot/assistant/backend"
	"github.com/m3rciful/paybot/core/telegram/format"
)

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// escapeMD guards upstream-supplied text that lands inside Markdown messages.
func escapeMD(text string) string {
	escaped, err := format.EscapeMarkdown(text, format.MarkdownV1, "")
	if err != nil {
		return text
	}
	return escaped
}

func shortID(id string) string {
	if len(id) <= 10 {
		return id
	}
	return id[:10] + "…"
}

func renderWalletLine(w backend.Wallet) string {
	line := fmt.Sprintf("💳 *%s* — %s %s", escapeMD(w.Name), formatAmount(w.Balance), w.Currency)
	if w.Network != "" {
		line += " (" + w.Network + ")"
	}
	return line + "\n`" + w.ID + "`"
}

func renderTransactionLine(tx backend.Transaction) string {
	icon := "↕️"
	switch strings.ToLower(tx.Type) {
	case "deposit":
		icon = "📥"
	case "withdrawal", "transfer":
		icon = "📤"
	}
	return fmt.Sprintf("%s %s %s · %s · %s",
		icon, formatAmount(tx.Amount), tx.Currency, tx.Status,
		tx.CreatedAt.Format("Jan 2 15:04"))
}

func renderTransaction(tx *backend.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transaction `%s`\n\n", tx.ID)
	fmt.Fprintf(&b, "Type: %s\nStatus: %s\nAmount: %s %s\n",
		tx.Type, tx.Status, formatAmount(tx.Amount), tx.Currency)
	if tx.Network != "" {
		fmt.Fprintf(&b, "Network: %s\n", tx.Network)
	}
	if tx.TxHash != "" {
		fmt.Fprintf(&b, "Hash: `%s`\n", tx.TxHash)
	}
	if tx.Note != "" {
		fmt.Fprintf(&b, "Note: %s\n", escapeMD(tx.Note))
	}
	fmt.Fprintf(&b, "Created: %s", tx.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	return b.String()
}
