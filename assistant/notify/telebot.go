package notify

import (
	"fmt"
	"sync"

	tele "gopkg.in/telebot.v4"
)

// TelegramMessenger delivers bridge notifications through the bot. Unlike
// handler replies there is no tele.Context here: events originate on the
// channel service, not from an inbound update. The bot handle is attached
// at startup, after the transport is built.
type TelegramMessenger struct {
	mu  sync.RWMutex
	bot *tele.Bot
}

// SetBot attaches the live bot handle.
func (m *TelegramMessenger) SetBot(bot *tele.Bot) {
	m.mu.Lock()
	m.bot = bot
	m.mu.Unlock()
}

// Send posts the notification, attaching an explorer deep-link button when
// a URL is available.
func (m *TelegramMessenger) Send(chatID int64, text, explorerURL string) error {
	m.mu.RLock()
	bot := m.bot
	m.mu.RUnlock()
	if bot == nil {
		return fmt.Errorf("notify: bot not started")
	}
	opts := &tele.SendOptions{}
	if explorerURL != "" {
		markup := &tele.ReplyMarkup{}
		markup.Inline(markup.Row(markup.URL("🔎 View on Explorer", explorerURL)))
		opts.ReplyMarkup = markup
	}
	_, err := bot.Send(tele.ChatID(chatID), text, opts)
	return err
}
