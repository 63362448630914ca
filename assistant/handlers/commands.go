package handlers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/paybot/assistant/backend"
	"github.com/m3rciful/paybot/assistant/session"
	"github.com/m3rciful/paybot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/paybot/core/telegram/helpers"
	"github.com/m3rciful/paybot/core/telegram/keyboard"
)

func (h *Handlers) cmdStart(c tele.Context) error {
	return tghelpers.SendText(c, msgWelcome)
}

func (h *Handlers) cmdHelp(c tele.Context) error {
	var b strings.Builder
	b.WriteString("Here's what I can do:\n\n")
	for _, line := range []string{
		"/login — sign in with your email",
		"/wallets — list your wallets",
		"/newwallet — create a wallet",
		"/send — send funds",
		"/deposit — show a deposit address",
		"/transactions — recent activity",
		"/tx — transaction details",
		"/kyc — verification status",
		"/settings — display preferences",
		"/cancel — abort the current action",
		"/logout — sign out",
	} {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return tghelpers.SendText(c, b.String())
}

func (h *Handlers) cmdLogin(c tele.Context) error {
	s, _, ok := h.currentSession(c)
	if !ok {
		return nil
	}
	if h.Auth.IsAuthenticated(s) {
		return tghelpers.SendText(c, msgAlreadyLoggedIn)
	}
	return h.Scenes.Enter(c, sceneLogin, nil)
}

func (h *Handlers) cmdLogout(c tele.Context) error {
	s, ctx, ok := h.currentSession(c)
	if !ok {
		return nil
	}
	if err := h.Auth.Logout(ctx, s); err != nil {
		return tghelpers.SendText(c, msgTemporaryFailure)
	}
	return tghelpers.SendText(c, msgLoggedOut)
}

func (h *Handlers) cmdWallets(c tele.Context) error {
	_, ctx, token, ok := h.requireAuth(c)
	if !ok {
		return nil
	}
	wallets, err := h.Backend.Wallets(ctx, token)
	if err != nil {
		return h.sendUpstream(c, err)
	}
	if len(wallets) == 0 {
		return tghelpers.SendText(c, msgNoWallets)
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].Name < wallets[j].Name })
	var b strings.Builder
	b.WriteString("Your wallets:\n\n")
	for _, w := range wallets {
		b.WriteString(renderWalletLine(w))
		b.WriteByte('\n')
	}
	return tghelpers.SendMD(c, b.String())
}

func (h *Handlers) cmdNewWallet(c tele.Context) error {
	if _, _, _, ok := h.requireAuth(c); !ok {
		return nil
	}
	return h.Scenes.Enter(c, sceneNewWallet, nil)
}

func (h *Handlers) cmdSend(c tele.Context) error {
	if _, _, _, ok := h.requireAuth(c); !ok {
		return nil
	}
	return h.Scenes.Enter(c, sceneSend, nil)
}

func (h *Handlers) cmdDeposit(c tele.Context) error {
	if _, _, _, ok := h.requireAuth(c); !ok {
		return nil
	}
	// A wallet ID given as the command payload skips the picker step.
	var initial map[string]interface{}
	if arg := strings.TrimSpace(c.Message().Payload); arg != "" {
		initial = map[string]interface{}{dataWalletID: arg}
	}
	return h.Scenes.Enter(c, sceneDeposit, initial)
}

func (h *Handlers) cmdTransactions(c tele.Context) error {
	_, ctx, token, ok := h.requireAuth(c)
	if !ok {
		return nil
	}
	var since *time.Time
	if payload := strings.TrimSpace(c.Message().Payload); payload != "" {
		t, parsed := tghelpers.ParseFlexibleDate(payload)
		if !parsed {
			return tghelpers.SendText(c, msgBadDate)
		}
		since = &t
	}
	txs, err := h.Backend.Transactions(ctx, token, since, 10)
	if err != nil {
		return h.sendUpstream(c, err)
	}
	if len(txs) == 0 {
		return tghelpers.SendText(c, msgNoTransactions)
	}
	var b strings.Builder
	b.WriteString("Recent transactions:\n\n")
	buttons := make([]keyboard.InlineBtn, 0, len(txs))
	for _, tx := range txs {
		b.WriteString(renderTransactionLine(tx))
		b.WriteByte('\n')
		buttons = append(buttons, keyboard.InlineBtn{
			Text:   shortID(tx.ID),
			Unique: cbTxDetail,
			Data:   tx.ID,
		})
	}
	return tghelpers.SendMD(c, b.String(), keyboard.InlineButtonsNPerRow(buttons, 2))
}

func (h *Handlers) cmdTx(c tele.Context) error {
	if _, _, _, ok := h.requireAuth(c); !ok {
		return nil
	}
	var initial map[string]interface{}
	if arg := strings.TrimSpace(c.Message().Payload); arg != "" {
		initial = map[string]interface{}{dataTxID: arg}
	}
	return h.Scenes.Enter(c, sceneTxLookup, initial)
}

// cbTxDetail opens the lookup scene with the ID pre-filled, so the scene
// short-circuits straight to rendering the transaction.
func (h *Handlers) cbTxDetail(c tele.Context) error {
	id := callbacks.CallbackPayload(c)
	if id == "" {
		return nil
	}
	return h.Scenes.Enter(c, sceneTxLookup, map[string]interface{}{dataTxID: id})
}

func (h *Handlers) cmdKYC(c tele.Context) error {
	if _, _, _, ok := h.requireAuth(c); !ok {
		return nil
	}
	return h.Scenes.Enter(c, sceneKYCRemoval, nil)
}

func (h *Handlers) cmdSettings(c tele.Context) error {
	s, _, ok := h.currentSession(c)
	if !ok {
		return nil
	}
	prefs := s.Prefs
	if prefs == nil {
		prefs = &session.Preferences{}
	}
	currency := prefs.Currency
	if currency == "" {
		currency = "USD"
	}
	locale := prefs.Locale
	if locale == "" {
		locale = "en"
	}
	buttons := make([]keyboard.InlineBtn, 0, len(displayCurrencies))
	for _, cur := range displayCurrencies {
		buttons = append(buttons, keyboard.InlineBtn{Text: cur, Unique: cbPrefCurrency, Data: cur})
	}
	text := fmt.Sprintf(msgSettings, currency, locale)
	return tghelpers.SendMD(c, text, keyboard.InlineButtonsNPerRow(buttons, len(buttons)))
}

func (h *Handlers) cbPrefCurrency(c tele.Context) error {
	cur := callbacks.CallbackPayload(c)
	valid := false
	for _, known := range displayCurrencies {
		if cur == known {
			valid = true
			break
		}
	}
	if !valid {
		return nil
	}
	s, ctx, ok := h.currentSession(c)
	if !ok {
		return nil
	}
	prefs := s.Prefs
	if prefs == nil {
		prefs = &session.Preferences{}
	}
	prefs.Currency = cur
	if err := h.Store.PutPrefs(ctx, s.ChatID, prefs); err != nil {
		return tghelpers.SendText(c, msgTemporaryFailure)
	}
	return tghelpers.SendMD(c, fmt.Sprintf(msgPrefSet, cur))
}

func (h *Handlers) cmdCancel(c tele.Context) error {
	if !h.Scenes.InProgress(c.Chat().ID) {
		return tghelpers.SendText(c, msgNothingToCancel)
	}
	if err := h.Scenes.Leave(c); err != nil {
		return tghelpers.SendText(c, msgTemporaryFailure)
	}
	return tghelpers.SendText(c, msgCancelled)
}

// sendUpstream maps a backend failure to a user-facing reply.
func (h *Handlers) sendUpstream(c tele.Context, err error) error {
	var upstream *backend.UpstreamError
	if errors.As(err, &upstream) && upstream.Unauthorized() {
		return tghelpers.SendText(c, msgLoginRequired)
	}
	return tghelpers.SendText(c, msgTemporaryFailure)
}
