package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/paybot/assistant/auth"
	"github.com/m3rciful/paybot/assistant/backend"
	"github.com/m3rciful/paybot/assistant/scene"
	tghelpers "github.com/m3rciful/paybot/core/telegram/helpers"
	"github.com/m3rciful/paybot/core/telegram/keyboard"
)

// Scene IDs.
const (
	sceneLogin      = "login"
	sceneNewWallet  = "wallet_new"
	sceneSend       = "send"
	sceneDeposit    = "deposit"
	sceneKYCRemoval = "kyc_removal"
	sceneTxLookup   = "tx_lookup"
)

// Scene-local data keys. Values survive a JSON round trip through the
// session store, so only strings, float64s, and string maps are kept here.
const (
	dataEmail      = "email"
	dataWalletName = "wallet_name"
	dataWalletID   = "wallet_id"
	dataCurrency   = "currency"
	dataRecipient  = "recipient"
	dataAmount     = "amount"
	dataWallets    = "wallets"
	dataTxID       = "tx_id"
)

func cancelMarkup() *tele.ReplyMarkup {
	return keyboard.SingleCancelMarkup(scene.CancelKey)
}

// flowToken resolves a live bearer token inside a scene step. On failure the
// user is told why and the caller should end the scene.
func (h *Handlers) flowToken(f *scene.Flow) (string, bool) {
	s, err := h.Store.Get(f.Ctx, f.Update.ChatID)
	if err != nil {
		_ = f.Send(msgTemporaryFailure)
		return "", false
	}
	token, err := h.Auth.Credential(f.Ctx, s)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDecryption):
			_ = f.Send(msgSessionReset)
		case errors.Is(err, auth.ErrAuthExpired):
			_ = f.Send(msgLoginRequired)
		default:
			_ = f.Send(msgTemporaryFailure)
		}
		return "", false
	}
	return token, true
}

func isEmail(s string) bool {
	at := strings.Index(s, "@")
	return at > 0 && strings.Contains(s[at:], ".") && !strings.ContainsAny(s, " \t")
}

func (h *Handlers) loginScene() *scene.Scene {
	return &scene.Scene{
		ID: sceneLogin,
		OnEnter: func(f *scene.Flow) (scene.Result, error) {
			_ = f.Send(msgAskEmail, cancelMarkup())
			return scene.Stay, nil
		},
		Steps: []scene.Step{
			// Email -> request OTP.
			func(f *scene.Flow) (scene.Result, error) {
				email := strings.ToLower(strings.TrimSpace(f.Update.Text))
				if !isEmail(email) {
					_ = f.Send(msgBadEmail)
					return scene.Stay, nil
				}
				if err := h.Backend.RequestOTP(f.Ctx, email); err != nil {
					_ = f.Send(msgOTPSendFailed)
					return scene.End, nil
				}
				f.Set(dataEmail, email)
				_ = f.Send(fmt.Sprintf(msgOTPSent, email), cancelMarkup())
				return scene.Next, nil
			},
			// OTP code -> verify, rate limited per session.
			func(f *scene.Flow) (scene.Result, error) {
				chatID := f.Update.ChatID
				if h.Limiter.IsLimited(f.Ctx, chatID, otpLimit) {
					wait := h.Limiter.AvailableInText(f.Ctx, chatID, otpLimit.Key)
					_ = f.Send(fmt.Sprintf(msgOTPWait, wait))
					return scene.Stay, nil
				}
				info := h.Limiter.Increment(f.Ctx, chatID, otpLimit)

				code := strings.TrimSpace(f.Update.Text)
				res, err := h.Backend.VerifyOTP(f.Ctx, f.String(dataEmail), code)
				if err != nil {
					if errors.Is(err, backend.ErrInvalidCode) {
						if info.Exceeds {
							wait := h.Limiter.AvailableInText(f.Ctx, chatID, otpLimit.Key)
							_ = f.Send(fmt.Sprintf(msgOTPWait, wait))
						} else {
							_ = f.Send(fmt.Sprintf(msgOTPBad, info.Remaining))
						}
						return scene.Stay, nil
					}
					_ = f.Send(msgVerifyFailed)
					return scene.Stay, nil
				}

				if err := h.Auth.UpdateSessionAuth(f.Ctx, chatID, auth.BackendAuth{
					AccessToken:    res.AccessToken,
					ExpiresIn:      res.ExpiresIn,
					UserID:         res.UserID,
					OrganizationID: res.OrganizationID,
					Email:          res.Email,
				}); err != nil {
					_ = f.Send(msgTemporaryFailure)
					return scene.End, nil
				}
				h.Limiter.Clear(f.Ctx, chatID, otpLimit.Key)
				h.Bridge.Subscribe(res.UserID, res.OrganizationID, chatID)
				_ = f.Send(fmt.Sprintf(msgLoginDone, res.Email))
				return scene.End, nil
			},
		},
	}
}

func (h *Handlers) newWalletScene() *scene.Scene {
	return &scene.Scene{
		ID: sceneNewWallet,
		OnEnter: func(f *scene.Flow) (scene.Result, error) {
			_ = f.Send(msgAskWalletName, cancelMarkup())
			return scene.Stay, nil
		},
		Steps: []scene.Step{
			func(f *scene.Flow) (scene.Result, error) {
				name := strings.TrimSpace(f.Update.Text)
				if name == "" {
					_ = f.Send(msgAskWalletName)
					return scene.Stay, nil
				}
				f.Set(dataWalletName, name)
				buttons := make([]keyboard.InlineBtn, 0, len(supportedCurrencies))
				for _, cur := range supportedCurrencies {
					buttons = append(buttons, keyboard.InlineBtn{Text: cur, Unique: cbWalletCurrency, Data: cur})
				}
				markup := keyboard.InlineButtonsNPerRow(buttons, 2)
				markup.InlineKeyboard = append(markup.InlineKeyboard,
					cancelMarkup().InlineKeyboard...)
				_ = f.Send(msgAskCurrency, markup)
				return scene.Next, nil
			},
			func(f *scene.Flow) (scene.Result, error) {
				currency := ""
				if a := f.Update.Action; a != nil && a.Key == cbWalletCurrency {
					currency = a.Payload
				} else {
					currency = strings.ToUpper(strings.TrimSpace(f.Update.Text))
				}
				known := false
				for _, cur := range supportedCurrencies {
					if currency == cur {
						known = true
						break
					}
				}
				if !known {
					_ = f.Send(msgBadCurrency)
					return scene.Stay, nil
				}

				token, ok := h.flowToken(f)
				if !ok {
					return scene.End, nil
				}
				w, err := h.Backend.CreateWallet(f.Ctx, token, f.String(dataWalletName), currency)
				if err != nil {
					_ = f.Send(msgTemporaryFailure)
					return scene.End, nil
				}
				_ = f.Send(fmt.Sprintf(msgWalletCreated, w.Name, w.Currency, w.ID), tele.ModeMarkdown)
				return scene.End, nil
			},
		},
	}
}

// walletPicker sends the wallet list as inline buttons and records
// id -> currency into scene data for later steps.
func (h *Handlers) walletPicker(f *scene.Flow, unique string) (scene.Result, bool) {
	token, ok := h.flowToken(f)
	if !ok {
		return scene.End, false
	}
	wallets, err := h.Backend.Wallets(f.Ctx, token)
	if err != nil {
		_ = f.Send(msgTemporaryFailure)
		return scene.End, false
	}
	if len(wallets) == 0 {
		_ = f.Send(msgNoWallets)
		return scene.End, false
	}
	index := make(map[string]interface{}, len(wallets))
	buttons := make([]keyboard.InlineBtn, 0, len(wallets))
	for _, w := range wallets {
		index[w.ID] = w.Currency
		buttons = append(buttons, keyboard.InlineBtn{
			Text:   fmt.Sprintf("%s (%s)", w.Name, w.Currency),
			Unique: unique,
			Data:   w.ID,
		})
	}
	f.Set(dataWallets, index)
	markup := keyboard.InlineButtons(buttons)
	markup.InlineKeyboard = append(markup.InlineKeyboard, cancelMarkup().InlineKeyboard...)
	_ = f.Send(msgPickWallet, markup)
	return scene.Stay, true
}

// pickedWallet resolves the wallet chosen at a picker step.
func pickedWallet(f *scene.Flow, unique string) (id, currency string, ok bool) {
	if a := f.Update.Action; a != nil && a.Key == unique {
		id = a.Payload
	} else {
		id = strings.TrimSpace(f.Update.Text)
	}
	index, _ := f.Data[dataWallets].(map[string]interface{})
	cur, found := index[id]
	if !found {
		return "", "", false
	}
	currency, _ = cur.(string)
	return id, currency, true
}

func (h *Handlers) sendScene() *scene.Scene {
	return &scene.Scene{
		ID: sceneSend,
		OnEnter: func(f *scene.Flow) (scene.Result, error) {
			res, _ := h.walletPicker(f, cbSendWallet)
			return res, nil
		},
		Steps: []scene.Step{
			func(f *scene.Flow) (scene.Result, error) {
				id, currency, ok := pickedWallet(f, cbSendWallet)
				if !ok {
					_ = f.Send(msgBadWallet)
					return scene.Stay, nil
				}
				f.Set(dataWalletID, id)
				f.Set(dataCurrency, currency)
				_ = f.Send(msgAskRecipient, cancelMarkup())
				return scene.Next, nil
			},
			func(f *scene.Flow) (scene.Result, error) {
				recipient := strings.TrimSpace(f.Update.Text)
				if recipient == "" {
					_ = f.Send(msgBadRecipient)
					return scene.Stay, nil
				}
				f.Set(dataRecipient, recipient)
				_ = f.Send(msgAskAmount, cancelMarkup())
				return scene.Next, nil
			},
			func(f *scene.Flow) (scene.Result, error) {
				amount, ok := tghelpers.ParseAmount(f.Update.Text)
				if !ok {
					_ = f.Send(msgBadAmount)
					return scene.Stay, nil
				}
				f.Set(dataAmount, amount)
				markup := &tele.ReplyMarkup{}
				confirm := markup.Data("✅ Confirm", cbSendConfirm, "yes")
				cancel := keyboard.CancelButton(markup, scene.CancelKey)
				markup.Inline(markup.Row(confirm, cancel))
				text := fmt.Sprintf(msgConfirmSend,
					formatAmount(amount), f.String(dataCurrency), f.String(dataRecipient))
				_ = f.Send(text, markup, tele.ModeMarkdown)
				return scene.Next, nil
			},
			func(f *scene.Flow) (scene.Result, error) {
				a := f.Update.Action
				if a == nil || a.Key != cbSendConfirm || a.Payload != "yes" {
					return scene.Stay, nil
				}
				token, ok := h.flowToken(f)
				if !ok {
					return scene.End, nil
				}
				amount, _ := f.Float(dataAmount)
				tx, err := h.Backend.Transfer(f.Ctx, token, backend.TransferRequest{
					WalletID:  f.String(dataWalletID),
					Recipient: f.String(dataRecipient),
					Amount:    amount,
				})
				if err != nil {
					var upstream *backend.UpstreamError
					if errors.As(err, &upstream) {
						_ = f.Send(fmt.Sprintf(msgTransferFailed, upstream.Message))
					} else {
						_ = f.Send(msgTemporaryFailure)
					}
					return scene.End, nil
				}
				_ = f.Send(fmt.Sprintf(msgTransferDone, tx.ID, tx.Status), tele.ModeMarkdown)
				return scene.End, nil
			},
		},
	}
}

func (h *Handlers) depositScene() *scene.Scene {
	return &scene.Scene{
		ID: sceneDeposit,
		OnEnter: func(f *scene.Flow) (scene.Result, error) {
			// A pre-selected wallet skips the picker entirely.
			if id := f.String(dataWalletID); id != "" {
				h.showDepositAddress(f, id)
				return scene.End, nil
			}
			res, _ := h.walletPicker(f, cbDepositWallet)
			return res, nil
		},
		Steps: []scene.Step{
			func(f *scene.Flow) (scene.Result, error) {
				id, _, ok := pickedWallet(f, cbDepositWallet)
				if !ok {
					_ = f.Send(msgBadWallet)
					return scene.Stay, nil
				}
				h.showDepositAddress(f, id)
				return scene.End, nil
			},
		},
	}
}

func (h *Handlers) showDepositAddress(f *scene.Flow, walletID string) {
	token, ok := h.flowToken(f)
	if !ok {
		return
	}
	addr, err := h.Backend.DepositAddress(f.Ctx, token, walletID)
	if err != nil {
		_ = f.Send(msgTemporaryFailure)
		return
	}
	text := fmt.Sprintf(msgDepositAddress, shortID(addr.WalletID), addr.Network, addr.Address)
	if addr.Memo != "" {
		text += fmt.Sprintf(msgDepositMemo, addr.Memo)
	}
	_ = f.Send(text, tele.ModeMarkdown)
}

func (h *Handlers) kycRemovalScene() *scene.Scene {
	return &scene.Scene{
		ID: sceneKYCRemoval,
		OnEnter: func(f *scene.Flow) (scene.Result, error) {
			token, ok := h.flowToken(f)
			if !ok {
				return scene.End, nil
			}
			status, err := h.Backend.KYCStatus(f.Ctx, token)
			if err != nil {
				_ = f.Send(msgTemporaryFailure)
				return scene.End, nil
			}
			if status.Status == "" || status.Status == "not_started" {
				_ = f.Send(msgKYCNotStarted)
				return scene.End, nil
			}
			markup := &tele.ReplyMarkup{}
			yes := markup.Data("🗑 Remove", cbKYCConfirm, "yes")
			no := markup.Data("Keep", cbKYCConfirm, "no")
			markup.Inline(markup.Row(yes, no))
			text := fmt.Sprintf(msgKYCStatus, status.Status, status.Level) + "\n\n" + msgKYCConfirm
			_ = f.Send(text, markup, tele.ModeMarkdown)
			return scene.Stay, nil
		},
		Steps: []scene.Step{
			func(f *scene.Flow) (scene.Result, error) {
				a := f.Update.Action
				if a == nil || a.Key != cbKYCConfirm {
					return scene.Stay, nil
				}
				if a.Payload != "yes" {
					_ = f.Send(msgKYCKept)
					return scene.End, nil
				}
				token, ok := h.flowToken(f)
				if !ok {
					return scene.End, nil
				}
				if err := h.Backend.RemoveKYC(f.Ctx, token); err != nil {
					_ = f.Send(msgTemporaryFailure)
					return scene.End, nil
				}
				_ = f.Send(msgKYCRemoved)
				return scene.End, nil
			},
		},
	}
}

func (h *Handlers) txLookupScene() *scene.Scene {
	return &scene.Scene{
		ID: sceneTxLookup,
		OnEnter: func(f *scene.Flow) (scene.Result, error) {
			// An ID handed over via command payload or callback resolves
			// immediately without prompting.
			if id := f.String(dataTxID); id != "" {
				h.showTransaction(f, id)
				return scene.End, nil
			}
			_ = f.Send(msgAskTxID, cancelMarkup())
			return scene.Stay, nil
		},
		Steps: []scene.Step{
			func(f *scene.Flow) (scene.Result, error) {
				id := strings.TrimSpace(f.Update.Text)
				if id == "" {
					_ = f.Send(msgAskTxID)
					return scene.Stay, nil
				}
				h.showTransaction(f, id)
				return scene.End, nil
			},
		},
	}
}

func (h *Handlers) showTransaction(f *scene.Flow, id string) {
	token, ok := h.flowToken(f)
	if !ok {
		return
	}
	tx, err := h.Backend.Transaction(f.Ctx, token, id)
	if err != nil {
		var upstream *backend.UpstreamError
		if errors.As(err, &upstream) && upstream.Status == http.StatusNotFound {
			_ = f.Send(msgTxNotFound)
			return
		}
		_ = f.Send(msgTemporaryFailure)
		return
	}
	_ = f.Send(renderTransaction(tx), tele.ModeMarkdown)
}
