// Package handlers wires bot commands, callbacks, and conversation scenes
// to the assistant services: session store, credential manager, rate
// limiter, scene engine, notification bridge, and the payments backend.
package handlers

import (
	"context"
	"errors"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/paybot/assistant/auth"
	"github.com/m3rciful/paybot/assistant/backend"
	"github.com/m3rciful/paybot/assistant/ratelimit"
	"github.com/m3rciful/paybot/assistant/scene"
	"github.com/m3rciful/paybot/assistant/session"
	tg "github.com/m3rciful/paybot/core/telegram"
	"github.com/m3rciful/paybot/core/telegram/commands"
	tghelpers "github.com/m3rciful/paybot/core/telegram/helpers"
	"github.com/m3rciful/paybot/core/telegram/ui"
)

// PaymentsAPI is the slice of the backend client the handlers depend on.
type PaymentsAPI interface {
	RequestOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (*backend.AuthResult, error)
	Wallets(ctx context.Context, token string) ([]backend.Wallet, error)
	CreateWallet(ctx context.Context, token, name, currency string) (*backend.Wallet, error)
	DepositAddress(ctx context.Context, token, walletID string) (*backend.DepositAddress, error)
	Transfer(ctx context.Context, token string, req backend.TransferRequest) (*backend.Transaction, error)
	Transactions(ctx context.Context, token string, since *time.Time, limit int) ([]backend.Transaction, error)
	Transaction(ctx context.Context, token, id string) (*backend.Transaction, error)
	KYCStatus(ctx context.Context, token string) (*backend.KYCStatus, error)
	RemoveKYC(ctx context.Context, token string) error
}

// Subscriber opens realtime deposit subscriptions once a session
// authenticates.
type Subscriber interface {
	Subscribe(userID, orgID string, chatID int64) bool
}

// Handlers bundles the services behind the bot surface.
type Handlers struct {
	Store   session.Store
	Auth    *auth.Manager
	Limiter *ratelimit.Limiter
	Backend PaymentsAPI
	Bridge  Subscriber
	Scenes  *scene.Adapter
}

// otpLimit guards OTP verification attempts per session.
var otpLimit = ratelimit.Config{Key: "otp_verify", MaxAttempts: 3, DecaySeconds: 60}

// Register wires every command, callback, and scene into the registries.
func (h *Handlers) Register(reg *tg.Registry, scenes *scene.Registry) error {
	if err := h.registerScenes(scenes); err != nil {
		return err
	}

	reg.RegisterCommand("/start", commands.Command{Handler: h.cmdStart, Description: "Welcome and quick help"})
	reg.RegisterCommand("/help", commands.Command{Handler: h.cmdHelp, Description: "List available commands"})
	reg.RegisterCommand("/login", commands.Command{Handler: h.cmdLogin, Description: "Sign in with your email"})
	reg.RegisterCommand("/logout", commands.Command{Handler: h.cmdLogout, Description: "Sign out of this chat"})
	reg.RegisterCommand("/wallets", commands.Command{Handler: h.cmdWallets, Description: "List your wallets"})
	reg.RegisterCommand("/newwallet", commands.Command{Handler: h.cmdNewWallet, Description: "Create a wallet"})
	reg.RegisterCommand("/send", commands.Command{Handler: h.cmdSend, Description: "Send funds"})
	reg.RegisterCommand("/deposit", commands.Command{Handler: h.cmdDeposit, Description: "Show a deposit address"})
	reg.RegisterCommand("/transactions", commands.Command{Handler: h.cmdTransactions, Description: "Recent transactions", Aliases: []string{"txs"}})
	reg.RegisterCommand("/tx", commands.Command{Handler: h.cmdTx, Description: "Transaction details"})
	reg.RegisterCommand("/kyc", commands.Command{Handler: h.cmdKYC, Description: "Verification status"})
	reg.RegisterCommand("/settings", commands.Command{Handler: h.cmdSettings, Description: "Display preferences"})
	reg.RegisterCommand("/cancel", commands.Command{Handler: h.cmdCancel, Description: "Cancel the current action"})

	// Scene-owned callbacks are forwarded into the engine, which routes
	// them to the current step of the active scene.
	forward := func(c tele.Context) error { return h.Scenes.ManagerHandler(c) }
	for _, key := range []string{
		scene.CancelKey,
		cbSendWallet,
		cbDepositWallet,
		cbWalletCurrency,
		cbSendConfirm,
		cbKYCConfirm,
	} {
		if err := reg.RegisterCallback(key, forward); err != nil {
			return err
		}
	}
	if err := reg.RegisterCallback(cbTxDetail, h.cbTxDetail); err != nil {
		return err
	}
	if err := reg.RegisterCallback(cbPrefCurrency, h.cbPrefCurrency); err != nil {
		return err
	}

	reg.SetTextFallback(func(c tele.Context) error {
		return tghelpers.SendText(c, msgUnknownInput)
	})
	return nil
}

// Fallbacks returns the handlers for updates nothing else claimed.
func (h *Handlers) Fallbacks() ui.FallbackProvider {
	return fallbacks{}
}

type fallbacks struct{}

func (fallbacks) UnknownText() tele.HandlerFunc {
	return func(c tele.Context) error { return tghelpers.SendText(c, msgUnknownInput) }
}

func (fallbacks) UnknownDocument() tele.HandlerFunc {
	return func(c tele.Context) error { return tghelpers.SendText(c, msgUnknownInput) }
}

// UnknownCallback answers silently: stale buttons from edited messages are
// expected after deploys.
func (fallbacks) UnknownCallback() tele.HandlerFunc {
	return func(c tele.Context) error { return nil }
}

func (h *Handlers) registerScenes(scenes *scene.Registry) error {
	for _, s := range []*scene.Scene{
		h.loginScene(),
		h.newWalletScene(),
		h.sendScene(),
		h.depositScene(),
		h.kycRemovalScene(),
		h.txLookupScene(),
	} {
		if err := scenes.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// currentSession loads the caller's session record, degrading to a generic
// message when the store is unavailable.
func (h *Handlers) currentSession(c tele.Context) (*session.Session, context.Context, bool) {
	ctx := tghelpers.BuildContext(c)
	s, err := tghelpers.CurrentSession[*session.Session](ctx, h.Store, c.Chat().ID)
	if err != nil {
		_ = tghelpers.SendText(c, msgTemporaryFailure)
		return nil, ctx, false
	}
	return s, ctx, true
}

// requireAuth resolves the session and a live bearer token for a single
// outbound call, prompting re-login when the credential is gone.
func (h *Handlers) requireAuth(c tele.Context) (*session.Session, context.Context, string, bool) {
	s, ctx, ok := h.currentSession(c)
	if !ok {
		return nil, ctx, "", false
	}
	token, err := h.Auth.Credential(ctx, s)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDecryption):
			_ = tghelpers.SendText(c, msgSessionReset)
		case errors.Is(err, auth.ErrAuthExpired):
			_ = tghelpers.SendText(c, msgLoginRequired)
		default:
			_ = tghelpers.SendText(c, msgTemporaryFailure)
		}
		return nil, ctx, "", false
	}
	return s, ctx, token, true
}
