package handlers

// Callback keys owned by the handlers package. Scene-bound keys are routed
// through the engine; the rest have dedicated handlers.
const (
	cbSendWallet     = "send_wallet"
	cbDepositWallet  = "deposit_wallet"
	cbWalletCurrency = "wallet_currency"
	cbSendConfirm    = "send_confirm"
	cbKYCConfirm     = "kyc_confirm"
	cbTxDetail       = "tx_detail"
	cbPrefCurrency   = "pref_currency"
)

const (
	msgWelcome = "Hi! I'm your payments assistant.\n\n" +
		"Use /login to connect your account, then /wallets, /send and " +
		"/deposit to manage funds. /help lists everything I can do."

	msgLoginRequired    = "You need to sign in first. Use /login."
	msgAlreadyLoggedIn  = "You are already signed in. Use /logout to switch accounts."
	msgSessionReset     = "Your saved session could not be restored, so I signed you out. Please /login again."
	msgTemporaryFailure = "Something went wrong on my side. Please try again in a moment."
	msgUnknownInput     = "I didn't catch that. Use /help to see what I can do."
	msgCancelled        = "Cancelled."
	msgNothingToCancel  = "Nothing to cancel."
	msgLoggedOut        = "You are signed out. Deposit notifications for this chat are off."

	msgAskEmail       = "What's the email on your account?"
	msgBadEmail       = "That doesn't look like an email address. Try again or /cancel."
	msgOTPSent        = "I've sent a 6-digit code to %s. Enter it here."
	msgOTPBad         = "That code is not right. %d attempts left."
	msgOTPWait        = "Too many attempts. Try again in %s."
	msgLoginDone      = "✅ Signed in as %s. Deposit notifications are on for this chat."
	msgOTPSendFailed  = "I couldn't send the code right now. Please try /login again later."
	msgVerifyFailed   = "Verification failed on the backend side. Please try again."

	msgAskWalletName  = "Name for the new wallet?"
	msgAskCurrency    = "Pick a currency:"
	msgBadCurrency    = "Pick one of the currency buttons, or /cancel."
	msgWalletCreated  = "✅ Wallet *%s* (%s) created.\nID: `%s`"
	msgNoWallets      = "You have no wallets yet. Create one with /newwallet."
	msgPickWallet     = "Which wallet?"
	msgBadWallet      = "Pick one of the wallet buttons, or /cancel."

	msgAskRecipient   = "Recipient address?"
	msgBadRecipient   = "That address looks empty. Send the recipient address or /cancel."
	msgAskAmount      = "Amount to send?"
	msgBadAmount      = "I need a positive number, like 10 or 0.5. Try again or /cancel."
	msgConfirmSend    = "Send *%s %s* to `%s`?"
	msgTransferDone   = "✅ Transfer submitted.\nID: `%s`\nStatus: %s"
	msgTransferFailed = "The transfer was rejected: %s"

	msgDepositAddress = "Deposit address for *%s* (%s):\n\n`%s`"
	msgDepositMemo    = "\n\n⚠️ Include memo: `%s`"

	msgNoTransactions = "No transactions yet."
	msgBadDate        = "Could not read that date. Try a format like 2026-08-31."
	msgAskTxID        = "Which transaction? Send its ID."
	msgTxNotFound     = "I couldn't find that transaction."

	msgKYCNotStarted = "You haven't started verification yet."
	msgKYCStatus     = "Verification status: *%s* (level %d)."
	msgKYCConfirm    = "Remove your verification data? This cannot be undone."
	msgKYCRemoved    = "Your verification data has been removed."
	msgKYCKept       = "Kept as is."

	msgSettings = "Display currency: *%s*\nLocale: *%s*\n\nPick a display currency:"
	msgPrefSet  = "Display currency set to *%s*."
)

// supportedCurrencies are offered when creating a wallet.
var supportedCurrencies = []string{"USDT", "USDC", "BTC", "ETH"}

// displayCurrencies are offered in /settings.
var displayCurrencies = []string{"USD", "EUR", "GBP"}
