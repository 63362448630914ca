package backend

import "time"

// AuthResult is returned by VerifyOTP on success.
type AuthResult struct {
	AccessToken    string `json:"access_token"`
	ExpiresIn      int    `json:"expires_in"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email"`
}

// Wallet is a custodial wallet owned by the authenticated user.
type Wallet struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Currency string  `json:"currency"`
	Balance  float64 `json:"balance"`
	Network  string  `json:"network,omitempty"`
}

// DepositAddress is the on-chain address for topping up a wallet.
type DepositAddress struct {
	WalletID string `json:"wallet_id"`
	Address  string `json:"address"`
	Network  string `json:"network"`
	Memo     string `json:"memo,omitempty"`
}

// TransferRequest describes an outbound transfer.
type TransferRequest struct {
	WalletID  string  `json:"wallet_id"`
	Recipient string  `json:"recipient"`
	Amount    float64 `json:"amount"`
	Note      string  `json:"note,omitempty"`
}

// Transaction is a ledger entry as reported by the backend.
type Transaction struct {
	ID        string    `json:"id"`
	WalletID  string    `json:"wallet_id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Network   string    `json:"network,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// KYCStatus reports the user's verification state.
type KYCStatus struct {
	Status     string     `json:"status"`
	Level      int        `json:"level"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}
