// Package backend is a thin REST client for the payments backend: wallets,
// transfers, transactions, KYC, and realtime channel authorization. The
// bearer credential is supplied per call and never retained.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/m3rciful/paybot/core/logger"
	"github.com/m3rciful/paybot/core/telegram/netutil"
)

const (
	defaultTimeout       = 15 * time.Second
	defaultDialTimeout   = 5 * time.Second
	defaultRetryAttempts = 2
	defaultRetryBackoff  = time.Second
)

// Config holds client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the payments backend over HTTPS.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client with a retrying transport tuned like the Telegram
// HTTP client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &retryTransport{
				base:       transport,
				maxRetries: defaultRetryAttempts,
				backoff:    defaultRetryBackoff,
			},
		},
	}
}

type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	attempts := t.maxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		currReq := req
		if attempt > 1 {
			currReq = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				currReq.Body = body
			} else if req.Body != nil {
				return nil, lastErr
			}
		}
		resp, err := t.base.RoundTrip(currReq)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !netutil.ShouldRetry(err) || attempt == attempts {
			break
		}
		timer := time.NewTimer(t.backoff * time.Duration(attempt))
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do performs one request. token may be empty for unauthenticated endpoints;
// when present it is installed as the bearer credential for this call only.
func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.SVCBackend.Error("backend request failed",
			slog.String("event", "backend.request"),
			slog.String("operation", method+" "+path),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("backend: read response: %w", err)
	}

	logger.SVCBackend.Debug("backend request",
		slog.String("event", "backend.request"),
		slog.String("operation", method+" "+path),
		slog.Int("http_code", resp.StatusCode),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae apiError
		_ = json.Unmarshal(payload, &ae)
		msg := ae.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &UpstreamError{Status: resp.StatusCode, ErrCode: ae.Error.Code, Message: msg}
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("backend: decode response: %w", err)
	}
	return nil
}

// RequestOTP asks the backend to send a one-time code to the email address.
func (c *Client) RequestOTP(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	return c.do(ctx, http.MethodPost, "/v1/auth/otp", "", body, nil)
}

// VerifyOTP exchanges the one-time code for a bearer credential.
// ErrInvalidCode is returned when the backend rejects the code itself.
func (c *Client) VerifyOTP(ctx context.Context, email, code string) (*AuthResult, error) {
	body := map[string]string{"email": email, "code": code}
	var out AuthResult
	if err := c.do(ctx, http.MethodPost, "/v1/auth/verify", "", body, &out); err != nil {
		var ue *UpstreamError
		if errors.As(err, &ue) && (ue.Status == http.StatusUnauthorized || ue.Status == http.StatusBadRequest) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}
	return &out, nil
}

// Wallets lists the user's wallets.
func (c *Client) Wallets(ctx context.Context, token string) ([]Wallet, error) {
	var out []Wallet
	if err := c.do(ctx, http.MethodGet, "/v1/wallets", token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateWallet provisions a new wallet.
func (c *Client) CreateWallet(ctx context.Context, token, name, currency string) (*Wallet, error) {
	body := map[string]string{"name": name, "currency": currency}
	var out Wallet
	if err := c.do(ctx, http.MethodPost, "/v1/wallets", token, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DepositAddress returns the top-up address for a wallet.
func (c *Client) DepositAddress(ctx context.Context, token, walletID string) (*DepositAddress, error) {
	var out DepositAddress
	path := "/v1/wallets/" + url.PathEscape(walletID) + "/deposit-address"
	if err := c.do(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transfer submits an outbound transfer.
func (c *Client) Transfer(ctx context.Context, token string, req TransferRequest) (*Transaction, error) {
	var out Transaction
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transactions lists recent transactions, optionally filtered by start time.
func (c *Client) Transactions(ctx context.Context, token string, since *time.Time, limit int) ([]Transaction, error) {
	q := url.Values{}
	if since != nil {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/transactions"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out []Transaction
	if err := c.do(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Transaction fetches one transaction by ID.
func (c *Client) Transaction(ctx context.Context, token, id string) (*Transaction, error) {
	var out Transaction
	if err := c.do(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(id), token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// KYCStatus reports the user's verification state.
func (c *Client) KYCStatus(ctx context.Context, token string) (*KYCStatus, error) {
	var out KYCStatus
	if err := c.do(ctx, http.MethodGet, "/v1/kyc", token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveKYC deletes the user's verification record.
func (c *Client) RemoveKYC(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/v1/kyc", token, nil, nil)
}

// AuthorizeChannel performs the realtime channel authorization round trip.
// The backend's payload is returned as-is for the channel client to forward.
func (c *Client) AuthorizeChannel(ctx context.Context, token, connectionID, channelName string) (json.RawMessage, error) {
	body := map[string]string{
		"connection_id": connectionID,
		"channel_name":  channelName,
	}
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/v1/realtime/auth", token, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}
