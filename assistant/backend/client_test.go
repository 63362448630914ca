package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
}

func TestClientBearerPerCall(t *testing.T) {
	var got []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	})
	ctx := context.Background()

	_, err := c.Wallets(ctx, "token-a")
	require.NoError(t, err)
	_, err = c.Wallets(ctx, "token-b")
	require.NoError(t, err)
	require.NoError(t, c.RequestOTP(ctx, "u@example.com"))

	assert.Equal(t, []string{"Bearer token-a", "Bearer token-b", ""}, got)
}

func TestClientVerifyOTP(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/auth/verify", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if body["code"] != "123456" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"invalid_code","message":"wrong code"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(AuthResult{
			AccessToken:    "bearer-xyz",
			ExpiresIn:      3600,
			UserID:         "user-1",
			OrganizationID: "org-1",
			Email:          body["email"],
		})
	})
	ctx := context.Background()

	_, err := c.VerifyOTP(ctx, "u@example.com", "000000")
	assert.ErrorIs(t, err, ErrInvalidCode)

	res, err := c.VerifyOTP(ctx, "u@example.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, "bearer-xyz", res.AccessToken)
	assert.Equal(t, "org-1", res.OrganizationID)
}

func TestClientUpstreamErrorMapping(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":"insufficient_funds","message":"balance too low"}}`))
	})

	_, err := c.Transfer(context.Background(), "tok", TransferRequest{
		WalletID: "w1", Recipient: "addr", Amount: 10,
	})
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusUnprocessableEntity, ue.Status)
	assert.Equal(t, "insufficient_funds", ue.ErrCode)
	assert.Equal(t, "balance too low", ue.Message)
	assert.False(t, ue.Unauthorized())
}

func TestClientUpstreamErrorWithoutBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Wallets(context.Background(), "expired")
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.True(t, ue.Unauthorized())
	assert.Equal(t, http.StatusText(http.StatusUnauthorized), ue.Message)
}

func TestClientTransactionsQuery(t *testing.T) {
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions", r.URL.Path)
		assert.Equal(t, "2026-08-01T00:00:00Z", r.URL.Query().Get("since"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[{"id":"tx-1","amount":5,"currency":"USDT","status":"confirmed"}]`))
	})

	txs, err := c.Transactions(context.Background(), "tok", &since, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "tx-1", txs[0].ID)
}

func TestClientDepositAddressPath(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/wallets/w%2F1/deposit-address", r.URL.EscapedPath())
		_ = json.NewEncoder(w).Encode(DepositAddress{WalletID: "w/1", Address: "0xabc", Network: "Ethereum"})
	})

	addr, err := c.DepositAddress(context.Background(), "tok", "w/1")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", addr.Address)
}

func TestClientAuthorizeChannelPassthrough(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "conn-1", body["connection_id"])
		assert.Equal(t, "private-org-org-1-deposits", body["channel_name"])
		_, _ = w.Write([]byte(`{"auth":"signature-blob"}`))
	})

	payload, err := c.AuthorizeChannel(context.Background(), "tok", "conn-1", "private-org-org-1-deposits")
	require.NoError(t, err)
	assert.JSONEq(t, `{"auth":"signature-blob"}`, string(payload))
}

func TestClientRemoveKYC(t *testing.T) {
	var method string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.RemoveKYC(context.Background(), "tok"))
	assert.Equal(t, http.MethodDelete, method)
}
