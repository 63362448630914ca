package handlers

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/paybot/assistant/auth"
	"github.com/m3rciful/paybot/assistant/backend"
	"github.com/m3rciful/paybot/assistant/ratelimit"
	"github.com/m3rciful/paybot/assistant/scene"
	"github.com/m3rciful/paybot/assistant/session"
)

type recorder struct {
	sent []string
}

func (r *recorder) Send(what interface{}, opts ...interface{}) error {
	r.sent = append(r.sent, fmt.Sprint(what))
	return nil
}

func (r *recorder) last() string {
	if len(r.sent) == 0 {
		return ""
	}
	return r.sent[len(r.sent)-1]
}

// fakeAPI is a scriptable PaymentsAPI.
type fakeAPI struct {
	otpRequests []string
	verifyCalls int
	validCode   string
	authResult  backend.AuthResult

	wallets     []backend.Wallet
	transfers   []backend.TransferRequest
	transferTx  backend.Transaction
	transferErr error

	depositAddr backend.DepositAddress

	kyc        backend.KYCStatus
	kycRemoved bool

	tx    backend.Transaction
	txErr error
}

func (f *fakeAPI) RequestOTP(ctx context.Context, email string) error {
	f.otpRequests = append(f.otpRequests, email)
	return nil
}

func (f *fakeAPI) VerifyOTP(ctx context.Context, email, code string) (*backend.AuthResult, error) {
	f.verifyCalls++
	if code != f.validCode {
		return nil, backend.ErrInvalidCode
	}
	res := f.authResult
	res.Email = email
	return &res, nil
}

func (f *fakeAPI) Wallets(ctx context.Context, token string) ([]backend.Wallet, error) {
	return f.wallets, nil
}

func (f *fakeAPI) CreateWallet(ctx context.Context, token, name, currency string) (*backend.Wallet, error) {
	w := backend.Wallet{ID: "w-new", Name: name, Currency: currency}
	f.wallets = append(f.wallets, w)
	return &w, nil
}

func (f *fakeAPI) DepositAddress(ctx context.Context, token, walletID string) (*backend.DepositAddress, error) {
	addr := f.depositAddr
	addr.WalletID = walletID
	return &addr, nil
}

func (f *fakeAPI) Transfer(ctx context.Context, token string, req backend.TransferRequest) (*backend.Transaction, error) {
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	f.transfers = append(f.transfers, req)
	tx := f.transferTx
	return &tx, nil
}

func (f *fakeAPI) Transactions(ctx context.Context, token string, since *time.Time, limit int) ([]backend.Transaction, error) {
	return []backend.Transaction{f.tx}, nil
}

func (f *fakeAPI) Transaction(ctx context.Context, token, id string) (*backend.Transaction, error) {
	if f.txErr != nil {
		return nil, f.txErr
	}
	tx := f.tx
	tx.ID = id
	return &tx, nil
}

func (f *fakeAPI) KYCStatus(ctx context.Context, token string) (*backend.KYCStatus, error) {
	k := f.kyc
	return &k, nil
}

func (f *fakeAPI) RemoveKYC(ctx context.Context, token string) error {
	f.kycRemoved = true
	return nil
}

type fakeSubscriber struct {
	calls []string
}

func (f *fakeSubscriber) Subscribe(userID, orgID string, chatID int64) bool {
	f.calls = append(f.calls, fmt.Sprintf("%s/%s/%d", userID, orgID, chatID))
	return true
}

type harness struct {
	h      *Handlers
	engine *scene.Engine
	store  session.Store
	api    *fakeAPI
	sub    *fakeSubscriber
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := session.NewMemoryStore(time.Hour)
	mgr := auth.NewManager(store, auth.NewCipher("test-secret"))
	api := &fakeAPI{
		validCode: "123456",
		authResult: backend.AuthResult{
			AccessToken:    "bearer-live",
			ExpiresIn:      3600,
			UserID:         "user-1",
			OrganizationID: "org-1",
		},
	}
	sub := &fakeSubscriber{}
	h := &Handlers{
		Store:   store,
		Auth:    mgr,
		Limiter: ratelimit.NewLimiter(store),
		Backend: api,
		Bridge:  sub,
	}
	reg := scene.NewRegistry()
	require.NoError(t, h.registerScenes(reg))
	return &harness{
		h:      h,
		engine: scene.NewEngine(store, reg),
		store:  store,
		api:    api,
		sub:    sub,
	}
}

func (hs *harness) login(t *testing.T, chatID int64) {
	t.Helper()
	ctx := context.Background()
	r := &recorder{}
	require.NoError(t, hs.engine.Enter(ctx, scene.Update{ChatID: chatID}, r, sceneLogin, nil))
	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{ChatID: chatID, Text: "u@example.com"}, r))
	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{ChatID: chatID, Text: "123456"}, r))
	_, _, active := hs.engine.Active(ctx, chatID)
	require.False(t, active, "login scene should have completed")
}

func TestLoginSceneHappyPath(t *testing.T) {
	hs := newHarness(t)
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, hs.engine.Enter(ctx, scene.Update{ChatID: 1}, r, sceneLogin, nil))
	assert.Equal(t, msgAskEmail, r.last())

	// Bad address is re-prompted without an OTP request.
	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{ChatID: 1, Text: "not-an-email"}, r))
	assert.Equal(t, msgBadEmail, r.last())
	assert.Empty(t, hs.api.otpRequests)

	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{ChatID: 1, Text: "U@Example.com"}, r))
	assert.Equal(t, []string{"u@example.com"}, hs.api.otpRequests, "email is lowercased")

	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{ChatID: 1, Text: "123456"}, r))
	assert.Contains(t, r.last(), "Signed in as u@example.com")

	// Credential is sealed into the session and the deposit channel opened.
	s, err := hs.store.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, s.Auth)
	assert.NotContains(t, s.Auth.AccessToken, "bearer-live")
	assert.True(t, hs.h.Auth.IsAuthenticated(s))
	assert.Equal(t, []string{"user-1/org-1/1"}, hs.sub.calls)
}

func TestLoginSceneOTPRateLimit(t *testing.T) {
	hs := newHarness(t)
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, hs.engine.Enter(ctx, scene.Update{ChatID: 2}, r, sceneLogin, nil))
	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{ChatID: 2, Text: "u@example.com"}, r))

	// Three wrong codes are each verified upstream.
	for i := 0; i < 3; i++ {
		require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{ChatID: 2, Text: "000000"}, r))
	}
	assert.Equal(t, 3, hs.api.verifyCalls)
	assert.Contains(t, r.last(), "Too many attempts")

	// The fourth is rejected before reaching the backend, even with the
	// right code.
	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{ChatID: 2, Text: "123456"}, r))
	assert.Equal(t, 3, hs.api.verifyCalls)
	assert.Contains(t, r.last(), "Too many attempts")

	s, err := hs.store.Get(ctx, 2)
	require.NoError(t, err)
	assert.False(t, hs.h.Auth.IsAuthenticated(s))
}

func TestLoginSceneClearsLimiterOnSuccess(t *testing.T) {
	hs := newHarness(t)
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, hs.engine.Enter(ctx, scene.Update{ChatID: 3}, r, sceneLogin, nil))
	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{ChatID: 3, Text: "u@example.com"}, r))
	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{ChatID: 3, Text: "000000"}, r))
	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{ChatID: 3, Text: "123456"}, r))

	s, err := hs.store.Get(ctx, 3)
	require.NoError(t, err)
	assert.True(t, hs.h.Auth.IsAuthenticated(s))
	assert.NotContains(t, s.RateLimits, otpLimit.Key)
}

func TestSendSceneFlow(t *testing.T) {
	hs := newHarness(t)
	hs.api.wallets = []backend.Wallet{
		{ID: "w-1", Name: "Main", Currency: "USDT"},
		{ID: "w-2", Name: "Savings", Currency: "BTC"},
	}
	hs.api.transferTx = backend.Transaction{ID: "tx-77", Status: "pending"}
	hs.login(t, 4)
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, hs.engine.Enter(ctx, scene.Update{ChatID: 4}, r, sceneSend, nil))
	assert.Equal(t, msgPickWallet, r.last())

	// Unknown wallet id is rejected.
	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{ChatID: 4, Text: "w-unknown"}, r))
	assert.Equal(t, msgBadWallet, r.last())

	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{
		ChatID: 4,
		Action: &scene.Action{Key: cbSendWallet, Payload: "w-1"},
	}, r))
	assert.Equal(t, msgAskRecipient, r.last())

	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{ChatID: 4, Text: "0xrecipient"}, r))
	assert.Equal(t, msgAskAmount, r.last())

	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{ChatID: 4, Text: "abc"}, r))
	assert.Equal(t, msgBadAmount, r.last())

	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{ChatID: 4, Text: "12,5"}, r))
	assert.Contains(t, r.last(), "12.5 USDT")

	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{
		ChatID: 4,
		Action: &scene.Action{Key: cbSendConfirm, Payload: "yes"},
	}, r))
	assert.Contains(t, r.last(), "tx-77")

	require.Len(t, hs.api.transfers, 1)
	assert.Equal(t, backend.TransferRequest{
		WalletID:  "w-1",
		Recipient: "0xrecipient",
		Amount:    12.5,
	}, hs.api.transfers[0])

	_, _, active := hs.engine.Active(ctx, 4)
	assert.False(t, active)
}

func TestDepositSceneShortCircuit(t *testing.T) {
	hs := newHarness(t)
	hs.api.depositAddr = backend.DepositAddress{Address: "0xdeadbeef", Network: "Ethereum"}
	hs.login(t, 5)
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, hs.engine.Enter(ctx, scene.Update{ChatID: 5}, r, sceneDeposit,
		map[string]interface{}{dataWalletID: "w-1"}))

	assert.Contains(t, r.last(), "0xdeadbeef")
	_, _, active := hs.engine.Active(ctx, 5)
	assert.False(t, active, "preselected wallet must auto-leave")
}

func TestTxLookupSceneShortCircuit(t *testing.T) {
	hs := newHarness(t)
	hs.api.tx = backend.Transaction{Status: "confirmed", Amount: 3, Currency: "USDT", Type: "deposit", CreatedAt: time.Now()}
	hs.login(t, 6)
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, hs.engine.Enter(ctx, scene.Update{ChatID: 6}, r, sceneTxLookup,
		map[string]interface{}{dataTxID: "tx-55"}))

	assert.Contains(t, r.last(), "tx-55")
	_, _, active := hs.engine.Active(ctx, 6)
	assert.False(t, active)
}

func TestKYCRemovalScene(t *testing.T) {
	hs := newHarness(t)
	hs.api.kyc = backend.KYCStatus{Status: "verified", Level: 2}
	hs.login(t, 7)
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, hs.engine.Enter(ctx, scene.Update{ChatID: 7}, r, sceneKYCRemoval, nil))
	assert.Contains(t, r.last(), "verified")

	// Declining keeps the record.
	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{
		ChatID: 7,
		Action: &scene.Action{Key: cbKYCConfirm, Payload: "no"},
	}, r))
	assert.False(t, hs.api.kycRemoved)
	assert.Equal(t, msgKYCKept, r.last())

	require.NoError(t, hs.engine.Enter(ctx, scene.Update{ChatID: 7}, r, sceneKYCRemoval, nil))
	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{
		ChatID: 7,
		Action: &scene.Action{Key: cbKYCConfirm, Payload: "yes"},
	}, r))
	assert.True(t, hs.api.kycRemoved)
	assert.Equal(t, msgKYCRemoved, r.last())
}

func TestNewWalletScene(t *testing.T) {
	hs := newHarness(t)
	hs.login(t, 8)
	ctx := context.Background()
	r := &recorder{}

	require.NoError(t, hs.engine.Enter(ctx, scene.Update{ChatID: 8}, r, sceneNewWallet, nil))
	assert.Equal(t, msgAskWalletName, r.last())

	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{ChatID: 8, Text: "Savings"}, r))
	assert.Equal(t, msgAskCurrency, r.last())

	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{ChatID: 8, Text: "DOGE"}, r))
	assert.Equal(t, msgBadCurrency, r.last())

	require.NoError(t, hs.engine.Dispatch(ctx, scene.Update{
		ChatID: 8,
		Action: &scene.Action{Key: cbWalletCurrency, Payload: "BTC"},
	}, r))
	assert.True(t, strings.Contains(r.last(), "Savings") && strings.Contains(r.last(), "BTC"))

	require.Len(t, hs.api.wallets, 1)
	assert.Equal(t, "Savings", hs.api.wallets[0].Name)
}

func TestIsEmail(t *testing.T) {
	for _, ok := range []string{"a@b.co", "user.name@host.example.com"} {
		assert.True(t, isEmail(ok), ok)
	}
	for _, bad := range []string{"", "plain", "@host.com", "a@nohostdot", "two words@host.com"} {
		assert.False(t, isEmail(bad), bad)
	}
}
