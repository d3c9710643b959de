package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-i2p/go-msgrouter/lib/envelope"
	"github.com/go-i2p/go-msgrouter/lib/identity"
	"github.com/go-i2p/go-msgrouter/lib/relay"
	"github.com/go-i2p/go-msgrouter/lib/router"
	"github.com/go-i2p/go-msgrouter/lib/util/time/monotonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const password = "hunter2"

type fixture struct {
	http   *httptest.Server
	store  *relay.Store
	router *router.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := monotonic.NewManualClock(100)
	store := relay.NewStore(clock, relay.DefaultLimits(), 1)
	r := router.New(nil, store, nil, router.NewExpirationValidator(clock))
	t.Cleanup(func() { _ = r.Close() })

	srv, err := NewServer(Config{Password: password}, r, store)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{http: ts, store: store, router: r}
}

func (f *fixture) call(t *testing.T, method string, params interface{}) Response {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)
	resp, err := http.Post(f.http.URL+"/jsonrpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *fixture) token(t *testing.T) string {
	t.Helper()
	resp := f.call(t, "Authenticate", map[string]string{"Password": password})
	require.Nil(t, resp.Error)
	tok := resp.Result.(map[string]interface{})["Token"].(string)
	require.NotEmpty(t, tok)
	return tok
}

func TestAuthenticateAndEcho(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t)

	resp := f.call(t, "Echo", map[string]string{"Token": tok, "Echo": "ping"})
	require.Nil(t, resp.Error)
	assert.Equal(t, "ping", resp.Result.(map[string]interface{})["Result"])
}

func TestWrongPasswordAndMissingToken(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, "Authenticate", map[string]string{"Password": "nope"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeAuthFailed, resp.Error.Code)

	resp = f.call(t, "RouterStats", map[string]string{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)

	resp = f.call(t, "RouterStats", map[string]string{"Token": "forged"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeAuthRequired, resp.Error.Code)
}

func TestStatsMethods(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t)

	_, err := f.router.Submit([]byte{0x01, 0x09})
	require.Error(t, err)

	resp := f.call(t, "RouterStats", map[string]string{"Token": tok})
	require.Nil(t, resp.Error)
	stats := resp.Result.(map[string]interface{})
	assert.Equal(t, float64(1), stats["received"])
	assert.Equal(t, float64(1), stats["rejected"])
	byReason := stats["by_reason"].(map[string]interface{})
	assert.Equal(t, float64(1), byReason[router.ReasonUnsupportedVersion.String()])

	resp = f.call(t, "RelayStats", map[string]string{"Token": tok})
	require.Nil(t, resp.Error)
	assert.Equal(t, float64(0), resp.Result.(map[string]interface{})["messages"])
}

func TestPendingAndProtocols(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t)

	var dst identity.ExternalIdentity
	dst[0] = 7
	m := envelope.NewRelayMessageV0(envelope.RelayMessageContentV0{
		Dst: dst, Expiry: 1000, Msg: []byte("x"), Mac: []byte("m"),
	}, []byte("sig"))
	require.NoError(t, f.store.Enqueue(m))

	resp := f.call(t, "Pending", map[string]string{"Token": tok, "Identity": dst.String()})
	require.Nil(t, resp.Error)
	assert.Equal(t, float64(1), resp.Result.(map[string]interface{})["Pending"])

	resp = f.call(t, "Pending", map[string]string{"Token": tok, "Identity": "not-an-id"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)

	p := envelope.NewProtocol("chat", 1)
	f.router.Registry().Register(p, router.HandlerFunc(func(_ context.Context, _ router.Delivery) error { return nil }))
	resp = f.call(t, "Protocols", map[string]string{"Token": tok})
	require.Nil(t, resp.Error)
	assert.Equal(t, []interface{}{"chat/v1"}, resp.Result.(map[string]interface{})["Protocols"])
}

func TestUnknownMethodAndBadRequests(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t)

	resp := f.call(t, "Nope", map[string]string{"Token": tok})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)

	r, err := http.Get(f.http.URL)
	require.NoError(t, err)
	defer r.Body.Close()
	var out Response
	require.NoError(t, json.NewDecoder(r.Body).Decode(&out))
	require.NotNil(t, out.Error)
	assert.Equal(t, ErrCodeInvalidRequest, out.Error.Code)

	_, rpcErr := ParseRequest([]byte(`{"jsonrpc":"1.0","method":"Echo"}`))
	require.NotNil(t, rpcErr)
	assert.Equal(t, ErrCodeInvalidRequest, rpcErr.Code)
	_, rpcErr = ParseRequest([]byte(`{`))
	require.NotNil(t, rpcErr)
	assert.Equal(t, ErrCodeParseError, rpcErr.Code)
}

func TestTokensExpire(t *testing.T) {
	am, err := NewAuthManager(password)
	require.NoError(t, err)
	now := time.Unix(1000, 0)
	am.now = func() time.Time { return now }

	tok, err := am.Authenticate(password, time.Minute)
	require.NoError(t, err)
	other, err := am.Authenticate(password, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
	assert.True(t, am.ValidateToken(tok))

	now = now.Add(time.Minute)
	assert.False(t, am.ValidateToken(tok))
	assert.Equal(t, 1, am.TokenCount())

	now = now.Add(time.Hour)
	assert.Equal(t, 1, am.CleanupExpiredTokens())
	assert.Equal(t, 0, am.TokenCount())

	_, err = am.Authenticate("wrong", time.Minute)
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestServerStartClose(t *testing.T) {
	clock := monotonic.NewManualClock(1)
	store := relay.NewStore(clock, relay.DefaultLimits(), 1)
	r := router.New(nil, store, nil, router.NewExpirationValidator(clock))
	srv, err := NewServer(Config{ListenAddr: "127.0.0.1:0", Password: password}, r, store)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	require.NotNil(t, srv.Addr())
	assert.NoError(t, srv.Close())

	_, err = NewServer(Config{}, r, store)
	assert.Error(t, err)
}
