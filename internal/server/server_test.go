package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/mailgrant/mailgrant/internal/authflow"
	"github.com/mailgrant/mailgrant/internal/broker"
	"github.com/mailgrant/mailgrant/internal/codec"
	"github.com/mailgrant/mailgrant/internal/logging"
	"github.com/mailgrant/mailgrant/internal/ratelimit"
	"github.com/mailgrant/mailgrant/internal/session"
	"github.com/mailgrant/mailgrant/internal/upstream/upstreamtest"
	"github.com/mailgrant/mailgrant/internal/vault"
)

type fixture struct {
	handler  http.Handler
	server   *Server
	fake     *upstreamtest.Fake
	sessions *session.Issuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fake := &upstreamtest.Fake{}
	key, err := vault.GenerateKey()
	require.NoError(t, err)
	v, err := vault.New(t.TempDir(), key)
	require.NoError(t, err)

	logger := logging.New(io.Discard, "text", "error")
	sessions := session.New([]byte("test-secret"))
	b := broker.New(broker.Config{
		Upstream: fake,
		Vault:    v,
		Sessions: sessions,
		Limiter:  ratelimit.New(ratelimit.DefaultCapacity, ratelimit.DefaultWindow),
		Flow:     authflow.New(fake, v, logger),
		Codec:    codec.New(logger),
		Logger:   logger,
	})

	srv := New(Config{Addr: ":0", Broker: b, Logger: logger})
	return &fixture{handler: srv.Router(), server: srv, fake: fake, sessions: sessions}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// sessionToken runs authorize + exchange over HTTP and returns the token.
func (f *fixture) sessionToken(t *testing.T, allowedIPs []string) string {
	t.Helper()

	rec := f.do(t, http.MethodGet, "/authorize", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state, _ := decodeBody(t, rec)["state"].(string)
	require.NotEmpty(t, state)

	rec = f.do(t, http.MethodPost, "/exchange_code", "", map[string]any{
		"code":        "auth-code",
		"state":       state,
		"allowed_ips": allowedIPs,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := decodeBody(t, rec)["session_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestAuthorizeReturnsConsentURL(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/authorize", "", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["auth_url"], "state=")
	assert.NotEmpty(t, body["state"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestExchangeCode(t *testing.T) {
	f := newFixture(t)

	t.Run("happy path issues a usable token", func(t *testing.T) {
		token := f.sessionToken(t, nil)
		rec := f.do(t, http.MethodGet, "/me", token, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		user, _ := decodeBody(t, rec)["user"].(map[string]any)
		assert.Equal(t, "user@example.com", user["email"])
	})

	t.Run("unknown state", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/exchange_code", "", map[string]any{
			"code": "auth-code", "state": "forged",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_state", decodeBody(t, rec)["error"])
	})

	t.Run("state is single use", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/authorize", "", nil, nil)
		state, _ := decodeBody(t, rec)["state"].(string)

		body := map[string]any{"code": "auth-code", "state": state}
		rec = f.do(t, http.MethodPost, "/exchange_code", "", body, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(t, http.MethodPost, "/exchange_code", "", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/exchange_code", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_request", decodeBody(t, rec)["error"])
	})

	t.Run("missing code", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/exchange_code", "", map[string]any{"state": "s"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	f := newFixture(t)

	paths := []string{"/me", "/list_emails", "/get_email/m1", "/get_parsed_email/m1", "/get_attachment/m1/a1"}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, path, "", nil, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "invalid_session", decodeBody(t, rec)["error"])
		})
	}

	t.Run("garbage token", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/me", "garbage", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestOriginAllowListEnforcedOverHTTP(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, []string{"203.0.113.5"})

	rec := f.do(t, http.MethodGet, "/me", token, nil, map[string]string{
		"X-Forwarded-For": "203.0.113.5",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/me", token, nil, map[string]string{
		"X-Forwarded-For": "198.51.100.1",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "origin_denied", decodeBody(t, rec)["error"])
}

func TestSendEmail(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, nil)

	t.Run("sends and reports the message id", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/send_email", token, map[string]any{
			"to":      []string{"alice@example.com"},
			"subject": "Status",
			"body":    "All good.",
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "sent-1", decodeBody(t, rec)["message_id"])
		require.Len(t, f.fake.Sent, 1)
	})

	t.Run("invalid draft", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/send_email", token, map[string]any{
			"subject": "no recipients",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_request", decodeBody(t, rec)["error"])
	})
}

func TestSendEmailRateLimited(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, nil)

	draft := map[string]any{"to": []string{"a@example.com"}, "subject": "s", "body": "b"}
	for i := 0; i < ratelimit.DefaultCapacity; i++ {
		rec := f.do(t, http.MethodPost, "/send_email", token, draft, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/send_email", token, draft, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	body := decodeBody(t, rec)
	assert.Equal(t, "rate_limited", body["error"])
	assert.Positive(t, body["retry_after"])
}

func TestListEmails(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, nil)

	rec := f.do(t, http.MethodGet, "/list_emails?max_results=5&query=is:unread", token, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/list_emails?max_results=zero", token, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEmail(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, nil)
	f.fake.Messages = map[string]*gmail.Message{"m1": {Id: "m1", Snippet: "hi"}}

	rec := f.do(t, http.MethodGet, "/get_email/m1", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "m1", decodeBody(t, rec)["id"])

	rec = f.do(t, http.MethodGet, "/get_email/missing", token, nil, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "upstream_error", decodeBody(t, rec)["error"])
}

func TestGetAttachment(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, nil)
	f.fake.Attachments = map[string]*gmail.MessagePartBody{
		"att-1": {Data: "ZGF0YQ", Size: 4},
	}

	rec := f.do(t, http.MethodGet, "/get_attachment/m1/att-1", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "att-1", body["attachment_id"])
	assert.Equal(t, "ZGF0YQ", body["data"])
	assert.EqualValues(t, 4, body["size"])
}

func TestReauthorizeRequired(t *testing.T) {
	f := newFixture(t)

	// A valid session whose principal has no stored credential
	token, err := f.sessions.Issue("ghost", nil, 0)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/me", token, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "reauthorize_required", decodeBody(t, rec)["error"])
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/readyz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.server.Health().SetReady(false)
	rec = f.do(t, http.MethodGet, "/readyz", "", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
