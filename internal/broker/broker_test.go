package broker

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/mailgrant/mailgrant/internal/authflow"
	"github.com/mailgrant/mailgrant/internal/codec"
	"github.com/mailgrant/mailgrant/internal/ratelimit"
	"github.com/mailgrant/mailgrant/internal/session"
	"github.com/mailgrant/mailgrant/internal/upstream"
	"github.com/mailgrant/mailgrant/internal/upstream/upstreamtest"
	"github.com/mailgrant/mailgrant/internal/vault"
)

type fixture struct {
	broker *Broker
	fake   *upstreamtest.Fake
	vault  *vault.Vault
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fake := &upstreamtest.Fake{}

	key, err := vault.GenerateKey()
	require.NoError(t, err)
	v, err := vault.New(t.TempDir(), key)
	require.NoError(t, err)

	b := New(Config{
		Upstream: fake,
		Vault:    v,
		Sessions: session.New([]byte("test-secret")),
		Limiter:  ratelimit.New(ratelimit.DefaultCapacity, ratelimit.DefaultWindow),
		Flow:     authflow.New(fake, v, nil),
		Codec:    codec.New(nil),
	})
	return &fixture{broker: b, fake: fake, vault: v}
}

// authorize runs the full flow and returns a principal with a stored
// credential plus a session token for it.
func (f *fixture) authorize(t *testing.T, origins []string) (principal, token string) {
	t.Helper()
	ctx := context.Background()

	authURL, state, err := f.broker.BeginAuthorization(ctx)
	require.NoError(t, err)
	require.Contains(t, authURL, state)

	token, err = f.broker.ExchangeCode(ctx, "auth-code", state, origins)
	require.NoError(t, err)

	principal, err = f.broker.Authenticate(ctx, token, "")
	require.NoError(t, err)
	return principal, token
}

func TestExchangeCodeIssuesVerifiableSession(t *testing.T) {
	f := newFixture(t)
	principal, token := f.authorize(t, nil)

	assert.NotEmpty(t, principal)
	assert.NotEmpty(t, token)

	// The stored credential is the one the exchange produced
	cred, err := f.vault.Load(principal)
	require.NoError(t, err)
	assert.Equal(t, "access-for-auth-code", cred.AccessToken)
}

func TestExchangeCodeRejectsUnknownState(t *testing.T) {
	f := newFixture(t)
	_, err := f.broker.ExchangeCode(context.Background(), "auth-code", "forged", nil)
	assert.ErrorIs(t, err, authflow.ErrInvalidState)
}

func TestAuthenticateEnforcesOrigins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, state, err := f.broker.BeginAuthorization(ctx)
	require.NoError(t, err)
	token, err := f.broker.ExchangeCode(ctx, "auth-code", state, []string{"203.0.113.5"})
	require.NoError(t, err)

	_, err = f.broker.Authenticate(ctx, token, "203.0.113.5")
	assert.NoError(t, err)

	_, err = f.broker.Authenticate(ctx, token, "198.51.100.1")
	assert.ErrorIs(t, err, session.ErrOriginDenied)
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	f := newFixture(t)
	_, err := f.broker.Authenticate(context.Background(), "not-a-token", "")
	assert.ErrorIs(t, err, session.ErrMalformedToken)
}

func TestWhoAmI(t *testing.T) {
	f := newFixture(t)
	principal, _ := f.authorize(t, nil)

	profile, err := f.broker.WhoAmI(context.Background(), principal)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", profile.Email)
}

func TestWhoAmIWithoutCredential(t *testing.T) {
	f := newFixture(t)
	_, err := f.broker.WhoAmI(context.Background(), "never-authorized")
	assert.ErrorIs(t, err, ErrReauthorizeRequired)
}

func TestSendSubmitsBuiltMessage(t *testing.T) {
	f := newFixture(t)
	principal, _ := f.authorize(t, nil)

	id, err := f.broker.Send(context.Background(), principal, &codec.Draft{
		To:      []string{"alice@example.com"},
		Subject: "Status",
		Body:    "All good.",
	})
	require.NoError(t, err)
	assert.Equal(t, "sent-1", id)

	require.Len(t, f.fake.Sent, 1)
	decoded, err := base64.URLEncoding.DecodeString(f.fake.Sent[0].Raw)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "To: alice@example.com")
	assert.Contains(t, string(decoded), "All good.")
}

func TestSendThreadIDForwarded(t *testing.T) {
	f := newFixture(t)
	principal, _ := f.authorize(t, nil)

	_, err := f.broker.Send(context.Background(), principal, &codec.Draft{
		To:       []string{"alice@example.com"},
		Subject:  "Re: Status",
		Body:     "Following up.",
		ThreadID: "thread-7",
	})
	require.NoError(t, err)
	require.Len(t, f.fake.Sent, 1)
	assert.Equal(t, "thread-7", f.fake.Sent[0].ThreadID)
}

func TestSendInvalidDraftDoesNotReachUpstream(t *testing.T) {
	f := newFixture(t)
	principal, _ := f.authorize(t, nil)

	_, err := f.broker.Send(context.Background(), principal, &codec.Draft{Subject: "no recipients"})
	require.Error(t, err)
	assert.Empty(t, f.fake.Sent)
}

func TestSendRateLimited(t *testing.T) {
	f := newFixture(t)
	principal, _ := f.authorize(t, nil)
	ctx := context.Background()

	draft := &codec.Draft{To: []string{"alice@example.com"}, Subject: "s", Body: "b"}
	for i := 0; i < ratelimit.DefaultCapacity; i++ {
		_, err := f.broker.Send(ctx, principal, draft)
		require.NoError(t, err)
	}

	_, err := f.broker.Send(ctx, principal, draft)
	var limitErr *ratelimit.LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Positive(t, limitErr.RetryAfterSeconds)
	assert.Len(t, f.fake.Sent, ratelimit.DefaultCapacity)
}

func TestListPassesThrough(t *testing.T) {
	f := newFixture(t)
	principal, _ := f.authorize(t, nil)

	f.fake.Page = &upstream.MessagePage{
		Messages:           []*gmail.Message{{Id: "m1"}, {Id: "m2"}},
		NextPageToken:      "next",
		ResultSizeEstimate: 2,
	}

	page, err := f.broker.List(context.Background(), principal, upstream.ListOptions{MaxResults: 2})
	require.NoError(t, err)
	assert.Len(t, page.Messages, 2)
	assert.Equal(t, "next", page.NextPageToken)
}

func TestGetParsedFlattensMessage(t *testing.T) {
	f := newFixture(t)
	principal, _ := f.authorize(t, nil)

	f.fake.Messages = map[string]*gmail.Message{
		"m1": {
			Id:       "m1",
			ThreadId: "t1",
			Snippet:  "hi",
			Payload: &gmail.MessagePart{
				MimeType: "multipart/alternative",
				Headers: []*gmail.MessagePartHeader{
					{Name: "From", Value: "bob@example.com"},
					{Name: "Subject", Value: "hello"},
				},
				Parts: []*gmail.MessagePart{
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{
						Data: base64.RawURLEncoding.EncodeToString([]byte("hi")),
					}},
					{MimeType: "text/html", Body: &gmail.MessagePartBody{
						Data: base64.RawURLEncoding.EncodeToString([]byte("<p>hi</p>")),
					}},
				},
			},
		},
	}

	parsed, err := f.broker.GetParsed(context.Background(), principal, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", parsed.ID)
	assert.Equal(t, "hi", parsed.BodyPlain)
	assert.Equal(t, "<p>hi</p>", parsed.BodyHTML)
	assert.Equal(t, "bob@example.com", parsed.Headers["From"])
}

func TestGetRawUnknownMessage(t *testing.T) {
	f := newFixture(t)
	principal, _ := f.authorize(t, nil)

	_, err := f.broker.GetRaw(context.Background(), principal, "missing", "full")
	assert.ErrorIs(t, err, upstream.ErrUnavailable)
}

func TestGetAttachment(t *testing.T) {
	f := newFixture(t)
	principal, _ := f.authorize(t, nil)

	f.fake.Attachments = map[string]*gmail.MessagePartBody{
		"att-1": {Data: "ZGF0YQ", Size: 4},
	}

	body, err := f.broker.GetAttachment(context.Background(), principal, "m1", "att-1")
	require.NoError(t, err)
	assert.Equal(t, "ZGF0YQ", body.Data)
}

func TestExpiredCredentialRefreshedAndPersisted(t *testing.T) {
	f := newFixture(t)
	principal, _ := f.authorize(t, nil)

	expired := &upstream.Credential{
		AccessToken:  "stale",
		RefreshToken: "refresh-for-auth-code",
		Expiry:       time.Now().Add(-time.Hour),
	}
	require.NoError(t, f.vault.Save(principal, expired))

	_, err := f.broker.WhoAmI(context.Background(), principal)
	require.NoError(t, err)
	assert.Equal(t, 1, f.fake.RefreshCalls)

	// The refreshed credential replaced the stale record
	cred, err := f.vault.Load(principal)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-1", cred.AccessToken)
}

func TestExpiredCredentialWithoutRefreshToken(t *testing.T) {
	f := newFixture(t)
	principal, _ := f.authorize(t, nil)

	require.NoError(t, f.vault.Save(principal, &upstream.Credential{
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Hour),
	}))

	_, err := f.broker.WhoAmI(context.Background(), principal)
	assert.ErrorIs(t, err, authflow.ErrCredentialExpired)
}

func TestRefreshFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	principal, _ := f.authorize(t, nil)

	require.NoError(t, f.vault.Save(principal, &upstream.Credential{
		AccessToken:  "stale",
		RefreshToken: "r",
		Expiry:       time.Now().Add(-time.Hour),
	}))
	f.fake.RefreshErr = upstream.ErrAuthFailed

	_, err := f.broker.WhoAmI(context.Background(), principal)
	assert.ErrorIs(t, err, upstream.ErrAuthFailed)
}
