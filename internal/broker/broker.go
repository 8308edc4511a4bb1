// Package broker orchestrates the credential broker's operations: it
// authenticates sessions, resolves stored credentials (refreshing them
// when needed) and delegates mail operations to the upstream provider.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/mailgrant/mailgrant/internal/authflow"
	"github.com/mailgrant/mailgrant/internal/codec"
	"github.com/mailgrant/mailgrant/internal/instrumentation"
	"github.com/mailgrant/mailgrant/internal/logging"
	"github.com/mailgrant/mailgrant/internal/ratelimit"
	"github.com/mailgrant/mailgrant/internal/session"
	"github.com/mailgrant/mailgrant/internal/upstream"
	"github.com/mailgrant/mailgrant/internal/vault"
)

// ErrReauthorizeRequired indicates no usable stored credential exists
// for the principal: the record is missing or cannot be decrypted. The
// user must run the authorization flow again.
var ErrReauthorizeRequired = errors.New("authorization required")

// Config assembles a Broker from its collaborators.
type Config struct {
	Upstream upstream.Service
	Vault    *vault.Vault
	Sessions *session.Issuer
	Limiter  *ratelimit.Limiter
	Flow     *authflow.Exchanger
	Codec    *codec.Codec
	Logger   *slog.Logger
	Metrics  *instrumentation.Metrics

	// SessionValidity is how long issued session tokens stay valid.
	// Zero means session.DefaultValidity.
	SessionValidity time.Duration
}

// Broker is the orchestrator behind the HTTP API.
type Broker struct {
	upstream upstream.Service
	vault    *vault.Vault
	sessions *session.Issuer
	limiter  *ratelimit.Limiter
	flow     *authflow.Exchanger
	codec    *codec.Codec
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
	validity time.Duration
}

// New creates a Broker from cfg.
func New(cfg Config) *Broker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}
	return &Broker{
		upstream: cfg.Upstream,
		vault:    cfg.Vault,
		sessions: cfg.Sessions,
		limiter:  cfg.Limiter,
		flow:     cfg.Flow,
		codec:    cfg.Codec,
		logger:   logger,
		metrics:  metrics,
		validity: cfg.SessionValidity,
	}
}

// BeginAuthorization starts an authorization attempt and returns the
// consent URL the user must visit together with the state token bound
// to the attempt.
func (b *Broker) BeginAuthorization(ctx context.Context) (authURL, state string, err error) {
	start := time.Now()
	authURL, state, err = b.flow.Begin()
	b.observe(ctx, "authorize", start, err)
	if err != nil {
		return "", "", err
	}
	b.logger.Debug("authorization started",
		logging.Operation("authorize"),
		slog.String("state", logging.SanitizeToken(state)))
	return authURL, state, nil
}

// ExchangeCode completes an authorization attempt: it consumes the state
// token, exchanges the code for a credential, persists it and mints a
// session token bound to the given origin allow-list.
func (b *Broker) ExchangeCode(ctx context.Context, code, state string, origins []string) (string, error) {
	start := time.Now()
	principal, _, err := b.flow.Exchange(ctx, code, state)
	b.observe(ctx, "exchange_code", start, err)
	if err != nil {
		return "", err
	}

	token, err := b.sessions.Issue(principal, origins, b.validity)
	if err != nil {
		return "", fmt.Errorf("issuing session token: %w", err)
	}

	b.logger.Info("session issued",
		logging.Operation("exchange_code"),
		logging.Principal(principal),
		slog.Int("origins", len(origins)))
	return token, nil
}

// Authenticate validates a session token against the observed origin and
// returns the principal it names.
func (b *Broker) Authenticate(ctx context.Context, token, origin string) (string, error) {
	principal, _, err := b.sessions.Verify(token, origin)
	if err != nil {
		b.metrics.RecordAuthFailure(ctx, authFailureReason(err))
		b.logger.Warn("authentication rejected",
			logging.Origin(origin),
			logging.Err(err))
		return "", err
	}
	return principal, nil
}

// WhoAmI returns the upstream account profile behind the principal.
func (b *Broker) WhoAmI(ctx context.Context, principal string) (*upstream.Profile, error) {
	start := time.Now()
	profile, err := withCredential(b, ctx, principal, func(cred *upstream.Credential) (*upstream.Profile, error) {
		p, err := b.upstream.GetProfile(ctx, cred)
		b.metrics.RecordUpstream(ctx, "userinfo.get", err)
		return p, err
	})
	b.observe(ctx, "me", start, err)
	return profile, err
}

// Send builds the draft into a wire message and submits it upstream.
// Sends are rate limited per principal; the limiter is charged before
// any upstream work happens.
func (b *Broker) Send(ctx context.Context, principal string, draft *codec.Draft) (string, error) {
	start := time.Now()
	id, err := b.send(ctx, principal, draft)
	b.observe(ctx, "send_email", start, err)
	return id, err
}

func (b *Broker) send(ctx context.Context, principal string, draft *codec.Draft) (string, error) {
	if err := b.limiter.Check(principal); err != nil {
		b.metrics.RecordRateLimited(ctx)
		b.logger.Warn("send rejected by rate limiter", logging.Principal(principal))
		return "", err
	}

	raw, err := b.codec.BuildOutgoing(draft)
	if err != nil {
		return "", err
	}

	return withCredential(b, ctx, principal, func(cred *upstream.Credential) (string, error) {
		id, err := b.upstream.SendRaw(ctx, cred, raw, draft.ThreadID)
		b.metrics.RecordUpstream(ctx, "messages.send", err)
		if err == nil {
			b.logger.Info("message sent",
				logging.Operation("send_email"),
				logging.Principal(principal),
				slog.String("message_id", id))
		}
		return id, err
	})
}

// List returns one page of message summaries for the principal.
func (b *Broker) List(ctx context.Context, principal string, opts upstream.ListOptions) (*upstream.MessagePage, error) {
	start := time.Now()
	page, err := withCredential(b, ctx, principal, func(cred *upstream.Credential) (*upstream.MessagePage, error) {
		p, err := b.upstream.ListMessages(ctx, cred, opts)
		b.metrics.RecordUpstream(ctx, "messages.list", err)
		return p, err
	})
	b.observe(ctx, "list_emails", start, err)
	return page, err
}

// GetRaw fetches a single message in the provider's representation.
func (b *Broker) GetRaw(ctx context.Context, principal, id, format string) (*gmail.Message, error) {
	start := time.Now()
	msg, err := withCredential(b, ctx, principal, func(cred *upstream.Credential) (*gmail.Message, error) {
		m, err := b.upstream.GetMessage(ctx, cred, id, format)
		b.metrics.RecordUpstream(ctx, "messages.get", err)
		return m, err
	})
	b.observe(ctx, "get_email", start, err)
	return msg, err
}

// GetParsed fetches a message and flattens its MIME tree into the
// simplified representation.
func (b *Broker) GetParsed(ctx context.Context, principal, id string) (*codec.ParsedEmail, error) {
	start := time.Now()
	parsed, err := withCredential(b, ctx, principal, func(cred *upstream.Credential) (*codec.ParsedEmail, error) {
		msg, err := b.upstream.GetMessage(ctx, cred, id, "full")
		b.metrics.RecordUpstream(ctx, "messages.get", err)
		if err != nil {
			return nil, err
		}
		return b.codec.ParseIncoming(msg), nil
	})
	b.observe(ctx, "get_parsed_email", start, err)
	return parsed, err
}

// GetAttachment fetches one attachment body. The data stays in the
// provider's base64url encoding.
func (b *Broker) GetAttachment(ctx context.Context, principal, messageID, attachmentID string) (*gmail.MessagePartBody, error) {
	start := time.Now()
	body, err := withCredential(b, ctx, principal, func(cred *upstream.Credential) (*gmail.MessagePartBody, error) {
		a, err := b.upstream.GetAttachment(ctx, cred, messageID, attachmentID)
		b.metrics.RecordUpstream(ctx, "attachments.get", err)
		return a, err
	})
	b.observe(ctx, "get_attachment", start, err)
	return body, err
}

// withCredential resolves the principal's stored credential, refreshing
// and re-persisting it when expired, then runs fn with the usable form.
func withCredential[T any](b *Broker, ctx context.Context, principal string, fn func(*upstream.Credential) (T, error)) (T, error) {
	var zero T

	cred, err := b.vault.Load(principal)
	switch {
	case errors.Is(err, vault.ErrNotFound), errors.Is(err, vault.ErrDecrypt):
		return zero, fmt.Errorf("%w: %v", ErrReauthorizeRequired, err)
	case err != nil:
		return zero, err
	}

	usable, refreshed, err := b.flow.RefreshIfNeeded(ctx, cred)
	if refreshed || err != nil {
		b.metrics.RecordRefresh(ctx, err)
	}
	if err != nil {
		return zero, err
	}
	if refreshed {
		if err := b.vault.Save(principal, usable); err != nil {
			return zero, fmt.Errorf("persisting refreshed credential: %w", err)
		}
		b.logger.Info("credential refreshed", logging.Principal(principal))
	}

	return fn(usable)
}

func (b *Broker) observe(ctx context.Context, operation string, start time.Time, err error) {
	b.metrics.RecordOperation(ctx, operation, err, time.Since(start))
}

func authFailureReason(err error) string {
	switch {
	case errors.Is(err, session.ErrExpired):
		return "session_expired"
	case errors.Is(err, session.ErrOriginDenied):
		return "origin_denied"
	default:
		return "invalid_session"
	}
}
