package upstream

import (
	"context"
	"errors"
	"time"

	gmail "google.golang.org/api/gmail/v1"
)

// Typed errors produced at the adapter boundary. The broker core never
// inspects provider-specific error shapes; it matches on these.
var (
	// ErrAuthFailed indicates the provider rejected an exchange or refresh.
	ErrAuthFailed = errors.New("upstream authorization failed")

	// ErrUnavailable indicates a mail operation failed at the provider.
	ErrUnavailable = errors.New("upstream request failed")
)

// Credential is the provider's access grant for one principal: the
// access/refresh token pair, its expiry and the granted scopes.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Expired reports whether the access token has passed its expiry.
// A zero expiry means the provider did not report one; treat as valid.
func (c *Credential) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && now.After(c.Expiry)
}

// Profile holds the subset of the provider's userinfo the broker exposes.
type Profile struct {
	ID      string `json:"id,omitempty"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// ListOptions narrows a message listing.
type ListOptions struct {
	MaxResults int64
	Query      string
	PageToken  string
}

// MessagePage is one page of message summaries.
type MessagePage struct {
	Messages           []*gmail.Message `json:"messages"`
	NextPageToken      string           `json:"next_page_token,omitempty"`
	ResultSizeEstimate int64            `json:"result_size_estimate"`
}

// Service is the capability interface the broker requires from the mail
// provider. Implementations must translate provider failures into the
// typed errors above.
type Service interface {
	// AuthCodeURL returns the consent URL for an authorization attempt
	// bound to the given one-time state token.
	AuthCodeURL(state string) string

	// ExchangeCode trades an authorization code for a credential.
	ExchangeCode(ctx context.Context, code string) (*Credential, error)

	// Refresh obtains a fresh access token using the credential's refresh
	// token. The returned credential carries the original refresh token if
	// the provider does not rotate it. Single attempt, no internal retry.
	Refresh(ctx context.Context, cred *Credential) (*Credential, error)

	// GetProfile fetches the account profile behind the credential.
	GetProfile(ctx context.Context, cred *Credential) (*Profile, error)

	// SendRaw submits a base64url-encoded RFC 2822 message. A non-empty
	// threadID attaches the message to an existing conversation.
	SendRaw(ctx context.Context, cred *Credential, raw, threadID string) (string, error)

	// ListMessages returns one page of message summaries.
	ListMessages(ctx context.Context, cred *Credential, opts ListOptions) (*MessagePage, error)

	// GetMessage fetches a single message in the requested format
	// (minimal, full, raw or metadata; empty means full).
	GetMessage(ctx context.Context, cred *Credential, id, format string) (*gmail.Message, error)

	// GetAttachment fetches one attachment body by id. The body data stays
	// in the provider's base64url encoding.
	GetAttachment(ctx context.Context, cred *Credential, messageID, attachmentID string) (*gmail.MessagePartBody, error)
}
