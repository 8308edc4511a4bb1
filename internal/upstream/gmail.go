package upstream

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	oauthapi "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// DefaultScopes are the provider scopes the broker requests: enough to
// send and read mail and to resolve the account profile.
var DefaultScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// GmailService implements Service against the Gmail and Google OAuth2 APIs.
type GmailService struct {
	conf *oauth2.Config
}

// NewGmail creates a Gmail-backed Service. redirectURL is the loopback
// address the caller's browser helper listens on during consent.
func NewGmail(clientID, clientSecret, redirectURL string, scopes []string) *GmailService {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &GmailService{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
		},
	}
}

// AuthCodeURL returns the consent URL for the given state token. Offline
// access with forced consent so the provider issues a refresh token.
func (s *GmailService) AuthCodeURL(state string) string {
	return s.conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// ExchangeCode trades an authorization code for a credential.
func (s *GmailService) ExchangeCode(ctx context.Context, code string) (*Credential, error) {
	tok, err := s.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchanging code: %v", ErrAuthFailed, err)
	}
	return s.fromToken(tok, nil), nil
}

// Refresh obtains a fresh access token for cred. The provider normally
// returns the same refresh token; if it rotates, the new one is kept.
func (s *GmailService) Refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	ts := s.conf.TokenSource(ctx, &oauth2.Token{
		RefreshToken: cred.RefreshToken,
	})
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refreshing token: %v", ErrAuthFailed, err)
	}
	return s.fromToken(tok, cred), nil
}

func (s *GmailService) fromToken(tok *oauth2.Token, prev *Credential) *Credential {
	cred := &Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		Scopes:       s.conf.Scopes,
	}
	if cred.RefreshToken == "" && prev != nil {
		cred.RefreshToken = prev.RefreshToken
	}
	return cred
}

// staticClient builds API client options around the stored access token.
// A static token source is used on purpose: refresh is driven explicitly
// by the broker so the updated credential can be re-persisted.
func staticClient(cred *Credential) option.ClientOption {
	return option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   "Bearer",
	}))
}

func (s *GmailService) mailService(ctx context.Context, cred *Credential) (*gmail.Service, error) {
	svc, err := gmail.NewService(ctx, staticClient(cred))
	if err != nil {
		return nil, fmt.Errorf("%w: creating mail client: %v", ErrUnavailable, err)
	}
	return svc, nil
}

// GetProfile fetches userinfo for the account behind cred.
func (s *GmailService) GetProfile(ctx context.Context, cred *Credential) (*Profile, error) {
	svc, err := oauthapi.NewService(ctx, staticClient(cred))
	if err != nil {
		return nil, fmt.Errorf("%w: creating userinfo client: %v", ErrUnavailable, err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: fetching profile: %v", ErrUnavailable, err)
	}
	return &Profile{
		ID:      info.Id,
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}, nil
}

// SendRaw submits a base64url-encoded RFC 2822 message.
func (s *GmailService) SendRaw(ctx context.Context, cred *Credential, raw, threadID string) (string, error) {
	svc, err := s.mailService(ctx, cred)
	if err != nil {
		return "", err
	}
	msg := &gmail.Message{Raw: raw}
	if threadID != "" {
		msg.ThreadId = threadID
	}
	sent, err := svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("%w: sending message: %v", ErrUnavailable, err)
	}
	return sent.Id, nil
}

// ListMessages returns one page of message summaries.
func (s *GmailService) ListMessages(ctx context.Context, cred *Credential, opts ListOptions) (*MessagePage, error) {
	svc, err := s.mailService(ctx, cred)
	if err != nil {
		return nil, err
	}
	call := svc.Users.Messages.List("me").Context(ctx)
	if opts.MaxResults > 0 {
		call = call.MaxResults(opts.MaxResults)
	}
	if opts.Query != "" {
		call = call.Q(opts.Query)
	}
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}
	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("%w: listing messages: %v", ErrUnavailable, err)
	}
	return &MessagePage{
		Messages:           res.Messages,
		NextPageToken:      res.NextPageToken,
		ResultSizeEstimate: res.ResultSizeEstimate,
	}, nil
}

// GetMessage fetches one message. An empty format means "full".
func (s *GmailService) GetMessage(ctx context.Context, cred *Credential, id, format string) (*gmail.Message, error) {
	svc, err := s.mailService(ctx, cred)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = "full"
	}
	msg, err := svc.Users.Messages.Get("me", id).Format(format).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: fetching message %s: %v", ErrUnavailable, id, err)
	}
	return msg, nil
}

// GetAttachment fetches one attachment body, data left base64url-encoded.
func (s *GmailService) GetAttachment(ctx context.Context, cred *Credential, messageID, attachmentID string) (*gmail.MessagePartBody, error) {
	svc, err := s.mailService(ctx, cred)
	if err != nil {
		return nil, err
	}
	att, err := svc.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: fetching attachment %s: %v", ErrUnavailable, attachmentID, err)
	}
	return att, nil
}
