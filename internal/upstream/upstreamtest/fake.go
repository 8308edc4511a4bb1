// Package upstreamtest provides an in-memory upstream.Service for tests.
package upstreamtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/mailgrant/mailgrant/internal/upstream"
)

// SentMessage records one SendRaw call.
type SentMessage struct {
	Raw      string
	ThreadID string
}

// Fake implements upstream.Service in memory. Zero value is usable: the
// exchange and refresh paths hand out deterministic credentials unless a
// field or error override says otherwise.
type Fake struct {
	mu sync.Mutex

	ExchangeErr error
	RefreshErr  error
	SendErr     error

	Cred        *upstream.Credential
	Refreshed   *upstream.Credential
	Profile     *upstream.Profile
	Page        *upstream.MessagePage
	Messages    map[string]*gmail.Message
	Attachments map[string]*gmail.MessagePartBody

	ExchangeCalls int
	RefreshCalls  int
	Sent          []SentMessage
}

var _ upstream.Service = (*Fake)(nil)

func (f *Fake) AuthCodeURL(state string) string {
	return "https://accounts.example.com/consent?state=" + state
}

func (f *Fake) ExchangeCode(_ context.Context, code string) (*upstream.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ExchangeCalls++
	if f.ExchangeErr != nil {
		return nil, f.ExchangeErr
	}
	if f.Cred != nil {
		c := *f.Cred
		return &c, nil
	}
	return &upstream.Credential{
		AccessToken:  "access-for-" + code,
		RefreshToken: "refresh-for-" + code,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

func (f *Fake) Refresh(_ context.Context, cred *upstream.Credential) (*upstream.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RefreshCalls++
	if f.RefreshErr != nil {
		return nil, f.RefreshErr
	}
	if f.Refreshed != nil {
		c := *f.Refreshed
		return &c, nil
	}
	c := *cred
	c.AccessToken = fmt.Sprintf("refreshed-%d", f.RefreshCalls)
	c.Expiry = time.Now().Add(time.Hour)
	return &c, nil
}

func (f *Fake) GetProfile(context.Context, *upstream.Credential) (*upstream.Profile, error) {
	if f.Profile != nil {
		return f.Profile, nil
	}
	return &upstream.Profile{Email: "user@example.com", Name: "Test User"}, nil
}

func (f *Fake) SendRaw(_ context.Context, _ *upstream.Credential, raw, threadID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return "", f.SendErr
	}
	f.Sent = append(f.Sent, SentMessage{Raw: raw, ThreadID: threadID})
	return fmt.Sprintf("sent-%d", len(f.Sent)), nil
}

func (f *Fake) ListMessages(context.Context, *upstream.Credential, upstream.ListOptions) (*upstream.MessagePage, error) {
	if f.Page != nil {
		return f.Page, nil
	}
	return &upstream.MessagePage{}, nil
}

func (f *Fake) GetMessage(_ context.Context, _ *upstream.Credential, id, _ string) (*gmail.Message, error) {
	if msg, ok := f.Messages[id]; ok {
		return msg, nil
	}
	return nil, fmt.Errorf("%w: no such message %s", upstream.ErrUnavailable, id)
}

func (f *Fake) GetAttachment(_ context.Context, _ *upstream.Credential, _, attachmentID string) (*gmail.MessagePartBody, error) {
	if att, ok := f.Attachments[attachmentID]; ok {
		return att, nil
	}
	return nil, fmt.Errorf("%w: no such attachment %s", upstream.ErrUnavailable, attachmentID)
}
