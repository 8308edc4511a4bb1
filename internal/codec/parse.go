package codec

import (
	"encoding/base64"
	"log/slog"
	"strings"

	gmail "google.golang.org/api/gmail/v1"
)

// keptHeaders is the whitelist of headers surfaced on a parsed message.
var keptHeaders = []string{"From", "To", "Subject", "Date", "Cc", "Bcc"}

// ParseIncoming normalizes a provider message into a ParsedEmail.
//
// Text leaves accumulate: a message with several text/plain parts yields
// their concatenation. A leaf whose data cannot be decoded loses that
// field only; the rest of the message still parses. A message with no
// parts at all is treated as a single leaf using the top-level body.
func (c *Codec) ParseIncoming(msg *gmail.Message) *ParsedEmail {
	result := &ParsedEmail{
		ID:          msg.Id,
		ThreadID:    msg.ThreadId,
		Snippet:     msg.Snippet,
		Headers:     map[string]string{},
		Attachments: []AttachmentRef{},
	}
	if msg.Payload == nil {
		return result
	}

	for _, h := range msg.Payload.Headers {
		for _, name := range keptHeaders {
			if h.Name == name {
				result.Headers[name] = h.Value
			}
		}
	}

	if len(msg.Payload.Parts) > 0 {
		c.collectParts(result, msg.Payload.Parts)
		return result
	}

	// Single-part message: the top-level body is the only leaf.
	if msg.Payload.Body != nil && msg.Payload.Body.Data != "" {
		decoded, err := decodeBody(msg.Payload.Body.Data)
		if err != nil {
			c.logger.Warn("skipping undecodable message body",
				slog.String("message_id", msg.Id))
			return result
		}
		if msg.Payload.MimeType == "text/html" {
			result.BodyHTML = decoded
		} else {
			result.BodyPlain = decoded
		}
	}
	return result
}

// collectParts walks a part tree, accumulating text bodies and recording
// attachment references.
func (c *Codec) collectParts(result *ParsedEmail, parts []*gmail.MessagePart) {
	for _, part := range parts {
		switch {
		case part.MimeType == "text/plain":
			c.appendText(&result.BodyPlain, part)
		case part.MimeType == "text/html":
			c.appendText(&result.BodyHTML, part)
		case strings.Contains(part.MimeType, "multipart"):
			c.collectParts(result, part.Parts)
		case part.Body != nil && part.Body.AttachmentId != "":
			result.Attachments = append(result.Attachments, AttachmentRef{
				Filename:     part.Filename,
				MimeType:     part.MimeType,
				AttachmentID: part.Body.AttachmentId,
				Size:         part.Body.Size,
			})
		}
	}
}

func (c *Codec) appendText(dst *string, part *gmail.MessagePart) {
	if part.Body == nil || part.Body.Data == "" {
		return
	}
	decoded, err := decodeBody(part.Body.Data)
	if err != nil {
		c.logger.Warn("skipping undecodable message part",
			slog.String("mime_type", part.MimeType))
		return
	}
	*dst += decoded
}

// decodeBody decodes the provider's base64url body data. The provider
// omits padding; some senders pad or use standard base64, so both are
// accepted as fallbacks.
func decodeBody(data string) (string, error) {
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding, base64.URLEncoding, base64.StdEncoding,
	} {
		if decoded, err := enc.DecodeString(data); err == nil {
			return string(decoded), nil
		}
	}
	_, err := base64.RawURLEncoding.DecodeString(data)
	return "", err
}
