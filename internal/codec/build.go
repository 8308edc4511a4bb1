package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// ErrInvalidDraft indicates a draft that cannot be built into a wire
// message.
var ErrInvalidDraft = errors.New("invalid draft")

// Codec builds outgoing wire payloads and parses incoming ones.
type Codec struct {
	logger *slog.Logger
}

// New creates a Codec. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{logger: logger}
}

// BuildOutgoing serializes a draft into the base64url-encoded RFC 2822
// form the provider's send endpoint expects.
//
// An attachment whose content is not valid base64 is dropped from the
// message rather than failing the whole send; the drop is logged.
func (c *Codec) BuildOutgoing(draft *Draft) (string, error) {
	if len(draft.To) == 0 {
		return "", fmt.Errorf("%w: at least one recipient is required", ErrInvalidDraft)
	}
	if draft.Subject == "" {
		return "", fmt.Errorf("%w: subject is required", ErrInvalidDraft)
	}

	var buf bytes.Buffer
	writeHeader(&buf, "To", strings.Join(draft.To, ", "))
	if len(draft.Cc) > 0 {
		writeHeader(&buf, "Cc", strings.Join(draft.Cc, ", "))
	}
	if len(draft.Bcc) > 0 {
		writeHeader(&buf, "Bcc", strings.Join(draft.Bcc, ", "))
	}
	writeHeader(&buf, "Subject", encodeRFC2047(draft.Subject))
	writeHeader(&buf, "MIME-Version", "1.0")

	if len(draft.Attachments) > 0 {
		if err := c.writeMixed(&buf, draft); err != nil {
			return "", err
		}
	} else if draft.Body != "" && draft.HTML != "" {
		if err := writeAlternative(&buf, draft.Body, draft.HTML); err != nil {
			return "", err
		}
	} else {
		writeSingleBody(&buf, draft.Body, draft.HTML)
	}

	return base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}

// writeMixed wraps the body part(s) and one part per attachment in an
// outer multipart/mixed container.
func (c *Codec) writeMixed(buf *bytes.Buffer, draft *Draft) error {
	mw := multipart.NewWriter(buf)
	writeHeader(buf, "Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", mw.Boundary()))
	buf.WriteString("\r\n")

	if err := writeBodyPart(mw, draft.Body, draft.HTML); err != nil {
		return err
	}

	for _, att := range draft.Attachments {
		content, err := base64.StdEncoding.DecodeString(att.Content)
		if err != nil {
			c.logger.Warn("dropping attachment with undecodable content",
				slog.String("filename", att.Filename))
			continue
		}
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Type", "application/octet-stream")
		hdr.Set("Content-Transfer-Encoding", "base64")
		hdr.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
		p, err := mw.CreatePart(hdr)
		if err != nil {
			return fmt.Errorf("writing attachment part: %w", err)
		}
		if _, err := io.WriteString(p, base64.StdEncoding.EncodeToString(content)); err != nil {
			return fmt.Errorf("writing attachment part: %w", err)
		}
	}

	return mw.Close()
}

// writeBodyPart writes the message body into mw: both bodies become one
// nested multipart/alternative part, a single body becomes one text part,
// and no body writes nothing.
func writeBodyPart(mw *multipart.Writer, body, html string) error {
	switch {
	case body != "" && html != "":
		var alt bytes.Buffer
		aw := multipart.NewWriter(&alt)
		if err := writeTextPart(aw, "text/plain", body); err != nil {
			return err
		}
		if err := writeTextPart(aw, "text/html", html); err != nil {
			return err
		}
		if err := aw.Close(); err != nil {
			return err
		}
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", aw.Boundary()))
		p, err := mw.CreatePart(hdr)
		if err != nil {
			return err
		}
		_, err = p.Write(alt.Bytes())
		return err
	case html != "":
		return writeTextPart(mw, "text/html", html)
	case body != "":
		return writeTextPart(mw, "text/plain", body)
	}
	return nil
}

// writeAlternative emits the whole message as one multipart/alternative
// container holding the plain representation first, then the HTML one.
func writeAlternative(buf *bytes.Buffer, body, html string) error {
	mw := multipart.NewWriter(buf)
	writeHeader(buf, "Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary()))
	buf.WriteString("\r\n")
	if err := writeTextPart(mw, "text/plain", body); err != nil {
		return err
	}
	if err := writeTextPart(mw, "text/html", html); err != nil {
		return err
	}
	return mw.Close()
}

// writeSingleBody emits a non-multipart message with at most one body.
func writeSingleBody(buf *bytes.Buffer, body, html string) {
	content, ctype := body, "text/plain"
	if html != "" {
		content, ctype = html, "text/html"
	}
	writeHeader(buf, "Content-Type", ctype+`; charset="UTF-8"`)
	buf.WriteString("\r\n")
	buf.WriteString(content)
}

func writeTextPart(mw *multipart.Writer, ctype, content string) error {
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Type", ctype+`; charset="UTF-8"`)
	p, err := mw.CreatePart(hdr)
	if err != nil {
		return err
	}
	_, err = io.WriteString(p, content)
	return err
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

// encodeRFC2047 encodes a header value for non-ASCII content.
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}
