package codec

// Attachment is one attachment on an outgoing draft. Content carries the
// file bytes in standard base64, the form clients submit them in.
type Attachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Draft is an outgoing message request. To is mandatory; everything else
// is optional. ThreadID attaches the message to an existing conversation.
type Draft struct {
	To          []string     `json:"to"`
	Cc          []string     `json:"cc,omitempty"`
	Bcc         []string     `json:"bcc,omitempty"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body,omitempty"`
	HTML        string       `json:"html,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ThreadID    string       `json:"thread_id,omitempty"`
}

// AttachmentRef describes an attachment found while parsing an incoming
// message. The bytes are not fetched; AttachmentID retrieves them later.
type AttachmentRef struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mime_type"`
	AttachmentID string `json:"attachment_id"`
	Size         int64  `json:"size"`
}

// ParsedEmail is the normalized form of an incoming message. BodyPlain and
// BodyHTML accumulate across all text leaves of the same type, since a
// message may carry several.
type ParsedEmail struct {
	ID          string            `json:"id"`
	ThreadID    string            `json:"thread_id"`
	Snippet     string            `json:"snippet"`
	Headers     map[string]string `json:"headers"`
	BodyPlain   string            `json:"body_plain"`
	BodyHTML    string            `json:"body_html"`
	Attachments []AttachmentRef   `json:"attachments"`
}
