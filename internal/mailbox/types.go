// Package mailbox defines the provider-independent message model and the
// narrow client surface the automation engine drives a mail account through.
// Provider packages (Gmail, IMAP) adapt their wire APIs to these types; the
// engine never branches on which provider backs an account.
package mailbox

import (
	"strings"
	"time"

	"github.com/k3a/html2text"
)

type MessageID string

type ThreadID string

type LabelID string

type FolderID string

// Address is a parsed mailbox address with an optional display name.
type Address struct {
	Name  string
	Email string
}

// String renders the address in RFC 5322 form.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return a.Name + " <" + a.Email + ">"
}

// Domain returns the part after the last "@", lowercased.
func (a Address) Domain() string {
	at := strings.LastIndex(a.Email, "@")
	if at == -1 {
		return ""
	}
	return strings.ToLower(strings.Trim(a.Email[at+1:], ". "))
}

// Attachment holds attachment metadata. Content is fetched separately and
// only by providers; the engine never needs it.
type Attachment struct {
	Filename string
	MimeType string
	Size     int64
}

// Email is the normalized representation of one message. It is constructed
// once per pipeline run and never mutated afterwards.
type Email struct {
	ID          MessageID
	ThreadID    ThreadID
	From        Address
	To          []Address
	Cc          []Address
	Subject     string
	TextBody    string
	HTMLBody    string
	Headers     map[string]string
	Attachments []Attachment
	Labels      []LabelID
	Date        time.Time
}

// PlainBody returns the text body, converting the HTML part when no plain
// part exists. The result is what gets shown to the reasoning provider.
func (e Email) PlainBody() string {
	if strings.TrimSpace(e.TextBody) != "" {
		return e.TextBody
	}
	if strings.TrimSpace(e.HTMLBody) != "" {
		return html2text.HTML2Text(e.HTMLBody)
	}
	return ""
}

// Header returns a header value, matching the canonical name case-insensitively.
func (e Email) Header(name string) string {
	if v, ok := e.Headers[name]; ok {
		return v
	}
	for k, v := range e.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// HasLabel reports whether the message carries the given label.
func (e Email) HasLabel(id LabelID) bool {
	for _, l := range e.Labels {
		if l == id {
			return true
		}
	}
	return false
}

// Outgoing describes a message to send, draft, or use as a reply/forward
// body. Recipients are plain addresses; providers handle encoding.
type Outgoing struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
	HTML    bool
}
