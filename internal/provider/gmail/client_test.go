package gmail

import (
	"encoding/base64"
	"strings"
	"testing"

	gm "google.golang.org/api/gmail/v1"

	"github.com/joshsymonds/inboxflow/internal/mailbox"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestParseMessage(t *testing.T) {
	msg := &gm.Message{
		Id:       "m1",
		ThreadId: "t1",
		LabelIds: []string{"INBOX", "UNREAD"},
		Payload: &gm.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gm.MessagePartHeader{
				{Name: "From", Value: "Acme Billing <billing@acme.com>"},
				{Name: "To", Value: "me@example.com, Other <other@example.com>"},
				{Name: "Subject", Value: "Your invoice"},
				{Name: "Date", Value: "Sat, 14 Mar 2026 09:00:00 +0000"},
			},
			Parts: []*gm.MessagePart{
				{MimeType: "text/plain", Body: &gm.MessagePartBody{Data: b64("plain body")}},
				{MimeType: "text/html", Body: &gm.MessagePartBody{Data: b64("<p>html body</p>")}},
				{MimeType: "application/pdf", Filename: "invoice.pdf", Body: &gm.MessagePartBody{Size: 1024}},
			},
		},
	}

	email := parseMessage(msg)
	if email.ID != "m1" || email.ThreadID != "t1" {
		t.Errorf("ids = %s/%s", email.ID, email.ThreadID)
	}
	if email.From.Email != "billing@acme.com" || email.From.Name != "Acme Billing" {
		t.Errorf("from = %+v", email.From)
	}
	if len(email.To) != 2 || email.To[1].Name != "Other" {
		t.Errorf("to = %+v", email.To)
	}
	if email.TextBody != "plain body" || !strings.Contains(email.HTMLBody, "html body") {
		t.Errorf("bodies = %q / %q", email.TextBody, email.HTMLBody)
	}
	if len(email.Attachments) != 1 || email.Attachments[0].Filename != "invoice.pdf" {
		t.Errorf("attachments = %+v", email.Attachments)
	}
	if email.Date.IsZero() {
		t.Error("date not parsed")
	}
	if !email.HasLabel("INBOX") {
		t.Error("labels not carried over")
	}
}

func TestDecodeBodyToleratesMissingPadding(t *testing.T) {
	raw := base64.RawURLEncoding.EncodeToString([]byte("hello"))
	got, err := decodeBody(raw)
	if err != nil || got != "hello" {
		t.Fatalf("got %q, err %v", got, err)
	}
}

func TestValidateLabelName(t *testing.T) {
	c := NewWithService(nil, nil)
	cases := []struct {
		name string
		ok   bool
	}{
		{"Receipts", true},
		{"Parent/Child", true},
		{"", false},
		{"  ", false},
		{"INBOX", false},
		{"spam", false},
		{"/leading", false},
		{"trailing/", false},
		{strings.Repeat("x", 226), false},
	}
	for _, tc := range cases {
		err := c.ValidateLabelName(tc.name)
		if tc.ok && err != nil {
			t.Errorf("%q: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%q: want error", tc.name)
		}
	}
}

func TestEncodeRFC822(t *testing.T) {
	raw := encodeRFC822(mailbox.Outgoing{
		To:      []string{"a@example.com", "b@example.com"},
		Cc:      []string{"c@example.com"},
		Subject: "hello",
		Body:    "body text",
	}, map[string]string{"In-Reply-To": "<abc@mail>"})

	decoded, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	s := string(decoded)
	for _, want := range []string{
		"To: a@example.com, b@example.com\r\n",
		"Cc: c@example.com\r\n",
		"Subject: hello\r\n",
		"In-Reply-To: <abc@mail>\r\n",
		"Content-Type: text/plain",
		"\r\n\r\nbody text",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %q in:\n%s", want, s)
		}
	}
}

func TestReplyAndForwardSubjects(t *testing.T) {
	if got := replySubject("Your invoice"); got != "Re: Your invoice" {
		t.Errorf("got %q", got)
	}
	if got := replySubject("RE: Your invoice"); got != "RE: Your invoice" {
		t.Errorf("double prefix: %q", got)
	}
	if got := forwardSubject("Fwd: hi"); got != "Fwd: hi" {
		t.Errorf("double prefix: %q", got)
	}
}
