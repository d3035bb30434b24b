// Package gmail adapts the Gmail API to the engine's mailbox surface. Gmail
// has labels but no folders, so folder operations become label-plus-archive;
// the engine never sees the difference.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/mbrt/gmailctl/cmd/gmailctl/localcred"
	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/joshsymonds/inboxflow/internal/mailbox"
)

// Client drives one Gmail account.
type Client struct {
	svc *gm.Service
	log *slog.Logger

	mu     sync.Mutex
	labels map[string]mailbox.LabelID
}

// New authenticates against Gmail using gmailctl's local credential layout
// (credentials.json and token.json under cfgDir) and returns a ready client.
func New(ctx context.Context, cfgDir string, logger *slog.Logger) (*Client, error) {
	svc, err := (localcred.Provider{}).ServiceWithScopes(ctx, cfgDir,
		gm.GmailModifyScope, gm.GmailComposeScope)
	if err != nil {
		return nil, fmt.Errorf("authenticate gmail: %w", err)
	}
	return NewWithService(svc, logger), nil
}

// NewWithService wraps an already-authenticated Gmail service.
func NewWithService(svc *gm.Service, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{svc: svc, log: logger, labels: map[string]mailbox.LabelID{}}
}

func (c *Client) GetMessage(ctx context.Context, id mailbox.MessageID) (mailbox.Email, error) {
	msg, err := c.svc.Users.Messages.Get("me", string(id)).Format("full").Context(ctx).Do()
	if err != nil {
		return mailbox.Email{}, classify(fmt.Errorf("get message %s: %w", id, err))
	}
	return parseMessage(msg), nil
}

func (c *Client) GetThreadMessages(ctx context.Context, thread mailbox.ThreadID) ([]mailbox.Email, error) {
	t, err := c.svc.Users.Threads.Get("me", string(thread)).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("get thread %s: %w", thread, err))
	}
	emails := make([]mailbox.Email, 0, len(t.Messages))
	for _, m := range t.Messages {
		emails = append(emails, parseMessage(m))
	}
	return emails, nil
}

func (c *Client) ArchiveThread(ctx context.Context, thread mailbox.ThreadID) error {
	return c.modifyThread(ctx, thread, nil, []string{"INBOX"})
}

func (c *Client) LabelThread(ctx context.Context, thread mailbox.ThreadID, label mailbox.LabelID) error {
	return c.modifyThread(ctx, thread, []string{string(label)}, nil)
}

func (c *Client) RemoveLabel(ctx context.Context, thread mailbox.ThreadID, label mailbox.LabelID) error {
	return c.modifyThread(ctx, thread, nil, []string{string(label)})
}

// MoveToFolder is label-plus-archive: Gmail's closest equivalent of moving a
// message out of the inbox into a folder.
func (c *Client) MoveToFolder(ctx context.Context, thread mailbox.ThreadID, folder mailbox.FolderID) error {
	return c.modifyThread(ctx, thread, []string{string(folder)}, []string{"INBOX"})
}

func (c *Client) MarkRead(ctx context.Context, thread mailbox.ThreadID) error {
	return c.modifyThread(ctx, thread, nil, []string{"UNREAD"})
}

func (c *Client) MarkSpam(ctx context.Context, thread mailbox.ThreadID) error {
	return c.modifyThread(ctx, thread, []string{"SPAM"}, []string{"INBOX"})
}

func (c *Client) modifyThread(ctx context.Context, thread mailbox.ThreadID, add, remove []string) error {
	req := &gm.ModifyThreadRequest{AddLabelIds: add, RemoveLabelIds: remove}
	_, err := c.svc.Users.Threads.Modify("me", string(thread), req).Context(ctx).Do()
	if err != nil {
		return classify(fmt.Errorf("modify thread %s: %w", thread, err))
	}
	return nil
}

func (c *Client) EnsureLabel(ctx context.Context, name string) (mailbox.LabelID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.labels[name]; ok {
		return id, nil
	}

	lr, err := c.svc.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Errorf("list labels: %w", err))
	}
	for _, l := range lr.Labels {
		c.labels[l.Name] = mailbox.LabelID(l.Id)
	}
	if id, ok := c.labels[name]; ok {
		return id, nil
	}

	created, err := c.svc.Users.Labels.Create("me", &gm.Label{Name: name}).Context(ctx).Do()
	if err != nil {
		// A racing creator may have won; treat conflict as lookup.
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 409 {
			lr, listErr := c.svc.Users.Labels.List("me").Context(ctx).Do()
			if listErr == nil {
				for _, l := range lr.Labels {
					if l.Name == name {
						c.labels[name] = mailbox.LabelID(l.Id)
						return mailbox.LabelID(l.Id), nil
					}
				}
			}
		}
		return "", classify(fmt.Errorf("create label %q: %w", name, err))
	}
	c.labels[name] = mailbox.LabelID(created.Id)
	c.log.InfoContext(ctx, "created label", "name", name, "id", created.Id)
	return mailbox.LabelID(created.Id), nil
}

// EnsureFolder maps onto labels; Gmail folders are labels.
func (c *Client) EnsureFolder(ctx context.Context, name string) (mailbox.FolderID, error) {
	id, err := c.EnsureLabel(ctx, name)
	return mailbox.FolderID(id), err
}

var reservedLabels = map[string]bool{
	"INBOX": true, "SPAM": true, "TRASH": true, "UNREAD": true,
	"STARRED": true, "IMPORTANT": true, "SENT": true, "DRAFT": true,
}

func (c *Client) ValidateLabelName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("label name is empty")
	}
	if len(name) > 225 {
		return fmt.Errorf("label name exceeds 225 characters")
	}
	if reservedLabels[strings.ToUpper(name)] {
		return fmt.Errorf("label name %q is reserved by Gmail", name)
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return fmt.Errorf("label name %q must not start or end with a slash", name)
	}
	return nil
}

func (c *Client) SendEmail(ctx context.Context, msg mailbox.Outgoing) error {
	raw := encodeRFC822(msg, nil)
	_, err := c.svc.Users.Messages.Send("me", &gm.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return classify(fmt.Errorf("send message: %w", err))
	}
	return nil
}

func (c *Client) DraftEmail(ctx context.Context, msg mailbox.Outgoing) (string, error) {
	draft := &gm.Draft{Message: &gm.Message{Raw: encodeRFC822(msg, nil)}}
	created, err := c.svc.Users.Drafts.Create("me", draft).Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Errorf("create draft: %w", err))
	}
	return created.Id, nil
}

func (c *Client) ReplyToEmail(ctx context.Context, original mailbox.MessageID, msg mailbox.Outgoing) error {
	orig, err := c.svc.Users.Messages.Get("me", string(original)).
		Format("metadata").MetadataHeaders("Subject", "Message-ID", "References").
		Context(ctx).Do()
	if err != nil {
		return classify(fmt.Errorf("get original %s: %w", original, err))
	}
	headers := headerMap(orig.Payload.Headers)

	if msg.Subject == "" {
		msg.Subject = replySubject(headers["Subject"])
	}
	extra := map[string]string{}
	if mid := headers["Message-ID"]; mid != "" {
		extra["In-Reply-To"] = mid
		refs := headers["References"]
		if refs != "" {
			refs += " "
		}
		extra["References"] = refs + mid
	}

	_, err = c.svc.Users.Messages.Send("me", &gm.Message{
		Raw:      encodeRFC822(msg, extra),
		ThreadId: orig.ThreadId,
	}).Context(ctx).Do()
	if err != nil {
		return classify(fmt.Errorf("send reply: %w", err))
	}
	return nil
}

func (c *Client) ForwardEmail(ctx context.Context, original mailbox.MessageID, msg mailbox.Outgoing) error {
	origMsg, err := c.GetMessage(ctx, original)
	if err != nil {
		return err
	}
	if msg.Subject == "" {
		msg.Subject = forwardSubject(origMsg.Subject)
	}
	var body strings.Builder
	if msg.Body != "" {
		body.WriteString(msg.Body)
		body.WriteString("\n\n")
	}
	body.WriteString("---------- Forwarded message ----------\n")
	fmt.Fprintf(&body, "From: %s\n", origMsg.From.String())
	fmt.Fprintf(&body, "Date: %s\n", origMsg.Date.Format(time.RFC1123Z))
	fmt.Fprintf(&body, "Subject: %s\n\n", origMsg.Subject)
	body.WriteString(origMsg.PlainBody())
	msg.Body = body.String()

	_, err = c.svc.Users.Messages.Send("me", &gm.Message{Raw: encodeRFC822(msg, nil)}).Context(ctx).Do()
	if err != nil {
		return classify(fmt.Errorf("send forward: %w", err))
	}
	return nil
}

func (c *Client) ThreadsFromSender(ctx context.Context, sender string, limit int) ([]mailbox.ThreadID, error) {
	if limit <= 0 {
		limit = 100
	}
	var threads []mailbox.ThreadID
	pageToken := ""
	for len(threads) < limit {
		call := c.svc.Users.Threads.List("me").
			Q(fmt.Sprintf("from:%s", sender)).
			MaxResults(int64(min(limit-len(threads), 100)))
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Context(ctx).Do()
		if err != nil {
			return nil, classify(fmt.Errorf("list threads from %s: %w", sender, err))
		}
		for _, t := range res.Threads {
			threads = append(threads, mailbox.ThreadID(t.Id))
		}
		if res.NextPageToken == "" {
			break
		}
		pageToken = res.NextPageToken
	}
	return threads, nil
}

// classify wraps rate-limit and server-side errors as transient so the
// executor can retry idempotent operations.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
			return mailbox.Transient(err)
		}
	}
	return err
}

func parseMessage(msg *gm.Message) mailbox.Email {
	headers := headerMap(msg.Payload.Headers)

	email := mailbox.Email{
		ID:       mailbox.MessageID(msg.Id),
		ThreadID: mailbox.ThreadID(msg.ThreadId),
		From:     parseAddress(headers["From"]),
		To:       parseAddressList(headers["To"]),
		Cc:       parseAddressList(headers["Cc"]),
		Subject:  headers["Subject"],
		Headers:  headers,
	}
	for _, l := range msg.LabelIds {
		email.Labels = append(email.Labels, mailbox.LabelID(l))
	}
	if d, err := mail.ParseDate(headers["Date"]); err == nil {
		email.Date = d
	}
	email.TextBody, email.HTMLBody = extractBodies(msg.Payload)
	email.Attachments = extractAttachments(msg.Payload)
	return email
}

// extractBodies walks the MIME tree collecting the first text/plain and
// text/html parts.
func extractBodies(payload *gm.MessagePart) (text, html string) {
	if payload == nil {
		return "", ""
	}
	var walk func(part *gm.MessagePart)
	walk = func(part *gm.MessagePart) {
		if part.Body != nil && part.Body.Data != "" {
			decoded, err := decodeBody(part.Body.Data)
			if err == nil {
				switch {
				case strings.HasPrefix(part.MimeType, "text/plain") && text == "":
					text = decoded
				case strings.HasPrefix(part.MimeType, "text/html") && html == "":
					html = decoded
				}
			}
		}
		for _, p := range part.Parts {
			walk(p)
		}
	}
	walk(payload)
	return text, html
}

func extractAttachments(payload *gm.MessagePart) []mailbox.Attachment {
	var out []mailbox.Attachment
	var walk func(part *gm.MessagePart)
	walk = func(part *gm.MessagePart) {
		if part.Filename != "" {
			att := mailbox.Attachment{Filename: part.Filename, MimeType: part.MimeType}
			if part.Body != nil {
				att.Size = part.Body.Size
			}
			out = append(out, att)
		}
		for _, p := range part.Parts {
			walk(p)
		}
	}
	if payload != nil {
		walk(payload)
	}
	return out
}

func headerMap(headers []*gm.MessagePartHeader) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[h.Name] = h.Value
	}
	return m
}

func parseAddress(raw string) mailbox.Address {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return mailbox.Address{Email: strings.TrimSpace(raw)}
	}
	return mailbox.Address{Name: addr.Name, Email: addr.Address}
}

func parseAddressList(raw string) []mailbox.Address {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parsed, err := mail.ParseAddressList(raw)
	if err != nil {
		return []mailbox.Address{{Email: strings.TrimSpace(raw)}}
	}
	out := make([]mailbox.Address, 0, len(parsed))
	for _, a := range parsed {
		out = append(out, mailbox.Address{Name: a.Name, Email: a.Address})
	}
	return out
}

// decodeBody decodes Gmail's base64url message content, tolerating missing
// padding.
func decodeBody(data string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return "", err
		}
	}
	return string(decoded), nil
}

// encodeRFC822 builds the raw wire form the Gmail send API expects.
func encodeRFC822(msg mailbox.Outgoing, extraHeaders map[string]string) string {
	var b strings.Builder
	if len(msg.To) > 0 {
		fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	}
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(msg.Cc, ", "))
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\r\n", strings.Join(msg.Bcc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	for k, v := range extraHeaders {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	contentType := "text/plain"
	if msg.HTML {
		contentType = "text/html"
	}
	fmt.Fprintf(&b, "Content-Type: %s; charset=\"UTF-8\"\r\n", contentType)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return base64.URLEncoding.EncodeToString([]byte(b.String()))
}

func replySubject(s string) string {
	if strings.HasPrefix(strings.ToLower(s), "re:") {
		return s
	}
	return "Re: " + s
}

func forwardSubject(s string) string {
	if strings.HasPrefix(strings.ToLower(s), "fwd:") {
		return s
	}
	return "Fwd: " + s
}

var _ mailbox.Client = (*Client)(nil)
