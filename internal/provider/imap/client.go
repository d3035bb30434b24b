// Package imap adapts a plain IMAP/SMTP account to the engine's mailbox
// surface. IMAP has mailboxes but no labels, so labels map to mailboxes the
// message is copied into, and a "folder move" is a real move. IMAP also has
// no thread objects; a thread here is a single message addressed by its
// INBOX UID.
package imap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomail "github.com/emersion/go-message/mail"

	"github.com/joshsymonds/inboxflow/internal/mailbox"
)

// Config carries connection settings for one account.
type Config struct {
	Server   string
	Port     int
	Username string
	Password string

	SMTPServer string
	SMTPPort   int

	// Mailbox names for special roles; defaults cover common servers.
	ArchiveMailbox string
	JunkMailbox    string
	DraftsMailbox  string
}

// Client drives one IMAP account. Connections are short-lived: each
// operation dials, authenticates, works, and logs out, the pattern that
// keeps flaky residential IMAP servers happy.
type Client struct {
	cfg Config
	log *slog.Logger
}

// New builds a client; it does not connect until the first operation.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.SMTPServer == "" {
		cfg.SMTPServer = cfg.Server
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	if cfg.ArchiveMailbox == "" {
		cfg.ArchiveMailbox = "Archive"
	}
	if cfg.JunkMailbox == "" {
		cfg.JunkMailbox = "Junk"
	}
	if cfg.DraftsMailbox == "" {
		cfg.DraftsMailbox = "Drafts"
	}
	return &Client{cfg: cfg, log: logger}
}

func (c *Client) connect() (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", c.cfg.Server, c.cfg.Port)
	client, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, mailbox.Transient(fmt.Errorf("connecting to %s: %w", addr, err))
	}
	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("login as %s: %w", c.cfg.Username, err)
	}
	return client, nil
}

// withInbox runs fn against an authenticated session with INBOX selected.
func (c *Client) withInbox(fn func(*imapclient.Client) error) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()
	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("selecting INBOX: %w", err)
	}
	return fn(client)
}

func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q: %w", id, err)
	}
	return imap.UID(n), nil
}

func (c *Client) GetMessage(ctx context.Context, id mailbox.MessageID) (mailbox.Email, error) {
	_ = ctx
	uid, err := parseUID(string(id))
	if err != nil {
		return mailbox.Email{}, err
	}

	var email mailbox.Email
	err = c.withInbox(func(client *imapclient.Client) error {
		bodySection := &imap.FetchItemBodySection{Peek: true}
		fetchCmd := client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
			Envelope:    true,
			Flags:       true,
			UID:         true,
			BodySection: []*imap.FetchItemBodySection{bodySection},
		})
		defer fetchCmd.Close()

		msg := fetchCmd.Next()
		if msg == nil {
			return fmt.Errorf("message %s not found", id)
		}
		buf, err := msg.Collect()
		if err != nil {
			return fmt.Errorf("collecting message %s: %w", id, err)
		}
		email = emailFromBuffer(buf)
		if raw := buf.FindBodySection(bodySection); raw != nil {
			email.TextBody, email.HTMLBody, email.Attachments = parseMIMEBody(raw)
		}
		return fetchCmd.Close()
	})
	return email, err
}

// GetThreadMessages returns the single message; IMAP threads are one deep.
func (c *Client) GetThreadMessages(ctx context.Context, thread mailbox.ThreadID) ([]mailbox.Email, error) {
	email, err := c.GetMessage(ctx, mailbox.MessageID(thread))
	if err != nil {
		return nil, err
	}
	return []mailbox.Email{email}, nil
}

func (c *Client) ArchiveThread(ctx context.Context, thread mailbox.ThreadID) error {
	_ = ctx
	return c.moveTo(thread, c.cfg.ArchiveMailbox)
}

// LabelThread copies the message into the label's mailbox, the closest IMAP
// analogue to attaching a label.
func (c *Client) LabelThread(ctx context.Context, thread mailbox.ThreadID, label mailbox.LabelID) error {
	_ = ctx
	uid, err := parseUID(string(thread))
	if err != nil {
		return err
	}
	return c.withInbox(func(client *imapclient.Client) error {
		if _, err := client.Copy(imap.UIDSetNum(uid), string(label)).Wait(); err != nil {
			return fmt.Errorf("copy to %s: %w", label, err)
		}
		return nil
	})
}

// RemoveLabel deletes the message's copy from the label mailbox, found by
// Message-ID.
func (c *Client) RemoveLabel(ctx context.Context, thread mailbox.ThreadID, label mailbox.LabelID) error {
	email, err := c.GetMessage(ctx, mailbox.MessageID(thread))
	if err != nil {
		return err
	}
	messageID := email.Header("Message-ID")
	if messageID == "" {
		return fmt.Errorf("message %s has no Message-ID; cannot locate label copy", thread)
	}

	client, err := c.connect()
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(string(label), nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", label, err)
	}
	data, err := client.UIDSearch(&imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "Message-ID", Value: messageID}},
	}, nil).Wait()
	if err != nil {
		return fmt.Errorf("searching %s: %w", label, err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil
	}
	store := client.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := store.Close(); err != nil {
		return fmt.Errorf("flagging deleted in %s: %w", label, err)
	}
	return client.Expunge().Close()
}

func (c *Client) MoveToFolder(ctx context.Context, thread mailbox.ThreadID, folder mailbox.FolderID) error {
	_ = ctx
	return c.moveTo(thread, string(folder))
}

func (c *Client) moveTo(thread mailbox.ThreadID, dest string) error {
	uid, err := parseUID(string(thread))
	if err != nil {
		return err
	}
	return c.withInbox(func(client *imapclient.Client) error {
		if _, err := client.Move(imap.UIDSetNum(uid), dest).Wait(); err != nil {
			return fmt.Errorf("move to %s: %w", dest, err)
		}
		return nil
	})
}

func (c *Client) MarkRead(ctx context.Context, thread mailbox.ThreadID) error {
	_ = ctx
	return c.storeFlags(thread, []imap.Flag{imap.FlagSeen})
}

func (c *Client) MarkSpam(ctx context.Context, thread mailbox.ThreadID) error {
	_ = ctx
	return c.moveTo(thread, c.cfg.JunkMailbox)
}

func (c *Client) storeFlags(thread mailbox.ThreadID, flags []imap.Flag) error {
	uid, err := parseUID(string(thread))
	if err != nil {
		return err
	}
	return c.withInbox(func(client *imapclient.Client) error {
		store := client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  flags,
		}, nil)
		return store.Close()
	})
}

// EnsureLabel creates the mailbox if it does not exist; the mailbox name is
// its own id.
func (c *Client) EnsureLabel(ctx context.Context, name string) (mailbox.LabelID, error) {
	_ = ctx
	client, err := c.connect()
	if err != nil {
		return "", err
	}
	defer func() { _ = client.Logout().Wait() }()

	boxes, err := client.List("", name, nil).Collect()
	if err != nil {
		return "", fmt.Errorf("listing mailboxes: %w", err)
	}
	for _, b := range boxes {
		if b.Mailbox == name {
			return mailbox.LabelID(name), nil
		}
	}
	if err := client.Create(name, nil).Wait(); err != nil {
		// A racing creator may have won.
		if strings.Contains(strings.ToLower(err.Error()), "exists") {
			return mailbox.LabelID(name), nil
		}
		return "", fmt.Errorf("creating mailbox %s: %w", name, err)
	}
	c.log.Info("created mailbox", "name", name)
	return mailbox.LabelID(name), nil
}

func (c *Client) EnsureFolder(ctx context.Context, name string) (mailbox.FolderID, error) {
	id, err := c.EnsureLabel(ctx, name)
	return mailbox.FolderID(id), err
}

func (c *Client) ValidateLabelName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("mailbox name is empty")
	}
	if strings.ContainsAny(name, "\r\n%*") {
		return fmt.Errorf("mailbox name %q contains reserved characters", name)
	}
	if strings.EqualFold(name, "INBOX") {
		return fmt.Errorf("mailbox name INBOX is reserved")
	}
	return nil
}

func (c *Client) SendEmail(ctx context.Context, msg mailbox.Outgoing) error {
	_ = ctx
	recipients := append(append(append([]string{}, msg.To...), msg.Cc...), msg.Bcc...)
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients")
	}
	raw := buildRFC822(c.cfg.Username, msg, nil)
	addr := fmt.Sprintf("%s:%d", c.cfg.SMTPServer, c.cfg.SMTPPort)
	auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.SMTPServer)
	if err := smtp.SendMail(addr, auth, c.cfg.Username, recipients, raw); err != nil {
		return mailbox.Transient(fmt.Errorf("smtp send via %s: %w", addr, err))
	}
	return nil
}

// DraftEmail appends the message to the drafts mailbox with \Draft set.
func (c *Client) DraftEmail(ctx context.Context, msg mailbox.Outgoing) (string, error) {
	_ = ctx
	client, err := c.connect()
	if err != nil {
		return "", err
	}
	defer func() { _ = client.Logout().Wait() }()

	raw := buildRFC822(c.cfg.Username, msg, nil)
	appendCmd := client.Append(c.cfg.DraftsMailbox, int64(len(raw)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagDraft},
		Time:  time.Now(),
	})
	if _, err := appendCmd.Write(raw); err != nil {
		return "", fmt.Errorf("writing draft: %w", err)
	}
	if err := appendCmd.Close(); err != nil {
		return "", fmt.Errorf("closing draft append: %w", err)
	}
	data, err := appendCmd.Wait()
	if err != nil {
		return "", fmt.Errorf("appending draft: %w", err)
	}
	if data != nil && data.UID != 0 {
		return strconv.FormatUint(uint64(data.UID), 10), nil
	}
	return "", nil
}

func (c *Client) ReplyToEmail(ctx context.Context, original mailbox.MessageID, msg mailbox.Outgoing) error {
	orig, err := c.GetMessage(ctx, original)
	if err != nil {
		return err
	}
	if msg.Subject == "" {
		msg.Subject = prefixSubject("Re:", orig.Subject)
	}
	extra := map[string]string{}
	if mid := orig.Header("Message-ID"); mid != "" {
		extra["In-Reply-To"] = mid
		refs := orig.Header("References")
		if refs != "" {
			refs += " "
		}
		extra["References"] = refs + mid
	}

	recipients := append(append(append([]string{}, msg.To...), msg.Cc...), msg.Bcc...)
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients")
	}
	raw := buildRFC822(c.cfg.Username, msg, extra)
	addr := fmt.Sprintf("%s:%d", c.cfg.SMTPServer, c.cfg.SMTPPort)
	auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.SMTPServer)
	if err := smtp.SendMail(addr, auth, c.cfg.Username, recipients, raw); err != nil {
		return mailbox.Transient(fmt.Errorf("smtp send via %s: %w", addr, err))
	}
	return nil
}

func (c *Client) ForwardEmail(ctx context.Context, original mailbox.MessageID, msg mailbox.Outgoing) error {
	orig, err := c.GetMessage(ctx, original)
	if err != nil {
		return err
	}
	if msg.Subject == "" {
		msg.Subject = prefixSubject("Fwd:", orig.Subject)
	}
	var body strings.Builder
	if msg.Body != "" {
		body.WriteString(msg.Body)
		body.WriteString("\n\n")
	}
	body.WriteString("---------- Forwarded message ----------\n")
	fmt.Fprintf(&body, "From: %s\n", orig.From.String())
	fmt.Fprintf(&body, "Date: %s\n", orig.Date.Format(time.RFC1123Z))
	fmt.Fprintf(&body, "Subject: %s\n\n", orig.Subject)
	body.WriteString(orig.PlainBody())
	msg.Body = body.String()
	return c.SendEmail(ctx, msg)
}

func (c *Client) ThreadsFromSender(ctx context.Context, sender string, limit int) ([]mailbox.ThreadID, error) {
	_ = ctx
	var threads []mailbox.ThreadID
	err := c.withInbox(func(client *imapclient.Client) error {
		data, err := client.UIDSearch(&imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{Key: "From", Value: sender}},
		}, nil).Wait()
		if err != nil {
			return fmt.Errorf("searching from %s: %w", sender, err)
		}
		uids := data.AllUIDs()
		// UIDs ascend with arrival; newest first for bulk operations.
		for i := len(uids) - 1; i >= 0; i-- {
			if limit > 0 && len(threads) >= limit {
				break
			}
			threads = append(threads, mailbox.ThreadID(strconv.FormatUint(uint64(uids[i]), 10)))
		}
		return nil
	})
	return threads, err
}

func emailFromBuffer(buf *imapclient.FetchMessageBuffer) mailbox.Email {
	email := mailbox.Email{
		ID:       mailbox.MessageID(strconv.FormatUint(uint64(buf.UID), 10)),
		ThreadID: mailbox.ThreadID(strconv.FormatUint(uint64(buf.UID), 10)),
		Headers:  map[string]string{},
	}
	if env := buf.Envelope; env != nil {
		email.Subject = env.Subject
		email.Date = env.Date
		email.Headers["Message-ID"] = env.MessageID
		if len(env.From) > 0 {
			email.From = mailbox.Address{Name: env.From[0].Name, Email: env.From[0].Addr()}
		}
		for _, to := range env.To {
			email.To = append(email.To, mailbox.Address{Name: to.Name, Email: to.Addr()})
		}
		for _, cc := range env.Cc {
			email.Cc = append(email.Cc, mailbox.Address{Name: cc.Name, Email: cc.Addr()})
		}
	}
	return email
}

// parseMIMEBody extracts the text and HTML parts plus attachment metadata
// from a raw RFC 5322 message.
func parseMIMEBody(raw []byte) (textBody, htmlBody string, attachments []mailbox.Attachment) {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Unparseable MIME; treat the whole payload as plain text.
		return string(raw), "", nil
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF || err != nil {
			break
		}
		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain") && textBody == "":
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
				htmlBody = string(body)
			}
		case *gomail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			attachments = append(attachments, mailbox.Attachment{
				Filename: filename,
				MimeType: contentType,
				Size:     int64(len(body)),
			})
		}
	}
	return textBody, htmlBody, attachments
}

func buildRFC822(from string, msg mailbox.Outgoing, extraHeaders map[string]string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	if len(msg.To) > 0 {
		fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	}
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(msg.Cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	for k, v := range extraHeaders {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	contentType := "text/plain"
	if msg.HTML {
		contentType = "text/html"
	}
	fmt.Fprintf(&b, "Content-Type: %s; charset=\"UTF-8\"\r\n", contentType)
	b.WriteString("MIME-Version: 1.0\r\n\r\n")
	b.WriteString(msg.Body)
	return b.Bytes()
}

func prefixSubject(prefix, s string) string {
	if strings.HasPrefix(strings.ToLower(s), strings.ToLower(prefix)) {
		return s
	}
	return prefix + " " + s
}

var _ mailbox.Client = (*Client)(nil)
