package resolve

import (
	"strings"

	"github.com/joshsymonds/inboxflow/internal/mailbox"
)

// expandTemplate substitutes {{...}} markers with message attributes. An
// unknown marker is left in place so the author can see what went wrong
// instead of silently losing text.
func expandTemplate(s string, email mailbox.Email) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	var b strings.Builder
	rest := s
	for {
		open := strings.Index(rest, "{{")
		if open == -1 {
			b.WriteString(rest)
			break
		}
		close := strings.Index(rest[open:], "}}")
		if close == -1 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])
		key := strings.TrimSpace(rest[open+2 : open+close])
		if val, ok := templateValue(key, email); ok {
			b.WriteString(val)
		} else {
			b.WriteString(rest[open : open+close+2])
		}
		rest = rest[open+close+2:]
	}
	return b.String()
}

// UnknownMarkers returns the {{...}} markers in s that no message attribute
// answers. Resolution leaves such markers in place; lint reports them.
func UnknownMarkers(s string) []string {
	var unknown []string
	rest := s
	for {
		open := strings.Index(rest, "{{")
		if open == -1 {
			return unknown
		}
		close := strings.Index(rest[open:], "}}")
		if close == -1 {
			return unknown
		}
		key := strings.TrimSpace(rest[open+2 : open+close])
		if _, ok := templateValue(key, mailbox.Email{}); !ok {
			unknown = append(unknown, key)
		}
		rest = rest[open+close+2:]
	}
}

func templateValue(key string, email mailbox.Email) (string, bool) {
	switch strings.ToLower(key) {
	case "sender", "sender.name":
		if email.From.Name != "" {
			return email.From.Name, true
		}
		return email.From.Email, true
	case "sender.email", "from":
		return email.From.Email, true
	case "sender.domain":
		return email.From.Domain(), true
	case "subject":
		return email.Subject, true
	case "to":
		parts := make([]string, 0, len(email.To))
		for _, a := range email.To {
			parts = append(parts, a.Email)
		}
		return strings.Join(parts, ", "), true
	case "date":
		if email.Date.IsZero() {
			return "", true
		}
		return email.Date.Format("2006-01-02"), true
	case "body":
		return email.PlainBody(), true
	default:
		return "", false
	}
}
