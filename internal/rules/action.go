package rules

import (
	"fmt"
	"strings"
)

// ActionType enumerates what a rule may do with a matched message.
type ActionType string

const (
	ActionArchive     ActionType = "archive"
	ActionLabel       ActionType = "label"
	ActionMoveFolder  ActionType = "move_folder"
	ActionDraftEmail  ActionType = "draft_email"
	ActionReply       ActionType = "reply"
	ActionSendEmail   ActionType = "send_email"
	ActionForward     ActionType = "forward"
	ActionMarkRead    ActionType = "mark_read"
	ActionMarkSpam    ActionType = "mark_spam"
	ActionCallWebhook ActionType = "call_webhook"
	ActionDigest      ActionType = "digest"
	ActionTrackThread ActionType = "track_thread"
)

// Field is a two-case variant: either a literal value or a directive the
// reasoning provider expands into a value at resolution time. Both may carry
// {{...}} template markers substituted from the message first. At most one
// side is set.
type Field struct {
	Literal   string `json:"literal,omitempty"`
	Directive string `json:"directive,omitempty"`
}

// Lit builds a literal field.
func Lit(s string) Field { return Field{Literal: s} }

// Dir builds a directive field.
func Dir(instruction string) Field { return Field{Directive: instruction} }

// IsSet reports whether either side carries a value.
func (f Field) IsSet() bool { return f.Literal != "" || f.Directive != "" }

// IsDirective reports whether the field needs a completion call.
func (f Field) IsDirective() bool { return f.Directive != "" }

func (f Field) validate() error {
	if f.Literal != "" && f.Directive != "" {
		return fmt.Errorf("field carries both a literal and a directive")
	}
	return nil
}

// Action is one abstract step in a rule. It is a fields bag whose valid
// subset depends on Type; Validate enforces that so an action never carries
// fields its type cannot use. DelayMinutes defers execution; values <= 0
// mean immediate.
type Action struct {
	Type ActionType `json:"type"`

	Label   Field `json:"label,omitzero"`
	Folder  Field `json:"folder,omitzero"`
	To      Field `json:"to,omitzero"`
	Cc      Field `json:"cc,omitzero"`
	Bcc     Field `json:"bcc,omitzero"`
	Subject Field `json:"subject,omitzero"`
	Content Field `json:"content,omitzero"`

	URL    string `json:"url,omitempty"`
	Sender string `json:"sender,omitempty"`

	DelayMinutes int `json:"delay_minutes,omitempty"`
}

// Delayed reports whether the action is deferred.
func (a Action) Delayed() bool { return a.DelayMinutes > 0 }

type fieldUse struct {
	name     string
	set      bool
	required bool
}

// Validate checks that the action carries exactly the fields its type
// supports, and that every field is well-formed.
func (a Action) Validate() error {
	for _, f := range []struct {
		name  string
		field Field
	}{
		{"label", a.Label}, {"folder", a.Folder}, {"to", a.To},
		{"cc", a.Cc}, {"bcc", a.Bcc}, {"subject", a.Subject}, {"content", a.Content},
	} {
		if err := f.field.validate(); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}

	uses, err := a.fieldUses()
	if err != nil {
		return err
	}
	for _, u := range uses {
		if u.required && !u.set {
			return fmt.Errorf("%s action requires the %s field", a.Type, u.name)
		}
	}
	if extra := a.extraFields(uses); len(extra) > 0 {
		return fmt.Errorf("%s action does not use fields: %s", a.Type, strings.Join(extra, ", "))
	}
	return nil
}

func (a Action) fieldUses() ([]fieldUse, error) {
	switch a.Type {
	case ActionArchive, ActionMarkRead, ActionMarkSpam:
		return nil, nil
	case ActionLabel, ActionDigest, ActionTrackThread:
		return []fieldUse{{"label", a.Label.IsSet(), true}}, nil
	case ActionMoveFolder:
		return []fieldUse{{"folder", a.Folder.IsSet(), true}}, nil
	case ActionDraftEmail, ActionReply:
		return []fieldUse{
			{"content", a.Content.IsSet(), true},
			{"to", a.To.IsSet(), false},
			{"cc", a.Cc.IsSet(), false},
			{"subject", a.Subject.IsSet(), false},
		}, nil
	case ActionSendEmail:
		return []fieldUse{
			{"to", a.To.IsSet(), true},
			{"content", a.Content.IsSet(), true},
			{"cc", a.Cc.IsSet(), false},
			{"bcc", a.Bcc.IsSet(), false},
			{"subject", a.Subject.IsSet(), false},
		}, nil
	case ActionForward:
		return []fieldUse{
			{"to", a.To.IsSet(), true},
			{"cc", a.Cc.IsSet(), false},
			{"content", a.Content.IsSet(), false},
		}, nil
	case ActionCallWebhook:
		if strings.TrimSpace(a.URL) == "" {
			return nil, fmt.Errorf("call_webhook action requires a url")
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", a.Type)
	}
}

func (a Action) extraFields(uses []fieldUse) []string {
	allowed := make(map[string]bool, len(uses))
	for _, u := range uses {
		allowed[u.name] = true
	}
	var extra []string
	for _, f := range []struct {
		name string
		set  bool
	}{
		{"label", a.Label.IsSet()}, {"folder", a.Folder.IsSet()},
		{"to", a.To.IsSet()}, {"cc", a.Cc.IsSet()}, {"bcc", a.Bcc.IsSet()},
		{"subject", a.Subject.IsSet()}, {"content", a.Content.IsSet()},
	} {
		if f.set && !allowed[f.name] {
			extra = append(extra, f.name)
		}
	}
	if a.URL != "" && a.Type != ActionCallWebhook {
		extra = append(extra, "url")
	}
	// Sender turns an archive into a bulk archive-by-sender; no other type
	// uses it.
	if a.Sender != "" && a.Type != ActionArchive {
		extra = append(extra, "sender")
	}
	return extra
}
