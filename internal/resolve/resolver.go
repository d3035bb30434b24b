// Package resolve turns a rule's abstract actions into concrete, executable
// operations: label and folder names become ids, {{...}} templates expand
// from the message, and directive fields are completed by the reasoning
// provider. A Resolver is owned by exactly one pipeline run; its name→id
// cache is never shared across concurrent runs.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joshsymonds/inboxflow/internal/mailbox"
	"github.com/joshsymonds/inboxflow/internal/reasoning"
	"github.com/joshsymonds/inboxflow/internal/rules"
)

// Action is a rule action with every reference made concrete: ids in place
// of names, all fields literal text. It is ready to hand to the executor and
// belongs to a single executor invocation.
type Action struct {
	Type      rules.ActionType
	RuleID    string
	RuleName  string
	AccountID string

	MessageID mailbox.MessageID
	ThreadID  mailbox.ThreadID

	LabelID   mailbox.LabelID
	LabelName string

	FolderID   mailbox.FolderID
	FolderName string

	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string

	URL    string
	Sender string

	Delay time.Duration
}

// Error reports why one action could not be resolved. Sibling actions keep
// resolving; the failure stays scoped to this one.
type Error struct {
	ActionType rules.ActionType
	Field      string
	Err        error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("resolve %s: %v", e.ActionType, e.Err)
	}
	return fmt.Sprintf("resolve %s %s: %v", e.ActionType, e.Field, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Resolver resolves the actions of one pipeline run.
type Resolver struct {
	Client    mailbox.Client
	Reasoning reasoning.Provider
	Log       *slog.Logger

	labels  map[string]mailbox.LabelID
	folders map[string]mailbox.FolderID
}

// New builds a Resolver with a fresh cache.
func New(client mailbox.Client, provider reasoning.Provider, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		Client:    client,
		Reasoning: provider,
		Log:       logger,
		labels:    map[string]mailbox.LabelID{},
		folders:   map[string]mailbox.FolderID{},
	}
}

// ResolveAll resolves each action independently and returns one entry per
// input, in input order: either a resolved action or the error that stopped
// it.
func (r *Resolver) ResolveAll(ctx context.Context, rule rules.Rule, actions []rules.Action, email mailbox.Email) ([]Action, []error) {
	resolved := make([]Action, len(actions))
	errs := make([]error, len(actions))
	for i, a := range actions {
		resolved[i], errs[i] = r.Resolve(ctx, rule, a, email)
	}
	return resolved, errs
}

// Resolve produces the concrete form of one action. Resolving twice against
// unchanged account state creates nothing new: names are looked up before
// being created, and the per-run cache collapses repeated references to one
// provider call.
func (r *Resolver) Resolve(ctx context.Context, rule rules.Rule, action rules.Action, email mailbox.Email) (Action, error) {
	if err := action.Validate(); err != nil {
		return Action{}, &Error{ActionType: action.Type, Err: err}
	}

	out := Action{
		Type:      action.Type,
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		AccountID: rule.AccountID,
		MessageID: email.ID,
		ThreadID:  email.ThreadID,
		URL:       action.URL,
		Sender:    action.Sender,
	}
	if action.DelayMinutes > 0 {
		out.Delay = time.Duration(action.DelayMinutes) * time.Minute
	}

	switch action.Type {
	case rules.ActionLabel, rules.ActionDigest, rules.ActionTrackThread:
		name, id, err := r.resolveLabel(ctx, action.Label, email)
		if err != nil {
			return Action{}, err
		}
		out.LabelName, out.LabelID = name, id

	case rules.ActionMoveFolder:
		name, id, err := r.resolveFolder(ctx, action.Folder, email)
		if err != nil {
			return Action{}, err
		}
		out.FolderName, out.FolderID = name, id

	case rules.ActionDraftEmail, rules.ActionReply, rules.ActionSendEmail, rules.ActionForward:
		if err := r.resolveMessageFields(ctx, action, email, &out); err != nil {
			return Action{}, err
		}

	case rules.ActionArchive, rules.ActionMarkRead, rules.ActionMarkSpam, rules.ActionCallWebhook:
		// Nothing to resolve beyond what the action already carries.
	}

	return out, nil
}

func (r *Resolver) resolveLabel(ctx context.Context, field rules.Field, email mailbox.Email) (string, mailbox.LabelID, error) {
	name, err := r.resolveField(ctx, rules.ActionLabel, "label", field, email)
	if err != nil {
		return "", "", err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", &Error{ActionType: rules.ActionLabel, Field: "label", Err: fmt.Errorf("resolved to an empty name")}
	}
	if err := r.Client.ValidateLabelName(name); err != nil {
		return "", "", &Error{ActionType: rules.ActionLabel, Field: "label", Err: err}
	}
	if id, ok := r.labels[name]; ok {
		return name, id, nil
	}
	id, err := r.Client.EnsureLabel(ctx, name)
	if err != nil {
		return "", "", &Error{ActionType: rules.ActionLabel, Field: "label", Err: err}
	}
	r.labels[name] = id
	return name, id, nil
}

func (r *Resolver) resolveFolder(ctx context.Context, field rules.Field, email mailbox.Email) (string, mailbox.FolderID, error) {
	name, err := r.resolveField(ctx, rules.ActionMoveFolder, "folder", field, email)
	if err != nil {
		return "", "", err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", &Error{ActionType: rules.ActionMoveFolder, Field: "folder", Err: fmt.Errorf("resolved to an empty name")}
	}
	if id, ok := r.folders[name]; ok {
		return name, id, nil
	}
	id, err := r.Client.EnsureFolder(ctx, name)
	if err != nil {
		return "", "", &Error{ActionType: rules.ActionMoveFolder, Field: "folder", Err: err}
	}
	r.folders[name] = id
	return name, id, nil
}

func (r *Resolver) resolveMessageFields(ctx context.Context, action rules.Action, email mailbox.Email, out *Action) error {
	fields := []struct {
		name  string
		field rules.Field
		into  *string
		list  *[]string
	}{
		{"to", action.To, nil, &out.To},
		{"cc", action.Cc, nil, &out.Cc},
		{"bcc", action.Bcc, nil, &out.Bcc},
		{"subject", action.Subject, &out.Subject, nil},
		{"content", action.Content, &out.Body, nil},
	}
	for _, f := range fields {
		if !f.field.IsSet() {
			continue
		}
		val, err := r.resolveField(ctx, action.Type, f.name, f.field, email)
		if err != nil {
			return err
		}
		if f.list != nil {
			*f.list = splitAddressList(val)
		} else {
			*f.into = val
		}
	}
	// Replies and forwards address the original sender unless told otherwise.
	if len(out.To) == 0 && action.Type == rules.ActionReply {
		out.To = []string{email.From.Email}
	}
	return nil
}

// resolveField expands templates, then runs the completion call for
// directive fields. The expanded directive text is the prompt.
func (r *Resolver) resolveField(ctx context.Context, actionType rules.ActionType, name string, field rules.Field, email mailbox.Email) (string, error) {
	if field.IsDirective() {
		prompt := expandTemplate(field.Directive, email)
		if r.Reasoning == nil {
			return "", &Error{ActionType: actionType, Field: name, Err: fmt.Errorf("no reasoning provider for directive field")}
		}
		val, err := r.Reasoning.CompleteField(ctx, prompt, email)
		if err != nil {
			return "", &Error{ActionType: actionType, Field: name, Err: fmt.Errorf("complete field: %w", err)}
		}
		return val, nil
	}
	return expandTemplate(field.Literal, email), nil
}

func splitAddressList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
