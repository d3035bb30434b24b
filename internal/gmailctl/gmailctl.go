// Package gmailctl imports rules from a gmailctl configuration. The compiled
// filter export becomes plain static-matcher rules, so an existing declarative
// Gmail setup can seed an account's rule set in one command.
package gmailctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/joshsymonds/inboxflow/internal/rules"
)

// Export mirrors the JSON payload produced by `gmailctl compile --format=json`.
type Export struct {
	Filters []Filter `json:"filters"`
	Labels  []Label  `json:"labels"`
}

// Filter represents a single Gmail filter definition.
type Filter struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Criteria FilterCriteria `json:"criteria"`
	Action   FilterAction   `json:"action"`
}

// FilterCriteria captures the subset of Gmail search predicates we replay.
type FilterCriteria struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
	Query   string `json:"query,omitempty"`
	List    string `json:"list,omitempty"`
}

// FilterAction describes the Gmail actions for a filter.
type FilterAction struct {
	AddLabelIDs    []string `json:"addLabelIds,omitempty"`
	RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
	Forward        string   `json:"forward,omitempty"`
}

// Label mirrors Gmail label metadata in the compile output.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Runner shells out to the gmailctl binary to obtain compiled filters.
type Runner struct {
	Binary    string
	ConfigDir string
}

// ExportFilters invokes gmailctl and parses the resulting JSON export.
func (r Runner) ExportFilters(ctx context.Context) (Export, error) {
	bin := r.Binary
	if bin == "" {
		bin = "gmailctl"
	}
	args := []string{"compile", "--format=json"}
	if strings.TrimSpace(r.ConfigDir) != "" {
		args = append(args, "--config", r.ConfigDir)
	}
	cmd := exec.CommandContext(ctx, bin, args...) // #nosec G204 - binary determined by user input
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Export{}, fmt.Errorf(
			"run gmailctl: %w (output: %s)",
			err,
			strings.TrimSpace(string(out)),
		)
	}
	var export Export
	if decodeErr := json.Unmarshal(out, &export); decodeErr != nil {
		return Export{}, fmt.Errorf("decode gmailctl output: %w", decodeErr)
	}
	if len(export.Filters) == 0 && len(export.Labels) == 0 {
		return Export{}, errors.New("gmailctl returned no filters or labels")
	}
	return export, nil
}

// SystemTypeImport marks rules created by the importer so re-imports can
// replace them without touching hand-written rules.
const SystemTypeImport = "gmailctl-import"

// Convert turns a compiled export into rules for an account. Gmail label ids
// are resolved to names through the export's label table; filters whose
// criteria or actions have no rule equivalent are skipped and reported.
func Convert(export Export, accountID string) ([]rules.Rule, []string) {
	labelNames := map[string]string{}
	for _, l := range export.Labels {
		labelNames[l.ID] = l.Name
	}

	var out []rules.Rule
	var skipped []string
	seen := map[string]int{}
	for _, f := range export.Filters {
		rule, reason := convertFilter(f, labelNames, accountID)
		if reason != "" {
			skipped = append(skipped, fmt.Sprintf("filter %s: %s", filterLabel(f), reason))
			continue
		}
		// Deduplicate names; gmailctl filters are anonymous so collisions
		// are routine.
		seen[rule.Name]++
		if n := seen[rule.Name]; n > 1 {
			rule.Name = fmt.Sprintf("%s (%d)", rule.Name, n)
		}
		out = append(out, rule)
	}
	return out, skipped
}

func convertFilter(f Filter, labelNames map[string]string, accountID string) (rules.Rule, string) {
	static := rules.StaticMatch{
		From:    f.Criteria.From,
		To:      f.Criteria.To,
		Subject: f.Criteria.Subject,
	}
	if static.Empty() {
		// Raw queries and list matches have no static-matcher equivalent.
		return rules.Rule{}, "criteria uses query or list matching"
	}

	actions, reason := convertActions(f.Action, labelNames)
	if reason != "" {
		return rules.Rule{}, reason
	}

	return rules.Rule{
		AccountID:  accountID,
		Name:       ruleName(f),
		Enabled:    true,
		Conditions: rules.ConditionSet{Static: &static},
		Actions:    actions,
		SystemType: SystemTypeImport,
	}, ""
}

func convertActions(fa FilterAction, labelNames map[string]string) ([]rules.Action, string) {
	var actions []rules.Action
	for _, id := range fa.AddLabelIDs {
		switch id {
		case "TRASH", "SPAM":
			actions = append(actions, rules.Action{Type: rules.ActionMarkSpam})
		case "STARRED", "IMPORTANT":
			// No rule equivalent; harmless to drop alongside other actions.
		default:
			name := labelNames[id]
			if name == "" {
				name = id
			}
			actions = append(actions, rules.Action{Type: rules.ActionLabel, Label: rules.Lit(name)})
		}
	}
	for _, id := range fa.RemoveLabelIDs {
		switch id {
		case "INBOX":
			actions = append(actions, rules.Action{Type: rules.ActionArchive})
		case "UNREAD":
			actions = append(actions, rules.Action{Type: rules.ActionMarkRead})
		}
	}
	if fa.Forward != "" {
		actions = append(actions, rules.Action{Type: rules.ActionForward, To: rules.Lit(fa.Forward)})
	}
	if len(actions) == 0 {
		return nil, "no convertible actions"
	}
	return actions, ""
}

func ruleName(f Filter) string {
	if f.Name != "" {
		return f.Name
	}
	var parts []string
	if f.Criteria.From != "" {
		parts = append(parts, "from "+f.Criteria.From)
	}
	if f.Criteria.To != "" {
		parts = append(parts, "to "+f.Criteria.To)
	}
	if f.Criteria.Subject != "" {
		parts = append(parts, "subject "+f.Criteria.Subject)
	}
	return "gmailctl: " + strings.Join(parts, ", ")
}

func filterLabel(f Filter) string {
	if f.ID != "" {
		return f.ID
	}
	if f.Name != "" {
		return f.Name
	}
	return "(anonymous)"
}
