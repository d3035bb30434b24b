// Package lint statically checks a stored rule set for problems that are
// legal to store but useless or surprising at run time: rules that can never
// be selected, template markers nothing answers, and rules that pull the same
// messages in different directions. It never talks to a mail provider.
package lint

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/joshsymonds/inboxflow/internal/resolve"
	"github.com/joshsymonds/inboxflow/internal/rules"
)

// Finding identifies a problematic rule.
type Finding struct {
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
}

// Conflict reports rules whose conditions select the same messages but whose
// actions disagree about what happens to them.
type Conflict struct {
	Rules       []string `json:"rules"`
	Description string   `json:"description"`
}

// Report is the result of checking one account's rule set.
type Report struct {
	Account      string     `json:"account"`
	Total        int        `json:"total"`
	Invalid      []Finding  `json:"invalid,omitempty"`
	Shadowed     []Finding  `json:"shadowed,omitempty"`
	BadTemplates []Finding  `json:"bad_templates,omitempty"`
	Conflicts    []Conflict `json:"conflicts,omitempty"`
}

// Clean reports whether the check produced no findings.
func (r Report) Clean() bool {
	return len(r.Invalid) == 0 && len(r.Shadowed) == 0 &&
		len(r.BadTemplates) == 0 && len(r.Conflicts) == 0
}

// Check analyses the rule set in stored order, which is also evaluation
// order.
func Check(accountID string, ruleset []rules.Rule) Report {
	rep := Report{Account: accountID, Total: len(ruleset)}

	seen := map[string]string{} // normalized static conditions -> first rule name
	byConditions := map[string][]rules.Rule{}

	for _, r := range ruleset {
		if err := r.Validate(); err != nil {
			rep.Invalid = append(rep.Invalid, Finding{Rule: r.Name, Reason: err.Error()})
			continue
		}
		rep.BadTemplates = append(rep.BadTemplates, templateFindings(r)...)
		rep.Invalid = append(rep.Invalid, webhookFindings(r)...)

		if !r.Enabled {
			continue
		}
		key := conditionKey(r)
		if key == "" {
			continue
		}
		if first, ok := seen[key]; ok {
			rep.Shadowed = append(rep.Shadowed, Finding{
				Rule:   r.Name,
				Reason: fmt.Sprintf("conditions identical to earlier rule %q; never selected in best-match mode", first),
			})
		} else {
			seen[key] = r.Name
		}
		byConditions[key] = append(byConditions[key], r)
	}

	rep.Conflicts = detectConflicts(byConditions)
	return rep
}

func templateFindings(r rules.Rule) []Finding {
	var findings []Finding
	for _, a := range r.Actions {
		for _, f := range []rules.Field{a.Label, a.Folder, a.To, a.Cc, a.Bcc, a.Subject, a.Content} {
			for _, s := range []string{f.Literal, f.Directive} {
				for _, marker := range resolve.UnknownMarkers(s) {
					findings = append(findings, Finding{
						Rule:   r.Name,
						Reason: fmt.Sprintf("%s action references unknown template marker {{%s}}", a.Type, marker),
					})
				}
			}
		}
	}
	return findings
}

func webhookFindings(r rules.Rule) []Finding {
	var findings []Finding
	for _, a := range r.Actions {
		if a.Type != rules.ActionCallWebhook {
			continue
		}
		u, err := url.Parse(a.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			findings = append(findings, Finding{
				Rule:   r.Name,
				Reason: fmt.Sprintf("call_webhook url %q is not an absolute http(s) URL", a.URL),
			})
		}
	}
	return findings
}

// conditionKey normalizes a rule's static conditions so identical matchers
// compare equal. Rules with an instruction half get no key: the reasoning
// provider may answer differently per message, so they neither shadow nor
// conflict statically.
func conditionKey(r rules.Rule) string {
	if r.Conditions.HasInstructions() || !r.Conditions.HasStatic() {
		return ""
	}
	m := r.Conditions.Static
	return strings.ToLower(strings.Join([]string{
		strings.TrimSpace(m.From),
		strings.TrimSpace(m.To),
		strings.TrimSpace(m.Subject),
	}, "\x00"))
}

// disposition is where a rule ultimately files the message. Two rules that
// select the same messages but file them differently are a conflict.
func disposition(r rules.Rule) string {
	for _, a := range r.Actions {
		switch a.Type {
		case rules.ActionMarkSpam:
			return "spam"
		case rules.ActionMoveFolder:
			return "folder " + a.Folder.Literal
		case rules.ActionArchive:
			return "archive"
		}
	}
	return ""
}

func detectConflicts(byConditions map[string][]rules.Rule) []Conflict {
	keys := make([]string, 0, len(byConditions))
	for k := range byConditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conflicts []Conflict
	for _, k := range keys {
		group := byConditions[k]
		if len(group) < 2 {
			continue
		}
		dispositions := map[string][]string{}
		for _, r := range group {
			if d := disposition(r); d != "" {
				dispositions[d] = append(dispositions[d], r.Name)
			}
		}
		if len(dispositions) < 2 {
			continue
		}
		var names []string
		var wants []string
		for d, rs := range dispositions {
			names = append(names, rs...)
			wants = append(wants, d)
		}
		sort.Strings(names)
		sort.Strings(wants)
		conflicts = append(conflicts, Conflict{
			Rules:       names,
			Description: "same conditions, different dispositions: " + strings.Join(wants, " vs "),
		})
	}
	return conflicts
}

// ShouldFail reports whether any of the requested finding categories are
// present.
func (r Report) ShouldFail(failOn []string) bool {
	flags := map[string]bool{
		"invalid":      len(r.Invalid) > 0,
		"shadowed":     len(r.Shadowed) > 0,
		"bad-template": len(r.BadTemplates) > 0,
		"conflict":     len(r.Conflicts) > 0,
	}
	for _, cond := range failOn {
		cond = strings.TrimSpace(strings.ToLower(cond))
		if cond == "" {
			continue
		}
		if flags[cond] {
			return true
		}
	}
	return false
}

// ParseFailOn splits a comma separated list into canonical tokens.
func ParseFailOn(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// HumanSummary renders a concise CLI summary.
func (r Report) HumanSummary() string {
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "lint %s — %d rules checked\n", r.Account, r.Total)
	if r.Clean() {
		builder.WriteString("no findings\n")
		return builder.String()
	}
	writeFindings(builder, "invalid rules", r.Invalid)
	writeFindings(builder, "shadowed rules", r.Shadowed)
	writeFindings(builder, "template problems", r.BadTemplates)
	if len(r.Conflicts) > 0 {
		builder.WriteString("conflicts:\n")
		for _, cf := range r.Conflicts {
			fmt.Fprintf(builder, "  %s — %s\n", strings.Join(cf.Rules, ", "), cf.Description)
		}
	}
	return builder.String()
}

func writeFindings(builder *strings.Builder, title string, findings []Finding) {
	if len(findings) == 0 {
		return
	}
	builder.WriteString(title + ":\n")
	sorted := append([]Finding(nil), findings...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rule < sorted[j].Rule })
	for _, f := range sorted {
		fmt.Fprintf(builder, "  %s — %s\n", f.Rule, f.Reason)
	}
}
