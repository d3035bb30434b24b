package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/inboxflow/internal/gmailctl"
	"github.com/joshsymonds/inboxflow/internal/lint"
	"github.com/joshsymonds/inboxflow/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage triage rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list ACCOUNT",
	Short: "List an account's rules in evaluation order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ruleset, err := st.ListRules(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(ruleset) == 0 {
			fmt.Println("no rules")
			return nil
		}
		for _, r := range ruleset {
			state := "enabled"
			if !r.Enabled {
				state = "disabled"
			}
			fmt.Printf("%s  v%d  %-8s  %s  (%d actions)\n", r.ID, r.Version, state, r.Name, len(r.Actions))
		}
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print one rule as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rule, err := st.GetRule(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rule)
	},
}

var rulesAddCmd = &cobra.Command{
	Use:   "add ACCOUNT FILE",
	Short: "Add a rule from a JSON definition",
	Long: `Read a rule definition from FILE (or "-" for stdin) and store it for
the account. The definition carries conditions and actions; name must be
unique within the account.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readFileOrStdin(args[1])
		if err != nil {
			return err
		}
		var rule rules.Rule
		if err := json.Unmarshal(raw, &rule); err != nil {
			return fmt.Errorf("parsing rule definition: %w", err)
		}
		rule.AccountID = args[0]
		created, err := st.CreateRule(cmd.Context(), rule)
		if err != nil {
			return err
		}
		fmt.Printf("created %s (%s)\n", created.ID, created.Name)
		return nil
	},
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := st.DeleteRule(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var lintFailOn string

var rulesLintCmd = &cobra.Command{
	Use:   "lint ACCOUNT",
	Short: "Check an account's rules for problems",
	Long: `Statically analyse the account's rule set: invalid rules, rules shadowed
by an earlier identical rule, unknown template markers, and rules that file
the same messages in conflicting ways. With --fail-on, exit non-zero when
the named finding categories are present (invalid, shadowed, bad-template,
conflict).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ruleset, err := st.ListRules(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		rep := lint.Check(args[0], ruleset)
		fmt.Print(rep.HumanSummary())
		if rep.ShouldFail(lint.ParseFailOn(lintFailOn)) {
			return fmt.Errorf("lint findings present: %s", lintFailOn)
		}
		return nil
	},
}

var (
	importConfigDir string
	importBinary    string
)

var rulesImportCmd = &cobra.Command{
	Use:   "import ACCOUNT",
	Short: "Import rules from a gmailctl configuration",
	Long: `Compile the gmailctl configuration and store its filters as rules.
Previously imported rules are replaced; hand-written rules are untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		accountID := args[0]

		runner := gmailctl.Runner{Binary: importBinary, ConfigDir: importConfigDir}
		export, err := runner.ExportFilters(ctx)
		if err != nil {
			return err
		}
		converted, skipped := gmailctl.Convert(export, accountID)
		for _, s := range skipped {
			fmt.Printf("skipped %s\n", s)
		}

		// Replace the previous import wholesale.
		existing, err := st.ListRules(ctx, accountID)
		if err != nil {
			return err
		}
		for _, r := range existing {
			if r.SystemType == gmailctl.SystemTypeImport {
				if err := st.DeleteRule(ctx, r.ID); err != nil {
					return err
				}
			}
		}

		for _, r := range converted {
			if _, err := st.CreateRule(ctx, r); err != nil {
				return fmt.Errorf("storing rule %q: %w", r.Name, err)
			}
		}
		fmt.Printf("imported %d rules (%d skipped)\n", len(converted), len(skipped))
		return nil
	},
}

func readFileOrStdin(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func init() {
	rulesImportCmd.Flags().StringVar(&importConfigDir, "gmailctl-config", "", "gmailctl configuration directory")
	rulesImportCmd.Flags().StringVar(&importBinary, "gmailctl-binary", "", "Path to the gmailctl binary")
	rulesLintCmd.Flags().StringVar(&lintFailOn, "fail-on", "", "Comma separated finding categories that cause a non-zero exit")

	rulesCmd.AddCommand(rulesListCmd, rulesShowCmd, rulesAddCmd, rulesDeleteCmd, rulesImportCmd, rulesLintCmd)
	rootCmd.AddCommand(rulesCmd)
}
