package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/inboxflow/internal/execute"
	"github.com/joshsymonds/inboxflow/internal/mailbox"
	"github.com/joshsymonds/inboxflow/internal/pipeline"
)

var (
	processAllMatches   bool
	processThreadUpdate bool
	processDryRun       bool
)

var processCmd = &cobra.Command{
	Use:   "process ACCOUNT MESSAGE_ID...",
	Short: "Run triage rules against specific messages",
	Long: `Evaluate the account's rule set against each message and execute the
matching rules' actions.

Examples:
  inboxflow process work 19abc123
  inboxflow process work 19abc123 19def456 --all-matches
  inboxflow process work 19abc123 --dry-run`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		accountID := args[0]

		acct, err := cfg.Account(accountID)
		if err != nil {
			return err
		}
		client, err := newMailClient(ctx, acct)
		if err != nil {
			return err
		}
		ruleset, err := st.ListEnabledRules(ctx, accountID)
		if err != nil {
			return err
		}
		if len(ruleset) == 0 {
			return fmt.Errorf("account %q has no enabled rules", accountID)
		}

		p := newPipeline(accountID, client)
		if processDryRun {
			p.Policy.DryRun = true
		}
		opts := pipeline.Options{
			AllMatches:   processAllMatches || cfg.Engine.AllMatches,
			ThreadUpdate: processThreadUpdate,
		}

		for _, id := range args[1:] {
			email, err := client.GetMessage(ctx, mailbox.MessageID(id))
			if err != nil {
				fmt.Printf("%s: fetch failed: %v\n", id, err)
				continue
			}
			report := p.Run(ctx, ruleset, email, opts)
			printReport(id, report)
		}
		return nil
	},
}

func printReport(id string, report pipeline.Report) {
	if !report.Acted() {
		fmt.Printf("%s: no rule matched\n", id)
		return
	}
	fmt.Printf("%s: applied %v\n", id, report.Applied)
	for _, r := range report.Results {
		fmt.Printf("  %s: %s\n", r.Action.Type, describeResult(r))
	}
}

func describeResult(r execute.Result) string {
	switch {
	case r.RequiresApproval:
		return fmt.Sprintf("pending approval (%s)", r.ApprovalID)
	case r.Scheduled:
		return fmt.Sprintf("scheduled for %s", r.ScheduledFor.Format("2006-01-02 15:04"))
	case r.Reason != "":
		return "blocked: " + r.Reason
	case r.Error != "":
		return "failed: " + r.Error
	case r.DryRun:
		return "would run (dry run)"
	case len(r.Batch) > 0:
		return fmt.Sprintf("ok (%d threads)", len(r.Batch))
	default:
		return "ok"
	}
}

func init() {
	processCmd.Flags().BoolVar(&processAllMatches, "all-matches", false, "Apply every matching rule, not just the best one")
	processCmd.Flags().BoolVar(&processThreadUpdate, "thread-update", false, "Treat messages as follow-ups on already-triaged threads")
	processCmd.Flags().BoolVar(&processDryRun, "dry-run", false, "Report actions without executing them")

	rootCmd.AddCommand(processCmd)
}
