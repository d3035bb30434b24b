package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/inboxflow/internal/approval"
	"github.com/joshsymonds/inboxflow/internal/resolve"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Review actions waiting for approval",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approvals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pending, err := st.Approvals().ListPending(cmd.Context())
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("no pending approvals")
			return nil
		}
		for _, p := range pending {
			fmt.Printf("%s  %s  %s\n", p.ID, p.CreatedAt.Format("2006-01-02 15:04"), describeAction(p.Action))
		}
		return nil
	},
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve ID",
	Short: "Approve and execute a pending action",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return decide(cmd, args[0], true) },
}

var approvalsDenyCmd = &cobra.Command{
	Use:   "deny ID",
	Short: "Deny a pending action",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return decide(cmd, args[0], false) },
}

func decide(cmd *cobra.Command, id string, approve bool) error {
	ctx := cmd.Context()
	gate := st.Approvals()

	if !approve {
		if _, err := gate.Decide(ctx, id, false); err != nil {
			return err
		}
		fmt.Printf("%s denied\n", id)
		return nil
	}

	// Look up the account before recording the decision so a construction
	// failure does not burn the one allowed decision.
	pending, err := gate.Get(ctx, id)
	if err != nil {
		return err
	}
	if pending.Status != approval.StatusPending {
		return fmt.Errorf("approval %s already %s", id, pending.Status)
	}
	acct, err := cfg.Account(pending.Action.AccountID)
	if err != nil {
		return err
	}
	client, err := newMailClient(ctx, acct)
	if err != nil {
		return err
	}

	p := newPipeline(acct.ID, client)
	res, err := p.ApplyDecision(ctx, gate, id, true)
	if err != nil {
		return err
	}
	fmt.Printf("%s approved: %s\n", id, describeResult(res))
	return nil
}

func describeAction(a resolve.Action) string {
	parts := []string{string(a.Type), "rule=" + a.RuleName}
	if a.AccountID != "" {
		parts = append(parts, "account="+a.AccountID)
	}
	switch {
	case len(a.To) > 0:
		parts = append(parts, "to="+strings.Join(a.To, ","))
	case a.LabelName != "":
		parts = append(parts, "label="+a.LabelName)
	case a.FolderName != "":
		parts = append(parts, "folder="+a.FolderName)
	}
	return strings.Join(parts, " ")
}

func init() {
	approvalsCmd.AddCommand(approvalsListCmd, approvalsApproveCmd, approvalsDenyCmd)
	rootCmd.AddCommand(approvalsCmd)
}
