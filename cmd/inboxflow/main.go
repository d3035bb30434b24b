package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/inboxflow/internal/config"
	"github.com/joshsymonds/inboxflow/internal/execute"
	"github.com/joshsymonds/inboxflow/internal/mailbox"
	"github.com/joshsymonds/inboxflow/internal/match"
	"github.com/joshsymonds/inboxflow/internal/pipeline"
	gmailprovider "github.com/joshsymonds/inboxflow/internal/provider/gmail"
	imapprovider "github.com/joshsymonds/inboxflow/internal/provider/imap"
	"github.com/joshsymonds/inboxflow/internal/rate"
	"github.com/joshsymonds/inboxflow/internal/reasoning"
	"github.com/joshsymonds/inboxflow/internal/schedule"
	"github.com/joshsymonds/inboxflow/internal/store"
)

// Version is set via ldflags at build time.
var Version = "dev"

var (
	cfgPath   string
	jsonLogs  bool
	verbosity int

	cfg    *config.Config
	st     *store.SQLiteStore
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "inboxflow",
	Short: "inboxflow - rule-driven email triage",
	Long: "Inboxflow runs user-defined triage rules against mail accounts:\n" +
		"static matchers and natural-language conditions select messages, and\n" +
		"actions label, file, archive, or answer them.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger()
		slog.SetDefault(logger)

		switch cmd.Name() {
		case "version", "help":
			return nil
		}

		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if st != nil {
			st.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("inboxflow version %s\n", Version)
	},
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbosity > 0 {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if jsonLogs {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newMailClient builds the provider client for one configured account.
func newMailClient(ctx context.Context, acct config.AccountConfig) (mailbox.Client, error) {
	switch acct.Provider {
	case "gmail":
		return gmailprovider.New(ctx, acct.Gmail.CredentialsFile, logger)
	case "imap":
		return imapprovider.New(imapprovider.Config{
			Server:     acct.IMAP.Server,
			Port:       acct.IMAP.Port,
			Username:   acct.IMAP.Username,
			Password:   acct.IMAP.Password,
			SMTPServer: acct.IMAP.SMTPServer,
			SMTPPort:   acct.IMAP.SMTPPort,
		}, logger), nil
	default:
		return nil, fmt.Errorf("account %q: unknown provider %q", acct.ID, acct.Provider)
	}
}

func newReasoning() reasoning.Provider {
	return reasoning.NewAnthropic(cfg.Reasoning.APIKey, cfg.Reasoning.Model, 0)
}

func newExecutor(client mailbox.Client) *execute.Executor {
	x := execute.New(client, st.Approvals(), schedule.QueueScheduler{Queue: st.Schedule()}, logger)
	if cfg.Engine.RequestsPerSecond > 0 {
		x.Limiter = rate.NewTokenBucket(cfg.Engine.RequestsPerSecond)
	}
	if cfg.Engine.BatchWidth > 0 {
		x.BatchWidth = cfg.Engine.BatchWidth
	}
	if cfg.Engine.BulkLimit > 0 {
		x.BulkLimit = cfg.Engine.BulkLimit
	}
	return x
}

func newPipeline(accountID string, client mailbox.Client) *pipeline.Pipeline {
	provider := newReasoning()
	selector := match.NewSelector(match.NewEvaluator(provider, logger))
	p := pipeline.New(accountID, client, provider, selector, newExecutor(client), logger)
	p.Policy.DryRun = cfg.Engine.DryRun
	return p
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "inboxflow.toml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "log-json", false, "Emit structured JSON logs")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
