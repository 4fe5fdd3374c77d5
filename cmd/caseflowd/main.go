// Command caseflowd runs the case triage service.
//
// "caseflowd serve" starts the HTTP API with the configured store backend.
// "caseflowd run" triages a single case synchronously and prints the
// result. "caseflowd resume" continues an interrupted run from its latest
// checkpoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/caseflow-go/config"
	"github.com/dshills/caseflow-go/service"
	"github.com/dshills/caseflow-go/triage"
)

var flagConfig string

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "caseflowd",
		Short:        "Legal-aid case triage service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default "+config.DefaultConfigFile+" if present)")

	root.AddCommand(newServeCmd(), newRunCmd(), newResumeCmd())
	return root
}

func loadDeps(ctx context.Context) (*config.Config, *service.Dependencies, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	deps, err := service.Build(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, deps, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server and the review timeout sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, deps, err := loadDeps(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = deps.Close() }()

			svc := service.New(deps.Workflow, deps.Logger)
			srv := service.NewServer(cfg, svc, deps.Registry, deps.Logger)
			return srv.Run(ctx)
		},
	}
}

func newRunCmd() *cobra.Command {
	var (
		file         string
		metadata     map[string]string
		maxRevisions int
	)
	cmd := &cobra.Command{
		Use:   "run [case text]",
		Short: "Triage one case synchronously and print the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			caseText, err := readCaseText(args, file)
			if err != nil {
				return err
			}

			_, deps, err := loadDeps(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = deps.Close() }()

			input := triage.CaseInput{CaseText: caseText, Metadata: metadata}
			if cmd.Flags().Changed("max-revisions") {
				input.MaxRevisions = &maxRevisions
			}

			state, err := deps.Workflow.Run(ctx, triage.NewRunID(), input)
			if err != nil {
				return fmt.Errorf("run %s failed: %w", state.RunID, err)
			}
			return printSummary(cmd, state)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Read the case text from a file ('-' for stdin)")
	cmd.Flags().StringToStringVar(&metadata, "metadata", nil, "Intake metadata as key=value pairs")
	cmd.Flags().IntVar(&maxRevisions, "max-revisions", 0, "Override the revision budget for this run")
	return cmd
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Continue an interrupted run from its latest checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			_, deps, err := loadDeps(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = deps.Close() }()

			state, err := deps.Workflow.Resume(ctx, args[0])
			if errors.Is(err, triage.ErrReviewPending) {
				return fmt.Errorf("run is awaiting human review: %w", err)
			}
			if err != nil {
				return err
			}
			return printSummary(cmd, state)
		},
	}
}

func readCaseText(args []string, file string) (string, error) {
	if len(args) == 1 && file != "" {
		return "", errors.New("pass the case text as an argument or via --file, not both")
	}
	if len(args) == 1 {
		return args[0], nil
	}
	switch file {
	case "":
		return "", errors.New("no case text: pass it as an argument or via --file")
	case "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func printSummary(cmd *cobra.Command, state triage.CaseState) error {
	out, err := json.MarshalIndent(service.Summarize(state), "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	if state.Status == triage.StatusAwaitingHuman {
		cmd.Println(strings.TrimSpace(`
The run is suspended for human review. Resolve it via the API and then run:
  caseflowd resume ` + state.RunID))
	}
	return nil
}
