package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"callmerge/internal/auth"
	"callmerge/internal/config"
	"callmerge/internal/merge"
	"callmerge/internal/rbac"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "merger",
		Short:        "Fold raw call events into one call record per call",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newRunOnceCmd(), newReprocessCmd(), newTokenCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run merge passes on MERGE_SCHEDULE and expose /metrics on APP_PORT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			return serve(cmd.Context(), rt)
		},
	}
}

func newRunOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Run a single merge pass and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			sum, err := runPass(cmd.Context(), rt)
			if err != nil {
				return err
			}
			return printJSON(cmd, sum)
		},
	}
}

func newReprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess CALL_ID",
		Short: "Recompute the record of one call from its full event history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.orchestrator.RunForCallID(cmd.Context(), args[0])
			if errors.Is(err, merge.ErrNoEvents) {
				return fmt.Errorf("no events for call %q", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !rbac.IsKnownRole(role) {
				return fmt.Errorf("unknown role %q (want %s, %s or %s)", role, rbac.RoleAdmin, rbac.RoleOperator, rbac.RoleViewer)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if ttl > 0 {
				cfg.Auth.TokenTTL = ttl
			}
			m, err := auth.NewManager(cfg.Auth)
			if err != nil {
				return err
			}
			tok, err := m.Issue(time.Now(), subject, role)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "operator or service identity (required)")
	cmd.Flags().StringVar(&role, "role", rbac.RoleViewer, "admin, operator or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to JWT_TTL)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
