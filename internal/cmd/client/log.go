package client

import (
	"fmt"
	"net/http"
	"net/url"

	grpcserver "github.com/rzbill/flolog/internal/server/grpc"
	"github.com/spf13/cobra"
)

// NewLogCommand constructs the `log` command group.
func NewLogCommand(baseURL BaseURLFunc) *cobra.Command {
	logCmd := &cobra.Command{Use: "log", Short: "Log unit operations"}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show epoch, tail and trim mark",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out any
			if err := apiCall(cmd.Context(), http.MethodGet, baseURL()+"/v1/log", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	entriesCmd := &cobra.Command{
		Use:   "entries",
		Short: "Page through stored entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, _ := cmd.Flags().GetUint64("start")
			limit, _ := cmd.Flags().GetInt("limit")
			reverse, _ := cmd.Flags().GetBool("reverse")
			q := url.Values{}
			if cmd.Flags().Changed("start") {
				q.Set("start", fmt.Sprint(start))
			}
			q.Set("limit", fmt.Sprint(limit))
			if reverse {
				q.Set("reverse", "true")
			}
			var out any
			if err := apiCall(cmd.Context(), http.MethodGet, baseURL()+"/v1/log/entries?"+q.Encode(), nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	entriesCmd.Flags().Uint64("start", 0, "First address (default oldest, or newest with --reverse)")
	entriesCmd.Flags().Int("limit", 20, "Max entries")
	entriesCmd.Flags().Bool("reverse", false, "Read newest-to-oldest")

	trimCmd := &cobra.Command{
		Use:   "trim",
		Short: "Run one trim round now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out any
			if err := apiCall(cmd.Context(), http.MethodPost, baseURL()+"/v1/log/trim", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	logCmd.AddCommand(statusCmd, entriesCmd, trimCmd)
	return logCmd
}

// NewClusterCommand constructs the `cluster` command group.
func NewClusterCommand(baseURL BaseURLFunc) *cobra.Command {
	clusterCmd := &cobra.Command{Use: "cluster", Short: "Cluster state"}

	get := func(use, short, path string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var out any
				if err := apiCall(cmd.Context(), http.MethodGet, baseURL()+path, nil, &out); err != nil {
					return err
				}
				return printJSON(cmd, out)
			},
		}
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check node health over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withNode(func(c *grpcserver.Client) error {
				status, err := c.Check(cmd.Context())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", status)
				return nil
			})
		},
	}

	clusterCmd.AddCommand(
		get("layout", "Show the installed layout", "/v1/cluster/layout"),
		get("report", "Show the latest failure detection round", "/v1/cluster/report"),
		get("reconcile", "Show the reconciler state", "/v1/cluster/reconcile"),
		healthCmd,
	)
	return clusterCmd
}
