// Package browsercmd provides `flo browser`, which inspects the tables of a
// stopped node straight from its data directory.
package browsercmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rzbill/flolog/internal/browser"
	cfgpkg "github.com/rzbill/flolog/internal/config"
	"github.com/rzbill/flolog/internal/runtime"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
	logpkg "github.com/rzbill/flolog/pkg/log"
	"github.com/spf13/cobra"
)

// openFunc opens the store a command works on.
type openFunc func(cmd *cobra.Command) (*runtime.Runtime, error)

// NewCommand constructs the `browser` command group.
func NewCommand(logger logpkg.Logger) *cobra.Command {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	root := &cobra.Command{
		Use:   "browser",
		Short: "Inspect tables in a node's data directory (node must be stopped)",
	}
	root.PersistentFlags().String("data-dir", "", "Data directory (default: OS-specific application data directory)")
	root.PersistentFlags().String("config", "", "Config file (JSON or YAML)")
	root.PersistentFlags().StringP("namespace", "n", "default", "Namespace")
	root.PersistentFlags().StringP("table", "t", "", "Table name")

	open := func(cmd *cobra.Command) (*runtime.Runtime, error) {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		cfgPath, _ := cmd.Flags().GetString("config")
		if dataDir == "" {
			dataDir = cfgpkg.DefaultDataDir()
		}
		dir := filepath.Join(dataDir, "store")
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("no store under %s: %w", dataDir, err)
		}
		cfg, err := cfgpkg.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		cfgpkg.FromEnv(&cfg)
		return runtime.Open(runtime.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways, Config: cfg, Logger: logger})
	}

	root.AddCommand(
		newListCommand(open, logger),
		newInfoCommand(open, logger),
		newShowCommand(open, logger),
		newDropCommand(open, logger),
	)
	return root
}

// withBrowser opens the store, runs fn and closes it again.
func withBrowser(cmd *cobra.Command, open openFunc, logger logpkg.Logger, fn func(*browser.Browser) (any, error)) error {
	rt, err := open(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("close store", logpkg.Err(err))
		}
	}()
	out, err := fn(browser.New(rt, logger))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func names(cmd *cobra.Command, needTable bool) (string, string, error) {
	ns, _ := cmd.Flags().GetString("namespace")
	tbl, _ := cmd.Flags().GetString("table")
	if needTable && tbl == "" {
		return "", "", fmt.Errorf("--table is required")
	}
	return ns, tbl, nil
}

func newListCommand(open openFunc, logger logpkg.Logger) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tables of a namespace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ns, _, _ := names(cmd, false)
			if all, _ := cmd.Flags().GetBool("all"); all {
				ns = ""
			}
			return withBrowser(cmd, open, logger, func(b *browser.Browser) (any, error) {
				return b.ListTables(ns)
			})
		},
	}
	listCmd.Flags().Bool("all", false, "List every known stream across namespaces")
	return listCmd
}

func newInfoCommand(open openFunc, logger logpkg.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show a table's directory record and view stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ns, tbl, err := names(cmd, true)
			if err != nil {
				return err
			}
			return withBrowser(cmd, open, logger, func(b *browser.Browser) (any, error) {
				return b.InfoTable(cmd.Context(), ns, tbl)
			})
		},
	}
}

func newShowCommand(open openFunc, logger logpkg.Logger) *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show a table's rows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ns, tbl, err := names(cmd, true)
			if err != nil {
				return err
			}
			filter, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")
			return withBrowser(cmd, open, logger, func(b *browser.Browser) (any, error) {
				rows, err := b.ShowTable(cmd.Context(), ns, tbl, browser.ShowOptions{Filter: filter, Limit: limit})
				if err != nil {
					return nil, err
				}
				out := make([]map[string]string, 0, len(rows))
				for _, r := range rows {
					out = append(out, map[string]string{"key": r.Key, "value": string(r.Value)})
				}
				return out, nil
			})
		},
	}
	showCmd.Flags().String("filter", "", "CEL filter over key, value, size, json")
	showCmd.Flags().Int("limit", 0, "Max rows (0 = all)")
	return showCmd
}

func newDropCommand(open openFunc, logger logpkg.Logger) *cobra.Command {
	dropCmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop a table and its view",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ns, tbl, err := names(cmd, true)
			if err != nil {
				return err
			}
			if ok, _ := cmd.Flags().GetBool("confirm"); !ok {
				return fmt.Errorf("refusing to drop without --confirm")
			}
			return withBrowser(cmd, open, logger, func(b *browser.Browser) (any, error) {
				return b.DropTable(cmd.Context(), ns, tbl)
			})
		},
	}
	dropCmd.Flags().Bool("confirm", false, "Confirm drop")
	return dropCmd
}
