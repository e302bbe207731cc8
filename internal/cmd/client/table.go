package client

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

// NewNamespaceCommand constructs the `namespace` command group.
func NewNamespaceCommand(baseURL BaseURLFunc) *cobra.Command {
	nsCmd := &cobra.Command{Use: "namespace", Short: "Namespace operations"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create namespace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			var out any
			if err := apiCall(cmd.Context(), http.MethodPost, baseURL()+"/v1/namespaces", map[string]string{"namespace": name}, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	createCmd.Flags().String("name", "default", "Namespace name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List namespaces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out any
			if err := apiCall(cmd.Context(), http.MethodGet, baseURL()+"/v1/namespaces", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	nsCmd.AddCommand(createCmd, listCmd)
	return nsCmd
}

// NewTableCommand constructs the `table` command group.
func NewTableCommand(baseURL BaseURLFunc) *cobra.Command {
	tableCmd := &cobra.Command{Use: "table", Short: "Table operations"}
	tableCmd.PersistentFlags().StringP("namespace", "n", "default", "Namespace")
	tableCmd.PersistentFlags().StringP("table", "t", "", "Table name")

	tableCmd.AddCommand(
		newTableListCommand(baseURL),
		newTableCreateCommand(baseURL),
		newTableInfoCommand(baseURL),
		newTableRowsCommand(baseURL),
		newTablePutCommand(baseURL),
		newTableAppendCommand(baseURL),
		newTableDropCommand(baseURL),
	)
	return tableCmd
}

// tableURL builds the URL of ns/table from the persistent flags.
func tableURL(cmd *cobra.Command, baseURL BaseURLFunc, suffix string) (string, error) {
	ns, _ := cmd.Flags().GetString("namespace")
	tbl, _ := cmd.Flags().GetString("table")
	if tbl == "" {
		return "", fmt.Errorf("--table is required")
	}
	return fmt.Sprintf("%s/v1/tables/%s/%s%s", baseURL(), url.PathEscape(ns), url.PathEscape(tbl), suffix), nil
}

func newTableListCommand(baseURL BaseURLFunc) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tables of a namespace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ns, _ := cmd.Flags().GetString("namespace")
			all, _ := cmd.Flags().GetBool("all")
			u := baseURL() + "/v1/tables"
			if !all {
				u += "?namespace=" + url.QueryEscape(ns)
			}
			var out any
			if err := apiCall(cmd.Context(), http.MethodGet, u, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	listCmd.Flags().Bool("all", false, "List every known stream across namespaces")
	return listCmd
}

func newTableCreateCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ns, _ := cmd.Flags().GetString("namespace")
			tbl, _ := cmd.Flags().GetString("table")
			var out any
			if err := apiCall(cmd.Context(), http.MethodPost, baseURL()+"/v1/tables", map[string]string{"namespace": ns, "table": tbl}, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func newTableInfoCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show a table's directory record and view stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := tableURL(cmd, baseURL, "")
			if err != nil {
				return err
			}
			var out any
			if err := apiCall(cmd.Context(), http.MethodGet, u, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func newTableRowsCommand(baseURL BaseURLFunc) *cobra.Command {
	rowsCmd := &cobra.Command{
		Use:   "rows",
		Short: "Show a table's rows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")
			q := url.Values{}
			if filter != "" {
				q.Set("filter", filter)
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprint(limit))
			}
			suffix := "/rows"
			if len(q) > 0 {
				suffix += "?" + q.Encode()
			}
			u, err := tableURL(cmd, baseURL, suffix)
			if err != nil {
				return err
			}
			var out struct {
				Rows []struct {
					Key   string `json:"key"`
					Value []byte `json:"value"`
				} `json:"rows"`
			}
			if err := apiCall(cmd.Context(), http.MethodGet, u, nil, &out); err != nil {
				return err
			}
			rows := make([]map[string]any, 0, len(out.Rows))
			for _, r := range out.Rows {
				rows = append(rows, decodedPayload(map[string]any{"key": r.Key}, r.Value))
			}
			return printJSON(cmd, rows)
		},
	}
	rowsCmd.Flags().String("filter", "", "CEL filter over key, value, size, json")
	rowsCmd.Flags().Int("limit", 0, "Max rows (0 = all)")
	return rowsCmd
}

func newTablePutCommand(baseURL BaseURLFunc) *cobra.Command {
	putCmd := &cobra.Command{
		Use:   "put",
		Short: "Put a row",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, _ := cmd.Flags().GetString("key")
			value, _ := cmd.Flags().GetString("value")
			u, err := tableURL(cmd, baseURL, "/rows")
			if err != nil {
				return err
			}
			var out any
			if err := apiCall(cmd.Context(), http.MethodPost, u, map[string]any{"key": key, "value": []byte(value)}, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	putCmd.Flags().String("key", "", "Row key")
	putCmd.Flags().String("value", "", "Row value")
	return putCmd
}

func newTableAppendCommand(baseURL BaseURLFunc) *cobra.Command {
	appendCmd := &cobra.Command{
		Use:   "append",
		Short: "Append a raw payload to a table's stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, _ := cmd.Flags().GetString("data")
			u, err := tableURL(cmd, baseURL, "/append")
			if err != nil {
				return err
			}
			var out any
			if err := apiCall(cmd.Context(), http.MethodPost, u, map[string]any{"payload": []byte(data)}, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	appendCmd.Flags().String("data", "", "Payload")
	return appendCmd
}

func newTableDropCommand(baseURL BaseURLFunc) *cobra.Command {
	dropCmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop a table and its view",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ok, _ := cmd.Flags().GetBool("confirm"); !ok {
				return fmt.Errorf("refusing to drop without --confirm")
			}
			u, err := tableURL(cmd, baseURL, "")
			if err != nil {
				return err
			}
			var out any
			if err := apiCall(cmd.Context(), http.MethodDelete, u, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	dropCmd.Flags().Bool("confirm", false, "Confirm drop")
	return dropCmd
}
