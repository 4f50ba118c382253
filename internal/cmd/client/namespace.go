package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

// NewNamespaceCommand constructs the `namespace` group, which registers
// namespaces with a running bridge.
func NewNamespaceCommand(baseURL BaseURLFunc) *cobra.Command {
	nsCmd := &cobra.Command{Use: "namespace", Short: "Namespace operations"}
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a namespace and route it to a downstream DB",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			db, _ := cmd.Flags().GetInt("db")
			b, _ := json.Marshal(map[string]any{"namespace": name, "db": db})
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, baseURL()+"/v1/namespaces", bytes.NewReader(b))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "status:", resp.Status)
			return err
		},
	}
	createCmd.Flags().String("name", "", "Namespace name")
	createCmd.Flags().Int("db", 0, "Downstream DB index")
	nsCmd.AddCommand(createCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered namespaces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out map[string]any
			if err := getJSON(cmd.Context(), baseURL()+"/v1/namespaces", &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	nsCmd.AddCommand(listCmd)
	return nsCmd
}
