package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// defaultAPIURL — адрес API, если не задан ни флаг, ни MESH_API_URL.
const defaultAPIURL = "http://localhost:8080"

// NewRootCmd собирает корневую команду meshctl.
func NewRootCmd(version string) *cobra.Command {
	var apiURL string
	var jsonOutput bool

	root := &cobra.Command{
		Use:           "meshctl",
		Short:         "meshctl — mesh workflow orchestrator client",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := defaultAPIURL
	if env := os.Getenv("MESH_API_URL"); env != "" {
		defaultURL = env
	}

	root.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL (env MESH_API_URL)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *Client { return NewClient(apiURL) }
	outputFn := func() *Output { return NewOutputTo(jsonOutput, root.OutOrStdout(), root.ErrOrStderr()) }

	root.AddCommand(
		NewPlanCmd(clientFn, outputFn),
		NewRunCmd(clientFn, outputFn),
	)

	return root
}
