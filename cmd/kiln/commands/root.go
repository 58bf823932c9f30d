package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/kiln/internal/client"
)

// flag names
const (
	flagServerAddress = "server-address"
)

// environment variable names
const (
	envServerAddress = "KILN_SERVER_ADDRESS"
)

// NewRootCmd builds the kiln command tree.
func NewRootCmd() *cobra.Command {
	var serverAddress string

	root := &cobra.Command{
		Use:   "kiln",
		Short: "kiln runs and queries asynchronous generation jobs",
		Long: `kiln is an in-process asynchronous job engine. "kiln serve" starts the
HTTP server; the remaining commands talk to a running server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&serverAddress, flagServerAddress, "s", client.DefaultBaseURL,
		"Address of the kiln server (env: "+envServerAddress+")")

	// newClient resolves the server address with precedence flag > env > default.
	newClient := func(cmd *cobra.Command) (*client.Client, error) {
		addr := serverAddress
		if !cmd.Flags().Changed(flagServerAddress) {
			if env := os.Getenv(envServerAddress); env != "" {
				addr = env
			}
		}
		if addr == "" {
			return nil, fmt.Errorf("server address cannot be empty")
		}
		opts := client.DefaultOptions()
		opts.BaseURL = addr
		return client.New(opts)
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newSubmitCmd(newClient))
	root.AddCommand(newStatusCmd(newClient))
	root.AddCommand(newResultCmd(newClient))
	root.AddCommand(newWaitCmd(newClient))
	root.AddCommand(newJobsCmd(newClient))
	root.AddCommand(newGeneratorsCmd(newClient))
	root.AddCommand(newStatsCmd(newClient))
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

type clientFactory func(cmd *cobra.Command) (*client.Client, error)

// printJSON pretty prints v to the command's output.
func printJSON(cmd *cobra.Command, v any) error {
	prettyJSON, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(prettyJSON))
	return nil
}
