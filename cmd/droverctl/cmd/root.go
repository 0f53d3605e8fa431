// Package cmd implements the droverctl command tree: the worker agent and
// operator commands against a drover master.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/drover/internal/agent"
	"github.com/ternarybob/drover/internal/common"
)

// options are the persistent flags shared by every command
type options struct {
	configFiles []string
	masterURL   string
	apiKey      string
	workerID    string

	config *common.Config
}

// NewRootCommand builds the droverctl command tree
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "droverctl",
		Short: "droverctl runs drover workers and manages jobs on a drover master",
		Long: `droverctl is the command-line companion of the drover master.

It runs browser workers that pull jobs from the master, and gives operators
access to jobs and batches.

Common workflows:

  Run a worker (registers on first start):
    droverctl worker run --url http://localhost:8085

  Submit a batch of jobs from a YAML, TOML or JSON file:
    droverctl batch submit -f batch.yaml

  Inspect and manage jobs:
    droverctl jobs list --status failed
    droverctl jobs retry <job-id> --force

Configuration:
  Settings come from the [agent] section of drover.toml (--config, repeatable),
  then DROVER_MASTER_URL, DROVER_WORKER_ID and DROVER_API_KEY, then flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringArrayVarP(&opts.configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	flags.StringVar(&opts.masterURL, "url", "", "Drover master URL (overrides config)")
	flags.StringVar(&opts.apiKey, "api-key", "", "Worker API key (overrides config)")
	flags.StringVar(&opts.workerID, "worker-id", "", "Worker ID (overrides config)")

	root.AddCommand(
		newWorkerCommand(opts),
		newBatchCommand(opts),
		newJobsCommand(opts),
		newVersionCommand(),
	)
	return root
}

func (o *options) load() error {
	config, err := common.LoadFromFiles(o.configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.masterURL != "" {
		config.Agent.MasterURL = o.masterURL
	}
	if o.apiKey != "" {
		config.Agent.APIKey = o.apiKey
	}
	if o.workerID != "" {
		config.Agent.WorkerID = o.workerID
	}
	o.config = config
	return nil
}

func (o *options) client() *agent.Client {
	return agent.NewClient(o.config.Agent.MasterURL, o.config.Agent.WorkerID, o.config.Agent.APIKey)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("droverctl version %s\n", common.GetFullVersion())
		},
	}
}
