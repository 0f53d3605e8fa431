package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/drover/internal/agent"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/models"
)

func newWorkerCommand(opts *options) *cobra.Command {
	worker := &cobra.Command{
		Use:   "worker",
		Short: "Run or register a browser worker",
	}
	worker.AddCommand(newWorkerRunCommand(opts), newWorkerRegisterCommand(opts))
	return worker
}

func newWorkerRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the worker agent until interrupted",
		Long: `Run the worker agent: heartbeat, pull jobs and execute them in Chrome.

Without an API key the worker registers itself first and logs its new
identity. Running jobs are allowed to finish on Ctrl+C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := opts.config
			logger := common.InitLogger(config, "droverctl")

			client := opts.client()
			executor := agent.NewBrowserExecutor(agent.BrowserConfig{
				ChromePath:  config.Agent.ChromePath,
				Headless:    config.Agent.Headless,
				Screenshots: config.Agent.Screenshots,
			}, client, logger)

			a := agent.New(client, executor, agent.Config{
				Registration:      registrationFromConfig(config.Agent),
				MaxConcurrentJobs: config.Agent.MaxConcurrentJobs,
				JobTimeout:        common.ParseDuration(config.Agent.JobTimeout, 0),
			}, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err := a.Run(ctx)
			if errors.Is(err, context.Canceled) {
				logger.Info().Msg("Worker stopped")
				return nil
			}
			return err
		},
	}
}

func newWorkerRegisterCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register a worker and print its id and API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.client().Register(cmd.Context(), registrationFromConfig(opts.config.Agent))
			if err != nil {
				return err
			}
			cmd.Printf("✓ Worker registered\nWorker ID: %s\nAPI Key:   %s\n", reg.WorkerID, reg.APIKey)
			cmd.Println("Store the API key now; the master only keeps its hash.")
			return nil
		},
	}
}

func registrationFromConfig(config common.AgentConfig) models.WorkerRegistration {
	name := config.Name
	if name == "" {
		name, _ = os.Hostname()
	}
	return models.WorkerRegistration{
		Name: name,
		Type: models.WorkerType(config.Type),
		Capabilities: models.WorkerCapabilities{
			MaxConcurrentJobs: config.MaxConcurrentJobs,
			Browsers:          []string{"chrome"},
		},
		Configuration: models.WorkerConfiguration{
			PriorityFilter: models.PriorityFilter{Min: config.PriorityMin, Max: config.PriorityMax},
			AutoAccept:     true,
		},
	}
}
