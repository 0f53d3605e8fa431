package cmd

import (
	"github.com/spf13/cobra"
	"github.com/ternarybob/drover/internal/services/jobs"
)

func newBatchCommand(opts *options) *cobra.Command {
	batch := &cobra.Command{
		Use:   "batch",
		Short: "Submit batches of jobs",
	}
	batch.AddCommand(newBatchSubmitCommand(opts))
	return batch
}

func newBatchSubmitCommand(opts *options) *cobra.Command {
	var file string

	submit := &cobra.Command{
		Use:   "submit",
		Short: "Expand a batch spec file into jobs on the master",
		Long: `Expand a batch spec into jobs. The file format follows its extension:
.yaml/.yml, .toml or .json.

Example:
  droverctl batch submit -f products.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := jobs.LoadBatchSpec(file)
			if err != nil {
				return err
			}

			result, err := opts.client().SubmitBatch(cmd.Context(), spec)
			if err != nil {
				return err
			}

			cmd.Printf("✓ Batch submitted: %d of %d jobs created\n", result.TotalCreated, result.TotalRequested)
			for _, itemErr := range result.Errors {
				cmd.Printf("  item %d: %s\n", itemErr.Index, itemErr.Error)
			}
			return nil
		},
	}

	submit.Flags().StringVarP(&file, "file", "f", "", "Batch spec file (required)")
	_ = submit.MarkFlagRequired("file")
	return submit
}
