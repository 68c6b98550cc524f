package cli

import (
	"github.com/budgetwatch/budgetwatch/internal/app"
	"github.com/spf13/cobra"
)

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			application, err := app.NewApplication(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return application.Run(cmd.Context())
		},
	}
}
