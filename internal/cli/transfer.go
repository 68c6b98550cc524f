package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/budgetwatch/budgetwatch/pkg/transfer"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var errTransferFailed = errors.New("transfer failed, see the log for details")

func newExportCommand(opts *options) *cobra.Command {
	var formatName, from, to, outputPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export budgets, transactions and receipts to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := transfer.ParseFormat(formatName)
			if err != nil {
				return err
			}
			var rng transfer.Range
			if rng.Start, err = parseBound(from, false); err != nil {
				return err
			}
			if rng.End, err = parseBound(to, true); err != nil {
				return err
			}
			output := outputPath
			if output == "" {
				output = format.FileName(opts.clock.Now())
			}

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			svc, closeFn, err := opts.openTransfer(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			f, err := opts.fs.Create(output)
			if err != nil {
				return fmt.Errorf("could not create %s: %w", output, err)
			}
			ok := svc.ExportData(cmd.Context(), format, f, rng, progressLogger("export"))
			if err := f.Close(); err != nil && ok {
				log.Errorf("could not close %s: %v", output, err)
				ok = false
			}
			if !ok {
				if err := opts.fs.Remove(output); err != nil {
					log.Warnf("could not remove incomplete export %s: %v", output, err)
				}
				return errTransferFailed
			}
			fmt.Fprintln(cmd.OutOrStdout(), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&formatName, "format", "f", string(transfer.ZIP), "csv, json or zip")
	cmd.Flags().StringVar(&from, "from", "", "Export transactions from this date (YYYY-MM-DD or epoch ms)")
	cmd.Flags().StringVar(&to, "to", "", "Export transactions up to this date, inclusive")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default budgetwatch-<timestamp>.<format>)")
	return cmd
}

func newImportCommand(opts *options) *cobra.Command {
	var formatName string
	cmd := &cobra.Command{
		Use:   "import [flags] <file>",
		Short: "Import a file produced by export into the database",
		Long: "Import a file produced by export into the database. Records are only added; " +
			"if any of them is invalid or already exists nothing is imported.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			name := formatName
			if name == "" {
				name = strings.TrimPrefix(filepath.Ext(path), ".")
			}
			format, err := transfer.ParseFormat(name)
			if err != nil {
				return fmt.Errorf("%w, use --format", err)
			}

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			svc, closeFn, err := opts.openTransfer(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			f, err := opts.fs.Open(path)
			if err != nil {
				return fmt.Errorf("could not open %s: %w", path, err)
			}
			defer f.Close()
			if !svc.ImportData(cmd.Context(), format, f, progressLogger("import")) {
				return errTransferFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&formatName, "format", "f", "", "csv, json or zip (default from the file extension)")
	return cmd
}
