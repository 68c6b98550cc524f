// Package cli holds the budgetwatch command line: the HTTP server and one-shot
// imports and exports against the configured database.
package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/budgetwatch/budgetwatch/internal/app"
	"github.com/budgetwatch/budgetwatch/internal/config"
	"github.com/budgetwatch/budgetwatch/internal/utils"
	"github.com/budgetwatch/budgetwatch/pkg/receipt"
	"github.com/budgetwatch/budgetwatch/pkg/store"
	"github.com/budgetwatch/budgetwatch/pkg/transfer"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

type options struct {
	cfgFile string
	fs      afero.Fs
	clock   utils.Clock
}

// NewRootCommand builds the command tree. Commands read and write files through fs.
func NewRootCommand(fs afero.Fs, clock utils.Clock) *cobra.Command {
	opts := &options{fs: fs, clock: clock}
	rootCmd := &cobra.Command{
		Use:           "budgetwatch",
		Short:         "Budget Watch personal finance tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Show help when no subcommand is provided
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", config.DefaultPath, "Config file")

	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newExportCommand(opts))
	rootCmd.AddCommand(newImportCommand(opts))
	return rootCmd
}

func (o *options) load() (config.Application, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return config.Application{}, err
	}
	// LOG_LEVEL, applied in main, wins over the config file.
	if os.Getenv("LOG_LEVEL") != "" {
		return cfg, nil
	}
	if level, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("ignoring invalid log level %q", cfg.Log.Level)
	}
	return cfg, nil
}

// openTransfer opens the configured store and a transfer service on top of it. The
// returned close function releases the store.
func (o *options) openTransfer(ctx context.Context, cfg config.Application) (transfer.Service, func(), error) {
	st, err := app.OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	receipts, err := receipt.NewDir(o.fs, cfg.Receipts.Dir)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	svc := transfer.NewTransferService(st, receipts, transfer.Options{
		ProgressInterval: cfg.Transfer.ProgressInterval,
		SpoolFs:          o.fs,
		SpoolDir:         cfg.Transfer.Dir,
		Clock:            o.clock,
	})
	return svc, func() { closeStore(st) }, nil
}

func closeStore(st store.Store) {
	if err := st.Close(); err != nil {
		log.Warnf("could not close store: %v", err)
	}
}

func progressLogger(op string) transfer.Listener {
	return func(p transfer.Progress) {
		if p.Total != nil {
			log.Infof("%s: %d/%d records", op, p.Processed, *p.Total)
			return
		}
		log.Infof("%s: %d records", op, p.Processed)
	}
}

// parseBound accepts epoch milliseconds or a YYYY-MM-DD date in UTC. A date used as
// the end of a range covers the whole day.
func parseBound(value string, end bool) (*int64, error) {
	if value == "" {
		return nil, nil
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return &ms, nil
	}
	day, err := time.Parse(time.DateOnly, strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or epoch milliseconds", value)
	}
	if end {
		day = day.AddDate(0, 0, 1)
		ms := day.UnixMilli() - 1
		return &ms, nil
	}
	ms := day.UnixMilli()
	return &ms, nil
}
