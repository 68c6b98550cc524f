package transfer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/budgetwatch/budgetwatch/internal/utils"
	"github.com/budgetwatch/budgetwatch/pkg/receipt"
	"github.com/budgetwatch/budgetwatch/pkg/store"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Service exports and imports the whole dataset in any DataFormat.
//
// ExportData and ImportData report plain success; the reason of a failure is logged.
// Export and Import return the error for callers that need its kind.
type Service interface {
	ExportData(ctx context.Context, format DataFormat, sink io.Writer, rng Range, listener Listener) bool
	ImportData(ctx context.Context, format DataFormat, source io.Reader, listener Listener) bool
	Export(ctx context.Context, format DataFormat, sink io.Writer, rng Range, listener Listener) error
	Import(ctx context.Context, format DataFormat, source io.Reader, listener Listener) error
}

type Options struct {
	// ProgressInterval is the minimum time between two progress notifications.
	ProgressInterval time.Duration
	// SpoolFs and SpoolDir hold archives received as a stream while they are imported.
	SpoolFs  afero.Fs
	SpoolDir string
	Clock    utils.Clock
}

type ServiceImpl struct {
	store    store.Store
	receipts *receipt.Dir
	clock    utils.Clock
	interval time.Duration
	spool    afero.Fs
	spoolDir string
}

func NewTransferService(st store.Store, receipts *receipt.Dir, opts Options) *ServiceImpl {
	s := &ServiceImpl{
		store:    st,
		receipts: receipts,
		clock:    opts.Clock,
		interval: opts.ProgressInterval,
		spool:    opts.SpoolFs,
		spoolDir: opts.SpoolDir,
	}
	if s.clock == nil {
		s.clock = utils.SystemClock{}
	}
	if s.interval <= 0 {
		s.interval = DefaultProgressInterval
	}
	if s.spool == nil {
		s.spool = afero.NewOsFs()
	}
	return s
}

func (s *ServiceImpl) codec(format DataFormat) (Codec, error) {
	csv := csvCodec{receipts: s.receipts}
	switch format {
	case CSV:
		return csv, nil
	case JSON:
		return jsonCodec{receipts: s.receipts}, nil
	case ZIP:
		return zipCodec{receipts: s.receipts, csv: csv, spool: s.spool, spoolDir: s.spoolDir}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

func (s *ServiceImpl) Export(ctx context.Context, format DataFormat, sink io.Writer, rng Range, listener Listener) error {
	codec, err := s.codec(format)
	if err != nil {
		return err
	}
	start := s.clock.Now()
	tr := NewTracker(s.clock, s.interval, listener)
	if err := codec.Export(ctx, s.store, sink, rng, tr); err != nil {
		return err
	}
	tr.Finish()
	log.Infof("exported %d records as %s for %s in %s", tr.Processed(), format, rng, s.clock.Now().Sub(start))
	return nil
}

func (s *ServiceImpl) Import(ctx context.Context, format DataFormat, source io.Reader, listener Listener) error {
	codec, err := s.codec(format)
	if err != nil {
		return err
	}
	start := s.clock.Now()
	tr := NewTracker(s.clock, s.interval, listener)
	err = Apply(ctx, s.store, func(tx *ImportTx) error {
		return codec.Import(ctx, tx, source, tr)
	})
	if err != nil {
		return err
	}
	tr.Finish()
	log.Infof("imported %d records from %s in %s", tr.Processed(), format, s.clock.Now().Sub(start))
	return nil
}

func (s *ServiceImpl) ExportData(ctx context.Context, format DataFormat, sink io.Writer, rng Range, listener Listener) bool {
	return report("export", format, s.Export(ctx, format, sink, rng, listener))
}

func (s *ServiceImpl) ImportData(ctx context.Context, format DataFormat, source io.Reader, listener Listener) bool {
	return report("import", format, s.Import(ctx, format, source, listener))
}

func report(op string, format DataFormat, err error) bool {
	if err == nil {
		return true
	}
	entry := log.WithFields(log.Fields{"format": format, "kind": KindOf(err)})
	if KindOf(err) == KindInterrupted {
		entry.Infof("%s cancelled: %v", op, err)
	} else {
		entry.Errorf("%s failed: %v", op, err)
	}
	return false
}
