package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/budgetwatch/budgetwatch/pkg/receipt"
	"github.com/budgetwatch/budgetwatch/pkg/store"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// databaseEntry is the archive entry holding the CSV export. Every other entry is a
// receipt stored under its bare file name.
const databaseEntry = "database.csv"

const (
	endOfCentralDirLen = 22
	maxArchiveComment  = 1<<16 - 1
)

type zipCodec struct {
	receipts *receipt.Dir
	csv      csvCodec
	// spool holds archives that arrive as a plain stream, since the archive index sits at
	// the end of the file.
	spool    afero.Fs
	spoolDir string
}

func (c zipCodec) Export(ctx context.Context, r store.Reader, w io.Writer, rng Range, tr *Tracker) error {
	plan, err := planExport(ctx, r, rng)
	if err != nil {
		return err
	}
	receipts, err := c.collectReceipts(ctx, r, rng)
	if err != nil {
		return err
	}
	tr.SetTotal(len(receipts) + plan.total())

	zw := zip.NewWriter(w)
	for _, path := range receipts {
		if err := checkpoint(ctx); err != nil {
			return err
		}
		if err := c.writeReceipt(ctx, zw, path); err != nil {
			return err
		}
		tr.Record()
	}

	entry, err := zw.Create(databaseEntry)
	if err != nil {
		return ioError(ctx, "create archive entry", err)
	}
	if err := c.csv.write(ctx, r, entry, rng, plan, tr); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return ioError(ctx, "finish archive", err)
	}
	return nil
}

// collectReceipts lists the receipt files of transactions in rng, one per file name.
func (c zipCodec) collectReceipts(ctx context.Context, r store.Reader, rng Range) ([]string, error) {
	byName := map[string]string{}
	var paths []string
	filter := store.TransactionFilter{Start: rng.Start, End: rng.End, ReceiptsOnly: true}
	for t, err := range r.QueryTransactions(ctx, filter) {
		if err != nil {
			return nil, ioError(ctx, "query receipts", err)
		}
		name := receipt.BaseName(t.ReceiptPath)
		if name == "" || name == databaseEntry {
			log.Warnf("transaction %d: receipt %q cannot be archived, skipping", t.ID, t.ReceiptPath)
			continue
		}
		if prev, ok := byName[name]; ok {
			if prev != t.ReceiptPath {
				log.Warnf("transaction %d: receipt name %q already taken by %s, skipping", t.ID, name, prev)
			}
			continue
		}
		byName[name] = t.ReceiptPath
		paths = append(paths, t.ReceiptPath)
	}
	return paths, nil
}

func (c zipCodec) writeReceipt(ctx context.Context, zw *zip.Writer, path string) error {
	f, err := c.receipts.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warnf("receipt %s is missing, leaving it out of the archive", path)
			return nil
		}
		return ioError(ctx, "open receipt", err)
	}
	defer f.Close()

	entry, err := zw.CreateHeader(&zip.FileHeader{Name: receipt.BaseName(path), Method: zip.Store})
	if err != nil {
		return ioError(ctx, "create archive entry", err)
	}
	if _, err := io.Copy(entry, f); err != nil {
		return ioError(ctx, "archive receipt", err)
	}
	return nil
}

func (c zipCodec) Import(ctx context.Context, tx *ImportTx, src io.Reader, tr *Tracker) error {
	ra, size, cleanup, err := c.readerAt(ctx, src)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := checkArchiveEnd(ra, size); err != nil {
		return err
	}
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return &FormatError{Msg: "not a zip archive", Err: err}
	}

	// Receipts are extracted before the CSV is read so that its receipt names resolve,
	// whatever the entry order.
	var database *zip.File
	for _, f := range zr.File {
		if err := checkpoint(ctx); err != nil {
			return err
		}
		name := receipt.BaseName(f.Name)
		if f.FileInfo().IsDir() || name == "" {
			continue
		}
		if name == databaseEntry {
			if database != nil {
				return &FormatError{Field: f.Name, Msg: "archive holds more than one " + databaseEntry}
			}
			database = f
			continue
		}
		if err := c.extractReceipt(ctx, tx, f, name); err != nil {
			return err
		}
		tr.Record()
	}

	if database == nil {
		log.Warnf("archive has no %s, no records imported", databaseEntry)
		return nil
	}
	rc, err := database.Open()
	if err != nil {
		return zipEntryError(ctx, databaseEntry, err)
	}
	defer rc.Close()
	if err := c.csv.Import(ctx, tx, rc, tr); err != nil {
		if KindOf(err) == KindIO && isZipDataError(err) {
			return &FormatError{Field: databaseEntry, Msg: "corrupt archive entry", Err: err}
		}
		return err
	}
	return nil
}

func (c zipCodec) extractReceipt(ctx context.Context, tx *ImportTx, f *zip.File, name string) error {
	rc, err := f.Open()
	if err != nil {
		return zipEntryError(ctx, f.Name, err)
	}
	defer rc.Close()

	path, created, err := c.receipts.Write(name, rc)
	if err != nil {
		return zipEntryError(ctx, f.Name, err)
	}
	if created {
		tx.OnRollback(func() error {
			return c.receipts.Remove(path)
		})
	}
	return nil
}

func isZipDataError(err error) bool {
	var corrupt flate.CorruptInputError
	return errors.Is(err, zip.ErrFormat) || errors.Is(err, zip.ErrChecksum) ||
		errors.Is(err, zip.ErrAlgorithm) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &corrupt)
}

func zipEntryError(ctx context.Context, entry string, err error) error {
	if errors.Is(err, receipt.ErrInvalidName) {
		return &FormatError{Field: entry, Msg: "invalid receipt entry name", Err: err}
	}
	if isZipDataError(err) {
		return &FormatError{Field: entry, Msg: "corrupt archive entry", Err: err}
	}
	return ioError(ctx, "extract "+entry, err)
}

// readerAt gives random access to src, spooling it to a temporary file when src is a
// plain stream.
func (c zipCodec) readerAt(ctx context.Context, src io.Reader) (io.ReaderAt, int64, func(), error) {
	noop := func() {}
	switch s := src.(type) {
	case interface {
		io.ReaderAt
		Size() int64
	}:
		return s, s.Size(), noop, nil
	case interface {
		io.ReaderAt
		Stat() (fs.FileInfo, error)
	}:
		info, err := s.Stat()
		if err != nil {
			return nil, 0, nil, ioError(ctx, "stat archive", err)
		}
		return s, info.Size(), noop, nil
	}

	tmp, err := afero.TempFile(c.spool, c.spoolDir, "import-*.zip")
	if err != nil {
		return nil, 0, nil, ioError(ctx, "spool archive", err)
	}
	cleanup := func() {
		tmp.Close()
		if err := c.spool.Remove(tmp.Name()); err != nil {
			log.Warnf("could not remove spooled archive %s: %v", tmp.Name(), err)
		}
	}
	size, err := io.Copy(tmp, src)
	if err != nil {
		cleanup()
		return nil, 0, nil, ioError(ctx, "spool archive", err)
	}
	return tmp, size, cleanup, nil
}

// checkArchiveEnd requires the end of central directory record to be the last thing in
// the archive, so data appended to a valid archive is rejected.
func checkArchiveEnd(ra io.ReaderAt, size int64) error {
	if size < endOfCentralDirLen {
		return &FormatError{Msg: fmt.Sprintf("not a zip archive (%d bytes)", size)}
	}
	tail := make([]byte, min(size, endOfCentralDirLen+maxArchiveComment))
	if _, err := ra.ReadAt(tail, size-int64(len(tail))); err != nil && !errors.Is(err, io.EOF) {
		return &IOError{Op: "read archive", Err: err}
	}
	for i := len(tail) - endOfCentralDirLen; i >= 0; i-- {
		if tail[i] != 'P' || tail[i+1] != 'K' || tail[i+2] != 0x05 || tail[i+3] != 0x06 {
			continue
		}
		commentLen := int(tail[i+20]) | int(tail[i+21])<<8
		if i+endOfCentralDirLen+commentLen == len(tail) {
			return nil
		}
	}
	return &FormatError{Msg: "not a zip archive or unexpected data after its end"}
}
