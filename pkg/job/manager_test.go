package job

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/budgetwatch/budgetwatch/internal/event_bus"
	"github.com/budgetwatch/budgetwatch/internal/utils"
	"github.com/budgetwatch/budgetwatch/pkg/ledger"
	"github.com/budgetwatch/budgetwatch/pkg/receipt"
	"github.com/budgetwatch/budgetwatch/pkg/store"
	"github.com/budgetwatch/budgetwatch/pkg/transfer"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jobsDir = "/data/jobs"

var now = time.Date(2024, 3, 1, 14, 25, 0, 0, time.UTC)

// stubTransfer lets tests script what a transfer does with its context and listener.
type stubTransfer struct {
	export func(ctx context.Context, sink io.Writer, listener transfer.Listener) error
	imp    func(ctx context.Context, source io.Reader, listener transfer.Listener) error
}

func (s *stubTransfer) Export(ctx context.Context, format transfer.DataFormat, sink io.Writer, rng transfer.Range, listener transfer.Listener) error {
	return s.export(ctx, sink, listener)
}

func (s *stubTransfer) Import(ctx context.Context, format transfer.DataFormat, source io.Reader, listener transfer.Listener) error {
	return s.imp(ctx, source, listener)
}

func (s *stubTransfer) ExportData(ctx context.Context, format transfer.DataFormat, sink io.Writer, rng transfer.Range, listener transfer.Listener) bool {
	return s.Export(ctx, format, sink, rng, listener) == nil
}

func (s *stubTransfer) ImportData(ctx context.Context, format transfer.DataFormat, source io.Reader, listener transfer.Listener) bool {
	return s.Import(ctx, format, source, listener) == nil
}

// blockUntilCancelled reports one record and waits for the job to be cancelled.
func blockUntilCancelled(started chan<- struct{}) func(context.Context, transfer.Listener) error {
	return func(ctx context.Context, listener transfer.Listener) error {
		total := 10
		listener(transfer.Progress{Processed: 1, Total: &total})
		close(started)
		<-ctx.Done()
		return fmt.Errorf("%w: %w", transfer.ErrInterrupted, context.Cause(ctx))
	}
}

type managerFixture struct {
	fs      afero.Fs
	store   *store.StubStore
	manager *Manager
}

func newManagerFixture(t *testing.T, svc transfer.Service) *managerFixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	st := store.NewStubStore()
	if svc == nil {
		receipts, err := receipt.NewDir(fs, "/data/receipts")
		require.NoError(t, err)
		svc = transfer.NewTransferService(st, receipts, transfer.Options{SpoolFs: fs, SpoolDir: jobsDir})
	}
	manager, err := NewManager(svc, event_bus.NewEventBus(), fs, jobsDir, utils.NewMockClock(now))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = manager.Shutdown(context.Background())
	})
	return &managerFixture{fs: fs, store: st, manager: manager}
}

func (f *managerFixture) wait(t *testing.T, id string) Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := f.manager.Wait(ctx, id)
	require.NoError(t, err)
	return job
}

func (f *managerFixture) files(t *testing.T) []string {
	t.Helper()
	entries, err := afero.ReadDir(f.fs, jobsDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

const budgetsJSON = `[
{"TYPE":"BUDGET","NAME":"food","VALUE":300},
{"TYPE":"BUDGET","NAME":"rent","VALUE":1000},
{"ID":1,"TYPE":"EXPENSE","BUDGET":"rent","VALUE":100,"DATE":1000}
]`

func TestManager_ImportThenExport(t *testing.T) {
	// given
	f := newManagerFixture(t, nil)

	// when
	imported, err := f.manager.StartUpload(transfer.JSON, strings.NewReader(budgetsJSON))
	require.NoError(t, err)
	assert.Equal(t, Pending, imported.State)
	imported = f.wait(t, imported.ID)

	// then
	assert.Equal(t, Succeeded, imported.State)
	assert.Equal(t, 3, imported.Processed)
	require.NotNil(t, imported.FinishedAt)
	assert.Empty(t, f.files(t), "the spooled upload is removed")

	budgets, err := f.store.ListBudgets(context.Background())
	require.NoError(t, err)
	assert.Len(t, budgets, 2)

	// when
	exported, err := f.manager.StartExport(transfer.CSV, transfer.Range{})
	require.NoError(t, err)
	exported = f.wait(t, exported.ID)

	// then
	assert.Equal(t, Succeeded, exported.State)
	assert.Equal(t, "budgetwatch-20240301-142500.csv", exported.FileName)
	require.NotNil(t, exported.Total)
	assert.Equal(t, 3, *exported.Total)

	file, job, err := f.manager.Open(exported.ID)
	require.NoError(t, err)
	defer file.Close()
	content, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, exported.ID, job.ID)
	assert.Contains(t, string(content), "1,EXPENSE,,,rent,100,,1000,")
}

func TestManager_FailedImportLeavesStoreEmpty(t *testing.T) {
	// given
	f := newManagerFixture(t, nil)
	input := strings.Replace(budgetsJSON, `"DATE":1000`, `"DATE":"yesterday"`, 1)

	// when
	job, err := f.manager.StartUpload(transfer.JSON, strings.NewReader(input))
	require.NoError(t, err)
	job = f.wait(t, job.ID)

	// then
	assert.Equal(t, Failed, job.State)
	assert.Equal(t, transfer.KindFormat, job.ErrorKind)
	assert.NotEmpty(t, job.Error)
	budgets, err := f.store.ListBudgets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, budgets)
	assert.Empty(t, f.files(t))
}

func TestManager_StartImportKeepsCallerFile(t *testing.T) {
	// given
	f := newManagerFixture(t, nil)
	require.NoError(t, afero.WriteFile(f.fs, "/home/me/data.json", []byte(budgetsJSON), 0o644))

	// when
	job, err := f.manager.StartImport(transfer.JSON, "/home/me/data.json")
	require.NoError(t, err)
	job = f.wait(t, job.ID)

	// then
	assert.Equal(t, Succeeded, job.State)
	exists, err := afero.Exists(f.fs, "/home/me/data.json")
	require.NoError(t, err)
	assert.True(t, exists)

	_, _, err = f.manager.Open(job.ID)
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestManager_CancelExport(t *testing.T) {
	// given
	started := make(chan struct{})
	block := blockUntilCancelled(started)
	svc := &stubTransfer{export: func(ctx context.Context, sink io.Writer, listener transfer.Listener) error {
		_, _ = sink.Write([]byte("partial"))
		return block(ctx, listener)
	}}
	f := newManagerFixture(t, svc)

	job, err := f.manager.StartExport(transfer.ZIP, transfer.Range{})
	require.NoError(t, err)
	<-started

	running, err := f.manager.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, Running, running.State)
	assert.Equal(t, 1, running.Processed)
	require.NotNil(t, running.Total)
	assert.Equal(t, 10, *running.Total)

	_, _, err = f.manager.Open(job.ID)
	assert.ErrorIs(t, err, ErrJobNotFinished)

	// when
	_, err = f.manager.Cancel(job.ID)
	require.NoError(t, err)
	job = f.wait(t, job.ID)

	// then
	assert.Equal(t, Cancelled, job.State)
	assert.Empty(t, job.Error)
	assert.Empty(t, f.files(t), "the partial export is removed")

	_, err = f.manager.Cancel(job.ID)
	assert.NoError(t, err, "cancelling a finished job is a no-op")
	job, err = f.manager.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, job.State)
}

func TestManager_FailedExportIsRemoved(t *testing.T) {
	// given
	svc := &stubTransfer{export: func(ctx context.Context, sink io.Writer, listener transfer.Listener) error {
		_, _ = sink.Write([]byte("partial"))
		return &transfer.IOError{Op: "query store", Err: io.ErrUnexpectedEOF}
	}}
	f := newManagerFixture(t, svc)

	// when
	job, err := f.manager.StartExport(transfer.CSV, transfer.Range{})
	require.NoError(t, err)
	job = f.wait(t, job.ID)

	// then
	assert.Equal(t, Failed, job.State)
	assert.Equal(t, transfer.KindIO, job.ErrorKind)
	assert.Empty(t, f.files(t))
}

func TestManager_ListOldestFirst(t *testing.T) {
	// given
	f := newManagerFixture(t, nil)
	clock := f.manager.clock.(*utils.MockClock)

	first, err := f.manager.StartExport(transfer.CSV, transfer.Range{})
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := f.manager.StartExport(transfer.JSON, transfer.Range{})
	require.NoError(t, err)
	f.wait(t, first.ID)
	f.wait(t, second.ID)

	// when
	jobs := f.manager.List()

	// then
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, second.ID, jobs[1].ID)
}

func TestManager_UnknownJob(t *testing.T) {
	f := newManagerFixture(t, nil)

	_, err := f.manager.Get("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = f.manager.Cancel("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, _, err = f.manager.Open("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = f.manager.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestManager_Shutdown(t *testing.T) {
	// given
	started := make(chan struct{})
	block := blockUntilCancelled(started)
	svc := &stubTransfer{imp: func(ctx context.Context, source io.Reader, listener transfer.Listener) error {
		return block(ctx, listener)
	}}
	f := newManagerFixture(t, svc)

	job, err := f.manager.StartUpload(transfer.CSV, bytes.NewReader([]byte("_id,type,value,date\n")))
	require.NoError(t, err)
	<-started

	// when
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.manager.Shutdown(ctx))

	// then
	job, err = f.manager.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, job.State)
	assert.Empty(t, f.files(t))

	_, err = f.manager.StartExport(transfer.CSV, transfer.Range{})
	assert.ErrorIs(t, err, ErrShuttingDown)
	_, err = f.manager.StartUpload(transfer.CSV, strings.NewReader(""))
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.Empty(t, f.files(t), "a refused upload is not left behind")
}

func TestManager_ExportMatchesDirectExport(t *testing.T) {
	// given
	f := newManagerFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.InsertBudget(ctx, ledger.Budget{Name: "rent", Limit: 1000}))
	_, err := f.store.InsertTransaction(ctx, ledger.Transaction{Kind: ledger.Revenue, BudgetName: "rent", Amount: 5, Timestamp: 10})
	require.NoError(t, err)

	// when
	job, err := f.manager.StartExport(transfer.JSON, transfer.Range{})
	require.NoError(t, err)
	job = f.wait(t, job.ID)

	// then
	require.Equal(t, Succeeded, job.State)
	content, err := afero.ReadFile(f.fs, jobsDir+"/"+job.ID+"-"+job.FileName)
	require.NoError(t, err)
	assert.Equal(t, "[\n"+
		`{"ID":1,"TYPE":"REVENUE","BUDGET":"rent","VALUE":5,"DATE":10},`+"\n"+
		`{"NAME":"rent","TYPE":"BUDGET","VALUE":1000}`+"\n"+
		"]\n", string(content))
}
