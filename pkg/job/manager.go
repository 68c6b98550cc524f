package job

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sync"

	"github.com/budgetwatch/budgetwatch/internal/event_bus"
	"github.com/budgetwatch/budgetwatch/internal/utils"
	"github.com/budgetwatch/budgetwatch/pkg/transfer"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

type entry struct {
	job    Job
	cancel context.CancelCauseFunc
	done   chan struct{}
	// path is the export result or the spooled upload, inside the manager's directory.
	path string
	// owned files are removed once the job ends; export results only when it fails.
	owned bool
}

// Manager runs every transfer on its own goroutine. Job state is driven by the progress
// and completion events the workers publish on the event bus.
type Manager struct {
	mu       sync.Mutex
	jobs     map[string]*entry
	closed   bool
	wg       sync.WaitGroup
	transfer transfer.Service
	bus      *event_bus.EventBus
	fs       afero.Fs
	dir      string
	clock    utils.Clock
	unsub    []func()
}

func NewManager(svc transfer.Service, bus *event_bus.EventBus, fs afero.Fs, dir string, clock utils.Clock) (*Manager, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create transfer directory %q: %w", dir, err)
	}
	m := &Manager{
		jobs:     map[string]*entry{},
		transfer: svc,
		bus:      bus,
		fs:       fs,
		dir:      dir,
		clock:    clock,
	}
	m.unsub = append(m.unsub,
		event_bus.SubscribeTyped(bus, event_bus.TransferProgressedEvent, m.onProgress),
		event_bus.SubscribeTyped(bus, event_bus.TransferFinishedEvent, m.onFinished),
	)
	return m, nil
}

// StartExport writes the dataset in format to a file in the manager's directory.
func (m *Manager) StartExport(format transfer.DataFormat, rng transfer.Range) (Job, error) {
	id := uuid.NewString()
	fileName := format.FileName(m.clock.Now())
	path := filepath.Join(m.dir, id+"-"+fileName)

	e, ctx, queued, err := m.register(Job{ID: id, Kind: Export, Format: format, Range: rng, FileName: fileName}, path, false)
	if err != nil {
		return Job{}, err
	}
	go m.run(ctx, e, func(ctx context.Context, listener transfer.Listener) error {
		f, err := m.fs.Create(path)
		if err != nil {
			return &transfer.IOError{Op: "create export file", Err: err}
		}
		err = m.transfer.Export(ctx, format, f, rng, listener)
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = &transfer.IOError{Op: "close export file", Err: closeErr}
		}
		return err
	})
	return queued, nil
}

// StartImport imports the file at path, which stays in place.
func (m *Manager) StartImport(format transfer.DataFormat, path string) (Job, error) {
	return m.startImport(format, path, false)
}

// StartUpload copies src into the manager's directory and imports it from there. The
// copy is removed when the job ends.
func (m *Manager) StartUpload(format transfer.DataFormat, src io.Reader) (Job, error) {
	tmp, err := afero.TempFile(m.fs, m.dir, "upload-*."+format.Extension())
	if err != nil {
		return Job{}, fmt.Errorf("could not spool upload: %w", err)
	}
	_, err = io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		m.remove(tmp.Name())
		return Job{}, fmt.Errorf("could not spool upload: %w", err)
	}
	return m.startImport(format, tmp.Name(), true)
}

func (m *Manager) startImport(format transfer.DataFormat, path string, owned bool) (Job, error) {
	e, ctx, queued, err := m.register(Job{ID: uuid.NewString(), Kind: Import, Format: format}, path, owned)
	if err != nil {
		if owned {
			m.remove(path)
		}
		return Job{}, err
	}
	go m.run(ctx, e, func(ctx context.Context, listener transfer.Listener) error {
		f, err := m.fs.Open(path)
		if err != nil {
			return &transfer.IOError{Op: "open import file", Err: err}
		}
		defer f.Close()
		return m.transfer.Import(ctx, format, f, listener)
	})
	return queued, nil
}

func (m *Manager) register(job Job, path string, owned bool) (*entry, context.Context, Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, Job{}, ErrShuttingDown
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	job.State = Pending
	job.CreatedAt = m.clock.Now()
	e := &entry{job: job, cancel: cancel, done: make(chan struct{}), path: path, owned: owned}
	m.jobs[job.ID] = e
	m.wg.Add(1)
	log.Infof("job %s: %s %s queued", job.ID, job.Kind, job.Format)
	return e, ctx, e.snapshot(), nil
}

func (m *Manager) run(ctx context.Context, e *entry, work func(context.Context, transfer.Listener) error) {
	defer m.wg.Done()
	defer close(e.done)
	id := e.job.ID

	m.update(id, func(job *Job) { job.State = Running })
	processed := 0
	listener := func(p transfer.Progress) {
		processed = p.Processed
		err := m.bus.Publish(event_bus.NewEvent(ctx, event_bus.TransferProgressedEvent, event_bus.TransferProgressed{
			JobId:     id,
			Processed: p.Processed,
			Total:     p.Total,
		}))
		if err != nil {
			log.Debugf("job %s: progress not delivered: %v", id, err)
		}
	}

	err := work(ctx, listener)
	finished := event_bus.TransferFinished{
		JobId:     id,
		Processed: processed,
		Cancelled: transfer.KindOf(err) == transfer.KindInterrupted,
		Err:       err,
	}
	if pubErr := m.bus.Publish(event_bus.NewEvent(context.WithoutCancel(ctx), event_bus.TransferFinishedEvent, finished)); pubErr != nil {
		log.Errorf("job %s: completion not delivered: %v", id, pubErr)
	}
}

func (m *Manager) onProgress(e event_bus.EventT[event_bus.TransferProgressed]) error {
	m.update(e.Data.JobId, func(job *Job) {
		job.Processed = e.Data.Processed
		job.Total = e.Data.Total
	})
	return nil
}

func (m *Manager) onFinished(ev event_bus.EventT[event_bus.TransferFinished]) error {
	var cleanup string
	var state State
	m.mu.Lock()
	e, ok := m.jobs[ev.Data.JobId]
	if ok {
		job := &e.job
		finishedAt := m.clock.Now()
		job.FinishedAt = &finishedAt
		job.Processed = ev.Data.Processed
		switch {
		case ev.Data.Err == nil:
			job.State = Succeeded
		case ev.Data.Cancelled:
			job.State = Cancelled
		default:
			job.State = Failed
			job.Error = ev.Data.Err.Error()
			job.ErrorKind = transfer.KindOf(ev.Data.Err)
		}
		if e.owned || (job.Kind == Export && job.State != Succeeded) {
			cleanup = e.path
			e.path = ""
		}
		state = job.State
		e.cancel(nil)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, ev.Data.JobId)
	}

	if cleanup != "" {
		m.remove(cleanup)
	}
	log.Infof("job %s: %s after %d records", ev.Data.JobId, state, ev.Data.Processed)
	return nil
}

func (m *Manager) update(id string, fn func(job *Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.jobs[id]; ok && !e.job.State.Done() {
		fn(&e.job)
	}
}

func (m *Manager) remove(path string) {
	if err := m.fs.Remove(path); err != nil {
		log.Warnf("could not remove %s: %v", path, err)
	}
}

func (e *entry) snapshot() Job {
	job := e.job
	if job.Total != nil {
		total := *job.Total
		job.Total = &total
	}
	return job
}

func (m *Manager) Get(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return e.snapshot(), nil
}

// List returns every job, oldest first.
func (m *Manager) List() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		jobs = append(jobs, e.snapshot())
	}
	slices.SortFunc(jobs, func(a, b Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return jobs
}

// Cancel asks a running job to stop at its next record. Finished jobs are left as they are.
func (m *Manager) Cancel(id string) (Job, error) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}
	e.cancel(errors.New("cancelled by user"))
	return m.Get(id)
}

// Wait blocks until the job ends or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Job, error) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}
	select {
	case <-e.done:
		return m.Get(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Open returns the result of a succeeded export.
func (m *Manager) Open(id string) (afero.File, Job, error) {
	m.mu.Lock()
	e, ok := m.jobs[id]
	var job Job
	var path string
	if ok {
		job = e.snapshot()
		path = e.path
	}
	m.mu.Unlock()
	if !ok {
		return nil, Job{}, ErrJobNotFound
	}
	if job.Kind != Export {
		return nil, job, ErrNoOutput
	}
	if job.State != Succeeded || path == "" {
		return nil, job, ErrJobNotFinished
	}
	f, err := m.fs.Open(path)
	if err != nil {
		return nil, job, fmt.Errorf("could not open export of job %s: %w", id, err)
	}
	return f, job, nil
}

// Shutdown cancels every running job and waits for the workers to stop.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, e := range m.jobs {
		e.cancel(ErrShuttingDown)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	for _, unsub := range m.unsub {
		unsub()
	}
	return nil
}
