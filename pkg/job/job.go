package job

import (
	"errors"
	"time"

	"github.com/budgetwatch/budgetwatch/pkg/transfer"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobNotFinished = errors.New("job has not succeeded")
	ErrNoOutput       = errors.New("job has no output file")
	ErrShuttingDown   = errors.New("job manager is shutting down")
)

type Kind string

const (
	Export Kind = "export"
	Import Kind = "import"
)

type State string

const (
	Pending   State = "pending"
	Running   State = "running"
	Succeeded State = "succeeded"
	Failed    State = "failed"
	Cancelled State = "cancelled"
)

func (s State) Done() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// Job is a snapshot of one background import or export.
type Job struct {
	ID         string
	Kind       Kind
	Format     transfer.DataFormat
	Range      transfer.Range
	State      State
	Processed  int
	Total      *int
	Error      string
	ErrorKind  transfer.ErrorKind
	CreatedAt  time.Time
	FinishedAt *time.Time
	// FileName is the download name of an export result.
	FileName string
}
