package event_bus

const (
	TransferProgressedEvent EventType = "transfer.progressed"
	TransferFinishedEvent   EventType = "transfer.finished"
)

// TransferProgressed reports how many records a running import or export has processed.
// Total is nil while the record count is unknown.
type TransferProgressed struct {
	JobId     string
	Processed int
	Total     *int
}

// TransferFinished is published once per job, whatever the outcome.
// Err is nil on success; Cancelled is set when the job was interrupted.
type TransferFinished struct {
	JobId     string
	Processed int
	Cancelled bool
	Err       error
}
