package transfer

import (
	"context"
	"time"

	"github.com/budgetwatch/budgetwatch/internal/utils"
)

const DefaultProgressInterval = 250 * time.Millisecond

// Progress is a snapshot passed to a Listener. Total is nil while the number of records
// is unknown, which is the case for most imports until the source is fully read.
type Progress struct {
	Processed int
	Total     *int
}

// Listener receives progress notifications on the worker goroutine. It must not block.
type Listener func(Progress)

// Tracker counts processed records and throttles notifications to one per interval.
// The notification for the last record of a known total is never throttled.
type Tracker struct {
	clock        utils.Clock
	interval     time.Duration
	listener     Listener
	total        *int
	processed    int
	notified     int
	lastNotified time.Time
}

func NewTracker(clock utils.Clock, interval time.Duration, listener Listener) *Tracker {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &Tracker{clock: clock, interval: interval, listener: listener}
}

// SetTotal declares how many records the operation will process.
func (t *Tracker) SetTotal(total int) {
	t.total = &total
}

func (t *Tracker) Total() (int, bool) {
	if t.total == nil {
		return 0, false
	}
	return *t.total, true
}

func (t *Tracker) Processed() int {
	return t.processed
}

// Record counts one processed record and notifies the listener when the interval since
// the previous notification has elapsed or the known total was just reached.
func (t *Tracker) Record() {
	t.processed++
	if t.listener == nil {
		return
	}
	now := t.clock.Now()
	reachedTotal := t.total != nil && t.processed == *t.total
	if !reachedTotal && !t.lastNotified.IsZero() && now.Sub(t.lastNotified) <= t.interval {
		return
	}
	t.notify(now)
}

// Finish marks the operation complete. An unknown total becomes the processed count and
// the final count is notified unless the listener has already seen it.
func (t *Tracker) Finish() {
	if t.total == nil {
		t.SetTotal(t.processed)
	}
	if t.listener != nil && (t.lastNotified.IsZero() || t.notified != t.processed) {
		t.notify(t.clock.Now())
	}
}

func (t *Tracker) notify(now time.Time) {
	t.lastNotified = now
	t.notified = t.processed
	t.listener(t.snapshot())
}

func (t *Tracker) snapshot() Progress {
	p := Progress{Processed: t.processed}
	if t.total != nil {
		total := *t.total
		p.Total = &total
	}
	return p
}

// checkpoint is called once per record; it turns a cancelled context into ErrInterrupted.
func checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return interrupted(ctx)
	}
	return nil
}
