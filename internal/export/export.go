// Package export streams the full filtered result set to an Excel workbook
// or delimited text, with cooperative cancellation.
package export

import (
	"sync/atomic"

	"flexreport/internal/domain"
)

// cancelCheckRows is how often the cancellation flag is polled while
// emitting rows.
const cancelCheckRows = 1000

// Canceller is the single per-process cancellation slot. Starting a new
// export resets it; only one export is assumed in flight at a time.
type Canceller struct {
	flag atomic.Bool
}

// NewCanceller creates an untripped canceller.
func NewCanceller() *Canceller { return &Canceller{} }

// Reset clears the flag. Called at the start of every export.
func (c *Canceller) Reset() { c.flag.Store(false) }

// Cancel trips the flag.
func (c *Canceller) Cancel() { c.flag.Store(true) }

// Cancelled reports whether the flag is tripped.
func (c *Canceller) Cancelled() bool { return c.flag.Load() }

// check returns a CancelledError when the flag is tripped.
func (c *Canceller) check(operation string) error {
	if c.Cancelled() {
		return domain.ErrCancelled("%s cancelled by user", operation)
	}
	return nil
}
