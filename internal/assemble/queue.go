// Package assemble builds one site's frame for one output interval from the
// raw files in that site's queue.
package assemble

import (
	"errors"
	"fmt"
	"time"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/source"
)

// ErrOutOfOrder is returned when intervals are requested out of time order.
var ErrOutOfOrder = errors.New("interval requested out of time order")

// Queue is a consuming cursor over a site's sorted raw files. Files before
// the cursor have been handed out and are never returned again.
type Queue struct {
	site      string
	files     []source.RawFile
	pos       int
	lastLimit time.Time
}

// NewQueue creates a queue over files, which must already be sorted.
func NewQueue(site string, files []source.RawFile) *Queue {
	return &Queue{site: site, files: files}
}

// PopBefore returns every remaining file with Timestamp < limit and advances
// the cursor past them. Limits must not decrease between calls.
func (q *Queue) PopBefore(limit time.Time) ([]source.RawFile, error) {
	if limit.Before(q.lastLimit) {
		return nil, fmt.Errorf("%w: site %s asked for files before %s after %s",
			ErrOutOfOrder, q.site, limit.Format(time.DateTime), q.lastLimit.Format(time.DateTime))
	}
	q.lastLimit = limit

	start := q.pos
	for q.pos < len(q.files) && q.files[q.pos].Timestamp.Before(limit) {
		q.pos++
	}
	return q.files[start:q.pos], nil
}

// Remaining returns the number of files not yet popped.
func (q *Queue) Remaining() int {
	return len(q.files) - q.pos
}

// Consumed returns the number of files popped so far.
func (q *Queue) Consumed() int {
	return q.pos
}
