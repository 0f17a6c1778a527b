// Package delivery fans an artifact out to a schedule's targets and
// records the per-target outcome. One failing target never hides the
// outcome of the others.
package delivery

import (
	"time"

	"github.com/luminabi/lumina/schedule"
)

// Result is the outcome of one delivery attempt to one target.
type Result struct {
	ID         string
	JobID      string
	TargetID   string
	TargetKind schedule.TargetKind
	Success    bool
	Error      string
	SentAt     time.Time
}
