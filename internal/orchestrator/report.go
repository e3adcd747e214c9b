package orchestrator

import (
	"time"

	"github.com/hashicorp/go-multierror"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/types"
)

// Status is the result of one target within a batch.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	// StatusSkipped marks targets not reached because the batch was
	// cancelled or aborted. No timeline entry is written for them.
	StatusSkipped Status = "skipped"
	// StatusPlanned marks targets of a dry run.
	StatusPlanned Status = "planned"
)

// Outcome reports what happened to one target.
type Outcome struct {
	Instance types.InstanceRef `json:"instance"`
	Status   Status            `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Steps    []string          `json:"steps,omitempty"`
	Duration time.Duration     `json:"duration"`
	Err      error             `json:"-"`
	// TimelineID is the id of the recorded entry, zero when none was written.
	TimelineID int64 `json:"timeline_id,omitempty"`
}

// Report is the result of a batch: one outcome per target, in target order.
type Report struct {
	BatchID   string          `json:"batch_id"`
	Operation types.Operation `json:"operation"`
	Image     string          `json:"image,omitempty"`
	Outcomes  []Outcome       `json:"outcomes"`
	// Aborted is set when a fatal error stopped the batch early.
	Aborted error `json:"-"`
	// RecordErrors collects timeline writes that failed.
	RecordErrors []error `json:"-"`
}

func (r *Report) count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Succeeded returns the number of successful targets.
func (r *Report) Succeeded() int { return r.count(StatusSuccess) }

// Failed returns the number of failed targets.
func (r *Report) Failed() int { return r.count(StatusFailure) }

// Skipped returns the number of targets that were not attempted.
func (r *Report) Skipped() int { return r.count(StatusSkipped) }

// Err aggregates every failure of the batch, or returns nil.
func (r *Report) Err() error {
	var result *multierror.Error
	for _, o := range r.Outcomes {
		if o.Status == StatusFailure && o.Err != nil {
			result = multierror.Append(result, o.Err)
		}
	}
	for _, err := range r.RecordErrors {
		result = multierror.Append(result, err)
	}
	if r.Aborted != nil && !r.hasFailure(r.Aborted) {
		result = multierror.Append(result, r.Aborted)
	}
	return result.ErrorOrNil()
}

func (r *Report) hasFailure(err error) bool {
	for _, o := range r.Outcomes {
		if o.Err == err {
			return true
		}
	}
	return false
}

// ExitCode is 0 when every target succeeded, 2 when an environment problem
// aborted the batch before any other target ran, and 1 otherwise.
func (r *Report) ExitCode() int {
	switch {
	case r.Aborted != nil && apperrors.IsFatal(r.Aborted) && r.ranBeforeAbort() == 0:
		return 2
	case r.Failed() > 0, r.Skipped() > 0, r.Aborted != nil, len(r.RecordErrors) > 0:
		return 1
	default:
		return 0
	}
}

// ranBeforeAbort counts the attempted targets other than the one whose
// error aborted the batch.
func (r *Report) ranBeforeAbort() int {
	n := r.Succeeded() + r.Failed()
	if r.hasFailure(r.Aborted) {
		n--
	}
	return n
}
