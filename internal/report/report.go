// Package report accumulates per-recipient delivery outcomes.
package report

import (
	"fmt"
	"sync"
)

// Result is one failed recipient.
type Result struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// Report summarizes a dispatch batch.
type Report struct {
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Failed        int      `json:"failed"`
	FailedDetails []Result `json:"failed_details"`
}

// Consistent reports whether every contact was counted exactly once.
func (r *Report) Consistent() bool {
	return r.Success+r.Failed == r.Total && r.Failed == len(r.FailedDetails)
}

// String returns a one-line summary.
func (r *Report) String() string {
	return fmt.Sprintf("total=%d success=%d failed=%d", r.Total, r.Success, r.Failed)
}

// Recorder is the only writer of a Report. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	report Report
}

// NewRecorder starts a report for total contacts.
func NewRecorder(total int) *Recorder {
	return &Recorder{report: Report{
		Total:         total,
		FailedDetails: []Result{},
	}}
}

// Success records one delivered message.
func (r *Recorder) Success() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Success++
}

// Failure records one failed recipient.
func (r *Recorder) Failure(addr string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Failed++
	r.report.FailedDetails = append(r.report.FailedDetails, Result{Email: addr, Error: msg})
}

// Report returns a copy of the current state.
func (r *Recorder) Report() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.report
	out.FailedDetails = append([]Result{}, r.report.FailedDetails...)
	return &out
}
