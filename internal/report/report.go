package report

import (
	"time"

	"github.com/nao1215/crawlkeeper/internal/frontier"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// JobStatus is a snapshot of a single crawl job's frontier.
type JobStatus struct {
	// Job is the job name.
	Job string `json:"job"`

	// Backend is the frontier backend ("log" or "sqlite").
	Backend string `json:"backend"`

	// StateDir is where the frontier keeps its files.
	StateDir string `json:"stateDir"`

	// Stats counts URLs per state.
	Stats frontier.Stats `json:"stats"`

	// Finished reports whether nothing is left to dispatch.
	Finished bool `json:"finished"`

	// Elapsed is the wall time of the run, zero for a status query.
	Elapsed time.Duration `json:"elapsed,omitempty"`

	// Error is the error that stopped the run, if any.
	Error string `json:"error,omitempty"`
}

// Report groups job snapshots taken together.
type Report struct {
	GeneratedAt time.Time    `json:"generatedAt"`
	Jobs        []*JobStatus `json:"jobs"`
}

// NewReport creates a report stamped with the current time.
func NewReport(jobs ...*JobStatus) *Report {
	return &Report{
		GeneratedAt: time.Now(),
		Jobs:        jobs,
	}
}

// Total sums the stats of every job.
func (r *Report) Total() frontier.Stats {
	var total frontier.Stats
	for _, j := range r.Jobs {
		total.Queued += j.Stats.Queued
		total.InProgress += j.Stats.InProgress
		total.Completed += j.Stats.Completed
		total.Failed += j.Stats.Failed
		total.Abandoned += j.Stats.Abandoned
	}
	return total
}

// Errored returns the number of jobs that stopped with an error.
func (r *Report) Errored() int {
	n := 0
	for _, j := range r.Jobs {
		if j.Error != "" {
			n++
		}
	}
	return n
}

// stateCount pairs a state with the number of URLs in it.
type stateCount struct {
	state frontier.State
	count int
}

// stateCounts lists the per-state counters in display order.
func stateCounts(s frontier.Stats) []stateCount {
	return []stateCount{
		{frontier.StateQueued, s.Queued},
		{frontier.StateInProgress, s.InProgress},
		{frontier.StateCompleted, s.Completed},
		{frontier.StateFailed, s.Failed},
		{frontier.StateAbandoned, s.Abandoned},
	}
}

// stateLabel returns a title-cased state name, e.g. "In Progress".
func stateLabel(state frontier.State) string {
	return cases.Title(language.English).String(state.String())
}

// statusText summarizes how a job ended.
func statusText(j *JobStatus) string {
	switch {
	case j.Error != "":
		return "Error - " + j.Error
	case j.Finished:
		return "Finished"
	default:
		return "Pending"
	}
}
