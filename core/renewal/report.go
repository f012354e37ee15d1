package renewal

import (
	"time"

	"github.com/google/uuid"
)

// DomainResult records the outcome of one domain within a batch run.
type DomainResult struct {
	Domain  string
	Skipped bool
	Err     error
}

// Report aggregates a batch run. It exists so callers can base exit codes and
// alerting on structured results instead of scraping log output.
type Report struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []DomainResult
}

// Renewed counts domains that completed issuance.
func (r *Report) Renewed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Skipped && res.Err == nil {
			n++
		}
	}
	return n
}

// Skipped counts domains whose certificate was still fresh.
func (r *Report) Skipped() int {
	n := 0
	for _, res := range r.Results {
		if res.Skipped {
			n++
		}
	}
	return n
}

// Failed counts domains that errored.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Ok reports whether every domain either renewed or was skipped.
func (r *Report) Ok() bool {
	return r.Failed() == 0
}
