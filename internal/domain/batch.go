package domain

import "time"

// RunStatus is the lifecycle state of a batch run.
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunStopped   RunStatus = "stopped"
)

// CollectionTarget is one page address visited once during a batch run.
type CollectionTarget struct {
	URL       string `json:"url"`
	Canonical string `json:"canonical"`
}

// ItemResult records the outcome of one target.
type ItemResult struct {
	Index     int    `json:"index"`
	URL       string `json:"url"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
	Attempts  int    `json:"attempts"`
	ProductID string `json:"product_id,omitempty"`
	Name      string `json:"name,omitempty"`
}

// BatchRun summarises a one-shot collection run.
type BatchRun struct {
	ID         string       `json:"id"`
	Total      int          `json:"total"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Results    []ItemResult `json:"results"`
	Status     RunStatus    `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// Processed is the number of targets with a recorded outcome.
func (r BatchRun) Processed() int {
	return r.Succeeded + r.Failed
}

// Clone returns a copy with its own results slice.
func (r BatchRun) Clone() BatchRun {
	out := r
	out.Results = append([]ItemResult(nil), r.Results...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// Progress is delivered to the observer after every processed item.
type Progress struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
	Label   string  `json:"label"`
}
