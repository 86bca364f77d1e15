// Package progress tracks live ingestion state and fans it out to
// subscribers.
package progress

import "time"

// Status of an ingestion batch as exposed to observers.
type Status string

// Batch lifecycle statuses.
const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
)

// State is one observable snapshot of a running ingestion batch. Updates are
// cumulative; counters only grow within a batch.
type State struct {
	BatchNumber          int       `json:"batchNumber"`
	Category             string    `json:"category,omitempty"`
	CategoryIndex        int       `json:"categoryIndex"`
	CategoryCount        int       `json:"categoryCount"`
	TotalBusinesses      int       `json:"totalBusinesses"`
	CurrentBusinessIndex int       `json:"currentBusinessIndex"`
	CurrentBusinessName  string    `json:"currentBusinessName,omitempty"`
	CurrentStep          string    `json:"currentStep,omitempty"`
	Status               Status    `json:"status"`
	LogosAdded           int       `json:"logosAdded"`
	PhotosAdded          int       `json:"photosAdded"`
	Errors               []string  `json:"errors"`
	UpdatedAt            time.Time `json:"updatedAt"`

	// Note carries a human readable transition line for streaming
	// observers. It is set only on updates worth printing.
	Note string `json:"note,omitempty"`
}

// AppendError records msg on a fresh backing array so snapshots delivered
// earlier keep the error list they were published with.
func (s *State) AppendError(msg string) {
	errs := make([]string, len(s.Errors), len(s.Errors)+1)
	copy(errs, s.Errors)
	s.Errors = append(errs, msg)
}
