package output

import "time"

// Record is one raw fetched item tagged with provenance. Immutable once
// written to a batch file.
type Record struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	SourceURL string    `json:"source_url"`
	FetchedAt time.Time `json:"fetched_at"`
	Category  string    `json:"category,omitempty"`
	Data      any       `json:"data"`
}

// Metadata is the provenance envelope header written into every batch
// file. Downstream processing consumes only this and the data array.
type Metadata struct {
	Source    string         `json:"source"`
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`
	Count     int            `json:"count"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// envelope is the on-disk batch file shape.
type envelope struct {
	Metadata Metadata `json:"metadata"`
	Data     []Record `json:"data"`
}
