package model

import "encoding/json"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord is the persisted summary of one inference run.
type RunRecord struct {
	VersionedRecord
	ID             string          `json:"id"`
	Model          string          `json:"model"`
	Iterations     int             `json:"iterations"`
	BurnIn         int             `json:"burn_in"`
	Seed           uint64          `json:"seed"`
	Accepted       int             `json:"accepted"`
	Rejected       int             `json:"rejected"`
	AcceptanceRate float64         `json:"acceptance_rate"`
	SupportSize    int             `json:"support_size"`
	CreatedAtUTC   string          `json:"created_at_utc"`
	Marginal       []MarginalEntry `json:"marginal"`
}

// MarginalEntry is one outcome of a marginal distribution. Value is the JSON
// encoding of the return value.
type MarginalEntry struct {
	Value       json.RawMessage `json:"value"`
	Count       int             `json:"count"`
	Probability float64         `json:"probability"`
}

// SampleChain holds the post-burn-in return values of a run in chain order.
type SampleChain struct {
	VersionedRecord
	RunID   string            `json:"run_id"`
	Samples []json.RawMessage `json:"samples"`
}
