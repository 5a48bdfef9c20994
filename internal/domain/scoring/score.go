// Package scoring defines the quality score shapes resolved through the
// external scoring engine. Scores are referenced by ID from experiment
// results; this subsystem reads them and never writes them.
package scoring

// Criterion is one named judging dimension of a quality score.
type Criterion struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Passed bool    `json:"passed"`
}

// Score is an externally computed judgment of a generated artifact.
type Score struct {
	ID       string      `json:"id"`
	JobID    string      `json:"job_id,omitempty"`
	Value    float64     `json:"score"`
	Passed   bool        `json:"passed"`
	Criteria []Criterion `json:"criteria,omitempty"`
}
